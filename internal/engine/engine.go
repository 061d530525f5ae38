// Package engine routes classified events to the dimension synchronizer, the
// fact writer or the quarantine router.
//
// Process never panics or stops on a bad event. Every call returns an
// Outcome whose Disposition says where the event went.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopnow/streamwh/internal/dimension"
	"github.com/shopnow/streamwh/internal/fact"
	"github.com/shopnow/streamwh/internal/observability"
	"github.com/shopnow/streamwh/internal/quarantine"
	"github.com/shopnow/streamwh/internal/validate"
	"github.com/shopnow/streamwh/pkg/types"
)

// Disposition is the terminal state of one event.
type Disposition string

const (
	// Stored: the event was valid and all of its writes succeeded.
	Stored Disposition = "stored"
	// Quarantined: the event was invalid and reached the quarantine sink.
	Quarantined Disposition = "quarantined"
	// Dropped: the event was invalid and quarantine delivery failed.
	Dropped Disposition = "dropped"
	// Failed: the event was valid but a dimension or fact write failed.
	// Writes that succeeded before the failure are kept.
	Failed Disposition = "failed"
)

// SyncOutcome is one dimension synchronization performed for an event.
type SyncOutcome struct {
	Dimension    types.Dimension  `json:"dimension"`
	BusinessID   string           `json:"business_id"`
	Result       types.SyncResult `json:"result"`
	SurrogateKey int64            `json:"surrogate_key"`
}

// Outcome reports what happened to one event.
type Outcome struct {
	Stream         types.StreamKind `json:"stream"`
	Disposition    Disposition      `json:"disposition"`
	Reason         string           `json:"reason,omitempty"`
	Marker         string           `json:"marker,omitempty"`
	Syncs          []SyncOutcome    `json:"syncs,omitempty"`
	FactIDs        []string         `json:"fact_ids,omitempty"`
	QuarantinePath string           `json:"quarantine_path,omitempty"`
	Err            error            `json:"-"`
	Error          string           `json:"error,omitempty"`
}

func (o *Outcome) fail(d Disposition, err error) *Outcome {
	o.Disposition = d
	o.Err = err
	o.Error = err.Error()
	return o
}

// Summary counts the dispositions of a batch.
type Summary struct {
	Total       int `json:"total"`
	Stored      int `json:"stored"`
	Quarantined int `json:"quarantined"`
	Dropped     int `json:"dropped"`
	Failed      int `json:"failed"`
}

func (s *Summary) add(o *Outcome) {
	s.Total++
	switch o.Disposition {
	case Stored:
		s.Stored++
	case Quarantined:
		s.Quarantined++
	case Dropped:
		s.Dropped++
	case Failed:
		s.Failed++
	}
}

// Options configures an Engine.
type Options struct {
	Logger zerolog.Logger
	Stats  *observability.PipelineStats
}

// Engine wires the pipeline components together. It holds no queue; the
// caller's goroutine does all the work for its event.
type Engine struct {
	validator  *validate.Validator
	syncer     *dimension.Synchronizer
	writer     *fact.Writer
	quarantine *quarantine.Router
	stats      *observability.PipelineStats
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates an engine.
func New(v *validate.Validator, s *dimension.Synchronizer, w *fact.Writer, q *quarantine.Router, opts Options) *Engine {
	return &Engine{
		validator:  v,
		syncer:     s,
		writer:     w,
		quarantine: q,
		stats:      opts.Stats,
		logger:     opts.Logger.With().Str("component", "engine").Logger(),
		now:        time.Now,
	}
}

// Process classifies raw and applies it.
func (e *Engine) Process(ctx context.Context, stream types.StreamKind, raw []byte) *Outcome {
	e.stats.Record(observability.EventsReceived, string(stream))

	res := e.validator.Classify(stream, raw, e.now().UTC())
	out := &Outcome{Stream: stream, Marker: res.Marker}

	if !res.Valid {
		e.stats.Record(observability.EventsInvalid, string(stream))
		out.Reason = res.Reason
		d, err := e.quarantine.Quarantine(ctx, stream, raw, res.Reason)
		if err != nil {
			return out.fail(Dropped, err)
		}
		out.Disposition = Quarantined
		out.QuarantinePath = d.Path
		return out
	}

	e.stats.Record(observability.EventsValid, string(stream))
	if err := e.apply(ctx, res.Event, out); err != nil {
		e.logger.Error().
			Str("stream", string(stream)).
			Str("marker", res.Marker).
			Err(err).
			Msg("event processing failed")
		return out.fail(Failed, err)
	}
	out.Disposition = Stored
	return out
}

func (e *Engine) apply(ctx context.Context, ev *types.Event, out *Outcome) error {
	switch {
	case ev.Dimension != nil:
		return e.sync(ctx, ev.Dimension.Dimension, ev.Dimension.BusinessID, ev.Dimension.Attributes, ev.ObservedAt, out)

	case ev.Order != nil:
		var syncErr error
		for _, item := range ev.Order.Items {
			if item.ProductID == "" {
				continue
			}
			if err := e.sync(ctx, types.DimensionProduct, item.ProductID, item.Product, ev.ObservedAt, out); err != nil {
				syncErr = err
				break
			}
		}
		// Facts do not depend on the dimension rows existing.
		if err := e.write(ctx, fact.OrderLines(ev.Order), ev.ObservedAt, out); err != nil {
			return err
		}
		return syncErr

	case ev.Click != nil:
		return e.write(ctx, []fact.Draft{fact.Click(ev.Click)}, ev.ObservedAt, out)
	}
	return nil
}

func (e *Engine) sync(ctx context.Context, dim types.Dimension, id string, attrs types.Attributes, at time.Time, out *Outcome) error {
	res, err := e.syncer.Sync(ctx, dim, id, attrs, at)
	if err != nil {
		return err
	}
	out.Syncs = append(out.Syncs, SyncOutcome{
		Dimension:    dim,
		BusinessID:   id,
		Result:       res.Result,
		SurrogateKey: res.Record.SurrogateKey,
	})
	return nil
}

func (e *Engine) write(ctx context.Context, drafts []fact.Draft, at time.Time, out *Outcome) error {
	facts, err := e.writer.WriteAll(ctx, drafts, at)
	for _, f := range facts {
		out.FactIDs = append(out.FactIDs, f.FactID)
	}
	return err
}

// Ingest processes newline-delimited events from r in order. Blank lines are
// skipped. fn, if set, sees every outcome. Ingest stops early only when ctx
// ends or r fails.
func (e *Engine) Ingest(ctx context.Context, stream types.StreamKind, r io.Reader, fn func(*Outcome)) (Summary, error) {
	var sum Summary
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		// the scanner reuses its buffer; quarantine keeps the bytes
		raw := append([]byte(nil), line...)

		out := e.Process(ctx, stream, raw)
		sum.add(out)
		if fn != nil {
			fn(out)
		}
	}
	return sum, sc.Err()
}
