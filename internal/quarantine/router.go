// Package quarantine diverts invalid events to a per-stream object sink and
// finds them again by correlation marker.
//
// Every quarantined event becomes one JSON-lines object at
// <stream>/<yyyy>/<mm>/<dd>/<uuidv7>.jsonl. Object names sort in arrival
// order, so the newest records are found by listing a stream in reverse.
package quarantine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	engerrors "github.com/shopnow/streamwh/internal/errors"
	"github.com/shopnow/streamwh/internal/observability"
	"github.com/shopnow/streamwh/internal/storage"
	"github.com/shopnow/streamwh/internal/validate"
	"github.com/shopnow/streamwh/pkg/types"
)

// ErrNotFound is returned by Scan when no record carries the marker.
var ErrNotFound = errors.New("quarantine record not found")

// unknownPrefix holds events whose stream name is not recognised.
const unknownPrefix = "_unknown"

const maxNameAttempts = 3

// Options configures a Router.
type Options struct {
	// MaxRetries bounds retries of a failed sink write.
	MaxRetries int
	// RetryBase is the first backoff; each retry doubles it.
	RetryBase time.Duration
	// MarkerFields are the payload fields searched for a correlation marker.
	MarkerFields []string
	// ScanConcurrency bounds parallel object reads during Scan.
	ScanConcurrency int

	Logger zerolog.Logger
	Stats  *observability.PipelineStats
}

// DefaultOptions returns options matching the default configuration.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      3,
		RetryBase:       100 * time.Millisecond,
		MarkerFields:    validate.DefaultMarkerFields,
		ScanConcurrency: 8,
		Logger:          zerolog.Nop(),
	}
}

// Delivery describes a record that reached the sink.
type Delivery struct {
	Path     string
	Record   *types.QuarantineRecord
	Attempts int
}

// Router writes quarantine records to object storage.
type Router struct {
	sink   storage.ObjectStorage
	reader *storage.BatchReader
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewRouter creates a router writing to sink.
func NewRouter(sink storage.ObjectStorage, opts Options) *Router {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if len(opts.MarkerFields) == 0 {
		opts.MarkerFields = validate.DefaultMarkerFields
	}
	if opts.ScanConcurrency < 1 {
		opts.ScanConcurrency = 1
	}
	return &Router{
		sink:   sink,
		reader: storage.NewBatchReader(sink, opts.ScanConcurrency),
		opts:   opts,
		logger: opts.Logger.With().Str("component", "quarantine").Logger(),
		now:    time.Now,
	}
}

// Quarantine stores raw with its reason and correlation marker.
//
// A failed write is retried with exponential backoff. When retries run out
// the event is dropped, the quarantine_dropped counter is incremented and a
// SINK/DELIVERY_FAILED error is returned.
func (r *Router) Quarantine(ctx context.Context, stream types.StreamKind, raw []byte, reason string) (*Delivery, error) {
	rec := &types.QuarantineRecord{
		Stream:    stream,
		Reason:    reason,
		ArrivedAt: r.now().UTC(),
		Marker:    validate.ExtractMarker(raw, r.opts.MarkerFields),
		Payload:   string(raw),
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return nil, engerrors.NewInternalError("encode quarantine record", err)
	}
	line = append(line, '\n')

	var lastErr error
	attempt := 1
	for ; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, r.drop(rec, attempt-1, err)
		}

		path, err := r.put(ctx, stream, rec.ArrivedAt, line)
		if err == nil {
			r.opts.Stats.Record(observability.Quarantined, string(stream))
			r.logger.Warn().
				Str("stream", string(stream)).
				Str("reason", reason).
				Str("marker", rec.Marker).
				Str("path", path).
				Msg("event quarantined")
			return &Delivery{Path: path, Record: rec, Attempts: attempt}, nil
		}
		lastErr = err

		if attempt > r.opts.MaxRetries {
			break
		}
		r.opts.Stats.Record(observability.QuarantineRetries, string(stream))
		backoff := r.opts.RetryBase << (attempt - 1)
		if err := sleep(ctx, backoff); err != nil {
			return nil, r.drop(rec, attempt, err)
		}
	}

	return nil, r.drop(rec, attempt, lastErr)
}

// drop accounts for an event that will never reach the sink. Every path that
// gives up on a record goes through here.
func (r *Router) drop(rec *types.QuarantineRecord, attempts int, cause error) error {
	r.opts.Stats.Record(observability.QuarantineDropped, string(rec.Stream))
	r.logger.Error().
		Str("stream", string(rec.Stream)).
		Str("reason", rec.Reason).
		Str("marker", rec.Marker).
		Int("attempts", attempts).
		Err(cause).
		Msg("quarantine delivery failed, event dropped")
	return engerrors.NewSinkError(engerrors.CodeDeliveryFailed,
		fmt.Sprintf("quarantine %s: gave up after %d attempts", rec.Stream, attempts), cause).
		WithDetails(map[string]interface{}{"stream": string(rec.Stream), "reason": rec.Reason})
}

// put writes one object. Name collisions are resolved with a fresh id.
func (r *Router) put(ctx context.Context, stream types.StreamKind, at time.Time, line []byte) (string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		id, err := uuid.NewV7()
		if err != nil {
			return "", engerrors.NewInternalError("generate quarantine object id", err)
		}
		path := fmt.Sprintf("%s%s/%s.jsonl", streamPrefix(stream), at.Format("2006/01/02"), id)

		err = r.sink.Put(ctx, path, line)
		switch {
		case err == nil:
			return path, nil
		case errors.Is(err, storage.ErrPreconditionFailed):
			continue
		default:
			return "", engerrors.NewSinkError(engerrors.CodeSinkUnavailable, "write quarantine object", err)
		}
	}
	return "", engerrors.NewSinkError(engerrors.CodeSinkUnavailable, "write quarantine object", storage.ErrPreconditionFailed)
}

// Scan looks for the newest record of stream whose marker equals marker. At
// most limit objects are examined; limit <= 0 examines all of them.
func (r *Router) Scan(ctx context.Context, stream types.StreamKind, marker string, limit int) (*types.QuarantineRecord, error) {
	var found *types.QuarantineRecord
	err := r.walk(ctx, stream, limit, func(rec *types.QuarantineRecord) bool {
		if rec.Marker == marker {
			found = rec
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Recent returns up to limit records of stream, newest first.
func (r *Router) Recent(ctx context.Context, stream types.StreamKind, limit int) ([]*types.QuarantineRecord, error) {
	var out []*types.QuarantineRecord
	err := r.walk(ctx, stream, limit, func(rec *types.QuarantineRecord) bool {
		out = append(out, rec)
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// walk visits records newest first until fn returns false or limit objects
// have been read. Objects are fetched in pages through the batch reader.
func (r *Router) walk(ctx context.Context, stream types.StreamKind, limit int, fn func(*types.QuarantineRecord) bool) error {
	paths, err := r.sink.ListObjects(ctx, streamPrefix(stream))
	if err != nil {
		return engerrors.NewSinkError(engerrors.CodeSinkUnavailable, "list quarantine objects", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	page := r.opts.ScanConcurrency * 4
	for start := 0; start < len(paths); start += page {
		end := start + page
		if end > len(paths) {
			end = len(paths)
		}

		batch, err := r.reader.Read(ctx, paths[start:end])
		if err != nil {
			return err
		}

		for _, p := range paths[start:end] {
			if err, failed := batch.Errors[p]; failed {
				if errors.Is(err, storage.ErrObjectNotFound) {
					continue
				}
				return engerrors.NewSinkError(engerrors.CodeSinkUnavailable, "read quarantine object "+p, err)
			}
			recs, err := decodeRecords(batch.Data[p])
			if err != nil {
				r.logger.Warn().Str("path", p).Err(err).Msg("skipping unreadable quarantine object")
				continue
			}
			for _, rec := range recs {
				if rec.Stream != stream {
					continue
				}
				if !fn(rec) {
					return nil
				}
			}
		}
	}
	return nil
}

// decodeRecords parses a JSON-lines object.
func decodeRecords(data []byte) ([]*types.QuarantineRecord, error) {
	var out []*types.QuarantineRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec types.QuarantineRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, sc.Err()
}

// streamPrefix returns the object prefix of a stream's sink.
func streamPrefix(stream types.StreamKind) string {
	if _, err := types.ParseStreamKind(string(stream)); err != nil {
		return unknownPrefix + "/"
	}
	return string(stream) + "/"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
