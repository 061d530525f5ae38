// Package fact appends immutable fact rows and resolves them against the
// current dimension versions at read time.
package fact

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	engerrors "github.com/shopnow/streamwh/internal/errors"
	"github.com/shopnow/streamwh/internal/observability"
	"github.com/shopnow/streamwh/internal/store"
	"github.com/shopnow/streamwh/pkg/types"
)

// Default retry policy for transient store failures.
const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 10 * time.Millisecond
)

// Writer appends facts. References are stored as business ids without any
// existence check; a fact may arrive before the dimension it points at.
type Writer struct {
	store        store.FactStore
	logger       zerolog.Logger
	stats        *observability.PipelineStats
	now          func() time.Time
	maxRetries   int
	retryBackoff time.Duration
}

// NewWriter creates a writer over st.
func NewWriter(st store.FactStore, logger zerolog.Logger, stats *observability.PipelineStats) *Writer {
	return &Writer{
		store:        st,
		logger:       logger.With().Str("component", "fact").Logger(),
		stats:        stats,
		now:          time.Now,
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
	}
}

// WithRetry sets how often a retryable store failure is repeated and the
// backoff unit, which grows linearly with the attempt number.
func (w *Writer) WithRetry(maxRetries int, backoff time.Duration) *Writer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	w.maxRetries = maxRetries
	w.retryBackoff = backoff
	return w
}

// Write stores one fact and returns it with its assigned id.
func (w *Writer) Write(ctx context.Context, kind types.FactKind, fields map[string]interface{}, refs map[types.Dimension]string, eventTime time.Time) (*types.FactRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, engerrors.NewInternalError("generate fact id", err)
	}

	f := &types.FactRecord{
		FactID:    id.String(),
		Kind:      kind,
		EventTime: eventTime.UTC(),
		WrittenAt: w.now().UTC(),
		Fields:    fields,
		Refs:      make(map[types.Dimension]string, len(refs)),
	}
	if f.Fields == nil {
		f.Fields = map[string]interface{}{}
	}
	for dim, bid := range refs {
		if bid != "" {
			f.Refs[dim] = bid
		}
	}

	if err := w.append(ctx, f); err != nil {
		w.stats.Record(observability.FactsFailed, string(kind))
		w.logger.Error().Str("kind", string(kind)).Str("fact_id", f.FactID).Err(err).Msg("fact write failed")
		return nil, err
	}
	w.stats.Record(observability.FactsWritten, string(kind))
	w.logger.Trace().Str("kind", string(kind)).Str("fact_id", f.FactID).Msg("fact written")
	return f, nil
}

// append stores f, repeating retryable failures. When retries run out the
// error is STORE/DELIVERY_FAILED.
func (w *Writer) append(ctx context.Context, f *types.FactRecord) error {
	for attempt := 1; ; attempt++ {
		err := w.store.AppendFact(ctx, f)
		if err == nil || !engerrors.IsRetryable(err) {
			return err
		}
		if attempt > w.maxRetries {
			return engerrors.NewStoreError(engerrors.CodeDeliveryFailed,
				fmt.Sprintf("append %s fact: gave up after %d attempts", f.Kind, attempt), err)
		}

		w.stats.Record(observability.FactRetries, string(f.Kind))
		timer := time.NewTimer(w.retryBackoff * time.Duration(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// WriteAll writes drafts in order, stopping at the first failure. The facts
// written before the failure are returned alongside the error.
func (w *Writer) WriteAll(ctx context.Context, drafts []Draft, eventTime time.Time) ([]*types.FactRecord, error) {
	out := make([]*types.FactRecord, 0, len(drafts))
	for i, d := range drafts {
		f, err := w.Write(ctx, d.Kind, d.Fields, d.Refs, eventTime)
		if err != nil {
			return out, fmt.Errorf("fact %d of %d: %w", i+1, len(drafts), err)
		}
		out = append(out, f)
	}
	return out, nil
}
