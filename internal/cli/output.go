package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopnow/streamwh/internal/engine"
	"github.com/shopnow/streamwh/pkg/types"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Events failed or a lookup found nothing
	ExitCommandError = 2 // Bad flags, unreadable config, store unavailable
)

// ExitError carries the exit code a command should terminate with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command output.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

// printer writes command results as text or JSON.
type printer struct {
	format string
	w      io.Writer
}

// json reports whether results are encoded as JSON envelopes.
func (p *printer) json() bool {
	return p.format == "json"
}

func (p *printer) ok(data interface{}) error {
	return json.NewEncoder(p.w).Encode(Response{Status: "ok", Data: data})
}

// renderHistory writes the versions of one business id, oldest first.
func renderHistory(w io.Writer, dim types.Dimension, id string, history []*types.DimensionRecord) {
	fmt.Fprintf(w, "%s %s (%d %s)\n", dim, id, len(history), plural(len(history), "version"))
	for _, rec := range history {
		to := "current"
		if rec.ValidTo != nil {
			to = rec.ValidTo.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "  #%d  %s .. %s\n", rec.SurrogateKey, rec.ValidFrom.UTC().Format(time.RFC3339), to)
		fmt.Fprintf(w, "      %s\n", renderAttributes(rec.Attributes))
	}
}

func renderAttributes(attrs types.Attributes) string {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		v, err := json.Marshal(a.Value)
		if err != nil {
			v = []byte(fmt.Sprintf("%v", a.Value))
		}
		parts = append(parts, a.Name+"="+string(v))
	}
	return strings.Join(parts, " ")
}

// renderSummary writes the totals of an ingest run.
func renderSummary(w io.Writer, stream types.StreamKind, s engine.Summary) {
	fmt.Fprintf(w, "%s: %d %s\n", stream, s.Total, plural(s.Total, "event"))
	fmt.Fprintf(w, "  stored       %d\n", s.Stored)
	fmt.Fprintf(w, "  quarantined  %d\n", s.Quarantined)
	fmt.Fprintf(w, "  dropped      %d\n", s.Dropped)
	fmt.Fprintf(w, "  failed       %d\n", s.Failed)
}

// renderIntegrity writes the referential gaps of a report.
func renderIntegrity(w io.Writer, r *types.IntegrityReport) {
	if r.Clean() {
		fmt.Fprintln(w, "no integrity gaps")
		return
	}
	if n := len(r.OrphanFacts); n > 0 {
		fmt.Fprintf(w, "orphan fact references: %d\n", n)
		for _, o := range r.OrphanFacts {
			fmt.Fprintf(w, "  %s %s -> %s %s\n", o.Kind, o.FactID, o.Dimension, o.BusinessID)
		}
	}
	if n := len(r.UnknownVendorProducts); n > 0 {
		fmt.Fprintf(w, "products with unknown vendor: %d\n", n)
		for _, p := range r.UnknownVendorProducts {
			fmt.Fprintf(w, "  product %s -> vendor %s\n", p.ProductID, p.VendorID)
		}
	}
}

// renderQuarantineRecord writes one quarantined event.
func renderQuarantineRecord(w io.Writer, rec *types.QuarantineRecord) {
	fmt.Fprintf(w, "%s  %s  marker=%s\n", rec.ArrivedAt.UTC().Format(time.RFC3339), rec.Stream, rec.Marker)
	fmt.Fprintf(w, "  reason:  %s\n", rec.Reason)
	fmt.Fprintf(w, "  payload: %s\n", rec.Payload)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
