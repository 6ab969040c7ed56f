// Package trace records one audit entry per proxied request: what was
// asked, what came back, how it was judged, and what it cost. Traces are
// written off the critical path and mutated at most once more, when an
// asynchronous evaluation arrives.
package trace

import (
	"context"
	"errors"
	"time"

	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
	"github.com/nulpointcorp/sentinel-gateway/internal/validation"
)

// ErrNotFound is returned when no trace exists for the given id.
var ErrNotFound = errors.New("trace: not found")

// Evaluation is the optional judged score attached after the fact.
type Evaluation struct {
	Judge     string    `json:"judge"`
	Score     float64   `json:"score"`
	Reasoning string    `json:"reasoning"`
	At        time.Time `json:"at"`
}

// Trace is one completed request record.
type Trace struct {
	ID          string                     `json:"id"`
	WorkspaceID string                     `json:"workspace_id"`
	Provider    string                     `json:"provider"`
	Model       string                     `json:"model"`
	Prompt      string                     `json:"prompt"`
	Response    enforce.StructuredResponse `json:"response"`
	Verdict     validation.Verdict         `json:"verdict"`
	LatencyMS   int64                      `json:"latency_ms"`
	InputTokens int                        `json:"input_tokens"`
	OutputToken int                        `json:"output_tokens"`
	CostUSD     float64                    `json:"cost_usd"`
	CreatedAt   time.Time                  `json:"created_at"`
	Evaluation  *Evaluation                `json:"evaluation,omitempty"`
}

// Store persists traces and the running per-workspace monthly spend.
type Store interface {
	// Put writes the trace and accumulates its cost into the workspace's
	// month total. Returns the updated month total.
	Put(ctx context.Context, t *Trace) (monthTotal float64, err error)

	Get(ctx context.Context, workspaceID, id string) (*Trace, error)

	// Recent returns up to n traces for the workspace, newest first.
	Recent(ctx context.Context, workspaceID string, n int) ([]*Trace, error)

	// AttachEvaluation sets the judged evaluation on an existing trace.
	AttachEvaluation(ctx context.Context, workspaceID, id string, ev *Evaluation) error

	// MonthCost returns the accumulated spend for the current month.
	MonthCost(ctx context.Context, workspaceID string) (float64, error)

	// MarkBudgetAlerted records that the budget alert fired this month.
	// Returns true on the first call per workspace and month, false after.
	MarkBudgetAlerted(ctx context.Context, workspaceID string) (bool, error)
}

// monthKey formats the accounting period, e.g. "2026-08".
func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
