package planwatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResultKind tags what a partial result carries.
type ResultKind string

const (
	ResultKindQuery   ResultKind = "query"
	ResultKindChart   ResultKind = "chart"
	ResultKindInsight ResultKind = "insight"
	ResultKindError   ResultKind = "error"
)

// PartialResult is one artifact surfaced before or alongside full plan
// completion: a batch of rows, a chart, an insight, or an error.
type PartialResult struct {
	ID        string     `json:"id"`
	StepID    string     `json:"step_id"`
	StepName  string     `json:"step_name"`
	Kind      ResultKind `json:"kind"`
	Data      any        `json:"data,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Complete  bool       `json:"is_complete"`
	Preview   string     `json:"preview,omitempty"`
}

// PartialResultPatch updates an existing entry. Merge semantics: nil fields
// leave the current value untouched.
type PartialResultPatch struct {
	Data     any
	Complete *bool
	Preview  *string
}

// ResultLog is the append-only sequence of partial results for the current
// submission. Accumulation from a terminal plan runs exactly once per plan
// id, so a push/poll race over the same results map cannot duplicate
// entries.
type ResultLog struct {
	mu      sync.Mutex
	entries []PartialResult
	byID    map[string]int
	seen    map[string]bool
	now     func() time.Time

	onAppend func(PartialResult)
}

// ResultLogOption configures a ResultLog.
type ResultLogOption func(*ResultLog)

// WithResultAppendFn registers a callback invoked on every append.
func WithResultAppendFn(fn func(PartialResult)) ResultLogOption {
	return func(l *ResultLog) {
		l.onAppend = fn
	}
}

// NewResultLog creates an empty result log.
func NewResultLog(options ...ResultLogOption) *ResultLog {
	l := &ResultLog{
		byID: map[string]int{},
		seen: map[string]bool{},
		now:  time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Append adds a partial result with a fresh id and timestamp and returns
// the id so the caller can patch the entry later.
func (l *ResultLog) Append(stepID, stepName string, kind ResultKind, data any) string {
	return l.appendWithID(l.newID(), stepID, stepName, kind, data)
}

func (l *ResultLog) appendWithID(id, stepID, stepName string, kind ResultKind, data any) string {
	entry := PartialResult{
		ID:        id,
		StepID:    stepID,
		StepName:  stepName,
		Kind:      kind,
		Data:      data,
		Timestamp: l.now(),
		Complete:  true,
	}

	l.mu.Lock()
	l.byID[entry.ID] = len(l.entries)
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	if l.onAppend != nil {
		l.onAppend(entry)
	}
	return entry.ID
}

// Update patches an existing entry in place. Fields not set in the patch
// keep their current value. Unknown ids report false.
func (l *ResultLog) Update(id string, patch PartialResultPatch) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byID[id]
	if !ok {
		return false
	}
	entry := &l.entries[idx]
	if patch.Data != nil {
		entry.Data = patch.Data
	}
	if patch.Complete != nil {
		entry.Complete = *patch.Complete
	}
	if patch.Preview != nil {
		entry.Preview = *patch.Preview
	}
	return true
}

// AccumulateFromPlan walks a terminal plan's results map and appends one
// query entry per result carrying rows and one chart entry per chart
// element, with sibling charts from the same step distinguished by a
// derived "{stepID}_chart_{i}" id. Repeated calls for the same plan id are
// no-ops; both the direct-completion path and a slow poll tail may observe
// the same terminal plan.
func (l *ResultLog) AccumulateFromPlan(plan *QueryPlan) {
	if plan == nil || plan.PlanID == "" {
		return
	}

	l.mu.Lock()
	if l.seen[plan.PlanID] {
		l.mu.Unlock()
		return
	}
	l.seen[plan.PlanID] = true
	l.mu.Unlock()

	norm := Normalize(plan)
	names := make(map[string]string, len(norm.Steps))
	for _, step := range norm.Steps {
		names[step.StepID] = step.Name
	}

	for _, stepID := range resultKeysInStepOrder(plan) {
		result := plan.Results[stepID]
		if result == nil {
			continue
		}
		stepName := names[stepID]
		if stepName == "" {
			stepName = humanizeTaskType(stepID)
		}

		if rows := result.Rows(); len(rows) > 0 {
			l.Append(stepID, stepName, ResultKindQuery, rows)
		}
		for i, chart := range result.Charts() {
			chartID := fmt.Sprintf("%s_chart_%d", stepID, i)
			l.appendWithID(chartID, stepID, stepName, ResultKindChart, chart)
		}
	}
}

// Entries returns a snapshot of the accumulated results in append order.
func (l *ResultLog) Entries() []PartialResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]PartialResult(nil), l.entries...)
}

// Reset clears the log for a new submission. The per-plan accumulation
// guard is kept: a stale poll response for an old plan arriving after the
// reset must not re-populate the log.
func (l *ResultLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.byID = map[string]int{}
}

// newID produces an id unique per insertion: millisecond timestamp plus a
// short random suffix.
func (l *ResultLog) newID() string {
	return fmt.Sprintf("%d_%s", l.now().UnixMilli(), uuid.NewString()[:8])
}
