package planwatch

import (
	"fmt"
	"sort"
)

// PlanStatus represents the backend-reported state of a query plan.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

// Terminal reports whether no further status transitions follow.
func (s PlanStatus) Terminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed
}

// BackendTask is one unit of work inside a backend plan. Tasks carry no id
// of their own; their position in the plan's task list defines the step
// ordinal.
type BackendTask struct {
	TaskType string `json:"task_type"`
	Agent    string `json:"agent"`
}

// ResultPayload is the opaque per-step result the backend attaches to a
// plan. Accessors below pull out the shapes this client knows how to
// display (rows, charts, summaries) without constraining the rest.
type ResultPayload map[string]any

// Rows returns tabular output rows, checking the keys the backend uses for
// table-shaped results in order of preference.
func (r ResultPayload) Rows() []map[string]any {
	for _, key := range []string{"data", "table_data", "results"} {
		raw, ok := r[key].([]any)
		if !ok {
			continue
		}
		rows := make([]map[string]any, 0, len(raw))
		for _, item := range raw {
			if row, ok := item.(map[string]any); ok {
				rows = append(rows, row)
			}
		}
		if len(rows) > 0 {
			return rows
		}
	}
	return nil
}

// Charts returns the chart payloads attached to this result, if any.
func (r ResultPayload) Charts() []map[string]any {
	raw, ok := r["charts"].([]any)
	if !ok {
		return nil
	}
	charts := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if chart, ok := item.(map[string]any); ok {
			charts = append(charts, chart)
		}
	}
	return charts
}

// Summary returns the narrative summary string of this result, or "".
func (r ResultPayload) Summary() string {
	s, _ := r["summary"].(string)
	return s
}

// Fallback reports whether the backend produced this result through a
// fallback path after the task itself failed. Fallback results still count
// as present for step completion.
func (r ResultPayload) Fallback() bool {
	used, _ := r["fallback_used"].(bool)
	return used
}

// QueryPlan is a backend-issued record describing a query's task breakdown,
// execution status, and per-step results. Results are keyed by synthesized
// step ids ("{ordinal}_{task_type}"), not by anything the tasks carry.
type QueryPlan struct {
	PlanID                 string                   `json:"plan_id"`
	UserQuery              string                   `json:"user_query"`
	ReasoningSteps         []string                 `json:"reasoning_steps,omitempty"`
	EstimatedExecutionTime string                   `json:"estimated_execution_time,omitempty"`
	Tasks                  []BackendTask            `json:"tasks"`
	Status                 PlanStatus               `json:"status"`
	Results                map[string]ResultPayload `json:"results,omitempty"`
	Error                  string                   `json:"error,omitempty"`
}

// StepStatus represents the display state of a single plan step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusError     StepStatus = "error"
)

// Terminal reports whether a step status admits no further transitions.
func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusError
}

// PlanStep is a display-ready step derived from a plan's task list. It is
// recomputed on every normalization and never persisted.
type PlanStep struct {
	StepID      string        `json:"step_id"`
	TaskType    string        `json:"task_type"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      StepStatus    `json:"status"`
	Output      ResultPayload `json:"output_data,omitempty"`
}

// NormalizedPlan is a QueryPlan augmented with an ordered step sequence and
// computed progress.
type NormalizedPlan struct {
	Plan        *QueryPlan `json:"plan"`
	Steps       []PlanStep `json:"enhanced_steps"`
	Progress    float64    `json:"progress"`
	CurrentStep string     `json:"current_step,omitempty"`
}

// StepID synthesizes the canonical id for the task at 0-based index i.
// Position is the only source of a step's ordinal.
func StepID(i int, taskType string) string {
	return fmt.Sprintf("%d_%s", i+1, taskType)
}

// Normalize derives the ordered step model from a raw backend plan. It is a
// pure function of its input: normalizing the same plan twice yields the
// same steps, and the plan itself is never mutated.
//
// A step is completed iff the plan carries a result under its synthesized
// step id. A failed plan forces every non-completed step to error,
// overriding the presence check. Progress is completed/total, 0 for an
// empty task list. CurrentStep is the first non-completed step in task
// order, or "" when all steps completed.
func Normalize(plan *QueryPlan) *NormalizedPlan {
	norm := &NormalizedPlan{Plan: plan}
	if plan == nil || len(plan.Tasks) == 0 {
		return norm
	}

	norm.Steps = make([]PlanStep, 0, len(plan.Tasks))
	completed := 0
	for i, task := range plan.Tasks {
		stepID := StepID(i, task.TaskType)
		meta := LookupTaskMeta(task.TaskType)

		step := PlanStep{
			StepID:      stepID,
			TaskType:    task.TaskType,
			Name:        meta.Name,
			Description: meta.Description,
			Status:      StepStatusPending,
		}

		if output, ok := plan.Results[stepID]; ok && output != nil {
			step.Status = StepStatusCompleted
			step.Output = output
			completed++
		}
		if plan.Status == PlanStatusFailed {
			// A failed plan renders every step as errored, overriding the
			// presence check. Progress still counts present results.
			step.Status = StepStatusError
		}

		norm.Steps = append(norm.Steps, step)
	}

	norm.Progress = float64(completed) / float64(len(plan.Tasks))
	for _, step := range norm.Steps {
		if step.Status != StepStatusCompleted {
			norm.CurrentStep = step.StepID
			break
		}
	}

	return norm
}

// resultKeysInStepOrder returns the plan's result keys ordered by step
// ordinal (synthesized from the task list), with any keys that match no
// task appended in sorted order. Map iteration alone would make every walk
// over results nondeterministic.
func resultKeysInStepOrder(plan *QueryPlan) []string {
	keys := make([]string, 0, len(plan.Results))
	seen := make(map[string]bool, len(plan.Results))

	for i, task := range plan.Tasks {
		stepID := StepID(i, task.TaskType)
		if _, ok := plan.Results[stepID]; ok {
			keys = append(keys, stepID)
			seen[stepID] = true
		}
	}

	var rest []string
	for key := range plan.Results {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
