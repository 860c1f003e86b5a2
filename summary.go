package planwatch

import (
	"sort"
	"strings"
)

const (
	// maxContextTableRows and maxContextInsights bound the context object
	// handed to the intent classifier. The caps keep the classification
	// payload small and must not be raised casually.
	maxContextTableRows = 10
	maxContextInsights  = 3
)

// ChartSummary is a display-light projection of a chart result: type,
// title, and the first series' axis values only. Styling and layout are
// dropped on purpose.
type ChartSummary struct {
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	XValues []any  `json:"x,omitempty"`
	YValues []any  `json:"y,omitempty"`
}

// ConversationContext is a bounded summary of the last completed plan. The
// orchestrator sends it with every intent classification call so the
// backend can answer follow-up questions without replanning.
type ConversationContext struct {
	HasCharts    bool             `json:"hasCharts"`
	HasTable     bool             `json:"hasTable"`
	ChartTypes   []string         `json:"chartTypes,omitempty"`
	Charts       []ChartSummary   `json:"charts,omitempty"`
	TableData    []map[string]any `json:"tableData,omitempty"`
	TableColumns []string         `json:"tableColumns,omitempty"`
	RowCount     int              `json:"rowCount"`
	KeyInsights  []string         `json:"keyInsights,omitempty"`
	LastAnalysis string           `json:"lastAnalysis,omitempty"`
}

// SummarizeContext builds a fresh ConversationContext from a completed
// plan. It walks every result in the plan (step order, a union over all
// steps), collecting chart types, the first table-shaped result, and all
// narrative summaries. It never merges with a context built from an
// earlier plan; carrying a prior context forward is the caller's explicit
// choice when no newer completed plan exists.
func SummarizeContext(plan *QueryPlan) *ConversationContext {
	summary := &ConversationContext{}
	if plan == nil {
		return summary
	}

	chartTypes := map[string]bool{}
	var analyses []string

	for _, stepID := range resultKeysInStepOrder(plan) {
		result := plan.Results[stepID]
		if result == nil {
			continue
		}

		for _, chart := range result.Charts() {
			summary.HasCharts = true
			projection := projectChart(chart)
			if projection.Type != "" && !chartTypes[projection.Type] {
				chartTypes[projection.Type] = true
				summary.ChartTypes = append(summary.ChartTypes, projection.Type)
			}
			summary.Charts = append(summary.Charts, projection)
		}

		if rows := result.Rows(); len(rows) > 0 && !summary.HasTable {
			// Only the first table-shaped result populates the table
			// fields; later matches never overwrite them.
			summary.HasTable = true
			summary.RowCount = len(rows)
			if len(rows) > maxContextTableRows {
				rows = rows[:maxContextTableRows]
			}
			summary.TableData = rows
			summary.TableColumns = columnNames(rows[0])
		}

		if s := result.Summary(); s != "" {
			analyses = append(analyses, s)
		}
	}

	summary.LastAnalysis = strings.Join(analyses, " ")

	insights := plan.ReasoningSteps
	if len(insights) > maxContextInsights {
		insights = insights[:maxContextInsights]
	}
	summary.KeyInsights = append([]string(nil), insights...)

	return summary
}

// projectChart reduces a raw chart payload to its display-light summary.
// Only the first series contributes axis values.
func projectChart(chart map[string]any) ChartSummary {
	projection := ChartSummary{}
	projection.Type, _ = chart["type"].(string)
	projection.Title, _ = chart["title"].(string)

	series, ok := chart["data"].([]any)
	if !ok || len(series) == 0 {
		return projection
	}
	first, ok := series[0].(map[string]any)
	if !ok {
		return projection
	}
	projection.XValues, _ = first["x"].([]any)
	projection.YValues, _ = first["y"].([]any)
	return projection
}

// columnNames derives table column names from the first row's field set,
// in sorted order for stable output.
func columnNames(row map[string]any) []string {
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	// Sorted so two summaries of the same plan compare equal.
	sort.Strings(names)
	return names
}
