package planwatch_test

import (
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/tracefront/planwatch"
)

func rowsOf(n int) []any {
	rows := make([]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{
			"region": fmt.Sprintf("region-%d", i),
			"sales":  float64(i * 100),
		})
	}
	return rows
}

func TestSummarizeContextTableBounds(t *testing.T) {
	plan := &planwatch.QueryPlan{
		PlanID: "plan-1",
		Status: planwatch.PlanStatusCompleted,
		Tasks: []planwatch.BackendTask{
			{TaskType: "execution"},
		},
		Results: map[string]planwatch.ResultPayload{
			"1_execution": {"data": rowsOf(15)},
		},
	}

	summary := planwatch.SummarizeContext(plan)

	gt.True(t, summary.HasTable)
	gt.Array(t, summary.TableData).Length(10)
	gt.Equal(t, summary.RowCount, 15)
	gt.Equal(t, summary.TableColumns, []string{"region", "sales"})
}

func TestSummarizeContextInsightBound(t *testing.T) {
	steps := make([]string, 10)
	for i := range steps {
		steps[i] = fmt.Sprintf("step %d", i)
	}
	plan := &planwatch.QueryPlan{
		PlanID:         "plan-1",
		Status:         planwatch.PlanStatusCompleted,
		ReasoningSteps: steps,
	}

	summary := planwatch.SummarizeContext(plan)

	gt.Array(t, summary.KeyInsights).Length(3)
	gt.Equal(t, summary.KeyInsights, []string{"step 0", "step 1", "step 2"})
}

func TestSummarizeContextCharts(t *testing.T) {
	chart := func(chartType, title string) map[string]any {
		return map[string]any{
			"type":   chartType,
			"title":  title,
			"layout": map[string]any{"color": "red"},
			"data": []any{
				map[string]any{"x": []any{"a", "b"}, "y": []any{1.0, 2.0}},
				map[string]any{"x": []any{"c"}, "y": []any{3.0}},
			},
		}
	}
	plan := &planwatch.QueryPlan{
		PlanID: "plan-1",
		Status: planwatch.PlanStatusCompleted,
		Tasks: []planwatch.BackendTask{
			{TaskType: "execution"},
			{TaskType: "visualization"},
		},
		Results: map[string]planwatch.ResultPayload{
			"1_execution": {
				"charts": []any{chart("bar", "Sales by Region")},
			},
			"2_visualization": {
				"charts": []any{chart("line", "Trend"), chart("bar", "Totals")},
			},
		},
	}

	summary := planwatch.SummarizeContext(plan)

	gt.True(t, summary.HasCharts)
	gt.Equal(t, summary.ChartTypes, []string{"bar", "line"})
	gt.Array(t, summary.Charts).Length(3)

	// Display-light projection: first series only, no styling carried.
	gt.Equal(t, summary.Charts[0].Title, "Sales by Region")
	gt.Equal(t, summary.Charts[0].XValues, []any{"a", "b"})
	gt.Equal(t, summary.Charts[0].YValues, []any{1.0, 2.0})
}

func TestSummarizeContextFirstTableWins(t *testing.T) {
	plan := &planwatch.QueryPlan{
		PlanID: "plan-1",
		Status: planwatch.PlanStatusCompleted,
		Tasks: []planwatch.BackendTask{
			{TaskType: "execution"},
			{TaskType: "visualization"},
		},
		Results: map[string]planwatch.ResultPayload{
			"1_execution": {
				"data": []any{map[string]any{"first": true}},
			},
			"2_visualization": {
				"table_data": []any{map[string]any{"second": true}, map[string]any{"second": false}},
			},
		},
	}

	summary := planwatch.SummarizeContext(plan)

	gt.Equal(t, summary.RowCount, 1)
	gt.Equal(t, summary.TableColumns, []string{"first"})
}

func TestSummarizeContextLastAnalysis(t *testing.T) {
	plan := &planwatch.QueryPlan{
		PlanID: "plan-1",
		Status: planwatch.PlanStatusCompleted,
		Tasks: []planwatch.BackendTask{
			{TaskType: "execution"},
			{TaskType: "visualization"},
		},
		Results: map[string]planwatch.ResultPayload{
			"1_execution":     {"summary": "Q4 sales rose."},
			"2_visualization": {"summary": "West led growth."},
		},
	}

	summary := planwatch.SummarizeContext(plan)

	gt.Equal(t, summary.LastAnalysis, "Q4 sales rose. West led growth.")
}

func TestSummarizeContextNilPlan(t *testing.T) {
	summary := planwatch.SummarizeContext(nil)
	gt.False(t, summary.HasCharts)
	gt.False(t, summary.HasTable)
	gt.Equal(t, summary.RowCount, 0)
}
