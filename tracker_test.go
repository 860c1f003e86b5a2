package planwatch_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/tracefront/planwatch"
)

func trackedTasks() []planwatch.TrackedTask {
	return []planwatch.TrackedTask{
		{ID: "1_schema_discovery", Name: "Schema Discovery"},
		{ID: "2_execution", Name: "Execution"},
		{ID: "3_visualization", Name: "Visualization"},
	}
}

func TestTrackerInitialize(t *testing.T) {
	tracker := planwatch.NewStepTracker()
	tracker.Initialize(trackedTasks())

	steps := tracker.Steps()
	gt.Array(t, steps).Length(3)
	for _, step := range steps {
		gt.Equal(t, step.Status, planwatch.StepStatusPending)
		gt.True(t, step.StartedAt.IsZero())
	}
	gt.True(t, tracker.Visible())
	gt.Equal(t, tracker.CurrentStep(), "")
}

func TestTrackerUnknownIDIsNoop(t *testing.T) {
	tracker := planwatch.NewStepTracker()
	tracker.Initialize(trackedTasks())

	tracker.Update("9_never_announced", planwatch.StepStatusRunning, 10)

	gt.Array(t, tracker.Steps()).Length(3)
	gt.Equal(t, tracker.CurrentStep(), "")
}

func TestTrackerUpdateBeforeInitialize(t *testing.T) {
	tracker := planwatch.NewStepTracker()

	// The push channel may race ahead of execution_started.
	tracker.Update("1_schema_discovery", planwatch.StepStatusRunning, 0)

	gt.Array(t, tracker.Steps()).Length(0)
}

func TestTrackerLifecycleStamps(t *testing.T) {
	tracker := planwatch.NewStepTracker(planwatch.WithRetireDelay(time.Hour))
	tracker.Initialize(trackedTasks())

	tracker.Update("1_schema_discovery", planwatch.StepStatusRunning, 10)
	gt.Equal(t, tracker.CurrentStep(), "1_schema_discovery")

	steps := tracker.Steps()
	gt.False(t, steps[0].StartedAt.IsZero())
	gt.True(t, steps[0].EndedAt.IsZero())

	tracker.Update("1_schema_discovery", planwatch.StepStatusCompleted, 100)
	steps = tracker.Steps()
	gt.Equal(t, steps[0].Status, planwatch.StepStatusCompleted)
	gt.False(t, steps[0].EndedAt.IsZero())

	// Terminal steps never regress and never get a second end stamp.
	ended := steps[0].EndedAt
	tracker.Update("1_schema_discovery", planwatch.StepStatusRunning, 50)
	tracker.Update("1_schema_discovery", planwatch.StepStatusError, 0)
	steps = tracker.Steps()
	gt.Equal(t, steps[0].Status, planwatch.StepStatusCompleted)
	gt.Equal(t, steps[0].EndedAt, ended)

	// Current step advanced to the next pending entry.
	gt.Equal(t, tracker.CurrentStep(), "2_execution")
}

func TestTrackerAutoRetire(t *testing.T) {
	tracker := planwatch.NewStepTracker(planwatch.WithRetireDelay(20 * time.Millisecond))
	tracker.Initialize(trackedTasks())

	for _, task := range trackedTasks() {
		tracker.Update(task.ID, planwatch.StepStatusCompleted, 100)
	}

	// Still visible right after completion.
	gt.True(t, tracker.Visible())
	gt.Array(t, tracker.Steps()).Length(3)

	waitFor(t, 500*time.Millisecond, func() bool {
		return !tracker.Visible() && len(tracker.Steps()) == 0
	})
}

func TestTrackerRetireSkipsNewGeneration(t *testing.T) {
	tracker := planwatch.NewStepTracker(planwatch.WithRetireDelay(30 * time.Millisecond))
	tracker.Initialize(trackedTasks())

	for _, task := range trackedTasks() {
		tracker.Update(task.ID, planwatch.StepStatusCompleted, 100)
	}

	// A new run begins before the retire delay elapses; the stale timer
	// must not wipe it.
	tracker.Initialize([]planwatch.TrackedTask{{ID: "1_execution", Name: "Execution"}})

	time.Sleep(100 * time.Millisecond)
	gt.True(t, tracker.Visible())
	gt.Array(t, tracker.Steps()).Length(1)
	gt.Equal(t, tracker.Steps()[0].ID, "1_execution")
}

func TestTrackerChangeCallback(t *testing.T) {
	calls := 0
	tracker := planwatch.NewStepTracker(planwatch.WithTrackerChangeFn(func() {
		calls++
	}))
	tracker.Initialize(trackedTasks())
	tracker.Update("1_schema_discovery", planwatch.StepStatusRunning, 0)

	gt.True(t, calls >= 2)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, limit time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
