package planwatch

import (
	"sync"
	"time"
)

// DefaultRetireDelay is how long a fully terminal tracker stays visible
// before it clears itself.
const DefaultRetireDelay = 3 * time.Second

// ProgressStep is one live step record driven by push-channel events. It is
// keyed by the id the channel supplies, which is not guaranteed to equal a
// normalized plan step id; the tracker and the displayed plan are separate
// data flows and are never merged.
type ProgressStep struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	EndedAt   time.Time  `json:"ended_at,omitzero"`
	Progress  float64    `json:"progress"`
}

// TrackedTask identifies one step to track, as announced by an
// execution-started event.
type TrackedTask struct {
	ID   string
	Name string
}

// StepTracker holds the ordered set of live progress steps for the current
// execution. Status transitions are monotonic: pending → running →
// {completed, error}; updates that would regress a step are dropped, and a
// terminal step's end time is stamped exactly once.
type StepTracker struct {
	mu          sync.Mutex
	steps       []*ProgressStep
	index       map[string]*ProgressStep
	currentStep string
	visible     bool
	generation  uint64

	retireDelay time.Duration
	now         func() time.Time
	onChange    func()
}

// TrackerOption configures a StepTracker.
type TrackerOption func(*StepTracker)

// WithRetireDelay overrides the delay before a finished tracker clears.
func WithRetireDelay(d time.Duration) TrackerOption {
	return func(t *StepTracker) {
		t.retireDelay = d
	}
}

// WithTrackerChangeFn registers a callback invoked after every visible
// change, for UIs that re-render on mutation.
func WithTrackerChangeFn(fn func()) TrackerOption {
	return func(t *StepTracker) {
		t.onChange = fn
	}
}

// NewStepTracker creates an empty tracker.
func NewStepTracker(options ...TrackerOption) *StepTracker {
	t := &StepTracker{
		index:       map[string]*ProgressStep{},
		retireDelay: DefaultRetireDelay,
		now:         time.Now,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Initialize replaces the whole tracker with one pending entry per task, in
// task order, and makes the tracker visible. It starts a new generation, so
// a retire timer scheduled by a previous execution can no longer wipe these
// entries.
func (t *StepTracker) Initialize(tasks []TrackedTask) {
	t.mu.Lock()
	t.generation++
	t.steps = make([]*ProgressStep, 0, len(tasks))
	t.index = make(map[string]*ProgressStep, len(tasks))
	t.currentStep = ""
	t.visible = len(tasks) > 0
	for _, task := range tasks {
		step := &ProgressStep{
			ID:     task.ID,
			Name:   task.Name,
			Status: StepStatusPending,
		}
		t.steps = append(t.steps, step)
		t.index[task.ID] = step
	}
	t.mu.Unlock()
	t.notify()
}

// Reset clears the tracker immediately and invalidates pending retires.
func (t *StepTracker) Reset() {
	t.Initialize(nil)
}

// Update applies a status transition to the step with the given id. Unknown
// ids are a no-op: the push channel may race ahead of Initialize and the
// tracker must tolerate it. Entering running stamps the start time once and
// makes the step current; entering a terminal status stamps the end time
// once and advances the current step to the next pending entry.
func (t *StepTracker) Update(stepID string, status StepStatus, progress float64) {
	t.mu.Lock()
	step, ok := t.index[stepID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if step.Status.Terminal() {
		// Terminal is final: no regressions, no second end stamp.
		t.mu.Unlock()
		return
	}
	if status == StepStatusPending && step.Status != StepStatusPending {
		t.mu.Unlock()
		return
	}

	step.Status = status
	step.Progress = progress

	switch {
	case status == StepStatusRunning:
		if step.StartedAt.IsZero() {
			step.StartedAt = t.now()
		}
		t.currentStep = stepID
	case status.Terminal():
		if !step.StartedAt.IsZero() && step.EndedAt.IsZero() {
			step.EndedAt = t.now()
		}
		t.currentStep = t.nextPendingLocked()
	}

	retire := t.allTerminalLocked()
	generation := t.generation
	t.mu.Unlock()
	t.notify()

	if retire {
		time.AfterFunc(t.retireDelay, func() {
			t.retire(generation)
		})
	}
}

// retire clears the tracker if it still belongs to the generation that
// scheduled the clear. A newer Initialize bumps the generation and the
// stale timer becomes a no-op.
func (t *StepTracker) retire(generation uint64) {
	t.mu.Lock()
	if t.generation != generation {
		t.mu.Unlock()
		return
	}
	t.steps = nil
	t.index = map[string]*ProgressStep{}
	t.currentStep = ""
	t.visible = false
	t.mu.Unlock()
	t.notify()
}

// Steps returns a snapshot of the tracked steps in order.
func (t *StepTracker) Steps() []ProgressStep {
	t.mu.Lock()
	defer t.mu.Unlock()
	steps := make([]ProgressStep, 0, len(t.steps))
	for _, step := range t.steps {
		steps = append(steps, *step)
	}
	return steps
}

// CurrentStep returns the id of the step currently running, or "".
func (t *StepTracker) CurrentStep() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentStep
}

// Visible reports whether the tracker should be shown.
func (t *StepTracker) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

func (t *StepTracker) nextPendingLocked() string {
	for _, step := range t.steps {
		if step.Status == StepStatusPending {
			return step.ID
		}
	}
	return ""
}

func (t *StepTracker) allTerminalLocked() bool {
	if len(t.steps) == 0 {
		return false
	}
	for _, step := range t.steps {
		if !step.Status.Terminal() {
			return false
		}
	}
	return true
}

func (t *StepTracker) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}
