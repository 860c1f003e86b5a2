package planwatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// OrchestratorState names a phase of the submission state machine.
type OrchestratorState string

const (
	StateIdle              OrchestratorState = "idle"
	StateIntentClassifying OrchestratorState = "intent_classifying"
	StateSubmitting        OrchestratorState = "submitting"
	StateAwaitingTerminal  OrchestratorState = "awaiting_terminal"
)

// DefaultClosingDelay is the short pause before the closing message, so the
// finished step timeline is visible before the conversation moves on.
const DefaultClosingDelay = 500 * time.Millisecond

const (
	// DefaultGreeting is used when the classifier short-circuits to a
	// conversational reply without providing a response text.
	DefaultGreeting = "Hello! Ask me anything about your connected data."

	successClosingText = "Analysis complete. Let me know if you want to explore the results further."
	failureClosingText = "The analysis completed with issues. Partial results are shown where available."
)

// backendAPI is the slice of the backend Client the orchestrator needs.
type backendAPI interface {
	DetectIntent(ctx context.Context, query string, convCtx *ConversationContext) (*IntentResult, error)
	SubmitQuery(ctx context.Context, query, userID, sessionID string) (*QueryPlan, error)
	PlanStatus(ctx context.Context, planID string) (*QueryPlan, error)
}

// Orchestrator runs one submission end to end: classify intent, either
// reply conversationally or submit the query, then drive the normalizer and
// poll loop until the plan is terminal, appending conversation messages
// along the way.
//
// Each submission starts a new generation. Plan replacements and closing
// messages are guarded by the generation token, so responses from a
// superseded submission arriving late cannot mutate newer state.
type Orchestrator struct {
	api     backendAPI
	tracker *StepTracker
	results *ResultLog
	poller  *Poller

	userID       string
	sessionID    string
	closingDelay time.Duration
	logger       *slog.Logger

	messageHook       MessageHook
	planUpdateHook    PlanUpdateHook
	partialResultHook PartialResultHook

	mu          sync.Mutex
	state       OrchestratorState
	loading     bool
	generation  uint64
	currentPlan *QueryPlan
	lastContext *ConversationContext
	messages    []Message
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithUserID sets the user id sent with submissions.
func WithUserID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.userID = id
	}
}

// WithSessionID sets the session id sent with submissions.
func WithSessionID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sessionID = id
	}
}

// WithClosingDelay overrides the pause before the closing message.
func WithClosingDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.closingDelay = d
	}
}

// WithLogger sets the structured logger attached to submission contexts.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMessageHook registers a hook for appended conversation messages.
func WithMessageHook(hook MessageHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.messageHook = hook
	}
}

// WithPlanUpdateHook registers a hook for plan replacements.
func WithPlanUpdateHook(hook PlanUpdateHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.planUpdateHook = hook
	}
}

// WithPartialResultHook registers a hook for accumulated partial results.
func WithPartialResultHook(hook PartialResultHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.partialResultHook = hook
	}
}

// WithPoller overrides the internally constructed poll loop.
func WithPoller(p *Poller) OrchestratorOption {
	return func(o *Orchestrator) {
		o.poller = p
	}
}

// NewOrchestrator wires the orchestrator over a backend API, a step
// tracker, and a result log.
func NewOrchestrator(api backendAPI, tracker *StepTracker, results *ResultLog, options ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		api:          api,
		tracker:      tracker,
		results:      results,
		userID:       "anonymous",
		sessionID:    uuid.NewString(),
		closingDelay: DefaultClosingDelay,
		logger:       defaultLogger,

		messageHook:       defaultMessageHook,
		planUpdateHook:    defaultPlanUpdateHook,
		partialResultHook: defaultPartialResultHook,

		state: StateIdle,
	}
	for _, opt := range options {
		opt(o)
	}
	if o.poller == nil {
		o.poller = NewPoller(api)
	}
	return o
}

// Submit runs the full sequence for one user query and blocks until the
// conversation settles: a conversational reply, a terminal plan, or a
// submission failure. Poll-only failures clear the loading state without
// appending an error message; the returned error still reports them to the
// caller.
func (o *Orchestrator) Submit(ctx context.Context, query string) error {
	if strings.TrimSpace(query) == "" {
		return goerr.Wrap(ErrEmptyQuery, "nothing to submit")
	}

	logger := o.logger.With("session_id", o.sessionID)
	ctx = ctxWithLogger(ctx, logger)

	gen, err := o.begin(ctx, query)
	if err != nil {
		return err
	}

	convCtx := o.Context()
	needsPlanning := true
	intent, err := o.api.DetectIntent(ctx, query, convCtx)
	if err != nil {
		// Fail-open: a broken classifier always falls through to the
		// heavier planning path, never to a dead end.
		logger.Warn("intent classification failed, assuming planning needed", "error", err)
	} else {
		needsPlanning = intent.NeedsPlanning
	}

	if !needsPlanning {
		reply := DefaultGreeting
		if intent != nil && intent.Response != "" {
			reply = intent.Response
		}
		o.settle(ctx, gen, MessageKindSystem, reply)
		return nil
	}

	o.prepareSubmission(gen)

	plan, err := o.api.SubmitQuery(ctx, query, o.userID, o.sessionID)
	if err != nil {
		o.settle(ctx, gen, MessageKindError, err.Error())
		return goerr.Wrap(err, "submission failed", goerr.V("query", query))
	}

	o.setPlan(ctx, gen, plan)
	o.setState(gen, StateAwaitingTerminal)

	if !plan.Status.Terminal() {
		final, pollErr := o.poller.Poll(ctx, plan.PlanID, func(p *QueryPlan) {
			o.setPlan(ctx, gen, p)
		})
		if pollErr != nil {
			// Polling failure alone never surfaces a conversation error;
			// the loading indicator is simply cleared.
			o.clearLoading(gen)
			return pollErr
		}
		plan = final
	}

	return o.finishPlan(ctx, gen, plan)
}

// begin starts a new submission generation and appends the user's message.
// Overlapping submissions are rejected; one conversation drives one query at
// a time.
func (o *Orchestrator) begin(ctx context.Context, query string) (uint64, error) {
	o.mu.Lock()
	if o.loading {
		o.mu.Unlock()
		return 0, goerr.Wrap(ErrOrchestratorBusy, "a submission is already in flight")
	}
	o.generation++
	gen := o.generation
	o.state = StateIntentClassifying
	o.loading = true
	o.mu.Unlock()

	o.appendMessage(ctx, gen, MessageKindUser, query)
	return gen, nil
}

// prepareSubmission clears the prior execution's local state.
func (o *Orchestrator) prepareSubmission(gen uint64) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.state = StateSubmitting
	o.currentPlan = nil
	o.mu.Unlock()

	o.tracker.Reset()
	o.results.Reset()
}

// setPlan replaces the displayed plan wholesale. The poll loop always wins
// the final displayed plan object; the push channel only ever touches the
// separate step tracker.
func (o *Orchestrator) setPlan(ctx context.Context, gen uint64, plan *QueryPlan) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.currentPlan = plan
	o.mu.Unlock()

	if err := o.planUpdateHook(ctx, Normalize(plan)); err != nil {
		LoggerFromContext(ctx).Warn("plan update hook failed", "error", err)
	}
}

// finishPlan handles a terminal plan, whether it arrived directly from the
// submission or from the poll loop.
func (o *Orchestrator) finishPlan(ctx context.Context, gen uint64, plan *QueryPlan) error {
	o.clearLoading(gen)

	if plan.Status == PlanStatusCompleted {
		summary := SummarizeContext(plan)
		o.mu.Lock()
		if o.generation == gen {
			// The fresh context supersedes the previous one; contexts from
			// two different plans are never merged.
			o.lastContext = summary
		}
		o.mu.Unlock()

		before := len(o.results.Entries())
		o.results.AccumulateFromPlan(plan)
		for _, entry := range o.results.Entries()[before:] {
			if err := o.partialResultHook(ctx, entry); err != nil {
				LoggerFromContext(ctx).Warn("partial result hook failed", "error", err)
			}
		}
	}

	// Let the finished step timeline render before the closing message.
	select {
	case <-time.After(o.closingDelay):
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "canceled before closing message")
	}

	text := successClosingText
	if plan.Status == PlanStatusFailed {
		text = failureClosingText
	}
	o.settle(ctx, gen, MessageKindSystem, text)

	LoggerFromContext(ctx).Info("submission finished",
		"plan_id", plan.PlanID,
		"status", plan.Status)
	return nil
}

// settle clears loading, returns to idle, and appends the final message of
// the submission. Loading is cleared before the message is appended.
func (o *Orchestrator) settle(ctx context.Context, gen uint64, kind MessageKind, text string) {
	o.clearLoading(gen)
	o.appendMessage(ctx, gen, kind, text)
	o.setState(gen, StateIdle)
}

func (o *Orchestrator) clearLoading(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return
	}
	o.loading = false
}

func (o *Orchestrator) setState(gen uint64, state OrchestratorState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return
	}
	o.state = state
}

func (o *Orchestrator) appendMessage(ctx context.Context, gen uint64, kind MessageKind, text string) {
	msg := newMessage(kind, text)

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.messages = append(o.messages, msg)
	o.mu.Unlock()

	if err := o.messageHook(ctx, msg); err != nil {
		LoggerFromContext(ctx).Warn("message hook failed", "error", err)
	}
}

// Messages returns a snapshot of the conversation.
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// CurrentPlan returns the displayed plan, normalized, or nil.
func (o *Orchestrator) CurrentPlan() *NormalizedPlan {
	o.mu.Lock()
	plan := o.currentPlan
	o.mu.Unlock()
	if plan == nil {
		return nil
	}
	return Normalize(plan)
}

// Context returns the carried conversation context. It is never nil; with
// no completed plan yet, it is empty.
func (o *Orchestrator) Context() *ConversationContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastContext == nil {
		return &ConversationContext{}
	}
	return o.lastContext
}

// ClearConversation drops messages, plan, context, and local trackers, as
// when the user switches conversations. In-flight network calls are not
// aborted; the generation bump makes their late responses no-ops.
func (o *Orchestrator) ClearConversation() {
	o.mu.Lock()
	o.generation++
	o.messages = nil
	o.currentPlan = nil
	o.lastContext = nil
	o.state = StateIdle
	o.loading = false
	o.mu.Unlock()

	o.tracker.Reset()
	o.results.Reset()
}

// Loading reports whether a submission is in flight.
func (o *Orchestrator) Loading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

// State returns the current state-machine phase.
func (o *Orchestrator) State() OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsPollExhausted reports whether err came from the poll loop giving up
// after its attempt ceiling.
func IsPollExhausted(err error) bool {
	return errors.Is(err, ErrPollExhausted)
}
