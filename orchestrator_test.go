package planwatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/tracefront/planwatch"
)

type mockAPI struct {
	detect func(ctx context.Context, query string, convCtx *planwatch.ConversationContext) (*planwatch.IntentResult, error)
	submit func(ctx context.Context, query, userID, sessionID string) (*planwatch.QueryPlan, error)
	status func(ctx context.Context, planID string) (*planwatch.QueryPlan, error)

	submitCalls int
	statusCalls int
}

func (m *mockAPI) DetectIntent(ctx context.Context, query string, convCtx *planwatch.ConversationContext) (*planwatch.IntentResult, error) {
	if m.detect == nil {
		return &planwatch.IntentResult{NeedsPlanning: true}, nil
	}
	return m.detect(ctx, query, convCtx)
}

func (m *mockAPI) SubmitQuery(ctx context.Context, query, userID, sessionID string) (*planwatch.QueryPlan, error) {
	m.submitCalls++
	if m.submit == nil {
		return nil, errors.New("no submit handler")
	}
	return m.submit(ctx, query, userID, sessionID)
}

func (m *mockAPI) PlanStatus(ctx context.Context, planID string) (*planwatch.QueryPlan, error) {
	m.statusCalls++
	if m.status == nil {
		return nil, errors.New("no status handler")
	}
	return m.status(ctx, planID)
}

func newTestOrchestrator(api *mockAPI, extra ...planwatch.OrchestratorOption) (*planwatch.Orchestrator, *planwatch.ResultLog) {
	tracker := planwatch.NewStepTracker(planwatch.WithRetireDelay(time.Hour))
	results := planwatch.NewResultLog()
	opts := append([]planwatch.OrchestratorOption{
		planwatch.WithClosingDelay(time.Millisecond),
		planwatch.WithPoller(planwatch.NewPoller(api,
			planwatch.WithPollInterval(time.Millisecond),
			planwatch.WithPollRetryInterval(time.Millisecond),
			planwatch.WithPollAttemptLimit(3))),
	}, extra...)
	return planwatch.NewOrchestrator(api, tracker, results, opts...), results
}

func completedPlan() *planwatch.QueryPlan {
	return &planwatch.QueryPlan{
		PlanID:         "plan-1",
		Status:         planwatch.PlanStatusCompleted,
		ReasoningSteps: []string{"looked at sales", "grouped by region"},
		Tasks: []planwatch.BackendTask{
			{TaskType: "execution"},
		},
		Results: map[string]planwatch.ResultPayload{
			"1_execution": {
				"data":    []any{map[string]any{"region": "west", "sales": 10.0}},
				"summary": "West region leads.",
			},
		},
	}
}

func messagesOfKind(msgs []planwatch.Message, kind planwatch.MessageKind) []planwatch.Message {
	var out []planwatch.Message
	for _, msg := range msgs {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func TestSubmitConversationalShortCircuit(t *testing.T) {
	api := &mockAPI{
		detect: func(ctx context.Context, query string, convCtx *planwatch.ConversationContext) (*planwatch.IntentResult, error) {
			return &planwatch.IntentResult{NeedsPlanning: false, Response: "Hi!"}, nil
		},
	}
	o, _ := newTestOrchestrator(api)

	gt.NoError(t, o.Submit(context.Background(), "Show Q4 sales"))

	system := messagesOfKind(o.Messages(), planwatch.MessageKindSystem)
	gt.Array(t, system).Length(1)
	gt.Equal(t, system[0].Text, "Hi!")

	// No plan was created and loading ended immediately.
	gt.Nil(t, o.CurrentPlan())
	gt.False(t, o.Loading())
	gt.Equal(t, o.State(), planwatch.StateIdle)
	gt.Equal(t, api.submitCalls, 0)
}

func TestSubmitConversationalDefaultGreeting(t *testing.T) {
	api := &mockAPI{
		detect: func(ctx context.Context, query string, convCtx *planwatch.ConversationContext) (*planwatch.IntentResult, error) {
			return &planwatch.IntentResult{NeedsPlanning: false}, nil
		},
	}
	o, _ := newTestOrchestrator(api)

	gt.NoError(t, o.Submit(context.Background(), "hello"))

	system := messagesOfKind(o.Messages(), planwatch.MessageKindSystem)
	gt.Array(t, system).Length(1)
	gt.Equal(t, system[0].Text, planwatch.DefaultGreeting)
}

func TestSubmitClassifierFailureFailsOpen(t *testing.T) {
	api := &mockAPI{
		detect: func(ctx context.Context, query string, convCtx *planwatch.ConversationContext) (*planwatch.IntentResult, error) {
			return nil, errors.New("classifier unreachable")
		},
		submit: func(ctx context.Context, query, userID, sessionID string) (*planwatch.QueryPlan, error) {
			return completedPlan(), nil
		},
	}
	o, _ := newTestOrchestrator(api)

	gt.NoError(t, o.Submit(context.Background(), "show sales"))

	// A broken classifier behaves exactly like needsPlanning=true.
	gt.Equal(t, api.submitCalls, 1)
	gt.NotNil(t, o.CurrentPlan())
}

func TestSubmitDirectCompletion(t *testing.T) {
	api := &mockAPI{
		submit: func(ctx context.Context, query, userID, sessionID string) (*planwatch.QueryPlan, error) {
			return completedPlan(), nil
		},
	}
	o, results := newTestOrchestrator(api)

	gt.NoError(t, o.Submit(context.Background(), "show sales"))

	// The plan was already terminal: no polling happened.
	gt.Equal(t, api.statusCalls, 0)

	system := messagesOfKind(o.Messages(), planwatch.MessageKindSystem)
	gt.Array(t, system).Length(1)

	// Context rebuilt from the completed plan.
	convCtx := o.Context()
	gt.True(t, convCtx.HasTable)
	gt.Equal(t, convCtx.RowCount, 1)
	gt.Equal(t, convCtx.KeyInsights, []string{"looked at sales", "grouped by region"})
	gt.Equal(t, convCtx.LastAnalysis, "West region leads.")

	// Partial results accumulated once.
	gt.Array(t, results.Entries()).Length(1)
	gt.Equal(t, results.Entries()[0].Kind, planwatch.ResultKindQuery)

	gt.False(t, o.Loading())
}

func TestSubmitPollsUntilTerminal(t *testing.T) {
	running := &planwatch.QueryPlan{PlanID: "plan-1", Status: planwatch.PlanStatusRunning}
	api := &mockAPI{
		submit: func(ctx context.Context, query, userID, sessionID string) (*planwatch.QueryPlan, error) {
			return running, nil
		},
	}
	api.status = func(ctx context.Context, planID string) (*planwatch.QueryPlan, error) {
		gt.Equal(t, planID, "plan-1")
		if api.statusCalls < 2 {
			return running, nil
		}
		return completedPlan(), nil
	}
	o, _ := newTestOrchestrator(api)

	gt.NoError(t, o.Submit(context.Background(), "show sales"))

	gt.True(t, api.statusCalls >= 2)
	gt.Equal(t, o.CurrentPlan().Plan.Status, planwatch.PlanStatusCompleted)
	gt.Equal(t, o.State(), planwatch.StateIdle)
}

func TestSubmitFailedPlan(t *testing.T) {
	api := &mockAPI{
		submit: func(ctx context.Context, query, userID, sessionID string) (*planwatch.QueryPlan, error) {
			return &planwatch.QueryPlan{
				PlanID: "plan-1",
				Status: planwatch.PlanStatusFailed,
				Error:  "warehouse suspended",
				Tasks:  []planwatch.BackendTask{{TaskType: "execution"}},
			}, nil
		},
	}
	o, results := newTestOrchestrator(api)

	gt.NoError(t, o.Submit(context.Background(), "show sales"))

	// Exactly one closing message; the failure text, not the success one.
	system := messagesOfKind(o.Messages(), planwatch.MessageKindSystem)
	gt.Array(t, system).Length(1)
	gt.Value(t, system[0].Text).NotEqual("")

	// Failed plans do not rebuild the carried context or accumulate.
	gt.False(t, o.Context().HasTable)
	gt.Array(t, results.Entries()).Length(0)

	// The plan's own error stays on the plan record for the panel.
	gt.Equal(t, o.CurrentPlan().Plan.Error, "warehouse suspended")
}

func TestSubmitSubmissionError(t *testing.T) {
	api := &mockAPI{
		submit: func(ctx context.Context, query, userID, sessionID string) (*planwatch.QueryPlan, error) {
			return nil, errors.New("connection refused")
		},
	}
	o, _ := newTestOrchestrator(api)

	err := o.Submit(context.Background(), "show sales")
	gt.Error(t, err)

	errMsgs := messagesOfKind(o.Messages(), planwatch.MessageKindError)
	gt.Array(t, errMsgs).Length(1)
	gt.S(t, errMsgs[0].Text).Contains("connection refused")
	gt.False(t, o.Loading())
	gt.Equal(t, o.State(), planwatch.StateIdle)
}

func TestSubmitPollExhaustionStaysQuiet(t *testing.T) {
	api := &mockAPI{
		submit: func(ctx context.Context, query, userID, sessionID string) (*planwatch.QueryPlan, error) {
			return &planwatch.QueryPlan{PlanID: "plan-1", Status: planwatch.PlanStatusRunning}, nil
		},
		status: func(ctx context.Context, planID string) (*planwatch.QueryPlan, error) {
			return nil, errors.New("backend unreachable")
		},
	}
	o, _ := newTestOrchestrator(api)

	err := o.Submit(context.Background(), "show sales")
	gt.Error(t, err)
	gt.True(t, planwatch.IsPollExhausted(err))

	// Polling failure alone never surfaces a conversation message.
	gt.Array(t, messagesOfKind(o.Messages(), planwatch.MessageKindError)).Length(0)
	gt.Array(t, messagesOfKind(o.Messages(), planwatch.MessageKindSystem)).Length(0)
	gt.False(t, o.Loading())
}

func TestSubmitWhileBusy(t *testing.T) {
	release := make(chan struct{})
	api := &mockAPI{
		detect: func(ctx context.Context, query string, convCtx *planwatch.ConversationContext) (*planwatch.IntentResult, error) {
			<-release
			return &planwatch.IntentResult{NeedsPlanning: false, Response: "done"}, nil
		},
	}
	o, _ := newTestOrchestrator(api)

	first := make(chan error, 1)
	go func() {
		first <- o.Submit(context.Background(), "show sales")
	}()
	waitFor(t, time.Second, o.Loading)

	err := o.Submit(context.Background(), "another one")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, planwatch.ErrOrchestratorBusy))

	close(release)
	gt.NoError(t, <-first)
}

func TestSubmitEmptyQuery(t *testing.T) {
	o, _ := newTestOrchestrator(&mockAPI{})
	err := o.Submit(context.Background(), "   ")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, planwatch.ErrEmptyQuery))
}

func TestClearConversation(t *testing.T) {
	api := &mockAPI{
		submit: func(ctx context.Context, query, userID, sessionID string) (*planwatch.QueryPlan, error) {
			return completedPlan(), nil
		},
	}
	o, _ := newTestOrchestrator(api)

	gt.NoError(t, o.Submit(context.Background(), "show sales"))
	gt.True(t, len(o.Messages()) > 0)

	o.ClearConversation()

	gt.Array(t, o.Messages()).Length(0)
	gt.Nil(t, o.CurrentPlan())
	gt.False(t, o.Context().HasTable)
}
