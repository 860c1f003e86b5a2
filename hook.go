package planwatch

import "context"

type (
	// MessageHook is called when the orchestrator appends a conversation
	// message.
	MessageHook func(ctx context.Context, msg Message) error

	// PlanUpdateHook is called whenever the displayed plan is replaced by a
	// fresher one, from the initial submission or from a poll response.
	PlanUpdateHook func(ctx context.Context, plan *NormalizedPlan) error

	// PartialResultHook is called for every partial result appended to the
	// result log.
	PartialResultHook func(ctx context.Context, result PartialResult) error
)

func defaultMessageHook(ctx context.Context, msg Message) error {
	return nil
}

func defaultPlanUpdateHook(ctx context.Context, plan *NormalizedPlan) error {
	return nil
}

func defaultPartialResultHook(ctx context.Context, result PartialResult) error {
	return nil
}
