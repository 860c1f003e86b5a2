package planwatch

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultPollInterval is the wait before each successful-path fetch.
	DefaultPollInterval = 1 * time.Second

	// DefaultPollRetryInterval is the longer wait after a failed fetch.
	DefaultPollRetryInterval = 3 * time.Second

	// DefaultPollAttemptLimit is the failure ceiling before the loop gives
	// up. It is deliberately large enough to be unbounded in practice; the
	// backend is allowed arbitrary latency.
	DefaultPollAttemptLimit = 999999
)

// StatusFetcher fetches the current state of a plan by id. *Client
// implements it.
type StatusFetcher interface {
	PlanStatus(ctx context.Context, planID string) (*QueryPlan, error)
}

// Poller drives the fallback pull loop used when a submitted query's
// synchronous response was not yet terminal.
type Poller struct {
	fetcher       StatusFetcher
	interval      time.Duration
	retryInterval time.Duration
	attemptLimit  int
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval overrides the fixed wait between successful fetches.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithPollRetryInterval overrides the wait after a failed fetch.
func WithPollRetryInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.retryInterval = d
	}
}

// WithPollAttemptLimit overrides the failure ceiling.
func WithPollAttemptLimit(n int) PollerOption {
	return func(p *Poller) {
		p.attemptLimit = n
	}
}

// NewPoller creates a poller over the given fetcher.
func NewPoller(fetcher StatusFetcher, options ...PollerOption) *Poller {
	p := &Poller{
		fetcher:       fetcher,
		interval:      DefaultPollInterval,
		retryInterval: DefaultPollRetryInterval,
		attemptLimit:  DefaultPollAttemptLimit,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Poll fetches the plan's status on a fixed interval until it reaches a
// terminal state, then returns the terminal plan. Every successfully
// fetched plan, terminal or not, is handed to onPlan so the caller can
// replace its displayed plan wholesale. Fetch failures never stop the loop
// early; they reschedule after the longer retry interval until the attempt
// ceiling is hit, at which point ErrPollExhausted is returned and the
// caller is expected to clear its loading state without surfacing an error.
func (p *Poller) Poll(ctx context.Context, planID string, onPlan func(*QueryPlan)) (*QueryPlan, error) {
	logger := LoggerFromContext(ctx)
	failures := 0
	wait := p.interval

	for {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, goerr.Wrap(ctx.Err(), "status polling canceled", goerr.V("plan_id", planID))
		}

		plan, err := p.fetcher.PlanStatus(ctx, planID)
		if err != nil {
			failures++
			logger.Warn("plan status fetch failed",
				"plan_id", planID,
				"attempt", failures,
				"error", err)
			if failures >= p.attemptLimit {
				return nil, goerr.Wrap(ErrPollExhausted, "giving up on plan status",
					goerr.V("plan_id", planID), goerr.V("attempts", failures))
			}
			wait = p.retryInterval
			continue
		}

		if onPlan != nil {
			onPlan(plan)
		}
		if plan.Status.Terminal() {
			logger.Info("plan reached terminal status",
				"plan_id", planID,
				"status", plan.Status)
			return plan, nil
		}
		wait = p.interval
	}
}
