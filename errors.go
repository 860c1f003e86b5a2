package planwatch

import "github.com/m-mizutani/goerr/v2"

var (
	ErrBackendStatus    = goerr.New("unexpected backend response status")
	ErrPollExhausted    = goerr.New("status polling attempts exhausted")
	ErrListenerClosed   = goerr.New("progress listener is closed")
	ErrEmptyQuery       = goerr.New("query text is empty")
	ErrMissingPlanID    = goerr.New("plan response carries no plan id")
	ErrOrchestratorBusy = goerr.New("another submission is in progress")
)
