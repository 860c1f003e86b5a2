package planwatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultReconnectDelay is the fixed wait between reconnect attempts. The
// listener reconnects unconditionally and indefinitely; there is no backoff
// and no attempt cap.
const DefaultReconnectDelay = 3 * time.Second

// DefaultTotalEstimate is the total-time estimate assumed when an execution
// starts and the backend has not supplied one.
const DefaultTotalEstimate = 30 * time.Second

// progressEnvelope is the wire shape of every inbound push message.
type progressEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// progressEvent carries the payload of an execution_progress envelope.
type progressEvent struct {
	Stage       string     `json:"stage"`
	Tasks       []pushTask `json:"tasks,omitempty"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Progress    float64    `json:"progress,omitempty"`
}

// pushTask is a task announced by an execution_started event. Unlike plan
// tasks, push tasks carry their own ids.
type pushTask struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// IndexingStatus is the latest snapshot of the backend's background schema
// indexing. It is informational only and never feeds the step tracker.
type IndexingStatus struct {
	Stage         string    `json:"stage"`
	Percent       float64   `json:"percent"`
	TablesIndexed int       `json:"tables_indexed"`
	TablesTotal   int       `json:"tables_total"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	envelopeExecutionProgress = "execution_progress"
	envelopeIndexingProgress  = "indexing_progress"

	stageExecutionStarted = "execution_started"
	stageTaskStarted      = "task_started"
	stageTaskCompleted    = "task_completed"
	stageTaskError        = "task_error"
)

// Listener owns the single duplex connection to the backend's progress
// endpoint and feeds the step tracker from inbound events. Its lifecycle is
// explicit: Start opens it, Close ends it and stops all reconnects.
type Listener struct {
	url     string
	tracker *StepTracker
	dialer  *websocket.Dialer

	reconnectDelay time.Duration
	totalEstimate  time.Duration
	now            func() time.Time

	mu            sync.Mutex
	conn          *websocket.Conn
	indexing      IndexingStatus
	executionFrom time.Time
	estimate      time.Duration
	closed        bool
	done          chan struct{}
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithReconnectDelay overrides the fixed reconnect wait.
func WithReconnectDelay(d time.Duration) ListenerOption {
	return func(l *Listener) {
		l.reconnectDelay = d
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) ListenerOption {
	return func(l *Listener) {
		l.dialer = d
	}
}

// NewListener creates a listener for the given ws:// or wss:// endpoint
// that drives the given tracker.
func NewListener(url string, tracker *StepTracker, options ...ListenerOption) *Listener {
	l := &Listener{
		url:            url,
		tracker:        tracker,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: DefaultReconnectDelay,
		totalEstimate:  DefaultTotalEstimate,
		now:            time.Now,
		done:           make(chan struct{}),
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Start connects and begins consuming events in a background goroutine.
// Connection loss schedules a reconnect after the fixed delay, forever,
// until Close is called or the context ends.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return goerr.Wrap(ErrListenerClosed, "cannot start a closed listener")
	}
	l.mu.Unlock()

	go l.run(ctx)
	return nil
}

// Close shuts the connection and stops all further reconnect attempts.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conn := l.conn
	l.conn = nil
	close(l.done)
	l.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Indexing returns the latest indexing snapshot.
func (l *Listener) Indexing() IndexingStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.indexing
}

// ExecutionStartedAt returns the wall-clock start of the current execution
// and the total-time estimate recorded for it.
func (l *Listener) ExecutionStartedAt() (time.Time, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executionFrom, l.estimate
}

func (l *Listener) run(ctx context.Context) {
	logger := LoggerFromContext(ctx)

	for {
		if l.isClosed() {
			return
		}

		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			logger.Warn("progress channel dial failed", "url", l.url, "error", err)
		} else {
			l.mu.Lock()
			if l.closed {
				l.mu.Unlock()
				_ = conn.Close()
				return
			}
			l.conn = conn
			l.mu.Unlock()

			logger.Info("progress channel connected", "url", l.url)
			l.readLoop(ctx, conn)
		}

		if l.isClosed() || ctx.Err() != nil {
			return
		}

		// Fixed-delay reconnect, no backoff: the channel must always
		// eventually come back while the view is alive.
		select {
		case <-time.After(l.reconnectDelay):
		case <-l.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) {
	logger := LoggerFromContext(ctx)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("progress channel read failed", "error", err)
			}
			_ = conn.Close()
			return
		}
		l.handleMessage(ctx, message)
	}
}

// handleMessage parses one inbound frame. Malformed payloads are logged and
// dropped without closing the connection.
func (l *Listener) handleMessage(ctx context.Context, message []byte) {
	logger := LoggerFromContext(ctx)

	var envelope progressEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		logger.Warn("malformed progress message", "error", err)
		return
	}

	if envelope.Type == envelopeIndexingProgress {
		l.handleIndexing(ctx, envelope.Data)
		return
	}

	// execution_progress, plus legacy frames without a recognized type,
	// are dispatched on their stage.
	var event progressEvent
	data := envelope.Data
	if data == nil {
		data = message
	}
	if err := json.Unmarshal(data, &event); err != nil {
		logger.Warn("malformed progress event", "type", envelope.Type, "error", err)
		return
	}

	switch event.Stage {
	case stageExecutionStarted:
		tasks := make([]TrackedTask, 0, len(event.Tasks))
		for _, task := range event.Tasks {
			tasks = append(tasks, TrackedTask{
				ID:   task.ID,
				Name: humanizeTaskType(task.Type),
			})
		}
		l.tracker.Initialize(tasks)
		l.mu.Lock()
		l.executionFrom = l.now()
		l.estimate = l.totalEstimate
		l.mu.Unlock()
		logger.Info("execution started", "tasks", len(tasks))

	case stageTaskStarted:
		l.tracker.Update(event.CurrentStep, StepStatusRunning, event.Progress)

	case stageTaskCompleted:
		l.tracker.Update(event.CurrentStep, StepStatusCompleted, 100)

	case stageTaskError:
		l.tracker.Update(event.CurrentStep, StepStatusError, event.Progress)

	default:
		logger.Debug("ignoring progress stage", "stage", event.Stage)
	}
}

func (l *Listener) handleIndexing(ctx context.Context, data []byte) {
	var status IndexingStatus
	if err := json.Unmarshal(data, &status); err != nil {
		LoggerFromContext(ctx).Warn("malformed indexing message", "error", err)
		return
	}
	status.UpdatedAt = l.now()

	l.mu.Lock()
	l.indexing = status
	l.mu.Unlock()
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
