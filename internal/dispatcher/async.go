package dispatcher

import (
	"context"
	"sync"

	"github.com/mithzak/are-you-dead/internal/metrics"
	"github.com/mithzak/are-you-dead/internal/models"

	"go.uber.org/zap"
)

const DefaultConcurrency = 8

// AsyncDispatcher runs each submitted event on its own goroutine. Submit
// never waits; concurrency bounds how many deliveries run at once, the
// rest queue on the semaphore inside their goroutines.
type AsyncDispatcher struct {
	next     Dispatcher
	recorder OutcomeRecorder
	sem      chan struct{}
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncDispatcher recorder may be nil
func NewAsyncDispatcher(next Dispatcher, recorder OutcomeRecorder, concurrency int, m *metrics.Metrics, logger *zap.Logger) *AsyncDispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &AsyncDispatcher{
		next:     next,
		recorder: recorder,
		sem:      make(chan struct{}, concurrency),
		metrics:  m,
		logger:   logger,
	}
}

// Submit hands the event off and returns immediately
func (a *AsyncDispatcher) Submit(event models.EscalationEvent) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.Error("Dispatcher closed, escalation event dropped",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
		)
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	a.metrics.DispatchStarted()
	go a.run(event)
}

func (a *AsyncDispatcher) run(event models.EscalationEvent) {
	defer a.wg.Done()
	defer a.metrics.DispatchFinished()

	a.sem <- struct{}{}
	defer func() { <-a.sem }()

	// deliveries are never cancelled; senders own their timeouts
	ctx := context.Background()

	outcome, err := a.next.Send(ctx, event)
	if err != nil {
		a.logger.Error("Failed to dispatch escalation event",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
		if len(outcome.Delivered) == 0 && len(outcome.Failed) == 0 {
			outcome = models.FailAll(event.Contacts, err.Error())
		}
	}

	for _, c := range outcome.Delivered {
		a.metrics.DispatchResult(string(c.Channel), "delivered")
	}
	for _, f := range outcome.Failed {
		a.metrics.DispatchResult(string(f.Contact.Channel), "failed")
		a.logger.Warn("Contact not reached",
			zap.String("event_id", event.EventID),
			zap.String("channel", string(f.Contact.Channel)),
			zap.String("address", f.Contact.Address),
			zap.String("reason", f.Reason),
		)
	}
	a.logger.Info("Escalation event dispatched",
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
		zap.Int("delivered", len(outcome.Delivered)),
		zap.Int("failed", len(outcome.Failed)),
	)

	if a.recorder != nil {
		if err := a.recorder.RecordOutcome(ctx, event, outcome); err != nil {
			a.logger.Error("Failed to record dispatch outcome",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting events and waits for in-flight deliveries or ctx
func (a *AsyncDispatcher) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
