// Package dispatcher delivers escalation events to emergency contacts.
// Delivery is fire-and-forget from the watchdog's point of view: events are
// submitted to an AsyncDispatcher, which runs a Dispatcher per event on its
// own goroutine and only logs, counts and optionally records the outcome.
package dispatcher

import (
	"context"
	"errors"

	"github.com/mithzak/are-you-dead/internal/models"
)

var ErrNoSender = errors.New("no sender for channel")

// Dispatcher delivers one event to its contacts. A non-nil error means the
// event could not be handed to any transport at all.
type Dispatcher interface {
	Send(ctx context.Context, event models.EscalationEvent) (models.DispatchOutcome, error)
}

// ChannelSender delivers one event to a single contact
type ChannelSender interface {
	SendTo(ctx context.Context, event models.EscalationEvent, contact models.ContactTarget) error
}

// OutcomeRecorder persists an event together with its delivery outcome
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, event models.EscalationEvent, outcome models.DispatchOutcome) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, event models.EscalationEvent) (models.DispatchOutcome, error)

func (f DispatcherFunc) Send(ctx context.Context, event models.EscalationEvent) (models.DispatchOutcome, error) {
	return f(ctx, event)
}
