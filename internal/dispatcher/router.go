package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/mithzak/are-you-dead/internal/models"

	"go.uber.org/zap"
)

// Router sends each contact through the sender registered for its channel.
// Contacts are attempted concurrently; one slow gateway does not hold up the rest.
type Router struct {
	senders map[models.Channel]ChannelSender
	logger  *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		senders: make(map[models.Channel]ChannelSender),
		logger:  logger,
	}
}

// Handle registers sender for channel, replacing any previous one
func (r *Router) Handle(channel models.Channel, sender ChannelSender) *Router {
	r.senders[channel] = sender
	return r
}

func (r *Router) Send(ctx context.Context, event models.EscalationEvent) (models.DispatchOutcome, error) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out models.DispatchOutcome
	)

	for _, contact := range event.Contacts {
		sender, ok := r.senders[contact.Channel]
		if !ok {
			mu.Lock()
			out.Failed = append(out.Failed, models.ContactFailure{
				Contact: contact,
				Reason:  fmt.Sprintf("%s: %s", ErrNoSender, contact.Channel),
			})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(contact models.ContactTarget, sender ChannelSender) {
			defer wg.Done()
			err := sender.SendTo(ctx, event, contact)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed = append(out.Failed, models.ContactFailure{Contact: contact, Reason: err.Error()})
				return
			}
			out.Delivered = append(out.Delivered, contact)
		}(contact, sender)
	}
	wg.Wait()

	r.logger.Debug("Routed escalation event",
		zap.String("event_id", event.EventID),
		zap.Int("delivered", len(out.Delivered)),
		zap.Int("failed", len(out.Failed)),
	)
	return out, nil
}
