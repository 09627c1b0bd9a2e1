package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/mithzak/are-you-dead/internal/models"

	"go.uber.org/zap"
)

// LogDispatcher writes the payload to the log and treats every contact as
// delivered. Used for dry runs and when no gateway is configured.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(_ context.Context, event models.EscalationEvent) (models.DispatchOutcome, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return models.DispatchOutcome{}, err
	}
	d.logger.Warn("SAFETY ALERT",
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
		zap.ByteString("payload", payload),
	)
	out := models.DispatchOutcome{}
	out.Delivered = append(out.Delivered, event.Contacts...)
	return out, nil
}
