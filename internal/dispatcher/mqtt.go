package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mithzak/are-you-dead/internal/models"

	"go.uber.org/zap"
)

const DefaultTopicPrefix = "safecheck/alerts"

// Publisher the slice of the MQTT client the sender needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	QoS() byte
}

// MQTTSender pushes the event to an app user's topic
type MQTTSender struct {
	publisher   Publisher
	topicPrefix string
	logger      *zap.Logger
}

func NewMQTTSender(publisher Publisher, topicPrefix string, logger *zap.Logger) *MQTTSender {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &MQTTSender{
		publisher:   publisher,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		logger:      logger,
	}
}

// Topic <prefix>/<address>
func (s *MQTTSender) Topic(address string) string {
	return s.topicPrefix + "/" + address
}

func (s *MQTTSender) SendTo(_ context.Context, event models.EscalationEvent, contact models.ContactTarget) error {
	if contact.Address == "" || strings.ContainsAny(contact.Address, "+#/") {
		return fmt.Errorf("invalid app user address %q", contact.Address)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := s.Topic(contact.Address)
	if err := s.publisher.Publish(topic, s.publisher.QoS(), false, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	s.logger.Debug("Pushed escalation event",
		zap.String("event_id", event.EventID),
		zap.String("topic", topic),
	)
	return nil
}
