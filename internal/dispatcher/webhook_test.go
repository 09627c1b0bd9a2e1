package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookSender_PostsContactAndEvent(t *testing.T) {
	var got struct {
		Channel string          `json:"channel"`
		Address string          `json:"address"`
		Event   json.RawMessage `json:"event"`
	}
	var gotAuth, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s := NewWebhookSender(WebhookConfig{URL: server.URL, Timeout: time.Second, AuthToken: "secret"}, zap.NewNop())
	event := testEvent("evt-1")
	err := s.SendTo(context.Background(), event, event.Contacts[0])
	require.NoError(t, err)

	assert.Equal(t, "Phone", got.Channel)
	assert.Equal(t, "+15551234567", got.Address)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "evt-1:+15551234567", gotKey)

	var decoded models.EscalationEvent
	require.NoError(t, json.Unmarshal(got.Event, &decoded))
	assert.Equal(t, models.EventTypeInactivity, decoded.Type)
	assert.Equal(t, 5, decoded.BatteryAtLastCheck)
}

func TestWebhookSender_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewWebhookSender(WebhookConfig{URL: server.URL, Timeout: time.Second}, zap.NewNop())
	event := testEvent("evt-1")
	err := s.SendTo(context.Background(), event, event.Contacts[1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSender_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	s := NewWebhookSender(WebhookConfig{URL: url, Timeout: 200 * time.Millisecond}, zap.NewNop())
	event := testEvent("evt-1")
	err := s.SendTo(context.Background(), event, event.Contacts[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to call notification gateway")
}
