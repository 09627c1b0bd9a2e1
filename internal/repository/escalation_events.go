package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mithzak/are-you-dead/internal/models"

	"go.uber.org/zap"
)

// EscalationEventsSchema audit trail of emitted events and their outcome
const EscalationEventsSchema = `
CREATE TABLE IF NOT EXISTS escalation_events (
	event_id        TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	last_check_in   TIMESTAMPTZ NOT NULL,
	triggered_at    TIMESTAMPTZ NOT NULL,
	payload         JSONB NOT NULL,
	delivered_count INTEGER NOT NULL DEFAULT 0,
	failed_count    INTEGER NOT NULL DEFAULT 0,
	outcome         JSONB NOT NULL DEFAULT '{}',
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_escalation_events_user ON escalation_events (user_id, triggered_at DESC);
`

// EscalationRecord one row of escalation_events
type EscalationRecord struct {
	Event      models.EscalationEvent `json:"event"`
	Outcome    models.DispatchOutcome `json:"outcome"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// EscalationEventsRepository escalation audit trail
type EscalationEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewEscalationEventsRepository(db *sql.DB, logger *zap.Logger) *EscalationEventsRepository {
	return &EscalationEventsRepository{
		db:     db,
		logger: logger,
	}
}

func (r *EscalationEventsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, EscalationEventsSchema); err != nil {
		return fmt.Errorf("failed to create escalation_events table: %w", err)
	}
	return nil
}

// RecordOutcome upserts the event row; a relayed event overwrites the
// hand-off outcome written earlier for the same event_id
func (r *EscalationEventsRepository) RecordOutcome(ctx context.Context, event models.EscalationEvent, outcome models.DispatchOutcome) error {
	if event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	query := `
		INSERT INTO escalation_events (
			event_id, user_id, event_type, last_check_in, triggered_at,
			payload, delivered_count, failed_count, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO UPDATE SET
			delivered_count = EXCLUDED.delivered_count,
			failed_count = EXCLUDED.failed_count,
			outcome = EXCLUDED.outcome,
			recorded_at = NOW()
	`
	_, err = r.db.ExecContext(ctx, query,
		event.EventID,
		event.UserID,
		event.Type,
		event.LastCheckIn,
		event.TriggeredAt,
		string(payload),
		len(outcome.Delivered),
		len(outcome.Failed),
		string(outcomeJSON),
	)
	if err != nil {
		r.logger.Error("Failed to record escalation event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to record escalation event: %w", err)
	}
	return nil
}

// ListByUser newest first
func (r *EscalationEventsRepository) ListByUser(ctx context.Context, userID string, limit int) ([]EscalationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT payload, outcome, recorded_at
		FROM escalation_events
		WHERE user_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalation events: %w", err)
	}
	defer rows.Close()

	var out []EscalationRecord
	for rows.Next() {
		var payload, outcome []byte
		var rec EscalationRecord
		if err := rows.Scan(&payload, &outcome, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation event: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Event); err != nil {
			return nil, fmt.Errorf("invalid escalation payload: %w", err)
		}
		if err := json.Unmarshal(outcome, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("invalid escalation outcome: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escalation events: %w", err)
	}
	return out, nil
}

// DeleteUser erases every event of userID
func (r *EscalationEventsRepository) DeleteUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM escalation_events WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete escalation events: %w", err)
	}
	return nil
}
