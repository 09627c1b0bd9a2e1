package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/mithzak/are-you-dead/internal/models"

	"go.uber.org/zap"
)

const DefaultHistoryPerUser = 100

// CheckInLogRepository history of accepted check-ins
type CheckInLogRepository interface {
	Append(ctx context.Context, entry models.CheckInLog) error
	// List newest first, at most limit entries
	List(ctx context.Context, userID string, limit int) ([]models.CheckInLog, error)
	DeleteUser(ctx context.Context, userID string) error
}

// MemoryCheckInLog keeps the latest perUser entries of every user
type MemoryCheckInLog struct {
	mu      sync.RWMutex
	perUser int
	entries map[string][]models.CheckInLog
}

func NewMemoryCheckInLog(perUser int) *MemoryCheckInLog {
	if perUser <= 0 {
		perUser = DefaultHistoryPerUser
	}
	return &MemoryCheckInLog{
		perUser: perUser,
		entries: make(map[string][]models.CheckInLog),
	}
}

func (l *MemoryCheckInLog) Append(_ context.Context, entry models.CheckInLog) error {
	if entry.Location != nil {
		loc := *entry.Location
		entry.Location = &loc
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	list := append(l.entries[entry.UserID], entry)
	if len(list) > l.perUser {
		list = append([]models.CheckInLog(nil), list[len(list)-l.perUser:]...)
	}
	l.entries[entry.UserID] = list
	return nil
}

func (l *MemoryCheckInLog) List(_ context.Context, userID string, limit int) ([]models.CheckInLog, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := l.entries[userID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]models.CheckInLog, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (l *MemoryCheckInLog) DeleteUser(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, userID)
	return nil
}

// CheckInsSchema check_ins table
const CheckInsSchema = `
CREATE TABLE IF NOT EXISTS check_ins (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	observed_at   TIMESTAMPTZ NOT NULL,
	battery_level INTEGER NOT NULL,
	lat           DOUBLE PRECISION,
	lng           DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_check_ins_user ON check_ins (user_id, observed_at DESC);
`

// PostgresCheckInLog check_ins table; rows cascade with the users row
type PostgresCheckInLog struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresCheckInLog(db *sql.DB, logger *zap.Logger) *PostgresCheckInLog {
	return &PostgresCheckInLog{
		db:     db,
		logger: logger,
	}
}

func (l *PostgresCheckInLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, CheckInsSchema); err != nil {
		return fmt.Errorf("failed to create check_ins table: %w", err)
	}
	return nil
}

func (l *PostgresCheckInLog) Append(ctx context.Context, entry models.CheckInLog) error {
	var lat, lng sql.NullFloat64
	if entry.Location != nil {
		lat = sql.NullFloat64{Float64: entry.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: entry.Location.Lng, Valid: true}
	}

	query := `
		INSERT INTO check_ins (user_id, observed_at, battery_level, lat, lng)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := l.db.ExecContext(ctx, query, entry.UserID, entry.ObservedAt, entry.BatteryLevel, lat, lng); err != nil {
		return fmt.Errorf("failed to append check-in: %w", err)
	}
	return nil
}

func (l *PostgresCheckInLog) List(ctx context.Context, userID string, limit int) ([]models.CheckInLog, error) {
	if limit <= 0 {
		limit = DefaultHistoryPerUser
	}
	query := `
		SELECT user_id, observed_at, battery_level, lat, lng
		FROM check_ins
		WHERE user_id = $1
		ORDER BY observed_at DESC, id DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var out []models.CheckInLog
	for rows.Next() {
		var entry models.CheckInLog
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&entry.UserID, &entry.ObservedAt, &entry.BatteryLevel, &lat, &lng); err != nil {
			return nil, fmt.Errorf("failed to scan check-in: %w", err)
		}
		if lat.Valid && lng.Valid {
			entry.Location = &models.Location{Lat: lat.Float64, Lng: lng.Float64}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate check-ins: %w", err)
	}
	return out, nil
}

// DeleteUser explicit erasure; also covered by the users foreign key cascade
func (l *PostgresCheckInLog) DeleteUser(ctx context.Context, userID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM check_ins WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete check-ins: %w", err)
	}
	return nil
}
