package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mithzak/are-you-dead/internal/models"

	"go.uber.org/zap"
)

// Schema users table; check_ins rows reference it and are erased with it
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	last_check_in      TIMESTAMPTZ NOT NULL,
	battery_level      INTEGER NOT NULL DEFAULT 0,
	lat                DOUBLE PRECISION,
	lng                DOUBLE PRECISION,
	is_escalated       BOOLEAN NOT NULL DEFAULT FALSE,
	emergency_contacts JSONB NOT NULL DEFAULT '[]',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const userColumns = `id, name, last_check_in, battery_level, lat, lng, is_escalated, emergency_contacts, created_at`

// PostgresStore users table backend. Check-in and escalation flip are single
// conditional UPDATEs, so row locking gives per-record atomicity.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore db is owned by the caller
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the users table if missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	rec, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.UserRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	contacts, err := json.Marshal(contactsOrEmpty(rec.EmergencyContacts))
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}
	lat, lng := nullLocation(rec.LastLocation)
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.LastCheckIn
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.LastCheckIn,
		rec.BatteryLevel,
		lat,
		lng,
		rec.IsEscalated,
		string(contacts),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) UpsertCheckIn(ctx context.Context, in models.CheckIn) (*models.UserRecord, error) {
	lat, lng := nullLocation(in.Location)
	observedAt := in.ObservedAt.Truncate(time.Microsecond)

	query := `
		UPDATE users
		SET last_check_in = $2,
		    battery_level = $3,
		    lat = $4,
		    lng = $5,
		    is_escalated = FALSE
		WHERE id = $1
		  AND (last_check_in < $2 OR (last_check_in = $2 AND NOT is_escalated))
		RETURNING ` + userColumns

	rec, err := scanUser(s.db.QueryRowContext(ctx, query, in.UserID, observedAt, in.BatteryLevel, lat, lng))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to record check-in: %w", err)
	}

	exists, err := s.exists(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrStale
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []models.UserRecord
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkEscalated(ctx context.Context, id string, observedLastCheckIn time.Time) (*models.UserRecord, error) {
	query := `
		UPDATE users
		SET is_escalated = TRUE
		WHERE id = $1
		  AND is_escalated = FALSE
		  AND last_check_in = $2
		RETURNING ` + userColumns

	rec, err := scanUser(s.db.QueryRowContext(ctx, query, id, observedLastCheckIn))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to mark escalated: %w", err)
	}

	var escalated bool
	err = s.db.QueryRowContext(ctx, `SELECT is_escalated FROM users WHERE id = $1`, id).Scan(&escalated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read escalation state: %w", err)
	}
	if escalated {
		return nil, ErrAlreadyEscalated
	}
	return nil, ErrSuperseded
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close the pool is owned by the caller
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.UserRecord, error) {
	var rec models.UserRecord
	var lat, lng sql.NullFloat64
	var contacts []byte

	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.LastCheckIn,
		&rec.BatteryLevel,
		&lat,
		&lng,
		&rec.IsEscalated,
		&contacts,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid {
		rec.LastLocation = &models.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &rec.EmergencyContacts); err != nil {
			return nil, fmt.Errorf("invalid emergency_contacts: %w", err)
		}
	}
	return &rec, nil
}

func nullLocation(loc *models.Location) (sql.NullFloat64, sql.NullFloat64) {
	if loc == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: loc.Lat, Valid: true}, sql.NullFloat64{Float64: loc.Lng, Valid: true}
}
