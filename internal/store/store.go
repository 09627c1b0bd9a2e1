// Package store holds the per-user liveness records. It is the only owner
// of UserRecord data: callers get copies and mutate through the methods.
//
// Every backend makes check-in and escalation flip atomic per record, and a
// check-in that races an escalation always wins: MarkEscalated succeeds only
// if LastCheckIn still equals the value the scan observed.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mithzak/are-you-dead/internal/models"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrStale            = errors.New("check-in older than last recorded check-in")
	ErrAlreadyEscalated = errors.New("user already escalated")
	ErrSuperseded       = errors.New("escalation superseded by a newer check-in")
	ErrAlreadyExists    = errors.New("user already exists")
)

// LivenessStore per-user liveness state
type LivenessStore interface {
	// Get returns a copy of the record or ErrNotFound.
	Get(ctx context.Context, id string) (*models.UserRecord, error)

	// Create registers a new record. LastCheckIn must be set.
	Create(ctx context.Context, rec *models.UserRecord) error

	// UpsertCheckIn records a heartbeat and clears IsEscalated.
	// Returns ErrStale without mutating anything when the check-in is out of order.
	UpsertCheckIn(ctx context.Context, in models.CheckIn) (*models.UserRecord, error)

	// ListAll returns copies of all records; each copy is internally consistent.
	ListAll(ctx context.Context) ([]models.UserRecord, error)

	// MarkEscalated flips IsEscalated false -> true if LastCheckIn still equals
	// observedLastCheckIn, and returns the record as committed with the flip.
	MarkEscalated(ctx context.Context, id string, observedLastCheckIn time.Time) (*models.UserRecord, error)

	// Delete erases the record entirely.
	Delete(ctx context.Context, id string) error

	Close() error
}

// isStale out-of-order check-in rule shared by all backends: older than the
// stored check-in, or a replay of the same instant while escalated (that
// instant is the evidence the escalation was decided on).
func isStale(rec *models.UserRecord, observedAt time.Time) bool {
	if observedAt.Before(rec.LastCheckIn) {
		return true
	}
	return rec.IsEscalated && !observedAt.After(rec.LastCheckIn)
}

func validateNew(rec *models.UserRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("user id is required")
	}
	if rec.LastCheckIn.IsZero() {
		return errors.New("last_check_in is required")
	}
	return nil
}
