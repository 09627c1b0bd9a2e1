// Package checkin is the application service behind the check-in API:
// heartbeat intake, user status, registration, history and erasure.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mithzak/are-you-dead/internal/clock"
	"github.com/mithzak/are-you-dead/internal/metrics"
	"github.com/mithzak/are-you-dead/internal/models"
	"github.com/mithzak/are-you-dead/internal/repository"
	"github.com/mithzak/are-you-dead/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request one heartbeat from a device
type Request struct {
	UserID       string
	BatteryLevel int
	Location     *models.Location
	// ObservedAt nil means now
	ObservedAt *time.Time
}

// Response acknowledgement returned to the device
type Response struct {
	Success      bool      `json:"success"`
	NextDeadline time.Time `json:"nextDeadline"`
}

// Status dashboard view of one user
type Status struct {
	User         *models.UserRecord `json:"user"`
	NextDeadline time.Time          `json:"nextDeadline"`
	Remaining    time.Duration      `json:"-"`
	IsEscalated  bool               `json:"isEscalated"`
}

// RegisterRequest new tracked user
type RegisterRequest struct {
	ID                string
	Name              string
	BatteryLevel      int
	Location          *models.Location
	EmergencyContacts []models.EmergencyContact
	// LastCheckIn zero means now
	LastCheckIn time.Time
}

// EscalationLog audit trail of emitted escalations
type EscalationLog interface {
	// ListByUser newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]repository.EscalationRecord, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Service check-in application service
type Service struct {
	store           store.LivenessStore
	history         repository.CheckInLogRepository
	events          EscalationLog
	clock           clock.Clock
	inactivityLimit time.Duration
	metrics         *metrics.Metrics
	logger          *zap.Logger
}

// NewService history and events may be nil
func NewService(
	s store.LivenessStore,
	history repository.CheckInLogRepository,
	events EscalationLog,
	clk clock.Clock,
	inactivityLimit time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		store:           s,
		history:         history,
		events:          events,
		clock:           clk,
		inactivityLimit: inactivityLimit,
		metrics:         m,
		logger:          logger,
	}
}

// CheckIn resets the user's inactivity timer and clears any escalation
func (s *Service) CheckIn(ctx context.Context, req Request) (*Response, error) {
	if err := validateTelemetry(req.UserID, req.BatteryLevel, req.Location); err != nil {
		s.metrics.CheckIn("invalid")
		return nil, err
	}

	now := s.clock.Now()
	observedAt := now
	if req.ObservedAt != nil && !req.ObservedAt.IsZero() && req.ObservedAt.Before(now) {
		observedAt = *req.ObservedAt
	}

	rec, err := s.store.UpsertCheckIn(ctx, models.CheckIn{
		UserID:       req.UserID,
		BatteryLevel: req.BatteryLevel,
		Location:     req.Location,
		ObservedAt:   observedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.metrics.CheckIn("not_found")
		case errors.Is(err, store.ErrStale):
			s.metrics.CheckIn("stale")
			s.logger.Info("Stale check-in rejected",
				zap.String("user_id", req.UserID),
				zap.Time("observed_at", observedAt),
			)
		default:
			s.metrics.CheckIn("error")
			return nil, fmt.Errorf("failed to record check-in: %w", err)
		}
		return nil, err
	}
	s.metrics.CheckIn("accepted")

	if s.history != nil {
		entry := models.CheckInLog{
			UserID:       rec.ID,
			ObservedAt:   rec.LastCheckIn,
			BatteryLevel: rec.BatteryLevel,
			Location:     rec.LastLocation,
		}
		if err := s.history.Append(ctx, entry); err != nil {
			// the heartbeat itself is committed
			s.logger.Warn("Failed to append check-in history",
				zap.String("user_id", rec.ID),
				zap.Error(err),
			)
		}
	}

	s.logger.Debug("Check-in accepted",
		zap.String("user_id", rec.ID),
		zap.Int("battery_level", rec.BatteryLevel),
		zap.Bool("location_shared", rec.LastLocation != nil),
	)
	return &Response{
		Success:      true,
		NextDeadline: rec.Deadline(s.inactivityLimit),
	}, nil
}

// Status current record and deadline
func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	deadline := rec.Deadline(s.inactivityLimit)
	remaining := deadline.Sub(s.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		User:         rec,
		NextDeadline: deadline,
		Remaining:    remaining,
		IsEscalated:  rec.IsEscalated,
	}, nil
}

// Register creates a tracked user; registration counts as the first check-in
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.UserRecord, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = "usr_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	}
	if err := validateTelemetry(id, req.BatteryLevel, req.Location); err != nil {
		return nil, err
	}
	contacts, err := NormalizeContacts(req.EmergencyContacts)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	lastCheckIn := req.LastCheckIn
	if lastCheckIn.IsZero() || lastCheckIn.After(now) {
		lastCheckIn = now
	}

	rec := &models.UserRecord{
		ID:                id,
		Name:              strings.TrimSpace(req.Name),
		LastCheckIn:       lastCheckIn,
		BatteryLevel:      req.BatteryLevel,
		LastLocation:      req.Location,
		EmergencyContacts: contacts,
		CreatedAt:         now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("User registered",
		zap.String("user_id", rec.ID),
		zap.Int("contact_count", len(contacts)),
	)
	return rec, nil
}

// Erase deletes the user with all of their history
func (s *Service) Erase(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.DeleteUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to erase check-in history: %w", err)
		}
	}
	if s.events != nil {
		if err := s.events.DeleteUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to erase escalation events: %w", err)
		}
	}
	s.logger.Info("User erased", zap.String("user_id", userID))
	return nil
}

// History newest first
func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.CheckInLog, error) {
	if _, err := s.store.Get(ctx, userID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []models.CheckInLog{}, nil
	}
	entries, err := s.history.List(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read check-in history: %w", err)
	}
	if entries == nil {
		entries = []models.CheckInLog{}
	}
	return entries, nil
}

// Escalations past escalation events of the user, newest first
func (s *Service) Escalations(ctx context.Context, userID string, limit int) ([]repository.EscalationRecord, error) {
	if _, err := s.store.Get(ctx, userID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []repository.EscalationRecord{}, nil
	}
	records, err := s.events.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read escalation events: %w", err)
	}
	if records == nil {
		records = []repository.EscalationRecord{}
	}
	return records, nil
}

func validateTelemetry(userID string, battery int, loc *models.Location) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}
	if battery < 0 || battery > 100 {
		return ErrInvalidBattery
	}
	if loc != nil {
		if math.IsNaN(loc.Lat) || math.IsNaN(loc.Lng) || !loc.Valid() {
			return ErrInvalidLocation
		}
	}
	return nil
}
