// Package watchdog periodically scans the liveness store and escalates users
// whose last check-in is older than the inactivity limit.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mithzak/are-you-dead/internal/clock"
	"github.com/mithzak/are-you-dead/internal/metrics"
	"github.com/mithzak/are-you-dead/internal/models"
	"github.com/mithzak/are-you-dead/internal/store"

	"go.uber.org/zap"
)

const (
	DefaultScanInterval    = 60 * time.Second
	DefaultInactivityLimit = 48 * time.Hour
)

// Submitter hands an event to delivery. Must not block on delivery I/O.
type Submitter interface {
	Submit(event models.EscalationEvent)
}

// Config scan cadence and threshold
type Config struct {
	ScanInterval    time.Duration
	InactivityLimit time.Duration
}

// Watchdog escalation scanner
type Watchdog struct {
	store     store.LivenessStore
	submitter Submitter
	clock     clock.Clock
	config    Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewWatchdog zero config values fall back to the defaults
func NewWatchdog(
	s store.LivenessStore,
	submitter Submitter,
	clk clock.Clock,
	cfg Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Watchdog {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.InactivityLimit <= 0 {
		cfg.InactivityLimit = DefaultInactivityLimit
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Watchdog{
		store:     s,
		submitter: submitter,
		clock:     clk,
		config:    cfg,
		metrics:   m,
		logger:    logger,
	}
}

// Start scans once immediately, then on every tick until ctx is cancelled
func (w *Watchdog) Start(ctx context.Context) error {
	w.logger.Info("Watchdog started",
		zap.Duration("scan_interval", w.config.ScanInterval),
		zap.Duration("inactivity_limit", w.config.InactivityLimit),
	)

	ticker := w.clock.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	if _, err := w.Scan(ctx); err != nil {
		w.logger.Error("Failed to scan on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watchdog stopped")
			return nil
		case <-ticker.C:
			if _, err := w.Scan(ctx); err != nil {
				// retried next tick
				w.logger.Error("Failed to scan", zap.Error(err))
			}
		}
	}
}

// Scan runs one cycle and returns how many users it escalated. An error
// means the cycle was abandoned before examining any record.
func (w *Watchdog) Scan(ctx context.Context) (int, error) {
	started := w.clock.Now()

	records, err := w.store.ListAll(ctx)
	if err != nil {
		w.metrics.ScanFailed()
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	escalated := 0
	for i := range records {
		if ctx.Err() != nil {
			return escalated, nil
		}
		if w.evaluate(ctx, &records[i]) {
			escalated++
		}
	}

	w.metrics.ScanCompleted(len(records), w.clock.Now().Sub(started))
	w.logger.Debug("Scan completed",
		zap.Int("user_count", len(records)),
		zap.Int("escalated", escalated),
	)
	return escalated, nil
}

func (w *Watchdog) evaluate(ctx context.Context, rec *models.UserRecord) bool {
	if rec.IsEscalated {
		return false
	}
	now := w.clock.Now()
	if !rec.Overdue(now, w.config.InactivityLimit) {
		return false
	}

	committed, err := w.store.MarkEscalated(ctx, rec.ID, rec.LastCheckIn)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyEscalated):
			w.metrics.EscalationSkipped("already_escalated")
		case errors.Is(err, store.ErrSuperseded):
			w.metrics.EscalationSkipped("superseded")
			w.logger.Debug("Escalation superseded by check-in", zap.String("user_id", rec.ID))
		case errors.Is(err, store.ErrNotFound):
			w.metrics.EscalationSkipped("not_found")
		default:
			w.metrics.EscalationSkipped("error")
			w.logger.Error("Failed to mark user escalated",
				zap.String("user_id", rec.ID),
				zap.Error(err),
			)
		}
		return false
	}

	event := BuildEscalationEvent(committed, now)
	w.metrics.Escalated()
	w.logger.Warn("User escalated for inactivity",
		zap.String("user_id", committed.ID),
		zap.String("event_id", event.EventID),
		zap.Time("last_check_in", committed.LastCheckIn),
		zap.Duration("inactive_for", now.Sub(committed.LastCheckIn)),
		zap.Int("contact_count", len(event.Contacts)),
	)
	w.submitter.Submit(event)
	return true
}
