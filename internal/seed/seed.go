// Package seed registers users from a YAML file at startup.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mithzak/are-you-dead/internal/checkin"
	"github.com/mithzak/are-you-dead/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Demo selects the embedded demo file instead of a path
const Demo = "demo"

//go:embed demo.yaml
var demoFile []byte

// File seed file layout
type File struct {
	Users []User `yaml:"users"`
}

// User one seeded user. LastCheckIn wins over LastCheckInAgo.
type User struct {
	ID                string                    `yaml:"id"`
	Name              string                    `yaml:"name"`
	BatteryLevel      int                       `yaml:"battery_level"`
	Location          *models.Location          `yaml:"location"`
	LastCheckIn       time.Time                 `yaml:"last_check_in"`
	LastCheckInAgo    time.Duration             `yaml:"last_check_in_ago"`
	EmergencyContacts []models.EmergencyContact `yaml:"emergency_contacts"`
}

// Registrar the part of checkin.Service seeding uses
type Registrar interface {
	Register(ctx context.Context, req checkin.RegisterRequest) (*models.UserRecord, error)
}

// Load reads path, or the embedded demo file when path is Demo
func Load(path string) (*File, error) {
	if path == Demo {
		return Parse(demoFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	for i, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("invalid seed file: user %d has no id", i)
		}
	}
	return &f, nil
}

// Apply registers every user; users that already exist are left untouched.
// Returns how many users were created.
func Apply(ctx context.Context, r Registrar, f *File, now time.Time, logger *zap.Logger) (int, error) {
	created := 0
	for _, u := range f.Users {
		lastCheckIn := u.LastCheckIn
		if lastCheckIn.IsZero() && u.LastCheckInAgo > 0 {
			lastCheckIn = now.Add(-u.LastCheckInAgo)
		}

		_, err := r.Register(ctx, checkin.RegisterRequest{
			ID:                u.ID,
			Name:              u.Name,
			BatteryLevel:      u.BatteryLevel,
			Location:          u.Location,
			EmergencyContacts: u.EmergencyContacts,
			LastCheckIn:       lastCheckIn,
		})
		if errors.Is(err, checkin.ErrAlreadyExists) {
			logger.Debug("Seed user already exists", zap.String("user_id", u.ID))
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to seed user %s: %w", u.ID, err)
		}
		created++
	}
	logger.Info("Seed applied",
		zap.Int("users", len(f.Users)),
		zap.Int("created", created),
	)
	return created, nil
}
