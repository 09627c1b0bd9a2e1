package checkin

import (
	"errors"

	"github.com/mithzak/are-you-dead/internal/store"
)

var (
	ErrNotFound      = store.ErrNotFound
	ErrStale         = store.ErrStale
	ErrAlreadyExists = store.ErrAlreadyExists

	ErrInvalidBattery  = errors.New("battery level must be between 0 and 100")
	ErrInvalidLocation = errors.New("location out of range")
	ErrInvalidUserID   = errors.New("user id is required")
	ErrInvalidContact  = errors.New("invalid emergency contact")
	// ErrEmergencyNumber contacts may not be public emergency services; the
	// engine never dials them automatically
	ErrEmergencyNumber = errors.New("emergency service numbers cannot be registered as contacts")
)
