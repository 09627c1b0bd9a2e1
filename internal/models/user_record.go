package models

import (
	"fmt"
	"time"
)

// Channel delivery channel of an emergency contact
type Channel string

const (
	ChannelPhone   Channel = "Phone"
	ChannelEmail   Channel = "Email"
	ChannelAppUser Channel = "AppUser"
)

// Valid reports whether c is one of the known channels
func (c Channel) Valid() bool {
	switch c {
	case ChannelPhone, ChannelEmail, ChannelAppUser:
		return true
	}
	return false
}

// Location coordinate pair
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid lat in [-90, 90], lng in [-180, 180]
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// String "lat,lng" as used in map links
func (l Location) String() string {
	return fmt.Sprintf("%g,%g", l.Lat, l.Lng)
}

// EmergencyContact one contact of a tracked user
type EmergencyContact struct {
	ID      string  `json:"id" yaml:"id"`
	Name    string  `json:"name,omitempty" yaml:"name"`
	Channel Channel `json:"channel" yaml:"channel"`
	Address string  `json:"address" yaml:"address"` // phone number, email, or app user id
}

// UserRecord liveness state of one tracked user (users table / user hash)
type UserRecord struct {
	ID                string             `json:"id" db:"id"`
	Name              string             `json:"name" db:"name"`
	LastCheckIn       time.Time          `json:"last_check_in" db:"last_check_in"`
	BatteryLevel      int                `json:"battery_level" db:"battery_level"`
	LastLocation      *Location          `json:"last_location,omitempty" db:"-"`
	IsEscalated       bool               `json:"is_escalated" db:"is_escalated"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts" db:"emergency_contacts"` // JSONB
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
}

// Clone deep copy; callers never share mutable state with a store
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	c := *u
	if u.LastLocation != nil {
		loc := *u.LastLocation
		c.LastLocation = &loc
	}
	if u.EmergencyContacts != nil {
		c.EmergencyContacts = make([]EmergencyContact, len(u.EmergencyContacts))
		copy(c.EmergencyContacts, u.EmergencyContacts)
	}
	return &c
}

// Deadline time after which the user is overdue
func (u *UserRecord) Deadline(limit time.Duration) time.Time {
	return u.LastCheckIn.Add(limit)
}

// Overdue strictly past the limit; exactly at the limit is not overdue
func (u *UserRecord) Overdue(now time.Time, limit time.Duration) bool {
	return now.Sub(u.LastCheckIn) > limit
}

// CheckIn one heartbeat as accepted by the store
type CheckIn struct {
	UserID       string
	BatteryLevel int
	Location     *Location
	ObservedAt   time.Time
}

// CheckInLog history entry of an accepted check-in
type CheckInLog struct {
	UserID       string    `json:"user_id" db:"user_id"`
	ObservedAt   time.Time `json:"observed_at" db:"observed_at"`
	BatteryLevel int       `json:"battery_level" db:"battery_level"`
	Location     *Location `json:"location,omitempty" db:"-"`
}
