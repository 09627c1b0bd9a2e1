package watchdog

import (
	"time"

	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/google/uuid"
)

const mapsURLPrefix = "https://maps.google.com/?q="

// BuildEscalationEvent snapshot of the record as committed by MarkEscalated
func BuildEscalationEvent(rec *models.UserRecord, triggeredAt time.Time) models.EscalationEvent {
	contacts := make([]models.ContactTarget, 0, len(rec.EmergencyContacts))
	for _, c := range rec.EmergencyContacts {
		contacts = append(contacts, models.ContactTarget{
			Channel: c.Channel,
			Address: c.Address,
		})
	}

	event := models.EscalationEvent{
		EventID:            uuid.New().String(),
		Type:               models.EventTypeInactivity,
		UserID:             rec.ID,
		UserName:           rec.Name,
		BatteryAtLastCheck: rec.BatteryLevel,
		MapsURL:            models.LocationUnavailable,
		LastCheckIn:        rec.LastCheckIn,
		TriggeredAt:        triggeredAt,
		Contacts:           contacts,
	}
	if rec.LastLocation != nil {
		loc := *rec.LastLocation
		event.LastLocation = &loc
		event.MapsURL = MapsURL(loc)
	}
	return event
}

// MapsURL link for the contact message
func MapsURL(loc models.Location) string {
	return mapsURLPrefix + loc.String()
}
