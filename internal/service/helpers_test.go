package service

import "github.com/mithzak/are-you-dead/internal/models"

func sampleEvent() models.EscalationEvent {
	return models.EscalationEvent{
		EventID:  "evt-1",
		Type:     models.EventTypeInactivity,
		UserID:   "usr_1",
		Contacts: []models.ContactTarget{{Channel: models.ChannelPhone, Address: "+15551234567"}},
	}
}
