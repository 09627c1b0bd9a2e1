package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRecord_Overdue_StrictlyGreater(t *testing.T) {
	last := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	u := &UserRecord{LastCheckIn: last}
	limit := 48 * time.Hour

	assert.False(t, u.Overdue(last.Add(limit), limit))
	assert.True(t, u.Overdue(last.Add(limit+time.Nanosecond), limit))
	assert.Equal(t, last.Add(limit), u.Deadline(limit))
}

func TestUserRecord_CloneIsDeep(t *testing.T) {
	u := &UserRecord{
		ID:                "usr_1",
		LastLocation:      &Location{Lat: 1, Lng: 2},
		EmergencyContacts: []EmergencyContact{{ID: "c1", Channel: ChannelPhone, Address: "+15551234567"}},
	}

	c := u.Clone()
	c.LastLocation.Lat = 9
	c.EmergencyContacts[0].Address = "changed"

	assert.Equal(t, 1.0, u.LastLocation.Lat)
	assert.Equal(t, "+15551234567", u.EmergencyContacts[0].Address)
}

func TestEscalationEvent_JSON_UnavailableLocation(t *testing.T) {
	e := EscalationEvent{
		EventID:            "evt-1",
		Type:               EventTypeInactivity,
		UserName:           "Jane Doe",
		BatteryAtLastCheck: 5,
		MapsURL:            LocationUnavailable,
		Contacts:           []ContactTarget{{Channel: ChannelPhone, Address: "+15551234567"}},
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "unavailable", raw["last_location"])
	assert.Equal(t, float64(5), raw["battery_at_last_check"])
	assert.Equal(t, "Jane Doe", raw["user_name"])

	var back EscalationEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Nil(t, back.LastLocation)
	assert.Equal(t, "evt-1", back.EventID)
}

func TestEscalationEvent_JSON_WithLocation(t *testing.T) {
	e := EscalationEvent{EventID: "evt-2", LastLocation: &Location{Lat: 37.7749, Lng: -122.4194}}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_location":{"lat":37.7749,"lng":-122.4194}`)

	var back EscalationEvent
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.LastLocation)
	assert.Equal(t, -122.4194, back.LastLocation.Lng)
}

func TestChannelValid(t *testing.T) {
	assert.True(t, ChannelAppUser.Valid())
	assert.False(t, Channel("Fax").Valid())
}
