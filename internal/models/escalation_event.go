package models

import (
	"encoding/json"
	"time"
)

const (
	// EventTypeInactivity the only escalation type the watchdog produces
	EventTypeInactivity = "SAFETY_ALERT_INACTIVITY"

	// LocationUnavailable rendered in place of a missing location
	LocationUnavailable = "unavailable"
)

// ContactTarget delivery target inside an escalation event
type ContactTarget struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
}

// EscalationEvent snapshot handed to the dispatcher once per incident
type EscalationEvent struct {
	EventID            string          `json:"event_id"`
	Type               string          `json:"type"`
	UserID             string          `json:"user_id"`
	UserName           string          `json:"user_name"`
	BatteryAtLastCheck int             `json:"battery_at_last_check"`
	LastLocation       *Location       `json:"-"`
	MapsURL            string          `json:"maps_url"`
	LastCheckIn        time.Time       `json:"last_check_in"`
	TriggeredAt        time.Time       `json:"triggered_at"`
	Contacts           []ContactTarget `json:"contacts"`
}

// MarshalJSON writes last_location as {lat,lng} or "unavailable"
func (e EscalationEvent) MarshalJSON() ([]byte, error) {
	type plain EscalationEvent
	out := struct {
		plain
		LastLocation interface{} `json:"last_location"`
	}{plain: plain(e)}
	if e.LastLocation != nil {
		out.LastLocation = e.LastLocation
	} else {
		out.LastLocation = LocationUnavailable
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both forms written by MarshalJSON
func (e *EscalationEvent) UnmarshalJSON(data []byte) error {
	type plain EscalationEvent
	in := struct {
		*plain
		LastLocation json.RawMessage `json:"last_location"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	e.LastLocation = nil
	if len(in.LastLocation) > 0 && in.LastLocation[0] == '{' {
		var loc Location
		if err := json.Unmarshal(in.LastLocation, &loc); err != nil {
			return err
		}
		e.LastLocation = &loc
	}
	return nil
}

// ContactFailure a contact the dispatcher could not reach
type ContactFailure struct {
	Contact ContactTarget `json:"contact"`
	Reason  string        `json:"reason"`
}

// DispatchOutcome per-contact delivery result of one event
type DispatchOutcome struct {
	Delivered []ContactTarget  `json:"delivered"`
	Failed    []ContactFailure `json:"failed"`
}

// Merge appends other's results
func (o *DispatchOutcome) Merge(other DispatchOutcome) {
	o.Delivered = append(o.Delivered, other.Delivered...)
	o.Failed = append(o.Failed, other.Failed...)
}

// FailAll marks every target failed with reason
func FailAll(targets []ContactTarget, reason string) DispatchOutcome {
	out := DispatchOutcome{}
	for _, t := range targets {
		out.Failed = append(out.Failed, ContactFailure{Contact: t, Reason: reason})
	}
	return out
}
