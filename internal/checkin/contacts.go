package checkin

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/google/uuid"
)

var (
	phonePattern   = regexp.MustCompile(`^\+?[0-9]{3,15}$`)
	appUserPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

	emergencyNumbers = map[string]bool{
		"911": true,
		"112": true,
		"999": true,
		"000": true,
		"110": true,
		"119": true,
		"120": true,
	}
)

// normalizePhone strips formatting characters
func normalizePhone(address string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, address)
}

// IsEmergencyNumber reports whether address dials a public emergency service
func IsEmergencyNumber(address string) bool {
	return emergencyNumbers[strings.TrimPrefix(normalizePhone(address), "+")]
}

// NormalizeContacts validates contacts and fills missing IDs
func NormalizeContacts(contacts []models.EmergencyContact) ([]models.EmergencyContact, error) {
	out := make([]models.EmergencyContact, 0, len(contacts))
	for i, c := range contacts {
		c.Address = strings.TrimSpace(c.Address)
		if !c.Channel.Valid() {
			return nil, fmt.Errorf("%w: contact %d has unknown channel %q", ErrInvalidContact, i, c.Channel)
		}

		switch c.Channel {
		case models.ChannelPhone:
			if IsEmergencyNumber(c.Address) {
				return nil, fmt.Errorf("%w: %s", ErrEmergencyNumber, c.Address)
			}
			c.Address = normalizePhone(c.Address)
			if !phonePattern.MatchString(c.Address) {
				return nil, fmt.Errorf("%w: contact %d has invalid phone number", ErrInvalidContact, i)
			}
		case models.ChannelEmail:
			addr, err := mail.ParseAddress(c.Address)
			if err != nil {
				return nil, fmt.Errorf("%w: contact %d has invalid email", ErrInvalidContact, i)
			}
			c.Address = addr.Address
		case models.ChannelAppUser:
			if !appUserPattern.MatchString(c.Address) {
				return nil, fmt.Errorf("%w: contact %d has invalid app user id", ErrInvalidContact, i)
			}
		}

		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		out = append(out, c)
	}
	return out, nil
}
