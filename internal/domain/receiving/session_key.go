package receiving

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/erp/receiving/internal/domain/shared"
)

// DateLayout is the canonical calendar-day format of a session date
const DateLayout = "2006-01-02"

// SessionKey identifies a receiving session by location and calendar day
type SessionKey struct {
	Location string
	Date     time.Time
}

// NewSessionKey creates a session key, truncating date to the UTC calendar day
func NewSessionKey(location string, date time.Time) (SessionKey, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return SessionKey{}, shared.NewDomainError("INVALID_LOCATION", "Location cannot be empty")
	}
	if len(location) > 64 {
		return SessionKey{}, shared.NewDomainError("INVALID_LOCATION", "Location cannot exceed 64 characters")
	}
	if strings.Contains(location, "/") {
		return SessionKey{}, shared.NewDomainError("INVALID_LOCATION", "Location cannot contain '/'")
	}
	if date.IsZero() {
		return SessionKey{}, shared.NewDomainError("INVALID_DATE", "Session date is required")
	}
	y, m, d := date.UTC().Date()
	return SessionKey{
		Location: location,
		Date:     time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
	}, nil
}

// ParseSessionKey parses a location and a YYYY-MM-DD date into a session key
func ParseSessionKey(location, date string) (SessionKey, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return SessionKey{}, shared.NewDomainError("INVALID_DATE", fmt.Sprintf("Session date must be formatted as %s", DateLayout))
	}
	return NewSessionKey(location, t)
}

// MustSessionKey is like ParseSessionKey but panics on error. Intended for tests and fixtures.
func MustSessionKey(location, date string) SessionKey {
	k, err := ParseSessionKey(location, date)
	if err != nil {
		panic(err)
	}
	return k
}

// DateString returns the session date as YYYY-MM-DD
func (k SessionKey) DateString() string {
	return k.Date.Format(DateLayout)
}

// String returns the canonical "<location>/<date>" form
func (k SessionKey) String() string {
	return k.Location + "/" + k.DateString()
}

// IsZero reports whether the key is unset
func (k SessionKey) IsZero() bool {
	return k.Location == "" && k.Date.IsZero()
}

type sessionKeyJSON struct {
	Location string `json:"location"`
	Date     string `json:"date"`
}

// MarshalJSON encodes the key as {"location": ..., "date": "YYYY-MM-DD"}
func (k SessionKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionKeyJSON{Location: k.Location, Date: k.DateString()})
}

// UnmarshalJSON decodes the key from its JSON object form
func (k *SessionKey) UnmarshalJSON(data []byte) error {
	var raw sessionKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSessionKey(raw.Location, raw.Date)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
