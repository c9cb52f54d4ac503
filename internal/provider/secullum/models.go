// Package secullum provides a client for the Secullum Ponto Web external integration API.
package secullum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Ledger is a tenant context ("banco") the authenticated account can select.
type Ledger struct {
	ID       string `json:"id"`
	ClientID string `json:"clienteId"`
	Name     string `json:"nome,omitempty"`
}

// Equipment is a time clock registered with the provider.
type Equipment struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Address     string `json:"address,omitempty"`
}

// EquipmentCatalog is the parsed equipment list. Malformed counts skipped entries.
type EquipmentCatalog struct {
	Items     []Equipment
	Malformed int
}

// Event is a single activity or punch record.
type Event struct {
	EquipmentID *int64    `json:"equipmentId,omitempty"`
	At          time.Time `json:"at"`
}

// EventFeed is a parsed event list. Malformed counts skipped entries.
type EventFeed struct {
	Events    []Event
	Malformed int
}

// Latest returns the most recent event time.
func (f *EventFeed) Latest() (time.Time, bool) {
	var latest time.Time
	found := false
	for _, e := range f.Events {
		if !found || e.At.After(latest) {
			latest = e.At
			found = true
		}
	}
	return latest, found
}

// EventQuery bounds an activity or punch feed request.
type EventQuery struct {
	Start       time.Time
	End         time.Time
	EquipmentID *int64
}

// API response types (from the Secullum API).

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type ledgerData struct {
	ID       flexString `json:"id"`
	ClientID flexString `json:"clienteId"`
	Name     string     `json:"nome"`
}

type equipmentData struct {
	ID          *flexInt `json:"Id"`
	Description string   `json:"Descricao"`
	Address     string   `json:"EnderecoIP"`
}

type eventData struct {
	EquipmentID *flexInt `json:"EquipamentoId"`
	Date        string   `json:"Data"`
	Time        string   `json:"Hora"`
}

// flexString accepts JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(s)), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: id %q", ErrMalformedRecord, string(s))
	}
	*n = flexInt(v)
	return nil
}

// Accepted Data layouts, most specific first.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

var clockLayouts = []string{
	"15:04",
	"15:04:05",
}

// parseEventTime combines the Data and Hora fields in loc.
func parseEventTime(date, clock string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, fmt.Errorf("%w: missing Data", ErrMalformedRecord)
	}

	var day time.Time
	var dateErr error
	for _, layout := range dateLayouts {
		day, dateErr = time.ParseInLocation(layout, date, loc)
		if dateErr == nil {
			break
		}
	}
	if dateErr != nil {
		return time.Time{}, fmt.Errorf("%w: Data %q", ErrMalformedRecord, date)
	}

	if clock == "" {
		// Only a Data that carried its own time of day stands alone
		if day.Hour() == 0 && day.Minute() == 0 && day.Second() == 0 {
			return time.Time{}, fmt.Errorf("%w: missing Hora", ErrMalformedRecord)
		}
		return day, nil
	}

	for _, layout := range clockLayouts {
		tod, err := time.Parse(layout, clock)
		if err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(),
				tod.Hour(), tod.Minute(), tod.Second(), 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: Hora %q", ErrMalformedRecord, clock)
}
