package models

// Ledger is a provider tenant context.
type Ledger struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
	Name     string `json:"name,omitempty"`
	Selected bool   `json:"selected"`
}

// LedgerList is the response body for listing ledgers.
type LedgerList struct {
	Items    []Ledger `json:"items"`
	Selected string   `json:"selected,omitempty"`
}

// SelectLedgerResponse acknowledges a ledger selection.
type SelectLedgerResponse struct {
	Selected string `json:"selected"`
}

// Equipment is a raw provider equipment record.
type Equipment struct {
	ID          int64   `json:"id"`
	Description string  `json:"description"`
	Address     string  `json:"address,omitempty"`
	LinkedTo    *string `json:"linkedTo,omitempty"`
}

// EquipmentList is the response body for the provider equipment catalog.
type EquipmentList struct {
	Items     []Equipment `json:"items"`
	Malformed int         `json:"malformed"`
}

// Event is a provider activity or punch record.
type Event struct {
	EquipmentID *int64    `json:"equipmentId,omitempty"`
	At          Timestamp `json:"at"`
}

// EventList is the response body for provider activity and punch feeds.
type EventList struct {
	Items     []Event    `json:"items"`
	Latest    *Timestamp `json:"latest,omitempty"`
	Malformed int        `json:"malformed"`
}

// JobAccepted acknowledges work handed to the background worker.
type JobAccepted struct {
	JobType   string `json:"jobType"`
	MessageID string `json:"messageId,omitempty"`
}
