package secullum

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLedgerSelected is returned by data calls made before a ledger was selected.
	ErrNoLedgerSelected = errors.New("secullum: no ledger selected")

	// ErrMalformedRecord marks a catalog or event entry that could not be parsed.
	// Such entries are skipped and never fail the enclosing call.
	ErrMalformedRecord = errors.New("secullum: malformed record")
)

// AuthenticationError is returned when the credential exchange fails.
type AuthenticationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("secullum authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("secullum authentication failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ProviderQueryError is returned when a provider endpoint call fails, either in
// transport or with a non-success status.
type ProviderQueryError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderQueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("secullum %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("secullum %s: unexpected status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *ProviderQueryError) Unwrap() error {
	return e.Err
}
