// Package auth provides operator authentication for the Clockwatch API.
package auth

// Operator is a principal allowed to call operator-only endpoints.
type Operator struct {
	ID   string `json:"operatorId"`
	Name string `json:"name"`
}

// TokenRequest is the request body for exchanging an API key for an access token.
type TokenRequest struct {
	APIKey string `json:"apiKey"`
}

// Validate validates the token request.
func (r *TokenRequest) Validate() []FieldError {
	var errors []FieldError

	if r.APIKey == "" {
		errors = append(errors, FieldError{
			Field:   "apiKey",
			Message: "api key is required",
			Code:    "REQUIRED",
		})
	}

	return errors
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// TokenResponse represents the response after successful authentication.
type TokenResponse struct {
	// AccessToken is the JWT access token for API authentication.
	AccessToken string `json:"accessToken"`

	// TokenType is always "Bearer".
	TokenType string `json:"tokenType"`

	// ExpiresIn is the number of seconds until the access token expires.
	ExpiresIn int64 `json:"expiresIn"`

	// Operator identifies the authenticated operator.
	Operator *Operator `json:"operator"`
}
