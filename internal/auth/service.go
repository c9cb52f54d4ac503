package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Predefined service errors.
var (
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// OperatorKey binds an API key to an operator.
type OperatorKey struct {
	Operator Operator
	Key      string
}

type operatorKey struct {
	operator Operator
	digest   [sha256.Size]byte
}

// Service provides operator authentication.
type Service struct {
	jwtService *JWTService
	keys       []operatorKey
	now        func() time.Time
}

// ServiceConfig holds configuration for the auth service.
type ServiceConfig struct {
	JWTService *JWTService
	Keys       []OperatorKey

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new auth service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	keys := make([]operatorKey, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		keys = append(keys, operatorKey{operator: k.Operator, digest: sha256.Sum256([]byte(k.Key))})
	}

	return &Service{
		jwtService: cfg.JWTService,
		keys:       keys,
		now:        cfg.Now,
	}
}

// Exchange trades an operator API key for an access token.
func (s *Service) Exchange(_ context.Context, req *TokenRequest) (*TokenResponse, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("validation error: %s", errs[0].Message)
	}

	op, ok := s.lookup(req.APIKey)
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	accessToken, expiresAt, err := s.jwtService.GenerateAccessToken(op)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(expiresAt.Sub(s.now()).Seconds()),
		Operator:    op,
	}, nil
}

// ValidateAccessToken validates an access token and returns the operator ID.
func (s *Service) ValidateAccessToken(tokenString string) (string, error) {
	claims, err := s.jwtService.ValidateAccessToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.OperatorID, nil
}

// lookup compares against every key so timing does not reveal which one matched.
func (s *Service) lookup(key string) (*Operator, bool) {
	digest := sha256.Sum256([]byte(key))
	var found *Operator
	for i := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], s.keys[i].digest[:]) == 1 {
			op := s.keys[i].operator
			found = &op
		}
	}
	return found, found != nil
}

// ParseOperatorKeys parses "id:key" pairs separated by commas.
func ParseOperatorKeys(raw string) ([]OperatorKey, error) {
	var keys []OperatorKey
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, key, ok := strings.Cut(entry, ":")
		id = strings.TrimSpace(id)
		key = strings.TrimSpace(key)
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("malformed operator key entry %q", id)
		}
		keys = append(keys, OperatorKey{Operator: Operator{ID: id, Name: id}, Key: key})
	}
	return keys, nil
}
