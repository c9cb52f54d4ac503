package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxSerialLength  = 128
	maxLabelLength   = 256
	maxAddressLength = 253
)

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string
	Message string
	Code    string
}

// ValidationError is returned when operation input fails validation.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ProvisionInput describes a manually provisioned device.
type ProvisionInput struct {
	ClientLabel    string
	Serial         string
	NetworkAddress string
}

// Validate validates the provisioning input.
func (in *ProvisionInput) Validate() []FieldError {
	var errs []FieldError
	errs = validateSerial(errs, "serial", in.Serial)
	errs = validateLabel(errs, "clientLabel", in.ClientLabel)
	if strings.TrimSpace(in.NetworkAddress) == "" {
		errs = append(errs, FieldError{Field: "networkAddress", Message: "networkAddress is required", Code: "required"})
	} else {
		errs = validateAddress(errs, "networkAddress", in.NetworkAddress)
	}
	return errs
}

// IdentityUpdate changes the identity fields of a device. Nil fields are left unchanged.
type IdentityUpdate struct {
	ClientLabel    *string
	NetworkAddress *string
	Serial         *string
}

// Validate validates the identity update.
func (u *IdentityUpdate) Validate() []FieldError {
	var errs []FieldError
	if u.ClientLabel == nil && u.NetworkAddress == nil && u.Serial == nil {
		return append(errs, FieldError{Field: "body", Message: "at least one field must be provided", Code: "empty"})
	}
	if u.Serial != nil {
		errs = validateSerial(errs, "serial", *u.Serial)
	}
	if u.ClientLabel != nil {
		errs = validateLabel(errs, "clientLabel", *u.ClientLabel)
	}
	if u.NetworkAddress != nil {
		errs = validateAddress(errs, "networkAddress", *u.NetworkAddress)
	}
	return errs
}

func validateSerial(errs []FieldError, field, serial string) []FieldError {
	switch {
	case strings.TrimSpace(serial) == "":
		return append(errs, FieldError{Field: field, Message: field + " is required", Code: "required"})
	case len(serial) > maxSerialLength:
		return append(errs, FieldError{Field: field, Message: fmt.Sprintf("%s must be at most %d characters", field, maxSerialLength), Code: "too_long"})
	case strings.ContainsAny(serial, " \t\r\n"):
		return append(errs, FieldError{Field: field, Message: field + " must not contain whitespace", Code: "invalid"})
	}
	return errs
}

func validateLabel(errs []FieldError, field, label string) []FieldError {
	if len(label) > maxLabelLength {
		return append(errs, FieldError{Field: field, Message: fmt.Sprintf("%s must be at most %d characters", field, maxLabelLength), Code: "too_long"})
	}
	return errs
}

func validateAddress(errs []FieldError, field, address string) []FieldError {
	if len(address) > maxAddressLength || strings.ContainsAny(address, " \t\r\n/") {
		return append(errs, FieldError{Field: field, Message: field + " must be an IP address or host name", Code: "invalid"})
	}
	return errs
}

// ServiceConfig holds configuration for the device service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service provides device registry operations.
type Service struct {
	repo Repository
	log  zerolog.Logger
	now  func() time.Time
}

// NewService creates a new device service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo: cfg.Repository,
		log:  cfg.Logger.With().Str("component", "device").Logger(),
		now:  cfg.Now,
	}
}

// Repository returns the underlying registry.
func (s *Service) Repository() Repository {
	return s.repo
}

// List retrieves all devices ordered by serial.
func (s *Service) List(ctx context.Context) ([]*Device, error) {
	return s.repo.List(ctx, ListOptions{})
}

// Get retrieves a device by serial.
func (s *Service) Get(ctx context.Context, serial string) (*Device, error) {
	return s.repo.GetBySerial(ctx, serial)
}

// Provision registers a device by serial. Provisioning an already known
// serial returns the stored device unchanged and created=false.
func (s *Service) Provision(ctx context.Context, in *ProvisionInput) (*Device, bool, error) {
	if errs := in.Validate(); len(errs) > 0 {
		return nil, false, &ValidationError{Errors: errs}
	}

	existing, err := s.repo.GetBySerial(ctx, in.Serial)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, false, err
	}

	now := s.now()
	vendor := VendorManual
	device := &Device{
		ClientLabel:    in.ClientLabel,
		Serial:         in.Serial,
		NetworkAddress: in.NetworkAddress,
		VendorTag:      &vendor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, device); err != nil {
		if errors.Is(err, ErrSerialTaken) {
			// Lost a race with a concurrent provision of the same serial
			existing, getErr := s.repo.GetBySerial(ctx, in.Serial)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.log.Info().
		Str("device_id", device.ID).
		Str("serial", device.Serial).
		Msg("device provisioned")

	return device, true, nil
}

// Heartbeat records that the device with the given serial reported in now.
func (s *Service) Heartbeat(ctx context.Context, serial string) (*Device, error) {
	device, err := s.repo.GetBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.SaveLastSeen(ctx, []LastSeenUpdate{{DeviceID: device.ID, At: now}}); err != nil {
		return nil, fmt.Errorf("save heartbeat: %w", err)
	}

	at := Later(device.LastSeenAt, now)
	device.LastSeenAt = &at

	s.log.Debug().Str("serial", serial).Msg("heartbeat received")
	return device, nil
}

// UpdateIdentity changes label, address and serial of the device identified by serial.
func (s *Service) UpdateIdentity(ctx context.Context, serial string, upd *IdentityUpdate) (*Device, error) {
	if errs := upd.Validate(); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	device, err := s.repo.GetBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	if upd.ClientLabel != nil {
		device.ClientLabel = *upd.ClientLabel
	}
	if upd.NetworkAddress != nil {
		device.NetworkAddress = *upd.NetworkAddress
	}
	if upd.Serial != nil {
		device.Serial = *upd.Serial
	}
	device.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, device); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("device_id", device.ID).
		Str("serial", device.Serial).
		Msg("device identity updated")

	return device, nil
}

// Ping verifies the registry is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
