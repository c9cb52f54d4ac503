package device

import "context"

// Repository defines the interface for device persistence.
type Repository interface {
	// Get retrieves a device by ID.
	Get(ctx context.Context, id string) (*Device, error)

	// GetBySerial retrieves a device by serial.
	GetBySerial(ctx context.Context, serial string) (*Device, error)

	// GetByExternalID retrieves the device linked to a provider equipment id.
	GetByExternalID(ctx context.Context, equipmentID int64) (*Device, error)

	// List retrieves devices ordered by serial.
	List(ctx context.Context, opts ListOptions) ([]*Device, error)

	// Create inserts a device, assigning an ID when empty.
	// Returns ErrSerialTaken or ErrExternalIDTaken on uniqueness violations.
	Create(ctx context.Context, device *Device) error

	// Update replaces the mutable fields of an existing device.
	// LastSeenAt is never moved backward by an update.
	Update(ctx context.Context, device *Device) error

	// SaveLastSeen applies a batch of last-seen advances in one unit.
	// Updates older than the stored value are ignored.
	SaveLastSeen(ctx context.Context, updates []LastSeenUpdate) error

	// Ping verifies the registry is reachable.
	Ping(ctx context.Context) error
}
