package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Unique constraint names from the devices schema.
const (
	constraintSerial     = "devices_serial_key"
	constraintExternalID = "devices_external_equipment_id_key"
)

const pgUniqueViolation = "23505"

const deviceColumns = `id, client_label, serial, network_address, last_seen_at,
	external_equipment_id, vendor_tag, created_at, updated_at`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL device repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a device by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	return r.scanDevice(ctx, query, id)
}

// GetBySerial retrieves a device by serial.
func (r *PostgresRepository) GetBySerial(ctx context.Context, serial string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE serial = $1`
	return r.scanDevice(ctx, query, serial)
}

// GetByExternalID retrieves the device linked to a provider equipment id.
func (r *PostgresRepository) GetByExternalID(ctx context.Context, equipmentID int64) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE external_equipment_id = $1`
	return r.scanDevice(ctx, query, equipmentID)
}

// scanDevice scans a single device from a query.
func (r *PostgresRepository) scanDevice(ctx context.Context, query string, args ...interface{}) (*Device, error) {
	device, err := scanRow(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return device, nil
}

func scanRow(row pgx.Row) (*Device, error) {
	var device Device
	err := row.Scan(
		&device.ID,
		&device.ClientLabel,
		&device.Serial,
		&device.NetworkAddress,
		&device.LastSeenAt,
		&device.ExternalEquipmentID,
		&device.VendorTag,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// List retrieves devices ordered by serial.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	if opts.LinkedOnly {
		query += ` WHERE external_equipment_id IS NOT NULL`
	}
	query += ` ORDER BY serial`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return devices, nil
}

// Create inserts a device.
func (r *PostgresRepository) Create(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = NewID()
	}

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		device.ID,
		device.ClientLabel,
		device.Serial,
		device.NetworkAddress,
		device.LastSeenAt,
		device.ExternalEquipmentID,
		device.VendorTag,
		device.CreatedAt,
		device.UpdatedAt,
	)
	return translateError(err)
}

// Update replaces the mutable fields of an existing device.
func (r *PostgresRepository) Update(ctx context.Context, device *Device) error {
	query := `
		UPDATE devices SET
			client_label = $2,
			serial = $3,
			network_address = $4,
			last_seen_at = GREATEST(last_seen_at, $5),
			external_equipment_id = $6,
			vendor_tag = $7,
			updated_at = $8
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		device.ID,
		device.ClientLabel,
		device.Serial,
		device.NetworkAddress,
		device.LastSeenAt,
		device.ExternalEquipmentID,
		device.VendorTag,
		device.UpdatedAt,
	)
	if err != nil {
		return translateError(err)
	}

	if result.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// SaveLastSeen applies a batch of last-seen advances in one transaction.
func (r *PostgresRepository) SaveLastSeen(ctx context.Context, updates []LastSeenUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// GREATEST ignores NULL, so a first observation always lands.
	query := `
		UPDATE devices SET
			last_seen_at = GREATEST(last_seen_at, $2),
			updated_at = $3
		WHERE id = $1
	`

	batch := &pgx.Batch{}
	now := time.Now()
	for _, u := range updates {
		batch.Queue(query, u.DeviceID, u.At, now)
	}

	results := tx.SendBatch(ctx, batch)
	for range updates {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return fmt.Errorf("update last seen: %w", err)
		}
		if tag.RowsAffected() == 0 {
			results.Close()
			return ErrDeviceNotFound
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// Ping verifies the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// translateError maps unique violations to repository errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintSerial:
			return ErrSerialTaken
		case constraintExternalID:
			return ErrExternalIDTaken
		}
	}
	return err
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
