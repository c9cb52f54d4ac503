package device_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clockwatch/clockwatch/internal/database"
	"github.com/clockwatch/clockwatch/internal/device"
)

func newGormRepository(t *testing.T) device.Repository {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "devices.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}

	repo := device.NewGormRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func TestGormRepository(t *testing.T) {
	runRepositoryContract(t, newGormRepository)
}

// hideConflicts makes the next n count queries report zero rows, so a write
// reaches the unique index as if a concurrent writer had won the race.
func hideConflicts(t *testing.T, db *gorm.DB, n int32) {
	t.Helper()

	var remaining atomic.Int32
	remaining.Store(n)
	err := db.Callback().Query().After("gorm:query").Register("test:hide_conflicts", func(tx *gorm.DB) {
		if count, ok := tx.Statement.Dest.(*int64); ok && remaining.Add(-1) >= 0 {
			*count = 0
		}
	})
	require.NoError(t, err)
}

func TestGormRepository_UniqueIndexViolationMapsToTakenKey(t *testing.T) {
	ctx := context.Background()
	linked := func(id int64) *int64 { return &id }

	tests := []struct {
		name     string
		existing *device.Device
		incoming *device.Device
		hidden   int32
		want     error
	}{
		{
			name:     "serial",
			existing: &device.Device{Serial: "SN-1", ClientLabel: "a", NetworkAddress: "10.0.0.1"},
			incoming: &device.Device{Serial: "SN-1", ClientLabel: "b", NetworkAddress: "10.0.0.2"},
			hidden:   1,
			want:     device.ErrSerialTaken,
		},
		{
			name:     "external equipment id",
			existing: &device.Device{Serial: "SN-1", ClientLabel: "a", NetworkAddress: "10.0.0.1", ExternalEquipmentID: linked(7)},
			incoming: &device.Device{Serial: "SN-2", ClientLabel: "b", NetworkAddress: "10.0.0.2", ExternalEquipmentID: linked(7)},
			hidden:   2,
			want:     device.ErrExternalIDTaken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "devices.db"))
			if err != nil {
				t.Skipf("sqlite unavailable: %v", err)
			}
			repo := device.NewGormRepository(db)
			require.NoError(t, repo.AutoMigrate())
			require.NoError(t, repo.Create(ctx, tt.existing))

			// The in-transaction uniqueness counts miss the existing row
			hideConflicts(t, db, tt.hidden)

			err = repo.Create(ctx, tt.incoming)
			assert.ErrorIs(t, err, tt.want)

			_, err = repo.GetBySerial(ctx, "SN-2")
			assert.ErrorIs(t, err, device.ErrDeviceNotFound)
		})
	}
}
