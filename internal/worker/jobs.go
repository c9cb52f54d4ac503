package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/device"
)

// Job types carried in JobMessage.JobType.
const (
	JobProviderReconcile = "provider_reconcile"
	JobProviderImport    = "provider_import"
	JobLivenessSweep     = "liveness_sweep"
	JobHeartbeat         = "heartbeat"
)

// Job errors.
var (
	ErrUnknownJob = errors.New("unknown job type")
	ErrInvalidJob = errors.New("invalid job")
)

// JobMessage is the payload of a background job.
type JobMessage struct {
	JobType  string `json:"job_type"`
	LedgerID string `json:"ledger_id,omitempty"`
	Serial   string `json:"serial,omitempty"`
}

// Validate checks that the fields required by the job type are present.
func (m JobMessage) Validate() error {
	switch m.JobType {
	case JobProviderReconcile, JobLivenessSweep:
		return nil
	case JobProviderImport:
		if m.LedgerID == "" {
			return fmt.Errorf("%w: %s requires ledger_id", ErrInvalidJob, m.JobType)
		}
		return nil
	case JobHeartbeat:
		if m.Serial == "" {
			return fmt.Errorf("%w: %s requires serial", ErrInvalidJob, m.JobType)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, m.JobType)
	}
}

// Heartbeater records device heartbeats.
type Heartbeater interface {
	Heartbeat(ctx context.Context, serial string) (*device.Device, error)
}

// DispatcherConfig holds configuration for a Dispatcher.
type DispatcherConfig struct {
	Sweep      *SweepJob
	Reconciler Reconciler
	Devices    Heartbeater
	Logger     zerolog.Logger
}

// Dispatcher executes job messages regardless of how they were delivered.
type Dispatcher struct {
	sweep      *SweepJob
	reconciler Reconciler
	devices    Heartbeater
	logger     zerolog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		sweep:      cfg.Sweep,
		reconciler: cfg.Reconciler,
		devices:    cfg.Devices,
		logger:     cfg.Logger,
	}
}

// Dispatch runs the job described by msg.
func (d *Dispatcher) Dispatch(ctx context.Context, msg JobMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	switch msg.JobType {
	case JobLivenessSweep:
		if d.sweep == nil {
			return fmt.Errorf("%s: sweep not configured", msg.JobType)
		}
		if result := d.sweep.Run(ctx); result.Failed() {
			return fmt.Errorf("liveness sweep failed: %v", result.Errors)
		}
		return nil

	case JobProviderReconcile:
		if d.sweep != nil {
			if result := d.sweep.RunReconcile(ctx); !result.Reconciled {
				return fmt.Errorf("provider reconcile failed: %v", result.Errors)
			}
			return nil
		}
		if d.reconciler == nil {
			return fmt.Errorf("%s: provider not configured", msg.JobType)
		}
		_, err := d.reconciler.ReconcileExisting(ctx)
		return err

	case JobProviderImport:
		if d.reconciler == nil {
			return fmt.Errorf("%s: provider not configured", msg.JobType)
		}
		result, err := d.reconciler.ImportUnlinked(ctx, msg.LedgerID)
		if err != nil {
			return err
		}
		d.logger.Info().
			Str("ledger_id", msg.LedgerID).
			Int("created", result.Created).
			Int("skipped", result.Skipped).
			Msg("provider import job finished")
		return nil

	case JobHeartbeat:
		if d.devices == nil {
			return fmt.Errorf("%s: device service not configured", msg.JobType)
		}
		_, err := d.devices.Heartbeat(ctx, msg.Serial)
		return err
	}

	return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
}

// Handle decodes and dispatches a delivered message. It reports whether the
// message should be acknowledged; false asks the transport to redeliver.
func (d *Dispatcher) Handle(ctx context.Context, id string, published time.Time, data []byte) bool {
	startTime := time.Now()

	logger := d.logger.With().
		Str("message_id", id).
		Str("publish_time", published.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received job message")

	var job JobMessage
	if err := json.Unmarshal(data, &job); err != nil {
		// A payload that never parses would be redelivered forever
		logger.Error().Err(err).Msg("failed to parse message")
		return true
	}

	err := d.Dispatch(ctx, job)
	switch {
	case errors.Is(err, ErrUnknownJob):
		logger.Warn().Str("job_type", job.JobType).Msg("unknown job type")
		return true
	case err != nil && Retryable(err):
		logger.Error().Err(err).Str("job_type", job.JobType).Msg("job failed")
		return false
	case err != nil:
		logger.Warn().Err(err).Str("job_type", job.JobType).Msg("job rejected")
		return true
	}

	logger.Info().
		Str("job_type", job.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")

	return true
}

// Retryable reports whether a failed job should be redelivered.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnknownJob), errors.Is(err, ErrInvalidJob), errors.Is(err, device.ErrDeviceNotFound):
		return false
	}
	var validation *device.ValidationError
	return !errors.As(err, &validation)
}
