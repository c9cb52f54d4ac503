// Package heartbeat implements the on-site agent that reports terminal liveness
// to the Clockwatch API.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds each status check and heartbeat post.
const DefaultTimeout = 3 * time.Second

// ErrTerminalDown is returned when the terminal status URL does not answer 200.
var ErrTerminalDown = errors.New("terminal status check failed")

// Config holds configuration for a Reporter.
type Config struct {
	// APIURL is the Clockwatch API base URL, e.g. http://localhost:8080.
	APIURL string

	// Serial identifies the terminal in the registry.
	Serial string

	// StatusURL is the terminal's local status endpoint.
	StatusURL string

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Validate checks that the reporter can run.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return errors.New("api url is required")
	}
	if strings.TrimSpace(c.Serial) == "" {
		return errors.New("serial is required")
	}
	if strings.TrimSpace(c.StatusURL) == "" {
		return errors.New("status url is required")
	}
	return nil
}

// StatusURLFor returns the default status endpoint of a terminal address.
func StatusURLFor(address string) string {
	return "http://" + address + "/api/status"
}

// Reporter polls a terminal and posts a heartbeat when it answers.
type Reporter struct {
	heartbeatURL string
	serial       string
	statusURL    string
	timeout      time.Duration
	client       *http.Client
	logger       zerolog.Logger
}

// NewReporter creates a new Reporter.
func NewReporter(cfg Config) (*Reporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Reporter{
		heartbeatURL: strings.TrimRight(cfg.APIURL, "/") + "/v1/heartbeat",
		serial:       cfg.Serial,
		statusURL:    cfg.StatusURL,
		timeout:      cfg.Timeout,
		client:       cfg.HTTPClient,
		logger:       cfg.Logger,
	}, nil
}

// Check polls the terminal once and reports a heartbeat if it is up.
func (r *Reporter) Check(ctx context.Context) error {
	if err := r.probe(ctx); err != nil {
		return err
	}
	return r.report(ctx)
}

// Run checks on every interval until ctx is cancelled. Failures are logged, not returned.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	r.checkAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkAndLog(ctx)
		}
	}
}

func (r *Reporter) checkAndLog(ctx context.Context) {
	if err := r.Check(ctx); err != nil {
		r.logger.Warn().Err(err).Str("serial", r.serial).Msg("heartbeat not sent")
		return
	}
	r.logger.Debug().Str("serial", r.serial).Msg("heartbeat sent")
}

func (r *Reporter) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.statusURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTerminalDown, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrTerminalDown, resp.StatusCode)
	}
	return nil
}

func (r *Reporter) report(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"serial": r.serial})
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.heartbeatURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat rejected: status %d", resp.StatusCode)
	}
	return nil
}
