// Package main provides the on-site heartbeat agent for Clockwatch terminals.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clockwatch/clockwatch/internal/heartbeat"
)

// Version is set at compile time via ldflags
var Version = "dev"

type options struct {
	apiURL    string
	serial    string
	address   string
	statusURL string
	interval  time.Duration
	timeout   time.Duration
	once      bool
	debug     bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "clockwatch-heartbeat",
		Short:         "Report a time clock terminal's liveness to the Clockwatch API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.apiURL, "api", envOrDefault("CLOCKWATCH_API_URL", "http://localhost:8080"), "Clockwatch API base URL")
	flags.StringVar(&opts.serial, "serial", os.Getenv("TERMINAL_SERIAL"), "terminal serial as registered in Clockwatch")
	flags.StringVar(&opts.address, "address", os.Getenv("TERMINAL_ADDRESS"), "terminal network address")
	flags.StringVar(&opts.statusURL, "status-url", "", "terminal status URL (default http://<address>/api/status)")
	flags.DurationVar(&opts.interval, "interval", 30*time.Second, "time between checks")
	flags.DurationVar(&opts.timeout, "timeout", heartbeat.DefaultTimeout, "timeout for each request")
	flags.BoolVar(&opts.once, "once", false, "check once and exit")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	level := zerolog.InfoLevel
	if opts.debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "clockwatch-heartbeat").
		Str("version", Version).
		Logger()

	statusURL := opts.statusURL
	if statusURL == "" {
		if opts.address == "" {
			return errors.New("either --status-url or --address is required")
		}
		statusURL = heartbeat.StatusURLFor(opts.address)
	}

	reporter, err := heartbeat.NewReporter(heartbeat.Config{
		APIURL:    opts.apiURL,
		Serial:    opts.serial,
		StatusURL: statusURL,
		Timeout:   opts.timeout,
		Logger:    log,
	})
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	if opts.interval <= 0 {
		return errors.New("--interval must be positive")
	}

	if opts.once {
		if err := reporter.Check(ctx); err != nil {
			log.Warn().Err(err).Str("serial", opts.serial).Msg("heartbeat not sent")
			return err
		}
		log.Info().Str("serial", opts.serial).Msg("heartbeat sent")
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("serial", opts.serial).
		Str("status_url", statusURL).
		Dur("interval", opts.interval).
		Msg("starting heartbeat agent")

	reporter.Run(ctx, opts.interval)

	log.Info().Msg("heartbeat agent stopped")
	return nil
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
