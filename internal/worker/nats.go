package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// connectNATS opens a connection that reconnects forever and ensures the job stream exists.
func connectNATS(settings NATSSettings, name string, logger zerolog.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(settings.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("opening jetstream: %w", err)
	}

	_, err = js.StreamInfo(settings.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     settings.Stream,
			Subjects: []string{settings.Subject},
		})
	}
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensuring stream %s: %w", settings.Stream, err)
	}

	return nc, js, nil
}

// NATSHandler consumes job messages from a JetStream durable consumer.
type NATSHandler struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	settings   NATSSettings
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

// NATSConfig holds configuration for the NATS handler.
type NATSConfig struct {
	Settings   NATSSettings
	Dispatcher *Dispatcher
	Logger     zerolog.Logger
}

// NewNATSHandler connects to NATS and prepares the job stream.
func NewNATSHandler(cfg NATSConfig) (*NATSHandler, error) {
	nc, js, err := connectNATS(cfg.Settings, "clockwatch-worker", cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &NATSHandler{
		conn:       nc,
		js:         js,
		settings:   cfg.Settings,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
	}, nil
}

// Start consumes messages until ctx is cancelled.
func (h *NATSHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("stream", h.settings.Stream).
		Str("subject", h.settings.Subject).
		Str("durable", h.settings.Durable).
		Msg("starting nats handler")

	sub, err := h.js.QueueSubscribe(h.settings.Subject, h.settings.Durable, func(msg *nats.Msg) {
		id, published := msgInfo(msg)
		if h.dispatcher.Handle(ctx, id, published, msg.Data) {
			_ = msg.Ack()
		} else {
			_ = msg.Nak()
		}
	},
		nats.Durable(h.settings.Durable),
		nats.ManualAck(),
		nats.AckWait(10*time.Minute),
		nats.MaxAckPending(4),
	)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", h.settings.Subject, err)
	}

	<-ctx.Done()
	return sub.Drain()
}

// Close drains and closes the connection.
func (h *NATSHandler) Close() error {
	return h.conn.Drain()
}

func msgInfo(msg *nats.Msg) (string, time.Time) {
	meta, err := msg.Metadata()
	if err != nil {
		return "", time.Time{}
	}
	return strconv.FormatUint(meta.Sequence.Stream, 10), meta.Timestamp
}

// NATSPublisher publishes job messages to a JetStream subject.
type NATSPublisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATSPublisher connects to NATS and prepares the job stream.
func NewNATSPublisher(settings NATSSettings, logger zerolog.Logger) (*NATSPublisher, error) {
	nc, js, err := connectNATS(settings, "clockwatch-api", logger)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, js: js, subject: settings.Subject}, nil
}

// Publish sends a job and returns the stream sequence as its ID.
func (p *NATSPublisher) Publish(ctx context.Context, job JobMessage) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encoding job: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Job-Type", job.JobType)

	ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
