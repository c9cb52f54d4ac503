package secullum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clockwatch/clockwatch/internal/telemetry"
)

const tracerName = "github.com/clockwatch/clockwatch/internal/provider/secullum"

const queryDateLayout = "2006-01-02"

// ClientConfig holds configuration for the data client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultAPIBaseURL).
	BaseURL string

	// Session supplies authorized headers. Required.
	Session *Session

	// HTTPClient executes data requests.
	HTTPClient HTTPDoer

	// Location is the zone Data/Hora values are interpreted in.
	Location *time.Location

	Metrics *telemetry.ProviderMetrics
	Logger  zerolog.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Client queries the external integration data endpoints.
type Client struct {
	baseURL    string
	session    *Session
	httpClient HTTPDoer
	loc        *time.Location
	metrics    *telemetry.ProviderMetrics
	log        zerolog.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

// NewClient creates a new Secullum data client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.Location == nil {
		cfg.Location = LoadLocation(DefaultTimezone)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		session:    cfg.Session,
		httpClient: cfg.HTTPClient,
		loc:        cfg.Location,
		metrics:    cfg.Metrics,
		log:        cfg.Logger.With().Str("provider", ProviderName).Logger(),
		now:        cfg.Now,
		tracer:     otel.Tracer(tracerName),
	}
}

// Session returns the session the client authorizes with.
func (c *Client) Session() *Session {
	return c.session
}

// Equipment fetches the equipment catalog of the selected ledger.
// Entries without an identifier are skipped and counted as malformed.
func (c *Client) Equipment(ctx context.Context) (*EquipmentCatalog, error) {
	const endpoint = "Equipamentos"

	var raw []json.RawMessage
	if err := c.get(ctx, endpoint, nil, &raw); err != nil {
		return nil, err
	}

	catalog := &EquipmentCatalog{Items: make([]Equipment, 0, len(raw))}
	for i, item := range raw {
		var e equipmentData
		if err := json.Unmarshal(item, &e); err != nil || e.ID == nil {
			catalog.Malformed++
			c.log.Warn().
				Err(malformed(err, "missing Id")).
				Str("endpoint", endpoint).
				Int("index", i).
				Msg("skipping equipment entry")
			continue
		}
		catalog.Items = append(catalog.Items, Equipment{
			ID:          int64(*e.ID),
			Description: strings.TrimSpace(e.Description),
			Address:     strings.TrimSpace(e.Address),
		})
	}

	c.metrics.RecordMalformed(endpoint, catalog.Malformed)
	return catalog, nil
}

// ActivityFeed fetches data-source events (FonteDados) for the query window.
func (c *Client) ActivityFeed(ctx context.Context, q EventQuery) (*EventFeed, error) {
	return c.events(ctx, "FonteDados", q)
}

// Punches fetches punch events (Batidas) for the query window.
func (c *Client) Punches(ctx context.Context, q EventQuery) (*EventFeed, error) {
	return c.events(ctx, "Batidas", q)
}

// LatestActivity returns the most recent activity timestamp reported for the
// equipment since the given instant. ok is false when no parseable event exists.
func (c *Client) LatestActivity(ctx context.Context, equipmentID int64, since time.Time) (time.Time, bool, error) {
	feed, err := c.ActivityFeed(ctx, EventQuery{
		Start:       since,
		End:         c.now(),
		EquipmentID: &equipmentID,
	})
	if err != nil {
		return time.Time{}, false, err
	}
	at, ok := feed.Latest()
	return at, ok, nil
}

func (c *Client) events(ctx context.Context, endpoint string, q EventQuery) (*EventFeed, error) {
	params := url.Values{}
	params.Set("dataInicio", q.Start.In(c.loc).Format(queryDateLayout))
	params.Set("dataFim", q.End.In(c.loc).Format(queryDateLayout))
	if q.EquipmentID != nil {
		params.Set("equipamentoId", strconv.FormatInt(*q.EquipmentID, 10))
	}

	var raw []json.RawMessage
	if err := c.get(ctx, endpoint, params, &raw); err != nil {
		return nil, err
	}

	feed := &EventFeed{Events: make([]Event, 0, len(raw))}
	for i, item := range raw {
		var e eventData
		err := json.Unmarshal(item, &e)
		var at time.Time
		if err == nil {
			at, err = parseEventTime(e.Date, e.Time, c.loc)
		}
		if err != nil {
			feed.Malformed++
			c.log.Debug().
				Err(malformed(err, "")).
				Str("endpoint", endpoint).
				Int("index", i).
				Msg("skipping event entry")
			continue
		}

		event := Event{At: at}
		if e.EquipmentID != nil {
			id := int64(*e.EquipmentID)
			event.EquipmentID = &id
		}
		feed.Events = append(feed.Events, event)
	}

	c.metrics.RecordMalformed(endpoint, feed.Malformed)
	return feed, nil
}

// get performs an authorized GET and decodes a 200 response into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, "secullum."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("provider.name", ProviderName)),
	)
	start := time.Now()
	defer func() {
		c.metrics.RecordRequest(endpoint, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	headers, err := c.session.AuthorizedHeaders(ctx)
	if err != nil {
		return err
	}

	reqURL := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return &ProviderQueryError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header = headers

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderQueryError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		c.session.Invalidate()
	}
	if resp.StatusCode != http.StatusOK {
		return &ProviderQueryError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderQueryError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func malformed(err error, detail string) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformedRecord, detail)
	}
	if errors.Is(err, ErrMalformedRecord) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
}
