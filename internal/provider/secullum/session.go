package secullum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/clockwatch/clockwatch/internal/telemetry"
)

const (
	defaultExpiresIn = 3600 * time.Second
	maxErrorBody     = 4 << 10
)

// DefaultExpiryMargin is subtracted from the provider-declared token lifetime
// so a token is replaced well before it can expire mid-request.
const DefaultExpiryMargin = 120 * time.Second

// DefaultTokenTimeout bounds a shared token acquisition.
const DefaultTokenTimeout = 10 * time.Second

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SessionConfig holds configuration for a Session.
type SessionConfig struct {
	AuthBaseURL string
	Username    string
	Password    string
	ClientID    string

	// HTTPClient executes token and ledger requests.
	HTTPClient HTTPDoer

	// ExpiryMargin overrides DefaultExpiryMargin.
	ExpiryMargin time.Duration

	// TokenTimeout overrides DefaultTokenTimeout. A token acquisition is shared
	// by concurrent callers, so it runs detached from any single caller's context.
	TokenTimeout time.Duration

	Metrics *telemetry.ProviderMetrics
	Logger  zerolog.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// credential is replaced as a whole so token and expiry are never observed apart.
type credential struct {
	token     string
	expiresAt time.Time
}

// Session holds the bearer credential and the selected ledger for the provider.
// A Session is safe for concurrent use. The selected ledger is a single value
// shared by all callers of the session.
type Session struct {
	authBaseURL string
	username    string
	password    string
	clientID    string
	httpClient  HTTPDoer
	margin      time.Duration
	tokenTTL    time.Duration
	metrics     *telemetry.ProviderMetrics
	log         zerolog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	cred     *credential
	ledgerID string

	refresh singleflight.Group
}

// NewSession creates a new provider session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = DefaultAuthBaseURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = DefaultExpiryMargin
	}
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = DefaultTokenTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Session{
		authBaseURL: strings.TrimSuffix(cfg.AuthBaseURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		clientID:    cfg.ClientID,
		httpClient:  cfg.HTTPClient,
		margin:      cfg.ExpiryMargin,
		tokenTTL:    cfg.TokenTimeout,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.With().Str("provider", ProviderName).Logger(),
		now:         cfg.Now,
	}
}

// Authenticate acquires a fresh bearer token, replacing any held one.
func (s *Session) Authenticate(ctx context.Context) error {
	_, err := s.shared(ctx, false)
	return err
}

// token returns a valid bearer token, authenticating when none is held or it expired.
// Concurrent callers share a single acquisition.
func (s *Session) token(ctx context.Context) (string, error) {
	if cred := s.current(); cred != nil {
		return cred.token, nil
	}

	cred, err := s.shared(ctx, true)
	if err != nil {
		return "", err
	}
	return cred.token, nil
}

// shared joins the in-flight acquisition or starts one. The acquisition keeps
// running when this caller gives up, so other waiters still get its result.
func (s *Session) shared(ctx context.Context, reuse bool) (*credential, error) {
	ch := s.refresh.DoChan("token", func() (interface{}, error) {
		if reuse {
			if cred := s.current(); cred != nil {
				return cred, nil
			}
		}
		acquireCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.tokenTTL)
		defer cancel()
		return s.acquire(acquireCtx)
	})

	select {
	case <-ctx.Done():
		return nil, &AuthenticationError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*credential), nil
	}
}

// current returns the held credential if it has not expired.
func (s *Session) current() *credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil || !s.now().Before(s.cred.expiresAt) {
		return nil
	}
	return s.cred
}

// Invalidate drops the held credential so the next call re-authenticates.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
}

func (s *Session) acquire(ctx context.Context) (*credential, error) {
	start := time.Now()

	form := url.Values{
		"grant_type": {"password"},
		"username":   {s.username},
		"password":   {s.password},
		"client_id":  {s.clientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authBaseURL+"/Token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthenticationError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	cred, err := s.exchange(req)
	s.metrics.RecordRequest("token", time.Since(start), err)
	if err != nil {
		s.log.Warn().Err(err).Msg("token acquisition failed")
		return nil, err
	}

	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()

	s.metrics.RecordTokenRefresh()
	s.log.Debug().Time("expires_at", cred.expiresAt).Msg("token acquired")
	return cred, nil
}

func (s *Session) exchange(req *http.Request) (*credential, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &AuthenticationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var result tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if result.AccessToken == "" {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Body: "empty access_token"}
	}

	expiresIn := defaultExpiresIn
	if result.ExpiresIn > 0 {
		expiresIn = time.Duration(result.ExpiresIn) * time.Second
	}

	return &credential{
		token:     result.AccessToken,
		expiresAt: s.now().Add(expiresIn - s.margin),
	}, nil
}

// ListLedgers lists the ledgers owned by the configured client id.
func (s *Session) ListLedgers(ctx context.Context) ([]Ledger, error) {
	const endpoint = "ListarBancos"

	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ledgers, err := s.fetchLedgers(ctx, token)
	s.metrics.RecordRequest(endpoint, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	owned := make([]Ledger, 0, len(ledgers))
	for _, l := range ledgers {
		if string(l.ClientID) != s.clientID {
			continue
		}
		owned = append(owned, Ledger{ID: string(l.ID), ClientID: string(l.ClientID), Name: l.Name})
	}
	return owned, nil
}

func (s *Session) fetchLedgers(ctx context.Context, token string) ([]ledgerData, error) {
	const endpoint = "ListarBancos"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.authBaseURL+"/ContasSecullumExterno/ListarBancos/", http.NoBody)
	if err != nil {
		return nil, &ProviderQueryError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderQueryError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.Invalidate()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderQueryError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var ledgers []ledgerData
	if err := json.NewDecoder(resp.Body).Decode(&ledgers); err != nil {
		return nil, &ProviderQueryError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return ledgers, nil
}

// SelectLedger records the ledger targeted by subsequent data calls.
func (s *Session) SelectLedger(id string) {
	s.mu.Lock()
	s.ledgerID = id
	s.mu.Unlock()

	s.log.Info().Str("ledger_id", id).Msg("ledger selected")
}

// SelectedLedger returns the selected ledger id, or "" when none was selected.
func (s *Session) SelectedLedger() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgerID
}

// AuthorizedHeaders returns the headers every data call must carry,
// re-authenticating when the held token is absent or expired.
func (s *Session) AuthorizedHeaders(ctx context.Context) (http.Header, error) {
	ledgerID := s.SelectedLedger()
	if ledgerID == "" {
		return nil, ErrNoLedgerSelected
	}

	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}

	h := make(http.Header, 4)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("Accept-Language", "pt-BR")
	h.Set("secullumidbancoselecionado", ledgerID)
	return h, nil
}

func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
