package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// HTTPBackend implements Backend over the simulator's JSON REST API.
// The session cookie lives in the client's cookie jar and is shared
// with the push channel handshake.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	jar     http.CookieJar
	breaker *breaker
	logger  zerolog.Logger
}

// HTTPConfig holds configuration for the REST backend.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
	Logger  zerolog.Logger
}

// NewHTTPBackend creates a new backend client.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &HTTPBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		jar:     jar,
		breaker: newBreaker(cfg.Breaker),
		logger:  logging.WithComponent(cfg.Logger, "backend"),
	}, nil
}

// Jar returns the cookie jar holding the session cookie.
func (b *HTTPBackend) Jar() http.CookieJar {
	return b.jar
}

// BreakerState reports whether requests are currently reaching the backend.
func (b *HTTPBackend) BreakerState() BreakerState {
	return b.breaker.State()
}

// envelope is the common response shape of every endpoint.
type envelope struct {
	Success         bool                    `json:"success"`
	Message         string                  `json:"message"`
	User            *models.Session         `json:"user"`
	Results         []models.SearchResult   `json:"results"`
	Stock           *models.Stock           `json:"stock"`
	Portfolio       *models.Portfolio       `json:"portfolio"`
	Watchlist       []models.WatchlistEntry `json:"watchlist"`
	Transactions    []models.Transaction    `json:"transactions"`
	Recommendations json.RawMessage         `json:"recommendations"`
	Prediction      json.RawMessage         `json:"prediction"`
}

// Me resumes an existing session from the cookie jar.
func (b *HTTPBackend) Me(ctx context.Context) (*models.Session, error) {
	env, status, err := b.do(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusNotFound {
		return nil, apperrors.NewAuthError("resume", messageOr(env, "Not authenticated"), apperrors.ErrNotAuthenticated)
	}
	if !ok(status) || !env.Success || env.User == nil {
		return nil, unexpected(http.MethodGet, "/auth/me", status, env)
	}
	return env.User, nil
}

// Login authenticates an existing user.
func (b *HTTPBackend) Login(ctx context.Context, username string) (*models.Session, error) {
	return b.authenticate(ctx, "login", map[string]string{"username": username})
}

// Register creates a user and authenticates it. Email is omitted when empty.
func (b *HTTPBackend) Register(ctx context.Context, username, email string) (*models.Session, error) {
	body := map[string]string{"username": username}
	if email != "" {
		body["email"] = email
	}
	return b.authenticate(ctx, "register", body)
}

func (b *HTTPBackend) authenticate(ctx context.Context, op string, body map[string]string) (*models.Session, error) {
	endpoint := "/auth/" + op
	env, status, err := b.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusInternalServerError {
		return nil, unexpected(http.MethodPost, endpoint, status, env)
	}
	if !env.Success || env.User == nil {
		return nil, apperrors.NewAuthError(op, messageOr(env, http.StatusText(status)), nil)
	}
	return env.User, nil
}

// Logout ends the server-side session.
func (b *HTTPBackend) Logout(ctx context.Context) error {
	_, err := b.fetch(ctx, http.MethodPost, "/auth/logout", nil)
	return err
}

// SearchStocks returns symbols matching query.
func (b *HTTPBackend) SearchStocks(ctx context.Context, query string) ([]models.SearchResult, error) {
	env, err := b.fetch(ctx, http.MethodGet, "/stocks/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	return env.Results, nil
}

// StockInfo returns the detail view of symbol.
func (b *HTTPBackend) StockInfo(ctx context.Context, symbol string) (*models.Stock, error) {
	endpoint := "/stocks/info/" + url.PathEscape(symbol)
	env, err := b.fetch(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if env.Stock == nil {
		return nil, unexpected(http.MethodGet, endpoint, http.StatusOK, env)
	}
	return env.Stock, nil
}

// Portfolio returns the account summary and holdings.
func (b *HTTPBackend) Portfolio(ctx context.Context) (*models.Portfolio, error) {
	env, err := b.fetch(ctx, http.MethodGet, "/trading/portfolio", nil)
	if err != nil {
		return nil, err
	}
	if env.Portfolio == nil {
		return nil, unexpected(http.MethodGet, "/trading/portfolio", http.StatusOK, env)
	}
	return env.Portfolio, nil
}

// Trade submits a buy or sell and returns the server confirmation message.
func (b *HTTPBackend) Trade(ctx context.Context, kind models.TradeKind, symbol string, shares int) (string, error) {
	body := map[string]interface{}{
		"symbol": symbol,
		"shares": shares,
	}
	env, err := b.mutate(ctx, string(kind), http.MethodPost, "/trading/"+string(kind), body)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// Transactions returns up to limit recent transactions.
func (b *HTTPBackend) Transactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	env, err := b.fetch(ctx, http.MethodGet, "/trading/transactions?limit="+strconv.Itoa(limit), nil)
	if err != nil {
		return nil, err
	}
	return env.Transactions, nil
}

// Watchlist returns the watchlist entries.
func (b *HTTPBackend) Watchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	env, err := b.fetch(ctx, http.MethodGet, "/trading/watchlist", nil)
	if err != nil {
		return nil, err
	}
	return env.Watchlist, nil
}

// AddToWatchlist adds symbol to the watchlist.
func (b *HTTPBackend) AddToWatchlist(ctx context.Context, symbol string) (string, error) {
	env, err := b.mutate(ctx, "watchlist add", http.MethodPost, "/trading/watchlist", map[string]string{"symbol": symbol})
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// RemoveFromWatchlist removes symbol from the watchlist.
func (b *HTTPBackend) RemoveFromWatchlist(ctx context.Context, symbol string) (string, error) {
	env, err := b.mutate(ctx, "watchlist remove", http.MethodDelete, "/trading/watchlist/"+url.PathEscape(symbol), nil)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// Recommendations returns the raw AI recommendation list.
func (b *HTTPBackend) Recommendations(ctx context.Context) (models.Insight, error) {
	env, err := b.fetch(ctx, http.MethodGet, "/ai/recommendations", nil)
	if err != nil {
		return nil, err
	}
	return env.Recommendations, nil
}

// Predict returns the raw AI prediction for symbol over days.
func (b *HTTPBackend) Predict(ctx context.Context, symbol string, days int) (models.Insight, error) {
	endpoint := fmt.Sprintf("/ai/predict/%s?days=%d", url.PathEscape(symbol), days)
	env, err := b.fetch(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return env.Prediction, nil
}

// fetch performs a read. Anything but a 2xx success envelope is a RequestError,
// except 401 which means the session has expired.
func (b *HTTPBackend) fetch(ctx context.Context, method, endpoint string, body interface{}) (*envelope, error) {
	env, status, err := b.do(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, apperrors.NewAuthError(endpoint, messageOr(env, "Authentication required"), apperrors.ErrNotAuthenticated)
	}
	if !ok(status) || !env.Success {
		return nil, unexpected(method, endpoint, status, env)
	}
	return env, nil
}

// mutate performs a trade or watchlist change. A 4xx with success=false is a
// RejectedError carrying the server message; 5xx is a RequestError.
func (b *HTTPBackend) mutate(ctx context.Context, op, method, endpoint string, body interface{}) (*envelope, error) {
	env, status, err := b.do(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return nil, apperrors.NewAuthError(op, messageOr(env, "Authentication required"), apperrors.ErrNotAuthenticated)
	case status >= http.StatusInternalServerError:
		return nil, unexpected(method, endpoint, status, env)
	case !env.Success:
		return nil, apperrors.NewRejectedError(op, messageOr(env, "Request rejected"))
	}
	return env, nil
}

// do sends one request and decodes the envelope regardless of status.
func (b *HTTPBackend) do(ctx context.Context, method, endpoint string, body interface{}) (*envelope, int, error) {
	start := time.Now()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, apperrors.NewRequestError(method, endpoint, 0, fmt.Errorf("marshaling body: %w", err))
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+endpoint, reader)
	if err != nil {
		return nil, 0, apperrors.NewRequestError(method, endpoint, 0, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := b.breaker.allow(); err != nil {
		b.logger.Debug().Str("endpoint", endpoint).Msg("Breaker open, request not sent")
		return nil, 0, apperrors.NewRequestError(method, endpoint, 0, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			b.breaker.release()
		} else {
			b.recordOutcome(true)
		}
		logging.LogAPICall(b.logger, method, endpoint, time.Since(start), err)
		return nil, 0, apperrors.NewRequestError(method, endpoint, 0, err)
	}
	defer resp.Body.Close()
	b.recordOutcome(resp.StatusCode >= http.StatusInternalServerError)

	env := &envelope{}
	if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
		err = fmt.Errorf("decoding response: %w", err)
		logging.LogAPICall(b.logger, method, endpoint, time.Since(start), err)
		return nil, resp.StatusCode, apperrors.NewRequestError(method, endpoint, resp.StatusCode, err)
	}

	logging.LogAPICall(b.logger, method, endpoint, time.Since(start), nil)
	return env, resp.StatusCode, nil
}

func (b *HTTPBackend) recordOutcome(failed bool) {
	before := b.breaker.State()
	b.breaker.record(failed)
	if after := b.breaker.State(); after != before {
		b.logger.Warn().Str("from", string(before)).Str("to", string(after)).Msg("Backend breaker state changed")
	}
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

func messageOr(env *envelope, fallback string) string {
	if env != nil && env.Message != "" {
		return env.Message
	}
	return fallback
}

func unexpected(method, endpoint string, status int, env *envelope) error {
	return apperrors.NewRequestError(method, endpoint, status, apperrors.New(messageOr(env, "unexpected response")))
}

var _ Backend = (*HTTPBackend)(nil)
