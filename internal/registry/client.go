package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"rollcall/internal/config"
	"rollcall/internal/services"
)

const (
	defaultHTTPTimeout = 45 * time.Second
	userAgent          = "Rollcall-Go/0.1.0"
)

var errUnauthorized = errors.New("registry rejected credentials")

// Outcome classifies one verification call.
type Outcome string

const (
	OutcomeVerified  Outcome = "verified"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeTransient Outcome = "transient_error"
)

// Record is one spreadsheet row submitted for verification.
type Record struct {
	RowIndex       int
	IdentityNumber string
	Fields         map[string]string
}

// Result captures the terminal classification of a verification call.
type Result struct {
	Outcome Outcome
	Detail  string
}

// Config describes the registry client configuration.
type Config struct {
	BaseURL           string
	ClientID          string
	ClientSecret      string
	RequestsPerSecond float64
	Burst             int
	RequestTimeout    time.Duration
	ExchangeTimeout   time.Duration
	TokenSafetyMargin time.Duration
	HTTPClient        *http.Client
}

// Client wraps the identity registry REST API. All verification calls share
// one rate limiter and one cached token.
type Client struct {
	baseURL         *url.URL
	clientID        string
	clientSecret    string
	http            *http.Client
	limiter         *rate.Limiter
	tokens          *TokenCache
	requestTimeout  time.Duration
	exchangeTimeout time.Duration
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("registry: base url is required")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("registry: parse base url: %w", err)
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("registry: client credentials are required")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, errors.New("registry: requests per second must be positive")
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	exchangeTimeout := cfg.ExchangeTimeout
	if exchangeTimeout <= 0 {
		exchangeTimeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	client := &Client{
		baseURL:         baseURL,
		clientID:        strings.TrimSpace(cfg.ClientID),
		clientSecret:    strings.TrimSpace(cfg.ClientSecret),
		http:            httpClient,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		requestTimeout:  requestTimeout,
		exchangeTimeout: exchangeTimeout,
	}
	client.tokens = NewTokenCache(ExchangerFunc(client.exchangeCredentials), cfg.TokenSafetyMargin)
	return client, nil
}

// FromConfig builds a Client from application configuration.
func FromConfig(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("registry: config is nil")
	}
	return New(Config{
		BaseURL:           cfg.Registry.BaseURL,
		ClientID:          cfg.Registry.ClientID,
		ClientSecret:      cfg.Registry.ClientSecret,
		RequestsPerSecond: cfg.Registry.RequestsPerSecond,
		Burst:             cfg.Registry.Burst,
		RequestTimeout:    time.Duration(cfg.Registry.RequestTimeout) * time.Second,
		ExchangeTimeout:   time.Duration(cfg.Registry.ExchangeTimeout) * time.Second,
		TokenSafetyMargin: time.Duration(cfg.Registry.TokenSafetyMargin) * time.Second,
	})
}

// Tokens exposes the client's token cache.
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

// Verify checks one record against the registry. The call suspends on the
// shared rate limiter, attaches the cached bearer token, and retries once
// with a fresh token when the registry rejects the current one. Network and
// server failures are classified as a transient outcome rather than an
// error; a non-nil error means the context ended or authentication failed
// outright.
func (c *Client) Verify(ctx context.Context, record Record) (Result, error) {
	if c == nil {
		return Result{}, errors.New("registry: client is nil")
	}
	if strings.TrimSpace(record.IdentityNumber) == "" {
		return Result{Outcome: OutcomeNotFound, Detail: "empty identity number"}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	result, err := c.verifyOnce(ctx, record)
	if errors.Is(err, errUnauthorized) {
		c.tokens.Invalidate()
		result, err = c.verifyOnce(ctx, record)
		if errors.Is(err, errUnauthorized) {
			// A fresh token was rejected too; treat as transient and let the
			// caller's retry/abort policy decide.
			return Result{Outcome: OutcomeTransient, Detail: "registry rejected a fresh token"}, nil
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if errors.Is(err, services.ErrAuth) {
			return Result{}, err
		}
		return Result{Outcome: OutcomeTransient, Detail: err.Error()}, nil
	}
	return result, nil
}

func (c *Client) verifyOnce(ctx context.Context, record Record) (Result, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	payload := struct {
		IdentityNumber string            `json:"identity_number"`
		Fields         map[string]string `json:"fields,omitempty"`
	}{
		IdentityNumber: record.IdentityNumber,
		Fields:         record.Fields,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal verify request: %w", err)
	}

	endpoint := c.baseURL.JoinPath("identities", "verify")
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token.Value)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Result{}, errUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return Result{Outcome: OutcomeNotFound}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var decoded struct {
			Matches []json.RawMessage `json:"matches"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return Result{}, fmt.Errorf("decode verify response: %w", err)
		}
		switch len(decoded.Matches) {
		case 0:
			return Result{Outcome: OutcomeNotFound}, nil
		case 1:
			return Result{Outcome: OutcomeVerified}, nil
		default:
			return Result{
				Outcome: OutcomeAmbiguous,
				Detail:  fmt.Sprintf("%d candidate matches", len(decoded.Matches)),
			}, nil
		}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{}, fmt.Errorf("registry status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

func (c *Client) exchangeCredentials(ctx context.Context) (AccessToken, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	payload := struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		GrantType    string `json:"grant_type"`
	}{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		GrantType:    "client_credentials",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return AccessToken{}, fmt.Errorf("marshal exchange request: %w", err)
	}

	endpoint := c.baseURL.JoinPath("auth", "token")
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return AccessToken{}, fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return AccessToken{}, fmt.Errorf("exchange request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return AccessToken{}, fmt.Errorf("exchange status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return AccessToken{}, fmt.Errorf("decode exchange response: %w", err)
	}
	if strings.TrimSpace(decoded.AccessToken) == "" {
		return AccessToken{}, errors.New("exchange response missing access token")
	}

	return AccessToken{
		Value:     decoded.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second),
	}, nil
}
