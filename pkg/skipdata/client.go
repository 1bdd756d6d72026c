// Package skipdata is a client for the SkipData person-search API:
// token login plus search by property address.
package skipdata

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/propflow/skiptrace-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://api.skipdata.io/v2"

	// The provider allows 10 searches per second per API key.
	defaultRateLimit = 10.0

	// Fallback token lifetime when the login response omits expiresIn.
	defaultTokenTTL = 10 * time.Minute
)

// ErrNoMatch is returned when the provider has no person data for the
// searched address.
var ErrNoMatch = eris.New("skipdata: no match")

// SearchRequest is the body for POST /search.
type SearchRequest struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Street    string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
}

// SearchResponse is the response from POST /search.
type SearchResponse struct {
	Results []Person `json:"results"`
}

// Person is one matched individual.
type Person struct {
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	FullName   string    `json:"fullName"`
	Age        int       `json:"age,omitempty"`
	IsDeceased bool      `json:"isDeceased,omitempty"`
	Phones     []Phone   `json:"phones,omitempty"`
	Emails     []string  `json:"emails,omitempty"`
	Addresses  []Address `json:"addresses,omitempty"`
}

// Phone is one phone number on a person record.
type Phone struct {
	Number       string     `json:"number"`
	Type         string     `json:"type,omitempty"`
	Carrier      string     `json:"carrier,omitempty"`
	Disconnected bool       `json:"disconnected,omitempty"`
	LastSeen     *time.Time `json:"lastSeen,omitempty"`
}

// Address is one known address on a person record, most recent first.
type Address struct {
	Street string `json:"address"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

type loginRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit sets the requests-per-second limit for search calls.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithRetry overrides the retry configuration for search calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// Client performs authenticated searches against the SkipData API.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	http         *http.Client
	limiter      *rate.Limiter
	retry        resilience.RetryConfig

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient creates a SkipData API client.
func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("skipdata search")
	}
	return c
}

// Search looks up persons at the given address, retrying transient
// failures. Returns ErrNoMatch when the provider knows nothing about
// the address.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Person, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "skipdata: rate limit wait")
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]Person, error) {
		return c.doSearch(ctx, req)
	})
}

func (c *Client) doSearch(ctx context.Context, req SearchRequest) ([]Person, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	status, body, header, err := c.post(ctx, "/search", token, req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// Token expired server-side; log in again once.
		c.invalidateToken()
		token, err = c.ensureToken(ctx)
		if err != nil {
			return nil, err
		}
		status, body, header, err = c.post(ctx, "/search", token, req)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusNotFound:
		return nil, ErrNoMatch
	case resilience.IsTransientHTTPStatus(status):
		te := resilience.NewTransientError(
			eris.Errorf("skipdata: search status %d: %s", status, string(body)), status)
		te.RetryAfter = retryAfter(header)
		return nil, te
	default:
		return nil, eris.Errorf("skipdata: search status %d: %s", status, string(body))
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "skipdata: unmarshal search response")
	}
	if len(result.Results) == 0 {
		return nil, ErrNoMatch
	}
	return result.Results, nil
}

// ensureToken returns a valid bearer token, logging in when the cached
// one is missing or within 30s of expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExp) > 30*time.Second {
		return c.token, nil
	}

	status, body, _, err := c.post(ctx, "/apikeylogin", "", loginRequest{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
	})
	if err != nil {
		return "", err
	}
	if resilience.IsTransientHTTPStatus(status) {
		return "", resilience.NewTransientError(
			eris.Errorf("skipdata: login status %d: %s", status, string(body)), status)
	}
	if status != http.StatusOK {
		return "", eris.Errorf("skipdata: login status %d: %s", status, string(body))
	}

	var login loginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return "", eris.Wrap(err, "skipdata: unmarshal login response")
	}
	if login.Token == "" {
		return "", eris.New("skipdata: login returned empty token")
	}

	ttl := defaultTokenTTL
	if login.ExpiresIn > 0 {
		ttl = time.Duration(login.ExpiresIn) * time.Second
	}
	c.token = login.Token
	c.tokenExp = time.Now().Add(ttl)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) post(ctx context.Context, path, token string, payload any) (int, []byte, http.Header, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, nil, eris.Wrap(err, "skipdata: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, eris.Wrap(err, "skipdata: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, nil, eris.Wrap(err, "skipdata: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, eris.Wrap(err, "skipdata: read response")
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

// retryAfter parses a seconds-valued Retry-After header.
func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	secs, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
