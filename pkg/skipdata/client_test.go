package skipdata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propflow/skiptrace-cli/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

// testServer serves /apikeylogin and delegates /search to the handler.
func testServer(t *testing.T, logins *atomic.Int32, search http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/apikeylogin":
			var req loginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-id", req.ClientID)
			assert.Equal(t, "test-secret", req.ClientSecret)
			logins.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"tok-1","expiresIn":600}`))
		case "/search":
			search(w, r)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestSearch_Success(t *testing.T) {
	var logins atomic.Int32
	srv := testServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "12 Oak St", req.Street)
		assert.Equal(t, "97201", req.Zip)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{
			"firstName":"Alice","lastName":"Oakley","fullName":"Alice Oakley","age":52,
			"phones":[{"number":"5035550101","type":"Mobile","carrier":"Verizon"}],
			"emails":["alice@example.com"],
			"addresses":[{"address":"12 Oak St","city":"Portland","state":"OR","zip":"97201"}]
		}]}`))
	})
	defer srv.Close()

	client := NewClient("test-id", "test-secret", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	persons, err := client.Search(context.Background(), SearchRequest{
		Street: "12 Oak St", City: "Portland", State: "OR", Zip: "97201",
	})
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, "Alice Oakley", persons[0].FullName)
	require.Len(t, persons[0].Phones, 1)
	assert.Equal(t, "5035550101", persons[0].Phones[0].Number)
	assert.Equal(t, int32(1), logins.Load())
}

func TestSearch_TokenReusedAcrossCalls(t *testing.T) {
	var logins atomic.Int32
	srv := testServer(t, &logins, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"fullName":"Alice Oakley"}]}`))
	})
	defer srv.Close()

	client := NewClient("test-id", "test-secret", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := client.Search(ctx, SearchRequest{Zip: "97201"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), logins.Load())
}

func TestSearch_ReauthenticatesOn401(t *testing.T) {
	var logins, searches atomic.Int32
	srv := testServer(t, &logins, func(w http.ResponseWriter, _ *http.Request) {
		if searches.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"token expired"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"fullName":"Alice Oakley"}]}`))
	})
	defer srv.Close()

	client := NewClient("test-id", "test-secret", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	persons, err := client.Search(context.Background(), SearchRequest{Zip: "97201"})
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, int32(2), logins.Load())
	assert.Equal(t, int32(2), searches.Load())
}

func TestSearch_EmptyResultsIsNoMatch(t *testing.T) {
	var logins atomic.Int32
	srv := testServer(t, &logins, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	defer srv.Close()

	client := NewClient("test-id", "test-secret", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := client.Search(context.Background(), SearchRequest{Zip: "97201"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestSearch_404IsNoMatch(t *testing.T) {
	var logins atomic.Int32
	srv := testServer(t, &logins, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	client := NewClient("test-id", "test-secret", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := client.Search(context.Background(), SearchRequest{Zip: "97201"})
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestSearch_Retries5xx(t *testing.T) {
	var logins, searches atomic.Int32
	srv := testServer(t, &logins, func(w http.ResponseWriter, _ *http.Request) {
		if searches.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"maintenance"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"fullName":"Alice Oakley"}]}`))
	})
	defer srv.Close()

	client := NewClient("test-id", "test-secret", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	persons, err := client.Search(context.Background(), SearchRequest{Zip: "97201"})
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, int32(3), searches.Load())
}

func TestSearch_NoRetryOn400(t *testing.T) {
	var logins, searches atomic.Int32
	srv := testServer(t, &logins, func(w http.ResponseWriter, _ *http.Request) {
		searches.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"missing zip"}`))
	})
	defer srv.Close()

	client := NewClient("test-id", "test-secret", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := client.Search(context.Background(), SearchRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), searches.Load())
}

func TestSearch_429CarriesRetryAfter(t *testing.T) {
	var logins atomic.Int32
	srv := testServer(t, &logins, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	})
	defer srv.Close()

	client := NewClient("test-id", "test-secret", WithBaseURL(srv.URL),
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	_, err := client.Search(context.Background(), SearchRequest{Zip: "97201"})
	require.Error(t, err)

	var te *resilience.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Equal(t, 7*time.Second, te.RetryAfter)
}

func TestSearch_LoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/apikeylogin", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-id", "bad-secret", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := client.Search(context.Background(), SearchRequest{Zip: "97201"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login status 403")
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), retryAfter(nil))

	h := http.Header{}
	assert.Equal(t, time.Duration(0), retryAfter(h))

	h.Set("Retry-After", "12")
	assert.Equal(t, 12*time.Second, retryAfter(h))

	h.Set("Retry-After", "Wed, 21 Oct 2026 07:28:00 GMT")
	assert.Equal(t, time.Duration(0), retryAfter(h))
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("id", "secret")
	assert.Equal(t, defaultBaseURL, c.baseURL)
	assert.NotNil(t, c.http)
	assert.NotNil(t, c.limiter)
	assert.Equal(t, 4, c.retry.MaxAttempts)
}
