package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klynaa/realtime/internal/auth"
)

func newStore(access, refresh string) *auth.Store {
	return auth.NewMemoryStore(auth.Tokens{Access: access, Refresh: refresh})
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com/api/", nil)

		if c.baseURL != "https://api.example.com/api" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com/api")
		}
		if c.tokens == nil {
			t.Error("tokens should not be nil")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with multiple options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://api.example.com", newStore("a", ""),
			WithHTTPClient(customClient),
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
		)
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 10)
		}
		if c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 500*time.Millisecond)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if c.Tokens().Access() != "a" {
			t.Errorf("Tokens().Access() = %q, want a", c.Tokens().Access())
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "Not found."}
		expected := "klynaa api error 404: Not found."
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{429, true},
			{400, false},
			{401, false},
			{403, false},
			{404, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})

	t.Run("unwraps to ErrUnauthorized on 401", func(t *testing.T) {
		if !errors.Is(&APIError{StatusCode: 401}, ErrUnauthorized) {
			t.Error("401 should match ErrUnauthorized")
		}
		if errors.Is(&APIError{StatusCode: 403}, ErrUnauthorized) {
			t.Error("403 should not match ErrUnauthorized")
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("attaches bearer token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("Authorization") != "Bearer access-1" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer access-1")
			}
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, newStore("access-1", ""))
		body, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("anonymous request omits token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, newStore("access-1", ""))
		_, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test", anonymous: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("sends JSON body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			data, _ := io.ReadAll(r.Body)
			if string(data) != `{"a":1}` {
				t.Errorf("body = %s", data)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.doRequest(context.Background(), request{method: http.MethodPost, path: "/test", body: []byte(`{"a":1}`)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error uses detail message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "Not found."}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"})

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if apiErr.Message != "Not found." {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Not found.")
		}
	})

	t.Run("401 clears the token store", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail": "Given token not valid for any token type"}`))
		}))
		defer server.Close()

		store := newStore("expired", "refresh")
		c := NewClient(server.URL, store)
		_, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/pickups/"})

		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("error = %v, want ErrUnauthorized", err)
		}
		if got := store.Tokens(); got != (auth.Tokens{}) {
			t.Errorf("tokens after 401 = %+v, want empty", got)
		}
	})

	t.Run("anonymous 401 keeps the token store", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		store := newStore("access", "refresh")
		c := NewClient(server.URL, store)
		_, err := c.doRequest(context.Background(), request{method: http.MethodPost, path: "/users/token/", anonymous: true})

		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("error = %v, want ErrUnauthorized", err)
		}
		if store.Access() != "access" {
			t.Error("anonymous 401 should not clear tokens")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, request{method: http.MethodGet, path: "/test"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and resends the body", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			if string(data) != `{"x":1}` {
				t.Errorf("attempt body = %q", data)
			}
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), request{method: http.MethodPost, path: "/test", body: []byte(`{"x":1}`)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q", body)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("does not retry 4xx", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), request{method: http.MethodGet, path: "/test"}); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), request{method: http.MethodGet, path: "/test"})
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("error = %v, want max retries exceeded", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})
}

func TestObtainToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/users/token/" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["username"] != "wanjiru" || creds["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail": "No active account found with the given credentials"}`))
			return
		}
		w.Write([]byte(`{"access": "a1", "refresh": "r1"}`))
	}))
	defer server.Close()

	store := newStore("", "")
	c := NewClient(server.URL, store)

	tokens, err := c.ObtainToken(context.Background(), "wanjiru", "secret")
	if err != nil {
		t.Fatalf("ObtainToken failed: %v", err)
	}
	if tokens != (auth.Tokens{Access: "a1", Refresh: "r1"}) {
		t.Errorf("tokens = %+v", tokens)
	}
	if store.Access() != "a1" {
		t.Errorf("store access = %q, want a1", store.Access())
	}

	_, err = c.ObtainToken(context.Background(), "wanjiru", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "No active account found with the given credentials" {
		t.Errorf("error = %v", err)
	}
}

func TestRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/token/refresh/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh"] != "r1" {
			t.Errorf("refresh = %q, want r1", body["refresh"])
		}
		w.Write([]byte(`{"access": "a2"}`))
	}))
	defer server.Close()

	store := newStore("a1", "r1")
	c := NewClient(server.URL, store)

	tokens, err := c.RefreshToken(context.Background())
	if err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}
	if tokens != (auth.Tokens{Access: "a2", Refresh: "r1"}) {
		t.Errorf("tokens = %+v", tokens)
	}

	empty := NewClient(server.URL, nil)
	if _, err := empty.RefreshToken(context.Background()); !errors.Is(err, auth.ErrNoToken) {
		t.Errorf("RefreshToken without refresh token error = %v, want ErrNoToken", err)
	}
}

func TestListAllPickups(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.URL.Path != "/pickups/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("status") != PickupAccepted {
			t.Errorf("status = %q", r.URL.Query().Get("status"))
		}

		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"count": 3, "next": "http://x/pickups/?page=2", "previous": null,
				"results": [{"id": 1, "status": "accepted", "latitude": "-1.2921", "longitude": "36.8219"},
				            {"id": 2, "status": "accepted", "latitude": "0", "longitude": "0"}]}`))
		case "2":
			w.Write([]byte(`{"count": 3, "next": null, "previous": "http://x/pickups/?page=1",
				"results": [{"id": 3, "status": "accepted", "latitude": "0", "longitude": "0"}]}`))
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, newStore("a", ""))
	pickups, err := c.ListAllPickups(context.Background(), ListPickupsOptions{Status: PickupAccepted})
	if err != nil {
		t.Fatalf("ListAllPickups failed: %v", err)
	}
	if len(pickups) != 3 {
		t.Fatalf("got %d pickups, want 3", len(pickups))
	}
	if pickups[0].Latitude != -1.2921 || pickups[0].Longitude != 36.8219 {
		t.Errorf("pickup[0] location = %v,%v", pickups[0].Latitude, pickups[0].Longitude)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestListPickups_BareArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(` [{"id": 7, "status": "pending", "latitude": "1", "longitude": "2"}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	page, err := c.ListPickups(context.Background(), ListPickupsOptions{})
	if err != nil {
		t.Fatalf("ListPickups failed: %v", err)
	}
	if page.Count != 1 || page.Results[0].ID != 7 || page.Next != nil {
		t.Errorf("page = %+v", page)
	}
}

func TestGetPickup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pickups/12/" {
			t.Errorf("path = %s, want /pickups/12/", r.URL.Path)
		}
		w.Write([]byte(`{"id": 12, "bin": 4, "status": "accepted", "waste_type": "recyclable",
			"address": "Moi Avenue", "latitude": "-1.28", "longitude": "36.82", "price": "150.00",
			"scheduled_time": "2025-03-01T09:00:00Z", "created_at": "2025-02-28T10:00:00Z"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	p, err := c.GetPickup(context.Background(), 12)
	if err != nil {
		t.Fatalf("GetPickup failed: %v", err)
	}

	a := p.Assignment()
	if a.PickupID != 12 || a.BinID != 4 || a.Earnings != "150.00" || a.WasteType != "recyclable" {
		t.Errorf("assignment = %+v", a)
	}
	if a.Location == nil || a.Location.Lat != -1.28 {
		t.Errorf("assignment location = %+v", a.Location)
	}
	if a.ScheduledTime == nil || !a.ScheduledTime.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("scheduled time = %v", a.ScheduledTime)
	}
}

func TestGetPickup_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "Not found."}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	_, err := c.GetPickup(context.Background(), 99)
	if err == nil || !strings.Contains(err.Error(), "get pickup 99") {
		t.Fatalf("error = %v", err)
	}
}

func TestListBins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bins/" || r.URL.Query().Get("page") != "2" {
			t.Errorf("request = %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Write([]byte(`{"count": 1, "next": null, "previous": null,
			"results": [{"id": 4, "label": "Kitchen", "fill_level": 80, "latitude": "1.5", "longitude": "2.5"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	page, err := c.ListBins(context.Background(), ListBinsOptions{Page: 2})
	if err != nil {
		t.Fatalf("ListBins failed: %v", err)
	}
	if len(page.Results) != 1 || page.Results[0].FillLevel != 80 || page.Results[0].Latitude != 1.5 {
		t.Errorf("bins = %+v", page.Results)
	}
}
