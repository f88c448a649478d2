package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/klynaa/realtime/internal/connection"
	"github.com/klynaa/realtime/internal/journal"
)

var (
	_ connection.Recorder = (*Collector)(nil)
	_ journal.Recorder    = (*Collector)(nil)
)

func scrape(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return rec.Code, string(body)
}

func TestCollector_ConnectionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ConnectionOpened("worker")
	c.ConnectionOpened("pickup")
	c.ConnectionClosed("pickup", 1006)
	c.ReconnectScheduled("pickup", 1, time.Second)
	c.ReconnectExhausted("pickup")
	c.MessageReceived("worker", "new_assignment")
	c.MessageReceived("worker", "new_assignment")
	c.ParseError("worker")
	c.SendRejected("worker")

	_, body := scrape(t, Handler(reg, "", nil), "/metrics")

	want := []string{
		`klynaa_realtime_connections_open{kind="worker"} 1`,
		`klynaa_realtime_connections_open{kind="pickup"} 0`,
		`klynaa_realtime_connections_closed_total{code="1006",kind="pickup"} 1`,
		`klynaa_realtime_reconnect_attempts_total{kind="pickup"} 1`,
		`klynaa_realtime_reconnects_exhausted_total{kind="pickup"} 1`,
		`klynaa_realtime_messages_received_total{kind="worker",type="new_assignment"} 2`,
		`klynaa_realtime_parse_errors_total{kind="worker"} 1`,
		`klynaa_realtime_sends_rejected_total{kind="worker"} 1`,
	}
	for _, line := range want {
		if !strings.Contains(body, line) {
			t.Errorf("metrics output missing %q", line)
		}
	}
}

func TestCollector_JournalMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.JournalFlushed(8, 2)
	c.JournalError()
	c.JournalDropped()
	c.JournalDropped()
	c.LocationSampled(true)
	c.LocationSampled(false)

	_, body := scrape(t, Handler(reg, "/custom", nil), "/custom")

	want := []string{
		`klynaa_realtime_journal_inserts_total 8`,
		`klynaa_realtime_journal_conflicts_total 2`,
		`klynaa_realtime_journal_errors_total 1`,
		`klynaa_realtime_journal_dropped_total 2`,
		`klynaa_realtime_location_updates_total{outcome="sent"} 1`,
		`klynaa_realtime_location_updates_total{outcome="failed"} 1`,
	}
	for _, line := range want {
		if !strings.Contains(body, line) {
			t.Errorf("metrics output missing %q", line)
		}
	}
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("second NewCollector on the same registry should panic")
		}
	}()
	NewCollector(reg)
}

func TestHandler_Health(t *testing.T) {
	reg := prometheus.NewRegistry()
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("worker channel closed") }

	tests := []struct {
		name     string
		checks   map[string]Check
		wantCode int
		want     []string
	}{
		{"no checks", nil, http.StatusOK, []string{`"status":"healthy"`}},
		{"healthy", map[string]Check{"worker_channel": ok}, http.StatusOK, []string{`"status":"healthy"`, `"worker_channel":"ok"`}},
		{"unhealthy", map[string]Check{"worker_channel": down, "journal": ok}, http.StatusServiceUnavailable, []string{
			`"status":"unhealthy"`, "worker channel closed", `"journal":"ok"`,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := scrape(t, Handler(reg, "", tt.checks), "/health")
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			for _, w := range tt.want {
				if !strings.Contains(body, w) {
					t.Errorf("body = %s, want it to contain %s", body, w)
				}
			}
		})
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, 0, http.NotFoundHandler(), nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
