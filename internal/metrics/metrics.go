package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "klynaa_realtime"

// Collector holds the agent's Prometheus metrics.
type Collector struct {
	connectionsOpen      *prometheus.GaugeVec
	connectionsOpened    *prometheus.CounterVec
	connectionsClosed    *prometheus.CounterVec
	reconnectAttempts    *prometheus.CounterVec
	reconnectDelay       *prometheus.HistogramVec
	reconnectsExhausted  *prometheus.CounterVec
	messagesReceived     *prometheus.CounterVec
	parseErrors          *prometheus.CounterVec
	sendsRejected        *prometheus.CounterVec
	journalInserts       prometheus.Counter
	journalConflicts     prometheus.Counter
	journalErrors        prometheus.Counter
	journalDropped       prometheus.Counter
	locationUpdatesTotal *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with registerer.
func NewCollector(registerer prometheus.Registerer) *Collector {
	f := promauto.With(registerer)
	return &Collector{
		connectionsOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of open realtime connections by channel kind",
		}, []string{"kind"}),
		connectionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Total number of realtime connections opened",
		}, []string{"kind"}),
		connectionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total number of realtime connections closed by close code",
		}, []string{"kind", "code"}),
		reconnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		}, []string{"kind"}),
		reconnectDelay: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each reconnect attempt",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to 64s
		}, []string{"kind"}),
		reconnectsExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_exhausted_total",
			Help:      "Total number of connections that gave up reconnecting",
		}, []string{"kind"}),
		messagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of inbound frames by message type",
		}, []string{"kind", "type"}),
		parseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Total number of inbound frames that were not valid envelopes",
		}, []string{"kind"}),
		sendsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_rejected_total",
			Help:      "Total number of commands dropped because the connection was not open",
		}, []string{"kind"}),
		journalInserts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_inserts_total",
			Help:      "Total number of events written to the journal",
		}),
		journalConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_conflicts_total",
			Help:      "Total number of journal inserts skipped as duplicates",
		}),
		journalErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_errors_total",
			Help:      "Total number of failed journal batch writes",
		}),
		journalDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_dropped_total",
			Help:      "Total number of events dropped because the journal buffer was full",
		}),
		locationUpdatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_updates_total",
			Help:      "Total number of location samples by outcome",
		}, []string{"outcome"}),
	}
}

// ConnectionOpened records a connection reaching the open state.
func (c *Collector) ConnectionOpened(kind string) {
	c.connectionsOpen.WithLabelValues(kind).Inc()
	c.connectionsOpened.WithLabelValues(kind).Inc()
}

// ConnectionClosed records an open connection closing with code.
func (c *Collector) ConnectionClosed(kind string, code int) {
	c.connectionsOpen.WithLabelValues(kind).Dec()
	c.connectionsClosed.WithLabelValues(kind, strconv.Itoa(code)).Inc()
}

func (c *Collector) ReconnectScheduled(kind string, attempt int, delay time.Duration) {
	c.reconnectAttempts.WithLabelValues(kind).Inc()
	c.reconnectDelay.WithLabelValues(kind).Observe(delay.Seconds())
}

func (c *Collector) ReconnectExhausted(kind string) {
	c.reconnectsExhausted.WithLabelValues(kind).Inc()
}

func (c *Collector) MessageReceived(kind, msgType string) {
	c.messagesReceived.WithLabelValues(kind, msgType).Inc()
}

func (c *Collector) ParseError(kind string) {
	c.parseErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) SendRejected(kind string) {
	c.sendsRejected.WithLabelValues(kind).Inc()
}

func (c *Collector) JournalFlushed(inserted, conflicts int) {
	c.journalInserts.Add(float64(inserted))
	c.journalConflicts.Add(float64(conflicts))
}

func (c *Collector) JournalError() {
	c.journalErrors.Inc()
}

func (c *Collector) JournalDropped() {
	c.journalDropped.Inc()
}

// LocationSampled records one tracking tick. ok is false when the locator
// failed or the update could not be sent.
func (c *Collector) LocationSampled(ok bool) {
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	c.locationUpdatesTotal.WithLabelValues(outcome).Inc()
}
