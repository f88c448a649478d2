package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/klynaa/realtime/internal/config"
	"github.com/klynaa/realtime/internal/connection"
	"github.com/klynaa/realtime/internal/database"
	"github.com/klynaa/realtime/internal/geo"
	"github.com/klynaa/realtime/internal/journal"
	"github.com/klynaa/realtime/internal/metrics"
	"github.com/klynaa/realtime/internal/poller"
	"github.com/klynaa/realtime/internal/protocol"
	"github.com/klynaa/realtime/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// errReconnectExhausted ends a command whose channel gave up reconnecting.
var errReconnectExhausted = errors.New("realtime channel gave up reconnecting")

// agent wires one worker session to its supporting components.
type agent struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector

	mgr     connection.Manager
	session *worker.Session

	pool    *pgxpool.Pool
	journal *journal.Writer

	source poller.PickupSource
	poller *poller.Poller

	failed chan int
}

// newAgent builds the manager and session for workerID. It does not
// connect.
func newAgent(cfg *config.Config, workerID, accessToken string, logger *slog.Logger, opts ...connection.Option) (*agent, error) {
	a := &agent{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		failed:   make(chan int, 1),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.collector = metrics.NewCollector(a.registry)

	var locator geo.Locator
	if len(cfg.Worker.Route) > 0 {
		var err error
		if locator, err = geo.New(cfg.Worker.Route); err != nil {
			return nil, fmt.Errorf("build locator: %w", err)
		}
	}

	a.mgr = newManager(cfg.Realtime, logger, append([]connection.Option{connection.WithRecorder(a.collector)}, opts...)...)
	a.session = worker.NewSession(a.mgr, workerID, accessToken, locator,
		worker.WithLogger(logger),
		worker.WithRecorder(a.collector),
	)
	a.subscribe()

	return a, nil
}

// newManager builds a connection manager from the realtime config. Later
// options override earlier ones.
func newManager(rc config.RealtimeConfig, logger *slog.Logger, opts ...connection.Option) connection.Manager {
	dialer := connection.NewDialer(connection.ClientConfig{
		HandshakeTimeout: rc.HandshakeTimeout,
		WriteTimeout:     rc.WriteTimeout,
		PingInterval:     rc.PingInterval,
		PingTimeout:      rc.PingTimeout,
		ReadLimit:        rc.ReadLimit,
	}, logger)

	base := []connection.Option{
		connection.WithDialer(dialer),
		connection.WithLogger(logger),
	}
	return connection.NewManager(connection.ManagerConfig{
		BaseURL:              rc.BaseURL,
		MaxReconnectAttempts: rc.ReconnectAttempts(),
		ReconnectBaseDelay:   rc.ReconnectBaseDelay,
		ReconnectMaxDelay:    rc.ReconnectMaxDelay,
	}, append(base, opts...)...)
}

// subscribe installs the agent's event handling on the session.
func (a *agent) subscribe() {
	s := a.session
	wc := a.cfg.Worker

	s.OnConnected(func() {
		a.logger.Info("worker channel open")
		if !s.UpdateStatus(wc.Active) {
			a.logger.Warn("failed to publish worker status", "active", wc.Active)
		}
	})

	s.OnDisconnected(func(code int) {
		if code == connection.CloseNormal {
			a.logger.Info("worker channel closed", "code", code)
			return
		}
		a.logger.Warn("worker channel dropped", "code", code)
	})

	s.OnReconnecting(func(ev connection.Event) {
		a.logger.Info("reconnecting worker channel", "attempt", ev.Attempt, "delay", ev.Delay)
	})

	s.OnReconnectionFailed(func(attempts int) {
		select {
		case a.failed <- attempts:
		default:
		}
	})

	s.OnError(func(err error) {
		var serr protocol.ServerError
		if errors.As(err, &serr) {
			a.logger.Warn("server reported error", "code", serr.Code, "message", serr.Message)
			return
		}
		a.logger.Error("worker channel error", "error", err)
	})

	s.OnAssignments(a.handleAssignments)

	s.OnNewAssignment(func(na protocol.NewAssignment) {
		a.logger.Info("new assignment",
			"pickup", na.PickupID,
			"address", na.Address,
			"waste_type", na.WasteType,
		)
		if !wc.AutoAccept {
			return
		}
		if s.AcceptPickup(na.PickupID) {
			a.logger.Info("accepted pickup", "pickup", na.PickupID)
		} else {
			a.logger.Warn("failed to accept pickup", "pickup", na.PickupID)
		}
	})

	s.OnRouteUpdate(func(ru protocol.RouteUpdate) {
		a.logger.Info("route updated",
			"pickup", ru.PickupID,
			"waypoints", len(ru.Waypoints),
			"distance_km", ru.DistanceKm,
			"eta_minutes", ru.EstimatedMinutes,
		)
	})

	s.OnPickupCancelled(func(pc protocol.PickupCancelled) {
		a.logger.Info("pickup cancelled", "pickup", pc.PickupID, "reason", pc.Reason)
	})
}

func (a *agent) handleAssignments(list protocol.Assignments) {
	ids := make([]int64, 0, len(list.Assignments))
	for _, as := range list.Assignments {
		ids = append(ids, as.PickupID)
	}
	a.logger.Info("assignments received", "count", len(ids), "pickups", ids)
}

// startPoller starts REST polling for assignments while the worker channel
// is down.
func (a *agent) startPoller(ctx context.Context) error {
	p := poller.New(poller.Config{Interval: a.cfg.Worker.FallbackPollInterval}, a.source,
		a.session.WorkerID(), a.session.IsConnected, a.handleAssignments, a.logger)
	if err := p.Start(ctx); err != nil {
		return err
	}
	a.poller = p
	return nil
}

// startJournal connects to PostgreSQL and starts journaling the worker
// channel's messages.
func (a *agent) startJournal(ctx context.Context) error {
	jc := a.cfg.Journal

	pool, err := database.Connect(ctx, jc.Database, a.logger)
	if err != nil {
		return err
	}
	if err := journal.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return err
	}

	w := journal.NewWriter(journal.Config{
		BatchSize:     jc.BatchSize,
		FlushInterval: jc.FlushInterval,
		BufferSize:    jc.BufferSize,
	}, pool, a.logger, journal.WithRecorder(a.collector))
	if err := w.Start(ctx); err != nil {
		pool.Close()
		return err
	}

	a.mgr.On(a.session.ID(), connection.EventMessage, w.Handler())
	a.pool = pool
	a.journal = w
	return nil
}

func (a *agent) healthChecks() map[string]metrics.Check {
	checks := map[string]metrics.Check{
		"worker_channel": func(context.Context) error {
			if !a.session.IsConnected() {
				return fmt.Errorf("state %s", a.mgr.State(a.session.ID()))
			}
			return nil
		},
	}
	if a.pool != nil {
		checks["journal_database"] = func(ctx context.Context) error {
			return a.pool.Ping(ctx)
		}
	}
	return checks
}

// run connects the session and blocks until ctx is cancelled or the channel
// fails for good. Components are shut down before it returns.
func (a *agent) run(ctx context.Context) error {
	if a.cfg.Journal.Enabled {
		if err := a.startJournal(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
	}
	defer a.shutdown()

	if err := a.session.Connect(ctx); err != nil {
		return fmt.Errorf("connect worker channel: %w", err)
	}

	if a.source != nil && a.cfg.Worker.FallbackPollInterval > 0 {
		if err := a.startPoller(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}

	if len(a.cfg.Worker.Route) > 0 {
		if err := a.session.StartLocationTracking(a.cfg.Worker.TrackingInterval); err != nil {
			return fmt.Errorf("start location tracking: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		handler := metrics.Handler(a.registry, a.cfg.Metrics.Path, a.healthChecks())
		g.Go(func() error {
			return metrics.Serve(gctx, a.cfg.Metrics.Port, handler, a.logger)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case attempts := <-a.failed:
			return fmt.Errorf("%w after %d attempts", errReconnectExhausted, attempts)
		}
	})

	a.logger.Info("worker agent running",
		"worker_conn", a.session.ID(),
		"tracking", a.session.IsTracking(),
		"journal", a.journal != nil,
		"fallback_poll", a.poller != nil,
		"metrics", a.cfg.Metrics.Enabled,
	)

	return g.Wait()
}

func (a *agent) shutdown() {
	a.logger.Info("shutting down worker agent")

	if a.poller != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.poller.Stop(stopCtx); err != nil {
			a.logger.Warn("poller stop incomplete", "error", err)
		}
		cancel()
	}

	a.session.Disconnect()
	a.mgr.Close()

	if a.journal != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.journal.Stop(stopCtx); err != nil {
			a.logger.Warn("journal stop incomplete", "error", err, "pending", a.journal.Pending())
		}
		cancel()
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("worker agent stopped")
}
