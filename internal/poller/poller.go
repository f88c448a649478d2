package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klynaa/realtime/internal/api"
	"github.com/klynaa/realtime/internal/protocol"
)

// PickupSource lists pickups. *api.Client satisfies it.
type PickupSource interface {
	ListAllPickups(ctx context.Context, opts api.ListPickupsOptions) ([]api.Pickup, error)
}

// Handler receives each polled assignment list.
type Handler func(protocol.Assignments)

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval
	Timeout  time.Duration // Per-cycle timeout
	Statuses []string      // Pickup statuses that count as open assignments
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Minute,
		Timeout:  30 * time.Second,
		Statuses: []string{api.PickupAccepted, api.PickupInProgress},
	}
}

// Poller periodically fetches the worker's assignments via REST while the
// realtime channel is down.
type Poller struct {
	cfg      Config
	source   PickupSource
	workerID string
	live     func() bool
	handler  Handler
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. live reports whether the realtime channel is
// open; nil means never.
func New(cfg Config, source PickupSource, workerID string, live func() bool, handler Handler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = def.Statuses
	}
	if live == nil {
		live = func() bool { return false }
	}
	return &Poller{
		cfg:      cfg,
		source:   source,
		workerID: workerID,
		live:     live,
		handler:  handler,
		logger:   logger.With("component", "poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("assignment poller started",
		"interval", p.cfg.Interval,
		"statuses", p.cfg.Statuses,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("assignment poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one cycle unless the channel is live. It reports whether a
// list was delivered.
func (p *Poller) poll() bool {
	if p.live() {
		p.logger.Debug("realtime channel open, skipping poll")
		return false
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	list, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn("failed to poll assignments", "error", err)
		return false
	}

	p.logger.Info("poll cycle complete",
		"assignments", len(list.Assignments),
		"duration", time.Since(start),
	)

	if p.handler != nil {
		p.handler(list)
	}
	return true
}

// fetch lists every configured status concurrently.
func (p *Poller) fetch(ctx context.Context) (protocol.Assignments, error) {
	results := make([][]api.Pickup, len(p.cfg.Statuses))

	g, gctx := errgroup.WithContext(ctx)
	for i, status := range p.cfg.Statuses {
		g.Go(func() error {
			pickups, err := p.source.ListAllPickups(gctx, api.ListPickupsOptions{
				Status: status,
				Worker: p.workerID,
			})
			if err != nil {
				return err
			}
			results[i] = pickups
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return protocol.Assignments{}, err
	}

	seen := make(map[int64]bool)
	list := protocol.Assignments{Assignments: []protocol.Assignment{}}
	for _, pickups := range results {
		for _, pk := range pickups {
			if seen[pk.ID] {
				continue
			}
			seen[pk.ID] = true
			list.Assignments = append(list.Assignments, pk.Assignment())
		}
	}
	sort.Slice(list.Assignments, func(i, j int) bool {
		return list.Assignments[i].PickupID < list.Assignments[j].PickupID
	})
	return list, nil
}
