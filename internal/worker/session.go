package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klynaa/realtime/internal/clock"
	"github.com/klynaa/realtime/internal/connection"
	"github.com/klynaa/realtime/internal/geo"
	"github.com/klynaa/realtime/internal/protocol"
)

var (
	ErrInvalidInterval = errors.New("tracking interval must be positive")
	ErrNoLocator       = errors.New("session has no locator")
)

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock driving location tracking.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Recorder receives location tracking outcomes.
type Recorder interface {
	LocationSampled(ok bool)
}

// WithRecorder reports tracking ticks to r.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		s.recorder = r
	}
}

// Session is one worker's live channel.
type Session struct {
	mgr      connection.Manager
	workerID string
	token    string
	id       connection.ConnectionID
	locator  geo.Locator
	clock    clock.Clock
	logger   *slog.Logger
	recorder Recorder

	mu       sync.Mutex
	wired    bool
	tracking bool
	timer    clock.Timer
	trackGen uint64
	cancel   context.CancelFunc
}

// NewSession creates a session for workerID. locator may be nil when
// location tracking is not used.
func NewSession(mgr connection.Manager, workerID, authToken string, locator geo.Locator, opts ...Option) *Session {
	s := &Session{
		mgr:      mgr,
		workerID: workerID,
		token:    authToken,
		id:       connection.NewConnectionID(connection.KindWorker, workerID),
		locator:  locator,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("worker", workerID, "session", uuid.NewString())

	return s
}

// WorkerID returns the worker this session acts for.
func (s *Session) WorkerID() string {
	return s.workerID
}

// ID returns the session's connection id.
func (s *Session) ID() connection.ConnectionID {
	return s.id
}

// Connect opens the worker channel. Every time the channel opens, including
// after automatic reconnects, the session asks for the current assignments.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.wired {
		s.wired = true
		s.mgr.On(s.id, connection.EventConnected, func(connection.Event) {
			if !s.GetAssignments() {
				s.logger.Warn("failed to request assignments")
			}
		})
	}
	s.mu.Unlock()

	return s.mgr.Connect(ctx, connection.KindWorker, s.workerID, s.token)
}

// Disconnect stops location tracking, then closes the channel.
func (s *Session) Disconnect() {
	s.StopLocationTracking()
	s.mgr.Disconnect(s.id)
}

// IsConnected reports whether the worker channel is open.
func (s *Session) IsConnected() bool {
	return s.mgr.IsConnected(s.id)
}

// UpdateLocation reports a position.
func (s *Session) UpdateLocation(lat, lng float64) bool {
	return s.mgr.Send(s.id, protocol.UpdateLocation{Lat: lat, Lng: lng})
}

// UpdateStatus toggles whether the worker accepts new pickups.
func (s *Session) UpdateStatus(active bool) bool {
	return s.mgr.Send(s.id, protocol.UpdateStatus{IsActive: active})
}

// AcceptPickup claims an offered pickup.
func (s *Session) AcceptPickup(pickupID int64) bool {
	return s.mgr.Send(s.id, protocol.AcceptPickup{PickupID: pickupID})
}

// CompletePickup marks a pickup done. A zero completedAt means now.
func (s *Session) CompletePickup(pickupID int64, completedAt time.Time) bool {
	if completedAt.IsZero() {
		completedAt = s.clock.Now()
	}
	return s.mgr.Send(s.id, protocol.CompletePickup{PickupID: pickupID, CompletedTime: completedAt.UTC()})
}

// GetAssignments asks the server to push the current assignment list.
func (s *Session) GetAssignments() bool {
	return s.mgr.Send(s.id, protocol.GetAssignments{})
}

// StartLocationTracking samples the locator every interval and reports each
// position read. Read failures are logged and tracking continues. Calling it
// while tracking does nothing.
func (s *Session) StartLocationTracking(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if s.locator == nil {
		return ErrNoLocator
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracking {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.tracking = true
	s.cancel = cancel
	s.trackGen++
	gen := s.trackGen
	s.timer = s.clock.AfterFunc(interval, func() { s.sample(ctx, gen, interval) })

	s.logger.Info("location tracking started", "interval", interval)
	return nil
}

// StopLocationTracking cancels the tracking timer. Safe to call repeatedly.
func (s *Session) StopLocationTracking() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tracking {
		return
	}
	s.tracking = false
	s.trackGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.logger.Info("location tracking stopped")
}

// IsTracking reports whether location tracking is active.
func (s *Session) IsTracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

// sample reads one position and re-arms the timer.
func (s *Session) sample(ctx context.Context, gen uint64, interval time.Duration) {
	if !s.isTrackGen(gen) {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, interval)
	pos, err := s.locator.CurrentPosition(readCtx)
	cancel()

	if err != nil {
		s.logger.Warn("failed to read position", "error", err)
		s.recordSample(false)
	} else {
		sent, current := s.sendSample(gen, pos)
		if !current {
			return
		}
		if !sent {
			s.logger.Debug("location update not sent, channel not open", "position", pos)
		}
		s.recordSample(sent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracking && s.trackGen == gen {
		s.timer = s.clock.AfterFunc(interval, func() { s.sample(ctx, gen, interval) })
	}
}

// sendSample reports pos if gen is still the tracking generation. s.mu is
// held across the send so StopLocationTracking cannot return while an update
// is in flight.
func (s *Session) sendSample(gen uint64, pos geo.Position) (sent, current bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracking || s.trackGen != gen {
		return false, false
	}
	return s.UpdateLocation(pos.Lat, pos.Lng), true
}

func (s *Session) recordSample(ok bool) {
	if s.recorder != nil {
		s.recorder.LocationSampled(ok)
	}
}

func (s *Session) isTrackGen(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking && s.trackGen == gen
}
