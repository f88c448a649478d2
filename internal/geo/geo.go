// Package geo provides worker positions and the locators that produce them.
package geo

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
	ErrNoWaypoints      = errors.New("route has no waypoints")
)

// Position is a WGS84 coordinate.
type Position struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lng float64 `yaml:"lng" json:"lng"`
}

// Validate checks coordinate ranges.
func (p Position) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return ErrInvalidLatitude
	}
	if p.Lng < -180 || p.Lng > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

func (p Position) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Locator supplies the device's current position. Implementations may block
// and should honor ctx.
type Locator interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (Position, error)

func (f LocatorFunc) CurrentPosition(ctx context.Context) (Position, error) {
	return f(ctx)
}

// Static always reports the same position.
type Static struct {
	pos Position
}

// NewStatic returns a locator fixed at pos.
func NewStatic(pos Position) (*Static, error) {
	if err := pos.Validate(); err != nil {
		return nil, err
	}
	return &Static{pos: pos}, nil
}

func (s *Static) CurrentPosition(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	return s.pos, nil
}

// Route replays a list of waypoints, one per call, wrapping around at the end.
type Route struct {
	mu        sync.Mutex
	waypoints []Position
	next      int
}

// NewRoute returns a route locator. Every waypoint must be a valid position.
func NewRoute(waypoints []Position) (*Route, error) {
	if len(waypoints) == 0 {
		return nil, ErrNoWaypoints
	}
	for i, wp := range waypoints {
		if err := wp.Validate(); err != nil {
			return nil, fmt.Errorf("waypoint %d: %w", i, err)
		}
	}
	return &Route{waypoints: append([]Position(nil), waypoints...)}, nil
}

func (r *Route) CurrentPosition(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pos := r.waypoints[r.next]
	r.next = (r.next + 1) % len(r.waypoints)
	return pos, nil
}

// New picks a locator for the given waypoints: a fixed position for one,
// a replayed route for several.
func New(waypoints []Position) (Locator, error) {
	if len(waypoints) == 1 {
		return NewStatic(waypoints[0])
	}
	return NewRoute(waypoints)
}
