package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type tags.
const (
	TypeNewAssignment   = "new_assignment"
	TypeRouteUpdate     = "route_update"
	TypePickupCancelled = "pickup_cancelled"
	TypeAssignments     = "assignments"
	TypeError           = "error"
)

// Event is a decoded inbound message.
type Event interface {
	EventType() string
}

// Location is a point on the map.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Assignment is a pickup offered to or held by a worker.
type Assignment struct {
	PickupID      int64      `json:"pickup_id"`
	BinID         int64      `json:"bin_id,omitempty"`
	Status        string     `json:"status,omitempty"`
	Address       string     `json:"address,omitempty"`
	Location      *Location  `json:"location,omitempty"`
	WasteType     string     `json:"waste_type,omitempty"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	Earnings      string     `json:"earnings,omitempty"`
}

// NewAssignment is pushed when a pickup is offered to the worker.
type NewAssignment struct {
	Assignment
}

func (NewAssignment) EventType() string { return TypeNewAssignment }

// RouteUpdate carries a recomputed route for the worker.
type RouteUpdate struct {
	PickupID         int64      `json:"pickup_id,omitempty"`
	Waypoints        []Location `json:"waypoints,omitempty"`
	DistanceKm       float64    `json:"distance_km,omitempty"`
	EstimatedMinutes int        `json:"estimated_minutes,omitempty"`
}

func (RouteUpdate) EventType() string { return TypeRouteUpdate }

// PickupCancelled is pushed when a customer or admin cancels a pickup.
type PickupCancelled struct {
	PickupID int64  `json:"pickup_id"`
	Reason   string `json:"reason,omitempty"`
}

func (PickupCancelled) EventType() string { return TypePickupCancelled }

// Assignments answers a get_assignments command.
type Assignments struct {
	Assignments []Assignment `json:"assignments"`
}

func (Assignments) EventType() string { return TypeAssignments }

// ServerError reports a rejected command.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (ServerError) EventType() string { return TypeError }

func (e ServerError) Error() string {
	if e.Code != "" {
		return "server error " + e.Code + ": " + e.Message
	}
	return "server error: " + e.Message
}

// Decode converts an envelope into its typed event.
func Decode(env Envelope) (Event, error) {
	switch env.Type {
	case "":
		return nil, ErrMissingType
	case TypeNewAssignment:
		return decodeAs[NewAssignment](env)
	case TypeRouteUpdate:
		return decodeAs[RouteUpdate](env)
	case TypePickupCancelled:
		return decodeAs[PickupCancelled](env)
	case TypeAssignments:
		return decodeAs[Assignments](env)
	case TypeError:
		return decodeAs[ServerError](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// DecodeData unmarshals a type-routed payload into T.
func DecodeData[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

func decodeAs[T Event](env Envelope) (Event, error) {
	v, err := DecodeData[T](env.Data)
	if err != nil {
		return nil, err
	}
	return v, nil
}
