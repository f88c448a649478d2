package protocol

import "time"

// Command type tags.
const (
	TypeAuthenticate   = "authenticate"
	TypeUpdateLocation = "update_location"
	TypeUpdateStatus   = "update_status"
	TypeAcceptPickup   = "accept_pickup"
	TypeCompletePickup = "complete_pickup"
	TypeGetAssignments = "get_assignments"
)

// Authenticate is sent as the first frame after the socket opens when the
// connection carries a token.
type Authenticate struct {
	Token string `json:"token"`
}

func (Authenticate) CommandType() string { return TypeAuthenticate }

// UpdateLocation reports the worker's current position.
type UpdateLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (UpdateLocation) CommandType() string { return TypeUpdateLocation }

// UpdateStatus toggles whether the worker receives new assignments.
type UpdateStatus struct {
	IsActive bool `json:"is_active"`
}

func (UpdateStatus) CommandType() string { return TypeUpdateStatus }

// AcceptPickup claims an offered pickup.
type AcceptPickup struct {
	PickupID int64 `json:"pickup_id"`
}

func (AcceptPickup) CommandType() string { return TypeAcceptPickup }

// CompletePickup marks a pickup as done.
type CompletePickup struct {
	PickupID      int64     `json:"pickup_id"`
	CompletedTime time.Time `json:"completed_time"`
}

func (CompletePickup) CommandType() string { return TypeCompletePickup }

// GetAssignments asks the server to push the worker's current assignments.
type GetAssignments struct{}

func (GetAssignments) CommandType() string { return TypeGetAssignments }
