package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors
var (
	ErrInvalidChannelKind = errors.New("invalid channel kind")
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no pong)")
	ErrConnectSuperseded  = errors.New("connect superseded by a newer connect")
	ErrManagerClosed      = errors.New("connection manager closed")
)

// Close codes used by the manager. Any code other than CloseNormal is
// treated as an abnormal closure and triggers reconnection.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// TransportOpenError is returned by Connect when the socket could not be
// opened.
type TransportOpenError struct {
	ID  ConnectionID
	URL string
	Err error
}

func (e *TransportOpenError) Error() string {
	return fmt.Sprintf("open %s (%s): %v", e.ID, e.URL, e.Err)
}

func (e *TransportOpenError) Unwrap() error {
	return e.Err
}

// ParseError is carried by an error event when an inbound frame is not a
// valid envelope.
type ParseError struct {
	Raw []byte
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse inbound frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Kind identifies the channel family.
type Kind string

const (
	KindWorker   Kind = "worker"
	KindPickup   Kind = "pickup"
	KindCustomer Kind = "customer"
)

var channelPaths = map[Kind]string{
	KindWorker:   "/ws/worker/%s/",
	KindPickup:   "/ws/pickups/%s/",
	KindCustomer: "/ws/customer/%s/",
}

// Path returns the channel path for an entity, or false for an unknown kind.
func (k Kind) Path(entityID string) (string, bool) {
	format, ok := channelPaths[k]
	if !ok {
		return "", false
	}
	return fmt.Sprintf(format, entityID), true
}

// ConnectionID is "kind:entityID".
type ConnectionID string

// NewConnectionID builds the id for a channel.
func NewConnectionID(kind Kind, entityID string) ConnectionID {
	return ConnectionID(string(kind) + ":" + entityID)
}

// Kind returns the kind part of the id.
func (id ConnectionID) Kind() Kind {
	kind, _, _ := strings.Cut(string(id), ":")
	return Kind(kind)
}

// EntityID returns the entity part of the id.
func (id ConnectionID) EntityID() string {
	_, entity, _ := strings.Cut(string(id), ":")
	return entity
}

// State is the lifecycle state of a connection.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing // Disconnect is closing the socket
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventName names a listener event. Lifecycle events use the constants
// below; inbound frames are also emitted under their "type" value.
type EventName string

const (
	EventConnected          EventName = "connected"
	EventDisconnected       EventName = "disconnected"
	EventMessage            EventName = "message"
	EventError              EventName = "error"
	EventReconnecting       EventName = "reconnecting"
	EventReconnectionFailed EventName = "reconnection_failed"
)

// Event is delivered to listeners.
type Event struct {
	ConnectionID ConnectionID
	Name         EventName

	// Payload is the full frame for message events, the frame's data (or the
	// full frame when data is absent) for type-routed events, and the raw
	// bytes for parse errors.
	Payload json.RawMessage

	Code    int           // disconnected
	Attempt int           // reconnecting, reconnection_failed
	Delay   time.Duration // reconnecting
	Err     error         // error, disconnected
}

// Handler receives events.
type Handler func(Event)

// ListenerID identifies a single registration made with On.
type ListenerID uint64

// ClientConfig configures the WebSocket transport.
type ClientConfig struct {
	HandshakeTimeout time.Duration // 0 = wait for ctx only
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // How often we ping the server (0 = never)
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     25 * time.Second,
		PingTimeout:      60 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	BaseURL              string        // Origin the channel paths are appended to (e.g., wss://api.klynaa.com)
	MaxReconnectAttempts int           // Automatic reconnects before giving up
	ReconnectBaseDelay   time.Duration // Delay before the first reconnect; doubles per attempt
	ReconnectMaxDelay    time.Duration // Cap on a single backoff delay (0 = uncapped)
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
	}
}

// Stats describes the manager at a point in time.
type Stats struct {
	Tracked   int // Connections known to the manager, any state
	Open      int
	Failed    int
	Listeners int
}
