package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klynaa/realtime/internal/version"
)

// Transport is a single open socket owned by the manager.
type Transport interface {
	// Start begins delivering inbound frames to h. Frames that arrive
	// before Start are held by the socket.
	Start(h TransportHandler)

	// Send writes one text frame.
	Send(data []byte) error

	// Close sends a close frame with code and tears the socket down.
	Close(code int, reason string) error
}

// TransportHandler receives callbacks from a transport's read goroutine.
// OnClose is called exactly once.
type TransportHandler struct {
	OnMessage func(data []byte)
	OnClose   func(code int, err error)
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// wsDialer dials gorilla/websocket connections.
type wsDialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewDialer creates a WebSocket dialer.
func NewDialer(cfg ClientConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsDialer{cfg: cfg, logger: logger}
}

// Dial establishes the WebSocket connection.
func (d *wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	if d.cfg.ReadLimit > 0 {
		conn.SetReadLimit(d.cfg.ReadLimit)
	}

	d.logger.Debug("websocket connected", "url", url)

	return &wsTransport{
		cfg:        d.cfg,
		logger:     d.logger.With("url", url),
		conn:       conn,
		done:       make(chan struct{}),
		lastPongAt: time.Now(),
	}, nil
}

// wsTransport implements Transport over a gorilla/websocket connection.
type wsTransport struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn
	done chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	started    bool
	closed     bool
	localCode  int
	staleErr   error
	lastPongAt time.Time
}

// Start launches the read and heartbeat goroutines.
func (t *wsTransport) Start(h TransportHandler) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	// Server pongs and pings both prove liveness.
	t.conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})
	t.conn.SetPingHandler(func(data string) error {
		t.touch()
		return t.writeControl(websocket.PongMessage, []byte(data))
	})

	go t.readLoop(h)
	if t.cfg.PingInterval > 0 {
		go t.heartbeatLoop()
	}
}

// Send writes a text frame.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close gracefully closes the connection.
func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.localCode = code
	t.mu.Unlock()

	// Signal goroutines to stop
	close(t.done)

	t.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	return t.conn.Close()
}

// writeControl may run concurrently with Send; gorilla allows it.
func (t *wsTransport) writeControl(messageType int, data []byte) error {
	return t.conn.WriteControl(messageType, data, time.Now().Add(time.Second))
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastPongAt = time.Now()
	t.mu.Unlock()
}

// readLoop reads frames until the socket fails, then reports the close once.
func (t *wsTransport) readLoop(h TransportHandler) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			code, cause := t.closeStatus(err)
			t.logger.Debug("websocket closed", "code", code, "error", cause)
			if h.OnClose != nil {
				h.OnClose(code, cause)
			}
			return
		}

		if h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}

// closeStatus maps a read error to a close code.
func (t *wsTransport) closeStatus(err error) (int, error) {
	t.mu.Lock()
	closed, localCode, stale := t.closed, t.localCode, t.staleErr
	t.mu.Unlock()

	if stale != nil {
		return CloseAbnormal, stale
	}
	if closed {
		return localCode, nil
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNoStatusReceived {
			return CloseAbnormal, err
		}
		return ce.Code, nil
	}
	return CloseAbnormal, err
}

// heartbeatLoop pings the server and drops the socket when pongs stop.
func (t *wsTransport) heartbeatLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.writeControl(websocket.PingMessage, []byte("keepalive")); err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}

			t.mu.Lock()
			lastPong := t.lastPongAt
			t.mu.Unlock()

			if t.cfg.PingTimeout > 0 && time.Since(lastPong) > t.cfg.PingTimeout {
				t.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", t.cfg.PingTimeout,
				)
				t.mu.Lock()
				t.staleErr = ErrStaleConnection
				t.mu.Unlock()
				// Unblocks readLoop, which reports the abnormal close.
				t.conn.Close()
				return
			}
		}
	}
}
