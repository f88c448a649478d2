package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var errDialRefused = errors.New("connection refused")

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	mu        sync.Mutex
	url       string
	sent      [][]byte
	started   bool
	closed    bool
	closeCode int
	handler   TransportHandler

	// beforeClose runs at the start of Close, outside the lock.
	beforeClose func()
}

func (t *fakeTransport) Start(h TransportHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	t.handler = h
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrNotConnected
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	if t.beforeClose != nil {
		t.beforeClose()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.closeCode = code
	return nil
}

// deliver simulates an inbound frame.
func (t *fakeTransport) deliver(frame string) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	h.OnMessage([]byte(frame))
}

// drop simulates the remote side closing the socket.
func (t *fakeTransport) drop(code int) {
	t.mu.Lock()
	t.closed = true
	h := t.handler
	t.mu.Unlock()
	h.OnClose(code, nil)
}

func (t *fakeTransport) sentFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

func (t *fakeTransport) sentTypes() []string {
	var types []string
	for _, frame := range t.sentFrames() {
		var env struct {
			Type string `json:"type"`
		}
		json.Unmarshal(frame, &env)
		types = append(types, env.Type)
	}
	return types
}

func (t *fakeTransport) isClosed() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.closeCode
}

// fakeDialer hands out fakeTransports, or fails while fail is set.
type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	urls       []string
	transports []*fakeTransport
	fail       bool
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	d.urls = append(d.urls, url)
	if d.fail {
		return nil, errDialRefused
	}
	t := &fakeTransport{url: url}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// recorder collects events for one connection.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handler() Handler {
	return func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// gatedDialer blocks each Dial until the test releases it.
type gatedDialer struct {
	mu         sync.Mutex
	gates      []chan struct{}
	transports []*fakeTransport
	entered    chan int
}

func newGatedDialer() *gatedDialer {
	return &gatedDialer{entered: make(chan int, 8)}
}

func (d *gatedDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	i := len(d.gates)
	gate := make(chan struct{})
	t := &fakeTransport{url: url}
	d.gates = append(d.gates, gate)
	d.transports = append(d.transports, t)
	d.mu.Unlock()

	d.entered <- i

	select {
	case <-gate:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release lets dial i complete.
func (d *gatedDialer) release(i int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	close(d.gates[i])
}

func (d *gatedDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}
