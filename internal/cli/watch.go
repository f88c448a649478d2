package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/klynaa/realtime/internal/connection"
	"github.com/klynaa/realtime/internal/protocol"
)

// watchLine is one printed event.
type watchLine struct {
	Time    time.Time       `json:"time"`
	Conn    string          `json:"conn"`
	Event   string          `json:"event"`
	Type    string          `json:"type,omitempty"`
	Code    int             `json:"code,omitempty"`
	Attempt int             `json:"attempt,omitempty"`
	Delay   string          `json:"delay,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Unhandled marks message types the worker does not act on.
	Unhandled   bool   `json:"unhandled,omitempty"`
	DecodeError string `json:"decode_error,omitempty"`
}

var watchedEvents = []connection.EventName{
	connection.EventConnected,
	connection.EventDisconnected,
	connection.EventMessage,
	connection.EventError,
	connection.EventReconnecting,
	connection.EventReconnectionFailed,
}

// eventPrinter writes events as JSON lines.
type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w), now: time.Now}
}

func (p *eventPrinter) print(ev connection.Event) {
	line := watchLine{
		Time:    p.now().UTC(),
		Conn:    string(ev.ConnectionID),
		Event:   string(ev.Name),
		Code:    ev.Code,
		Attempt: ev.Attempt,
	}
	if ev.Delay > 0 {
		line.Delay = ev.Delay.String()
	}
	if ev.Err != nil {
		line.Error = ev.Err.Error()
	}
	if len(ev.Payload) > 0 && json.Valid(ev.Payload) {
		line.Payload = ev.Payload
	}
	if ev.Name == connection.EventMessage {
		describeMessage(&line, ev.Payload)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.enc.Encode(line)
}

// describeMessage records the frame's type and whether it decodes into a
// known event.
func describeMessage(line *watchLine, frame json.RawMessage) {
	env, err := protocol.ParseEnvelope(frame)
	if err != nil || env.Type == "" {
		return
	}
	line.Type = env.Type

	_, err = protocol.Decode(env)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		line.Unhandled = true
	case err != nil:
		line.DecodeError = err.Error()
	}
}

func buildWatchCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <pickup|worker|customer> <id>",
		Short: "Print the events of any realtime channel",
		Long: `Connect to a realtime channel and print every lifecycle event and inbound
message as a JSON line until interrupted or the channel gives up
reconnecting.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := connection.Kind(args[0])
			if _, ok := kind.Path(args[1]); !ok {
				return fmt.Errorf("%w: %q", connection.ErrInvalidChannelKind, args[0])
			}

			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(commandContext(cmd), logger)
			defer cancel()

			client, err := newAPIClient(cfg.API, logger)
			if err != nil {
				return err
			}
			token, _, err := ensureAccessToken(ctx, client, cfg.API, time.Now(), logger)
			if err != nil {
				return err
			}

			mgr := newManager(cfg.Realtime, logger)
			defer mgr.Close()

			id := connection.NewConnectionID(kind, args[1])
			printer := newEventPrinter(cmd.OutOrStdout())
			for _, name := range watchedEvents {
				mgr.On(id, name, printer.print)
			}

			failed := make(chan int, 1)
			mgr.On(id, connection.EventReconnectionFailed, func(ev connection.Event) {
				select {
				case failed <- ev.Attempt:
				default:
				}
			})

			if err := mgr.Connect(ctx, kind, args[1], token); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return nil
			case attempts := <-failed:
				return fmt.Errorf("%w after %d attempts", errReconnectExhausted, attempts)
			}
		},
	}
	return cmd
}
