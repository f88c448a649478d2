package worker

import (
	"github.com/klynaa/realtime/internal/connection"
	"github.com/klynaa/realtime/internal/protocol"
)

// OnNewAssignment subscribes to offered pickups.
func (s *Session) OnNewAssignment(fn func(protocol.NewAssignment)) connection.ListenerID {
	return onTyped(s, protocol.TypeNewAssignment, fn)
}

// OnRouteUpdate subscribes to route changes.
func (s *Session) OnRouteUpdate(fn func(protocol.RouteUpdate)) connection.ListenerID {
	return onTyped(s, protocol.TypeRouteUpdate, fn)
}

// OnPickupCancelled subscribes to cancellations.
func (s *Session) OnPickupCancelled(fn func(protocol.PickupCancelled)) connection.ListenerID {
	return onTyped(s, protocol.TypePickupCancelled, fn)
}

// OnAssignments subscribes to assignment lists.
func (s *Session) OnAssignments(fn func(protocol.Assignments)) connection.ListenerID {
	return onTyped(s, protocol.TypeAssignments, fn)
}

// OnError subscribes to transport failures, unparseable frames and
// server-side error messages.
func (s *Session) OnError(fn func(error)) connection.ListenerID {
	return s.mgr.On(s.id, connection.EventError, func(ev connection.Event) {
		if ev.Err != nil {
			fn(ev.Err)
			return
		}
		serr, err := protocol.DecodeData[protocol.ServerError](ev.Payload)
		if err != nil {
			s.logger.Warn("dropping undecodable event", "event", connection.EventError, "error", err)
			return
		}
		fn(serr)
	})
}

// OnConnected subscribes to channel opens.
func (s *Session) OnConnected(fn func()) connection.ListenerID {
	return s.mgr.On(s.id, connection.EventConnected, func(connection.Event) { fn() })
}

// OnDisconnected subscribes to channel closes with their close code.
func (s *Session) OnDisconnected(fn func(code int)) connection.ListenerID {
	return s.mgr.On(s.id, connection.EventDisconnected, func(ev connection.Event) { fn(ev.Code) })
}

// OnReconnecting subscribes to scheduled reconnect attempts.
func (s *Session) OnReconnecting(fn func(ev connection.Event)) connection.ListenerID {
	return s.mgr.On(s.id, connection.EventReconnecting, fn)
}

// OnReconnectionFailed subscribes to reconnect exhaustion.
func (s *Session) OnReconnectionFailed(fn func(attempts int)) connection.ListenerID {
	return s.mgr.On(s.id, connection.EventReconnectionFailed, func(ev connection.Event) { fn(ev.Attempt) })
}

// Off removes one subscription.
func (s *Session) Off(name connection.EventName, id connection.ListenerID) {
	s.mgr.Off(s.id, name, id)
}

func onTyped[T any](s *Session, name string, fn func(T)) connection.ListenerID {
	return s.mgr.On(s.id, connection.EventName(name), func(ev connection.Event) {
		v, err := protocol.DecodeData[T](ev.Payload)
		if err != nil {
			s.logger.Warn("dropping undecodable event", "event", name, "error", err)
			return
		}
		fn(v)
	})
}
