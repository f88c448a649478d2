// Package protocol defines the wire envelopes exchanged with the Klynaa
// realtime backend.
//
// Every frame in both directions has the shape {"type": ..., "data": ...}.
// Outbound frames are built from Command values; inbound frames are decoded
// into Event values by Decode. Known types:
//
//	outbound: authenticate, update_location, update_status, accept_pickup,
//	          complete_pickup, get_assignments
//	inbound:  new_assignment, route_update, pickup_cancelled, assignments, error
package protocol
