// Package poller implements the fallback assignment poller.
//
// While the worker's realtime channel is not open the poller lists the
// worker's open pickups over the REST API on a fixed interval and hands them
// to the same handler that receives pushed assignment lists. Polling is
// skipped whenever the channel is live.
package poller
