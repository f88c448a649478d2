// Package journal persists received realtime frames to PostgreSQL.
//
// Every message event on a watched connection becomes one row in
// realtime_events. Rows are buffered in memory and written in batches with
// ON CONFLICT DO NOTHING, flushed when a batch fills or on a fixed interval.
// When the buffer is full new events are dropped and counted; the live
// channel never blocks on the database.
package journal
