// Package connection implements the realtime Connection Manager.
//
// The Connection Manager:
//   - Owns one WebSocket transport per logical channel (kind + entity id)
//   - Sends the authenticate frame as the first message after open
//   - Fans inbound frames out to listeners, generically and by message type
//   - Reconnects abnormally closed channels with exponential backoff,
//     giving up after a bounded number of attempts
//   - Rejects sends on channels that are not open (never buffers)
package connection
