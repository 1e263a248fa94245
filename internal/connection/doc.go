// Package connection implements the realtime Connection Manager.
//
// The Connection Manager:
//   - Keeps one WebSocket per logical identifier (chapter:<id>, task:<id>, notifications)
//   - Sends a JSON ping on a fixed heartbeat interval while a socket is open
//   - Reconnects after abnormal closures with bounded, linearly growing backoff
//   - Fans application frames out to subscribers by event type
package connection
