// Package connection implements the push channel of the sync core.
//
// The Manager:
//   - Maintains at most one WebSocket connection to the bot backend
//   - Hands every received frame to a FrameHandler in arrival order
//   - Reconnects after a fixed delay whenever the connection drops
//   - Keeps at most one reconnect attempt scheduled at any time
//   - Cancels pending reconnects and closes the socket on Stop
package connection
