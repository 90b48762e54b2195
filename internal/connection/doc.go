// Package connection implements the broker link and the Connection Manager.
//
// The package provides:
//   - A STOMP 1.2 frame codec (Frame, DecodeFrames)
//   - Client, a Transport speaking STOMP over a gorilla WebSocket with negotiated heart-beats
//   - Manager, the connect/reconnect state machine with linear, capped backoff
//   - Subscription replay through the Replayer after every successful (re)connect
package connection
