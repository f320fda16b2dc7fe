// Package connection mediates the single active session to a keyboard.
//
// A Controller owns at most one Session. Its state machine is:
//
//	Idle ──Connect──▶ Connecting ──ok──▶ Connected ──Disconnect──▶ Disconnecting ──▶ Idle
//	                      │
//	                      └──failure/Abort──▶ Idle (LastError set)
//
// DeviceLost drops a Connected session through Disconnecting to Idle. The
// StateChange carries ErrDeviceGone; LastError is left untouched.
//
// Connect is rejected while the controller is Connecting or Disconnecting,
// and while it is Connected to another device. Devices that discovery marked
// inaccessible are refused without touching the transport.
//
// # Opening
//
// Each open attempt is bounded by ConnectTimeout. Transient failures are
// retried with exponential backoff and jitter:
//
//	delay = base + random(0, base * 0.25), base = 100ms, 200ms, ... capped at 2s
//
// Permission errors, ErrDeviceGone and cancellation are never retried.
package connection
