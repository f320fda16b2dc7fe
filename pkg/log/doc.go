// Package log captures a structured trace of discovery and connection events.
//
// It is separate from operational logging (slog). Operational logs explain
// what the service is doing; the event trace records what happened, in a
// machine-readable stream that can be replayed with kbselect-log.
//
// # Basic Usage
//
//	// For development: mirror events to the console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// For field reports: write to a binary file
//	cfg.EventLogger, _ = log.NewFileLogger("/tmp/kbselect.klog")
//
//	// Both
//	cfg.EventLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - Scan: a discovery cycle started or completed (ScanEvent)
//   - Hotplug: a bus attach/detach notification (HotplugEvent)
//   - Device: a candidate was evaluated (DeviceEvent)
//   - State: the connection session changed state (StateChangeEvent)
//   - Error: a failure that did not abort the service (ErrorEventData)
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys, using the
// .klog extension.
package log
