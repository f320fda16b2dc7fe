// Package commands implements the kbselect-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kbselect/kbselect-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Category  *log.Category
	Transport *log.Transport
	DeviceID  string
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{
		Category:  f.Category,
		Transport: f.Transport,
		DeviceID:  f.DeviceID,
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [id] CATEGORY TRANSPORT label
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	id := shortenID(event.CorrelationID)

	fmt.Fprintf(w, "%s [%s] %-7s %-6s %s\n", ts, id, event.Category, event.Transport, typeLabel(event))

	switch {
	case event.Scan != nil:
		formatScanDetails(w, event.Scan)
	case event.Hotplug != nil:
		formatHotplugDetails(w, event.Hotplug)
	case event.Device != nil:
		formatDeviceDetails(w, event.DeviceID, event.Device)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.DeviceID, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// typeLabel names the payload of an event.
func typeLabel(event log.Event) string {
	switch {
	case event.Scan != nil:
		return "Scan " + event.Scan.Phase.String()
	case event.Hotplug != nil:
		return event.Hotplug.Action.String()
	case event.Device != nil:
		if event.Device.Included {
			return "Candidate included"
		}
		return "Candidate dropped"
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenID returns the first 8 characters of a cycle or session ID.
func shortenID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatScanDetails(w io.Writer, scan *log.ScanEvent) {
	fmt.Fprintf(w, "  Cycle: %d", scan.Cycle)
	if scan.Trigger != "" {
		fmt.Fprintf(w, "  Trigger: %s", scan.Trigger)
	}
	fmt.Fprintln(w)
	if scan.Phase != log.ScanDone {
		return
	}
	fmt.Fprintf(w, "  Found: %d  Duration: %s\n", scan.Found, formatDuration(scan.Duration))
	if scan.Stale {
		fmt.Fprintln(w, "  Stale: result discarded")
	}
	if scan.TimedOut {
		fmt.Fprintln(w, "  Timed out")
	}
}

func formatHotplugDetails(w io.Writer, hp *log.HotplugEvent) {
	if hp.VendorID != 0 || hp.ProductID != 0 {
		fmt.Fprintf(w, "  ID: %04x:%04x\n", hp.VendorID, hp.ProductID)
	}
	if hp.Node != "" {
		fmt.Fprintf(w, "  Node: %s\n", hp.Node)
	}
}

func formatDeviceDetails(w io.Writer, deviceID string, dev *log.DeviceEvent) {
	if deviceID != "" {
		fmt.Fprintf(w, "  Device: %s\n", deviceID)
	}
	if dev.Label != "" {
		fmt.Fprintf(w, "  Label: %s\n", dev.Label)
	}
	fmt.Fprintf(w, "  Accessible: %t  Supported: %t\n", dev.Accessible, dev.Supported)
	if dev.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", dev.Reason)
	}
}

func formatStateChangeDetails(w io.Writer, deviceID string, sc *log.StateChangeEvent) {
	if deviceID != "" {
		fmt.Fprintf(w, "  Device: %s\n", deviceID)
	}
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Component: %s\n", err.Component)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	c, ok := log.ParseCategory(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("invalid category: %s (must be scan, hotplug, device, state, or error)", s)
	}
	return c, nil
}

// ParseTransportFlag parses a transport string from command-line flag (case-insensitive).
func ParseTransportFlag(s string) (log.Transport, error) {
	switch strings.ToLower(s) {
	case "serial":
		return log.TransportSerial, nil
	case "bus", "usb":
		return log.TransportBus, nil
	default:
		return 0, fmt.Errorf("invalid transport: %s (must be serial or bus)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.logFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}

	return nil
}
