package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kbselect/kbselect-go/pkg/log"
)

// RunExport exports the log file to the specified format.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

// jsonEvent is the JSONL form of an event, with enum names spelled out.
type jsonEvent struct {
	Timestamp     string                `json:"timestamp"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	Category      string                `json:"category"`
	Transport     string                `json:"transport,omitempty"`
	DeviceID      string                `json:"device_id,omitempty"`
	Scan          *jsonScan             `json:"scan,omitempty"`
	Hotplug       *jsonHotplug          `json:"hotplug,omitempty"`
	Device        *log.DeviceEvent      `json:"device,omitempty"`
	StateChange   *log.StateChangeEvent `json:"state_change,omitempty"`
	Error         *log.ErrorEventData   `json:"error,omitempty"`
}

type jsonScan struct {
	Cycle      uint64 `json:"cycle"`
	Phase      string `json:"phase"`
	Trigger    string `json:"trigger,omitempty"`
	Found      int    `json:"found"`
	DurationMs int64  `json:"duration_ms"`
	Stale      bool   `json:"stale,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

type jsonHotplug struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Node   string `json:"node,omitempty"`
}

func toJSONEvent(event log.Event) jsonEvent {
	out := jsonEvent{
		Timestamp:     event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		CorrelationID: event.CorrelationID,
		Category:      event.Category.String(),
		DeviceID:      event.DeviceID,
		Device:        event.Device,
		StateChange:   event.StateChange,
		Error:         event.Error,
	}
	if event.Transport != log.TransportNone {
		out.Transport = event.Transport.String()
	}
	if s := event.Scan; s != nil {
		out.Scan = &jsonScan{
			Cycle:      s.Cycle,
			Phase:      s.Phase.String(),
			Trigger:    s.Trigger,
			Found:      s.Found,
			DurationMs: s.Duration.Milliseconds(),
			Stale:      s.Stale,
			TimedOut:   s.TimedOut,
		}
	}
	if h := event.Hotplug; h != nil {
		out.Hotplug = &jsonHotplug{Action: h.Action.String(), Node: h.Node}
		if h.VendorID != 0 || h.ProductID != 0 {
			out.Hotplug.ID = fmt.Sprintf("%04x:%04x", h.VendorID, h.ProductID)
		}
	}
	return out
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(toJSONEvent(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "correlation_id", "category", "transport", "device_id", "type", "cycle"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		cycle := ""
		if event.Scan != nil {
			cycle = strconv.FormatUint(event.Scan.Cycle, 10)
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.CorrelationID,
			event.Category.String(),
			event.Transport.String(),
			event.DeviceID,
			typeLabel(event),
			cycle,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}
