package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func captureSlog(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	NewSlogAdapter(slog.New(handler)).Log(event)

	if buf.Len() == 0 {
		t.Fatal("no output produced")
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	return entry
}

func TestSlogAdapterLogsScanEvent(t *testing.T) {
	entry := captureSlog(t, Event{
		Timestamp:     time.Now(),
		CorrelationID: "cycle-abc",
		Category:      CategoryScan,
		Scan:          &ScanEvent{Cycle: 3, Phase: ScanDone, Found: 1, Trigger: "hotplug"},
	})

	if entry["category"] != "SCAN" {
		t.Errorf("category: got %v, want SCAN", entry["category"])
	}
	if entry["correlation_id"] != "cycle-abc" {
		t.Errorf("correlation_id: got %v", entry["correlation_id"])
	}
	if entry["phase"] != "DONE" {
		t.Errorf("phase: got %v, want DONE", entry["phase"])
	}
	if entry["found"] != float64(1) {
		t.Errorf("found: got %v, want 1", entry["found"])
	}
	if entry["trigger"] != "hotplug" {
		t.Errorf("trigger: got %v, want hotplug", entry["trigger"])
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level: got %v, want DEBUG", entry["level"])
	}
}

func TestSlogAdapterLogsDeviceEvent(t *testing.T) {
	entry := captureSlog(t, Event{
		Timestamp: time.Now(),
		Category:  CategoryDevice,
		Transport: TransportSerial,
		DeviceID:  "1209:2301@/dev/ttyACM0",
		Device:    &DeviceEvent{Label: "Model 01", Accessible: false, Included: true, Reason: "permission denied"},
	})

	if entry["transport"] != "SERIAL" {
		t.Errorf("transport: got %v, want SERIAL", entry["transport"])
	}
	if entry["accessible"] != false || entry["included"] != true {
		t.Errorf("accessible/included: got %v/%v", entry["accessible"], entry["included"])
	}
	if entry["reason"] != "permission denied" {
		t.Errorf("reason: got %v", entry["reason"])
	}
}

func TestSlogAdapterLogsStateAndError(t *testing.T) {
	entry := captureSlog(t, Event{
		Timestamp:   time.Now(),
		Category:    CategoryState,
		StateChange: &StateChangeEvent{OldState: "CONNECTING", NewState: "IDLE", Reason: "open failed"},
	})
	if entry["new_state"] != "IDLE" || entry["old_state"] != "CONNECTING" {
		t.Errorf("state: got %v -> %v", entry["old_state"], entry["new_state"])
	}

	entry = captureSlog(t, Event{
		Timestamp: time.Now(),
		Category:  CategoryError,
		Error:     &ErrorEventData{Component: "bus-probe", Message: "boom"},
	})
	if entry["component"] != "bus-probe" || entry["error"] != "boom" {
		t.Errorf("error: got %v / %v", entry["component"], entry["error"])
	}
}
