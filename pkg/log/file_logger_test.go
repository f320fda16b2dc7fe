package log

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.klog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("log file was not created")
	}
}

func TestFileLoggerWritesCBOR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.klog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	event := Event{
		Timestamp:     time.Now(),
		CorrelationID: "cycle-1",
		Category:      CategoryScan,
		Scan:          &ScanEvent{Cycle: 7, Phase: ScanDone, Found: 2},
	}
	logger.Log(event)
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if decoded.CorrelationID != event.CorrelationID {
		t.Errorf("CorrelationID: got %q, want %q", decoded.CorrelationID, event.CorrelationID)
	}
	if decoded.Scan == nil {
		t.Fatal("Scan is nil")
	}
	if decoded.Scan.Cycle != 7 || decoded.Scan.Found != 2 {
		t.Errorf("Scan: got %+v", decoded.Scan)
	}
	if !decoded.Timestamp.Equal(event.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, event.Timestamp)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.klog")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now(), Category: CategoryHotplug, Hotplug: &HotplugEvent{Action: HotplugAttach}})
		logger.Close()
	}

	events := readAll(t, path)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.klog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	logger.Log(Event{Timestamp: time.Now(), Category: CategoryError})

	if events := readAll(t, path); len(events) != 0 {
		t.Errorf("got %d events after close, want 0", len(events))
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.klog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.Log(Event{
					Timestamp: time.Now(),
					Category:  CategoryState,
					StateChange: &StateChangeEvent{
						NewState: "CONNECTED",
					},
				})
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	if events := readAll(t, path); len(events) != 100 {
		t.Errorf("got %d events, want 100", len(events))
	}
}
