package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kbselect/kbselect-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents        int
	EventsByCategory   map[log.Category]int
	EventsByTransport  map[log.Transport]int
	Cycles             int
	StaleCycles        int
	TimedOutCycles     int
	TotalCycleDuration time.Duration
	Attaches           int
	Detaches           int
	Devices            map[string]*DeviceStats
	Sessions           map[string]*SessionStats
	ErrorsByComponent  map[string]int
	TimeRange          struct {
		Start time.Time
		End   time.Time
	}
}

// DeviceStats holds statistics for one device identity.
type DeviceStats struct {
	Seen     int
	Included int
	LastSeen time.Time
}

// SessionStats holds statistics for one connection session.
type SessionStats struct {
	DeviceID   string
	FirstSeen  time.Time
	LastSeen   time.Time
	FinalState string
}

func newStats() *Stats {
	return &Stats{
		EventsByCategory:  make(map[log.Category]int),
		EventsByTransport: make(map[log.Transport]int),
		Devices:           make(map[string]*DeviceStats),
		Sessions:          make(map[string]*SessionStats),
		ErrorsByComponent: make(map[string]int),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByCategory[event.Category]++
	if event.Transport != log.TransportNone {
		s.EventsByTransport[event.Transport]++
	}

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	switch {
	case event.Scan != nil:
		if event.Scan.Phase != log.ScanDone {
			return
		}
		s.Cycles++
		s.TotalCycleDuration += event.Scan.Duration
		if event.Scan.Stale {
			s.StaleCycles++
		}
		if event.Scan.TimedOut {
			s.TimedOutCycles++
		}

	case event.Hotplug != nil:
		if event.Hotplug.Action == log.HotplugAttach {
			s.Attaches++
		} else {
			s.Detaches++
		}

	case event.Device != nil:
		dev, ok := s.Devices[event.DeviceID]
		if !ok {
			dev = &DeviceStats{}
			s.Devices[event.DeviceID] = dev
		}
		dev.Seen++
		if event.Device.Included {
			dev.Included++
		}
		if event.Timestamp.After(dev.LastSeen) {
			dev.LastSeen = event.Timestamp
		}

	case event.StateChange != nil:
		sess, ok := s.Sessions[event.CorrelationID]
		if !ok {
			sess = &SessionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			s.Sessions[event.CorrelationID] = sess
		}
		if event.Timestamp.After(sess.LastSeen) {
			sess.LastSeen = event.Timestamp
		}
		if sess.DeviceID == "" {
			sess.DeviceID = event.DeviceID
		}
		sess.FinalState = event.StateChange.NewState

	case event.Error != nil:
		s.ErrorsByComponent[event.Error.Component]++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== kbselect Event Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryScan, log.CategoryHotplug, log.CategoryDevice, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Transport:")
	for _, tr := range []log.Transport{log.TransportSerial, log.TransportBus} {
		if count := stats.EventsByTransport[tr]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", tr.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Discovery Cycles: %d", stats.Cycles)
	if stats.Cycles > 0 {
		avg := stats.TotalCycleDuration / time.Duration(stats.Cycles)
		fmt.Fprintf(w, " (avg %s, stale %d, timed out %d)", formatDuration(avg), stats.StaleCycles, stats.TimedOutCycles)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Hotplug:          %d attach, %d detach\n", stats.Attaches, stats.Detaches)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Devices: %d\n", len(stats.Devices))
	ids := make([]string, 0, len(stats.Devices))
	for id := range stats.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := stats.Devices[id]
		fmt.Fprintf(w, "  %s  seen %d, included %d\n", id, d.Seen, d.Included)
	}

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s, %s, ended %s\n", shortenID(s.id), s.stats.DeviceID, duration, s.stats.FinalState)
		}
	}

	if len(stats.ErrorsByComponent) > 0 {
		fmt.Fprintln(w)
		total := 0
		components := make([]string, 0, len(stats.ErrorsByComponent))
		for c, n := range stats.ErrorsByComponent {
			components = append(components, c)
			total += n
		}
		sort.Strings(components)
		fmt.Fprintf(w, "Errors: %d\n", total)
		for _, c := range components {
			fmt.Fprintf(w, "  %-14s %d\n", c+":", stats.ErrorsByComponent[c])
		}
	}
}
