// Command kbselect-log is a tool for viewing and analyzing kbselect event
// logs.
//
// Log files are written by kbselect when run with the -event-log flag.
//
// Usage:
//
//	kbselect-log <command> [flags] <file.klog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	kbselect-log view kbselect.klog
//
//	# View only connection state changes
//	kbselect-log view -category state kbselect.klog
//
//	# Export to JSONL
//	kbselect-log export -format jsonl kbselect.klog
//
//	# Keep one discovery cycle
//	kbselect-log filter -id 3f2a9c1e-... -o cycle.klog kbselect.klog
//
//	# Show statistics
//	kbselect-log stats kbselect.klog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kbselect/kbselect-go/cmd/kbselect-log/commands"
)

const usage = `kbselect-log - kbselect Event Log Analyzer

Usage:
  kbselect-log <command> [flags] <file.klog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "kbselect-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// requirePath returns the log file argument or exits with usage.
func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `kbselect-log view - View log file in human-readable format

Usage:
  kbselect-log view [flags] <file.klog>

Flags:
`)
		fs.PrintDefaults()
	}

	category := fs.String("category", "", "Filter by category (scan, hotplug, device, state, error)")
	transport := fs.String("transport", "", "Filter by transport (serial, bus)")
	deviceID := fs.String("device", "", "Filter by device (vvvv:pppp[@path])")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	filter := commands.ViewFilter{DeviceID: *deviceID}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}
	if *transport != "" {
		t, err := commands.ParseTransportFlag(*transport)
		if err != nil {
			fail(err)
		}
		filter.Transport = &t
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `kbselect-log export - Export log file to JSONL or CSV format

Usage:
  kbselect-log export [flags] <file.klog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `kbselect-log filter - Filter log file and write to new file

Usage:
  kbselect-log filter [flags] <file.klog>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (required)")
	id := fs.String("id", "", "Filter by cycle or session ID")
	deviceID := fs.String("device", "", "Filter by device (vvvv:pppp[@path])")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	category := fs.String("category", "", "Filter by category (scan, hotplug, device, state, error)")
	transport := fs.String("transport", "", "Filter by transport (serial, bus)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	opts := commands.FilterOptions{
		Output:        *output,
		CorrelationID: *id,
		DeviceID:      *deviceID,
		TimeStart:     *timeStart,
		TimeEnd:       *timeEnd,
		Category:      *category,
		Transport:     *transport,
	}

	count, err := commands.RunFilter(path, opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", count, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `kbselect-log stats - Show statistics about the log file

Usage:
  kbselect-log stats <file.klog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
