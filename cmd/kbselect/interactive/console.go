// Package interactive provides the interactive command-line interface
// for kbselect.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/kbselect/kbselect-go/pkg/connection"
	"github.com/kbselect/kbselect-go/pkg/discovery"
	"github.com/kbselect/kbselect-go/pkg/service"
)

// Service is the part of service.Service the console drives.
type Service interface {
	OnEvent(handler service.EventHandler)
	Scan(ctx context.Context) (bool, error)
	ScanFeedback() (found, ok bool)
	Refresh()
	Result() discovery.Result
	Select(index int) error
	Selected() (discovery.Device, int, bool)
	ConnectSelected(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Abort() bool
	ConnectionState() connection.State
	Connected() (discovery.Device, bool)
	LastError() error
}

var _ Service = (*service.Service)(nil)

// Console handles interactive mode for kbselect.
type Console struct {
	svc Service
	rl  *readline.Instance
	out io.Writer

	// pending tracks background connects so quit can wait for them.
	pending sync.WaitGroup
}

// New creates a console reading commands through readline.
func New(svc Service) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kbselect> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("scan"),
			readline.PcItem("refresh"),
			readline.PcItem("list"),
			readline.PcItem("select"),
			readline.PcItem("connect"),
			readline.PcItem("disconnect"),
			readline.PcItem("abort"),
			readline.PcItem("status"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(svc, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(svc Service, out io.Writer) *Console {
	c := &Console{svc: svc, out: out}
	svc.OnEvent(c.handleEvent)
	return c
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use this for log output to avoid interfering with input.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if c.Execute(ctx, line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns true when the console should
// exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "scan", "s":
		c.cmdScan(ctx)

	case "refresh":
		c.svc.Refresh()
		fmt.Fprintln(c.out, "Refresh requested")

	case "list", "ls", "devices":
		c.cmdList()

	case "select", "sel":
		c.cmdSelect(args)

	case "connect", "c":
		c.cmdConnect(ctx, args)

	case "disconnect", "d":
		c.cmdDisconnect(ctx)

	case "abort":
		if c.svc.Abort() {
			fmt.Fprintln(c.out, "Connect aborted")
		} else {
			fmt.Fprintln(c.out, "No connect in progress")
		}

	case "status":
		c.cmdStatus()

	case "quit", "exit", "q":
		c.svc.Abort()
		c.pending.Wait()
		fmt.Fprintln(c.out, "Exiting...")
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

// Wait blocks until background connects have finished.
func (c *Console) Wait() {
	c.pending.Wait()
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
kbselect Commands:
  Discovery:
    scan               - Run a discovery cycle and wait for it
    refresh            - Request a discovery cycle in the background
    list               - List discovered keyboards

  Connection:
    select <n>         - Select keyboard n from the list
    connect [n]        - Connect to keyboard n (or the selection)
    disconnect         - Close the current session
    abort              - Abort a connect in progress

  General:
    status             - Show selection and connection state
    help               - Show this help
    quit               - Exit`)
}

func (c *Console) cmdScan(ctx context.Context) {
	start := time.Now()
	found, err := c.svc.Scan(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Scan failed: %v\n", err)
		return
	}
	if res := c.svc.Result(); res.Err != nil {
		if errors.Is(res.Err, discovery.ErrDiscoveryTimeout) {
			fmt.Fprintf(c.out, "Scan timed out after %s, showing partial result\n", time.Since(start).Round(time.Millisecond))
		} else {
			fmt.Fprintf(c.out, "Scan incomplete: %v\n", res.Err)
		}
	}
	if found {
		fmt.Fprintln(c.out, "Keyboard found")
	} else {
		fmt.Fprintln(c.out, "No keyboard found")
	}
	c.cmdList()
}

func (c *Console) cmdList() {
	res := c.svc.Result()
	if len(res.Devices) == 0 {
		fmt.Fprintln(c.out, "No keyboards.")
		return
	}
	_, selected, _ := c.svc.Selected()
	connected, isConnected := c.svc.Connected()

	fmt.Fprintf(c.out, "Keyboards (cycle %d):\n", res.Cycle)
	for i, dev := range res.Devices {
		marker := " "
		if i == selected {
			marker = "*"
		}
		fmt.Fprintf(c.out, " %s %d. %s\n", marker, i, dev.Label())
		fmt.Fprintf(c.out, "      %s %s", dev.Transport.Kind, dev.Identity.ID())
		if !dev.Accessible {
			fmt.Fprint(c.out, " [no access]")
		}
		if isConnected && connected.Identity == dev.Identity {
			fmt.Fprint(c.out, " [connected]")
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Console) cmdSelect(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: select <n>")
		return
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid index: %s\n", args[0])
		return
	}
	if err := c.svc.Select(index); err != nil {
		fmt.Fprintf(c.out, "Select failed: %v\n", err)
		return
	}
	dev, _, _ := c.svc.Selected()
	fmt.Fprintf(c.out, "Selected %d: %s\n", index, dev.Identity)
}

// cmdConnect starts the connect in the background so abort stays usable.
func (c *Console) cmdConnect(ctx context.Context, args []string) {
	if len(args) > 1 {
		fmt.Fprintln(c.out, "Usage: connect [n]")
		return
	}
	if len(args) == 1 {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid index: %s\n", args[0])
			return
		}
		if err := c.svc.Select(index); err != nil {
			fmt.Fprintf(c.out, "Select failed: %v\n", err)
			return
		}
	}
	dev, _, ok := c.svc.Selected()
	if !ok {
		fmt.Fprintln(c.out, "No keyboard selected (use 'scan' then 'select <n>')")
		return
	}
	if !dev.Accessible {
		fmt.Fprintf(c.out, "No access to %s; check device permissions\n", dev.Identity)
		return
	}

	fmt.Fprintf(c.out, "Connecting to %s...\n", dev.Identity)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := c.svc.ConnectSelected(ctx); err != nil {
			fmt.Fprintf(c.out, "Connect failed: %v\n", err)
		}
	}()
}

func (c *Console) cmdDisconnect(ctx context.Context) {
	if err := c.svc.Disconnect(ctx); err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			fmt.Fprintln(c.out, "Not connected")
			return
		}
		fmt.Fprintf(c.out, "Disconnect failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Disconnected")
}

func (c *Console) cmdStatus() {
	res := c.svc.Result()
	fmt.Fprintln(c.out, "Status:")
	fmt.Fprintf(c.out, "  Keyboards:  %d (cycle %d)\n", len(res.Devices), res.Cycle)
	if found, ok := c.svc.ScanFeedback(); ok {
		fmt.Fprintf(c.out, "  Last scan:  found=%t\n", found)
	}
	if dev, index, ok := c.svc.Selected(); ok {
		fmt.Fprintf(c.out, "  Selected:   %d (%s)\n", index, dev.Identity)
	} else {
		fmt.Fprintln(c.out, "  Selected:   none")
	}
	fmt.Fprintf(c.out, "  Connection: %s\n", c.svc.ConnectionState())
	if dev, ok := c.svc.Connected(); ok {
		fmt.Fprintf(c.out, "  Device:     %s\n", dev.Identity)
	}
	if err := c.svc.LastError(); err != nil {
		fmt.Fprintf(c.out, "  Last error: %v\n", err)
	}
}

func (c *Console) handleEvent(event service.Event) {
	switch event.Type {
	case service.EventConnected:
		fmt.Fprintf(c.out, "[EVENT] Connected to %s\n", event.Device.Identity)
	case service.EventDisconnected:
		fmt.Fprintf(c.out, "[EVENT] Disconnected from %s\n", event.Device.Identity)
	case service.EventDeviceLost:
		fmt.Fprintf(c.out, "[EVENT] Lost %s\n", event.Device.Identity)
	}
}
