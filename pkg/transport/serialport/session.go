package serialport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// replyTerminator ends every command reply.
var replyTerminator = []byte("\r\n.\r\n")

// Session errors.
var (
	ErrCommandTimeout = errors.New("command timed out")
	ErrSessionClosed  = errors.New("session closed")
)

// Session is an open serial connection to a keyboard.
type Session struct {
	mu             sync.Mutex
	port           serial.Port
	path           string
	commandTimeout time.Duration
	readTimeout    time.Duration
	closed         bool
}

// Path returns the port path.
func (s *Session) Path() string { return s.path }

// Command sends cmd and returns the reply without its terminator.
func (s *Session) Command(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	return command(ctx, s.port, cmd, s.commandTimeout, s.readTimeout)
}

// Close closes the port. Later calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// command runs one request/reply exchange on port.
func command(ctx context.Context, port serial.Port, cmd string, timeout, readTimeout time.Duration) (string, error) {
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return "", fmt.Errorf("set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		return "", fmt.Errorf("reset input: %w", err)
	}
	if _, err := port.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var reply bytes.Buffer
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		// Read returns (0, nil) when the read timeout elapses.
		n, err := port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read reply: %w", err)
		}
		if n == 0 {
			continue
		}
		reply.Write(buf[:n])
		if i := bytes.Index(reply.Bytes(), replyTerminator); i >= 0 {
			return strings.TrimSpace(string(reply.Bytes()[:i])), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrCommandTimeout, cmd)
}
