// Package shell talks to the device: a persistent interactive shell reached
// through netcat for filesystem queries, and one-shot local programs (adb)
// for everything else.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Conn is the stream pair of a running shell. *spawn.Channel implements it.
type Conn interface {
	io.Writer
	ReadLine() (string, error)
}

// Persistent sends commands over a single long-lived shell and collects the
// output of each one up to an end-of-command marker.
type Persistent struct {
	conn     Conn
	tool     string
	sentinel string

	// lock is a one-slot semaphore so a caller can give up while waiting.
	lock   chan struct{}
	mu     sync.Mutex // guards closed
	closed bool

	log *logrus.Entry
}

// NewPersistent wraps conn. tool is prepended to every command sent through
// Busybox, normally "busybox".
func NewPersistent(conn Conn, tool string) *Persistent {
	return &Persistent{
		conn:     conn,
		tool:     tool,
		sentinel: "---eoc-" + uuid.NewString() + "---",
		lock:     make(chan struct{}, 1),
		log:      logrus.WithField("component", "shell"),
	}
}

// Sentinel returns the end-of-command marker used on this connection.
func (p *Persistent) Sentinel() string {
	return p.sentinel
}

// ErrClosed is returned once the connection has been shut down.
var ErrClosed = errors.New("shell connection closed")

// Exec runs command and returns the lines it printed. The context is only
// honoured while waiting for an earlier command to finish; once a command has
// been written there is no way to abandon it without desynchronising the
// stream. If the stream ends before the marker, whatever was read is returned.
func (p *Persistent) Exec(ctx context.Context, command string) ([]string, error) {
	select {
	case p.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.lock }()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	p.log.Debugf("exec: %s", command)

	if _, err := fmt.Fprintf(p.conn, "%s\necho '%s'\n", command, p.sentinel); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var output []string
	for {
		line, err := p.conn.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.WithError(err).Warn("read failed")
			}
			break
		}
		if strings.Contains(line, p.sentinel) {
			break
		}
		output = append(output, line)
	}

	if len(output) > 0 {
		p.log.Debugf("output: %s", output[0])
	} else {
		p.log.Debug("output: EMPTY")
	}
	return output, nil
}

// Busybox runs command through the configured tool prefix.
func (p *Persistent) Busybox(ctx context.Context, command string) ([]string, error) {
	if p.tool == "" {
		return p.Exec(ctx, command)
	}
	return p.Exec(ctx, p.tool+" "+command)
}

// Close marks the connection unusable. It waits for an in-flight command.
func (p *Persistent) Close() {
	p.lock <- struct{}{}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	<-p.lock
}
