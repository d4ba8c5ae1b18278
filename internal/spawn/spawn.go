// Package spawn runs a child process with a line-oriented pipe pair attached
// to it: one pipe feeds the child's stdin, the other carries either its
// stdout or its stderr back to the caller.
package spawn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ExitFailure is returned by Wait when the wait itself fails.
const ExitFailure = 1

var (
	// ErrNotFound is returned when the program could not be located or executed.
	ErrNotFound = errors.New("program not found")
	// ErrEmptyArgv is returned when no program was given.
	ErrEmptyArgv = errors.New("empty argument vector")
)

type options struct {
	useStderr  bool
	searchPath bool
	env        []string
	stderr     io.Writer
}

// Option configures a Channel.
type Option func(*options)

// UseStderr connects the read side to the child's stderr instead of stdout.
// The child's stdout is discarded.
func UseStderr() Option {
	return func(o *options) { o.useStderr = true }
}

// SearchPath controls whether argv[0] is looked up in $PATH. Default true.
func SearchPath(search bool) Option {
	return func(o *options) { o.searchPath = search }
}

// Env replaces the child's environment. By default it inherits ours.
func Env(env []string) Option {
	return func(o *options) { o.env = env }
}

// Stderr sets where the child's stderr goes when it is not the read side.
func Stderr(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

// Channel is a running child process together with its stream pair.
type Channel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output io.ReadCloser
	reader *bufio.Reader

	mu       sync.Mutex
	eofSent  bool
	waitOnce sync.Once
	status   int

	log *logrus.Entry
}

// New starts argv[0] with the remaining arguments. It fails if the pipes
// cannot be created or the program cannot be started; a missing program is
// reported as ErrNotFound.
func New(argv []string, opts ...Option) (*Channel, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyArgv
	}

	o := options{searchPath: true, stderr: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	prog := argv[0]
	if o.searchPath && !strings.Contains(prog, "/") {
		resolved, err := exec.LookPath(prog)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prog, ErrNotFound)
		}
		prog = resolved
	}

	cmd := &exec.Cmd{
		Path: prog,
		Args: argv,
		Env:  o.env,
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create write pipe: %w", err)
	}

	var output io.ReadCloser
	if o.useStderr {
		output, err = cmd.StderrPipe()
	} else {
		output, err = cmd.StdoutPipe()
		cmd.Stderr = o.stderr
	}
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create read pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", argv[0], ErrNotFound)
		}
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	return &Channel{
		cmd:    cmd,
		stdin:  stdin,
		output: output,
		reader: bufio.NewReader(output),
		log:    logrus.WithFields(logrus.Fields{"component": "spawn", "prog": argv[0]}),
	}, nil
}

// Pid returns the child's process id.
func (c *Channel) Pid() int {
	return c.cmd.Process.Pid
}

// Write sends p to the child's stdin.
func (c *Channel) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

// ReadLine returns the next line from the child without its line terminator.
// A trailing partial line is returned without error; io.EOF follows it.
func (c *Channel) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Drain discards whatever the child still writes until it closes the stream.
func (c *Channel) Drain() {
	if _, err := io.Copy(io.Discard, c.reader); err != nil {
		c.log.WithError(err).Debug("drain")
	}
}

// SendEOF closes the child's stdin. It is safe to call more than once.
func (c *Channel) SendEOF() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eofSent {
		return nil
	}
	c.eofSent = true
	return c.stdin.Close()
}

// Wait blocks until the child exits and returns its exit code. A child killed
// by a signal yields -1. If waiting fails for any other reason ExitFailure is
// returned. Calling Wait again returns the first result.
func (c *Channel) Wait() int {
	c.waitOnce.Do(func() {
		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			c.status = 0
		case errors.As(err, &exitErr):
			c.status = exitErr.ExitCode()
		default:
			c.log.WithError(err).Error("wait failed")
			c.status = ExitFailure
		}
	})
	return c.status
}

// Close sends EOF and waits for the child.
func (c *Channel) Close() error {
	if err := c.SendEOF(); err != nil {
		c.log.WithError(err).Debug("close stdin")
	}
	c.Wait()
	return nil
}
