package shell

import (
	"context"
	"errors"
	"io"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/adbfs-fuse/adbfs-go/internal/spawn"
)

// Result is the outcome of a one-shot program run.
type Result struct {
	Lines []string
	// Errno is zero on success, otherwise the error recognised in the output
	// or while starting the program.
	Errno syscall.Errno
	Exit  int
}

// Err returns Errno as an error, or nil.
func (r Result) Err() error {
	if r.Errno == 0 {
		return nil
	}
	return r.Errno
}

// Classify recognises the error messages adb and the device shell print for
// failed transfers. It returns zero for any other line.
func Classify(line string) syscall.Errno {
	switch {
	case strings.Contains(line, ": Permission denied"):
		return syscall.EACCES
	case strings.Contains(line, "does not exist"):
		return syscall.ENOENT
	}
	return 0
}

// ClassifyOutput maps the messages busybox applets print for failed
// mutations to an errno. Output it does not recognise yields zero, the
// command is then treated as successful.
func ClassifyOutput(lines []string) syscall.Errno {
	for _, line := range lines {
		if errno := Classify(line); errno != 0 {
			return errno
		}
		switch {
		case strings.Contains(line, "No such file or directory"):
			return syscall.ENOENT
		case strings.Contains(line, "File exists"):
			return syscall.EEXIST
		case strings.Contains(line, "Directory not empty"):
			return syscall.ENOTEMPTY
		case strings.Contains(line, "Not a directory"):
			return syscall.ENOTDIR
		case strings.Contains(line, "Is a directory"):
			return syscall.EISDIR
		case strings.Contains(line, "Read-only file system"):
			return syscall.EROFS
		}
	}
	return 0
}

// Runner executes local programs such as adb once per call.
type Runner struct {
	opts []spawn.Option
	log  *logrus.Entry
}

// NewRunner creates a Runner. opts are applied to every spawned process.
func NewRunner(opts ...spawn.Option) *Runner {
	return &Runner{
		opts: opts,
		log:  logrus.WithField("component", "exec"),
	}
}

// Run starts argv, collects its output lines and waits for it to exit.
// With useStderr the error stream is read instead of stdout and the first
// line recognised by Classify stops the read.
func (r *Runner) Run(ctx context.Context, argv []string, useStderr bool) Result {
	r.log.Debugf("--*-- %s", strings.Join(argv, " "))

	opts := r.opts
	if useStderr {
		opts = append(append([]spawn.Option{}, opts...), spawn.UseStderr())
	}

	ch, err := spawn.New(argv, opts...)
	if err != nil {
		if errors.Is(err, spawn.ErrNotFound) {
			r.log.Errorf("Error: program %q not found", argv[0])
			return Result{Errno: syscall.ENOENT, Exit: int(syscall.ENOENT)}
		}
		r.log.WithError(err).Error("spawn failed")
		return Result{Errno: syscall.EIO, Exit: spawn.ExitFailure}
	}

	stop := context.AfterFunc(ctx, func() { ch.SendEOF() })
	defer stop()

	var res Result
	for {
		line, err := ch.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.WithError(err).Warn("read failed")
			}
			break
		}
		if useStderr {
			if errno := Classify(line); errno != 0 {
				res.Errno = errno
				break
			}
		}
		res.Lines = append(res.Lines, line)
	}

	if len(res.Lines) > 0 {
		r.log.Debugf("output: %s", res.Lines[0])
	} else {
		r.log.Debug("output: EMPTY")
	}

	ch.SendEOF()
	ch.Drain()
	res.Exit = ch.Wait()
	if res.Exit == int(syscall.ENOENT) {
		r.log.Errorf("Error: program %q not found", argv[0])
		if res.Errno == 0 {
			res.Errno = syscall.ENOENT
		}
	}
	return res
}
