// Package device drives the adb command line: device detection, port
// forwarding, the remote netcat listener, file transfer and the initial
// identity and mount queries.
package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"github.com/adbfs-fuse/adbfs-go/internal/pathutil"
	"github.com/adbfs-fuse/adbfs-go/internal/policy"
	"github.com/adbfs-fuse/adbfs-go/internal/shell"
)

var (
	// ErrNoDevice means adb lists no attached device.
	ErrNoDevice = errors.New("no android device connected")
	// ErrNotForwarded means the forward did not show up after adb forward.
	ErrNotForwarded = errors.New("port is not forwarded")
	// ErrNetcatDown means the remote listener did not come up.
	ErrNetcatDown = errors.New("netcat is not running on the device")
	// ErrNetcatStillUp means the remote listener survived the kill.
	ErrNetcatStillUp = errors.New("netcat is still running on the device")
	// ErrQueryFailed means the identity or mount query gave no usable output.
	ErrQueryFailed = errors.New("device query failed")
	// ErrForwardPresent means the forward survived its removal.
	ErrForwardPresent = errors.New("port forward still present")
)

// Runner executes a program once. *shell.Runner implements it.
type Runner interface {
	Run(ctx context.Context, argv []string, useStderr bool) shell.Result
}

// Options configures a Device.
type Options struct {
	Adb         string
	Serial      string
	Port        int
	RemoteShell string
	Busybox     string
	// RetryDelay is the pause between postcondition checks.
	RetryDelay time.Duration
}

// Device is one adb-reachable android device.
type Device struct {
	runner Runner
	opts   Options
	log    *logrus.Entry
}

// New creates a Device.
func New(runner Runner, opts Options) *Device {
	if opts.Adb == "" {
		opts.Adb = "adb"
	}
	if opts.Busybox == "" {
		opts.Busybox = "busybox"
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	return &Device{
		runner: runner,
		opts:   opts,
		log:    logrus.WithField("component", "device"),
	}
}

func (d *Device) adb(args ...string) []string {
	argv := []string{d.opts.Adb}
	if d.opts.Serial != "" {
		argv = append(argv, "-s", d.opts.Serial)
	}
	return append(argv, args...)
}

func (d *Device) retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(d.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

func (d *Device) forwardSpec() string {
	return fmt.Sprintf("tcp:%d", d.opts.Port)
}

// NetcatCommand is the listener started on the device.
func (d *Device) NetcatCommand() string {
	return fmt.Sprintf("nc -ll -p %d -e %s", d.opts.Port, d.opts.RemoteShell)
}

// Connected checks that adb sees a device and returns the start of its id.
func (d *Device) Connected(ctx context.Context) (string, error) {
	res := d.runner.Run(ctx, d.adb("devices"), false)
	if err := res.Err(); err != nil {
		return "", fmt.Errorf("adb devices: %w", err)
	}
	// The listing ends with an empty line, so the last device is second to last.
	if len(res.Lines) <= 2 {
		return "", ErrNoDevice
	}
	line := res.Lines[len(res.Lines)-2]
	if strings.HasPrefix(line, "List of ") {
		return "", ErrNoDevice
	}
	id := line
	if len(id) > 8 {
		id = id[:8]
	}
	d.log.Infof("Using android device %s", id)
	return id, nil
}

// IsForwarded reports whether adb already forwards the local port to the device.
func (d *Device) IsForwarded(ctx context.Context) bool {
	want := d.forwardSpec() + " " + d.forwardSpec()
	res := d.runner.Run(ctx, d.adb("forward", "--list"), false)
	for _, line := range res.Lines {
		if strings.Contains(line, want) {
			return true
		}
	}
	return false
}

// Forward sets up the port forward unless it is already in place.
func (d *Device) Forward(ctx context.Context) error {
	if !d.IsForwarded(ctx) {
		d.runner.Run(ctx, d.adb("forward", d.forwardSpec(), d.forwardSpec()), false)
	}
	err := retry.Do(func() error {
		if !d.IsForwarded(ctx) {
			return ErrNotForwarded
		}
		return nil
	}, d.retryOptions(ctx)...)
	if err != nil {
		d.log.Infof("Failed to forward port %s to android device", d.forwardSpec())
		return err
	}
	d.log.Infof("Port %s successfully forwarded to android device", d.forwardSpec())
	return nil
}

// RemoveForward drops the port forward.
func (d *Device) RemoveForward(ctx context.Context) error {
	if d.IsForwarded(ctx) {
		d.runner.Run(ctx, d.adb("forward", "--remove", d.forwardSpec()), false)
	}
	if d.IsForwarded(ctx) {
		d.log.Infof("Failed to remove forward port %s from android device", d.forwardSpec())
		return ErrForwardPresent
	}
	d.log.Infof("Forward port %s to android device successfully removed", d.forwardSpec())
	return nil
}

// NetcatPID returns the pid of the device listener, or 0 if it is not running.
func (d *Device) NetcatPID(ctx context.Context) int {
	res := d.runner.Run(ctx, d.adb("shell", "su", "-c", d.opts.Busybox, "ps", "|", "grep", "'"+d.NetcatCommand()+"'"), false)
	for _, line := range res.Lines {
		if strings.Contains(line, "grep") {
			continue
		}
		tokens := pathutil.Tokenize(line)
		if len(tokens) == 0 {
			continue
		}
		pid, err := strconv.Atoi(tokens[0])
		if err != nil {
			continue
		}
		return pid
	}
	return 0
}

// StartNetcat launches the listener in the background on the device.
func (d *Device) StartNetcat(ctx context.Context) error {
	if d.NetcatPID(ctx) == 0 {
		d.runner.Run(ctx, d.adb("shell", "su", "-c", d.opts.Busybox, "nohup", d.NetcatCommand(), "2>/dev/null", "1>/dev/null", "&"), false)
	}
	err := retry.Do(func() error {
		if d.NetcatPID(ctx) == 0 {
			return ErrNetcatDown
		}
		return nil
	}, d.retryOptions(ctx)...)
	if err != nil {
		d.log.Info("error: could not start netcat on android device")
		return err
	}
	d.log.Info("Netcat successfully started on android device")
	return nil
}

// KillNetcat stops the listener.
func (d *Device) KillNetcat(ctx context.Context) error {
	if pid := d.NetcatPID(ctx); pid > 0 {
		d.runner.Run(ctx, d.adb("shell", "su", "-c", d.opts.Busybox, "kill", strconv.Itoa(pid)), false)
	}
	if d.NetcatPID(ctx) != 0 {
		d.log.Info("Failed to kill netcat on android device")
		return ErrNetcatStillUp
	}
	d.log.Info("Netcat successfully stopped on android device")
	return nil
}

// QueryIdentity asks the device which user its shell runs as.
func (d *Device) QueryIdentity(ctx context.Context) (*policy.Identity, error) {
	res := d.runner.Run(ctx, d.adb("shell", d.opts.Busybox+" id"), false)
	if len(res.Lines) != 1 || len(res.Lines[0]) <= 5 {
		d.log.Info("Failed to query user info from device")
		return nil, fmt.Errorf("%w: id returned %d lines", ErrQueryFailed, len(res.Lines))
	}
	id, err := policy.ParseIdentity(res.Lines[0])
	if err != nil {
		d.log.Info("Failed to query user info from device")
		return nil, err
	}
	return id, nil
}

// QueryMounts reads the device mount table and appends extra lines.
func (d *Device) QueryMounts(ctx context.Context, extra []string) (*policy.MountTable, error) {
	res := d.runner.Run(ctx, d.adb("shell", d.opts.Busybox+" mount"), false)
	if len(res.Lines) == 0 {
		d.log.Info("Failed to query mount info from device")
		return nil, fmt.Errorf("%w: mount returned nothing", ErrQueryFailed)
	}
	lines := append(append([]string{}, res.Lines...), extra...)
	return policy.ParseMounts(lines), nil
}

// Push copies a local file to the device. adb's exit status carries no
// information, so failures are recognised from its stderr.
func (d *Device) Push(ctx context.Context, local, remote string) error {
	return d.runner.Run(ctx, d.adb("push", local, remote), true).Err()
}

// Pull copies a device file to the local host.
func (d *Device) Pull(ctx context.Context, remote, local string) error {
	return d.runner.Run(ctx, d.adb("pull", remote, local), true).Err()
}
