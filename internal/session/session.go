// Package session brings a device up for mounting and tears it down again:
// adb port forward, the remote netcat listener, the local netcat channel
// carrying the persistent shell, the staging directory and the journal.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/adbfs-fuse/adbfs-go/internal/cache"
	"github.com/adbfs-fuse/adbfs-go/internal/config"
	"github.com/adbfs-fuse/adbfs-go/internal/device"
	"github.com/adbfs-fuse/adbfs-go/internal/fuse"
	"github.com/adbfs-fuse/adbfs-go/internal/journal"
	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
	"github.com/adbfs-fuse/adbfs-go/internal/policy"
	"github.com/adbfs-fuse/adbfs-go/internal/shell"
	"github.com/adbfs-fuse/adbfs-go/internal/spawn"
	"github.com/adbfs-fuse/adbfs-go/internal/staging"
)

// Channel is the local end of the netcat connection. *spawn.Channel
// implements it.
type Channel interface {
	shell.Conn
	SendEOF() error
	Wait() int
}

// ErrPortInUse is returned by Start when another mount owns the port.
var ErrPortInUse = errors.New("port is in use by another adbfs mount")

// Dialer starts the local netcat process.
type Dialer func(argv []string) (Channel, error)

// DialNetcat spawns argv as a child process.
func DialNetcat(argv []string) (Channel, error) {
	ch, err := spawn.New(argv)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Session owns everything set up for one mount.
type Session struct {
	cfg      *config.Config
	portLock *flock.Flock
	dev      *device.Device
	staging  *staging.Dir
	channel  Channel
	shell    *shell.Persistent
	journal  types.Journal
	fs       *fuse.Filesystem
	identity *policy.Identity

	forwarded bool
	listening bool

	closeOnce sync.Once
	closeErr  error
	log       *logrus.Entry
}

// Start runs the bootstrap sequence. Anything set up before a failing step
// is torn down again before the error is returned.
func Start(ctx context.Context, cfg *config.Config, runner device.Runner, dial Dialer) (*Session, error) {
	if dial == nil {
		dial = DialNetcat
	}
	s := &Session{
		cfg: cfg,
		dev: device.New(runner, device.Options{
			Adb:         cfg.Adb,
			Serial:      cfg.Serial,
			Port:        cfg.Port,
			RemoteShell: cfg.RemoteShell,
			Busybox:     cfg.Busybox,
		}),
		log: logrus.WithField("component", "session"),
	}

	if err := s.start(ctx, dial); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// lockPort takes the lock file of the configured port. Teardown kills the
// listener and removes the forward on that port, so a second mount on it
// would pull them out from under the first.
func (s *Session) lockPort() error {
	lock := flock.New(s.cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w: %d (%s)", ErrPortInUse, s.cfg.Port, lock.Path())
	}
	s.portLock = lock
	return nil
}

func (s *Session) start(ctx context.Context, dial Dialer) error {
	if err := s.lockPort(); err != nil {
		return err
	}

	var err error
	s.staging, err = staging.New(s.cfg.StagingTemplate)
	if err != nil {
		return err
	}
	s.log.Debugf("staging directory %s", s.staging.Path())

	if _, err := s.dev.Connected(ctx); err != nil {
		return err
	}
	s.forwarded = true
	if err := s.dev.Forward(ctx); err != nil {
		return err
	}
	s.listening = true
	if err := s.dev.StartNetcat(ctx); err != nil {
		return err
	}

	s.identity, err = s.dev.QueryIdentity(ctx)
	if err != nil {
		return err
	}
	mounts, err := s.dev.QueryMounts(ctx, s.cfg.ExtraMounts)
	if err != nil {
		return err
	}
	s.log.Debugf("uid %d gid %d, %d mount entries", s.identity.Uid, s.identity.Gid, mounts.Len())

	s.channel, err = dial([]string{s.cfg.Netcat, "localhost", strconv.Itoa(s.cfg.Port)})
	if err != nil {
		return fmt.Errorf("failed to connect to device shell: %w", err)
	}
	s.shell = shell.NewPersistent(s.channel, s.cfg.Busybox)

	s.journal, err = journal.New(ctx, s.cfg.Journal)
	if err != nil {
		return err
	}

	s.fs = fuse.NewFilesystem(fuse.Options{
		Shell:      s.shell,
		Transfer:   s.dev,
		Staging:    s.staging,
		Cache:      cache.NewManager(s.cfg.CacheTTL),
		Policy:     &policy.Policy{Identity: s.identity, Mounts: mounts},
		Recorder:   journal.NewRecorder(s.journal),
		StatfsPath: s.cfg.StatfsPath,
	})
	return nil
}

// Filesystem is the filesystem served for this session.
func (s *Session) Filesystem() *fuse.Filesystem {
	return s.fs
}

// Identity is the device user the remote shell runs as.
func (s *Session) Identity() *policy.Identity {
	return s.identity
}

// Close tears everything down in reverse order. Every step is attempted even
// if an earlier one fails. Only the first call does any work.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.teardown()
	})
	return s.closeErr
}

func (s *Session) teardown() error {
	// Teardown must run even when the caller's context is already done.
	ctx := context.Background()
	var errs []error

	if s.shell != nil {
		s.shell.Close()
	}
	if s.channel != nil {
		if err := s.channel.SendEOF(); err != nil {
			s.log.WithError(err).Debug("close netcat stdin")
		}
	}
	// Killing the listener ends the local netcat as well.
	if s.listening {
		if err := s.dev.KillNetcat(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.channel != nil {
		s.log.Debugf("netcat exited with status %d", s.channel.Wait())
	}
	if s.forwarded {
		if err := s.dev.RemoveForward(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close journal: %w", err))
		}
	}
	if s.staging != nil {
		if err := s.staging.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.portLock != nil {
		if err := s.portLock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unlock %s: %w", s.portLock.Path(), err))
		}
	}
	return errors.Join(errs...)
}
