package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/adbfs-fuse/adbfs-go/internal/config"
	"github.com/adbfs-fuse/adbfs-go/internal/fuse"
	"github.com/adbfs-fuse/adbfs-go/internal/metrics"
	"github.com/adbfs-fuse/adbfs-go/internal/session"
	"github.com/adbfs-fuse/adbfs-go/internal/shell"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if strings.HasSuffix(version, "-dev") {
		return fmt.Sprintf("%s (%s, commit: %s)", version, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, date)
}

var (
	configPath  string
	debug       bool
	port        int
	adbPath     string
	serial      string
	journalKind string
	allowOther  bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "adbfs [flags] <mountpoint>",
	Short: "Mount an android device filesystem over adb",
	Long: `Mounts the filesystem of an adb-connected android device.

Metadata is read through a busybox shell kept open over netcat on a
forwarded port. File contents are staged locally, pulled with adb on
open and pushed back on flush.

Examples:
  adbfs ~/android
  adbfs -d --port 5555 ~/android
  adbfs --config ~/.config/adbfs.yaml --journal postgres ~/android`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMount,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("adbfs version {{.Version}}\n")
	rootCmd.Version = getVersionString()

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	pf.BoolVarP(&debug, "debug", "d", false, "Log every device command")
	pf.StringVar(&journalKind, "journal", "", "Journal backend for failed write-backs (none, postgres, mongodb, s3)")

	f := rootCmd.Flags()
	f.IntVarP(&port, "port", "p", 0, "Local and device port for the shell connection (default 4444)")
	f.StringVar(&adbPath, "adb", "", "Path to the adb binary")
	f.StringVarP(&serial, "serial", "s", "", "Serial of the device to use when several are attached")
	f.BoolVar(&allowOther, "allow-other", false, "Allow other users to access the mount")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("adb") {
		cfg.Adb = adbPath
	}
	if flags.Changed("serial") {
		cfg.Serial = serial
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("journal") {
		cfg.Journal.Backend = journalKind
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(level)
	return nil
}

func runMount(cmd *cobra.Command, args []string) error {
	mountpoint := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	sess, err := session.Start(cmd.Context(), cfg, shell.NewRunner(), session.DialNetcat)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logrus.WithError(err).Warn("teardown incomplete")
		}
	}()
	// Only covers this goroutine. Panics in request handlers are turned into
	// EIO by the fuse adapter itself.
	defer func() {
		if r := recover(); r != nil {
			sess.Close()
			panic(r)
		}
	}()

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigs:
			logrus.Infof("received %v, unmounting %s", sig, mountpoint)
			if err := fuse.Unmount(mountpoint); err != nil {
				logrus.WithError(err).Error("unmount failed")
			}
		case <-done:
		}
	}()

	logrus.Infof("mounting device at %s", mountpoint)
	return fuse.Mount(mountpoint, sess.Filesystem(), fuse.MountOptions{
		AllowOther: allowOther,
		OnDestroy: func() {
			if err := sess.Close(); err != nil {
				logrus.WithError(err).Warn("teardown incomplete")
			}
		},
	})
}
