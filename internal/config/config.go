// Package config loads adbfs settings from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSdcardMount is appended to the device mount table because the
// emulated sdcard does not show up in busybox mount output on most devices.
const DefaultSdcardMount = "sdcardfs on /storage/emulated/legacy type sdcardfs (rw,nosuid,nodev,relatime,uid=1023,gid=1023)"

// Config holds all settings of one mount.
type Config struct {
	Adb             string        `yaml:"adb"`
	Netcat          string        `yaml:"netcat"`
	Serial          string        `yaml:"serial"`
	Port            int           `yaml:"port"`
	RemoteShell     string        `yaml:"remote_shell"`
	Busybox         string        `yaml:"busybox"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	StagingTemplate string        `yaml:"staging_template"`
	LockDir         string        `yaml:"lock_dir"` // holds the per-port lock files
	ExtraMounts     []string      `yaml:"extra_mounts"`
	StatfsPath      string        `yaml:"statfs_path"`
	LogLevel        string        `yaml:"log_level"`
	MetricsAddr     string        `yaml:"metrics_addr"` // empty disables the Prometheus endpoint
	Journal         JournalConfig `yaml:"journal"`
}

// JournalConfig selects where failed write-backs are recorded.
type JournalConfig struct {
	Backend string `yaml:"backend"` // none, postgres, mongodb, s3

	PostgresConnStr string `yaml:"postgres_conn"`
	PostgresTable   string `yaml:"postgres_table"`

	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`

	S3Bucket     string `yaml:"s3_bucket"`
	S3Region     string `yaml:"s3_region"`
	S3Endpoint   string `yaml:"s3_endpoint"`
	S3Prefix     string `yaml:"s3_prefix"`
	S3PasswdFile string `yaml:"s3_passwd_file"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Adb == "" {
		c.Adb = "adb"
	}
	if c.Netcat == "" {
		c.Netcat = "nc"
	}
	if c.Port == 0 {
		c.Port = 4444
	}
	if c.RemoteShell == "" {
		c.RemoteShell = "/system/xbin/bash"
	}
	if c.Busybox == "" {
		c.Busybox = "busybox"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 120 * time.Second
	}
	if c.StagingTemplate == "" {
		c.StagingTemplate = "/tmp/adbfs-XXXXXX"
	}
	if c.LockDir == "" {
		c.LockDir = os.TempDir()
	}
	if c.ExtraMounts == nil {
		c.ExtraMounts = []string{DefaultSdcardMount}
	}
	if c.StatfsPath == "" {
		c.StatfsPath = "/"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Journal.Backend == "" {
		c.Journal.Backend = "none"
	}
}

// Load reads path and applies defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	c.ApplyDefaults()
	return c, nil
}

// Validate checks the settings for values that cannot work.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("invalid cache_ttl %v", c.CacheTTL)
	}
	if !strings.HasSuffix(c.StagingTemplate, "XXXXXX") {
		return fmt.Errorf("staging_template must end in XXXXXX: %q", c.StagingTemplate)
	}
	switch c.Journal.Backend {
	case "none", "postgres", "mongodb", "s3":
	default:
		return fmt.Errorf("unknown journal backend %q", c.Journal.Backend)
	}
	return nil
}

// LockPath is the file locked while a mount owns the configured port.
func (c *Config) LockPath() string {
	return filepath.Join(c.LockDir, fmt.Sprintf("adbfs-%d.lock", c.Port))
}

// ForwardSpec is the adb forward argument for the configured port, "tcp:4444".
func (c *Config) ForwardSpec() string {
	return fmt.Sprintf("tcp:%d", c.Port)
}
