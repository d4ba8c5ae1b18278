// Package credentials resolves static S3 credentials for the journal.
package credentials

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoCredentials means neither a passwd file nor the environment supplied keys.
var ErrNoCredentials = errors.New("no static credentials configured")

// Credentials holds an access key pair
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// FromPasswdFile reads the first usable line of path. Lines are either
// ACCESS_KEY:SECRET_KEY or BUCKET:ACCESS_KEY:SECRET_KEY; with the latter
// only a line for bucket (or any bucket when bucket is empty) matches.
// Blank lines and lines starting with # are skipped.
func FromPasswdFile(path, bucket string) (*Credentials, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read passwd file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("passwd file %s must not be accessible by group or others", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read passwd file: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		switch len(parts) {
		case 2:
			return &Credentials{AccessKeyID: parts[0], SecretAccessKey: parts[1]}, nil
		case 3:
			if bucket == "" || parts[0] == bucket {
				return &Credentials{AccessKeyID: parts[1], SecretAccessKey: parts[2]}, nil
			}
		default:
			return nil, fmt.Errorf("invalid passwd file format, expected ACCESS_KEY:SECRET_KEY")
		}
	}
	return nil, fmt.Errorf("%w: no entry for bucket %q in %s", ErrNoCredentials, bucket, path)
}

// FromEnvironment reads AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.
func FromEnvironment() (*Credentials, error) {
	c := &Credentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}
	if !c.IsValid() {
		return nil, ErrNoCredentials
	}
	return c, nil
}

// Resolve prefers the passwd file when one is given and falls back to the
// environment. ErrNoCredentials tells the caller to use the SDK default chain.
func Resolve(passwdFile, bucket string) (*Credentials, error) {
	if passwdFile != "" {
		return FromPasswdFile(passwdFile, bucket)
	}
	return FromEnvironment()
}

// IsValid checks that both halves of the key pair are set
func (c *Credentials) IsValid() bool {
	return c != nil && c.AccessKeyID != "" && c.SecretAccessKey != ""
}
