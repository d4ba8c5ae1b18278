package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePasswd(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".passwd-adbfs")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to create test passwd file: %v", err)
	}
	return path
}

func TestFromPasswdFile(t *testing.T) {
	path := writePasswd(t, "# journal keys\n\nTEST_ACCESS_KEY:TEST_SECRET_KEY\n", 0600)

	cred, err := FromPasswdFile(path, "")
	if err != nil {
		t.Fatalf("Failed to load credentials: %v", err)
	}

	if cred.AccessKeyID != "TEST_ACCESS_KEY" {
		t.Errorf("Expected AccessKeyID 'TEST_ACCESS_KEY', got '%s'", cred.AccessKeyID)
	}

	if cred.SecretAccessKey != "TEST_SECRET_KEY" {
		t.Errorf("Expected SecretAccessKey 'TEST_SECRET_KEY', got '%s'", cred.SecretAccessKey)
	}
}

func TestFromPasswdFilePerBucket(t *testing.T) {
	path := writePasswd(t, "other:K1:S1\nadbfs-journal:K2:S2\n", 0600)

	cred, err := FromPasswdFile(path, "adbfs-journal")
	if err != nil {
		t.Fatalf("Failed to load credentials: %v", err)
	}
	if cred.AccessKeyID != "K2" || cred.SecretAccessKey != "S2" {
		t.Errorf("Expected K2:S2, got %s:%s", cred.AccessKeyID, cred.SecretAccessKey)
	}

	_, err = FromPasswdFile(path, "missing")
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Expected ErrNoCredentials, got %v", err)
	}
}

func TestFromPasswdFileInvalidFormat(t *testing.T) {
	path := writePasswd(t, "INVALID_FORMAT", 0600)

	if _, err := FromPasswdFile(path, ""); err == nil {
		t.Error("Expected error for invalid format")
	}
}

func TestFromPasswdFilePermissions(t *testing.T) {
	path := writePasswd(t, "K:S", 0644)

	if _, err := FromPasswdFile(path, ""); err == nil {
		t.Error("Expected error for world-readable passwd file")
	}
}

func TestFromEnvironment(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "ENV_KEY")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "ENV_SECRET")
	t.Setenv("AWS_SESSION_TOKEN", "TOKEN")

	cred, err := Resolve("", "")
	if err != nil {
		t.Fatalf("Failed to load credentials from environment: %v", err)
	}
	if cred.AccessKeyID != "ENV_KEY" || cred.SessionToken != "TOKEN" {
		t.Errorf("Unexpected credentials %+v", cred)
	}
}

func TestFromEnvironmentMissing(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	if _, err := FromEnvironment(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Expected ErrNoCredentials, got %v", err)
	}
}

func TestIsValid(t *testing.T) {
	var nilCred *Credentials
	if nilCred.IsValid() {
		t.Error("nil credentials should be invalid")
	}
	if (&Credentials{AccessKeyID: "K"}).IsValid() {
		t.Error("Credentials without secret should be invalid")
	}
}
