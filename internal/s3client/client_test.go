package s3client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/aws/smithy-go"

	"github.com/adbfs-fuse/adbfs-go/internal/credentials"
)

func TestNewClient(t *testing.T) {
	creds := &credentials.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}
	client, err := NewClient(context.Background(), "adbfs-journal", "us-east-1", "http://localhost:4566", creds)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if client.Bucket() != "adbfs-journal" {
		t.Errorf("Expected bucket 'adbfs-journal', got '%s'", client.Bucket())
	}

	if client.region != "us-east-1" {
		t.Errorf("Expected region 'us-east-1', got '%s'", client.region)
	}

	if client.s3Client == nil {
		t.Error("SDK client should be configured")
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{bucket: "b"}
	ctx := context.Background()

	if _, err := client.ListObjects(ctx, ""); err != ErrNotInitialized {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
	if err := client.PutObjectWithMetadata(ctx, "k", nil, nil); err != ErrNotInitialized {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	if err := m.PutObjectWithMetadata(ctx, "journal/b", []byte("bb"), map[string]string{"x-amz-meta-remote-path": "/b"}); err != nil {
		t.Fatal(err)
	}
	if err := m.PutObjectWithMetadata(ctx, "journal/a", []byte("a"), nil); err != nil {
		t.Fatal(err)
	}
	m.PutObjectWithMetadata(ctx, "other/c", nil, nil)

	keys, _ := m.ListObjects(ctx, "journal/")
	if len(keys) != 2 || keys[0] != "journal/a" {
		t.Errorf("Unexpected keys %v", keys)
	}

	meta, err := m.HeadObject(ctx, "journal/b")
	if err != nil {
		t.Fatal(err)
	}
	if meta["remote-path"] != "/b" {
		t.Errorf("Expected prefix to be stripped, got %v", meta)
	}

	data, _ := m.GetObject(ctx, "journal/b")
	if string(data) != "bb" {
		t.Errorf("Expected 'bb', got %q", data)
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{fmt.Errorf("operation error S3: HeadObject: %w", &smithy.GenericAPIError{Code: "NotFound"}), true},
		{&smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		if got := isNotFound(tt.err); got != tt.want {
			t.Errorf("isNotFound(%v) = %v, expected %v", tt.err, got, tt.want)
		}
	}
}

func TestMockClientMissingKey(t *testing.T) {
	m := NewMockClient()

	_, err := m.HeadObject(context.Background(), "journal/missing")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotFound wrapping os.ErrNotExist, got %v", err)
	}
}
