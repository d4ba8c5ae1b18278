package s3client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MockClient is an in-memory stand-in for Client in unit tests
type MockClient struct {
	mu      sync.RWMutex
	objects map[string]*MockObject
}

// MockObject represents a stored object
type MockObject struct {
	Data     []byte
	Metadata map[string]string
}

// NewMockClient creates an empty mock
func NewMockClient() *MockClient {
	return &MockClient{objects: make(map[string]*MockObject)}
}

// ListObjects lists keys with the given prefix in lexical order
func (m *MockClient) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetObject returns a copy of the object's data
func (m *MockClient) GetObject(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, exists := m.objects[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), obj.Data...), nil
}

// PutObjectWithMetadata stores a copy of data and metadata
func (m *MockClient) PutObjectWithMetadata(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	objMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		objMetadata[strings.TrimPrefix(k, "x-amz-meta-")] = v
	}
	m.objects[key] = &MockObject{
		Data:     append([]byte(nil), data...),
		Metadata: objMetadata,
	}
	return nil
}

// HeadObject returns a copy of the object's metadata
func (m *MockClient) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, exists := m.objects[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	metadata := make(map[string]string, len(obj.Metadata))
	for k, v := range obj.Metadata {
		metadata[k] = v
	}
	return metadata, nil
}
