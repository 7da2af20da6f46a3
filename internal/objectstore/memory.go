package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"uniassist/internal/errkind"
)

// MemoryStore keeps blobs in process memory. It backs tests and
// deployments without an S3 endpoint; presigned URLs are synthetic but
// carry an expiry so callers can still exercise TTL handling.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	s.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	s.mu.Unlock()
	return "mem://" + key, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errkind.Errorf(errkind.NotFound, "object %q not found", key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) Size(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return 0, errkind.Errorf(errkind.NotFound, "object %q not found", key)
	}
	return int64(len(obj.data)), nil
}

func (s *MemoryStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", errkind.Errorf(errkind.NotFound, "object %q not found", key)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("/objects/%s?expires=%d", url.PathEscape(key), expires), nil
}
