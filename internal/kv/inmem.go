package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

type expireableItem struct {
	value      []byte
	expiration *time.Time
}

// InMem is a mutex-guarded in-memory Store with lazy TTL expiry. It
// backs tests and local single-process runs.
type InMem struct {
	mu   sync.Mutex
	data map[string]map[string]expireableItem
	now  func() time.Time
}

// NewInMem creates an empty in-memory store.
func NewInMem() *InMem {
	return &InMem{
		data: map[string]map[string]expireableItem{},
		now:  time.Now,
	}
}

// NewInMemWithClock creates a store with an injectable clock for TTL
// tests.
func NewInMemWithClock(now func() time.Time) *InMem {
	return &InMem{
		data: map[string]map[string]expireableItem{},
		now:  now,
	}
}

func (s *InMem) Set(_ context.Context, key Key, value []byte, ttlSeconds *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[key.Bucket] == nil {
		s.data[key.Bucket] = map[string]expireableItem{}
	}
	item := expireableItem{value: append([]byte(nil), value...)}
	if ttlSeconds != nil {
		expiration := s.now().Add(time.Duration(*ttlSeconds) * time.Second)
		item.expiration = &expiration
	}
	s.data[key.Bucket][key.ID] = item
	return nil
}

func (s *InMem) Create(_ context.Context, key Key, value []byte, ttlSeconds *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.data[key.Bucket][key.ID]; ok && !s.expired(item, key.Bucket, key.ID) {
		return ErrAlreadyExists
	}
	if s.data[key.Bucket] == nil {
		s.data[key.Bucket] = map[string]expireableItem{}
	}
	item := expireableItem{value: append([]byte(nil), value...)}
	if ttlSeconds != nil {
		expiration := s.now().Add(time.Duration(*ttlSeconds) * time.Second)
		item.expiration = &expiration
	}
	s.data[key.Bucket][key.ID] = item
	return nil
}

func (s *InMem) Get(_ context.Context, key Key) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[key.Bucket]
	if !ok {
		return nil, ErrNotFound
	}
	item, ok := bucket[key.ID]
	if !ok || s.expired(item, key.Bucket, key.ID) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

func (s *InMem) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[key.Bucket]
	if !ok {
		return ErrNotFound
	}
	item, ok := bucket[key.ID]
	if !ok || s.expired(item, key.Bucket, key.ID) {
		return ErrNotFound
	}
	s.remove(key.Bucket, key.ID)
	return nil
}

func (s *InMem) ListIDs(_ context.Context, bucketName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.data[bucketName]
	ids := make([]string, 0, len(bucket))
	for id, item := range bucket {
		if s.expired(item, bucketName, id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// expired reports whether the item's TTL has passed, removing it from
// the map when it has. Callers must hold the mutex.
func (s *InMem) expired(item expireableItem, bucketName, id string) bool {
	if item.expiration == nil {
		return false
	}
	if s.now().Before(*item.expiration) {
		return false
	}
	s.remove(bucketName, id)
	return true
}

func (s *InMem) remove(bucketName, id string) {
	bucket := s.data[bucketName]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(s.data, bucketName)
	}
}
