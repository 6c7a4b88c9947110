package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store, used for tests and SW_CACHE_BACKEND=memory.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Open(_ context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[partition]; !ok {
		s.partitions[partition] = make(map[string][]byte)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, partition, key string) (*Entry, error) {
	s.mu.RLock()
	v, ok := s.partitions[partition][key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(v)
}

func (s *MemoryStore) Put(_ context.Context, partition, key string, e *Entry, ttl time.Duration) error {
	buf, err := encode(e, ttl)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[partition]
	if !ok {
		p = make(map[string][]byte)
		s.partitions[partition] = p
	}
	p[key] = buf
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, partition, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions[partition], key)
	return nil
}

func (s *MemoryStore) Partitions(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) DeletePartition(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		return ErrPartitionNotFound
	}
	delete(s.partitions, name)
	return nil
}

func (s *MemoryStore) Len(_ context.Context, partition string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[partition]
	if !ok {
		return 0, ErrPartitionNotFound
	}
	return len(p), nil
}

func (s *MemoryStore) Close() error { return nil }
