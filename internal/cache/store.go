package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("cache: not found")
	ErrExpired           = errors.New("cache: expired")
	ErrPartitionNotFound = errors.New("cache: partition not found")
)

// Store is a set of named partitions, each mapping request keys to entries.
// Implementations must be safe for concurrent use by multiple goroutines.
// Concurrent writers to the same key are last-write-wins.
type Store interface {
	// Open creates the partition if it does not exist yet.
	Open(ctx context.Context, partition string) error
	// Get returns ErrNotFound when the partition or key is absent and
	// ErrExpired when the entry outlived its ttl.
	Get(ctx context.Context, partition, key string) (*Entry, error)
	// Put creates the partition on first use. A ttl <= 0 never expires.
	Put(ctx context.Context, partition, key string, e *Entry, ttl time.Duration) error
	Delete(ctx context.Context, partition, key string) error
	// Partitions lists every existing partition name.
	Partitions(ctx context.Context) ([]string, error)
	// DeletePartition returns ErrPartitionNotFound when name is absent.
	DeletePartition(ctx context.Context, name string) error
	// Len counts the entries stored in a partition.
	Len(ctx context.Context, partition string) (int, error)
	Close() error
}
