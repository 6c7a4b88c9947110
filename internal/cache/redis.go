package cache

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each partition in a hash, plus a set holding the names of
// all partitions. Several proxy instances can share one RedisStore.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisOptions struct {
	Addr string
	DB   int
	// Prefix namespaces every key. Defaults to "swcache".
	Prefix string
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "swcache"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) namesKey() string { return s.prefix + ":partitions" }
func (s *RedisStore) hashKey(partition string) string { return s.prefix + ":p:" + partition }

func (s *RedisStore) Open(ctx context.Context, partition string) error {
	return s.client.SAdd(ctx, s.namesKey(), partition).Err()
}

func (s *RedisStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	v, err := s.client.HGet(ctx, s.hashKey(partition), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func (s *RedisStore) Put(ctx context.Context, partition, key string, e *Entry, ttl time.Duration) error {
	buf, err := encode(e, ttl)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, s.namesKey(), partition)
		p.HSet(ctx, s.hashKey(partition), key, buf)
		return nil
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, partition, key string) error {
	return s.client.HDel(ctx, s.hashKey(partition), key).Err()
}

func (s *RedisStore) Partitions(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStore) DeletePartition(ctx context.Context, name string) error {
	removed, err := s.client.SRem(ctx, s.namesKey(), name).Result()
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.hashKey(name)).Err(); err != nil {
		return err
	}
	if removed == 0 {
		return ErrPartitionNotFound
	}
	return nil
}

func (s *RedisStore) Len(ctx context.Context, partition string) (int, error) {
	ok, err := s.client.SIsMember(ctx, s.namesKey(), partition).Result()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrPartitionNotFound
	}
	n, err := s.client.HLen(ctx, s.hashKey(partition)).Result()
	return int(n), err
}

func (s *RedisStore) Close() error { return s.client.Close() }
