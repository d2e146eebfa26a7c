// Package store is the remote side of a sweep: bulk access to one Redis hash.
package store

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/danmuck/rbclean/src/failures"
	"github.com/danmuck/rbclean/src/uuid_cache"
	logs "github.com/danmuck/smplog"
	"github.com/go-redis/redis/v8"
)

const (
	DefaultPort       = 6379
	DefaultTimeout    = 30 * time.Second
	DefaultWriteBatch = 1000 // fields per HSET command
)

// HashStore is what a sweep needs from the remote cache.
type HashStore interface {
	BulkRead(ctx context.Context, key string) (uuid_cache.Snapshot, error)
	BulkWrite(ctx context.Context, key string, fields uuid_cache.Snapshot) error
	Delete(ctx context.Context, key string) error
}

// Options configures Dial. Password is sent with AUTH on every new
// connection; an empty password skips authentication.
type Options struct {
	Host       string
	Port       int
	Password   string
	DB         int
	Timeout    time.Duration
	WriteBatch int
}

// Addr returns host:port.
func (o Options) Addr() string {
	port := o.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}

// RedisStore implements HashStore on a go-redis client.
type RedisStore struct {
	client     *redis.Client
	addr       string
	writeBatch int
}

// Dial connects and authenticates, verifying both with a PING.
// Errors match failures.ErrConnection.
func Dial(ctx context.Context, opts Options) (*RedisStore, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: redis host is required", failures.ErrConfig)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	batch := opts.WriteBatch
	if batch <= 0 {
		batch = DefaultWriteBatch
	}

	addr := opts.Addr()
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
		PoolSize:     1,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %w", failures.ErrConnection, addr, err)
	}
	logs.Debugf("store: connected to %s (db %d)", addr, opts.DB)

	return &RedisStore{client: client, addr: addr, writeBatch: batch}, nil
}

// Addr returns the address the store is connected to.
func (s *RedisStore) Addr() string {
	return s.addr
}

// BulkRead returns every field of the hash at key. A missing key reads as
// an empty snapshot.
func (s *RedisStore) BulkRead(ctx context.Context, key string) (uuid_cache.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: HGETALL %s: %w", failures.ErrConnection, key, err)
	}
	return uuid_cache.Snapshot(fields), nil
}

// BulkWrite sets every field of fields on the hash at key. Large hashes are
// split into several HSET commands sent in a single pipeline.
func (s *RedisStore) BulkWrite(ctx context.Context, key string, fields uuid_cache.Snapshot) error {
	if len(fields) == 0 {
		return nil
	}

	names := fields.Keys()
	pipe := s.client.Pipeline()
	for start := 0; start < len(names); start += s.writeBatch {
		end := start + s.writeBatch
		if end > len(names) {
			end = len(names)
		}
		args := make([]interface{}, 0, 2*(end-start))
		for _, name := range names[start:end] {
			args = append(args, name, fields[name])
		}
		pipe.HSet(ctx, key, args...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: HSET %s: %w", failures.ErrMutation, key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: DEL %s: %w", failures.ErrMutation, key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
