package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
	defaultOpTimeout    = 2 * time.Second
)

// cmdable is the part of the redis client the store uses.
type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis keeps each cell under "<prefix>:<offset>". A missing key reads as
// an erased cell.
type Redis struct {
	client cmdable
	closer func() error
	prefix string
}

// OpenRedis connects to addr and validates the connection with PING.
func OpenRedis(addr, password string, db int, prefix string) (*Redis, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedis(client, client.Close, prefix), nil
}

func newRedis(c cmdable, closer func() error, prefix string) *Redis {
	if prefix == "" {
		prefix = "evse:nv"
	}
	return &Redis{client: c, closer: closer, prefix: prefix}
}

func (s *Redis) key(offset int) string {
	return s.prefix + ":" + strconv.Itoa(offset)
}

// ReadUint32 returns the value stored for offset.
func (s *Redis) ReadUint32(offset int) (uint32, error) {
	if offset < 0 {
		return 0, ErrOutOfRange
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(offset)).Result()
	if errors.Is(err, redis.Nil) {
		return Uninitialized, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", s.key(offset), err)
	}
	v, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("redis value %s: %w", s.key(offset), err)
	}
	return uint32(v), nil
}

// WriteUint32 stores v for offset without expiry.
func (s *Redis) WriteUint32(offset int, v uint32) error {
	if offset < 0 {
		return ErrOutOfRange
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(offset), strconv.FormatUint(uint64(v), 10), 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key(offset), err)
	}
	return nil
}

// Close closes the client.
func (s *Redis) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
