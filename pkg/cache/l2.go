package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

// Provider is a shared second-tier store. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Get returns the stored value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// Frame headers for stored values.
const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

// frame prefixes data with a header byte, compressing it when compression is
// enabled and data is at least threshold bytes long.
func frame(data []byte, compress bool, threshold int) []byte {
	if compress && len(data) >= threshold {
		out := make([]byte, 1, len(data)/2+1)
		out[0] = frameZstd
		return encoder.EncodeAll(data, out)
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, frameRaw)
	return append(out, data...)
}

func unframe(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, errors.New("empty cache value")
	}
	switch value[0] {
	case frameRaw:
		return value[1:], nil
	case frameZstd:
		return decoder.DecodeAll(value[1:], nil)
	default:
		return nil, fmt.Errorf("unknown cache frame %d", value[0])
	}
}

const scanBatch = 500

// RedisProvider stores entries in Redis.
type RedisProvider struct {
	client    redis.UniversalClient
	compress  bool
	threshold int
}

// NewRedisProvider wraps client. Closing the provider closes the client.
func NewRedisProvider(client redis.UniversalClient, cfg L2Config) *RedisProvider {
	threshold := cfg.CompressionThreshold
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	return &RedisProvider{
		client:    client,
		compress:  cfg.Compression,
		threshold: threshold,
	}
}

func (p *RedisProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := unframe(value)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (p *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.client.Set(ctx, key, frame(value, p.compress, p.threshold), ttl).Err()
}

func (p *RedisProvider) DeletePrefix(ctx context.Context, prefix string) error {
	iter := p.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := p.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return p.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
