package index

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/redis/go-redis/v9"

	"veriface/internal/verification/ports"
	"veriface/pkg/platform/sentinel"
)

// DefaultRedisKey is the hash holding every subject's embedding.
const DefaultRedisKey = "veriface:embeddings"

// Redis is an exact flat index whose vectors live in one Redis hash, field
// = subject id, value = little-endian float32s. Queries fetch the whole hash
// and rank locally, which keeps every instance's answer identical.
type Redis struct {
	client *redis.Client
	key    string
	dim    int
}

// RedisOption configures a Redis index.
type RedisOption func(*Redis)

// WithKey overrides the hash key.
func WithKey(key string) RedisOption {
	return func(r *Redis) {
		r.key = key
	}
}

// NewRedis creates an index for vectors of length dim backed by client.
func NewRedis(client *redis.Client, dim int, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if dim <= 0 {
		return nil, errors.New("index dimension must be positive")
	}
	r := &Redis{client: client, key: DefaultRedisKey, dim: dim}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *Redis) Insert(ctx context.Context, vec []float32, subjectID string) error {
	if err := checkInsert(r.dim, vec, subjectID); err != nil {
		return err
	}
	if _, err := newEntry(subjectID, vec); err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.key, subjectID, encodeVector(vec)).Err(); err != nil {
		return unavailable("store embedding", err)
	}
	return nil
}

func (r *Redis) Query(ctx context.Context, vec []float32, k int) ([]ports.Match, error) {
	if err := checkDim(r.dim, vec); err != nil {
		return nil, err
	}
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, unavailable("load embeddings", err)
	}
	entries := make([]entry, 0, len(raw))
	for subject, value := range raw {
		v, err := decodeVector([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", subject, err)
		}
		if len(v) != r.dim {
			return nil, fmt.Errorf("%w: stored vector for %s has %d values", ErrDimensionMismatch, subject, len(v))
		}
		e, err := newEntry(subject, v)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return rank(vec, entries, k)
}

// Len returns the number of stored subjects.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	n, err := r.client.HLen(ctx, r.key).Result()
	if err != nil {
		return 0, unavailable("count embeddings", err)
	}
	return n, nil
}

// unavailable marks a failed round trip as an index outage. redis.Nil is an
// answer, not an outage; context errors keep their own identity.
func unavailable(op string, err error) error {
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector payload of %d bytes is not float32 aligned", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
