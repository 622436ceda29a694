package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/stepwise/pkg/api"
)

type (
	// Store is a thin persistence layer over Redis hashes. Values are stored
	// as JSON encoded api.Values and round-trip exactly
	Store struct {
		client *redis.Client
	}

	// Config holds the connection settings for a Store
	Config struct {
		URL      string
		Addr     string
		Password string
		DB       int
	}
)

const scanBatchSize = 500

var (
	ErrInvalidStoreURL  = errors.New("invalid store URL")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDecodeValue      = errors.New("failed to decode stored value")
	ErrEncodeValue      = errors.New("failed to encode value")
)

// New creates a Store from the provided configuration. A URL, when set,
// takes precedence over the discrete address fields
func New(cfg Config) (*Store, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidStoreURL, err)
		}
		opts = parsed
	}
	return NewWithClient(redis.NewClient(opts)), nil
}

// NewWithClient wraps an existing Redis client
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping verifies that the store is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the underlying connections
func (s *Store) Close() error {
	return s.client.Close()
}

// SetKeyInHash stores a single field of a hash
func (s *Store) SetKeyInHash(
	ctx context.Context, hash string, field api.Name, value api.Value,
) error {
	return s.SetKeysInHash(ctx, hash, api.Args{field: value})
}

// SetKeysInHash stores several fields of a hash atomically
func (s *Store) SetKeysInHash(
	ctx context.Context, hash string, values api.Args,
) error {
	if len(values) == 0 {
		return nil
	}
	fields := make(map[string]any, len(values))
	for name, value := range values {
		data, err := value.MarshalJSON()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrEncodeValue, name, err)
		}
		fields[string(name)] = string(data)
	}
	return s.client.HSet(ctx, hash, fields).Err()
}

// GetKeysFromHash returns the values of the requested fields, positionally.
// Absent fields yield null
func (s *Store) GetKeysFromHash(
	ctx context.Context, hash string, fields ...api.Name,
) ([]api.Value, error) {
	if len(fields) == 0 {
		return []api.Value{}, nil
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}

	raw, err := s.client.HMGet(ctx, hash, names...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]api.Value, len(raw))
	for i, r := range raw {
		str, ok := r.(string)
		if !ok {
			continue
		}
		v, err := decodeValue(fields[i], str)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

// GetAllFromHash returns every field of a hash
func (s *Store) GetAllFromHash(
	ctx context.Context, hash string,
) (api.Args, error) {
	raw, err := s.client.HGetAll(ctx, hash).Result()
	if err != nil {
		return nil, err
	}
	res := make(api.Args, len(raw))
	for k, str := range raw {
		v, err := decodeValue(api.Name(k), str)
		if err != nil {
			return nil, err
		}
		res[api.Name(k)] = v
	}
	return res, nil
}

// DeleteKeyFromHash removes fields from a hash. Absent fields are ignored and
// a hash left empty disappears
func (s *Store) DeleteKeyFromHash(
	ctx context.Context, hash string, fields ...api.Name,
) error {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return s.client.HDel(ctx, hash, names...).Err()
}

// Delete removes whole keys unconditionally
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Exists reports whether a key is present
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasKeyInHash reports whether a hash holds the field
func (s *Store) HasKeyInHash(
	ctx context.Context, hash string, field api.Name,
) (bool, error) {
	return s.client.HExists(ctx, hash, string(field)).Result()
}

// IncreaseKeyInHashAndGet atomically increments a hash field, starting from
// zero, and returns the new value
func (s *Store) IncreaseKeyInHashAndGet(
	ctx context.Context, hash string, field api.Name,
) (int64, error) {
	return s.client.HIncrBy(ctx, hash, string(field), 1).Result()
}

// DecreaseKeyInHashAndGet atomically decrements a hash field and returns the
// new value
func (s *Store) DecreaseKeyInHashAndGet(
	ctx context.Context, hash string, field api.Name,
) (int64, error) {
	return s.client.HIncrBy(ctx, hash, string(field), -1).Result()
}

// Keys enumerates every key matching a glob pattern
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var res []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(
			ctx, cursor, pattern, scanBatchSize,
		).Result()
		if err != nil {
			return nil, err
		}
		res = append(res, keys...)
		if next == 0 {
			slices.Sort(res)
			return slices.Compact(res), nil
		}
		cursor = next
	}
}

func decodeValue(field api.Name, str string) (api.Value, error) {
	v, err := api.ParseValue([]byte(str))
	if err != nil {
		return api.Value{}, fmt.Errorf("%w: %s: %w", ErrDecodeValue, field, err)
	}
	return v, nil
}
