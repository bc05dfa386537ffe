package confirmation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout
const (
	pendingKeyPrefix = "pending:entry:%s"
	pendingIndexKey  = "pending:index"
	// Redis drops keys this long after their deadline in case no sweep runs
	expiryGrace = 10 * time.Minute
)

// RedisStore persists pending entries in Redis so they survive restarts.
// Entries are JSON strings; a set indexes live ids.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func pendingKey(id string) string {
	return fmt.Sprintf(pendingKeyPrefix, id)
}

func (s *RedisStore) Put(ctx context.Context, entry PendingEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal pending entry: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt) + expiryGrace
	if ttl < expiryGrace {
		ttl = expiryGrace
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, pendingKey(entry.ID), data, ttl)
	pipe.SAdd(ctx, pendingIndexKey, entry.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (PendingEntry, bool, error) {
	data, err := s.client.Get(ctx, pendingKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PendingEntry{}, false, nil
	}
	if err != nil {
		return PendingEntry{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeEntry(data)
}

// Take uses GETDEL so concurrent resolvers cannot both win
func (s *RedisStore) Take(ctx context.Context, id string) (PendingEntry, bool, error) {
	data, err := s.client.GetDel(ctx, pendingKey(id)).Bytes()
	s.client.SRem(ctx, pendingIndexKey, id)
	if errors.Is(err, redis.Nil) {
		return PendingEntry{}, false, nil
	}
	if err != nil {
		return PendingEntry{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeEntry(data)
}

func (s *RedisStore) List(ctx context.Context) ([]PendingEntry, error) {
	ids, err := s.client.SMembers(ctx, pendingIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return []PendingEntry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = pendingKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]PendingEntry, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// key expired in Redis but id is still indexed
			stale = append(stale, ids[i])
			continue
		}
		entry, found, err := decodeEntry([]byte(str))
		if err != nil || !found {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, entry)
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, pendingIndexKey, stale...)
	}

	sortByDetected(out)
	return out, nil
}

func decodeEntry(data []byte) (PendingEntry, bool, error) {
	var entry PendingEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return PendingEntry{}, false, fmt.Errorf("failed to decode pending entry: %w", err)
	}
	return entry, true, nil
}
