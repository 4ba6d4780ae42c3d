package indexer

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the typed adapter over the key-value store's hash/set/sorted-set
// primitives. There is no multi-key transaction: callers treat a group of
// writes as one logical unit and leave partial failures to reconciliation.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) TTL() time.Duration { return s.ttl }

// WriteHash overwrites the hash at key and refreshes its TTL. The index is a
// refreshable cache; expiry means "needs resync", not "does not exist".
func (s *Store) WriteHash(ctx context.Context, key string, fields map[string]interface{}) error {
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, s.ttl).Err()
}

// ReadHash returns all fields of the hash at key; an empty map means the key
// is absent (or expired).
func (s *Store) ReadHash(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *Store) DeleteKey(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}

// AddToSet adds member and refreshes the set's TTL alongside.
func (s *Store) AddToSet(ctx context.Context, key string, member uint64) error {
	if err := s.rdb.SAdd(ctx, key, member).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, s.ttl).Err()
}

// RemoveFromSet is a no-op when the member or the set is missing.
func (s *Store) RemoveFromSet(ctx context.Context, key string, member uint64) error {
	return s.rdb.SRem(ctx, key, member).Err()
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]uint64, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

func (s *Store) AddToSorted(ctx context.Context, key string, score float64, member uint64) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: strconv.FormatUint(member, 10)}).Err()
}

func (s *Store) RemoveFromSorted(ctx context.Context, key string, member uint64) error {
	return s.rdb.ZRem(ctx, key, strconv.FormatUint(member, 10)).Err()
}

// SortedRangeByScore returns members with min <= score <= max.
func (s *Store) SortedRangeByScore(ctx context.Context, key string, min, max float64) ([]uint64, error) {
	members, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

// SortedScore returns the member's score and whether it is present.
func (s *Store) SortedScore(ctx context.Context, key string, member uint64) (float64, bool, error) {
	score, err := s.rdb.ZScore(ctx, key, strconv.FormatUint(member, 10)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (s *Store) IsSetMember(ctx context.Context, key string, member uint64) (bool, error) {
	return s.rdb.SIsMember(ctx, key, member).Result()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func parseIDs(members []string) []uint64 {
	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
