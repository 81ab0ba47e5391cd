// README: Matching store backed by Redis: per-delivery dispatch records and the offer expiry queue.
package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"nelo/internal/types"
)

const (
	dispatchKeyPrefix = "matching:delivery:%s:dispatched_at"
	notifiedKeyPrefix = "matching:delivery:%s:notified"
	offerExpiryKey    = "matching:offers:expiry"
	// TTL for per-delivery keys (deliveries resolve well within a day).
	keyTTL = 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// RecordDispatch stores the first dispatch time and adds the offered drivers to the notified set.
func (s *Store) RecordDispatch(ctx context.Context, deliveryID types.ID, offers []ScheduledOffer) error {
	pipe := s.redis.Pipeline()
	pipe.SetNX(ctx, dispatchedAtKey(deliveryID), time.Now().UTC().Format(time.RFC3339), keyTTL)
	if len(offers) > 0 {
		members := make([]interface{}, len(offers))
		expiries := make([]redis.Z, len(offers))
		for i, o := range offers {
			members[i] = string(o.DriverID)
			expiries[i] = redis.Z{Score: float64(o.ExpiresAt.UnixMilli()), Member: string(o.ID)}
		}
		pipe.SAdd(ctx, notifiedKey(deliveryID), members...)
		pipe.Expire(ctx, notifiedKey(deliveryID), keyTTL)
		pipe.ZAdd(ctx, offerExpiryKey, expiries...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetDispatchedAt returns when the delivery was first dispatched, and whether it has been dispatched.
func (s *Store) GetDispatchedAt(ctx context.Context, deliveryID types.ID) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, dispatchedAtKey(deliveryID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Notified returns the drivers already offered this delivery.
func (s *Store) Notified(ctx context.Context, deliveryID types.ID) (map[types.ID]struct{}, error) {
	members, err := s.redis.SMembers(ctx, notifiedKey(deliveryID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[types.ID]struct{}, len(members))
	for _, m := range members {
		out[types.ID(m)] = struct{}{}
	}
	return out, nil
}

// DueOffers lists offer IDs whose expiry is at or before now, oldest first.
func (s *Store) DueOffers(ctx context.Context, now time.Time, limit int) ([]types.ID, error) {
	ids, err := s.redis.ZRangeByScore(ctx, offerExpiryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.ID, len(ids))
	for i, id := range ids {
		out[i] = types.ID(id)
	}
	return out, nil
}

// AckExpired removes handled offers from the expiry queue.
func (s *Store) AckExpired(ctx context.Context, ids ...types.ID) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = string(id)
	}
	return s.redis.ZRem(ctx, offerExpiryKey, members...).Err()
}

func dispatchedAtKey(deliveryID types.ID) string {
	return fmt.Sprintf(dispatchKeyPrefix, string(deliveryID))
}

func notifiedKey(deliveryID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(deliveryID))
}
