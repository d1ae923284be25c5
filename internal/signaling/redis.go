package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// drainScript atomically reads and deletes a candidate queue so two
// consumers can never see the same batch.
var drainScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return items
`)

// RedisStore is the distributed Store implementation. Every key carries the
// room TTL so rooms evict themselves without a sweep job.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func offerKey(roomID string) string  { return fmt.Sprintf("signaling:%s:offer", roomID) }
func answerKey(roomID string) string { return fmt.Sprintf("signaling:%s:answer", roomID) }
func stateKey(roomID string) string  { return fmt.Sprintf("signaling:%s:state", roomID) }
func candidatesKey(roomID string, owner Role) string {
	return fmt.Sprintf("signaling:%s:candidates:%s", roomID, owner)
}

func (s *RedisStore) postSignal(ctx context.Context, key string, sdp string) error {
	payload, err := json.Marshal(Signal{SDP: sdp, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	return s.client.Set(ctx, key, payload, s.ttl).Err()
}

func (s *RedisStore) getSignal(ctx context.Context, key string) (*Signal, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var signal Signal
	if err := json.Unmarshal(raw, &signal); err != nil {
		return nil, fmt.Errorf("unmarshal signal: %w", err)
	}
	return &signal, nil
}

func (s *RedisStore) PostOffer(ctx context.Context, roomID, sdp string) error {
	if err := s.postSignal(ctx, offerKey(roomID), sdp); err != nil {
		return err
	}
	// Advance the state tag only from empty; an answer may already be there.
	return s.client.SetNX(ctx, stateKey(roomID), string(RoomStateOfferPosted), s.ttl).Err()
}

func (s *RedisStore) PostAnswer(ctx context.Context, roomID, sdp string) error {
	state, err := s.State(ctx, roomID)
	if err != nil {
		return err
	}
	if state == RoomStateEmpty {
		log.Warn().Str("roomId", roomID).Msg("answer posted before offer")
	}
	if err := s.postSignal(ctx, answerKey(roomID), sdp); err != nil {
		return err
	}
	return s.client.Set(ctx, stateKey(roomID), string(RoomStateAnswerPosted), s.ttl).Err()
}

func (s *RedisStore) GetOffer(ctx context.Context, roomID string) (*Signal, error) {
	return s.getSignal(ctx, offerKey(roomID))
}

func (s *RedisStore) GetAnswer(ctx context.Context, roomID string) (*Signal, error) {
	return s.getSignal(ctx, answerKey(roomID))
}

func (s *RedisStore) PostCandidate(ctx context.Context, roomID string, candidate json.RawMessage, from Role) error {
	key := candidatesKey(roomID, from)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, []byte(candidate))
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DrainCandidates(ctx context.Context, roomID string, forRole Role) ([]json.RawMessage, error) {
	key := candidatesKey(roomID, forRole.Other())
	result, err := drainScript.Run(ctx, s.client, []string{key}).Result()
	if err != nil {
		return nil, err
	}

	items, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected drain result type %T", result)
	}

	candidates := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected drain item type %T", item)
		}
		candidates = append(candidates, json.RawMessage(str))
	}
	return candidates, nil
}

func (s *RedisStore) Exists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.client.Exists(ctx,
		stateKey(roomID),
		offerKey(roomID),
		answerKey(roomID),
		candidatesKey(roomID, RoleHost),
		candidatesKey(roomID, RoleGuest),
	).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) State(ctx context.Context, roomID string) (RoomState, error) {
	value, err := s.client.Get(ctx, stateKey(roomID)).Result()
	if err == redis.Nil {
		return RoomStateEmpty, nil
	}
	if err != nil {
		return RoomStateEmpty, err
	}
	return RoomState(value), nil
}
