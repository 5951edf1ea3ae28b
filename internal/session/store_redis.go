package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	errx "github.com/horizon-finance-poc/server/internal/core/error"
	logx "github.com/horizon-finance-poc/server/pkg/logger"
)

// RedisStore keeps sessions as JSON blobs in Redis so an agent restart does
// not drop in-flight applications. The TTL is refreshed on every save.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisStore constructs a Redis-backed session store. A non-positive ttl
// disables expiry.
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("loan:session:%s", sessionID)
}

func (s *RedisStore) Create(ctx context.Context) (*State, error) {
	state := NewState(uuid.NewString())
	if err := s.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*State, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
		}
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session from redis")
		return nil, errx.WrapRedis(err)
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to unmarshal session state")
		return nil, fmt.Errorf("unmarshal session %q: %w", sessionID, err)
	}
	return &state, nil
}

func (s *RedisStore) Save(ctx context.Context, state *State) error {
	b, err := json.Marshal(state)
	if err != nil {
		logx.Error().Err(err).Str("session_id", state.SessionID).Msg("failed to marshal session state")
		return fmt.Errorf("marshal session: %w", err)
	}

	key := s.sessionKey(state.SessionID)
	if err := s.rdb.Set(ctx, key, b, s.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to write session to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	n, err := s.rdb.Del(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	if n == 0 {
		return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
