package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

const defaultKeyPrefix = "vault-depositor:pending:"

// RedisStore keeps intents in redis: one JSON value per transaction id plus a set
// of transaction ids per owner
type RedisStore struct {
	client *redis.Client
	prefix string
	logger logger.Logger
}

// NewRedisStore creates a store on client. An empty prefix uses the default.
func NewRedisStore(client *redis.Client, prefix string, log logger.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &RedisStore{client: client, prefix: prefix, logger: log}
}

func (s *RedisStore) intentKey(txID string) string {
	return s.prefix + "intent:" + txID
}

func (s *RedisStore) ownerSetKey(owner common.Address) string {
	return s.prefix + "owner:" + ownerKey(owner)
}

// Ping checks the redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Put(ctx context.Context, intent *models.PendingLocalIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to encode pending intent: %v", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.intentKey(intent.TransactionID), payload, 0)
		pipe.SAdd(ctx, s.ownerSetKey(intent.Owner), intent.TransactionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store pending intent %s: %w", intent.TransactionID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, txID string) (*models.PendingLocalIntent, error) {
	payload, err := s.client.Get(ctx, s.intentKey(txID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending intent %s: %w", txID, err)
	}

	var intent models.PendingLocalIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return nil, fmt.Errorf("failed to decode pending intent %s: %v", txID, err)
	}
	return &intent, nil
}

func (s *RedisStore) Delete(ctx context.Context, txID string) error {
	intent, err := s.Get(ctx, txID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.intentKey(txID))
		pipe.SRem(ctx, s.ownerSetKey(intent.Owner), txID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete pending intent %s: %w", txID, err)
	}
	return nil
}

func (s *RedisStore) ListByOwner(ctx context.Context, owner common.Address) ([]*models.PendingLocalIntent, error) {
	setKey := s.ownerSetKey(owner)
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %w", err)
	}

	out := make([]*models.PendingLocalIntent, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.intentKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending intents: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// value expired or was deleted without its set entry
			if err := s.client.SRem(ctx, setKey, ids[i]).Err(); err != nil {
				s.logger.Error("Failed to drop expired pending intent %s from %s: %v", ids[i], setKey, err)
			}
			continue
		}
		var intent models.PendingLocalIntent
		if err := json.Unmarshal([]byte(raw), &intent); err != nil {
			return nil, fmt.Errorf("failed to decode pending intent %s: %v", ids[i], err)
		}
		out = append(out, &intent)
	}
	sortOldestFirst(out)
	return out, nil
}
