package remote

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/shelf-sync/internal/types"
)

const (
	defaultRedisPrefix = "shelf:doc:"

	fieldBody      = "body"
	fieldDigest    = "credential_digest"
	fieldUpdatedAt = "updated_at"
)

// RedisStore keeps each document in a hash holding the body and the digest of
// the credential it was created with.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: defaultRedisPrefix}
}

// Fetch implements Store.
func (s *RedisStore) Fetch(ctx context.Context, id, credential string) (string, error) {
	const op = "remote fetch"

	fields, err := s.client.HMGet(ctx, s.key(id), fieldBody, fieldDigest).Result()
	if err != nil {
		return "", classifyRedis(op, err)
	}
	body, ok := fields[0].(string)
	if !ok {
		return "", types.NewError(types.CodeNotFound, op, "document not found", nil)
	}
	digest, _ := fields[1].(string)
	if !digestMatches(digest, credential) {
		return "", types.NewError(types.CodeUnauthorized, op, "credential rejected", nil)
	}
	return body, nil
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, credential, text string) (string, error) {
	id := uuid.NewString()
	err := s.client.HSet(ctx, s.key(id),
		fieldBody, text,
		fieldDigest, credentialDigest(credential),
		fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return "", classifyRedis("remote create", err)
	}
	return id, nil
}

// Update implements Store. The digest check and the write run under WATCH so
// a concurrent delete cannot resurrect the document.
func (s *RedisStore) Update(ctx context.Context, id, credential, text string) error {
	const op = "remote update"
	key := s.key(id)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		digest, err := tx.HGet(ctx, key, fieldDigest).Result()
		if err != nil {
			return err
		}
		if !digestMatches(digest, credential) {
			return types.NewError(types.CodeUnauthorized, op, "credential rejected", nil)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldBody, text, fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano))
			return nil
		})
		return err
	}, key)
	if err != nil {
		return classifyRedis(op, err)
	}
	return nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func classifyRedis(op string, err error) error {
	var typed *types.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, redis.Nil):
		return types.NewError(types.CodeNotFound, op, "document not found", nil)
	case errors.Is(err, redis.TxFailedErr):
		return types.NewError(types.CodeNetwork, op, "document changed during update", err)
	case isCanceled(err):
		return err
	default:
		return types.NewError(types.CodeNetwork, op, "redis request failed", err)
	}
}
