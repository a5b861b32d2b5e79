package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RedisTokenStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *logrus.Logger
}

func NewRedisTokenStore(client redis.UniversalClient, keyPrefix string, logger *logrus.Logger) *RedisTokenStore {
	return &RedisTokenStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (s *RedisTokenStore) refreshKey(subject string) string {
	return fmt.Sprintf("%s:refresh:%s", s.keyPrefix, subject)
}

func (s *RedisTokenStore) revokedKey(token string) string {
	return fmt.Sprintf("%s:revoked:%s", s.keyPrefix, tokenDigest(token))
}

func (s *RedisTokenStore) PutRefresh(ctx context.Context, subject, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.refreshKey(subject), token, ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("subject", subject).Error("Failed to store refresh token in Redis")
		return fmt.Errorf("%w: store refresh token: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisTokenStore) GetRefresh(ctx context.Context, subject string) (string, bool, error) {
	token, err := s.client.Get(ctx, s.refreshKey(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		s.logger.WithError(err).WithField("subject", subject).Error("Failed to get refresh token from Redis")
		return "", false, fmt.Errorf("%w: get refresh token: %v", ErrStoreUnavailable, err)
	}
	return token, true, nil
}

func (s *RedisTokenStore) DeleteRefresh(ctx context.Context, subject string) error {
	if err := s.client.Del(ctx, s.refreshKey(subject)).Err(); err != nil {
		s.logger.WithError(err).WithField("subject", subject).Error("Failed to delete refresh token from Redis")
		return fmt.Errorf("%w: delete refresh token: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisTokenStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	// SETNX keeps an existing marker and its TTL.
	if err := s.client.SetNX(ctx, s.revokedKey(token), "1", ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to mark token revoked in Redis")
		return fmt.Errorf("%w: revoke token: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisTokenStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.revokedKey(token)).Result()
	if err != nil {
		s.logger.WithError(err).Error("Failed to check token revocation in Redis")
		return false, fmt.Errorf("%w: check revocation: %v", ErrStoreUnavailable, err)
	}
	return exists > 0, nil
}
