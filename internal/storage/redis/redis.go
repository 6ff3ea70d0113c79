// Package redis keeps refresh sessions, revocation markers and email
// verification state in Redis. Every key carries an expiry so the store
// cleans itself up.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memberauth/internal/storage"

	"github.com/redis/go-redis/v9"
)

const sentinel = "1"

type Storage struct {
	client *redis.Client
	now    func() time.Time
}

// New connects to Redis and checks the connection with PING.
func New(ctx context.Context, opts *redis.Options) (*Storage, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{client: client, now: time.Now}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping is used by the health endpoint.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveRefreshSession records jti as the live refresh token of the device.
// A session that is already expired is not written.
func (s *Storage) SaveRefreshSession(ctx context.Context, memberID int64, deviceID, jti string, expiresAt time.Time) error {
	const op = "storage.redis.SaveRefreshSession"

	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, storage.RefreshSessionKey(memberID, deviceID), jti, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) RefreshSession(ctx context.Context, memberID int64, deviceID string) (string, error) {
	const op = "storage.redis.RefreshSession"

	jti, err := s.client.Get(ctx, storage.RefreshSessionKey(memberID, deviceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return jti, nil
}

func (s *Storage) DeleteRefreshSession(ctx context.Context, memberID int64, deviceID string) error {
	const op = "storage.redis.DeleteRefreshSession"

	if err := s.client.Del(ctx, storage.RefreshSessionKey(memberID, deviceID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// BlacklistAccessJTI revokes an access token for the rest of its lifetime.
func (s *Storage) BlacklistAccessJTI(ctx context.Context, jti string, ttlSeconds int64) error {
	const op = "storage.redis.BlacklistAccessJTI"

	if ttlSeconds <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, storage.AccessBlacklistKey(jti), sentinel, seconds(ttlSeconds)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) IsAccessBlacklisted(ctx context.Context, jti string) (bool, error) {
	const op = "storage.redis.IsAccessBlacklisted"

	return s.exists(ctx, op, storage.AccessBlacklistKey(jti))
}

// MarkRefreshUsed sets the reuse marker only if it is absent. first is false
// when another caller already marked the same jti.
func (s *Storage) MarkRefreshUsed(ctx context.Context, jti string, ttlSeconds int64) (first bool, err error) {
	const op = "storage.redis.MarkRefreshUsed"

	if ttlSeconds <= 0 {
		return true, nil
	}

	first, err = s.client.SetNX(ctx, storage.RefreshUsedKey(jti), sentinel, seconds(ttlSeconds)).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return first, nil
}

func (s *Storage) IsRefreshUsed(ctx context.Context, jti string) (bool, error) {
	const op = "storage.redis.IsRefreshUsed"

	return s.exists(ctx, op, storage.RefreshUsedKey(jti))
}

// SaveVerificationCode replaces any previous code sent to email.
func (s *Storage) SaveVerificationCode(ctx context.Context, email, code string, ttl time.Duration) error {
	const op = "storage.redis.SaveVerificationCode"

	if err := s.client.Set(ctx, storage.EmailCodeKey(email), code, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) VerificationCode(ctx context.Context, email string) (string, error) {
	const op = "storage.redis.VerificationCode"

	code, err := s.client.Get(ctx, storage.EmailCodeKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrCodeNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return code, nil
}

func (s *Storage) DeleteVerificationCode(ctx context.Context, email string) error {
	const op = "storage.redis.DeleteVerificationCode"

	if err := s.client.Del(ctx, storage.EmailCodeKey(email)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) MarkEmailVerified(ctx context.Context, email string, ttl time.Duration) error {
	const op = "storage.redis.MarkEmailVerified"

	if err := s.client.Set(ctx, storage.EmailVerifiedKey(email), sentinel, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) IsEmailVerified(ctx context.Context, email string) (bool, error) {
	const op = "storage.redis.IsEmailVerified"

	return s.exists(ctx, op, storage.EmailVerifiedKey(email))
}

func (s *Storage) DeleteEmailVerified(ctx context.Context, email string) error {
	const op = "storage.redis.DeleteEmailVerified"

	if err := s.client.Del(ctx, storage.EmailVerifiedKey(email)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) exists(ctx context.Context, op, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
