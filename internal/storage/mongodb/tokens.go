package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memberauth/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const sentinel = "1"

func (s *Storage) putEntry(ctx context.Context, key, value string, ttl time.Duration) error {
	doc := entryDoc{Key: key, Value: value, ExpiresAt: s.now().Add(ttl).UTC()}
	_, err := s.entries.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Storage) liveFilter(key string) bson.D {
	return bson.D{
		{Key: "_id", Value: key},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: s.now().UTC()}}},
	}
}

func (s *Storage) getEntry(ctx context.Context, key string) (string, bool, error) {
	var doc entryDoc
	err := s.entries.FindOne(ctx, s.liveFilter(key)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, err
	}
	return doc.Value, true, nil
}

func (s *Storage) hasEntry(ctx context.Context, key string) (bool, error) {
	n, err := s.entries.CountDocuments(ctx, s.liveFilter(key), options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) deleteEntry(ctx context.Context, key string) error {
	_, err := s.entries.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	return err
}

func (s *Storage) SaveRefreshSession(ctx context.Context, memberID int64, deviceID, jti string, expiresAt time.Time) error {
	const op = "storage.mongodb.SaveRefreshSession"

	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	if err := s.putEntry(ctx, storage.RefreshSessionKey(memberID, deviceID), jti, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) RefreshSession(ctx context.Context, memberID int64, deviceID string) (string, error) {
	const op = "storage.mongodb.RefreshSession"

	jti, ok, err := s.getEntry(ctx, storage.RefreshSessionKey(memberID, deviceID))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	return jti, nil
}

func (s *Storage) DeleteRefreshSession(ctx context.Context, memberID int64, deviceID string) error {
	const op = "storage.mongodb.DeleteRefreshSession"

	if err := s.deleteEntry(ctx, storage.RefreshSessionKey(memberID, deviceID)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) BlacklistAccessJTI(ctx context.Context, jti string, ttlSeconds int64) error {
	const op = "storage.mongodb.BlacklistAccessJTI"

	if ttlSeconds <= 0 {
		return nil
	}

	if err := s.putEntry(ctx, storage.AccessBlacklistKey(jti), sentinel, time.Duration(ttlSeconds)*time.Second); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) IsAccessBlacklisted(ctx context.Context, jti string) (bool, error) {
	const op = "storage.mongodb.IsAccessBlacklisted"

	ok, err := s.hasEntry(ctx, storage.AccessBlacklistKey(jti))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

// MarkRefreshUsed upserts the marker only over an absent or lapsed entry.
// A live entry makes the upsert collide on _id, which means another caller
// got there first.
func (s *Storage) MarkRefreshUsed(ctx context.Context, jti string, ttlSeconds int64) (bool, error) {
	const op = "storage.mongodb.MarkRefreshUsed"

	if ttlSeconds <= 0 {
		return true, nil
	}

	key := storage.RefreshUsedKey(jti)
	now := s.now().UTC()
	filter := bson.D{
		{Key: "_id", Value: key},
		{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "value", Value: sentinel},
		{Key: "expires_at", Value: now.Add(time.Duration(ttlSeconds) * time.Second)},
	}}}

	_, err := s.entries.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

func (s *Storage) IsRefreshUsed(ctx context.Context, jti string) (bool, error) {
	const op = "storage.mongodb.IsRefreshUsed"

	ok, err := s.hasEntry(ctx, storage.RefreshUsedKey(jti))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

func (s *Storage) SaveVerificationCode(ctx context.Context, email, code string, ttl time.Duration) error {
	const op = "storage.mongodb.SaveVerificationCode"

	if err := s.putEntry(ctx, storage.EmailCodeKey(email), code, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) VerificationCode(ctx context.Context, email string) (string, error) {
	const op = "storage.mongodb.VerificationCode"

	code, ok, err := s.getEntry(ctx, storage.EmailCodeKey(email))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", op, storage.ErrCodeNotFound)
	}

	return code, nil
}

func (s *Storage) DeleteVerificationCode(ctx context.Context, email string) error {
	const op = "storage.mongodb.DeleteVerificationCode"

	if err := s.deleteEntry(ctx, storage.EmailCodeKey(email)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) MarkEmailVerified(ctx context.Context, email string, ttl time.Duration) error {
	const op = "storage.mongodb.MarkEmailVerified"

	if err := s.putEntry(ctx, storage.EmailVerifiedKey(email), sentinel, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) IsEmailVerified(ctx context.Context, email string) (bool, error) {
	const op = "storage.mongodb.IsEmailVerified"

	ok, err := s.hasEntry(ctx, storage.EmailVerifiedKey(email))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

func (s *Storage) DeleteEmailVerified(ctx context.Context, email string) error {
	const op = "storage.mongodb.DeleteEmailVerified"

	if err := s.deleteEntry(ctx, storage.EmailVerifiedKey(email)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
