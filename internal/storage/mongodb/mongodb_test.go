package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with MONGO_URI=mongodb://localhost:27017
func newStorage(t *testing.T) *Storage {
	t.Helper()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database := "memberauth_test_" + uuid.NewString()[:8]
	s, err := New(ctx, uri, database)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.database.Drop(ctx)
		_ = s.Close(ctx)
	})

	return s
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	require.NoError(t, s.SeedTerms(ctx))
	require.NoError(t, s.SeedTerms(ctx))

	terms, err := s.LatestTerms(ctx)
	require.NoError(t, err)
	require.Len(t, terms, len(models.AllTermsTypes))

	_, err = s.PublishTerms(ctx, models.TermsMarketing, 2)
	require.NoError(t, err)
	terms, err = s.LatestTerms(ctx)
	require.NoError(t, err)
	for _, tm := range terms {
		if tm.Type == models.TermsMarketing {
			assert.Equal(t, 2, tm.Version)
		}
	}

	nm := models.NewMember{
		Email:     gofakeit.Email(),
		PassHash:  []byte("hash"),
		Name:      gofakeit.Name(),
		Nickname:  gofakeit.Username(),
		BirthDate: time.Date(2000, 5, 5, 0, 0, 0, 0, time.UTC),
		Gender:    models.GenderMale,
	}
	id, err := s.SaveMember(ctx, nm, []models.TermsAgreement{{TermsID: terms[0].ID, Agreed: true}})
	require.NoError(t, err)

	_, err = s.SaveMember(ctx, nm, nil)
	require.ErrorIs(t, err, storage.ErrMemberExists)

	m, err := s.Member(ctx, nm.Email)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)

	p, err := s.MemberProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, nm.Name, p.Name)

	_, err = s.MemberByID(ctx, id+1000)
	require.ErrorIs(t, err, storage.ErrMemberNotFound)
}

func TestTokenEntries(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	jti := uuid.NewString()
	require.NoError(t, s.SaveRefreshSession(ctx, 3, "dev", jti, time.Now().Add(time.Hour)))
	got, err := s.RefreshSession(ctx, 3, "dev")
	require.NoError(t, err)
	assert.Equal(t, jti, got)

	require.NoError(t, s.DeleteRefreshSession(ctx, 3, "dev"))
	_, err = s.RefreshSession(ctx, 3, "dev")
	require.ErrorIs(t, err, storage.ErrSessionNotFound)

	first, err := s.MarkRefreshUsed(ctx, jti, 60)
	require.NoError(t, err)
	assert.True(t, first)
	first, err = s.MarkRefreshUsed(ctx, jti, 60)
	require.NoError(t, err)
	assert.False(t, first)

	used, err := s.IsRefreshUsed(ctx, jti)
	require.NoError(t, err)
	assert.True(t, used)

	require.NoError(t, s.BlacklistAccessJTI(ctx, jti, 60))
	blacklisted, err := s.IsAccessBlacklisted(ctx, jti)
	require.NoError(t, err)
	assert.True(t, blacklisted)
}

func TestTokenEntries_LapsedEntriesAreAbsent(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	jti := uuid.NewString()
	require.NoError(t, s.BlacklistAccessJTI(ctx, jti, 1))
	first, err := s.MarkRefreshUsed(ctx, jti, 1)
	require.NoError(t, err)
	require.True(t, first)

	s.now = func() time.Time { return time.Now().Add(2 * time.Second) }

	blacklisted, err := s.IsAccessBlacklisted(ctx, jti)
	require.NoError(t, err)
	assert.False(t, blacklisted)

	first, err = s.MarkRefreshUsed(ctx, jti, 60)
	require.NoError(t, err)
	assert.True(t, first)
}
