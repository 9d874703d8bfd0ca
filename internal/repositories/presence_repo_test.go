package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// TestPresenceRepository_LastSeenRoundTrip tests storing and reading back last-seen values
func TestPresenceRepository_LastSeenRoundTrip(t *testing.T) {
	client, _ := getTestRedisClient(t)
	repo := NewRedisPresenceRepository(client)
	ctx := context.Background()

	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	aliceSeen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bobSeen := aliceSeen.Add(time.Hour)

	// ACT: Record two users, leave the third unknown
	require.NoError(t, repo.SetLastSeen(ctx, alice, aliceSeen))
	require.NoError(t, repo.SetLastSeen(ctx, bob, bobSeen))

	got, err := repo.GetBulkLastSeen(ctx, []uuid.UUID{alice, bob, carol})

	// ASSERT: Known users come back, unknown user is absent
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, aliceSeen.Equal(got[alice]))
	assert.True(t, bobSeen.Equal(got[bob]))
	_, ok := got[carol]
	assert.False(t, ok, "user without a record should be absent")
}

// TestPresenceRepository_Overwrite tests that a later offline transition replaces the earlier one
func TestPresenceRepository_Overwrite(t *testing.T) {
	client, _ := getTestRedisClient(t)
	repo := NewRedisPresenceRepository(client)
	ctx := context.Background()

	user := uuid.New()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(10 * time.Minute)

	require.NoError(t, repo.SetLastSeen(ctx, user, first))
	require.NoError(t, repo.SetLastSeen(ctx, user, second))

	got, err := repo.GetBulkLastSeen(ctx, []uuid.UUID{user})
	require.NoError(t, err)
	assert.True(t, second.Equal(got[user]))
}

// TestPresenceRepository_Expiry tests that records disappear after the TTL
func TestPresenceRepository_Expiry(t *testing.T) {
	client, mr := getTestRedisClient(t)
	repo := NewRedisPresenceRepository(client)
	ctx := context.Background()

	user := uuid.New()
	require.NoError(t, repo.SetLastSeen(ctx, user, time.Now()))

	mr.FastForward(presenceTTL + time.Second)

	got, err := repo.GetBulkLastSeen(ctx, []uuid.UUID{user})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPresenceRepository_EmptyInput(t *testing.T) {
	client, _ := getTestRedisClient(t)
	repo := NewRedisPresenceRepository(client)

	got, err := repo.GetBulkLastSeen(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, got)
}
