package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presenceUpdates(conn *fakeConn) []models.PresenceUpdate {
	var out []models.PresenceUpdate
	for _, evt := range conn.named(models.EventPresenceUpdate) {
		out = append(out, evt.Data.(models.PresenceUpdate))
	}
	return out
}

func TestPresence_SubscribeKeepsIndexesSymmetric(t *testing.T) {
	// ARRANGE
	env := newTestEnv(t)
	watcher := env.connect(uuid.New())
	alice, bob := uuid.New(), uuid.New()

	// ACT
	require.NoError(t, env.presence.Subscribe(watcher.ID(), alice))
	require.NoError(t, env.presence.Subscribe(watcher.ID(), bob))
	require.NoError(t, env.presence.Subscribe(watcher.ID(), bob))

	// ASSERT
	assert.Equal(t, 2, env.presence.SubscribedCount(watcher.ID()))
	assert.Equal(t, []string{watcher.ID()}, env.presence.WatchersOf(alice))
	assert.Equal(t, []string{watcher.ID()}, env.presence.WatchersOf(bob))

	env.presence.Unsubscribe(watcher.ID(), alice)
	assert.Empty(t, env.presence.WatchersOf(alice))
	assert.Equal(t, 1, env.presence.SubscribedCount(watcher.ID()))
}

func TestPresence_DisconnectDropsAllEdges(t *testing.T) {
	env := newTestEnv(t)
	watcher := env.connect(uuid.New())
	targets := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, target := range targets {
		require.NoError(t, env.presence.Subscribe(watcher.ID(), target))
	}

	_, _, err := env.registry.Disconnect(watcher.ID())
	require.NoError(t, err)

	assert.Zero(t, env.presence.SubscribedCount(watcher.ID()))
	for _, target := range targets {
		assert.Empty(t, env.presence.WatchersOf(target))
	}
}

func TestPresence_SubscribeUnknownConnection(t *testing.T) {
	env := newTestEnv(t)

	err := env.presence.Subscribe("gone", uuid.New())

	assert.ErrorIs(t, err, ErrConnectionNotFound)
	assert.Zero(t, env.presence.SubscribedCount("gone"))
}

func TestPresence_FirstConnectAnnouncesOnline(t *testing.T) {
	env := newTestEnv(t)
	watcher := env.connect(uuid.New())
	target := uuid.New()
	require.NoError(t, env.presence.Subscribe(watcher.ID(), target))

	env.connect(target)
	env.connect(target)

	updates := presenceUpdates(watcher)
	require.Len(t, updates, 1, "second device must not re-announce")
	assert.Equal(t, target, updates[0].UserID)
	assert.True(t, updates[0].IsOnline)
}

func TestPresence_ReconnectWithinGraceIsInvisible(t *testing.T) {
	// ARRANGE
	env := newTestEnv(t)
	watcher := env.connect(uuid.New())
	target := uuid.New()
	require.NoError(t, env.presence.Subscribe(watcher.ID(), target))
	first := env.connect(target)

	// ACT
	_, _, err := env.registry.Disconnect(first.ID())
	require.NoError(t, err)
	env.clock.Add(3 * time.Second)
	env.connect(target)
	env.clock.Add(10 * time.Second)

	// ASSERT
	assert.Never(t, func() bool {
		for _, u := range presenceUpdates(watcher) {
			if !u.IsOnline {
				return true
			}
		}
		return false
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Len(t, presenceUpdates(watcher), 1)
	_, persisted := env.lastSeen.get(target)
	assert.False(t, persisted)
}

func TestPresence_OfflineAfterGraceCarriesDisconnectTime(t *testing.T) {
	// ARRANGE
	env := newTestEnv(t)
	watcher := env.connect(uuid.New())
	target := uuid.New()
	require.NoError(t, env.presence.Subscribe(watcher.ID(), target))
	conn := env.connect(target)
	disconnectedAt := env.clock.Now().UTC()

	// ACT
	_, _, err := env.registry.Disconnect(conn.ID())
	require.NoError(t, err)
	env.clock.Add(4 * time.Second)
	assert.Len(t, presenceUpdates(watcher), 1, "still inside grace window")
	env.clock.Add(2 * time.Second)

	// ASSERT
	require.Eventually(t, func() bool {
		return len(presenceUpdates(watcher)) == 2
	}, time.Second, 5*time.Millisecond)

	offline := presenceUpdates(watcher)[1]
	assert.False(t, offline.IsOnline)
	require.NotNil(t, offline.LastSeen)
	assert.True(t, disconnectedAt.Equal(*offline.LastSeen), "lastSeen is the disconnect instant, not the announcement")

	stored, ok := env.lastSeen.get(target)
	require.True(t, ok)
	assert.True(t, disconnectedAt.Equal(stored))
}

func TestPresence_InitialStatusesAndSnapshot(t *testing.T) {
	// ARRANGE
	env := newTestEnv(t)
	watcher := env.connect(uuid.New())
	online, offline, grace := uuid.New(), uuid.New(), uuid.New()
	env.connect(online)
	leaving := env.connect(grace)
	_, _, err := env.registry.Disconnect(leaving.ID())
	require.NoError(t, err)
	seen := time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC)
	require.NoError(t, env.lastSeen.SetLastSeen(context.Background(), offline, seen))

	targets := []uuid.UUID{online, offline, grace}
	for _, target := range targets {
		require.NoError(t, env.presence.Subscribe(watcher.ID(), target))
	}

	// ACT
	snap := env.presence.Snapshot(context.Background(), watcher.ID(), targets)

	// ASSERT
	assert.Equal(t, map[uuid.UUID]bool{online: true, offline: false, grace: true}, snap.Statuses)
	assert.Equal(t, 3, snap.SubscribedCount)
	assert.True(t, seen.Equal(snap.LastSeen[offline]))
	assert.NotContains(t, snap.LastSeen, online)
	assert.True(t, env.clock.Now().UTC().Equal(snap.ServerTime))
}
