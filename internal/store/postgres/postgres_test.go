package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MAFIA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MAFIA_TEST_DATABASE_URL not set")
	}
	s, err := Open(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open("  ", zap.NewNop())
	assert.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Millisecond)

	sess := engine.Session{
		Key: key, Name: "pg game", TotalSlots: 6,
		Status: engine.StatusCreated, Phase: engine.PhaseWaiting, Round: 1, Version: 1,
		Players:   []engine.Player{{UserID: "h", Name: "Host", IsHost: true, Role: engine.RoleCitizen, IsActive: true}},
		Votes:     []engine.Vote{},
		Reveals:   []engine.Reveal{},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.ErrorIs(t, s.CreateSession(ctx, sess), store.ErrDuplicateKey)

	got, err := s.GetSession(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, sess.Name, got.Name)
	assert.Equal(t, sess.Players, got.Players)

	got.Version = 2
	votes := []engine.Vote{{VoterID: "h", Round: 1, CreatedAt: now}}
	require.NoError(t, s.SaveSession(ctx, got, 1, store.Commit{Votes: votes}))
	assert.ErrorIs(t, s.SaveSession(ctx, got, 1, store.Commit{Channels: engine.Channels}), store.ErrVersionConflict)

	history, err := s.ListVotes(ctx, key)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsSkip())

	msg := engine.ChatMessage{ID: uuid.NewString(), SessionKey: key, Channel: engine.ChannelAll, AuthorID: "h", AuthorName: "Host", Text: "hello", CreatedAt: now}
	assert.ErrorIs(t, s.AppendMessage(ctx, msg), store.ErrNotFound, "the conflicting save opened nothing")

	got.Status = engine.StatusStarted
	got.Version = 3
	require.NoError(t, s.SaveSession(ctx, got, 2, store.Commit{Channels: engine.Channels}))
	got.Version = 4
	require.NoError(t, s.SaveSession(ctx, got, 3, store.Commit{Channels: engine.Channels}))
	require.NoError(t, s.AppendMessage(ctx, msg))

	msgs, err := s.ListMessages(ctx, key, engine.ChannelAll)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}
