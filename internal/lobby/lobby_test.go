package lobby

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/failure"
	"github.com/DoyleJ11/mafia-backend/internal/fanout"
	"github.com/DoyleJ11/mafia-backend/internal/store"
	"github.com/DoyleJ11/mafia-backend/internal/store/memory"
	"github.com/DoyleJ11/mafia-backend/pkg/types"
)

type noShuffle struct{}

func (noShuffle) Shuffle(int, func(i, j int)) {}

type failingStore struct {
	*memory.Store
	err error
}

func (f failingStore) SaveSession(context.Context, engine.Session, int, store.Commit) error {
	return f.err
}

// flakyStore fails the first saves, then behaves.
type flakyStore struct {
	*memory.Store
	failures int
}

func (f *flakyStore) SaveSession(ctx context.Context, s engine.Session, prev int, c store.Commit) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.Store.SaveSession(ctx, s, prev, c)
}

func pid(i int) string { return fmt.Sprintf("p%d", i) }

func player(i int) engine.Actor { return engine.Actor{UserID: pid(i), Name: fmt.Sprintf("Player %d", i)} }

// lobbySession builds a persisted six player session still in the lobby
// phase. p0 is the host and, with noShuffle, the mafia.
func lobbySession(t *testing.T, eng *engine.Engine, st store.Store) engine.Session {
	t.Helper()
	now := time.Now().UTC()
	s, err := eng.NewSession("ABC123", "test game", 6, player(0), now)
	require.NoError(t, err)
	for i := 1; i < 6; i++ {
		_, s, err = eng.Apply(s, engine.Command{Type: engine.CmdJoin, Actor: player(i), At: now})
		require.NoError(t, err)
	}
	require.NoError(t, st.CreateSession(context.Background(), s))
	return s
}

type harness struct {
	lobby *Lobby
	store *memory.Store
	out   chan types.ServerMessage
}

func newHarness(t *testing.T, rules engine.Rules, auto bool) harness {
	t.Helper()
	eng := engine.New(rules, noShuffle{})
	st := memory.New()
	initial := lobbySession(t, eng, st)

	gw := fanout.NewGateway(zap.NewNop())
	out := make(chan types.ServerMessage, 64)
	gw.Subscribe(initial.Key, "c1", out)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := NewLobby(ctx, Deps{
		Engine:      eng,
		Store:       st,
		Publisher:   gw,
		Logger:      zap.NewNop(),
		AutoAdvance: auto,
	}, initial)
	return harness{lobby: l, store: st, out: out}
}

func recvMessage(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return types.ServerMessage{}
	}
}

func recvSnapshot(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.Session {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("client outbox closed unexpectedly")
			}
			if msg.Type == types.EventGameStateUpdate {
				return msg.Data.(types.Session)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
			return types.Session{}
		}
	}
}

func recvNoMessage(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no message within %v, but got: %+v", within, msg)
	case <-time.After(within):
	}
}

func mutate(t *testing.T, l *Lobby, cmd engine.Command) Result {
	t.Helper()
	reply := make(chan Result, 1)
	l.Inbox() <- Mutate{Cmd: cmd, Reply: reply}
	select {
	case res := <-reply:
		return res
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for mutate reply")
		return Result{}
	}
}

func state(t *testing.T, l *Lobby) View {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func TestLobby_Start_PersistsAndBroadcasts(t *testing.T) {
	h := newHarness(t, engine.DefaultRules(), false)

	res := mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(0)})
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.State.Version)
	assert.Equal(t, engine.PhaseAction, res.State.Phase)

	snap := recvSnapshot(t, h.out, 100*time.Millisecond)
	assert.Equal(t, 2, snap.Version)
	assert.Equal(t, "action", snap.Phase)
	assert.Equal(t, "Player 0", snap.Players[0].Name)

	names := []string{}
	for len(h.out) > 0 {
		names = append(names, recvMessage(t, h.out, 10*time.Millisecond).Type)
	}
	assert.Equal(t, []string{types.EventGameEvent, types.EventPhaseTransition}, names)

	saved, err := h.store.GetSession(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
	assert.Equal(t, engine.StatusStarted, saved.Status)

	// Chat channels exist once the game has started.
	msgs, err := h.store.ListMessages(context.Background(), "ABC123", engine.ChannelMafia)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLobby_RejectedCommand_NoBroadcastNoVersion(t *testing.T) {
	h := newHarness(t, engine.DefaultRules(), false)

	res := mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(3)})
	assert.ErrorIs(t, res.Err, engine.ErrNotHost)
	assert.Equal(t, 1, res.State.Version)

	recvNoMessage(t, h.out, 50*time.Millisecond)
	assert.Equal(t, 1, state(t, h.lobby).State.Version)
}

func TestLobby_VotesAppendedToHistory(t *testing.T) {
	h := newHarness(t, engine.DefaultRules(), false)
	started := mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(0)})
	require.NoError(t, started.Err)
	require.NoError(t, mutate(t, h.lobby, engine.Command{Type: engine.CmdAdvancePhase, Actor: player(0), ExpectVersion: started.State.Version}).Err)

	require.NoError(t, mutate(t, h.lobby, engine.Command{Type: engine.CmdCastVote, Actor: player(1), TargetID: pid(0)}).Err)
	require.NoError(t, mutate(t, h.lobby, engine.Command{Type: engine.CmdCastVote, Actor: player(1), TargetID: pid(2)}).Err)

	votes, err := h.store.ListVotes(context.Background(), "ABC123")
	require.NoError(t, err)
	require.Len(t, votes, 2, "superseded votes stay in the history")
	assert.Equal(t, pid(0), votes[0].TargetID)
	assert.Equal(t, pid(2), votes[1].TargetID)

	live := state(t, h.lobby).State.Votes
	require.Len(t, live, 1)
	assert.Equal(t, pid(2), live[0].TargetID)
}

func TestLobby_PersistFailure_KeepsState(t *testing.T) {
	eng := engine.New(engine.DefaultRules(), noShuffle{})
	mem := memory.New()
	initial := lobbySession(t, eng, mem)

	gw := fanout.NewGateway(zap.NewNop())
	out := make(chan types.ServerMessage, 8)
	gw.Subscribe(initial.Key, "c1", out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLobby(ctx, Deps{
		Engine:    eng,
		Store:     failingStore{Store: mem, err: errors.New("disk full")},
		Publisher: gw,
	}, initial)

	res := mutate(t, l, engine.Command{Type: engine.CmdStart, Actor: player(0)})
	require.Error(t, res.Err)
	assert.Equal(t, failure.CodeStorage, failure.CodeOf(res.Err))

	v := state(t, l)
	assert.Equal(t, engine.StatusCreated, v.State.Status)
	assert.Equal(t, 1, v.State.Version)
	recvNoMessage(t, out, 50*time.Millisecond)
}

func TestLobby_FailedStartLeavesChatClosedUntilRetry(t *testing.T) {
	eng := engine.New(engine.DefaultRules(), noShuffle{})
	mem := memory.New()
	initial := lobbySession(t, eng, mem)
	st := &flakyStore{Store: mem, failures: 1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLobby(ctx, Deps{Engine: eng, Store: st}, initial)

	post := func(text string) ChatResult {
		reply := make(chan ChatResult, 1)
		l.Inbox() <- PostChat{ID: "m-" + text, Actor: player(1), Channel: engine.ChannelAll, Text: text, Reply: reply}
		return <-reply
	}

	res := mutate(t, l, engine.Command{Type: engine.CmdStart, Actor: player(0)})
	assert.Equal(t, failure.CodeStorage, failure.CodeOf(res.Err))
	assert.Equal(t, engine.StatusCreated, state(t, l).State.Status)
	assert.Equal(t, failure.CodeNotFound, failure.CodeOf(post("first").Err))

	// The start can be retried, and it opens the channels with it.
	res = mutate(t, l, engine.Command{Type: engine.CmdStart, Actor: player(0)})
	require.NoError(t, res.Err)
	assert.Equal(t, engine.StatusStarted, res.State.Status)
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, post(text).Err)
	}

	msgs, err := mem.ListMessages(context.Background(), initial.Key, engine.ChannelAll)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestLobby_VersionConflict_ReloadsFromStore(t *testing.T) {
	h := newHarness(t, engine.DefaultRules(), false)
	ctx := context.Background()

	// Another writer moves the stored document ahead.
	stored, err := h.store.GetSession(ctx, "ABC123")
	require.NoError(t, err)
	stored.Name = "renamed elsewhere"
	stored.Version = 2
	require.NoError(t, h.store.SaveSession(ctx, stored, 1, store.Commit{}))

	res := mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(0)})
	assert.Equal(t, failure.CodeStorage, failure.CodeOf(res.Err))
	assert.ErrorIs(t, res.Err, store.ErrVersionConflict)

	v := state(t, h.lobby)
	assert.Equal(t, 2, v.State.Version)
	assert.Equal(t, "renamed elsewhere", v.State.Name)

	// The retry applies on top of the reloaded document.
	res = mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(0)})
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.State.Version)
}

func TestLobby_StaleAdvance_IsNoOp(t *testing.T) {
	h := newHarness(t, engine.DefaultRules(), false)
	started := mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(0)})
	require.NoError(t, started.Err)

	first := mutate(t, h.lobby, engine.Command{Type: engine.CmdAdvancePhase, Actor: player(0), ExpectVersion: started.State.Version})
	second := mutate(t, h.lobby, engine.Command{Type: engine.CmdAdvancePhase, Actor: player(0), ExpectVersion: started.State.Version})

	require.NoError(t, first.Err)
	require.NoError(t, second.Err)
	assert.Equal(t, engine.PhaseVoting, second.State.Phase)
	assert.Equal(t, first.State.Version, second.State.Version)
	assert.Empty(t, second.Events)
}

func TestLobby_TimerFires_AdvancesPhase(t *testing.T) {
	rules := engine.Rules{ActionDuration: 30 * time.Millisecond, VotingDuration: time.Minute, MaxSlots: 12}
	h := newHarness(t, rules, true)

	require.NoError(t, mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(0)}).Err)
	first := recvSnapshot(t, h.out, 100*time.Millisecond)
	assert.Equal(t, "action", first.Phase)

	next := recvSnapshot(t, h.out, 500*time.Millisecond)
	assert.Equal(t, "voting", next.Phase)
	assert.Equal(t, first.Version+1, next.Version)

	h.lobby.Inbox() <- Shutdown{}
}

func TestLobby_TimerGen_DropsStaleFires(t *testing.T) {
	rules := engine.Rules{ActionDuration: time.Minute, VotingDuration: time.Minute, MaxSlots: 12}
	h := newHarness(t, rules, true)

	require.NoError(t, mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(0)}).Err)
	before := state(t, h.lobby)
	require.True(t, before.TimerArmed)

	// Host advances by hand, which re-arms under a new generation.
	require.NoError(t, mutate(t, h.lobby, engine.Command{Type: engine.CmdAdvancePhase, Actor: player(0), ExpectVersion: before.State.Version}).Err)
	after := state(t, h.lobby)
	assert.Greater(t, after.TimerGen, before.TimerGen)

	// A fire from the earlier timer is ignored.
	h.lobby.Inbox() <- timerFired{gen: before.TimerGen, version: before.State.Version}
	v := state(t, h.lobby)
	assert.Equal(t, engine.PhaseVoting, v.State.Phase)
	assert.Equal(t, after.State.Version, v.State.Version)

	// A current-generation fire carrying an outdated version is a no-op too.
	h.lobby.Inbox() <- timerFired{gen: after.TimerGen, version: before.State.Version}
	v = state(t, h.lobby)
	assert.Equal(t, after.State.Version, v.State.Version)
}

func TestLobby_Shutdown_StopsTimer_NoFire(t *testing.T) {
	rules := engine.Rules{ActionDuration: 200 * time.Millisecond, VotingDuration: time.Minute, MaxSlots: 12}
	h := newHarness(t, rules, true)

	require.NoError(t, mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(0)}).Err)
	_ = recvSnapshot(t, h.out, 100*time.Millisecond)
	for len(h.out) > 0 {
		<-h.out
	}

	h.lobby.Inbox() <- Shutdown{}
	select {
	case <-h.lobby.Done():
	case <-time.After(time.Second):
		t.Fatal("lobby did not stop")
	}
	recvNoMessage(t, h.out, 400*time.Millisecond)
}

func TestLobby_PostChat(t *testing.T) {
	h := newHarness(t, engine.DefaultRules(), false)

	post := func(actor engine.Actor, ch engine.Channel, text string) ChatResult {
		reply := make(chan ChatResult, 1)
		h.lobby.Inbox() <- PostChat{ID: "m-" + actor.UserID, Actor: actor, Channel: ch, Text: text, Reply: reply}
		return <-reply
	}

	res := post(player(1), engine.ChannelAll, "too early")
	assert.Equal(t, failure.CodeNotFound, failure.CodeOf(res.Err))

	require.NoError(t, mutate(t, h.lobby, engine.Command{Type: engine.CmdStart, Actor: player(0)}).Err)
	for len(h.out) > 0 {
		<-h.out
	}

	res = post(player(1), engine.ChannelMafia, "let me in")
	assert.ErrorIs(t, res.Err, engine.ErrChannelForbidden)

	res = post(player(0), engine.ChannelMafia, "  target p2  ")
	require.NoError(t, res.Err)
	assert.Equal(t, "target p2", res.Message.Text)

	msg := recvMessage(t, h.out, 100*time.Millisecond)
	require.Equal(t, types.EventChatMessage, msg.Type)
	chat := msg.Data.(types.ChatMessage)
	assert.Empty(t, chat.Text, "mafia chat notifications omit the text")
	assert.Equal(t, "Player 0", chat.Author.Name)

	res = post(player(3), engine.ChannelAll, "hello")
	require.NoError(t, res.Err)
	_ = recvSnapshot(t, h.out, 100*time.Millisecond)
	msg = recvMessage(t, h.out, 100*time.Millisecond)
	assert.Equal(t, "hello", msg.Data.(types.ChatMessage).Text)

	stored, err := h.store.ListMessages(context.Background(), "ABC123", engine.ChannelMafia)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "target p2", stored[0].Text)
}
