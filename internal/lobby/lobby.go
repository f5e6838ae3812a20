// Package lobby runs one actor goroutine per game session. Every mutation of
// a session goes through its lobby inbox, so commands for one session are
// applied one at a time while different sessions never wait on each other.
package lobby

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/failure"
	"github.com/DoyleJ11/mafia-backend/internal/fanout"
	"github.com/DoyleJ11/mafia-backend/internal/store"
	"github.com/DoyleJ11/mafia-backend/internal/view"
	"github.com/DoyleJ11/mafia-backend/pkg/types"
)

const storeTimeout = 5 * time.Second

type Msg interface{ isLobbyMsg() }

// Mutate applies Cmd and replies once the result is durable.
type Mutate struct {
	Cmd   engine.Command
	Reply chan Result
}

func (Mutate) isLobbyMsg() {}

type Result struct {
	State  engine.Session
	Events []engine.Event
	Err    error
}

type PostChat struct {
	ID      string
	Actor   engine.Actor
	Channel engine.Channel
	Text    string
	Reply   chan ChatResult
}

func (PostChat) isLobbyMsg() {}

type ChatResult struct {
	Message engine.ChatMessage
	Err     error
}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	State       engine.Session
	TimerArmed  bool
	TimerGen    int
	AutoAdvance bool
}

// PrimeTimer arms the phase timer for the current state. Lobbies arm it
// themselves after each commit; this is for lobbies loaded from storage.
type PrimeTimer struct{}

func (PrimeTimer) isLobbyMsg() {}

type timerFired struct {
	gen     int
	version int
}

func (timerFired) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

// Deps are the collaborators shared by every lobby.
type Deps struct {
	Engine      *engine.Engine
	Store       store.Store
	Publisher   fanout.Publisher
	Logger      *zap.Logger
	Clock       func() time.Time
	AutoAdvance bool
}

type Lobby struct {
	inbox  chan Msg
	state  engine.Session
	deps   Deps
	logger *zap.Logger

	timer    *time.Timer
	timerGen int

	ctx    context.Context
	cancel context.CancelFunc
}

func NewLobby(parent context.Context, deps Deps, initial engine.Session) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	l := &Lobby{
		inbox:  make(chan Msg, 64),
		state:  initial,
		deps:   deps,
		logger: deps.Logger.With(zap.String("session", initial.Key)),
		ctx:    ctx,
		cancel: cancel,
	}

	go l.loop()
	return l
}

// Inbox exposes the inbox so the hub, service and tests can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby has stopped.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

func (l *Lobby) Key() string { return l.state.Key }

func (l *Lobby) loop() {
	defer l.stopTimer()
	for {
		select {
		case <-l.ctx.Done():
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Mutate:
				msg.Reply <- l.mutate(msg.Cmd)

			case PostChat:
				msg.Reply <- l.postChat(msg)

			case GetState:
				msg.Reply <- View{
					State:       l.state.Clone(),
					TimerArmed:  l.timer != nil,
					TimerGen:    l.timerGen,
					AutoAdvance: l.deps.AutoAdvance,
				}

			case PrimeTimer:
				l.armTimer()

			case timerFired:
				if msg.gen != l.timerGen {
					break
				}
				l.timer = nil
				res := l.mutate(engine.Command{
					Type:          engine.CmdAdvancePhase,
					Actor:         engine.Actor{System: true},
					ExpectVersion: msg.version,
				})
				if res.Err != nil {
					l.logger.Warn("timed advance failed", zap.Error(res.Err))
				}

			case Shutdown:
				l.cancel()
				return
			}
		}
	}
}

func (l *Lobby) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(l.ctx), storeTimeout)
}

// mutate runs cmd through the engine and persists the result before it
// becomes visible. The in-memory state only moves forward after the store
// accepted the new version.
func (l *Lobby) mutate(cmd engine.Command) Result {
	if cmd.At.IsZero() {
		cmd.At = l.deps.Clock().UTC()
	}

	events, next, err := l.deps.Engine.Apply(l.state, cmd)
	if err != nil {
		l.logger.Debug("command rejected",
			zap.String("command", string(cmd.Type)),
			zap.String("actor", cmd.Actor.UserID),
			zap.String("code", string(failure.CodeOf(err))))
		return Result{State: l.state.Clone(), Err: err}
	}
	if len(events) == 0 {
		return Result{State: l.state.Clone()}
	}

	prev := l.state.Version
	next.Version = prev + 1

	ctx, cancel := l.storeCtx()
	defer cancel()
	if err := l.deps.Store.SaveSession(ctx, next, prev, commitFor(events)); err != nil {
		l.logger.Error("persist session failed", zap.Int("version", next.Version), zap.Error(err))
		if errors.Is(err, store.ErrVersionConflict) {
			l.reload(ctx)
		}
		return Result{State: l.state.Clone(), Err: failure.Wrap(failure.CodeStorage, "failed to save game", err)}
	}

	l.state = next
	l.logger.Debug("command committed",
		zap.String("command", string(cmd.Type)),
		zap.Int("version", next.Version),
		zap.String("phase", string(next.Phase)))

	l.publish(events)
	l.armTimer()
	return Result{State: next.Clone(), Events: events}
}

// reload replaces the cached state after another writer got ahead of us.
func (l *Lobby) reload(ctx context.Context) {
	fresh, err := l.deps.Store.GetSession(ctx, l.state.Key)
	if err != nil {
		l.logger.Error("reload session failed", zap.Error(err))
		return
	}
	l.state = fresh
	l.armTimer()
}

// commitFor collects the side records a commit persists with the session:
// cast votes for the history log, and the chat channels a start opens.
func commitFor(events []engine.Event) store.Commit {
	var c store.Commit
	for _, ev := range events {
		switch {
		case ev.Type == engine.EvtVoteCast && ev.Vote != nil:
			c.Votes = append(c.Votes, *ev.Vote)
		case ev.Type == engine.EvtGameStarted:
			c.Channels = engine.Channels
		}
	}
	return c
}

func (l *Lobby) publish(events []engine.Event) {
	pub := l.deps.Publisher
	if pub == nil {
		return
	}
	pub.Publish(l.state.Key, types.EventGameStateUpdate, view.Session(l.state))
	for _, ev := range events {
		pub.Publish(l.state.Key, view.EventName(ev.Type), view.Event(l.state, ev))
	}
}

func (l *Lobby) postChat(msg PostChat) ChatResult {
	now := l.deps.Clock().UTC()
	chat, err := l.state.NewChatMessage(msg.ID, msg.Actor, msg.Channel, msg.Text, now)
	if err != nil {
		return ChatResult{Err: err}
	}

	ctx, cancel := l.storeCtx()
	defer cancel()
	if err := l.deps.Store.AppendMessage(ctx, chat); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ChatResult{Err: failure.Wrap(failure.CodeNotFound, "chat channel not found", err)}
		}
		l.logger.Error("append chat message failed", zap.Error(err))
		return ChatResult{Err: failure.Wrap(failure.CodeStorage, "failed to save message", err)}
	}

	if pub := l.deps.Publisher; pub != nil {
		pub.Publish(l.state.Key, types.EventChatMessage, view.Message(chat, chat.Channel != engine.ChannelAll))
		pub.Publish(l.state.Key, types.EventGameStateUpdate, view.Session(l.state))
	}
	return ChatResult{Message: chat}
}

func (l *Lobby) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// armTimer schedules a system advance at the current phase end. Each arm
// bumps the generation so fires from earlier timers are ignored.
func (l *Lobby) armTimer() {
	if !l.deps.AutoAdvance {
		return
	}
	l.stopTimer()
	l.timerGen++

	if l.state.Status != engine.StatusStarted || l.state.PhaseEndTime.IsZero() {
		return
	}
	d := l.state.PhaseEndTime.Sub(l.deps.Clock())
	if d < 0 {
		d = 0
	}

	fired := timerFired{gen: l.timerGen, version: l.state.Version}
	l.timer = time.AfterFunc(d, func() {
		select {
		case l.inbox <- fired:
		case <-l.ctx.Done():
		}
	})
}
