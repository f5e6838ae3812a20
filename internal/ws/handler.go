package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mafia-backend/internal/auth"
	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/failure"
	"github.com/DoyleJ11/mafia-backend/internal/fanout"
	"github.com/DoyleJ11/mafia-backend/internal/service"
	"github.com/DoyleJ11/mafia-backend/internal/view"
	"github.com/DoyleJ11/mafia-backend/pkg/types"
)

const (
	outboxSize   = 32
	writeTimeout = 3 * time.Second
)

type Deps struct {
	Service        *service.Service
	Auth           *auth.Provider
	Gateway        *fanout.Gateway
	Logger         *zap.Logger
	AllowedOrigins []string
}

// Handler subscribes a socket to one session's updates. Anyone may listen;
// commands sent over the socket run as the caller's identity, if any.
func Handler(d Deps) http.HandlerFunc {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("session")
		if key == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		if _, err := d.Service.GetSession(r.Context(), key); err != nil {
			code := failure.CodeOf(err)
			http.Error(w, failure.MessageOf(err), code.HTTPStatus())
			return
		}

		// A missing or bad token still allows listening.
		id, _ := d.Auth.Identify(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: d.AllowedOrigins,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		logger := d.Logger.With(zap.String("session", key), zap.String("client", clientID))

		out := make(chan types.ServerMessage, outboxSize)
		d.Gateway.Subscribe(key, clientID, out)
		defer d.Gateway.Unsubscribe(key, clientID)
		logger.Debug("socket subscribed", zap.String("user", id.ID))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range out {
				if err := write(writeCtx, conn, msg); err != nil {
					logger.Debug("socket write failed", zap.Error(err))
				}
			}
			if writeCtx.Err() == nil {
				// The gateway closed our outbox: we fell behind or the server is stopping.
				conn.Close(websocket.StatusTryAgainLater, "subscription closed")
			}
		}()

		// Initial snapshot, fetched after subscribing so nothing is missed.
		// Clients keep whichever snapshot has the higher version.
		sess, err := d.Service.GetSession(r.Context(), key)
		if err != nil {
			logger.Warn("initial snapshot failed", zap.Error(err))
			_ = write(r.Context(), conn, types.ServerMessage{
				Type:    types.ReplyError,
				Session: key,
				Data:    types.Fail(string(failure.CodeOf(err)), failure.MessageOf(err)),
			})
			conn.Close(websocket.StatusTryAgainLater, "snapshot unavailable")
			return
		}
		_ = write(r.Context(), conn, types.ServerMessage{
			Type:    types.EventGameStateUpdate,
			Session: key,
			Data:    view.Session(sess),
		})

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					logger.Debug("socket read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(r.Context(), conn, types.ServerMessage{
					Type: types.ReplyError,
					Data: types.Fail(string(failure.CodeValidation), "bad json"),
				})
				continue
			}

			result := dispatch(r.Context(), d.Service, id, key, cm)
			_ = write(r.Context(), conn, types.ServerMessage{
				Type:      types.ReplyResult,
				Session:   key,
				RequestID: cm.RequestID,
				Data:      result,
			})
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

// dispatch runs one socket command and shapes the reply like the HTTP API.
func dispatch(ctx context.Context, svc *service.Service, id auth.Identity, key string, m types.ClientMessage) types.Result {
	var (
		sess engine.Session
		err  error
	)
	switch m.Type {
	case types.ClientSubmitAction:
		sess, err = svc.SubmitAction(ctx, id, key, engine.ActionType(m.ActionType), m.TargetID)
	case types.ClientCastVote:
		sess, err = svc.CastVote(ctx, id, key, m.TargetID)
	case types.ClientAdvancePhase:
		sess, err = svc.AdvancePhase(ctx, id, key, m.ExpectedVersion)
	case types.ClientPostChat:
		msg, err := svc.PostChat(ctx, id, key, m.Channel, m.Text)
		if err != nil {
			return types.Fail(string(failure.CodeOf(err)), failure.MessageOf(err))
		}
		return types.OK("message sent", view.Message(msg, false))
	default:
		return types.Fail(string(failure.CodeValidation), "unknown type")
	}
	if err != nil {
		return types.Fail(string(failure.CodeOf(err)), failure.MessageOf(err))
	}
	return types.OK("ok", view.Session(sess))
}
