package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mafia-backend/internal/auth"
	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/failure"
	"github.com/DoyleJ11/mafia-backend/internal/view"
	"github.com/DoyleJ11/mafia-backend/pkg/types"
)

const maxBodyBytes = 16 << 10

var errBadBody = failure.New(failure.CodeValidation, "request body is not valid JSON")

func writeJSON(w http.ResponseWriter, status int, body types.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code := failure.CodeOf(err)
	status := code.HTTPStatus()
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case status >= http.StatusInternalServerError:
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(code)),
			zap.Error(err))
	}
	writeJSON(w, status, types.Fail(string(code), failure.MessageOf(err)))
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return failure.Wrap(errBadBody.Code, errBadBody.Message, err)
	}
	return nil
}

func sessionKey(r *http.Request) string { return chi.URLParam(r, "key") }

// authed wraps handlers that need a caller identity.
func authed(d Deps, h func(http.ResponseWriter, *http.Request, auth.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := d.Auth.Identify(r)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		h(w, r, id)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func CreateIdentity(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.IdentityRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		id, err := auth.NewIdentity(req.Name)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		token, exp, err := d.Auth.Issue(id)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		d.Auth.SetCookie(w, token, exp, d.SecureCookies)
		writeJSON(w, http.StatusCreated, types.OK("identity issued", types.Identity{
			UserID: id.ID,
			Name:   id.Name,
			Token:  token,
		}))
	}
}

func CreateSession(d Deps) http.HandlerFunc {
	return authed(d, func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		var req types.CreateSessionRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		sess, err := d.Service.CreateSession(r.Context(), id, req.Name, req.TotalSlots)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, types.OK("game created", view.Session(sess)))
	})
}

func GetSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := d.Service.GetSession(r.Context(), sessionKey(r))
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, types.OK("", view.Session(sess)))
	}
}

// mutation adapts a service call returning the new session.
func mutation(d Deps, message string, call func(*http.Request, auth.Identity) (engine.Session, error)) http.HandlerFunc {
	return authed(d, func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		sess, err := call(r, id)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, types.OK(message, view.Session(sess)))
	})
}

func JoinSession(d Deps) http.HandlerFunc {
	return mutation(d, "joined game", func(r *http.Request, id auth.Identity) (engine.Session, error) {
		return d.Service.Join(r.Context(), id, sessionKey(r))
	})
}

func StartSession(d Deps) http.HandlerFunc {
	return mutation(d, "game started", func(r *http.Request, id auth.Identity) (engine.Session, error) {
		return d.Service.Start(r.Context(), id, sessionKey(r))
	})
}

func SubmitAction(d Deps) http.HandlerFunc {
	return mutation(d, "action recorded", func(r *http.Request, id auth.Identity) (engine.Session, error) {
		var req types.SubmitActionRequest
		if err := decode(r, &req); err != nil {
			return engine.Session{}, err
		}
		return d.Service.SubmitAction(r.Context(), id, sessionKey(r), engine.ActionType(req.ActionType), req.TargetID)
	})
}

func CastVote(d Deps) http.HandlerFunc {
	return mutation(d, "vote recorded", func(r *http.Request, id auth.Identity) (engine.Session, error) {
		var req types.CastVoteRequest
		if err := decode(r, &req); err != nil {
			return engine.Session{}, err
		}
		return d.Service.CastVote(r.Context(), id, sessionKey(r), req.TargetID)
	})
}

func AdvancePhase(d Deps) http.HandlerFunc {
	return mutation(d, "phase advanced", func(r *http.Request, id auth.Identity) (engine.Session, error) {
		var req types.AdvancePhaseRequest
		if err := decode(r, &req); err != nil {
			return engine.Session{}, err
		}
		return d.Service.AdvancePhase(r.Context(), id, sessionKey(r), req.ExpectedVersion)
	})
}

func VoteHistory(d Deps) http.HandlerFunc {
	return authed(d, func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		sess, votes, err := d.Service.VoteHistory(r.Context(), id, sessionKey(r))
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, types.OK("", view.VoteHistory(sess, votes)))
	})
}

func PostChat(d Deps) http.HandlerFunc {
	return authed(d, func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		var req types.PostChatRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		msg, err := d.Service.PostChat(r.Context(), id, sessionKey(r), chi.URLParam(r, "channel"), req.Text)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, types.OK("message sent", view.Message(msg, false)))
	})
}

func ListChat(d Deps) http.HandlerFunc {
	return authed(d, func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		msgs, err := d.Service.ListChat(r.Context(), id, sessionKey(r), chi.URLParam(r, "channel"))
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, types.OK("", view.Messages(msgs)))
	})
}
