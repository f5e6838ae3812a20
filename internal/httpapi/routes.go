package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mafia-backend/internal/auth"
	"github.com/DoyleJ11/mafia-backend/internal/fanout"
	"github.com/DoyleJ11/mafia-backend/internal/service"
	"github.com/DoyleJ11/mafia-backend/internal/ws"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Service        *service.Service
	Auth           *auth.Provider
	Gateway        *fanout.Gateway
	Logger         *zap.Logger
	AllowedOrigins []string
	SecureCookies  bool
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Post("/identity", CreateIdentity(d))

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", CreateSession(d))
		r.Route("/{key}", func(r chi.Router) {
			r.Get("/", GetSession(d))
			r.Post("/join", JoinSession(d))
			r.Post("/start", StartSession(d))
			r.Post("/actions", SubmitAction(d))
			r.Post("/votes", CastVote(d))
			r.Get("/votes", VoteHistory(d))
			r.Post("/advance", AdvancePhase(d))
			r.Post("/chat/{channel}", PostChat(d))
			r.Get("/chat/{channel}", ListChat(d))
		})
	})

	r.Get("/ws", ws.Handler(ws.Deps{
		Service:        d.Service,
		Auth:           d.Auth,
		Gateway:        d.Gateway,
		Logger:         d.Logger,
		AllowedOrigins: d.AllowedOrigins,
	}))
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
