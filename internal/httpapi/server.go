// Package httpapi is the broker's composition root for inbound traffic:
// the WebSocket upgrade endpoint plus the small REST surface (key lookup,
// backup blob, attachment presign, admin GC) that doesn't belong on the
// frame protocol. Adapted from the teacher's internal/handlers package
// layout (one handler set registered onto a gorilla/mux router, common
// JSON helpers, a health check) with the auth/session/media internals
// replaced end to end.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/whisper2/broker/internal/attachment"
	"github.com/whisper2/broker/internal/audit"
	"github.com/whisper2/broker/internal/call"
	"github.com/whisper2/broker/internal/gateway"
	"github.com/whisper2/broker/internal/group"
	"github.com/whisper2/broker/internal/metrics"
	"github.com/whisper2/broker/internal/middleware"
	"github.com/whisper2/broker/internal/presence"
	"github.com/whisper2/broker/internal/push"
	"github.com/whisper2/broker/internal/ratelimit"
	"github.com/whisper2/broker/internal/router"
	"github.com/whisper2/broker/internal/session"
	"github.com/whisper2/broker/internal/store"
)

type Server struct {
	Mux *mux.Router

	store          *store.Store
	sessions       *session.Manager
	registry       *gateway.Registry
	dispatcher     *Dispatcher
	attach         *attachment.Gate
	allowedOrigins []string
}

type Deps struct {
	Store          *store.Store
	Sessions       *session.Manager
	Registry       *gateway.Registry
	Router         *router.Router
	Group          *group.Engine
	Calls          *call.Manager
	Attachments    *attachment.Gate
	Presence       *presence.Directory
	RateLimiter    *ratelimit.Limiter
	Audit          *audit.Logger
	PushCoord      *push.Coordinator
	TurnSecret     string
	TurnURLs       []string
	AllowedOrigins []string
}

func New(deps Deps) *Server {
	s := &Server{
		Mux:      mux.NewRouter(),
		store:    deps.Store,
		sessions: deps.Sessions,
		registry: deps.Registry,
		attach:   deps.Attachments,
		allowedOrigins: deps.AllowedOrigins,
		dispatcher: NewDispatcher(DispatcherDeps{
			Sessions:    deps.Sessions,
			Registry:    deps.Registry,
			Router:      deps.Router,
			Group:       deps.Group,
			Calls:       deps.Calls,
			Attachments: deps.Attachments,
			RateLimiter: deps.RateLimiter,
			Audit:       deps.Audit,
			PushCoord:   deps.PushCoord,
			TurnSecret:  deps.TurnSecret,
			TurnURLs:    deps.TurnURLs,
		}),
	}

	s.Mux.Use(middleware.SecurityHeaders)
	s.Mux.Use(metrics.MetricsMiddleware)

	s.Mux.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.Mux.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	s.Mux.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.Mux.PathPrefix("/").Subrouter()
	api.Use(middleware.BearerAuth(deps.Sessions, nil))
	api.HandleFunc("/users/{whisperId}/keys", s.handleGetKeys).Methods(http.MethodGet)
	api.HandleFunc("/backup/contacts", s.handlePutBackup).Methods(http.MethodPut)
	api.HandleFunc("/backup/contacts", s.handleGetBackup).Methods(http.MethodGet)
	api.HandleFunc("/backup/contacts", s.handleDeleteBackup).Methods(http.MethodDelete)
	api.HandleFunc("/attachments/presign/upload", s.handlePresignUpload).Methods(http.MethodPost)
	api.HandleFunc("/attachments/presign/download", s.handlePresignDownload).Methods(http.MethodPost)
	api.HandleFunc("/admin/attachments/gc/run", s.handleAdminGC).Methods(http.MethodPost)

	return s
}

// Handler wraps the router with CORS, mirroring the teacher's rs/cors
// setup at the outermost layer.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(s.Mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
