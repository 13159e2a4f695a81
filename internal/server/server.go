package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grovetools/remote-panel/internal/security"
	"github.com/grovetools/remote-panel/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const shutdownTimeout = 5 * time.Second

// Server serves the panel API for one Runtime.
type Server struct {
	rt     *Runtime
	router chi.Router
	http   *http.Server
	logger *logrus.Entry
}

// New builds the router for rt.
func New(rt *Runtime) *Server {
	s := &Server{
		rt:     rt,
		logger: logging.NewLogger("panel"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the panel's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.gate)

	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Use(s.requireCSRF)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/session", s.handleSession)
			r.Get("/connection/help", s.handleConnectionHelp)
			r.Post("/security/mode", s.handleSecurityMode)

			r.Get("/projects", s.handleProjects)
			r.Get("/manifests", s.handleManifests)
			r.Get("/logs", s.handleLogs)
			r.Get("/events", s.rt.Hub.ServeHTTP)

			r.Post("/command/scaffold", s.handleScaffold)
			r.Post("/command/build", s.handleBuild)
			r.Post("/command/build-all", s.handleBuildAll)
			r.Post("/chat/quick", s.handleChatQuick)
			r.Post("/chat/briefing", s.handleChatBriefing)

			r.Post("/dev/start", s.handleDevStart)
			r.Post("/dev/stop", s.handleDevStop)
			r.Get("/relay/status", s.handleRelayStatus)
			r.Post("/relay/start", s.handleRelayStart)
			r.Post("/relay/stop", s.handleRelayStop)
			r.Get("/tunnel/status", s.handleTunnelStatus)
			r.Post("/tunnel/start", s.handleTunnelStart)
			r.Post("/tunnel/stop", s.handleTunnelStop)

			r.Get("/chat/history", s.handleChatHistory)
			r.Post("/note", s.handleNote)
			r.Get("/inbox/latest", s.handleInboxLatest)
			r.Get("/agent/reply/latest", s.handleReplyLatest)
			r.Get("/agent/status", s.handleAgentStatus)
			r.Post("/agent/status", s.handleSetAgentStatus)
			r.Post("/agent/reply", s.handleAgentReply)
			r.Get("/agent/poller", s.handleAgentPoller)
			r.Get("/agent/activity", s.handleAgentActivity)

			r.Route("/codex/sessions", func(r chi.Router) {
				r.Get("/", s.handleCodexSessions)
				r.Post("/upsert", s.handleCodexUpsert)
				r.Post("/default", s.handleCodexDefault)
				r.Post("/retire", s.handleCodexRetire)
				r.Post("/create", s.handleCodexCreate)
				r.Post("/prep", s.handleCodexPrep)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/ws", s.handleWS)
		r.Handle("/preview/{id}", http.HandlerFunc(s.handlePreview))
		r.Handle("/preview/{id}/*", http.HandlerFunc(s.handlePreview))
	})
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.rt.Chat.ServeWS(w, r, clientIP(r))
}

// handleMetrics serves Prometheus metrics to loopback clients only.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !security.IsLocalIP(clientIP(r)) {
		notFound(w, r)
		return
	}
	s.rt.Metrics.Handler().ServeHTTP(w, r)
}

// ListenAndServe listens on the configured host and port and serves until
// ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.rt.Settings.Host, strconv.Itoa(s.rt.Settings.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. Streaming clients are disconnected first so they do not hold
// the shutdown open.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           h2c.NewHandler(s.router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.WithField("addr", ln.Addr().String()).Info("Panel listening")

	errc := make(chan error, 1)
	go func() { errc <- s.http.Serve(ln) }()

	select {
	case err := <-errc:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	s.rt.Hub.Close()
	s.rt.Chat.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
