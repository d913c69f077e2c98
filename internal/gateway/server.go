// Package gateway serves cascade sessions, inventory lookups and spider
// groups over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flo-mic/spidergroup/internal/api"
	"github.com/flo-mic/spidergroup/internal/auth"
	"github.com/flo-mic/spidergroup/internal/cascade"
	"github.com/flo-mic/spidergroup/internal/groups"
	"github.com/flo-mic/spidergroup/internal/inventory"
	"github.com/flo-mic/spidergroup/internal/version"
)

// Catalog is the node registry as seen by the gateway.
type Catalog interface {
	inventory.Inventory
	Nodes() []inventory.Option
	Status(ctx context.Context) []inventory.NodeStatus
}

// Options configures a Server.
type Options struct {
	Addr       string
	Token      string
	SessionTTL time.Duration
	// SettleTimeout bounds ?wait=true edits.
	SettleTimeout time.Duration
	Logger        *slog.Logger
}

// Server is the spidergroup HTTP gateway.
type Server struct {
	httpServer *http.Server
	catalog    Catalog
	groups     groups.Store
	sessions   *sessionManager
	log        *slog.Logger
	settle     time.Duration
	stopReaper context.CancelFunc
}

// NewServer builds the router. Call Start to listen.
func NewServer(opts Options, catalog Catalog, store groups.Store) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 45 * time.Second
	}

	s := &Server{
		catalog:  catalog,
		groups:   store,
		sessions: newSessionManager(catalog, opts.SessionTTL, log),
		log:      log,
		settle:   opts.SettleTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(opts.Token))

		r.Get("/api/nodes", s.handleNodes)
		r.Get("/api/nodes/status", s.handleNodeStatus)
		r.Get("/api/nodes/{node}/projects", s.handleProjects)
		r.Get("/api/nodes/{node}/projects/{project}/versions", s.handleVersions)
		r.Get("/api/nodes/{node}/projects/{project}/versions/{version}/spiders", s.handleSpiders)

		r.Post("/api/sessions", s.handleCreateSession)
		r.Get("/api/sessions/{id}", s.handleGetSession)
		r.Delete("/api/sessions/{id}", s.handleDeleteSession)
		r.Put("/api/sessions/{id}/{field}", s.handleSetField)
		r.Get("/api/sessions/{id}/events", s.handleEvents)
		r.Post("/api/sessions/{id}/groups", s.handleSaveGroup)

		r.Get("/api/groups", s.handleListGroups)
		r.Get("/api/groups/{name}", s.handleGetGroup)
		r.Delete("/api/groups/{name}", s.handleDeleteGroup)
	})

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and reaping idle sessions. It blocks until the
// server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopReaper = cancel
	go s.sessions.run(ctx)

	s.log.Info("spidergroup gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown stops the listener and closes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopReaper != nil {
		s.stopReaper()
	}
	err := s.httpServer.Shutdown(ctx)
	s.sessions.closeAll()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- stateless lookups ---

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Nodes())
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Status(r.Context()))
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	opts, err := s.catalog.ListProjects(r.Context(), chi.URLParam(r, "node"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.catalog.ListVersions(r.Context(), chi.URLParam(r, "node"), chi.URLParam(r, "project"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := version.Resolve(versions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Options)
}

func (s *Server) handleSpiders(w http.ResponseWriter, r *http.Request) {
	v := version.Effective(chi.URLParam(r, "version"))
	opts, err := s.catalog.ListSpiders(r.Context(), chi.URLParam(r, "node"), chi.URLParam(r, "project"), v)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// --- sessions ---

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions.get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "session not found"})
	}
	return sess, ok
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.create()
	writeJSON(w, http.StatusCreated, api.NewSelection(sess.id, sess.machine.Snapshot()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, api.NewSelection(sess.id, sess.machine.Snapshot()))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.remove(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "session not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetField forwards one edit to the session's machine. Without
// ?wait=true it answers 202 with whatever the selection looks like now.
func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	field, err := cascade.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	var req api.SetFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "bad request: " + err.Error()})
		return
	}

	if field == cascade.FieldSpiders {
		err = sess.machine.SetSpiders(req.Values)
	} else {
		err = sess.machine.Set(field, req.Value)
	}
	if errors.Is(err, cascade.ErrClosed) {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "session closed"})
		return
	}

	status := http.StatusAccepted
	if r.URL.Query().Get("wait") == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), s.settle)
		defer cancel()
		if err := sess.machine.Settle(ctx); err == nil {
			status = http.StatusOK
		} else {
			s.log.Warn("settle did not finish", "session", sess.id, "err", err)
		}
	}
	writeJSON(w, status, api.NewSelection(sess.id, sess.machine.Snapshot()))
}

// --- groups ---

func (s *Server) handleSaveGroup(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req api.SaveGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "bad request: " + err.Error()})
		return
	}

	sel := sess.machine.Snapshot()
	if sel.Err != nil {
		writeJSON(w, http.StatusConflict, api.ErrorResponse{
			Error: fmt.Sprintf("selection has an error on %s: %v", sel.ErrField, sel.Err),
			Kind:  inventory.Kind(sel.Err),
		})
		return
	}
	if sel.State != cascade.SpidersLoaded || len(sel.Spiders) == 0 {
		writeJSON(w, http.StatusConflict, api.ErrorResponse{
			Error: "selection is incomplete: pick a node, project, version and at least one spider",
		})
		return
	}
	g, err := s.groups.Save(groups.Group{
		Name:        req.Name,
		Description: req.Description,
		Node:        sel.Node,
		Project:     sel.Project,
		Version:     sel.Version,
		Spiders:     sel.Spiders,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("group saved", "group", g.Name, "session", sess.id)
	writeJSON(w, http.StatusCreated, api.NewGroup(g))
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	list, err := s.groups.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]api.Group, 0, len(list))
	for _, g := range list {
		out = append(out, api.NewGroup(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.groups.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewGroup(g))
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.groups.Delete(chi.URLParam(r, "name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	kind := inventory.Kind(err)
	if kind == "other" {
		kind = ""
	}
	writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Kind: kind})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrContractViolation):
		return http.StatusInternalServerError
	case errors.Is(err, inventory.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrUnavailableNode):
		return http.StatusBadGateway
	case errors.Is(err, inventory.ErrUnknownProject), errors.Is(err, inventory.ErrUnknownVersion):
		return http.StatusNotFound
	case errors.Is(err, groups.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, groups.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
