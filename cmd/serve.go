package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sebtcheng/insighted-monitor/internal/model"
	"github.com/sebtcheng/insighted-monitor/internal/scope"
	"github.com/sebtcheng/insighted-monitor/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitoring read API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// sessionRegistry keeps live drill-down sessions by id.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session.Session)}
}

func (r *sessionRegistry) add(s *session.Session) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return id
}

func (r *sessionRegistry) get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func newRouter(env *monitorEnv) http.Handler {
	reg := newSessionRegistry()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := env.Store.Ping(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/diagnostics", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, env.Diag.Snapshot())
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", handleCreateSession(env, reg))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", withSession(reg, handleGetSession))
				r.Delete("/", handleDeleteSession(reg))
				r.Post("/descend", withSession(reg, handleDescend))
				r.Post("/back", withSession(reg, handleBack))
				r.Post("/refresh", withSession(reg, handleRefresh))
				r.Put("/list", withSession(reg, handleList))
			})
		})

		r.Get("/monitoring/overview", handleMonitoringOverview(env))
		r.Get("/monitoring/stats", handleMonitoringStats(env))
		r.Get("/monitoring/schools", handleMonitoringSchools(env))

		r.Get("/catalog/regions", handleCatalogRegions(env))
		r.Get("/catalog/divisions", handleCatalogDivisions(env))
		r.Get("/catalog/districts", handleCatalogDistricts(env))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// withSession resolves the {id} path parameter before the handler runs.
func withSession(reg *sessionRegistry, h func(http.ResponseWriter, *http.Request, *session.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.get(chi.URLParam(req, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h(w, req, s)
	}
}

type createSessionRequest struct {
	RoleLabel     string                      `json:"role_label"`
	HomeRegion    string                      `json:"home_region,omitempty"`
	HomeDivision  string                      `json:"home_division,omitempty"`
	Impersonation *model.ImpersonationContext `json:"impersonation,omitempty"`
}

func handleCreateSession(env *monitorEnv, reg *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body createSessionRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sc := env.Scope.Resolve(scope.Request{
			RoleLabel:     body.RoleLabel,
			HomeRegion:    body.HomeRegion,
			HomeDivision:  body.HomeDivision,
			Impersonation: body.Impersonation,
		})
		s := session.New(sc, env.Roster, env.Store, env.Diag)
		if err := s.Load(req.Context()); err != nil {
			writeError(w, http.StatusBadGateway, "initial load failed")
			return
		}

		id := reg.add(s)
		zap.L().Info("session created",
			zap.String("session_id", id),
			zap.String("role", string(sc.Role)),
			zap.Bool("impersonating", sc.Impersonating),
		)
		writeJSON(w, http.StatusCreated, map[string]any{
			"session_id": id,
			"snapshot":   s.View(),
		})
	}
}

func handleDeleteSession(reg *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reg.remove(chi.URLParam(req, "id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetSession(w http.ResponseWriter, req *http.Request, s *session.Session) {
	writeJSON(w, http.StatusOK, s.View())
}

func handleDescend(w http.ResponseWriter, req *http.Request, s *session.Session) {
	var body struct {
		Segment string `json:"segment"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Segment == "" {
		writeError(w, http.StatusBadRequest, "segment is required")
		return
	}

	switch err := s.Descend(req.Context(), body.Segment); {
	case err == nil:
		writeJSON(w, http.StatusOK, s.View())
	case eris.Is(err, session.ErrUnknownSegment):
		writeError(w, http.StatusNotFound, err.Error())
	case eris.Is(err, session.ErrStale):
		writeJSON(w, http.StatusOK, s.View())
	default:
		writeError(w, http.StatusBadGateway, "fetch failed, previous state kept")
	}
}

func handleBack(w http.ResponseWriter, req *http.Request, s *session.Session) {
	s.Back()
	writeJSON(w, http.StatusOK, s.View())
}

func handleRefresh(w http.ResponseWriter, req *http.Request, s *session.Session) {
	switch err := s.Refresh(req.Context()); {
	case err == nil, eris.Is(err, session.ErrStale):
		writeJSON(w, http.StatusOK, s.View())
	default:
		writeError(w, http.StatusBadGateway, "fetch failed, previous state kept")
	}
}

func handleList(w http.ResponseWriter, req *http.Request, s *session.Session) {
	var body struct {
		Search   *string `json:"search,omitempty"`
		SortBy   *string `json:"sort_by,omitempty"`
		SortDesc bool    `json:"sort_desc,omitempty"`
		Page     *int    `json:"page,omitempty"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if body.Search != nil {
		s.SetSearch(*body.Search)
	}
	if body.SortBy != nil {
		s.SetSort(session.SortField(*body.SortBy), body.SortDesc)
	}
	if body.Page != nil {
		s.SetPage(*body.Page)
	}
	writeJSON(w, http.StatusOK, s.View())
}

func pathFromQuery(req *http.Request) model.JurisdictionPath {
	q := req.URL.Query()
	return model.JurisdictionPath{
		Region:   q.Get("region"),
		Division: q.Get("division"),
		District: q.Get("district"),
	}
}

func listQueryFromURL(req *http.Request) session.ListQuery {
	q := req.URL.Query()
	search := q.Get("search")
	if search == "" {
		search = q.Get("q")
	}
	sortBy := q.Get("sort_by")
	if sortBy == "" {
		sortBy = q.Get("sort")
	}
	lq := session.ListQuery{
		Search:   search,
		SortBy:   session.SortField(sortBy),
		SortDesc: q.Get("sort_desc") == "true",
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		lq.Page = page
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil {
		lq.PageSize = size
	}
	return lq
}

// scopeFromQuery resolves the caller scope for stateless queries: role and
// home jurisdiction, plus an as_role/as_region/as_division impersonation
// triple for national actors.
func scopeFromQuery(env *monitorEnv, req *http.Request) model.RoleScope {
	q := req.URL.Query()
	sr := scope.Request{
		RoleLabel:    q.Get("role"),
		HomeRegion:   q.Get("region"),
		HomeDivision: q.Get("division"),
	}
	if sr.RoleLabel == "" {
		sr.RoleLabel = "national_office"
	}
	if asRole := q.Get("as_role"); asRole != "" {
		sr.Impersonation = &model.ImpersonationContext{
			AssumedRole: model.Role(asRole),
			Region:      q.Get("as_region"),
			Division:    q.Get("as_division"),
		}
	}
	return env.Scope.Resolve(sr)
}

func handleMonitoringOverview(env *monitorEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap, err := session.Inspect(req.Context(), scopeFromQuery(env, req), env.Roster, env.Store, env.Diag, pathFromQuery(req), listQueryFromURL(req))
		if err != nil {
			writeError(w, http.StatusBadGateway, "fetch failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleMonitoringStats(env *monitorEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap, err := session.Inspect(req.Context(), model.RoleScope{Role: model.RoleNational}, env.Roster, env.Store, env.Diag, pathFromQuery(req), session.ListQuery{})
		if err != nil {
			writeError(w, http.StatusBadGateway, "fetch failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"path":       snap.Path,
			"level":      snap.Level,
			"stats":      snap.Stats,
			"children":   snap.Children,
			"violations": snap.Violations,
		})
	}
}

func handleMonitoringSchools(env *monitorEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap, err := session.Inspect(req.Context(), model.RoleScope{Role: model.RoleNational}, env.Roster, env.Store, env.Diag, pathFromQuery(req), listQueryFromURL(req))
		if err != nil {
			writeError(w, http.StatusBadGateway, "fetch failed")
			return
		}
		writeJSON(w, http.StatusOK, snap.Schools)
	}
}

func handleCatalogRegions(env *monitorEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"regions": env.Roster.Regions()})
	}
}

func handleCatalogDivisions(env *monitorEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		region := req.URL.Query().Get("region")
		if region == "" {
			writeError(w, http.StatusBadRequest, "region is required")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"divisions": env.Roster.Divisions(region)})
	}
}

func handleCatalogDistricts(env *monitorEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		region, division := q.Get("region"), q.Get("division")
		if region == "" || division == "" {
			writeError(w, http.StatusBadRequest, "region and division are required")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"districts": env.Roster.Districts(region, division)})
	}
}
