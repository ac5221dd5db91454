package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/okonev/vigil/internal/alert"
	"github.com/okonev/vigil/internal/backup"
	"github.com/okonev/vigil/internal/watch"
)

// EventsReader serves the recent-alerts query surface. The SQLite alert sink
// implements it; deployments without one simply lose the /events endpoint.
type EventsReader interface {
	Recent(ctx context.Context, service string, limit int) ([]alert.Event, error)
}

// BackupTrigger runs a registered backup task outside its schedule.
// Returns false when the task was skipped because a run is in flight.
type BackupTrigger interface {
	Trigger(ctx context.Context, name string) (bool, error)
}

// Router provides embeddable HTTP handlers for the watchdog.
// Endpoints:
//
//	GET  {basePath}/healthz
//	GET  {basePath}/status        query: name=... (optional)
//	POST {basePath}/check         query: name=... (required)
//	POST {basePath}/rearm         query: name=... (required)
//	GET  {basePath}/backups       query: name=... (optional)
//	POST {basePath}/backup        query: name=... (required)
//	GET  {basePath}/events        query: service=..., limit=...
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *watch.Manager
	jobs     map[string]*backup.Job
	trigger  BackupTrigger
	events   EventsReader
	basePath string
}

func NewRouter(mgr *watch.Manager, jobs []*backup.Job, trigger BackupTrigger, events EventsReader, basePath string) *Router {
	jm := make(map[string]*backup.Job, len(jobs))
	for _, j := range jobs {
		jm[j.Name()] = j
	}
	return &Router{
		mgr:      mgr,
		jobs:     jm,
		trigger:  trigger,
		events:   events,
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/status", r.handleStatus)
	group.POST("/check", r.handleCheck)
	group.POST("/rearm", r.handleRearm)
	group.GET("/backups", r.handleBackups)
	group.POST("/backup", r.handleBackup)
	group.GET("/events", r.handleEvents)
	return g
}

// NewServer builds a standalone HTTP server on addr using this router.
// The caller owns the lifecycle: ListenAndServe (or ListenAndServeTLS when a
// TLSConfig is attached) and Shutdown.
func NewServer(addr, basePath string, mgr *watch.Manager, jobs []*backup.Job, trigger BackupTrigger, events EventsReader) (*http.Server, error) {
	r := NewRouter(mgr, jobs, trigger, events, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	// The watchdog's own liveness, independent of the monitored services.
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.mgr.StatusAll())
		return
	}
	st, err := r.mgr.Status(name)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleCheck(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	st, err := r.mgr.CheckNow(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleRearm(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if err := r.mgr.Rearm(c.Request.Context(), name); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleBackups(c *gin.Context) {
	name := c.Query("name")
	if name != "" {
		j, ok := r.jobs[name]
		if !ok {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown backup " + name})
			return
		}
		writeJSON(c, http.StatusOK, j.Records())
		return
	}
	out := make(map[string][]backup.Record, len(r.jobs))
	for n, j := range r.jobs {
		out[n] = j.Records()
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleBackup(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if _, ok := r.jobs[name]; !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown backup " + name})
		return
	}
	if r.trigger == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "backup scheduler not running"})
		return
	}
	ran, err := r.trigger.Trigger(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if !ran {
		writeJSON(c, http.StatusConflict, errorResp{Error: "backup already in progress"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.events == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no queryable alert sink configured"})
		return
	}
	limit := 50
	if ls := c.Query("limit"); ls != "" {
		if n, err := strconv.Atoi(ls); err == nil && n > 0 {
			limit = n
		}
	}
	evs, err := r.events.Recent(c.Request.Context(), c.Query("service"), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, evs)
}
