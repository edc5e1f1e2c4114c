package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgelab/forge/internal/metrics"
	"github.com/forgelab/forge/internal/supervisor"
)

// Router provides embeddable HTTP handlers for managing slots.
// Endpoints:
//   GET  {basePath}/slots        list all slots with live state
//   GET  {basePath}/status       query: name=...
//   POST {basePath}/ensure       body: ensureReq JSON
//   POST {basePath}/open         query: name=...
//   POST {basePath}/stop         query: name=...
//   POST {basePath}/restart      query: name=...
//   POST {basePath}/release      query: name=...
//   GET  {basePath}/last-action  most recent human-readable action message
//   GET  {basePath}/metrics      Prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/slots, /api/open, ...
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/slots", r.handleSlots)
	group.GET("/status", r.handleStatus)
	group.POST("/ensure", r.handleEnsure)
	group.POST("/open", r.handleOpen)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/release", r.handleRelease)
	group.GET("/last-action", r.handleLastAction)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call Close or Shutdown on the returned server to stop it.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type ensureReq struct {
	Name     string `json:"name"`
	Dir      string `json:"dir"`
	Command  string `json:"command"`
	Backend  int    `json:"backend"`
	Frontend int    `json:"frontend"`
}

func statusCode(err error) int {
	if errors.Is(err, supervisor.ErrUnknownSlot) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func (r *Router) handleSlots(c *gin.Context) {
	list, err := r.sup.List(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	st, err := r.sup.Status(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleEnsure(c *gin.Context) {
	var req ensureReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if !isSafeName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if !isSafeAbsPath(req.Dir) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid dir: must be absolute path without traversal"})
		return
	}
	rec, err := r.sup.Ensure(c.Request.Context(), req.Name, req.Dir, req.Command, req.Backend, req.Frontend)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleOpen(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	res, err := r.sup.Open(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := r.sup.Stop(c.Request.Context(), name); err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	res, err := r.sup.Restart(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleRelease(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := r.sup.Release(c.Request.Context(), name); err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type lastActionResp struct {
	Message string `json:"message"`
}

func (r *Router) handleLastAction(c *gin.Context) {
	writeJSON(c, http.StatusOK, lastActionResp{Message: r.sup.LastAction()})
}
