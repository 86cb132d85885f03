package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/pdfpipe/internal/pipeline"
	"github.com/loykin/pdfpipe/internal/supervisor"
)

// Router provides embeddable HTTP handlers for the supervisor and tracker.
// Endpoints (all under basePath):
//
//	POST /pipeline/submit      body: {"path": "..."}
//	POST /pipeline/retry       body: {"path": "..."}
//	POST /pipeline/cancel      body: {"path": "..."}
//	GET  /pipeline/status      query: path=...
//	GET  /pipeline/failed
//	GET  /pipeline/history
//	POST /processes/enqueue    body: {"command": "...", "args": [...], "work_dir": "...", "id": "..."}
//	POST /processes/cancel     query: id=...
//	POST /processes/stop-all
//	GET  /processes/status     query: id=...
//	GET  /processes
//	GET  /queue
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	tracker  *pipeline.Tracker
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(sup *supervisor.Supervisor, tracker *pipeline.Tracker, basePath string) *Router {
	return &Router{sup: sup, tracker: tracker, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/pipeline/submit", r.handleSubmit)
	group.POST("/pipeline/retry", r.handleRetry)
	group.POST("/pipeline/cancel", r.handleCancelEntity)
	group.GET("/pipeline/status", r.handleEntityStatus)
	group.GET("/pipeline/failed", r.handleFailed)
	group.GET("/pipeline/history", r.handleHistory)
	group.POST("/processes/enqueue", r.handleEnqueue)
	group.POST("/processes/cancel", r.handleCancelProcess)
	group.POST("/processes/stop-all", r.handleStopAll)
	group.GET("/processes/status", r.handleProcessStatus)
	group.GET("/processes", r.handleProcesses)
	group.GET("/queue", r.handleQueue)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, tracker *pipeline.Tracker) (*http.Server, error) {
	r := NewRouter(sup, tracker, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
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

type entityReq struct {
	Path string `json:"path"`
}

func (r *Router) bindEntity(c *gin.Context) (string, bool) {
	var req entityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return "", false
	}
	if req.Path == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "path required"})
		return "", false
	}
	return req.Path, true
}

func (r *Router) handleSubmit(c *gin.Context) {
	path, ok := r.bindEntity(c)
	if !ok {
		return
	}
	if !r.tracker.Submit(path) {
		writeJSON(c, http.StatusConflict, errorResp{Error: "entity already tracked or invalid"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRetry(c *gin.Context) {
	path, ok := r.bindEntity(c)
	if !ok {
		return
	}
	if !r.tracker.Retry(path) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "entity is not in the failed set"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCancelEntity(c *gin.Context) {
	path, ok := r.bindEntity(c)
	if !ok {
		return
	}
	if !r.tracker.CancelEntity(path) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "entity has nothing to cancel"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEntityStatus(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "path query param required"})
		return
	}
	writeJSON(c, http.StatusOK, r.tracker.Status(path))
}

func (r *Router) handleFailed(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.tracker.Failed())
}

func (r *Router) handleHistory(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.tracker.History())
}

type enqueueReq struct {
	ID      string   `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	WorkDir string   `json:"work_dir"`
}

type enqueueResp struct {
	ID string `json:"id"`
}

func (r *Router) handleEnqueue(c *gin.Context) {
	var req enqueueReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if !isSafeID(req.ID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid id: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	id := r.sup.Enqueue(req.Command, req.Args, req.WorkDir, req.ID)
	if id == "" {
		writeJSON(c, http.StatusConflict, errorResp{Error: "id already in use"})
		return
	}
	writeJSON(c, http.StatusOK, enqueueResp{ID: id})
}

func (r *Router) handleCancelProcess(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "id query param required"})
		return
	}
	if !r.sup.Cancel(id) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown or already terminal id"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopAll(c *gin.Context) {
	r.sup.StopAll()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleProcessStatus(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "id query param required"})
		return
	}
	rec, found := r.sup.Status(id)
	if !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown id"})
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleProcesses(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Records())
}

type queueResp struct {
	QueueLength  int `json:"queue_length"`
	RunningCount int `json:"running_count"`
}

func (r *Router) handleQueue(c *gin.Context) {
	q, running := r.sup.QueueStatus()
	writeJSON(c, http.StatusOK, queueResp{QueueLength: q, RunningCount: running})
}
