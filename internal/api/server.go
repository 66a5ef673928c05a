package api

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceforge/internal/observability"
	"github.com/your-org/faceforge/internal/task"
)

// TaskStatus is the progress snapshot served per task.
type TaskStatus struct {
	TaskID     string    `json:"task_id"`
	State      string    `json:"state"`
	TargetPath string    `json:"target_path,omitempty"`
	Processed  int64     `json:"processed"`
	Total      int64     `json:"total"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StatusBoard stores the latest status per task and feeds the ws hub. It
// doubles as the runner's progress callback target.
type StatusBoard struct {
	mu    sync.RWMutex
	tasks map[string]TaskStatus
	hub   *Hub
}

// NewStatusBoard builds a board over a hub (hub may be nil).
func NewStatusBoard(hub *Hub) *StatusBoard {
	return &StatusBoard{tasks: make(map[string]TaskStatus), hub: hub}
}

// UpdateProgress records a runner progress callback.
func (b *StatusBoard) UpdateProgress(p task.Progress) {
	status := TaskStatus{
		TaskID:     p.TaskID,
		State:      "running",
		TargetPath: p.TargetPath,
		Processed:  p.Processed,
		Total:      p.Total,
		UpdatedAt:  time.Now().UTC(),
	}
	b.set(status)
}

// SetState records a lifecycle transition.
func (b *StatusBoard) SetState(taskID, state string) {
	b.mu.Lock()
	status := b.tasks[taskID]
	status.TaskID = taskID
	status.State = state
	status.UpdatedAt = time.Now().UTC()
	b.tasks[taskID] = status
	b.mu.Unlock()

	if b.hub != nil {
		b.hub.Broadcast(status)
	}
}

func (b *StatusBoard) set(status TaskStatus) {
	b.mu.Lock()
	b.tasks[status.TaskID] = status
	b.mu.Unlock()
	if b.hub != nil {
		b.hub.Broadcast(status)
	}
}

// Get returns the status for one task.
func (b *StatusBoard) Get(taskID string) (TaskStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.tasks[taskID]
	return s, ok
}

// ServerConfig wires the router.
type ServerConfig struct {
	APIKey string
	Board  *StatusBoard
	Hub    *Hub
}

// NewRouter builds the gin engine.
func NewRouter(cfg ServerConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggingMiddleware())
	r.Use(cors.Default())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(apiKeyMiddleware(cfg.APIKey))

	v1.GET("/tasks/:id", func(c *gin.Context) {
		status, ok := cfg.Board.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
			return
		}
		c.JSON(http.StatusOK, status)
	})
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}

// Serve runs the router on the configured port.
func Serve(port int, engine *gin.Engine) error {
	return engine.Run(fmt.Sprintf(":%d", port))
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

// apiKeyMiddleware guards /v1 when a key is configured.
func apiKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}
