package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"funchatgo/internal/conversation"
	"funchatgo/internal/function"
	"funchatgo/internal/logger"
	"funchatgo/internal/models"
	"funchatgo/internal/worker"
)

type WorkerManager interface {
	Stream(worker.TurnRequest) (*worker.TurnResult, error)
	ResetUser(ctx context.Context, userID string) error
	History(userID string) []models.Message
}

// Handler wires HTTP routes to the per-user turn manager.
type Handler struct {
	workers  WorkerManager
	registry *function.Registry
	checks   map[string]func(context.Context) error
}

// NewHandler constructs a Handler instance.
func NewHandler(workers WorkerManager, registry *function.Registry) *Handler {
	if registry == nil {
		registry, _ = function.NewRegistry()
	}
	return &Handler{workers: workers, registry: registry}
}

const userIDKey = "userID"

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,128}$`)

// requirePathUser validates the :id path segment.
func (h *Handler) requirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.Param("id"))
		if !userIDPattern.MatchString(userID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// AddHealthCheck reports name in /healthz; a failing check turns the
// response into 503.
func (h *Handler) AddHealthCheck(name string, check func(context.Context) error) *Handler {
	if h.checks == nil {
		h.checks = make(map[string]func(context.Context) error)
	}
	h.checks[name] = check
	return h
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	api := router.Group("/api")
	api.GET("/functions", h.listFunctions)
	userRoutes := api.Group("/users/:id")
	userRoutes.Use(h.requirePathUser())
	userRoutes.POST("/chat", h.chat)
	userRoutes.GET("/history", h.getHistory)
	userRoutes.DELETE("/history", h.resetHistory)
}

func (h *Handler) health(c *gin.Context) {
	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listFunctions(c *gin.Context) {
	funcs := make([]gin.H, 0, h.registry.Len())
	for _, f := range h.registry.Functions() {
		funcs = append(funcs, gin.H{
			"name":        f.Name(),
			"description": f.Description(),
			"parameters":  f.Parameters(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"functions": funcs})
}

func (h *Handler) getHistory(c *gin.Context) {
	userID := c.GetString(userIDKey)
	messages := h.workers.History(userID)
	if messages == nil {
		messages = make([]models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID,
		"messages": messages,
	})
}

func (h *Handler) resetHistory(c *gin.Context) {
	userID := c.GetString(userIDKey)
	if err := h.workers.ResetUser(c.Request.Context(), userID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": messageFor(err)})
		return
	}
	c.Status(http.StatusNoContent)
}

type chatRequest struct {
	Content string `json:"content"`
}

func (h *Handler) chat(c *gin.Context) {
	userID := c.GetString(userIDKey)
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	var out responseStream
	switch mode := c.Query("stream"); mode {
	case "", "text":
		out = &textStream{c: c}
	case "sse":
		out = &sseStream{c: c}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported stream mode %q", mode)})
		return
	}

	res, err := h.workers.Stream(worker.TurnRequest{
		Context: c.Request.Context(),
		UserID:  userID,
		Input:   req.Content,
		ChunkFn: out.chunk,
	})
	if err != nil {
		logger.Warn("chat turn failed", "user", userID, "error", err)
		if !out.started() {
			c.JSON(statusFor(err), gin.H{"error": messageFor(err)})
			return
		}
		out.fail(err)
		return
	}
	out.done(res)
}

// responseStream writes a turn to the client. Headers are sent with the
// first chunk so that errors before any output keep their status code.
type responseStream interface {
	chunk(models.Delta) error
	started() bool
	fail(error)
	done(*worker.TurnResult)
}

type textStream struct {
	c     *gin.Context
	begun bool
}

func (s *textStream) begin() {
	if s.begun {
		return
	}
	s.begun = true
	s.c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.c.Writer.Header().Set("Cache-Control", "no-cache")
	s.c.Writer.Header().Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
}

func (s *textStream) chunk(d models.Delta) error {
	s.begin()
	if _, err := s.c.Writer.WriteString(d.Content); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

func (s *textStream) started() bool { return s.begun }

func (s *textStream) fail(err error) {
	_, _ = fmt.Fprintf(s.c.Writer, "\n\n[error] %s\n", messageFor(err))
	s.c.Writer.Flush()
}

func (s *textStream) done(*worker.TurnResult) {
	s.begin()
	s.c.Writer.Flush()
}

type sseStream struct {
	c     *gin.Context
	begun bool
}

func (s *sseStream) begin() {
	if s.begun {
		return
	}
	s.begun = true
	s.c.Writer.Header().Set("Content-Type", "text/event-stream")
	s.c.Writer.Header().Set("Cache-Control", "no-cache")
	s.c.Writer.Header().Set("Connection", "keep-alive")
	s.c.Writer.Header().Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
}

func (s *sseStream) send(event string, payload interface{}) error {
	s.begin()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

func (s *sseStream) chunk(d models.Delta) error {
	return s.send("stream", gin.H{"role": d.Role, "content": d.Content})
}

func (s *sseStream) started() bool { return s.begun }

func (s *sseStream) fail(err error) {
	_ = s.send("error", gin.H{"message": messageFor(err)})
}

func (s *sseStream) done(res *worker.TurnResult) {
	_ = s.send("done", gin.H{
		"content":  res.Content,
		"messages": res.Messages,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, worker.ErrUserRequired):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, conversation.ErrRecoveryExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	if errors.Is(err, worker.ErrDispatcherBusy) {
		return "server is busy, please retry"
	}
	return err.Error()
}
