package api

import (
	"context"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/service"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/messages"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderAdmin  = "X-Admin"

	requesterKey = "requester"
	retryAfter   = "1"
)

// HealthCheck reports whether a backend the judge depends on is reachable.
type HealthCheck func(ctx context.Context) error

type handler struct {
	svc    service.Service
	health map[string]HealthCheck
	logger *zap.SugaredLogger
}

// SubmitRequest is the body of POST /api/v1/submissions. The owner comes
// from the X-User-ID header.
type SubmitRequest struct {
	ProblemID  string `json:"problem_id" binding:"required"`
	LanguageID string `json:"language_id" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// NewRouter builds the HTTP surface. metrics may be nil.
func NewRouter(svc service.Service, metrics http.Handler, health map[string]HealthCheck) *gin.Engine {
	h := &handler{
		svc:    svc,
		health: health,
		logger: logger.NewNamedLogger("api"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), h.accessLog)

	router.GET("/healthz", h.healthz)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/languages", h.languages)
	v1.GET("/workers", h.workers)

	subs := v1.Group("/submissions", identity)
	subs.POST("", h.submit)
	subs.GET("/:id", h.status)
	subs.POST("/:id/cancel", h.cancel)
	subs.POST("/:id/rejudge", h.rejudge)

	return router
}

// identity reads the request-scoped requester. Authentication happens in
// front of the judge; the headers are trusted.
func identity(c *gin.Context) {
	id := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing " + HeaderUserID + " header"})
		return
	}
	admin, _ := strconv.ParseBool(c.GetHeader(HeaderAdmin))
	c.Set(requesterKey, service.Requester{ID: id, Admin: admin})
	c.Next()
}

func requester(c *gin.Context) service.Requester {
	r, _ := c.Get(requesterKey)
	req, _ := r.(service.Requester)
	return req
}

func (h *handler) accessLog(c *gin.Context) {
	c.Next()
	if c.Writer.Status() >= http.StatusInternalServerError {
		h.logger.Errorf("%s %s -> %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
	}
}

func (h *handler) submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	id, err := h.svc.Submit(c.Request.Context(), messages.SubmitPayload{
		OwnerID:    requester(c).ID,
		ProblemID:  req.ProblemID,
		LanguageID: req.LanguageID,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, messages.SubmitResponsePayload{SubmissionID: id})
}

func (h *handler) status(c *gin.Context) {
	st, err := h.svc.GetStatus(c.Request.Context(), c.Param("id"), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) cancel(c *gin.Context) {
	st, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) rejudge(c *gin.Context) {
	st, err := h.svc.Rejudge(c.Request.Context(), c.Param("id"), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (h *handler) languages(c *gin.Context) {
	specs, err := h.svc.Languages(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messages.ResponseHandshakePayload{Languages: specs})
}

func (h *handler) workers(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Workers())
}

func (h *handler) healthz(c *gin.Context) {
	checks := make(map[string]string, len(h.health))
	healthy := true
	for name, check := range h.health {
		if err := check(c.Request.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"healthy": healthy, "checks": checks})
}

func (h *handler) fail(c *gin.Context, err error) {
	var verr *errors.ValidationError
	switch {
	case stdErrors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case stdErrors.Is(err, errors.ErrBusy):
		c.Header("Retry-After", retryAfter)
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case stdErrors.Is(err, errors.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case stdErrors.Is(err, errors.ErrForbidden):
		c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case stdErrors.Is(err, errors.ErrInvalidTransition), stdErrors.Is(err, errors.ErrConflict),
		stdErrors.Is(err, errors.ErrStaleVersion):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.logger.Errorf("Request failed: %s", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
