package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "go-repub/internal/errors"
	"go-repub/internal/logger"
	"go-repub/internal/service"
	"go-repub/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Config carries the HTTP settings the handlers need
type Config struct {
	MaxRequestBodySize int64
	RequestTimeout     time.Duration
	Version            string
}

func NewHandler(svc service.JobService, cfg Config) http.Handler {
	r := gin.Default()

	// Add middleware
	r.Use(
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	h := &jobHandlers{svc: svc, cfg: cfg}

	// Configure routes
	r.GET("/health", healthCheck(cfg.Version))
	r.GET("/metrics", h.metrics)

	api := r.Group("/api/v1")
	jobs := api.Group("/jobs")
	jobs.POST("", h.submitJob)
	jobs.POST("/upload", h.uploadJob)
	jobs.GET("", h.listJobs)
	jobs.GET("/:id", h.getJob)
	jobs.DELETE("/:id", h.deleteJob)
	jobs.POST("/:id/finalize", h.finalizeJob)
	jobs.POST("/:id/retry", h.retryJob)
	jobs.GET("/:id/output", h.getOutput)
	jobs.GET("/:id/pages/:page", h.getPage)
	jobs.PUT("/:id/pages/:page/crop", h.applyCrop)
	jobs.POST("/:id/pages/:page/approve", h.approvePage)

	return r
}

func healthCheck(version string) gin.HandlerFunc {
	if version == "" {
		version = "dev"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "available",
			"version": version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			respondError(c, "request processing failed", c.Errors.Last().Err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode
	}

	var maxBytes *http.MaxBytesError
	// Fallback to context-based errors
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	code := determineStatusCode(err)
	resp := models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message + ": " + err.Error(),
	}
	if appErr, ok := apperrors.As(err); ok {
		resp.Error = string(appErr.Type)
		resp.Message = appErr.Message
		resp.Details = appErr.Details
	}

	// Log the error with context
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, resp)
}
