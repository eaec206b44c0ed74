// Package server exposes the storybook pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"storybook/internal/imagegen"
	"storybook/internal/model"
	"storybook/internal/pipeline"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// Providers builds model bindings from request credentials.
type Providers interface {
	Credentials(creds model.Credentials, legacy string) model.Credentials
	ImageCredentials(key string) model.Credentials
	Validate(creds model.Credentials) error
	Bindings(ctx context.Context, creds model.Credentials) (pipeline.Bindings, error)
	SingleImage(ctx context.Context, creds model.Credentials) (imagegen.ImageModel, error)
	Describe() map[string]string
}

// NewRouter returns a gin engine with recovery, request ids and access logging.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), AccessLog())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "providers": h.providers.Describe()})
	})
	h.RegisterRoutes(&router.RouterGroup)
	return router
}

// RequestID tags each request with a uuid, reusing the caller's X-Request-ID when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger(c).WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request")
	}
}

func logger(c *gin.Context) *logrus.Entry {
	return logrus.WithField(requestIDKey, c.GetString(requestIDKey))
}
