// Package api exposes the copy trading operations over HTTP.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"copytrade-engine/internal/copytrade"
	"copytrade-engine/internal/observability"
)

// Options contains configuration for creating the HTTP API.
type Options struct {
	Addr    string
	Service *copytrade.Service
	// AdminToken guards /v1/admin. Empty leaves the admin routes unregistered.
	AdminToken string
	Logger     *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestMetrics())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ctrl := NewController(opts.Service, log)
	v1 := r.Group("/v1")
	ctrl.RegisterRoutes(v1)

	if opts.AdminToken != "" {
		admin := v1.Group("/admin", AdminAuth(opts.AdminToken))
		ctrl.RegisterAdminRoutes(admin)
	}
	return r
}

// NewServer returns the router and an http.Server serving it on opts.Addr.
func NewServer(opts Options) (*gin.Engine, *http.Server) {
	r := NewRouter(opts)
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return r, srv
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observability.RecordAPIRequest(route, strconv.Itoa(c.Writer.Status()))
	}
}
