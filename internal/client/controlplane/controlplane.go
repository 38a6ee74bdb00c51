package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftsync/internal/client/handlers"
	"github.com/openmined/syftsync/internal/client/middleware"
	"github.com/openmined/syftsync/internal/version"
)

const requestsPerSecond = 10

// Config of the control plane server
type Config struct {
	Addr      string // Address to bind the control plane server
	AuthToken string // Access token for the control plane server, empty disables auth
}

// Server is the local http api of the daemon.
type Server struct {
	config *Config
	server *http.Server
}

func New(config *Config, svc handlers.SyncService) *Server {
	return &Server{
		config: config,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           SetupRoutes(svc, middleware.TokenAuthConfig{Token: config.AuthToken}),
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
			// no WriteTimeout, POST /v1/sync waits for a whole cycle
		},
	}
}

// Start serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("control plane listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	slog.Info("control plane start", "addr", fmt.Sprintf("http://%s", ln.Addr()))

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control plane serve: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}

func SetupRoutes(svc handlers.SyncService, auth middleware.TokenAuthConfig) http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	statusH := handlers.NewStatusHandler(svc)
	syncH := handlers.NewSyncHandler(svc)
	localH := handlers.NewLocalHandler(svc)

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Gzip())
	r.Use(middleware.RateLimit(requestsPerSecond))

	r.GET("/", IndexHandler)
	r.GET("/healthz", handlers.Health)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(auth))
	{
		v1.GET("/status", statusH.Status)

		v1.POST("/sync", syncH.Now)
		v1.GET("/sync/status", syncH.Status)
		v1.GET("/sync/status/file", syncH.StatusByPath)

		v1Local := v1.Group("/local")
		{
			v1Local.POST("/records", localH.Record)
			v1Local.POST("/forget", localH.Forget)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ControlPlaneError{
			ErrorCode: handlers.ErrCodeNotFound,
			Error:     "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, handlers.ControlPlaneError{
			ErrorCode: handlers.ErrCodeBadRequest,
			Error:     "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Detailed())
}
