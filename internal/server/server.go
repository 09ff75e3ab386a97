package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"poerelay/internal/auth"
	"poerelay/internal/chatbot"
	"poerelay/internal/config"
	"poerelay/internal/logging"
	"poerelay/internal/observability"
)

const RequestIDHeader = "X-Request-Id"

// Deps are the collaborators the router serves.
type Deps struct {
	Chat     *chatbot.ChatController
	Auth     *auth.Middleware
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter builds the gin engine with the relay's middleware and routes.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(requestID(logger))
	if cfg.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	router.Use(accessLog())
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.FromContext(c.Request.Context()).Error("panic recovered", "panic", fmt.Sprint(recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}))

	// cors.New panics on an empty origin list, so the middleware is only
	// installed when origins are configured.
	if len(cfg.CORS.AllowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowOrigins,
			AllowMethods:     cfg.CORS.AllowMethods,
			AllowHeaders:     cfg.CORS.AllowHeaders,
			ExposeHeaders:    cfg.CORS.ExposeHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
		}))
	}

	if cfg.Metrics.Enabled && deps.Gatherer != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(observability.Handler(deps.Gatherer)))
	}

	var authMiddleware []gin.HandlerFunc
	if deps.Auth != nil && deps.Auth.Enabled() {
		authMiddleware = append(authMiddleware, deps.Auth.RequireAccessKey())
	}
	deps.Chat.RegisterRoutes(router, authMiddleware...)

	return router
}

// requestID tags the request with an ID and puts a logger carrying it into
// the request context.
func requestID(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		logger := base.With("request_id", id)
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), logger))
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.FromContext(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

// Run serves handler on port until ctx is canceled, then shuts down within
// shutdownTimeout.
func Run(ctx context.Context, port string, handler http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on :%s: %w", port, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
