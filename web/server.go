// Package web is the view router: it owns the explicit application state
// (file registry, session store, health snapshot) and switches between the
// dashboard, chat, explorer, and upload views.
package web

import (
	"context"
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"datachat/config"
	"datachat/gateway"
	"datachat/web/format"
	"datachat/web/handlers"
	"datachat/web/middleware"
	"datachat/web/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

type Server struct {
	router   *gin.Engine
	logger   *zap.Logger
	config   *config.Config
	gw       *gateway.Client
	registry *services.FileRegistry
	sessions *services.SessionStore
	health   *services.HealthService
}

func NewServer(
	gw *gateway.Client,
	registry *services.FileRegistry,
	sessions *services.SessionStore,
	health *services.HealthService,
	logger *zap.Logger,
	cfg *config.Config,
) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	server := &Server{
		router:   router,
		logger:   logger,
		config:   cfg,
		gw:       gw,
		registry: registry,
		sessions: sessions,
		health:   health,
	}

	if err := server.setupRoutes(); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *Server) setupRoutes() error {
	pages, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return err
	}

	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return err
	}
	s.router.StaticFS("/static", http.FS(staticContent))

	renderer := format.NewRenderer(s.config.TablePreviewRows)

	chatHandler := handlers.NewChatHandler(s.sessions, s.registry, renderer, pages, s.logger)
	filesHandler := handlers.NewFilesHandler(s.gw, s.registry, s.sessions, pages, s.config, s.logger)
	viewsHandler := handlers.NewViewsHandler(s.gw, s.registry, s.health, pages, s.config, s.logger)

	limiter := middleware.NewClientRateLimiter(middleware.RateLimiterConfig{
		QueriesPerMinute: s.config.QueriesPerMinute,
		UploadsPerHour:   s.config.UploadsPerHour,
		BurstSize:        s.config.QueryBurstSize,
	}, s.logger)

	// Views
	s.router.GET("/", viewsHandler.Dashboard)
	s.router.GET("/chat", chatHandler.Page)
	s.router.GET("/explorer", viewsHandler.Explorer)
	s.router.GET("/upload", filesHandler.UploadPage)

	// Chat surface
	s.router.POST("/chat/send", middleware.QueryLimit(limiter, s.logger), chatHandler.Send)
	s.router.POST("/chat/select", chatHandler.SelectSession)
	s.router.POST("/chat/sessions/delete", chatHandler.DeleteSession)
	s.router.GET("/chat/history/:sessionID", chatHandler.History)

	// Files
	s.router.POST("/upload", middleware.UploadLimit(limiter, s.logger), filesHandler.Upload)
	s.router.POST("/files/select", filesHandler.Select)
	s.router.POST("/files/delete", filesHandler.Delete)

	// Explorer fragments and status
	s.router.GET("/explorer/counts/:column", viewsHandler.ColumnCounts)
	s.router.GET("/api/health", viewsHandler.HealthJSON)

	return nil
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))

	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed to start", zap.Error(err))
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	s.logger.Info("Shutting down web server")
	return srv.Shutdown(context.Background())
}
