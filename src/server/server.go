package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	app "newsthumb/src/app"
	cfg "newsthumb/src/configuration"
	"newsthumb/src/external"
	"newsthumb/src/imaging"
	db "newsthumb/src/repository"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
)

// Dependencies are the collaborators the routes are built from. Identity
// and Mirror may be nil.
type Dependencies struct {
	Config    *cfg.Properties
	Store     db.StateStore
	Sessions  gin.HandlerFunc
	Layout    *app.Layout
	Identity  IdentityProvider
	Captioner external.Captioner
	Renderer  *imaging.Renderer
	Mirror    app.Mirror
	Now       func() time.Time
}

func NewRouter(deps Dependencies) *gin.Engine {
	config := deps.Config
	if deps.Now == nil {
		deps.Now = time.Now
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	if len(config.Server.CorsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     config.Server.CorsOrigins,
			AllowMethods:     []string{"GET", "HEAD", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Cache-Control"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	router.Use(deps.Sessions)
	router.MaxMultipartMemory = config.Server.MaxUploadMB << 20
	router.SetHTMLTemplate(loadTemplates())

	session := sessionHandler{store: deps.Store}
	pages := NewPageHandler(session, config.Location(), deps.Now)
	auth := NewAuthHandler(config, session, deps.Identity, deps.Layout)
	upload := NewUploadHandler(session, deps.Layout, deps.Mirror)
	generate := NewGenerateHandler(session, deps.Layout, deps.Captioner, deps.Renderer, deps.Mirror, deps.Now)

	// Register Routes
	router.GET("/health", pages.GetHealth)
	router.GET("/", pages.Root)
	router.GET("/login", auth.Login)
	router.GET("/authorize", auth.Authorize)
	router.GET("/logout", auth.Logout)
	router.POST("/upload", upload.PostImages)
	router.POST("/generate_thumbnail", generate.PostGenerate)
	router.Static(app.StaticURLPrefix, deps.Layout.Root())

	if config.Server.Pprof {
		pprof.Register(router)
	}

	router.NoRoute(func(ctx *gin.Context) { ctx.JSON(http.StatusNotFound, gin.H{}) })
	return router
}

// RunServer wires the production dependencies and serves until SIGINT/SIGTERM.
func RunServer(config *cfg.Properties) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout, err := app.NewLayout(config.Storage.Root)
	if err != nil {
		return err
	}

	secret := []byte(config.Session.Secret)
	if len(secret) == 0 {
		slog.Warn("SESSION_SECRET not set, sessions will not survive a restart")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
	}
	store, sessions := db.NewCookieStore(config, secret)

	deps := Dependencies{
		Config:    config,
		Store:     store,
		Sessions:  sessions,
		Layout:    layout,
		Captioner: external.NewCaptionClient(config),
		Renderer:  imaging.NewRenderer(config.FontPath),
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, config.Auth.ReadTimeout)
	identity, err := NewOIDCProvider(discoveryCtx, config)
	cancel()
	if err != nil {
		slog.Error("identity provider unavailable, sign-in disabled", "host", config.Auth.Host, "error", err)
	} else {
		deps.Identity = identity
	}

	if config.S3Enabled() {
		clientS3, err := app.NewMinioS3Client(
			config.S3.Host,
			config.S3.AccessKey,
			config.S3.SecretKey,
			config.S3.Bucket,
			config.S3.SSL)
		if err != nil {
			slog.Error("could not connect to minio, mirroring disabled", "error", err)
		} else {
			deps.Mirror = clientS3
		}
	}
	if !config.CaptionEnabled() {
		slog.Info("caption service not configured, fallback caption will be used")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Server.Port),
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: config.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
