package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anurag-kawade/projecthub-chat/internal/api"
	"github.com/anurag-kawade/projecthub-chat/internal/blob"
	"github.com/anurag-kawade/projecthub-chat/internal/chat"
	"github.com/anurag-kawade/projecthub-chat/internal/config"
	"github.com/anurag-kawade/projecthub-chat/internal/db"
	"github.com/anurag-kawade/projecthub-chat/internal/middleware"
	"github.com/anurag-kawade/projecthub-chat/internal/observ"
	"github.com/anurag-kawade/projecthub-chat/internal/repository/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// ctx cancels on SIGINT/SIGTERM; everything long-running hangs off it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Connect to Postgres
	//
	// Startup has no request deadline — take as long as the DB needs.
	// ---------------------------------------------------------------
	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	// ---------------------------------------------------------------
	// 4. Repositories, authorizer, broker, protocol handler
	// ---------------------------------------------------------------
	pool := database.Pool()
	messageRepo := postgres.NewMessageStore(pool, cfg.ReplyPreviewChars)
	rosterRepo := postgres.NewRosterStore(pool)

	authz := chat.NewAuthorizer(rosterRepo, cfg.AuthzTimeout, logger)
	broker := chat.NewBroker(logger)

	// With REDIS_URL set, events fan out through the backplane so other
	// instances' clients see them too; without it the in-memory broker is
	// the whole delivery path.
	var publisher chat.Publisher = broker
	if cfg.RedisURL != "" {
		backplane, err := chat.NewBackplane(cfg.RedisURL, broker, logger)
		if err != nil {
			return fmt.Errorf("create redis backplane: %w", err)
		}
		defer backplane.Close()
		go func() {
			if err := backplane.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis backplane stopped", zap.Error(err))
			}
		}()
		publisher = backplane
	}

	protocol := chat.NewHandler(messageRepo, authz, broker, publisher, chat.HandlerConfig{
		EditWindow:      cfg.EditWindow,
		MaxMessageChars: cfg.MaxMessageChars,
		StoreTimeout:    cfg.StoreTimeout,
	}, logger)

	// ---------------------------------------------------------------
	// 5. Attachment blob storage
	// ---------------------------------------------------------------
	blobs, err := blob.NewLocalStore(cfg.UploadDir, cfg.UploadPublicPrefix)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}

	// ---------------------------------------------------------------
	// 6. HTTP server and routes
	// ---------------------------------------------------------------
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	chatHandler := api.NewChatHandler(messageRepo, authz, blobs.PublicPath, logger)
	uploadHandler := api.NewUploadHandler(messageRepo, blobs, authz, protocol, blobs.PublicPath, cfg.MaxUploadBytes, logger)
	wsHandler := api.NewWSHandler(protocol, logger)

	// Health check is PUBLIC — load balancers hit it without credentials.
	srv.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Attachments are served under the configured public prefix.
	srv.Static(cfg.UploadPublicPrefix, blobs.Dir())

	// Everything under /v1/chat requires a valid session token; the same
	// middleware authenticates the websocket upgrade.
	v1 := srv.Group("/v1/chat")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	v1.GET("/rooms/:roomId/messages", chatHandler.History)
	v1.GET("/rooms/:roomId/messages/pinned", chatHandler.Pinned)
	v1.POST("/rooms/:roomId/attachments", uploadHandler.Upload)
	v1.GET("/ws", wsHandler.Connect)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv,
	}

	logger.Info("starting projecthub chat",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Bool("redis_backplane", cfg.RedisURL != ""),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// Graceful drain: in-flight requests get a few seconds, websocket
	// clients are cut by the server close and reconnect elsewhere.
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	return nil
}
