package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"support-chat/internal/auth"
	"support-chat/internal/chat"
	"support-chat/internal/config"
	"support-chat/internal/db"
	"support-chat/internal/handlers"
	"support-chat/internal/health"
	"support-chat/internal/logger"
	"support-chat/internal/middleware"
	"support-chat/internal/observability"
	"support-chat/internal/presence"
	"support-chat/internal/rabbitmq"
	"support-chat/internal/realtime"
	"support-chat/internal/repositories"
	"support-chat/internal/storage"
	"support-chat/internal/telemetry"
	"support-chat/internal/ws"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		// the logger depends on config, so this one goes to stderr directly
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLP.Endpoint)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	database, err := db.Connect(ctx, db.Options{
		DSN:           cfg.DB.DSN,
		RunMigrations: cfg.DB.RunMigrations,
		RetryCount:    cfg.DB.RetryCount,
		RetryInterval: cfg.DB.RetryInterval,
	}, log)
	if err != nil {
		return err
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.ServiceName, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoute, cfg.ServiceName, cfg.Env, log)

	broker := realtime.NewBroker(log)
	listener := realtime.NewPGListener(cfg.DB.DSN, db.ChangeChannel, broker, log)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("change listener stopped", zap.Error(err))
		}
	}()

	broadcaster, err := newBroadcaster(ctx, cfg, log)
	if err != nil {
		return err
	}
	tracker := presence.NewTracker(broadcaster, cfg.Presence.Channel, log)
	if err := tracker.Start(ctx); err != nil {
		return err
	}

	threadRepo := repositories.NewThreadRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	profileRepo := repositories.NewProfileRepo(database)

	chatService := chat.NewService(threadRepo, messageRepo, profileRepo, tracker, audit, chat.Options{
		GreetingMessage: cfg.Chat.GreetingMessage,
		ProviderRoles:   cfg.Chat.ProviderRoles,
	}, log)

	var uploader handlers.Uploader
	if cfg.MinIO.Endpoint != "" {
		store, err := storage.NewMinIOAttachmentStore(ctx, storage.MinIOOptions{
			Endpoint:      cfg.MinIO.Endpoint,
			AccessKey:     cfg.MinIO.AccessKey,
			SecretKey:     cfg.MinIO.SecretKey,
			Bucket:        cfg.MinIO.Bucket,
			UseSSL:        cfg.MinIO.UseSSL,
			PublicBaseURL: cfg.MinIO.PublicBaseURL,
			MaxUploadSize: cfg.MinIO.MaxUploadSize,
			RetryCount:    cfg.DB.RetryCount,
			RetryInterval: cfg.DB.RetryInterval,
		}, log)
		if err != nil {
			log.Warn("attachments disabled", zap.Error(err))
		} else {
			uploader = store
		}
	}

	authenticator := auth.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	checker := health.NewChecker(database, cfg.ServiceName, 10*time.Second, log)
	go checker.Run(ctx)

	hub := ws.NewHub()
	chatHandler := handlers.NewChatHandler(chatService)
	presenceHandler := handlers.NewPresenceHandler(chatService, tracker)
	attachmentHandler := handlers.NewAttachmentHandler(uploader)
	chatWS := ws.NewChatWebSocketHandler(hub, authenticator, ws.SessionDeps{
		Service:  chatService,
		Feed:     broker,
		Presence: broadcaster,
		Channel:  cfg.Presence.Channel,
		Online:   tracker,
		Log:      log,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestID())
	if cfg.MinIO.MaxUploadSize > 0 {
		router.MaxMultipartMemory = cfg.MinIO.MaxUploadSize
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if !checker.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := middleware.AuthMiddleware(authenticator)

	router.GET("/threads", authMiddleware, chatHandler.ListThreads)
	router.POST("/threads", authMiddleware, chatHandler.StartThread)
	router.GET("/threads/:thread_id/messages", authMiddleware, chatHandler.GetMessages)
	router.POST("/threads/:thread_id/messages", authMiddleware, chatHandler.PostMessage)
	router.POST("/threads/:thread_id/read", authMiddleware, chatHandler.MarkRead)
	router.GET("/unread", authMiddleware, chatHandler.Unread)

	router.GET("/presence", authMiddleware, presenceHandler.ListOnline)
	router.GET("/presence/:user_id", authMiddleware, presenceHandler.UserOnline)
	router.GET("/profiles", authMiddleware, presenceHandler.Profiles)

	router.POST("/attachments", authMiddleware, attachmentHandler.Upload)

	router.GET("/ws", chatWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, authenticator, cfg.DebugRoutes)

	grpcServer := health.NewGRPCServer(checker)
	go func() {
		if err := health.Serve(grpcServer, ":"+cfg.GRPCPort, log); err != nil {
			log.Error("grpc server error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	hub.CloseAll()
	grpcServer.GracefulStop()
	if err := tracker.Stop(shutdownCtx); err != nil {
		log.Warn("presence leave", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
	return nil
}

func newBroadcaster(ctx context.Context, cfg config.Config, log *zap.Logger) (presence.Broadcaster, error) {
	if cfg.Presence.Driver != "redis" {
		return presence.NewLocalBroadcaster(), nil
	}
	client, err := presence.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	log.Info("redis presence enabled", zap.String("addr", cfg.Redis.Addr))
	return presence.NewRedisBroadcaster(client, cfg.Presence.TTL, cfg.Presence.Heartbeat, log), nil
}
