package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"triptrack/internal/cache"
	"triptrack/internal/config"
	"triptrack/internal/logger"
	"triptrack/internal/metrics"
	"triptrack/internal/queue"
	"triptrack/internal/repository"
	"triptrack/internal/service"
	"triptrack/internal/storage"
	"triptrack/internal/tracing"
	"triptrack/internal/transport/rest"
	"triptrack/internal/transport/rest/handler"
	"triptrack/internal/transport/ws"
	"triptrack/internal/validate"
)

// @title Trip Track API
// @version 1.0
// @description Live trip sessions: trips, participants, leaderboards and experiences.
// @host localhost:8080
// @BasePath /v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg)
	defer log.Sync()

	if errs := cfg.Validate(); len(errs) > 0 {
		log.Fatal("invalid configuration", zap.Errors("errors", errs))
	}

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.OTelEnabled,
		Endpoint:     cfg.OTelEndpoint,
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Environment,
		SamplingRate: cfg.OTelSamplingRate,
	})
	if err != nil {
		log.Fatal("failed to set up tracing", zap.Error(err))
	}

	// MongoDB
	mongoClient, err := repository.Connect(ctx, cfg.MongoURI, 5, 500*time.Millisecond, log)
	if err != nil {
		log.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	db := mongoClient.Database(cfg.MongoDatabase)
	if err := repository.EnsureIndexes(ctx, db); err != nil {
		log.Warn("failed to ensure indexes", zap.Error(err))
	}
	log.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))

	// Redis
	rdb, err := cache.Connect(ctx, cache.ConnectOptions{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MaxRetries: cfg.RedisMaxRetries,
		Backoff:    cfg.RedisBackoff,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	store := cache.NewStore(rdb)
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	var images storage.ImageStore
	if cfg.ImagesEnabled() {
		images, err = storage.NewS3Store(storage.Config{
			Region:    cfg.AWSRegion,
			Bucket:    cfg.AWSBucket,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
			Endpoint:  cfg.AWSEndpoint,
		})
		if err != nil {
			log.Fatal("failed to create image store", zap.Error(err))
		}
	} else {
		log.Warn("reward image uploads disabled, AWS settings missing")
	}

	publisher, err := queue.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	if err != nil {
		log.Warn("trip events disabled, AMQP unavailable", zap.Error(err))
		publisher = queue.NopPublisher{}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics()
	if err := m.Register(registry); err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}

	// Repositories and caches
	tripRepo := repository.NewTripRepo(db)
	userRepo := repository.NewUserRepo(db)
	tripCache := cache.NewTripCache(store, cfg.TripCacheTTL)
	runtime := service.NewRuntime(store, cfg.RuntimeTTL)

	// Services
	if cfg.AMQPURL == "" && !cfg.IsDevelopment() {
		log.Warn("AMQP_URL not set, login codes cannot be delivered")
	}
	authSvc := service.NewAuthService(userRepo, cache.NewLoginCodeCache(store, cfg.LoginCodeTTL), publisher, service.AuthConfig{
		AccessSecret: cfg.AccessTokenSecret,
		GuestSecret:  cfg.GuestTokenSecret,
		TokenTTL:     cfg.AccessTokenTTL,
		CodeTTL:      cfg.LoginCodeTTL,
		Development:  cfg.IsDevelopment(),
	})
	tripSvc := service.NewTripService(tripRepo, userRepo, tripCache, runtime, images, publisher, m, log)
	participantSvc := service.NewParticipantService(tripRepo, tripCache, runtime, cfg.RejoinResetsScore, m, log)
	directionsSvc := service.NewDirectionsService(store, nil, "", cfg.MapboxToken, cfg.DirectionsTTL, log)

	// Realtime gateway; the hub implements service.Broadcaster
	v := validate.New()
	wsHub := ws.NewHub(m, log)
	tripSvc.SetBroadcaster(wsHub)
	participantSvc.SetBroadcaster(wsHub)
	gateway := ws.NewGateway(wsHub, participantSvc, v, m, log, ws.GatewayConfig{
		MessageMaxLen: cfg.MessageMaxLen,
		Development:   cfg.IsDevelopment(),
	})
	origins := splitOrigins(cfg.CORSAllowedOrigins)

	router := rest.NewRouter(&rest.Container{
		AuthService:        authSvc,
		TripService:        tripSvc,
		ParticipantService: participantSvc,
		DirectionsService:  directionsSvc,
		WSHandler:          ws.NewHandler(wsHub, gateway, authSvc, origins, log),
		Health: map[string]handler.Pinger{
			"mongo": mongoPinger(mongoClient),
			"redis": store,
		},
		Metrics:     m,
		Gatherer:    registry,
		Validator:   v,
		Log:         log,
		ServiceName: cfg.ServiceName,
		CORSOrigins: origins,
		Development: cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen and serve", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	wsHub.Stop()
	if err := publisher.Close(); err != nil {
		log.Warn("close publisher", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		log.Warn("close redis", zap.Error(err))
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		log.Warn("disconnect mongo", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("flush traces", zap.Error(err))
	}

	log.Info("server exited")
}

func mongoPinger(client *mongo.Client) handler.Pinger {
	return handler.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	})
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
