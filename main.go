package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/image-moderation/internal/auth"
	"github.com/example/image-moderation/internal/classifier"
	"github.com/example/image-moderation/internal/config"
	"github.com/example/image-moderation/internal/handlers"
	"github.com/example/image-moderation/internal/labels"
	"github.com/example/image-moderation/internal/logging"
	"github.com/example/image-moderation/internal/metrics"
	"github.com/example/image-moderation/internal/moderation"
	"github.com/example/image-moderation/internal/ratelimit"
	"github.com/example/image-moderation/internal/usecase"
)

func main() {
	cfg, err := config.Load(getEnv("ENV_FILE", ".env"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Options{
		Debug:      cfg.Debug,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.With(logging.Hostname())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := initClassifier(cfg, logger)
	if err != nil {
		logger.Fatal("classifier is required but failed to initialize", zap.Error(err))
	}

	server, cleanup := buildServer(ctx, cfg, client, logger)

	logger.Info("moderation gateway listening",
		zap.String("addr", server.Addr),
		zap.String("mode", string(cfg.Mode)),
		zap.Bool("classifier_ready", client.Ready()),
	)
	if err := serveHTTPServer(server, serveOptions{
		ShutdownTimeout: 15 * time.Second,
		AfterDrain:      cleanup,
	}, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initClassifier builds the Clarifai client. When it cannot be built the
// gateway still serves and answers 503, unless REQUIRE_CLASSIFIER is set.
func initClassifier(cfg *config.Config, logger *zap.Logger) (classifier.Client, error) {
	clarifai, err := classifier.NewClarifai(cfg.Clarifai, logger)
	if err != nil {
		if cfg.RequireClassifier {
			return nil, err
		}
		logger.Error("classifier unavailable; moderation requests will be rejected", zap.Error(err))
		return classifier.Unavailable{Reason: err}, nil
	}
	return classifier.WithBreaker(clarifai, classifier.BreakerOptions{
		Name:        "clarifai",
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerOpenTimeout,
	}, logger), nil
}

// buildServer wires the router. The returned cleanup releases the rate
// limiter's resources and belongs after the server has drained.
func buildServer(ctx context.Context, cfg *config.Config, client classifier.Client, logger *zap.Logger) (*http.Server, func()) {
	policy := moderation.Policy{
		Labels:      labels.NewSet(cfg.BlockingLabels, cfg.SafeLabel),
		Thresholds:  cfg.Thresholds,
		ExcludeSafe: cfg.ExcludeSafe,
	}
	collector := metrics.NewCollector()
	uc := usecase.NewModerationUseCase(client, policy, collector, cfg.ClassifyTimeout, logger)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	r.Use(gin.Recovery(), handlers.RequestIDMiddleware(), handlers.AccessLog(logger), collector.Middleware())

	var middleware []gin.HandlerFunc
	if cfg.JWTSecret != "" {
		middleware = append(middleware, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))
	}
	cleanup := func() {}
	if limiter, closeLimiter := initRateLimiter(ctx, cfg, logger); limiter != nil {
		middleware = append(middleware, ratelimit.Middleware(limiter, logger))
		cleanup = closeLimiter
	}

	handlers.RegisterRoutes(r, uc, handlers.Options{
		Mode:       cfg.Mode,
		Middleware: middleware,
		Metrics:    collector.Handler(),
		Logger:     logger,
	})

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}, cleanup
}

func initRateLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, func()) {
	if cfg.RateLimitRPS <= 0 {
		return nil, func() {}
	}
	if cfg.RedisAddr == "" {
		logger.Info("using in-process rate limiter", zap.Float64("rps", cfg.RateLimitRPS), zap.Int("burst", cfg.RateLimitBurst))
		return ratelimit.NewLocalLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst), func() {}
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	client := initRedis(redisCtx, cfg.RedisAddr, logger)

	limit := int64(math.Ceil(cfg.RateLimitRPS))
	logger.Info("using redis rate limiter", zap.String("addr", cfg.RedisAddr), zap.Int64("per_second", limit))
	return ratelimit.NewRedisLimiter(client, limit, time.Second), func() { _ = client.Close() }
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// serveOptions controls how the gateway is served and drained.
type serveOptions struct {
	ShutdownTimeout time.Duration
	// Listener overrides ListenAndServe on server.Addr.
	Listener net.Listener
	// Signals overrides SIGINT/SIGTERM delivery.
	Signals <-chan os.Signal
	// AfterDrain runs once in-flight moderation requests have finished, or the
	// shutdown timeout expired. It releases the rate limiter's store.
	AfterDrain func()
}

// serveHTTPServer serves until the listener fails or a signal arrives, then
// stops accepting uploads and waits for in-flight classifications.
func serveHTTPServer(server *http.Server, opts serveOptions, logger *zap.Logger) error {
	if opts.AfterDrain != nil {
		defer opts.AfterDrain()
	}

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if opts.Listener != nil {
			err = server.Serve(opts.Listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	signals := opts.Signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	var sig os.Signal
	select {
	case err := <-serveErr:
		return err
	case received, ok := <-signals:
		if !ok {
			return <-serveErr
		}
		sig = received
	}

	logger.Info("draining moderation requests",
		zap.String("signal", sig.String()),
		zap.Duration("timeout", opts.ShutdownTimeout),
	)
	ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("moderation requests still in flight at shutdown deadline", zap.Error(err))
		if !errors.Is(err, context.Canceled) {
			return err
		}
	}
	if err := <-serveErr; err != nil {
		return err
	}
	logger.Info("moderation gateway stopped")
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
