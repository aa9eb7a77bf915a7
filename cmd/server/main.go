package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Spaces-Place/space-place-payment/cmd/server/config"
	"github.com/Spaces-Place/space-place-payment/internal/broker"
	"github.com/Spaces-Place/space-place-payment/internal/clients"
	paymentdb "github.com/Spaces-Place/space-place-payment/internal/db/payment"
	"github.com/Spaces-Place/space-place-payment/internal/observability"
	"github.com/Spaces-Place/space-place-payment/internal/payment"
	"github.com/Spaces-Place/space-place-payment/internal/realtime"
	httptransport "github.com/Spaces-Place/space-place-payment/internal/transport/http"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadDotenv()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// loadDotenv layers the env file for the current APP_ENV under any variables
// already set in the process. Missing files are fine in containers.
func loadDotenv() {
	file := ".env.development"
	if os.Getenv("APP_ENV") == "production" {
		file = ".env.production"
	}
	if err := godotenv.Load(file); err != nil {
		log.Printf("env file %s not loaded: %v", file, err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("shutdown tracing: %v", err)
		}
	}()

	store, cleanupStore := paymentdb.BuildOrderStore(ctx, cfg.Database.DSN, log.Printf)
	defer cleanupStore()

	redisClient, err := buildRedisClient(ctx, cfg.Redis, cfg.Tracing.Endpoint != "")
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}()

	memberClient := clients.NewMemberClient(cfg.Services.Member, cfg.Clients.Timeout)
	spaceClient := clients.NewSpaceClient(cfg.Services.Space, cfg.Clients.Timeout)
	reservationClient := clients.NewReservationClient(cfg.Services.Reservation, cfg.Auth.ServiceToken, cfg.Clients.Timeout)
	kakaoClient := clients.NewKakaoClient(cfg.Services.KakaoPay, cfg.Kakao.SecretKey, cfg.Kakao.CID, cfg.Clients.Timeout)

	breaker := payment.NewCircuitBreaker(payment.CircuitBreakerConfig{
		MaxFailures:  cfg.Reliability.BreakerMaxFailures,
		ResetTimeout: cfg.Reliability.BreakerResetTimeout,
	})
	gateway := payment.NewReliableGateway(kakaoClient, breaker)

	hub := realtime.NewHub()
	go hub.Run(ctx)

	publisher := broker.NewPublisher(redisClient, cfg.Redis.StreamMaxLen)
	service := payment.NewService(
		memberClient,
		spaceClient,
		reservationClient,
		gateway,
		store,
		publisher,
		hub,
		cfg.HTTP.CallbackBaseURL,
		log.Printf,
	)

	consumer := broker.NewConsumer(redisClient, reservationClient, broker.ConsumerConfig{
		Group:    cfg.Consumer.Group,
		Consumer: "payment-" + uuid.NewString(),
		Block:    cfg.Consumer.Block,
		Retry: payment.RetryPolicy{
			MaxAttempts: cfg.Consumer.MaxAttempts,
			BaseDelay:   cfg.Consumer.RetryBaseDelay,
			MaxDelay:    cfg.Consumer.RetryMaxDelay,
		},
		Logf: log.Printf,
	})
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outcome consumer stopped: %v", err)
		}
	}()

	metrics := observability.NewMetrics()
	var limiter *payment.RateLimiter
	if cfg.Reliability.RateLimitInterval > 0 {
		limiter = payment.NewRateLimiter(cfg.Reliability.RateLimitInterval, cfg.Reliability.RateLimitBurst)
	}

	if os.Getenv("APP_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Service:     service,
		Auth:        clients.NewAuthenticator(cfg.Services.Member, cfg.Clients.Timeout),
		Hub:         hub,
		Metrics:     metrics,
		RateLimiter: limiter,
		ServiceName: cfg.Tracing.ServiceName,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("payment server listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(0)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			log.Printf("outcome consumer did not drain before deadline")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
