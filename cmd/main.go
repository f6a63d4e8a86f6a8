/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * the payment gateway client, message brokers, the rate limiter, metrics, the core
 * application service, the maintenance scheduler, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Backing store for purchase rate limiting.
 * - github.com/prometheus/client_golang: Metrics registry and /metrics handler.
 * - internal/api, internal/app, internal/config, internal/scheduler, internal/store: Internal packages for the service.
 * - pkg/paymentgateway: Client for the payment gateway's verify API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/ticketmarket/settlement-service/internal/api"
	"github.com/ticketmarket/settlement-service/internal/app"
	"github.com/ticketmarket/settlement-service/internal/config"
	"github.com/ticketmarket/settlement-service/internal/metrics"
	"github.com/ticketmarket/settlement-service/internal/scheduler"
	"github.com/ticketmarket/settlement-service/internal/store"
	"github.com/ticketmarket/settlement-service/pkg/paymentgateway"
	rmrabbit "github.com/ticketmarket/settlement-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found, using environment variables\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	if cfg.PaymentGatewaySecretKey == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"payment gateway secret key must be configured\" env=PAYMENT_GATEWAY_SECRET_KEY")
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" && strings.TrimSpace(cfg.AuthJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"token verification must be configured\" env=AUTH_JWKS_URL,AUTH_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if cfg.RunMigrations {
		if err := store.RunMigrations(dbpool); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database migration failed\" err=%v", err)
		}
	}

	// Initialize the RabbitMQ producer to publish purchase and reconciliation events.
	var eventProducer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var redisClient *redis.Client
	if cfg.PurchaseRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; purchase rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; purchase rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				pingErr := redisClient.Ping(pingCtx).Err()
				cancelPing()
				if pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; purchase rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository) and the gateway client.
	repository := store.NewPostgresRepository(dbpool)
	gatewayClient := paymentgateway.NewClient(cfg.PaymentGatewayBaseURL, cfg.PaymentGatewaySecretKey, cfg.GatewayTimeout())

	// Initialize the core application service with its dependencies.
	settlementService := app.NewService(repository, gatewayClient, eventProducer, app.Options{
		EventsExchange:             cfg.EventsExchange,
		DefaultPlatformFeePercent:  cfg.DefaultPlatformFeePercent,
		AmountToleranceKobo:        cfg.AmountToleranceKobo,
		SettlementCurrency:         cfg.SettlementCurrency,
		ReservationStaleAfter:      cfg.ReservationStaleAfter(),
		PurchaseRateLimitPerMinute: cfg.PurchaseRateLimitPerMinute,
	})
	settlementService.SetMetrics(metrics.New(nil))
	if redisClient != nil {
		settlementService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
	}

	// Consume payout results from the payout provider integration.
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; payout status updates disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		payoutConsumer := app.NewPayoutStatusConsumer(settlementService)
		payoutBindings := map[string]rmrabbit.Handler{
			app.RoutingKeyPayoutStatusSuccessful: payoutConsumer.HandleMessage,
			app.RoutingKeyPayoutStatusFailed:     payoutConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.PayoutEventQueue, payoutBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"payout consumer start failed\" err=%v", err)
		}
	}

	// Start the maintenance jobs.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := scheduler.NewJobs(settlementService, logger)
	cronScheduler := scheduler.NewScheduler(jobs, logger, cfg)
	cronScheduler.Start()

	// Set up the HTTP router and define the API routes.
	handlers := api.NewSettlementHandlers(settlementService)
	router := api.NewRouter(handlers, api.RouterOptions{
		Auth: api.AuthConfig{
			JWKSURL:    cfg.AuthJWKSURL,
			HMACSecret: cfg.AuthJWTSecret,
			Issuer:     cfg.AuthIssuer,
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsHandler: promhttp.Handler(),
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-cronScheduler.Stop().Done()
	settlementService.WaitForNotifications(ctx)

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
