/**
 * @description
 * This is the main entry point for the wallet-service. It is responsible for
 * initializing all components of the service: configuration, the ledger store
 * (PostgreSQL when DATABASE_URL is set, in-memory otherwise), the Pi platform
 * and network clients, the settlement strategy, the RabbitMQ producer, the
 * optional Redis rate limiter, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5 (via internal/api): HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/piclient, pkg/pinet, pkg/rabbitmq: External service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/chototpi/wallet-service/internal/api"
	"github.com/chototpi/wallet-service/internal/app"
	"github.com/chototpi/wallet-service/internal/config"
	"github.com/chototpi/wallet-service/internal/store"
	"github.com/chototpi/wallet-service/pkg/piclient"
	"github.com/chototpi/wallet-service/pkg/pinet"
	"github.com/chototpi/wallet-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.PiAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"platform api key must be configured\" env=PI_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting wallet-service\" port=%s strategy=%s", cfg.ServerPort, cfg.SettlementStrategy)

	externalTimeout := time.Duration(cfg.ExternalCallTimeoutSeconds) * time.Second

	// Choose the ledger store: PostgreSQL in production, in-memory when no
	// database is configured.
	var repository store.Repository
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"no database url configured; using in-memory store\"")
		repository = store.NewMemoryRepository()
	} else {
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

		if err := store.RunMigrations(context.Background(), dbpool); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"database connected\"")
		repository = store.NewPostgresRepository(dbpool)
	}

	// Initialize the client for the Pi platform API.
	platformClient := piclient.NewClient(cfg.PiAPIBaseURL, cfg.PiAPIKey, externalTimeout)

	// Initialize the network gateway client used for signed payout transfers.
	var networkClient *pinet.Client
	if strings.TrimSpace(cfg.PiWalletSeed) == "" {
		log.Println("level=warn component=bootstrap msg=\"no wallet seed configured; settlement submission disabled\" env=PI_WALLET_SEED")
	} else {
		networkClient, err = pinet.NewClient(cfg.PiNetworkURL, cfg.PiWalletAddress, cfg.PiWalletSeed, externalTimeout)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"network client init failed\" err=%v", err)
		}
	}

	// Choose the settlement strategy.
	var strategy app.SettlementStrategy
	switch cfg.SettlementStrategy {
	case "direct":
		strategy = app.NewDirectSettlement(networkClient)
	case "platform":
		strategy = app.NewPlatformSettlement(platformClient, networkClient)
	default:
		log.Fatalf("level=fatal component=bootstrap msg=\"unknown settlement strategy\" strategy=%s", cfg.SettlementStrategy)
	}

	// Initialize the RabbitMQ producer to publish wallet events. Broker
	// outages degrade to a no-op publisher; they never block ledger writes.
	var producer rabbitmq.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"no rabbitmq url configured; event publishing disabled\"")
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
			producer = &rabbitmq.EventProducerFallback{}
		} else {
			defer eventProducer.Close()
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
			producer = eventProducer
		}
	}

	// Initialize the core application service with its dependencies.
	walletService := app.NewService(repository, platformClient, strategy, producer)

	// Optional Redis-backed rate limiting for withdrawal creation.
	if cfg.WithdrawalRatePerMinute > 0 && strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; withdrawal rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; withdrawal rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
				walletService.SetWithdrawalRateLimiter(
					app.NewRedisWalletRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
					cfg.WithdrawalRatePerMinute,
				)
			}
		}
	}

	// Initialize the API handlers and router.
	walletHandlers := api.NewWalletHandlers(walletService)
	router := api.WalletRoutes(walletHandlers)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
