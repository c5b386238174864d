/**
 * @description
 * This is the main entry point for the transfer-service. It is responsible for
 * initializing all components of the service, including configuration, external
 * API clients, the message broker, stores, the orchestrator and its background
 * jobs, and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/joho/godotenv: Loads the optional .env file.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/bridge, pkg/flutterwave, pkg/rabbitmq, pkg/whatsapp: External service clients.
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

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/afribridge/transfer-service/internal/api"
	"github.com/afribridge/transfer-service/internal/app"
	"github.com/afribridge/transfer-service/internal/config"
	"github.com/afribridge/transfer-service/internal/store"
	"github.com/afribridge/transfer-service/pkg/bridge"
	"github.com/afribridge/transfer-service/pkg/flutterwave"
	abrabbit "github.com/afribridge/transfer-service/pkg/rabbitmq"
	"github.com/afribridge/transfer-service/pkg/whatsapp"
)

func main() {
	// Load the optional .env file before reading configuration.
	if err := godotenv.Load(); err == nil {
		log.Println("level=info component=bootstrap msg=\"loaded .env file\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.FlutterwaveSecretKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"flutterwave secret key must be configured\" env=FLUTTERWAVE_SECRET_KEY")
	}
	if !cfg.IsDevelopment() && strings.TrimSpace(cfg.FlutterwaveSecretHash) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"flutterwave secret hash must be configured outside development\" env=FLUTTERWAVE_SECRET_HASH")
	}

	log.Printf("level=info component=bootstrap msg=\"starting transfer-service\" port=%s env=%s", cfg.ServerPort, cfg.AppEnv)

	// Initialize the RabbitMQ producer to publish lifecycle events. The
	// broker is optional; events degrade to a logged no-op without it.
	var eventProducer abrabbit.Publisher
	rabbitProducer, err := abrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &abrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the external service clients.
	flutterwaveClient := flutterwave.NewClient(cfg.FlutterwaveBaseURL, cfg.FlutterwaveSecretKey, cfg.FlutterwaveRedirectURL, cfg.FlutterwaveCallbackURL)
	bridgeClient := bridge.NewClient(cfg.BridgeRelayURL, cfg.BridgeRelayAPIKey)
	messenger := whatsapp.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber)

	// Redis is only used for webhook rate limiting; the service boots
	// without it.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the stores.
	sessions := store.NewInMemorySessionStore()
	ledger := store.NewFulfillmentLedger()

	// Initialize the application services.
	poller := app.NewChargePoller(flutterwaveClient, cfg.PollMaxAttempts, time.Duration(cfg.PollIntervalSeconds)*time.Second)
	payoutRetrier := app.NewPayoutRetrier(flutterwaveClient, cfg.PayoutMaxAttempts, time.Duration(cfg.PayoutRetryDelaySeconds)*time.Second)
	notifier := app.NewStillWaitingNotifier(sessions, messenger, time.Duration(cfg.NotifyDelaySeconds)*time.Second)

	orchestrator := app.NewOrchestrator(
		sessions,
		flutterwaveClient,
		bridgeClient,
		messenger,
		eventProducer,
		poller,
		notifier,
		cfg.DefaultRecipientAddress,
	)

	fulfillment := app.NewFulfillmentService(ledger, bridgeClient, payoutRetrier, eventProducer, cfg.TreasuryAddress)

	sweeper := app.NewSweeper(
		sessions,
		ledger,
		fulfillment,
		messenger,
		notifier,
		eventProducer,
		orchestrator.Executor(),
		time.Duration(cfg.PaymentTimeoutMinutes)*time.Minute,
		time.Duration(cfg.SessionMaxAgeMinutes)*time.Minute,
		time.Duration(cfg.FulfillmentRetentionHrs)*time.Hour,
	)

	scheduler := app.NewScheduler(sweeper, cfg.SweepSchedule, cfg.CleanupSchedule)
	scheduler.Start()
	defer scheduler.Stop()

	var limiter *app.RedisRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers.
	handlers := api.NewTransferHandlers(
		orchestrator,
		fulfillment,
		flutterwaveClient,
		bridgeClient,
		cfg.FlutterwaveSecretHash,
		cfg.IsDevelopment(),
	)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.TransferRoutes(handlers, api.RouterConfig{
		TwilioAuthToken:   cfg.TwilioAuthToken,
		AppBaseURL:        cfg.AppBaseURL,
		AdminAPIKey:       cfg.AdminAPIKey,
		Limiter:           limiter,
		WebhookRateLimit:  cfg.WebhookRateLimitRequests,
		WebhookRateWindow: time.Duration(cfg.WebhookRateLimitMinutes) * time.Minute,
	}))

	// Start the HTTP server.
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
