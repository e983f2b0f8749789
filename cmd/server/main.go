package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/klear-fx/internal/auth"
	"github.com/ksred/klear-fx/internal/clients"
	"github.com/ksred/klear-fx/internal/config"
	"github.com/ksred/klear-fx/internal/database"
	"github.com/ksred/klear-fx/internal/feed"
	"github.com/ksred/klear-fx/internal/hedging"
	"github.com/ksred/klear-fx/internal/msg"
	"github.com/ksred/klear-fx/internal/pricing"
	"github.com/ksred/klear-fx/internal/quotes"
	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/trading"
	"github.com/ksred/klear-fx/pkg/middleware"
)

// init configures the application logging based on environment settings.
// In development mode it enables pretty printing with timestamps.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

type handlers struct {
	auth    *auth.GinHandlers
	clients *clients.GinHandlers
	quotes  *quotes.GinHandlers
	feed    *feed.GinHandlers
	trading *trading.GinHandlers
	// nil unless the Kafka listener is configured
	kafka runningChecker
}

type runningChecker interface {
	IsRunning() bool
}

// main wires the pricing and trading services, starts the background
// consumers and serves the API until interrupted
func main() {
	cfg, err := config.Load(os.Getenv("KLEAR_CONFIG"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && os.Getenv("DEBUG") != "true" {
		zerolog.SetGlobalLevel(level)
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}
	store := runtime.NewStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pricing side
	clientView := clients.NewView(db)
	priceService := pricing.NewService(store, clientView)
	clientService := clients.NewService(store, priceService, clients.StubCreditCheck{}, workflowSettings(cfg.ClientWorkflow))
	quoteStore := quotes.NewStore(store)
	broadcast := quotes.NewBroadcast(store, runtime.Backoff{
		Min:    cfg.Broadcast.MinBackoff,
		Max:    cfg.Broadcast.MaxBackoff,
		Factor: cfg.Broadcast.Factor,
	}, cfg.PollInterval)
	feedManager := pricing.NewFeedManager(feed.StubFxRateService{})
	processor := feed.NewProcessor(priceService)

	// Trading side
	var pricingClient trading.PricingClient = trading.NewLocalPricingClient(quoteStore)
	if cfg.PricingBaseURL != "" {
		pricingClient = trading.NewHTTPPricingClient(cfg.PricingBaseURL, cfg.TradeWorkflow.StepTimeout)
	}

	var producer *msg.Producer
	if cfg.Kafka.Enabled() {
		producer, err = msg.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to create kafka producer")
		}
		defer producer.Close()
	}

	var hedger hedging.Hedger
	switch cfg.Hedger {
	case config.HedgerSimulated:
		simulated := hedging.NewSimulatedHedger(hedging.DefaultVenues)
		defer simulated.Close()
		hedger = simulated
	case config.HedgerKafka:
		hedger = hedging.NewKafkaHedger(producer, cfg.Kafka.HedgeTopic)
	default:
		hedger = hedging.StubHedger{}
	}

	tradeService := trading.NewService(store, pricingClient, hedger, workflowSettings(cfg.TradeWorkflow))
	tradesView := trading.NewTradesByClient(db)

	// Background consumers of the journal
	for _, c := range []*runtime.Consumer{
		clientView.Consumer(store, cfg.PollInterval),
		feedManager.Consumer(store, cfg.PollInterval),
		quoteStore.Consumer(store, cfg.PollInterval),
		tradesView.Consumer(store, cfg.PollInterval),
	} {
		go c.Start(ctx)
	}
	go broadcast.Start(ctx)

	var kafkaListener runningChecker
	if cfg.Kafka.Enabled() {
		listener := feed.NewListener(processor, clientService, cfg.Kafka.FxRateTopic, cfg.Kafka.CreditTopic)
		consumer, err := msg.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, cfg.Kafka.Group, listener.Topics())
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to create kafka consumer")
		}
		defer consumer.Close()
		kafkaListener = consumer
		go func() {
			if err := consumer.Run(ctx, listener.Handle); err != nil && ctx.Err() == nil {
				zlog.Error().Err(err).Msg("kafka consumer stopped")
			}
		}()
	}

	if err := clientService.Recover(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to recover client workflows")
	}
	if err := tradeService.Recover(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to recover trade bookings")
	}

	authService := auth.NewService(cfg.Auth.Secret)
	authService.RegisterAPICredentials(cfg.Auth.APIKey, cfg.Auth.APISecret,
		auth.PermissionQuote, auth.PermissionTrade, auth.PermissionSimulate)

	router := gin.Default()
	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.Auth.Enabled, authService, handlers{
		auth:    auth.NewGinHandlers(authService),
		clients: clients.NewGinHandlers(clientService),
		quotes:  quotes.NewGinHandlers(quoteStore, broadcast),
		feed:    feed.NewGinHandlers(processor),
		trading: trading.NewGinHandlers(tradeService, tradesView),
		kafka:   kafkaListener,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Str("hedger", cfg.Hedger).Bool("kafka", cfg.Kafka.Enabled()).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Interrupted workflows keep their pending step and resume on the next start
	cancel()
	clientService.Close()
	tradeService.Close()
	priceService.Close()

	zlog.Info().Msg("Server exiting")
}

func workflowSettings(c config.WorkflowConfig) runtime.WorkflowSettings {
	return runtime.WorkflowSettings{
		StepTimeout: c.StepTimeout,
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
	}
}

// setupRoutes registers the API. With auth enabled, client routes need a
// token for that client and the simulate routes need the simulate permission.
func setupRoutes(router *gin.Engine, authEnabled bool, authService *auth.Service, h handlers) {
	guard := func(extra ...gin.HandlerFunc) []gin.HandlerFunc {
		if !authEnabled {
			return nil
		}
		return append([]gin.HandlerFunc{middleware.JWTAuth(authService)}, extra...)
	}

	router.GET("/healthz", healthHandler(h.kafka))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/auth/token", h.auth.GenerateTokenHandler())

	simulate := router.Group("/clients/simulate", guard(middleware.RequirePermission(auth.PermissionSimulate))...)
	{
		simulate.POST("/rate-update", h.feed.RateUpdateHandler())
		simulate.POST("/credit-update", h.clients.CreditUpdateHandler())
	}

	clientRoutes := router.Group("/clients/:clientId", guard(middleware.ClientScope(), middleware.RequirePermission(auth.PermissionQuote))...)
	{
		clientRoutes.POST("/subscribe/:ccyPair", h.clients.SubscribeHandler())
		clientRoutes.POST("/unsubscribe/:ccyPair", h.clients.UnsubscribeHandler())
		clientRoutes.GET("/state", h.clients.GetStateHandler())
		clientRoutes.GET("/price-rate/:priceRateId/quota", h.quotes.GetQuoteHandler())
		clientRoutes.GET("/quotas", h.quotes.StreamHandler())
	}

	trades := router.Group("/trades", guard(middleware.RequirePermission(auth.PermissionTrade))...)
	{
		trades.POST("/accept", h.trading.AcceptQuoteHandler())
		trades.GET("/by-client/:clientId", middlewareOrNone(authEnabled, middleware.ClientScope()), h.trading.ClientTradesHandler())
		trades.GET("/by-client/:clientId/updates", middlewareOrNone(authEnabled, middleware.ClientScope()), h.trading.ClientUpdatesHandler())
		trades.GET("/:tradeId", h.trading.GetTradeHandler())
		trades.GET("/:tradeId/notifications", h.trading.NotificationsHandler())
	}
}

// middlewareOrNone returns m when auth is enabled and a pass-through otherwise
func middlewareOrNone(authEnabled bool, m gin.HandlerFunc) gin.HandlerFunc {
	if authEnabled {
		return m
	}
	return func(c *gin.Context) { c.Next() }
}

// healthHandler reports 503 while a configured Kafka listener is not consuming
func healthHandler(kafka runningChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if kafka != nil && !kafka.IsRunning() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "kafka": "stopped"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
