package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/auth"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/database"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/engine"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/exchange"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/pkg/middleware"

	"github.com/gin-gonic/gin"
)

var markPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "exchange_mark_price",
	Help: "Last mark price seen on the futures stream, by symbol.",
}, []string{"symbol"})

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	prometheus.MustRegister(markPrice)
}

// main initializes and runs the strategy execution server with graceful
// shutdown support. It wires the exchange gateway, the engine, and the API
// routes.
func main() {
	// Optional .env for local development
	if err := godotenv.Load(); err != nil {
		zlog.Debug().Err(err).Msg("No .env file loaded")
	}

	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Select the exchange gateway. The gated wrapper applies the request
	// budget and retry policy regardless of the backing venue.
	gateway, testnet := newGateway()

	// Initialize the execution engine
	eng, err := engine.New(gateway, db, engine.DefaultConfig())
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize engine")
	}
	go eng.Run(rootCtx)

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(middleware.JWTSecret())
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	engineHandlers := engine.NewGinHandlers(eng)

	// Mark-price streams feed the gauge only; the engine polls REST for the
	// prices it acts on.
	if syms := os.Getenv("MARK_STREAM_SYMBOLS"); syms != "" {
		for _, symbol := range strings.Split(syms, ",") {
			go streamMarkPrice(rootCtx, strings.TrimSpace(symbol), testnet)
		}
	}

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, engineHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop the engine loop and monitor before closing the HTTP surface
	rootCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// newGateway builds the exchange gateway from the environment.
// EXCHANGE=binance talks to Binance futures (testnet unless
// BINANCE_TESTNET=false); anything else runs the in-process mock so the
// server is usable without credentials.
func newGateway() (exchange.Gateway, bool) {
	testnet := os.Getenv("BINANCE_TESTNET") != "false"

	if os.Getenv("EXCHANGE") == "binance" {
		apiKey := os.Getenv("BINANCE_API_KEY")
		secretKey := os.Getenv("BINANCE_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			zlog.Fatal().Msg("EXCHANGE=binance requires BINANCE_API_KEY and BINANCE_SECRET_KEY")
		}
		zlog.Info().Bool("testnet", testnet).Msg("Using Binance futures gateway")
		return exchange.NewGated(exchange.NewBinance(apiKey, secretKey, testnet), exchange.DefaultGatedConfig()), testnet
	}

	zlog.Info().Msg("Using mock exchange gateway")
	mock := exchange.NewMock()
	seedMock(mock)
	return exchange.NewGated(mock, exchange.DefaultGatedConfig()), testnet
}

// seedMock gives the mock venue a couple of liquid symbols so the API is
// usable out of the box.
func seedMock(mock *exchange.Mock) {
	mock.SetFilter(types.SymbolFilter{
		Symbol: "BTCUSDT", TickSize: 0.10, LotSize: 0.001,
		MinQuantity: 0.001, MaxQuantity: 1000, MinNotional: 100,
	})
	mock.SetPrice("BTCUSDT", 60000)

	mock.SetFilter(types.SymbolFilter{
		Symbol: "ETHUSDT", TickSize: 0.01, LotSize: 0.01,
		MinQuantity: 0.01, MaxQuantity: 10000, MinNotional: 20,
	})
	mock.SetPrice("ETHUSDT", 3000)
}

func streamMarkPrice(ctx context.Context, symbol string, testnet bool) {
	ticks := make(chan exchange.PriceTick, 16)
	go exchange.StreamMarkPrice(ctx, symbol, testnet, ticks)
	for tick := range ticks {
		markPrice.WithLabelValues(tick.Symbol).Set(tick.Price)
		zlog.Debug().Str("symbol", tick.Symbol).Float64("price", tick.Price).Msg("Mark price tick")
	}
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Strategy routes: Protected by JWT authentication
// - Internal routes: Operator endpoints, protected by internal auth
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Strategy routes
		strategies := v1.Group("/strategies")
		strategies.Use(middleware.JWTAuth())
		{
			strategies.POST("", engineHandlers.StartStrategyHandler())
			strategies.GET("", engineHandlers.ListStrategiesHandler())
			strategies.GET("/:instance_id", engineHandlers.GetStrategyHandler())
			strategies.DELETE("/:instance_id", engineHandlers.StopStrategyHandler())
		}

		// Primitive order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.POST("", engineHandlers.PlaceOrderHandler())
			orders.GET("/:token", engineHandlers.GetOrderHandler())
		}

		// Market data routes
		price := v1.Group("/price")
		price.Use(middleware.JWTAuth())
		{
			price.GET("/:symbol", engineHandlers.PriceHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.GET("/orders/:instance_id", engineHandlers.InstanceOrdersHandler())
			internal.GET("/audit/:instance_id", engineHandlers.AuditTrailHandler())
		}
	}
}
