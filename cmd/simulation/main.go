package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/auth"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/database"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/engine"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/exchange"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

const (
	minStrategies = 6
	maxStrategies = 24
	numWorkers    = 5
	serverAddress = "http://localhost:8080"

	// Grid instances run until stopped; the driver stops them after this
	gridRunTime = 4 * time.Second
)

var kinds = []types.StrategyKind{types.KindOCO, types.KindTWAP, types.KindGrid}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the strategy API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	mu        sync.Mutex
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":   {name: "Authentication"},
			"start":  {name: "Start Strategy"},
			"status": {name: "Get Status"},
			"stop":   {name: "Stop Strategy"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs := sc.stats[route]
	rs.addDuration(time.Since(start))
	if failed {
		rs.failures++
	}
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("auth", start, failed) }()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		failed = true
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		failed = true
		return "", err
	}

	return result.Data.Token, nil
}

// startStrategy submits a new strategy to the API
// Returns the instance ID on success
func (sc *simulationClient) startStrategy(payload map[string]interface{}) (string, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("start", start, failed) }()

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/strategies", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Start strategy response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return "", fmt.Errorf("start strategy failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			InstanceID string `json:"instance_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		failed = true
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.InstanceID == "" {
		failed = true
		return "", fmt.Errorf("no instance ID in response: %s", string(respBody))
	}

	return result.Data.InstanceID, nil
}

// getStatus retrieves the current snapshot of a strategy instance
func (sc *simulationClient) getStatus(instanceID string) (*types.InstanceSnapshot, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("status", start, failed) }()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/strategies/%s", sc.baseURL, instanceID),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		failed = true
		return nil, fmt.Errorf("get status failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                   `json:"success"`
		Data    types.InstanceSnapshot `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		failed = true
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// stopStrategy asks the engine to wind an instance down
func (sc *simulationClient) stopStrategy(instanceID string) error {
	start := time.Now()
	failed := false
	defer func() { sc.record("stop", start, failed) }()

	req, err := http.NewRequest(
		"DELETE",
		fmt.Sprintf("%s/api/v1/strategies/%s", sc.baseURL, instanceID),
		nil,
	)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stop strategy failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the strategy simulation
// It starts a local API server against the mock exchange, launches random
// strategies from concurrent workers, walks the mark price, and waits for
// every instance to reach a terminal state
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := exchange.NewMock()
	seedMock(mock)

	// Start the server in a goroutine
	go func() {
		if err := startServer(ctx, mock); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Random-walk the mark prices so limit orders actually cross
	go walkPrices(ctx, mock)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of strategies to run
	targetStrategies := rand.Intn(maxStrategies-minStrategies) + minStrategies
	log.Info().Int("target_strategies", targetStrategies).Msg("Starting simulation")

	instancesChan := make(chan string, targetStrategies)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			launchStrategies(workerID, targetStrategies/numWorkers, simClient, instancesChan)
		}(i)
	}

	wg.Wait()
	close(instancesChan)

	var instanceIDs []string
	for id := range instancesChan {
		instanceIDs = append(instanceIDs, id)
	}

	log.Info().Int("instances_started", len(instanceIDs)).Msg("All strategies launched")

	stats := struct {
		TotalInstances int
		Completed      int
		WithResidue    int
		TimedOut       int
		FilledTotal    float64
		StartTime      time.Time
		Kinds          map[string]int
		States         map[string]int
	}{
		StartTime: time.Now(),
		Kinds:     make(map[string]int),
		States:    make(map[string]int),
	}
	stats.TotalInstances = len(instanceIDs)

	// Grids run until stopped; OCOs whose take profit the walk never reached
	// wind down the same way
	time.AfterFunc(gridRunTime, func() {
		for _, id := range instanceIDs {
			if strings.HasPrefix(id, "grid_") || strings.HasPrefix(id, "oco_") {
				if err := simClient.stopStrategy(id); err != nil {
					log.Debug().Err(err).Str("instance_id", id).Msg("Stop skipped")
				}
			}
		}
	})

	// Poll every instance to its terminal state
	deadline := time.Now().Add(60 * time.Second)
	for _, id := range instanceIDs {
		snapshot := waitForTerminal(simClient, id, deadline)
		if snapshot == nil {
			stats.TimedOut++
			continue
		}

		stats.Kinds[string(snapshot.Kind)]++
		stats.States[string(snapshot.State)]++
		stats.FilledTotal += snapshot.FilledTotal
		switch snapshot.State {
		case types.StateTerminal:
			stats.Completed++
		case types.StateTerminalWithResidue:
			stats.WithResidue++
			log.Warn().
				Str("instance_id", id).
				Strs("warnings", snapshot.Warnings).
				Msg("Instance finished with residue")
		}

		log.Info().
			Str("instance_id", id).
			Str("kind", string(snapshot.Kind)).
			Str("state", string(snapshot.State)).
			Float64("filled_total", snapshot.FilledTotal).
			Float64("avg_fill_price", snapshot.AvgFillPrice).
			Msg("Instance finished")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("STRATEGY SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Instance Statistics
-------------------
Total Instances:  %d
Completed Clean:  %d
With Residue:     %d
Timed Out:        %d
Filled Quantity:  %.4f
Duration:         %v

Kind Distribution
-----------------
`, stats.TotalInstances, stats.Completed, stats.WithResidue, stats.TimedOut,
		stats.FilledTotal, duration.Round(time.Millisecond))

	// Print kind distribution with simple ASCII bar chart
	maxKindCount := 0
	for _, count := range stats.Kinds {
		if count > maxKindCount {
			maxKindCount = count
		}
	}

	for kind, count := range stats.Kinds {
		barLength := int(float64(count) / float64(maxKindCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-6s: %s (%d)\n", kind, bar, count)
	}

	fmt.Println("\nTerminal State Distribution")
	fmt.Println("---------------------------")
	for state, count := range stats.States {
		fmt.Printf("%-22s: %d\n", state, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := float64(stats.Completed) / float64(stats.TotalInstances) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("total_instances", stats.TotalInstances).
		Int("completed", stats.Completed).
		Float64("filled_total", stats.FilledTotal).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// waitForTerminal polls one instance until it reaches a terminal state or the
// shared deadline passes
func waitForTerminal(simClient *simulationClient, instanceID string, deadline time.Time) *types.InstanceSnapshot {
	for time.Now().Before(deadline) {
		snapshot, err := simClient.getStatus(instanceID)
		if err != nil {
			log.Error().Err(err).Str("instance_id", instanceID).Msg("Failed to get status")
			return nil
		}
		if snapshot.State.Terminal() {
			return snapshot
		}
		time.Sleep(250 * time.Millisecond)
	}

	log.Error().Str("instance_id", instanceID).Msg("Instance did not reach a terminal state in time")
	return nil
}

// launchStrategies generates and submits random strategies to the API
// Runs as a worker goroutine, sending started instance IDs to instancesChan
func launchStrategies(workerID, count int, simClient *simulationClient, instancesChan chan<- string) {
	for i := 0; i < count; i++ {
		kind := kinds[rand.Intn(len(kinds))]
		payload := randomPayload(kind)

		instanceID, err := simClient.startStrategy(payload)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("kind", string(kind)).
				Msg("Failed to start strategy")
			continue
		}

		instancesChan <- instanceID
		log.Info().
			Int("worker_id", workerID).
			Str("instance_id", instanceID).
			Str("kind", string(kind)).
			Msg("Strategy started")

		// Random sleep between launches
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// randomPayload builds a plausible request for the given strategy kind
// against the seeded BTCUSDT mock market
func randomPayload(kind types.StrategyKind) map[string]interface{} {
	switch kind {
	case types.KindOCO:
		side := "LONG"
		if rand.Intn(2) == 0 {
			side = "SHORT"
		}
		oco := map[string]interface{}{
			"symbol":        "BTCUSDT",
			"quantity":      0.01 + rand.Float64()*0.05,
			"position_side": side,
		}
		// Take profits sit inside the walk band so some trigger; stops sit
		// outside it so the walk never fires them
		if side == "LONG" {
			oco["take_profit_price"] = 60500 + rand.Float64()*200
			oco["stop_loss_price"] = 58600 + rand.Float64()*500
		} else {
			oco["take_profit_price"] = 59300 + rand.Float64()*200
			oco["stop_loss_price"] = 60900 + rand.Float64()*500
		}
		return map[string]interface{}{"kind": "OCO", "oco": oco}

	case types.KindTWAP:
		side := "BUY"
		if rand.Intn(2) == 0 {
			side = "SELL"
		}
		return map[string]interface{}{
			"kind": "TWAP",
			"twap": map[string]interface{}{
				"symbol":         "BTCUSDT",
				"side":           side,
				"total_quantity": 0.05 + rand.Float64()*0.2,
				"duration":       "3s",
				"slices":         2 + rand.Intn(3),
				"jitter":         true,
			},
		}

	default:
		return map[string]interface{}{
			"kind": "GRID",
			"grid": map[string]interface{}{
				"symbol":             "BTCUSDT",
				"low_price":          59000,
				"high_price":         61000,
				"levels":             4 + rand.Intn(3),
				"quantity_per_level": 0.01,
			},
		}
	}
}

// walkPrices random-walks the BTCUSDT mark so resting orders cross
func walkPrices(ctx context.Context, mock *exchange.Mock) {
	price := 60000.0
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Clamp strictly inside the grid range so launches keep validating
			price += (rand.Float64() - 0.5) * 400
			if price < 59200 {
				price = 59200
			}
			if price > 60800 {
				price = 60800
			}
			mock.SetPrice("BTCUSDT", price)
		}
	}
}

func seedMock(mock *exchange.Mock) {
	mock.SetFilter(types.SymbolFilter{
		Symbol: "BTCUSDT", TickSize: 0.10, LotSize: 0.001,
		MinQuantity: 0.001, MaxQuantity: 1000, MinNotional: 5,
	})
	mock.SetPrice("BTCUSDT", 60000)
}

// startServer initializes and starts the strategy API server against the
// given mock gateway
func startServer(ctx context.Context, mock *exchange.Mock) error {
	// Keep the simulation's ledger out of any real database file
	if os.Getenv("DB_PATH") == "" {
		os.Setenv("DB_PATH", "file::memory:?cache=shared")
	}

	db, err := database.NewDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	cfg := engine.DefaultConfig()
	cfg.MonitorInterval = 200 * time.Millisecond
	eng, err := engine.New(mock, db, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	go eng.Run(ctx)

	// Initialize services
	authService := auth.NewService("simulation-secret")
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Initialize router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	engineHandlers := engine.NewGinHandlers(eng)

	// Setup routes
	setupRoutes(router, authHandlers, engineHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// The simulation skips the auth middleware so stats reflect handler cost only
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Strategy routes
		strategies := v1.Group("/strategies")
		{
			strategies.POST("", engineHandlers.StartStrategyHandler())
			strategies.GET("", engineHandlers.ListStrategiesHandler())
			strategies.GET("/:instance_id", engineHandlers.GetStrategyHandler())
			strategies.DELETE("/:instance_id", engineHandlers.StopStrategyHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		{
			internal.GET("/orders/:instance_id", engineHandlers.InstanceOrdersHandler())
			internal.GET("/audit/:instance_id", engineHandlers.AuditTrailHandler())
		}
	}
}
