package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	futuresStreamHost        = "wss://fstream.binance.com/ws"
	futuresTestnetStreamHost = "wss://stream.binancefuture.com/ws"
)

// PriceTick is one mark-price update from the futures stream.
type PriceTick struct {
	Symbol string
	Price  float64
	Time   int64
}

type markPriceMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// StreamMarkPrice subscribes to the symbol's mark-price websocket stream and
// sends ticks on out until ctx is canceled. The connection is re-dialed with
// backoff on read failure; the caller only sees a closed channel when the
// context ends.
func StreamMarkPrice(ctx context.Context, symbol string, testnet bool, out chan<- PriceTick) {
	host := futuresStreamHost
	if testnet {
		host = futuresTestnetStreamHost
	}
	url := fmt.Sprintf("%s/%s@markPrice@1s", host, strings.ToLower(symbol))
	logger := log.With().Str("component", "price_stream").Str("symbol", symbol).Logger()

	defer close(out)

	attempt := 0
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			attempt++
			logger.Warn().Err(err).Int("attempt", attempt).Msg("stream dial failed, backing off")
			if !sleepCtx(ctx, dialBackoff(attempt)) {
				return
			}
			continue
		}
		attempt = 0
		logger.Info().Msg("mark price stream connected")

		readLoop(ctx, conn, out, logger)
		_ = conn.Close()
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, out chan<- PriceTick, logger zerolog.Logger) {
	// The deadline bounds a stalled connection; Binance pushes every second.
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			logger.Warn().Err(err).Msg("stream read failed, reconnecting")
			return
		}

		var msg markPriceMsg
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Event != "markPriceUpdate" {
			continue
		}
		price, err := strconv.ParseFloat(msg.MarkPrice, 64)
		if err != nil {
			continue
		}

		select {
		case out <- PriceTick{Symbol: msg.Symbol, Price: price, Time: msg.EventTime}:
		case <-ctx.Done():
			return
		}
	}
}

func dialBackoff(attempt int) time.Duration {
	d := time.Second * time.Duration(1<<min(attempt, 5))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
