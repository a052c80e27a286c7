package exchange

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

// Binance adapts the USDT-M futures REST API to the Gateway contract.
// Symbol filters are fetched once and cached; they are immutable for the
// lifetime of a trading session.
type Binance struct {
	client *futures.Client

	mu      sync.Mutex
	filters map[string]types.SymbolFilter
}

func NewBinance(apiKey, secretKey string, testnet bool) *Binance {
	futures.UseTestnet = testnet
	return &Binance{
		client:  futures.NewClient(apiKey, secretKey),
		filters: make(map[string]types.SymbolFilter),
	}
}

func (b *Binance) PlaceOrder(ctx context.Context, intent types.OrderIntent) (Ack, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(futures.SideType(intent.Side)).
		Quantity(formatFloat(intent.Quantity)).
		NewClientOrderID(intent.Token)

	switch intent.Type {
	case types.OrderTypeMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	case types.OrderTypeLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatFloat(intent.Price))
	case types.OrderTypeStopLimit:
		svc = svc.Type(futures.OrderTypeStop).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatFloat(intent.Price)).
			StopPrice(formatFloat(intent.StopPrice))
	}
	if intent.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return Ack{}, mapAPIError(err)
	}

	return Ack{
		ExchangeID:     resp.OrderID,
		Status:         types.OrderStatus(resp.Status),
		FilledQuantity: parseFloat(resp.ExecutedQuantity),
		AvgFillPrice:   parseFloat(resp.AvgPrice),
		UpdateTime:     resp.UpdateTime,
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol string, exchangeID int64) error {
	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(exchangeID).
		Do(ctx)
	if err != nil {
		return mapAPIError(err)
	}
	return nil
}

func (b *Binance) GetOrderStatus(ctx context.Context, symbol string, exchangeID int64) (types.OrderEvent, error) {
	order, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(exchangeID).
		Do(ctx)
	if err != nil {
		return types.OrderEvent{}, mapAPIError(err)
	}
	return orderToEvent(order), nil
}

func (b *Binance) GetOrderByToken(ctx context.Context, symbol, token string) (types.OrderEvent, error) {
	order, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(token).
		Do(ctx)
	if err != nil {
		return types.OrderEvent{}, mapAPIError(err)
	}
	return orderToEvent(order), nil
}

func (b *Binance) GetSymbolFilter(ctx context.Context, symbol string) (types.SymbolFilter, error) {
	b.mu.Lock()
	if filter, ok := b.filters[symbol]; ok {
		b.mu.Unlock()
		return filter, nil
	}
	b.mu.Unlock()

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return types.SymbolFilter{}, mapAPIError(err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filter := types.SymbolFilter{Symbol: symbol}
		if pf := s.PriceFilter(); pf != nil {
			filter.TickSize = parseFloat(pf.TickSize)
		}
		if lf := s.LotSizeFilter(); lf != nil {
			filter.LotSize = parseFloat(lf.StepSize)
			filter.MinQuantity = parseFloat(lf.MinQuantity)
			filter.MaxQuantity = parseFloat(lf.MaxQuantity)
		}
		if nf := s.MinNotionalFilter(); nf != nil {
			filter.MinNotional = parseFloat(nf.Notional)
		}

		b.mu.Lock()
		b.filters[symbol] = filter
		b.mu.Unlock()
		return filter, nil
	}

	return types.SymbolFilter{}, &types.ExchangeRejection{
		Code:    types.RejectOrderNotFound,
		Message: "symbol not listed: " + symbol,
	}
}

func (b *Binance) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	premiums, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, mapAPIError(err)
	}
	if len(premiums) == 0 {
		return 0, errors.New("empty premium index response for " + symbol)
	}
	return parseFloat(premiums[0].MarkPrice), nil
}

func orderToEvent(order *futures.Order) types.OrderEvent {
	return types.OrderEvent{
		ExchangeID:     order.OrderID,
		Token:          order.ClientOrderID,
		Symbol:         order.Symbol,
		Status:         types.OrderStatus(order.Status),
		FilledQuantity: parseFloat(order.ExecutedQuantity),
		AvgFillPrice:   parseFloat(order.AvgPrice),
		UpdateTime:     order.UpdateTime,
	}
}

// mapAPIError translates Binance error codes into the gateway error contract.
func mapAPIError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case -1003, -1015: // too many requests / too many orders
		return &types.ExchangeRejection{Code: types.RejectRateLimit, Message: apiErr.Message, Transient: true}
	case -2018, -2019: // balance / margin insufficient
		return &types.ExchangeRejection{Code: types.RejectInsufficientBalance, Message: apiErr.Message}
	case -1013, -1111, -4014: // filter failure / bad precision / bad tick
		return &types.ExchangeRejection{Code: types.RejectInvalidPrecision, Message: apiErr.Message}
	case -4164: // notional below minimum
		return &types.ExchangeRejection{Code: types.RejectBelowMinNotional, Message: apiErr.Message}
	case -2011, -2013: // cancel rejected / order does not exist
		return &types.ExchangeRejection{Code: types.RejectOrderNotFound, Message: apiErr.Message}
	}
	return &types.ExchangeRejection{Code: strconv.FormatInt(apiErr.Code, 10), Message: apiErr.Message}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
