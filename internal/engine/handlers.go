package engine

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/pkg/response"
)

// GinHandlers contains HTTP handlers for the strategy endpoints
type GinHandlers struct {
	engine *Engine
}

func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{engine: engine}
}

// startRequest is the wire form of a strategy start. Duration is accepted as
// a Go duration string ("5m") so clients never deal in nanoseconds.
type startRequest struct {
	Kind types.StrategyKind `json:"kind" binding:"required"`
	OCO  *types.OCOParams   `json:"oco,omitempty"`
	TWAP *twapRequest       `json:"twap,omitempty"`
	Grid *types.GridParams  `json:"grid,omitempty"`
}

type twapRequest struct {
	Symbol        string           `json:"symbol" binding:"required"`
	Side          types.Side       `json:"side" binding:"required"`
	TotalQuantity float64          `json:"total_quantity" binding:"required"`
	Duration      string           `json:"duration" binding:"required"`
	Slices        int              `json:"slices,omitempty"`
	PriceLimit    float64          `json:"price_limit,omitempty"`
	OnMiss        types.MissPolicy `json:"on_miss,omitempty"`
	Jitter        bool             `json:"jitter,omitempty"`
}

// StartStrategyHandler handles POST requests to launch a strategy instance
// Requires a valid JWT token
// Request body is the strategy kind plus its matching parameter block
func (h *GinHandlers) StartStrategyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		strategyReq := types.StrategyRequest{
			Kind: req.Kind,
			OCO:  req.OCO,
			Grid: req.Grid,
		}
		if req.TWAP != nil {
			duration, err := time.ParseDuration(req.TWAP.Duration)
			if err != nil {
				response.BadRequest(c, "invalid twap duration: "+err.Error())
				return
			}
			strategyReq.TWAP = &types.TWAPParams{
				Symbol:        req.TWAP.Symbol,
				Side:          req.TWAP.Side,
				TotalQuantity: req.TWAP.TotalQuantity,
				Duration:      duration,
				Slices:        req.TWAP.Slices,
				PriceLimit:    req.TWAP.PriceLimit,
				OnMiss:        req.TWAP.OnMiss,
				Jitter:        req.TWAP.Jitter,
			}
		}

		instanceID, err := h.engine.Start(c.Request.Context(), strategyReq)
		if err != nil {
			var verr *types.ValidationError
			if errors.As(err, &verr) || errors.Is(err, types.ErrBelowMinNotional) {
				response.BadRequest(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{"instance_id": instanceID})
	}
}

// GetStrategyHandler handles GET requests for one instance's status
// URL parameter: instance_id
func (h *GinHandlers) GetStrategyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instanceID := c.Param("instance_id")
		if instanceID == "" {
			response.BadRequest(c, "Instance ID is required")
			return
		}

		snapshot, err := h.engine.Status(instanceID)
		if err != nil {
			response.NotFound(c, "Strategy instance not found")
			return
		}

		response.Success(c, snapshot)
	}
}

// ListStrategiesHandler handles GET requests for all tracked instances
func (h *GinHandlers) ListStrategiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.List())
	}
}

// StopStrategyHandler handles DELETE requests to stop an instance
// Cancellation of resting orders happens asynchronously; poll the status
// endpoint for the terminal state
// URL parameter: instance_id
func (h *GinHandlers) StopStrategyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instanceID := c.Param("instance_id")
		if instanceID == "" {
			response.BadRequest(c, "Instance ID is required")
			return
		}

		if err := h.engine.Stop(instanceID); err != nil {
			response.NotFound(c, "Strategy instance not found")
			return
		}

		response.Success(c, gin.H{"instance_id": instanceID, "stopping": true})
	}
}

// orderRequest is the wire form of a single primitive order. Token is the
// optional client idempotency token; one is generated when absent.
type orderRequest struct {
	Token      string          `json:"token,omitempty"`
	Symbol     string          `json:"symbol" binding:"required"`
	Side       types.Side      `json:"side" binding:"required"`
	Type       types.OrderType `json:"order_type" binding:"required"`
	Quantity   float64         `json:"quantity" binding:"required"`
	Price      float64         `json:"price,omitempty"`
	StopPrice  float64         `json:"stop_price,omitempty"`
	ReduceOnly bool            `json:"reduce_only,omitempty"`
}

// PlaceOrderHandler handles POST requests for single primitive orders placed
// outside any strategy. Stop-limit plausibility issues (a buy stop below the
// market, a sell stop above it) come back as warnings, not errors.
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req orderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		record, err := h.engine.PlaceDirect(c.Request.Context(), types.OrderIntent{
			Token:      req.Token,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Type:       req.Type,
			Quantity:   req.Quantity,
			Price:      req.Price,
			StopPrice:  req.StopPrice,
			ReduceOnly: req.ReduceOnly,
		})
		if err != nil {
			var verr *types.ValidationError
			if errors.As(err, &verr) || errors.Is(err, types.ErrBelowMinNotional) {
				response.BadRequest(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{
			"order":    record,
			"warnings": h.stopWarnings(c, req),
		})
	}
}

// stopWarnings flags stop triggers on the already-crossed side of the market
func (h *GinHandlers) stopWarnings(c *gin.Context, req orderRequest) []string {
	if req.Type != types.OrderTypeStopLimit {
		return nil
	}
	mark, err := h.engine.MarkPrice(c.Request.Context(), req.Symbol)
	if err != nil {
		return nil
	}

	var warnings []string
	if req.Side == types.SideBuy && req.StopPrice < mark {
		warnings = append(warnings, "buy stop below current price triggers immediately")
	}
	if req.Side == types.SideSell && req.StopPrice > mark {
		warnings = append(warnings, "sell stop above current price triggers immediately")
	}
	return warnings
}

// GetOrderHandler handles GET requests for one primitive order by token
// URL parameter: token
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Param("token")
		if token == "" {
			response.BadRequest(c, "Order token is required")
			return
		}

		record, ok := h.engine.Ledger().Get(token)
		if !ok {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, record)
	}
}

// PriceHandler handles GET requests for a symbol's current mark price
// URL parameter: symbol
func (h *GinHandlers) PriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if symbol == "" {
			response.BadRequest(c, "Symbol is required")
			return
		}

		price, err := h.engine.MarkPrice(c.Request.Context(), symbol)
		if err != nil {
			response.NotFound(c, "Unknown symbol")
			return
		}

		response.Success(c, gin.H{"symbol": symbol, "mark_price": price})
	}
}

// InstanceOrdersHandler handles GET requests for the raw order records behind
// an instance. Operator endpoint; sits behind internal auth.
// URL parameter: instance_id
func (h *GinHandlers) InstanceOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instanceID := c.Param("instance_id")
		if instanceID == "" {
			response.BadRequest(c, "Instance ID is required")
			return
		}

		records := h.engine.Ledger().OrdersForInstance(instanceID)
		if len(records) == 0 {
			response.NotFound(c, "No orders for instance")
			return
		}

		response.Success(c, records)
	}
}

// AuditTrailHandler handles GET requests for an instance's transition log.
// Operator endpoint; sits behind internal auth.
// URL parameter: instance_id
func (h *GinHandlers) AuditTrailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instanceID := c.Param("instance_id")
		if instanceID == "" {
			response.BadRequest(c, "Instance ID is required")
			return
		}

		trail, err := h.engine.Audit().Trail(instanceID)
		response.Handle(c, trail, err)
	}
}
