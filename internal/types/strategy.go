package types

import "time"

type StrategyKind string

const (
	KindOCO  StrategyKind = "OCO"
	KindTWAP StrategyKind = "TWAP"
	KindGrid StrategyKind = "GRID"
)

// StrategyState is the coarse lifecycle state of a strategy instance.
// Kind-specific states live inside the owning machine; these are the ones
// shared by the engine and surfaced on status.
type StrategyState string

const (
	StateInit                StrategyState = "INIT"
	StateLegsSubmitted       StrategyState = "LEGS_SUBMITTED"
	StateOneFilled           StrategyState = "ONE_FILLED"
	StateBothRejected        StrategyState = "BOTH_REJECTED"
	StateScheduled           StrategyState = "SCHEDULED"
	StateSliceActive         StrategyState = "SLICE_ACTIVE"
	StateGridActive          StrategyState = "GRID_ACTIVE"
	StateStopping            StrategyState = "STOPPING"
	StateTerminal            StrategyState = "TERMINAL"
	StateTerminalWithResidue StrategyState = "TERMINAL_WITH_RESIDUE"
)

// Terminal reports whether the instance has finished, cleanly or not.
func (s StrategyState) Terminal() bool {
	return s == StateTerminal || s == StateTerminalWithResidue
}

type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// MissPolicy decides what happens to the unfilled remainder of a TWAP slice
// whose window expired before it resolved.
type MissPolicy string

const (
	// MissMarketFlush converts the remainder into a market order before the
	// next slice begins. Bounds schedule drift; the default.
	MissMarketFlush MissPolicy = "marketFlush"
	// MissCarryForward defers the remainder to the next slice.
	MissCarryForward MissPolicy = "carryForward"
)

// OCOParams are the immutable parameters of an OCO instance.
// For a LONG position both legs SELL (reduce only); for SHORT both legs BUY.
type OCOParams struct {
	Symbol          string       `json:"symbol" binding:"required"`
	Quantity        float64      `json:"quantity" binding:"required"`
	TakeProfitPrice float64      `json:"take_profit_price" binding:"required"`
	StopLossPrice   float64      `json:"stop_loss_price" binding:"required"`
	PositionSide    PositionSide `json:"position_side"`
}

// TWAPParams are the immutable parameters of a TWAP instance.
// Slices defaults to clamp(Duration/2min, 1, 10) when zero.
type TWAPParams struct {
	Symbol        string        `json:"symbol" binding:"required"`
	Side          Side          `json:"side" binding:"required"`
	TotalQuantity float64       `json:"total_quantity" binding:"required"`
	Duration      time.Duration `json:"duration"`
	Slices        int           `json:"slices,omitempty"`
	PriceLimit    float64       `json:"price_limit,omitempty"`
	OnMiss        MissPolicy    `json:"on_miss,omitempty"`
	Jitter        bool          `json:"jitter,omitempty"`
}

// GridParams are the immutable parameters of a Grid instance.
type GridParams struct {
	Symbol           string  `json:"symbol" binding:"required"`
	LowPrice         float64 `json:"low_price" binding:"required"`
	HighPrice        float64 `json:"high_price" binding:"required"`
	Levels           int     `json:"levels" binding:"required"`
	QuantityPerLevel float64 `json:"quantity_per_level" binding:"required"`
}

// StrategyRequest is the tagged variant handed to the engine: exactly one of
// the parameter payloads must match Kind.
type StrategyRequest struct {
	Kind StrategyKind `json:"kind"`
	OCO  *OCOParams   `json:"oco,omitempty"`
	TWAP *TWAPParams  `json:"twap,omitempty"`
	Grid *GridParams  `json:"grid,omitempty"`
}

// InstanceSnapshot is the user-visible status of a strategy instance.
type InstanceSnapshot struct {
	InstanceID   string        `json:"instance_id"`
	Kind         StrategyKind  `json:"kind"`
	State        StrategyState `json:"state"`
	Symbol       string        `json:"symbol"`
	FilledTotal  float64       `json:"filled_total"`
	AvgFillPrice float64       `json:"avg_fill_price,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Orders       []OrderRecord `json:"orders,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
