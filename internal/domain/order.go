package domain

import (
	"strings"
	"time"
)

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide normalises a user supplied direction.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", ErrInvalidSide
	}
}

// OrderStatus is the lifecycle state of an order row.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is a row of the orders table.
type Order struct {
	ID        string      `gorm:"primaryKey" json:"id"`
	TokenID   string      `gorm:"index" json:"token_id"`
	Amount    float64     `json:"amount"`
	Price     float64     `json:"price"`
	OrderType Side        `json:"order_type"`
	Status    OrderStatus `gorm:"index" json:"status"`
	BuyerID   string      `json:"buyer_id"`
	CreatedAt time.Time   `json:"created_at"`
}

func (Order) TableName() string { return "orders" }

// IsOpen checks if the order is still waiting for settlement.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusPending
}

// Trade is a row of the trade_history table.
type Trade struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	TokenID   string    `gorm:"index:idx_trade_token_created,priority:1" json:"token_id"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	TradeType Side      `json:"trade_type"`
	TraderID  string    `json:"trader_id"`
	CreatedAt time.Time `gorm:"index:idx_trade_token_created,priority:2" json:"created_at"`
}

func (Trade) TableName() string { return "trade_history" }

// TradingPair is the currency a buyer pays with.
type TradingPair string

const (
	PairHBAR TradingPair = "HBAR"
	PairUSDC TradingPair = "USDC"
)
