package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Change feed table names.
const (
	TableOrders        = "orders"
	TableTradeHistory  = "trade_history"
	TableAssetMetadata = "asset_metadata"
)

// InsertEvent is delivered by the change feed after a row is committed.
// Exactly one of the record pointers is set, matching Table.
type InsertEvent struct {
	Table    string
	Order    *Order
	Trade    *Trade
	Metadata *AssetMetadata
}

// InsertHandler receives committed rows from the change feed.
type InsertHandler func(InsertEvent)

// TradeSource reads recent trades for an asset in chronological order.
type TradeSource interface {
	RecentTrades(ctx context.Context, tokenID string, limit int) ([]Trade, error)
}

// TradeStore is the persistence gateway for orders and trades.
type TradeStore interface {
	TradeSource
	InsertOrder(ctx context.Context, order *Order) error
	UpdateOrderStatus(ctx context.Context, id string, status OrderStatus) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	OrdersByToken(ctx context.Context, tokenID string) ([]Order, error)
	InsertTrade(ctx context.Context, trade *Trade) error
	OnInsert(table string, handler InsertHandler)
}

// ExchangeRateProvider defines the interface for currency exchange rate sources
type ExchangeRateProvider interface {
	Start(ctx context.Context) error
	GetRate() decimal.Decimal
}

// MetadataStore links listed tokens to their metadata documents.
type MetadataStore interface {
	SaveMetadataCID(ctx context.Context, meta *AssetMetadata) error
	TokenIDByMetadataCID(ctx context.Context, cid string) (string, error)
	ListAssetMetadata(ctx context.Context) ([]AssetMetadata, error)
}

// Store is the full persistence gateway used at startup.
type Store interface {
	TradeStore
	MetadataStore
}
