package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"realty_go/internal/domain"
	"realty_go/internal/infra"
	"realty_go/internal/market"

	"github.com/shopspring/decimal"
)

// OrderRequest is a market order submitted by a connected wallet.
// Amount is in whole tokens and Price is the USD price per token.
type OrderRequest struct {
	TokenID string
	Wallet  domain.Wallet
	Side    domain.Side
	Amount  float64
	Price   float64
	Pair    domain.TradingPair
}

// OrderResult describes a settled order.
type OrderResult struct {
	Order    domain.Order    `json:"order"`
	Status   string          `json:"status"`
	Payment  decimal.Decimal `json:"payment"`
	NewPrice float64         `json:"new_price"`
}

// OrderService places orders: validation, association check, ledger settlement,
// persistence and price impact.
type OrderService struct {
	store   domain.TradeStore
	ledger  domain.Ledger
	assoc   *TokenAssociationManager
	hub     *PriceHub
	rates   domain.ExchangeRateProvider
	logger  *slog.Logger
	metrics *infra.Metrics
}

// NewOrderService wires the order flow.
func NewOrderService(store domain.TradeStore, ledger domain.Ledger, assoc *TokenAssociationManager, hub *PriceHub, rates domain.ExchangeRateProvider, logger *slog.Logger, metrics *infra.Metrics) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &OrderService{
		store:   store,
		ledger:  ledger,
		assoc:   assoc,
		hub:     hub,
		rates:   rates,
		logger:  logger,
		metrics: metrics,
	}
}

// validate rejects malformed requests before any network call.
func (r OrderRequest) validate() error {
	if !domain.IsAccountID(r.TokenID) {
		return domain.NewValidationError("token_id", "expected shard.realm.num, got %q", r.TokenID)
	}
	if r.Side != domain.SideBuy && r.Side != domain.SideSell {
		return domain.NewValidationError("side", "%w: %q", domain.ErrInvalidSide, r.Side)
	}
	if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) || r.Amount <= 0 {
		return domain.NewValidationError("amount", "must be positive")
	}
	if r.Amount != math.Trunc(r.Amount) {
		return domain.NewValidationError("amount", "must be a whole number of tokens")
	}
	if math.IsNaN(r.Price) || math.IsInf(r.Price, 0) || r.Price <= 0 {
		return domain.NewValidationError("price", "must be positive")
	}
	switch r.Pair {
	case domain.PairHBAR, domain.PairUSDC:
	default:
		return domain.NewValidationError("trading_pair", "unsupported pair %q", r.Pair)
	}
	return nil
}

// payment converts the USD notional into the units of the trading pair.
func (s *OrderService) payment(r OrderRequest) (decimal.Decimal, error) {
	usd := decimal.NewFromFloat(r.Amount).Mul(decimal.NewFromFloat(r.Price))
	if r.Pair == domain.PairUSDC {
		return usd.Round(6), nil
	}
	if s.rates == nil {
		return decimal.Zero, infra.ErrRateUnavailable
	}
	return infra.UsdToHbar(s.rates, usd)
}

// PlaceOrder settles an order against the treasury and records it.
func (s *OrderService) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Wallet == nil {
		return nil, domain.ErrWalletNotConnected
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	hw, ok := req.Wallet.(domain.HederaWallet)
	if !ok {
		return nil, fmt.Errorf("place order with %s wallet: %w", req.Wallet.Kind(), domain.ErrUnsupportedWallet)
	}
	if !hw.CanSign() {
		return nil, domain.NewValidationError("private_key", "wallet %s has no signing key", hw.AccountID)
	}

	associated, err := s.assoc.IsTokenAssociated(ctx, hw, req.TokenID)
	if err != nil {
		return nil, err
	}
	if !associated {
		return nil, fmt.Errorf("%s on %s: %w", req.TokenID, hw.AccountID, domain.ErrTokenNotAssociated)
	}

	pay, err := s.payment(req)
	if err != nil {
		return nil, fmt.Errorf("failed to price order: %w", err)
	}

	order := domain.Order{
		TokenID:   req.TokenID,
		Amount:    req.Amount,
		Price:     req.Price,
		OrderType: req.Side,
		Status:    domain.OrderStatusPending,
		BuyerID:   hw.AccountID,
	}
	if err := s.store.InsertOrder(ctx, &order); err != nil {
		s.metrics.RecordError()
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	transfer := domain.TokenTransfer{
		TokenID: req.TokenID,
		Wallet:  hw,
		Amount:  int64(req.Amount),
		Pair:    req.Pair,
		Payment: pay,
	}

	var status string
	if req.Side == domain.SideBuy {
		status, err = s.ledger.Buy(ctx, transfer)
	} else {
		status, err = s.ledger.Sell(ctx, transfer)
	}
	if err == nil && status != domain.StatusSuccess {
		err = &domain.TransactionStatusError{Op: string(req.Side) + " order", Status: status}
	}
	if err != nil {
		s.fail(ctx, &order, err)
		return nil, fmt.Errorf("failed to %s asset token: %w", req.Side, err)
	}

	if err := s.store.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCompleted); err != nil {
		s.logger.Error("Failed to mark order completed", slog.String("order", order.ID), slog.Any("error", err))
		s.metrics.RecordError()
	}
	order.Status = domain.OrderStatusCompleted
	s.metrics.RecordOrderPlaced()

	prev, ok := s.hub.ReferencePrice(req.TokenID)
	if !ok {
		prev = req.Price
	}
	newPrice := market.ComputePriceImpact(prev, req.Amount, req.Side)

	// The change feed turns this row into a candle and a price notification.
	trade := domain.Trade{
		TokenID:   req.TokenID,
		Price:     newPrice,
		Volume:    req.Amount,
		TradeType: req.Side,
		TraderID:  hw.AccountID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertTrade(ctx, &trade); err != nil {
		// Settled on the ledger; the chart catches up on the next load.
		s.logger.Error("Failed to record trade", slog.String("order", order.ID), slog.Any("error", err))
		s.metrics.RecordError()
	}

	s.logger.Info("Order placed",
		slog.String("order", order.ID),
		slog.String("token", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.Float64("amount", req.Amount),
		slog.String("payment", pay.String()),
		slog.String("pair", string(req.Pair)),
		slog.Float64("new_price", newPrice),
	)

	return &OrderResult{Order: order, Status: status, Payment: pay, NewPrice: newPrice}, nil
}

func (s *OrderService) fail(ctx context.Context, order *domain.Order, cause error) {
	s.metrics.RecordOrderFailed()
	s.logger.Warn("Order failed", slog.String("order", order.ID), slog.Any("error", cause))

	order.Status = domain.OrderStatusFailed
	if err := s.store.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusFailed); err != nil {
		s.logger.Error("Failed to mark order failed", slog.String("order", order.ID), slog.Any("error", err))
		s.metrics.RecordError()
	}
}

// Order returns a stored order.
func (s *OrderService) Order(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "order id is required")
	}
	return s.store.GetOrder(ctx, id)
}

// OrdersByToken returns the orders placed for a token, newest first.
func (s *OrderService) OrdersByToken(ctx context.Context, tokenID string) ([]domain.Order, error) {
	if !domain.IsAccountID(tokenID) {
		return nil, domain.NewValidationError("token_id", "expected shard.realm.num, got %q", tokenID)
	}
	orders, err := s.store.OrdersByToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}
