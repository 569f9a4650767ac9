package service

import (
	"context"
	"errors"
	"testing"

	"realty_go/internal/domain"
	"realty_go/internal/infra"

	"github.com/shopspring/decimal"
)

type orderFixture struct {
	svc     *OrderService
	store   *memStore
	ledger  *fakeLedger
	checker *fakeChecker
	hub     *PriceHub
	metrics *infra.Metrics
}

func newOrderFixture() *orderFixture {
	store := newMemStore()
	hub, metrics := newTestHub(store)
	store.OnInsert(domain.TableTradeHistory, func(ev domain.InsertEvent) {
		hub.OnTradeRecorded(*ev.Trade)
	})

	ledger := &fakeLedger{tradeStatus: domain.StatusSuccess}
	checker := &fakeChecker{associated: map[string]bool{"0.0.1001|0.0.500": true}}
	assoc := NewTokenAssociationManager(checker, ledger, nil)
	rates := fixedRate{rate: decimal.RequireFromString("0.05")}

	return &orderFixture{
		svc:     NewOrderService(store, ledger, assoc, hub, rates, nil, metrics),
		store:   store,
		ledger:  ledger,
		checker: checker,
		hub:     hub,
		metrics: metrics,
	}
}

func TestPlaceOrder_Buy(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	f.hub.SetInitialPrice(ctx, "0.0.500", 100)

	var notified []float64
	f.hub.Subscribe("0.0.500", func(p float64) { notified = append(notified, p) })

	res, err := f.svc.PlaceOrder(ctx, OrderRequest{
		TokenID: "0.0.500",
		Wallet:  testWallet,
		Side:    domain.SideBuy,
		Amount:  10000,
		Price:   1,
		Pair:    domain.PairHBAR,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	if res.NewPrice != 101 {
		t.Errorf("expected new price 101, got %v", res.NewPrice)
	}
	// 10000 USD at 0.05 USD/HBAR
	if !res.Payment.Equal(decimal.NewFromInt(200000)) {
		t.Errorf("expected payment 200000 HBAR, got %s", res.Payment)
	}
	if got := f.store.order(res.Order.ID).Status; got != domain.OrderStatusCompleted {
		t.Errorf("expected completed order, got %s", got)
	}
	if len(f.ledger.transfers) != 1 || f.ledger.transfers[0].Amount != 10000 {
		t.Errorf("unexpected ledger transfers %+v", f.ledger.transfers)
	}

	data := f.hub.GetChartData(ctx, "0.0.500")
	if last := data[len(data)-1]; last.Close != 101 || last.Volume != 10000 {
		t.Errorf("expected trade candle closing at 101, got %+v", last)
	}
	if len(notified) != 2 || notified[1] != 101 {
		t.Errorf("expected replay then 101, got %v", notified)
	}
	if snap := f.metrics.Snapshot(); snap.OrdersPlaced != 1 {
		t.Errorf("expected 1 order placed, got %d", snap.OrdersPlaced)
	}
}

func TestPlaceOrder_SellUSDC(t *testing.T) {
	f := newOrderFixture()

	res, err := f.svc.PlaceOrder(context.Background(), OrderRequest{
		TokenID: "0.0.500",
		Wallet:  testWallet,
		Side:    domain.SideSell,
		Amount:  10000,
		Price:   2.5,
		Pair:    domain.PairUSDC,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	// no reference price yet: impact applies to the order price
	if res.NewPrice != 2.475 {
		t.Errorf("expected 2.475, got %v", res.NewPrice)
	}
	if !res.Payment.Equal(decimal.NewFromInt(25000)) {
		t.Errorf("expected 25000 USDC, got %s", res.Payment)
	}
}

func TestPlaceOrder_ValidationBeforeNetwork(t *testing.T) {
	base := OrderRequest{TokenID: "0.0.500", Wallet: testWallet, Side: domain.SideBuy, Amount: 5, Price: 1, Pair: domain.PairUSDC}

	tests := []struct {
		name  string
		edit  func(r *OrderRequest)
		field string
	}{
		{"zero amount", func(r *OrderRequest) { r.Amount = 0 }, "amount"},
		{"fractional amount", func(r *OrderRequest) { r.Amount = 1.5 }, "amount"},
		{"negative price", func(r *OrderRequest) { r.Price = -1 }, "price"},
		{"bad side", func(r *OrderRequest) { r.Side = "hold" }, "side"},
		{"bad pair", func(r *OrderRequest) { r.Pair = "EUR" }, "trading_pair"},
		{"bad token", func(r *OrderRequest) { r.TokenID = "house" }, "token_id"},
		{"read only wallet", func(r *OrderRequest) { r.Wallet = domain.HederaWallet{AccountID: "0.0.1001"} }, "private_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture()
			req := base
			tt.edit(&req)

			_, err := f.svc.PlaceOrder(context.Background(), req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected ValidationError on %s, got %v", tt.field, err)
			}
			if f.checker.calls != 0 || len(f.ledger.transfers) != 0 {
				t.Error("network was called for an invalid request")
			}
		})
	}
}

func TestPlaceOrder_WalletErrors(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, OrderRequest{TokenID: "0.0.500", Side: domain.SideBuy, Amount: 1, Price: 1, Pair: domain.PairUSDC})
	if !errors.Is(err, domain.ErrWalletNotConnected) {
		t.Errorf("expected ErrWalletNotConnected, got %v", err)
	}

	evm := domain.EVMWallet{Address: "0xabcdef0123456789abcdef0123456789abcdef01"}
	_, err = f.svc.PlaceOrder(ctx, OrderRequest{TokenID: "0.0.500", Wallet: evm, Side: domain.SideBuy, Amount: 1, Price: 1, Pair: domain.PairUSDC})
	if !errors.Is(err, domain.ErrUnsupportedWallet) {
		t.Errorf("expected ErrUnsupportedWallet, got %v", err)
	}
}

func TestPlaceOrder_NotAssociated(t *testing.T) {
	f := newOrderFixture()

	_, err := f.svc.PlaceOrder(context.Background(), OrderRequest{
		TokenID: "0.0.777", Wallet: testWallet, Side: domain.SideBuy, Amount: 1, Price: 1, Pair: domain.PairUSDC,
	})
	if !errors.Is(err, domain.ErrTokenNotAssociated) {
		t.Errorf("expected ErrTokenNotAssociated, got %v", err)
	}
	if len(f.store.orders) != 0 {
		t.Error("no order row expected")
	}
}

func TestPlaceOrder_LedgerFailure(t *testing.T) {
	f := newOrderFixture()
	f.ledger.tradeStatus = "INSUFFICIENT_PAYER_BALANCE"

	_, err := f.svc.PlaceOrder(context.Background(), OrderRequest{
		TokenID: "0.0.500", Wallet: testWallet, Side: domain.SideBuy, Amount: 1, Price: 1, Pair: domain.PairUSDC,
	})
	var se *domain.TransactionStatusError
	if !errors.As(err, &se) || se.Status != "INSUFFICIENT_PAYER_BALANCE" {
		t.Fatalf("expected TransactionStatusError, got %v", err)
	}

	for _, o := range f.store.orders {
		if o.Status != domain.OrderStatusFailed {
			t.Errorf("expected failed order, got %s", o.Status)
		}
	}
	if len(f.store.trades) != 0 {
		t.Error("failed order must not record a trade")
	}
	if snap := f.metrics.Snapshot(); snap.OrdersFailed != 1 {
		t.Errorf("expected 1 failed order, got %d", snap.OrdersFailed)
	}
}

func TestPlaceOrder_RateUnavailable(t *testing.T) {
	f := newOrderFixture()
	f.svc.rates = fixedRate{rate: decimal.Zero}

	_, err := f.svc.PlaceOrder(context.Background(), OrderRequest{
		TokenID: "0.0.500", Wallet: testWallet, Side: domain.SideBuy, Amount: 1, Price: 1, Pair: domain.PairHBAR,
	})
	if !errors.Is(err, infra.ErrRateUnavailable) {
		t.Errorf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestOrderLookups(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	f.hub.SetInitialPrice(ctx, "0.0.500", 100)

	res, err := f.svc.PlaceOrder(ctx, OrderRequest{
		TokenID: "0.0.500",
		Wallet:  testWallet,
		Side:    domain.SideBuy,
		Amount:  1,
		Price:   1,
		Pair:    domain.PairHBAR,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	order, err := f.svc.Order(ctx, res.Order.ID)
	if err != nil || order.TokenID != "0.0.500" {
		t.Fatalf("Order = %+v, %v", order, err)
	}
	if _, err := f.svc.Order(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	orders, err := f.svc.OrdersByToken(ctx, "0.0.500")
	if err != nil || len(orders) != 1 {
		t.Fatalf("OrdersByToken = %v, %v", orders, err)
	}
	if orders, _ := f.svc.OrdersByToken(ctx, "0.0.501"); orders == nil || len(orders) != 0 {
		t.Errorf("expected empty list, got %v", orders)
	}
	var ve *domain.ValidationError
	if _, err := f.svc.OrdersByToken(ctx, "bad"); !errors.As(err, &ve) {
		t.Errorf("expected validation error, got %v", err)
	}
}
