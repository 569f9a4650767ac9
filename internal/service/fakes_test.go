package service

import (
	"context"
	"fmt"
	"sync"

	"realty_go/internal/domain"

	"github.com/shopspring/decimal"
)

type fakeChecker struct {
	associated map[string]bool // account|token
	err        error
	calls      int
}

func (f *fakeChecker) IsTokenAssociated(ctx context.Context, accountID, tokenID string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.associated[accountID+"|"+tokenID], nil
}

type fakeLedger struct {
	autoStatus   string
	autoErr      error
	manualStatus string
	manualErr    error
	tradeStatus  string
	tradeErr     error

	autoCalls   int
	manualCalls int
	transfers   []domain.TokenTransfer
}

func (f *fakeLedger) EnableAutoAssociation(ctx context.Context, w domain.HederaWallet, slots int32) (string, error) {
	f.autoCalls++
	return f.autoStatus, f.autoErr
}

func (f *fakeLedger) AssociateToken(ctx context.Context, w domain.HederaWallet, tokenID string) (string, error) {
	f.manualCalls++
	return f.manualStatus, f.manualErr
}

func (f *fakeLedger) Buy(ctx context.Context, t domain.TokenTransfer) (string, error) {
	f.transfers = append(f.transfers, t)
	return f.tradeStatus, f.tradeErr
}

func (f *fakeLedger) Sell(ctx context.Context, t domain.TokenTransfer) (string, error) {
	f.transfers = append(f.transfers, t)
	return f.tradeStatus, f.tradeErr
}

// memStore is an in-memory TradeStore with a synchronous change feed.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	trades   []domain.Trade
	handlers map[string][]domain.InsertHandler
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*domain.Order), handlers: make(map[string][]domain.InsertHandler)}
}

func (s *memStore) RecentTrades(ctx context.Context, tokenID string, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.TokenID == tokenID {
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) InsertOrder(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	s.nextID++
	order.ID = fmt.Sprintf("order-%d", s.nextID)
	row := *order
	s.orders[order.ID] = &row
	handlers := s.handlers[domain.TableOrders]
	s.mu.Unlock()

	for _, h := range handlers {
		h(domain.InsertEvent{Table: domain.TableOrders, Order: &row})
	}
	return nil
}

func (s *memStore) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	return nil
}

func (s *memStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	row := *o
	return &row, nil
}

func (s *memStore) OrdersByToken(ctx context.Context, tokenID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.TokenID == tokenID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memStore) InsertTrade(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	s.nextID++
	trade.ID = fmt.Sprintf("trade-%d", s.nextID)
	s.trades = append(s.trades, *trade)
	row := *trade
	handlers := s.handlers[domain.TableTradeHistory]
	s.mu.Unlock()

	for _, h := range handlers {
		h(domain.InsertEvent{Table: domain.TableTradeHistory, Trade: &row})
	}
	return nil
}

func (s *memStore) OnInsert(table string, handler domain.InsertHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[table] = append(s.handlers[table], handler)
}

func (s *memStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

type fixedRate struct{ rate decimal.Decimal }

func (f fixedRate) Start(ctx context.Context) error { return nil }
func (f fixedRate) GetRate() decimal.Decimal        { return f.rate }
