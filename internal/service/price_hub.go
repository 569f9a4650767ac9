package service

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"realty_go/internal/domain"
	"realty_go/internal/infra"
	"realty_go/internal/market"

	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds one history load. Loads are shared between callers, so
// they never run on a single caller's context.
const loadTimeout = 10 * time.Second

// PriceListener is invoked with the new reference price of an asset.
type PriceListener func(price float64)

// SubscriptionID identifies one registration. Registering the same listener
// twice yields two independent IDs.
type SubscriptionID uint64

type registration struct {
	id SubscriptionID
	fn PriceListener
}

// assetState holds the rolling window and listeners of one asset.
type assetState struct {
	mu        sync.Mutex // guards every field below
	history   []domain.Candle
	price     float64
	hasPrice  bool
	loaded    bool
	listeners []registration

	// seeded holds the ids of persisted trades in the loaded window, so a feed
	// event for one of them is not appended twice.
	seeded map[string]struct{}

	// deliverMu serialises fan-out so one price event reaches every listener
	// before the next event for the same asset starts.
	deliverMu sync.Mutex
}

// PriceHub owns per-asset price history and fans out price changes.
// It merges trades from the persistence change feed with synthetic fallback data.
type PriceHub struct {
	mu     sync.RWMutex
	assets map[string]*assetState

	source     domain.TradeSource
	tradeLimit int
	loads      singleflight.Group
	nextID     atomic.Uint64

	rngMu sync.Mutex
	rng   *rand.Rand

	tradeChan chan domain.Trade
	logger    *slog.Logger
	metrics   *infra.Metrics
}

// HubOption configures a PriceHub.
type HubOption func(*PriceHub)

// WithRand injects the random source used for synthetic order books.
func WithRand(rng *rand.Rand) HubOption {
	return func(h *PriceHub) { h.rng = rng }
}

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *PriceHub) { h.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *infra.Metrics) HubOption {
	return func(h *PriceHub) { h.metrics = m }
}

// WithTradeLimit caps how many persisted trades seed a history load.
// Values outside 1..HistoryWindow are ignored.
func WithTradeLimit(n int) HubOption {
	return func(h *PriceHub) {
		if n > 0 && n <= domain.HistoryWindow {
			h.tradeLimit = n
		}
	}
}

// NewPriceHub creates a hub reading persisted trades from source. source may be nil,
// in which case every load falls back to synthetic history.
func NewPriceHub(source domain.TradeSource, opts ...HubOption) *PriceHub {
	h := &PriceHub{
		assets:     make(map[string]*assetState),
		source:     source,
		tradeLimit: domain.HistoryWindow,
		tradeChan:  make(chan domain.Trade, 1000), // 버스트 대응을 위한 충분한 버퍼
		logger:     slog.Default(),
		metrics:    infra.GlobalMetrics,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.rng == nil {
		h.rng = market.NewRand()
	}
	return h
}

func (h *PriceHub) asset(assetID string) *assetState {
	h.mu.RLock()
	st, ok := h.assets[assetID]
	h.mu.RUnlock()
	if ok {
		return st
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok = h.assets[assetID]; !ok {
		st = &assetState{}
		h.assets[assetID] = st
	}
	return st
}

func (h *PriceHub) lookup(assetID string) (*assetState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.assets[assetID]
	return st, ok
}

// Assets returns the known asset ids sorted.
func (h *PriceHub) Assets() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.assets))
	for id := range h.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetInitialPrice records or overwrites the reference price of an asset. The first
// call for an asset without history blocks until the history load has resolved:
// persisted trades when there are any, otherwise a flat window at price.
// Concurrent first calls share one load and the first caller's price seeds it.
func (h *PriceHub) SetInitialPrice(ctx context.Context, assetID string, price float64) {
	st := h.asset(assetID)

	st.mu.Lock()
	st.price = price
	st.hasPrice = true
	loaded := st.loaded
	st.mu.Unlock()

	if !loaded {
		h.ensureLoaded(ctx, assetID)
	}
}

// ReferencePrice returns the current reference price of an asset.
func (h *PriceHub) ReferencePrice(assetID string) (float64, bool) {
	st, ok := h.lookup(assetID)
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.price, st.hasPrice
}

// GetChartData returns a copy of the candle window, loading it first if needed.
func (h *PriceHub) GetChartData(ctx context.Context, assetID string) []domain.Candle {
	st := h.asset(assetID)

	st.mu.Lock()
	loaded := st.loaded
	st.mu.Unlock()

	if !loaded {
		h.ensureLoaded(ctx, assetID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]domain.Candle, len(st.history))
	copy(out, st.history)
	return out
}

// ensureLoaded resolves the history of an asset exactly once per concurrent burst.
// A caller whose ctx ends stops waiting, the shared load keeps running.
func (h *PriceHub) ensureLoaded(ctx context.Context, assetID string) {
	ch := h.loads.DoChan(assetID, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		h.load(lctx, assetID)
		return nil, nil
	})
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (h *PriceHub) load(ctx context.Context, assetID string) {
	st := h.asset(assetID)

	st.mu.Lock()
	if st.loaded {
		st.mu.Unlock()
		return
	}
	seedPrice, hasPrice := st.price, st.hasPrice
	st.mu.Unlock()

	start := time.Now()
	var trades []domain.Trade
	if h.source != nil {
		var err error
		trades, err = h.source.RecentTrades(ctx, assetID, h.tradeLimit)
		if err != nil {
			h.logger.Warn("Trade history load failed, using synthetic history",
				slog.String("asset", assetID), slog.Any("error", err))
			h.metrics.RecordError()
			trades = nil
		}
	}

	var seed []domain.Candle
	fallback := false
	switch {
	case len(trades) > 0:
		if len(trades) > domain.HistoryWindow {
			trades = trades[len(trades)-domain.HistoryWindow:]
		}
		seed = candlesFromTrades(trades)
	case hasPrice:
		seed = market.FlatHistory(seedPrice)
		fallback = true
	default:
		// Nothing to seed from yet. A later SetInitialPrice will retry.
		return
	}
	h.metrics.RecordLoad(time.Since(start).Nanoseconds(), fallback)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.loaded {
		// A trade from the change feed got there first.
		return
	}
	st.history = seed
	st.loaded = true
	if len(trades) > 0 {
		st.seeded = make(map[string]struct{}, len(trades))
		for _, t := range trades {
			if t.ID != "" {
				st.seeded[t.ID] = struct{}{}
			}
		}
	}
	if !st.hasPrice {
		st.price = seed[len(seed)-1].Close
		st.hasPrice = true
	}

	h.logger.Debug("Price history loaded",
		slog.String("asset", assetID),
		slog.Int("candles", len(seed)),
		slog.Bool("synthetic", fallback))
}

// candlesFromTrades chains chronological trades into candles, keeping the newest window.
func candlesFromTrades(trades []domain.Trade) []domain.Candle {
	if len(trades) > domain.HistoryWindow {
		trades = trades[len(trades)-domain.HistoryWindow:]
	}
	out := make([]domain.Candle, 0, len(trades))
	prev := trades[0].Price
	for _, t := range trades {
		out = append(out, market.TradeCandle(prev, t))
		prev = t.Price
	}
	return out
}

// Subscribe registers fn for future price changes of assetID. If history exists,
// fn is called once right away with the current reference price.
func (h *PriceHub) Subscribe(assetID string, fn PriceListener) SubscriptionID {
	id := SubscriptionID(h.nextID.Add(1))
	st := h.asset(assetID)

	st.mu.Lock()
	st.listeners = append(st.listeners, registration{id: id, fn: fn})
	var latest float64
	hasHistory := len(st.history) > 0
	switch {
	case hasHistory && st.hasPrice:
		latest = st.price
	case hasHistory:
		latest = st.history[len(st.history)-1].Price
	}
	st.mu.Unlock()

	h.metrics.AddSubscribers(1)
	if hasHistory {
		h.invoke(assetID, registration{id: id, fn: fn}, latest)
	}
	return id
}

// Unsubscribe removes a registration. Unknown ids are ignored. A notification
// already being delivered may still reach the listener once.
func (h *PriceHub) Unsubscribe(assetID string, id SubscriptionID) {
	st, ok := h.lookup(assetID)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for i, reg := range st.listeners {
		if reg.id == id {
			st.listeners = append(st.listeners[:i], st.listeners[i+1:]...)
			h.metrics.AddSubscribers(-1)
			return
		}
	}
}

// OnTradeRecorded appends the candle derived from a committed trade, evicting the
// oldest candle beyond the window, and notifies listeners with the trade price.
// The persisted history of an unloaded asset is loaded first; a trade already in
// that history is not appended again. Listeners must not call OnTradeRecorded for
// the same asset.
func (h *PriceHub) OnTradeRecorded(trade domain.Trade) {
	if !validTrade(trade) {
		h.logger.Warn("Dropping malformed trade",
			slog.String("asset", trade.TokenID),
			slog.Float64("price", trade.Price),
			slog.Float64("volume", trade.Volume))
		h.metrics.RecordDroppedTrade()
		return
	}

	st := h.asset(trade.TokenID)
	if h.source != nil {
		st.mu.Lock()
		loaded := st.loaded
		st.mu.Unlock()
		if !loaded {
			h.ensureLoaded(context.Background(), trade.TokenID)
		}
	}

	st.deliverMu.Lock()
	defer st.deliverMu.Unlock()

	st.mu.Lock()
	if _, dup := st.seeded[trade.ID]; dup && trade.ID != "" {
		delete(st.seeded, trade.ID)
	} else {
		h.appendTrade(st, trade)
	}
	st.loaded = true
	st.price = trade.Price
	st.hasPrice = true
	listeners := append([]registration(nil), st.listeners...)
	st.mu.Unlock()

	h.metrics.RecordTrade()
	h.fanOut(trade.TokenID, listeners, trade.Price)
}

// appendTrade adds the candle of trade to the window. Must be called with st.mu held.
func (h *PriceHub) appendTrade(st *assetState, trade domain.Trade) {
	prevClose := trade.Price
	switch {
	case len(st.history) > 0:
		prevClose = st.history[len(st.history)-1].Close
	case st.hasPrice:
		prevClose = st.price
	}
	candle := market.TradeCandle(prevClose, trade)
	if len(st.history) >= domain.HistoryWindow {
		n := copy(st.history, st.history[len(st.history)-domain.HistoryWindow+1:])
		st.history = append(st.history[:n], candle)
	} else {
		st.history = append(st.history, candle)
	}
}

func validTrade(t domain.Trade) bool {
	if t.TokenID == "" {
		return false
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return false
	}
	if math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) || t.Volume < 0 {
		return false
	}
	return true
}

// UpdateTokenPrice applies the price impact of a trade to the reference price,
// notifies listeners and returns the new price.
func (h *PriceHub) UpdateTokenPrice(assetID string, previousPrice, amount float64, side domain.Side) float64 {
	newPrice := market.ComputePriceImpact(previousPrice, amount, side)
	st := h.asset(assetID)

	st.deliverMu.Lock()
	defer st.deliverMu.Unlock()

	st.mu.Lock()
	st.price = newPrice
	st.hasPrice = true
	listeners := append([]registration(nil), st.listeners...)
	st.mu.Unlock()

	h.fanOut(assetID, listeners, newPrice)
	return newPrice
}

// OrderBook returns a synthetic ladder around the asset's reference price.
// Assets without a reference price get an empty book.
func (h *PriceHub) OrderBook(assetID string) domain.OrderBook {
	price, ok := h.ReferencePrice(assetID)
	if !ok {
		return domain.OrderBook{Asks: []domain.BookLevel{}, Bids: []domain.BookLevel{}}
	}

	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return market.GenerateOrderBook(h.rng, price)
}

// SyntheticChart returns a random candle walk ending near the asset's reference price.
func (h *PriceHub) SyntheticChart(assetID string) []domain.Candle {
	price, ok := h.ReferencePrice(assetID)
	if !ok {
		return []domain.Candle{}
	}

	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return market.GenerateCandlestickData(h.rng, price)
}

// fanOut delivers price to listeners in registration order. Must be called with deliverMu held.
func (h *PriceHub) fanOut(assetID string, listeners []registration, price float64) {
	for _, reg := range listeners {
		h.invoke(assetID, reg, price)
	}
}

// invoke isolates a listener so a panic cannot stop the rest of the fan-out.
func (h *PriceHub) invoke(assetID string, reg registration, price float64) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Price listener panic recovered",
				slog.String("asset", assetID),
				slog.Uint64("subscription", uint64(reg.id)),
				slog.Any("panic", r))
			h.metrics.RecordListenerPanic()
		}
	}()
	reg.fn(price)
	h.metrics.RecordNotification()
}

// ======================================================================================
// UI facing operations
// ======================================================================================

// seedIfUnknown sets the initial price only when the asset has no reference price yet,
// so a stale page price never overwrites live data.
func (h *PriceHub) seedIfUnknown(ctx context.Context, assetID string, initialPrice float64) {
	if _, ok := h.ReferencePrice(assetID); ok || initialPrice <= 0 {
		return
	}
	h.SetInitialPrice(ctx, assetID, initialPrice)
}

// SubscribeToPriceUpdates seeds the asset with initialPrice if it is unknown and subscribes fn.
func (h *PriceHub) SubscribeToPriceUpdates(ctx context.Context, assetID string, fn PriceListener, initialPrice float64) SubscriptionID {
	h.seedIfUnknown(ctx, assetID, initialPrice)
	return h.Subscribe(assetID, fn)
}

// UnsubscribeFromPriceUpdates removes a subscription made with SubscribeToPriceUpdates.
func (h *PriceHub) UnsubscribeFromPriceUpdates(assetID string, id SubscriptionID) {
	h.Unsubscribe(assetID, id)
}

// TokenChartData seeds the asset with initialPrice if it is unknown and returns its candles.
func (h *PriceHub) TokenChartData(ctx context.Context, assetID string, initialPrice float64) []domain.Candle {
	h.seedIfUnknown(ctx, assetID, initialPrice)
	return h.GetChartData(ctx, assetID)
}

// ======================================================================================
// Change feed bridge
// ======================================================================================

// TradeChan returns the channel for incoming committed trades
func (h *PriceHub) TradeChan() chan<- domain.Trade {
	return h.tradeChan
}

// HandleInsert is a change feed handler that queues committed trades without blocking the writer.
func (h *PriceHub) HandleInsert(ev domain.InsertEvent) {
	if ev.Trade == nil {
		return
	}
	select {
	case h.tradeChan <- *ev.Trade:
	default:
		h.logger.Warn("Trade queue full, dropping trade", slog.String("asset", ev.Trade.TokenID))
		h.metrics.RecordDroppedTrade()
	}
}

// StartTradeProcessor starts a background goroutine applying queued trades.
func (h *PriceHub) StartTradeProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case trade := <-h.tradeChan:
				h.OnTradeRecorded(trade)
			}
		}
	}()
}
