package domain

// HistoryWindow is the number of candles kept per asset. Older entries are evicted first.
const HistoryWindow = 24

// Candle is one OHLC+volume record of an asset's price history.
// High >= max(Open, Close) and Low <= min(Open, Close).
type Candle struct {
	Time   string  `json:"time"` // Display label, e.g. "13:00"
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Price  float64 `json:"price"`
}

// BookLevel is one price level of an order book.
type BookLevel struct {
	Price  float64 `json:"price"`
	Amount int64   `json:"amount"`
	Total  int64   `json:"total"` // Always 0, cumulative totals are not aggregated
}

// OrderBook is a synthetic bid/ask ladder around a reference price.
// Asks ascend from the reference price, bids descend from it.
type OrderBook struct {
	Asks []BookLevel `json:"asks"`
	Bids []BookLevel `json:"bids"`
}

// PriceChangePct returns the percentage move from the first open to the last close.
func PriceChangePct(history []Candle) float64 {
	if len(history) < 2 || history[0].Open == 0 {
		return 0
	}
	first := history[0].Open
	return (history[len(history)-1].Close - first) / first * 100
}
