package market

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"realty_go/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	bookDepth     = 8
	bookTick      = 0.001
	minBookAmount = 1000
	maxBookAmount = 11000

	minVolume = 100000
	maxVolume = 1100000

	startDiscount = 0.9
	maxVariation  = 0.05 // close moves up to ±2.5% from open
	maxWick       = 0.02
)

var tickSize = decimal.NewFromFloat(bookTick)

// NewRand returns a time-seeded random source for the generators.
func NewRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// GenerateCandlestickData walks 24 chained candles starting at 90% of currentPrice.
// Each open equals the previous close.
func GenerateCandlestickData(rng *rand.Rand, currentPrice float64) []domain.Candle {
	data := make([]domain.Candle, 0, domain.HistoryWindow)
	price := currentPrice * startDiscount

	for i := 0; i < domain.HistoryWindow; i++ {
		open := price
		variation := (rng.Float64() - 0.5) * maxVariation
		closePrice := open + open*variation
		high := math.Max(open, closePrice) + math.Abs(open*rng.Float64()*maxWick)
		low := math.Min(open, closePrice) - math.Abs(open*rng.Float64()*maxWick)
		volume := rng.Intn(maxVolume-minVolume) + minVolume

		data = append(data, domain.Candle{
			Time:   HourLabel(i),
			Open:   Round4(open),
			High:   Round4(high),
			Low:    Round4(low),
			Close:  Round4(closePrice),
			Volume: float64(volume),
			Price:  Round4(closePrice),
		})

		price = closePrice
	}

	return data
}

// GenerateOrderBook builds 8 ask levels above and 8 bid levels below currentPrice,
// one tick apart, with random amounts in [1000, 11000).
func GenerateOrderBook(rng *rand.Rand, currentPrice float64) domain.OrderBook {
	book := domain.OrderBook{
		Asks: make([]domain.BookLevel, 0, bookDepth),
		Bids: make([]domain.BookLevel, 0, bookDepth),
	}
	ref := decimal.NewFromFloat(currentPrice)

	for k := 1; k <= bookDepth; k++ {
		offset := tickSize.Mul(decimal.NewFromInt(int64(k)))

		book.Asks = append(book.Asks, domain.BookLevel{
			Price:  ref.Add(offset).Round(4).InexactFloat64(),
			Amount: int64(rng.Intn(maxBookAmount-minBookAmount) + minBookAmount),
		})
		book.Bids = append(book.Bids, domain.BookLevel{
			Price:  ref.Sub(offset).Round(4).InexactFloat64(),
			Amount: int64(rng.Intn(maxBookAmount-minBookAmount) + minBookAmount),
		})
	}

	return book
}

// FlatHistory returns a full window of zero-volume candles pinned at price.
func FlatHistory(price float64) []domain.Candle {
	data := make([]domain.Candle, domain.HistoryWindow)
	for i := range data {
		data[i] = domain.Candle{
			Time:  HourLabel(i),
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
			Price: price,
		}
	}
	return data
}

// TradeCandle derives the candle appended for a recorded trade.
func TradeCandle(prevClose float64, trade domain.Trade) domain.Candle {
	ts := trade.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.Candle{
		Time:   ts.Format("15:04"),
		Open:   prevClose,
		High:   math.Max(prevClose, trade.Price),
		Low:    math.Min(prevClose, trade.Price),
		Close:  trade.Price,
		Volume: trade.Volume,
		Price:  trade.Price,
	}
}

// HourLabel formats a candle index as an "HH:00" label.
func HourLabel(i int) string {
	return fmt.Sprintf("%02d:00", i%24)
}

// Round4 rounds to four decimal places.
func Round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
