package market

import (
	"math/rand"
	"testing"
	"time"

	"realty_go/internal/domain"
)

func TestGenerateCandlestickData_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		data := GenerateCandlestickData(rng, 10.0)
		if len(data) != domain.HistoryWindow {
			t.Fatalf("expected %d candles, got %d", domain.HistoryWindow, len(data))
		}

		for i, c := range data {
			if c.High < max(c.Open, c.Close) {
				t.Errorf("run %d candle %d: high %v below body (%v, %v)", run, i, c.High, c.Open, c.Close)
			}
			if c.Low > min(c.Open, c.Close) {
				t.Errorf("run %d candle %d: low %v above body (%v, %v)", run, i, c.Low, c.Open, c.Close)
			}
			if c.Volume < minVolume || c.Volume >= maxVolume {
				t.Errorf("run %d candle %d: volume %v out of range", run, i, c.Volume)
			}
			if c.Price != c.Close {
				t.Errorf("run %d candle %d: price %v != close %v", run, i, c.Price, c.Close)
			}
			if i > 0 && c.Open != data[i-1].Close {
				t.Errorf("run %d candle %d: open %v does not continue close %v", run, i, c.Open, data[i-1].Close)
			}
		}

		if data[0].Open != 9.0 {
			t.Errorf("first open = %v, want 9", data[0].Open)
		}
		if data[0].Time != "00:00" || data[23].Time != "23:00" {
			t.Errorf("unexpected labels %q .. %q", data[0].Time, data[23].Time)
		}
	}
}

func TestGenerateOrderBook_Ladder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	book := GenerateOrderBook(rng, 1.5)

	if len(book.Asks) != bookDepth || len(book.Bids) != bookDepth {
		t.Fatalf("expected %d levels per side, got %d asks %d bids", bookDepth, len(book.Asks), len(book.Bids))
	}

	for i := 1; i < bookDepth; i++ {
		if book.Asks[i].Price <= book.Asks[i-1].Price {
			t.Errorf("asks not ascending at %d: %v <= %v", i, book.Asks[i].Price, book.Asks[i-1].Price)
		}
		if book.Bids[i].Price >= book.Bids[i-1].Price {
			t.Errorf("bids not descending at %d: %v >= %v", i, book.Bids[i].Price, book.Bids[i-1].Price)
		}
	}

	if book.Asks[0].Price != 1.501 || book.Bids[0].Price != 1.499 {
		t.Errorf("first levels = %v / %v, want 1.501 / 1.499", book.Asks[0].Price, book.Bids[0].Price)
	}
	if book.Asks[7].Price != 1.508 || book.Bids[7].Price != 1.492 {
		t.Errorf("last levels = %v / %v, want 1.508 / 1.492", book.Asks[7].Price, book.Bids[7].Price)
	}

	for _, lvl := range append(book.Asks, book.Bids...) {
		if lvl.Amount < minBookAmount || lvl.Amount >= maxBookAmount {
			t.Errorf("amount %d out of range", lvl.Amount)
		}
		if lvl.Total != 0 {
			t.Errorf("total should stay 0, got %d", lvl.Total)
		}
	}
}

func TestFlatHistory(t *testing.T) {
	data := FlatHistory(10.0)
	if len(data) != domain.HistoryWindow {
		t.Fatalf("expected %d candles, got %d", domain.HistoryWindow, len(data))
	}
	for i, c := range data {
		if c.Price != 10.0 || c.Open != 10.0 || c.High != 10.0 || c.Low != 10.0 || c.Close != 10.0 {
			t.Errorf("candle %d not flat: %+v", i, c)
		}
		if c.Volume != 0 {
			t.Errorf("candle %d volume = %v, want 0", i, c.Volume)
		}
	}
}

func TestTradeCandle(t *testing.T) {
	ts := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)

	up := TradeCandle(10, domain.Trade{Price: 10.5, Volume: 200, CreatedAt: ts})
	if up.Open != 10 || up.Close != 10.5 || up.High != 10.5 || up.Low != 10 || up.Volume != 200 {
		t.Errorf("unexpected up candle %+v", up)
	}
	if up.Time != "14:30" {
		t.Errorf("Time = %q, want 14:30", up.Time)
	}

	down := TradeCandle(10, domain.Trade{Price: 9.5, Volume: 1})
	if down.High != 10 || down.Low != 9.5 {
		t.Errorf("unexpected down candle %+v", down)
	}
}

func TestRound4(t *testing.T) {
	if got := Round4(1.23456); got != 1.2346 {
		t.Errorf("Round4 = %v, want 1.2346", got)
	}
}
