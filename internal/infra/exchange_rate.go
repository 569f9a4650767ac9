package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"realty_go/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	defaultRateURL = "https://api.coingecko.com/api/v3/simple/price?ids=hedera-hashgraph&vs_currencies=usd"
	rateCoinID     = "hedera-hashgraph"
)

// ErrRateUnavailable is returned by conversions before the first successful fetch.
var ErrRateUnavailable = errors.New("HBAR/USD rate not available")

// coinGeckoResponse is the simple/price payload: {"hedera-hashgraph":{"usd":0.07}}
type coinGeckoResponse map[string]struct {
	USD float64 `json:"usd"`
}

// ExchangeRateClient polls the HBAR/USD rate from CoinGecko.
type ExchangeRateClient struct {
	onUpdate     func(decimal.Decimal)
	rate         decimal.Decimal
	mu           sync.RWMutex
	pollInterval time.Duration
	apiURL       string
	httpClient   *http.Client
	retry        RetryPolicy
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

var _ domain.ExchangeRateProvider = (*ExchangeRateClient)(nil)

// NewExchangeRateClient creates a new exchange rate client
func NewExchangeRateClient(onUpdate func(decimal.Decimal)) *ExchangeRateClient {
	return &ExchangeRateClient{
		onUpdate:     onUpdate,
		rate:         decimal.Zero,
		pollInterval: 60 * time.Second, // Default: 1 minute
		apiURL:       defaultRateURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: DefaultRetryPolicy,
	}
}

// NewExchangeRateClientWithConfig creates a client with custom configuration
func NewExchangeRateClientWithConfig(onUpdate func(decimal.Decimal), apiURL string, pollIntervalSec int) *ExchangeRateClient {
	client := NewExchangeRateClient(onUpdate)
	if apiURL != "" {
		client.apiURL = apiURL
	}
	if pollIntervalSec > 0 {
		client.pollInterval = time.Duration(pollIntervalSec) * time.Second
	}
	return client
}

// Start begins polling for exchange rate updates
func (c *ExchangeRateClient) Start(ctx context.Context) error {
	// Create a cancellable context
	ctx, c.cancel = context.WithCancel(ctx)

	// Fetch immediately on start
	if err := c.fetchRate(ctx); err != nil {
		slog.Warn("Initial exchange rate fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	// Start polling goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Exchange rate polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Exchange rate polling stopped")
				return
			case <-ticker.C:
				if err := c.fetchRate(ctx); err != nil {
					slog.Warn("Exchange rate fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// fetchRate fetches the current rate with retry on transient failures.
func (c *ExchangeRateClient) fetchRate(ctx context.Context) error {
	return c.retry.Do(ctx, "exchange rate", c.doFetch)
}

func (c *ExchangeRateClient) doFetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return err
	}

	// Add browser-like User-Agent to avoid bot detection
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("exchange rate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusError("exchange rate", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("exchange rate", err)
	}

	var data coinGeckoResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}

	quote, ok := data[rateCoinID]
	if !ok || quote.USD <= 0 {
		return fmt.Errorf("empty response from CoinGecko API")
	}

	newRate := decimal.NewFromFloat(quote.USD)

	c.mu.Lock()
	oldRate := c.rate
	c.rate = newRate
	c.mu.Unlock()

	// Notify if rate changed
	if !oldRate.Equal(newRate) && c.onUpdate != nil {
		slog.Info("Exchange rate updated",
			slog.String("rate", newRate.String()),
			slog.String("old_rate", oldRate.String()),
		)
		c.onUpdate(newRate)
	}

	return nil
}

// Stop stops the polling
func (c *ExchangeRateClient) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

// GetRate returns the current USD price of one HBAR.
func (c *ExchangeRateClient) GetRate() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

// UsdToHbar converts a USD amount to HBAR at the current rate.
func UsdToHbar(rates domain.ExchangeRateProvider, usd decimal.Decimal) (decimal.Decimal, error) {
	rate := rates.GetRate()
	if !rate.IsPositive() {
		return decimal.Zero, ErrRateUnavailable
	}
	return usd.Div(rate).Round(8), nil
}
