package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"realty_go/internal/api"
	"realty_go/internal/domain"
	"realty_go/internal/infra"
	"realty_go/internal/infra/hedera"
	"realty_go/internal/infra/ipfs"
	"realty_go/internal/infra/mirror"
	"realty_go/internal/infra/storage"
	"realty_go/internal/service"

	"github.com/shopspring/decimal"
)

const shutdownTimeout = 10 * time.Second

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Logger  *slog.Logger
	Metrics *infra.Metrics

	Store    domain.Store
	Hub      *service.PriceHub
	Rates    *infra.ExchangeRateClient
	Mirror   *mirror.Client
	Ledger   *hedera.Ledger
	Orders   *service.OrderService
	Assoc    *service.TokenAssociationManager
	Listings *service.ListingService

	closers []func()
	pg      *storage.PostgresStore
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Metrics: infra.GlobalMetrics}
}

// Initialize performs core system initialization: config, logger, storage, hub and clients.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping Realty Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)

	// 3. Initialize Storage (DB)
	if err := b.initStorage(ctx); err != nil {
		return err
	}
	slog.Info("✅ Database initialized", slog.String("driver", cfg.Storage.Driver))

	// 4. Price hub fed by the change feed
	b.Hub = service.NewPriceHub(b.Store,
		service.WithLogger(b.Logger),
		service.WithMetrics(b.Metrics),
		service.WithTradeLimit(cfg.Market.TradeHistoryLimit))
	b.Store.OnInsert(domain.TableTradeHistory, b.Hub.HandleInsert)
	b.Store.OnInsert(domain.TableAssetMetadata, func(ev domain.InsertEvent) {
		b.Logger.Info("📄 Asset metadata recorded",
			slog.String("token", ev.Metadata.TokenID),
			slog.String("cid", ev.Metadata.MetadataCID))
	})

	// 5. Exchange rate, mirror node, ledger
	b.Rates = infra.NewExchangeRateClientWithConfig(func(rate decimal.Decimal) {
		b.Logger.Debug("HBAR/USD rate updated", slog.String("rate", rate.String()))
	}, cfg.ExchangeRate.URL, cfg.ExchangeRate.PollIntervalSec)
	b.Mirror = mirror.NewClient(cfg.Ledger.MirrorURL, cfg.Ledger.USDCTokenID)

	var ledger domain.Ledger
	if cfg.Ledger.TreasuryID != "" && cfg.Ledger.TreasuryKey != "" {
		l, err := hedera.NewLedger(hedera.Config{
			Network:         cfg.Ledger.Network,
			TreasuryID:      cfg.Ledger.TreasuryID,
			TreasuryKey:     cfg.Ledger.TreasuryKey,
			RegistryTopicID: cfg.Ledger.RegistryTopicID,
			USDCTokenID:     cfg.Ledger.USDCTokenID,
		}, b.Logger)
		if err != nil {
			return err
		}
		b.Ledger = l
		ledger = l
		b.closers = append(b.closers, func() { _ = l.Close() })
		slog.Info("✅ Ledger client ready", slog.String("network", cfg.Ledger.Network))
	} else {
		ledger = unconfiguredLedger{}
		slog.Warn("⚠️ Treasury not configured, orders and associations are disabled")
	}

	// 6. Services
	b.Assoc = service.NewTokenAssociationManager(b.Mirror, ledger, b.Logger)
	b.Orders = service.NewOrderService(b.Store, ledger, b.Assoc, b.Hub, b.Rates, b.Logger, b.Metrics)

	thumbs, err := infra.NewThumbnailCache("", cfg.IPFS.GatewayURL)
	if err != nil {
		return err
	}
	pinner := ipfs.NewClient(cfg.IPFS.PinataURL, cfg.IPFS.GatewayURL, cfg.IPFS.JWT)
	var registry service.RegistryPublisher
	if b.Ledger != nil && cfg.Ledger.RegistryTopicID != "" {
		registry = b.Ledger
	}
	b.Listings = service.NewListingService(pinner, b.Store, registry, thumbs, b.Logger)
	slog.Info("✅ Services ready")

	return nil
}

func (b *Bootstrap) initStorage(ctx context.Context) error {
	cfg := b.Config
	if cfg.PostgresConfigured() {
		pg := cfg.Storage.Postgres
		store, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			MaxConns: pg.MaxConns,
		})
		if err != nil {
			return err
		}
		b.Store = store
		b.pg = store
		b.closers = append(b.closers, store.Close)
		return nil
	}

	store, err := storage.NewStorage(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	b.Store = store
	b.closers = append(b.closers, func() { _ = store.Close() })
	return nil
}

// Start launches the background workers: change feed listener, trade processor,
// rate polling, seed prices.
func (b *Bootstrap) Start(ctx context.Context) error {
	if b.pg != nil {
		go func() {
			if err := b.pg.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("❌ Change feed listener stopped", slog.Any("error", err))
			}
		}()
	}
	b.Hub.StartTradeProcessor(ctx)

	if err := b.Rates.Start(ctx); err != nil {
		slog.Error("Failed to start exchange rate client", slog.Any("error", err))
	}
	b.closers = append(b.closers, b.Rates.Stop)

	for _, a := range b.Config.Market.Assets {
		b.Hub.SetInitialPrice(ctx, a.TokenID, a.Price)
	}
	slog.InfoContext(ctx, "✅ Price hub started", slog.Int("seeded_assets", len(b.Config.Market.Assets)))
	return nil
}

// SyncAssets caches thumbnails of every listed asset in the background
// This simulates the "Loading Screen" logic
func (b *Bootstrap) SyncAssets(ctx context.Context) {
	slog.Info("🔄 Starting asset synchronization...")

	n, err := b.Listings.SyncThumbnails(ctx)
	if err != nil {
		slog.Warn("Asset synchronization interrupted", slog.Any("error", err))
		return
	}
	slog.Info("✨ Asset synchronization completed", slog.Int("thumbnails", n))
}

// Server builds the HTTP server for the API.
func (b *Bootstrap) Server() *http.Server {
	handler := api.NewAPIHandler(b.Hub, b.Orders, b.Assoc, b.Logger,
		api.WithListings(b.Listings),
		api.WithAccounts(b.Mirror),
		api.WithMetrics(b.Metrics),
		api.WithRegistry(infra.NewPrometheusRegistry(b.Metrics)),
		api.WithAllowedOrigins(b.Config.Server.AllowedOrigins))

	return &http.Server{
		Addr:              ":" + strconv.Itoa(b.Config.Server.Port),
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Serve runs the API until ctx is cancelled, then shuts down gracefully.
func (b *Bootstrap) Serve(ctx context.Context) error {
	srv := b.Server()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("🌐 API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases resources in reverse order of acquisition.
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// unconfiguredLedger rejects every transaction when no treasury is set.
type unconfiguredLedger struct{}

var errNoTreasury = &domain.ConfigError{Field: "ledger.treasury_id", Err: errors.New("treasury not configured")}

func (unconfiguredLedger) EnableAutoAssociation(context.Context, domain.HederaWallet, int32) (string, error) {
	return "", errNoTreasury
}

func (unconfiguredLedger) AssociateToken(context.Context, domain.HederaWallet, string) (string, error) {
	return "", errNoTreasury
}

func (unconfiguredLedger) Buy(context.Context, domain.TokenTransfer) (string, error) {
	return "", errNoTreasury
}

func (unconfiguredLedger) Sell(context.Context, domain.TokenTransfer) (string, error) {
	return "", errNoTreasury
}
