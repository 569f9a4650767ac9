package api

import (
	"context"
	"log/slog"
	"time"

	"realty_go/internal/domain"
	"realty_go/internal/infra"
	"realty_go/internal/infra/mirror"
	"realty_go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Layout:
// - api.go: handler dependencies and routing (this file)
// - handler.go: HTTP request handlers
// - stream.go: websocket price stream
// - middleware.go: middleware functions
// - validator.go: request validation

// Constants
const (
	DefaultTimeout      = 30 * time.Second
	OrderTimeout        = 90 * time.Second
	ServiceVersion      = "0.1.0"
	ServiceName         = "realty-market"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// MarketService serves chart, order book and price impact data.
type MarketService interface {
	TokenChartData(ctx context.Context, assetID string, initialPrice float64) []domain.Candle
	SyntheticChart(assetID string) []domain.Candle
	Assets() []string
	OrderBook(assetID string) domain.OrderBook
	ReferencePrice(assetID string) (float64, bool)
	UpdateTokenPrice(assetID string, previousPrice, amount float64, side domain.Side) float64
	SubscribeToPriceUpdates(ctx context.Context, assetID string, fn service.PriceListener, initialPrice float64) service.SubscriptionID
	UnsubscribeFromPriceUpdates(assetID string, id service.SubscriptionID)
}

// OrderService places and looks up orders.
type OrderService interface {
	PlaceOrder(ctx context.Context, req service.OrderRequest) (*service.OrderResult, error)
	Order(ctx context.Context, id string) (*domain.Order, error)
	OrdersByToken(ctx context.Context, tokenID string) ([]domain.Order, error)
}

// AssociationService checks and creates token associations.
type AssociationService interface {
	IsTokenAssociated(ctx context.Context, w domain.Wallet, tokenID string) (bool, error)
	AssociateToken(ctx context.Context, w domain.Wallet, tokenID string) (*service.AssociationResult, error)
}

// ListingService lists assets with their documents.
type ListingService interface {
	ListAsset(ctx context.Context, req service.ListingRequest) (*service.ListingResult, error)
	Listings(ctx context.Context) ([]domain.AssetMetadata, error)
	Document(ctx context.Context, metadataCID string) (*domain.AssetDocument, error)
}

// AccountService reads account balances.
type AccountService interface {
	Balances(ctx context.Context, accountID string) (mirror.Balances, error)
}

// APIHandler handles HTTP requests using Gin framework
type APIHandler struct {
	market         MarketService
	orders         OrderService
	associations   AssociationService
	listings       ListingService
	accounts       AccountService
	registry       *prometheus.Registry
	metrics        *infra.Metrics
	allowedOrigins []string
	validator      *Validator
	logger         *slog.Logger
}

// Option configures optional APIHandler dependencies.
type Option func(*APIHandler)

// WithRegistry exposes the registry on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(h *APIHandler) { h.registry = reg }
}

// WithListings enables the /listings routes.
func WithListings(l ListingService) Option {
	return func(h *APIHandler) { h.listings = l }
}

// WithAccounts enables GET /accounts/:id/balances.
func WithAccounts(a AccountService) Option {
	return func(h *APIHandler) { h.accounts = a }
}

// WithMetrics sets the metrics sink for stream gauges.
func WithMetrics(m *infra.Metrics) Option {
	return func(h *APIHandler) { h.metrics = m }
}

// WithAllowedOrigins restricts CORS and websocket origins. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *APIHandler) { h.allowedOrigins = origins }
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(market MarketService, orders OrderService, associations AssociationService, logger *slog.Logger, opts ...Option) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &APIHandler{
		market:       market,
		orders:       orders,
		associations: associations,
		metrics:      infra.GlobalMetrics,
		validator:    GetValidator(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetupRoutes configures all API routes
func (h *APIHandler) SetupRoutes() *gin.Engine {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Add middleware
	router.Use(requestIDMiddleware())
	router.Use(ginLoggerMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(h.allowedOrigins))

	router.GET("/assets", h.GetAssets)
	assets := router.Group("/assets/:id")
	assets.GET("/chart", h.GetChart)
	assets.GET("/orderbook", h.GetOrderBook)
	assets.POST("/impact", h.PostImpact)
	assets.GET("/association", h.GetAssociation)
	assets.POST("/association", h.PostAssociation)
	assets.GET("/stream", h.StreamPrices)

	router.POST("/orders", h.PostOrder)
	router.GET("/orders", h.GetOrders)
	router.GET("/orders/:id", h.GetOrder)
	router.GET("/health", h.HealthCheck)
	if h.listings != nil {
		router.POST("/listings", h.PostListing)
		router.GET("/listings", h.GetListings)
		router.GET("/listings/:cid", h.GetListing)
	}
	if h.accounts != nil {
		router.GET("/accounts/:id/balances", h.GetBalances)
	}
	if h.registry != nil {
		router.GET("/metrics", gin.WrapH(infra.MetricsHandler(h.registry)))
	}

	return router
}
