package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"realty_go/internal/domain"
	"realty_go/internal/service"

	"github.com/gin-gonic/gin"
)

const maxImageSize = 10 << 20

type impactRequest struct {
	PreviousPrice float64 `json:"previous_price"`
	Amount        float64 `json:"amount"`
	Side          string  `json:"side"`
}

type walletFields struct {
	WalletType string `json:"wallet_type"`
	AccountID  string `json:"account_id"`
	PrivateKey string `json:"private_key"`
}

type orderRequest struct {
	walletFields
	TokenID     string  `json:"token_id"`
	Side        string  `json:"side"`
	Amount      float64 `json:"amount"`
	Price       float64 `json:"price"`
	TradingPair string  `json:"trading_pair"`
}

type chartResponse struct {
	AssetID        string          `json:"asset_id"`
	Candles        []domain.Candle `json:"candles"`
	PriceChangePct float64         `json:"price_change_pct"`
}

type assetSummary struct {
	AssetID string  `json:"asset_id"`
	Price   float64 `json:"price"`
}

// GetAssets handles GET /assets
func (h *APIHandler) GetAssets(c *gin.Context) {
	out := []assetSummary{}
	for _, id := range h.market.Assets() {
		if price, ok := h.market.ReferencePrice(id); ok {
			out = append(out, assetSummary{AssetID: id, Price: price})
		}
	}
	c.JSON(http.StatusOK, gin.H{"assets": out})
}

// GetChart handles GET /assets/:id/chart (synthetic=1 returns a random walk)
func (h *APIHandler) GetChart(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	assetID, err := h.validator.ValidateAssetID(c.Param("id"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	seed, err := h.validator.ValidateSeedPrice(c.Query("price"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	var candles []domain.Candle
	if c.Query("synthetic") == "1" {
		candles = h.market.SyntheticChart(assetID)
	} else {
		candles = h.market.TokenChartData(ctx, assetID, seed)
	}
	c.JSON(http.StatusOK, chartResponse{
		AssetID:        assetID,
		Candles:        candles,
		PriceChangePct: domain.PriceChangePct(candles),
	})
}

// GetOrderBook handles GET /assets/:id/orderbook
func (h *APIHandler) GetOrderBook(c *gin.Context) {
	assetID, err := h.validator.ValidateAssetID(c.Param("id"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.market.OrderBook(assetID))
}

// PostImpact handles POST /assets/:id/impact
func (h *APIHandler) PostImpact(c *gin.Context) {
	assetID, err := h.validator.ValidateAssetID(c.Param("id"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	var req impactRequest
	if !h.bindJSON(c, &req) {
		return
	}
	side, err := h.validator.ValidateImpactRequest(req)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	price := h.market.UpdateTokenPrice(assetID, req.PreviousPrice, req.Amount, side)
	c.JSON(http.StatusOK, gin.H{"asset_id": assetID, "price": price})
}

// GetAssociation handles GET /assets/:id/association?account=&wallet_type=
func (h *APIHandler) GetAssociation(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	assetID, err := h.validator.ValidateAssetID(c.Param("id"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	wallet, err := h.validator.ValidateWallet(c.Query("wallet_type"), c.Query("account"), "")
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok, err := h.associations.IsTokenAssociated(ctx, wallet, assetID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset_id": assetID, "account": wallet.Account(), "associated": ok})
}

// PostAssociation handles POST /assets/:id/association
func (h *APIHandler) PostAssociation(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), OrderTimeout)
	defer cancel()

	assetID, err := h.validator.ValidateAssetID(c.Param("id"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	var req walletFields
	if !h.bindJSON(c, &req) {
		return
	}
	wallet, err := h.validator.ValidateWallet(req.WalletType, req.AccountID, req.PrivateKey)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	res, err := h.associations.AssociateToken(ctx, wallet, assetID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// PostOrder handles POST /orders
func (h *APIHandler) PostOrder(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), OrderTimeout)
	defer cancel()

	var req orderRequest
	if !h.bindJSON(c, &req) {
		return
	}

	tokenID, err := h.validator.ValidateAssetID(req.TokenID)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	side, pair, err := h.validator.ValidateOrderRequest(req)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	wallet, err := h.validator.ValidateWallet(req.WalletType, req.AccountID, req.PrivateKey)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	res, err := h.orders.PlaceOrder(ctx, service.OrderRequest{
		TokenID: tokenID,
		Wallet:  wallet,
		Side:    side,
		Amount:  req.Amount,
		Price:   req.Price,
		Pair:    pair,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetOrders handles GET /orders?token_id=
func (h *APIHandler) GetOrders(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	tokenID, err := h.validator.ValidateAssetID(c.Query("token_id"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	orders, err := h.orders.OrdersByToken(ctx, tokenID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_id": tokenID, "orders": orders})
}

// GetOrder handles GET /orders/:id
func (h *APIHandler) GetOrder(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	order, err := h.orders.Order(ctx, h.validator.sanitizeInput(c.Param("id")))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetListings handles GET /listings
func (h *APIHandler) GetListings(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	rows, err := h.listings.Listings(ctx)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": rows})
}

// GetListing handles GET /listings/:cid
func (h *APIHandler) GetListing(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	cid := h.validator.sanitizeInput(c.Param("cid"))
	doc, err := h.listings.Document(ctx, cid)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata_cid": cid, "document": doc})
}

// PostListing handles POST /listings (multipart: image file plus document fields)
func (h *APIHandler) PostListing(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), OrderTimeout)
	defer cancel()

	tokenID, err := h.validator.ValidateAssetID(c.PostForm("token_id"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		h.handleValidationError(c, domain.NewValidationError("image", "cover image is required"))
		return
	}
	if fh.Size > maxImageSize {
		h.handleValidationError(c, domain.NewValidationError("image", "image exceeds %d bytes", maxImageSize))
		return
	}
	file, err := fh.Open()
	if err != nil {
		h.handleError(c, err, http.StatusBadRequest, "Unreadable image")
		return
	}
	defer file.Close()

	res, err := h.listings.ListAsset(ctx, service.ListingRequest{
		TokenID: tokenID,
		Owner:   h.validator.sanitizeInput(c.PostForm("owner")),
		Document: domain.AssetDocument{
			Name:        h.validator.sanitizeInput(c.PostForm("name")),
			Description: h.validator.sanitizeInput(c.PostForm("description")),
			Location:    h.validator.sanitizeInput(c.PostForm("location")),
		},
		ImageName: fh.Filename,
		Image:     file,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetBalances handles GET /accounts/:id/balances
func (h *APIHandler) GetBalances(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	wallet, err := h.validator.ValidateWallet("", c.Param("id"), "")
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	balances, err := h.accounts.Balances(ctx, wallet.Account())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": wallet.Account(), "hbar": balances.HBAR, "usdc": balances.USDC})
}

// HealthCheck handles GET /health requests
func (h *APIHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   ServiceVersion,
	})
}

func (h *APIHandler) bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = errEmptyBody
		}
		h.handleValidationError(c, domain.NewValidationError("body", "%v", err))
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var ve *domain.ValidationError
	var se *domain.ServiceError
	var te *domain.TransactionStatusError
	var ce *domain.ConfigError
	switch {
	case errors.As(err, &ve), errors.Is(err, domain.ErrInvalidSide):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrWalletNotConnected):
		return http.StatusUnauthorized, "Please connect your wallet first"
	case errors.Is(err, domain.ErrTokenNotAssociated):
		return http.StatusConflict, "Token is not associated with this account"
	case errors.Is(err, domain.ErrUnsupportedWallet):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.As(err, &ce):
		return http.StatusServiceUnavailable, "Service not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Upstream timeout"
	case errors.As(err, &te), errors.As(err, &se):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *APIHandler) handleServiceError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	h.handleError(c, err, status, msg)
}

// handleError logs the error and sends appropriate HTTP response
func (h *APIHandler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID, exists := c.Get(RequestIDContextKey)
	requestIDStr := "unknown"
	if exists {
		if id, ok := requestID.(string); ok {
			requestIDStr = id
		}
	}

	h.logger.Error("API error",
		slog.String("request_id", requestIDStr),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
		slog.Int("status_code", statusCode),
	)

	c.JSON(statusCode, gin.H{
		"error":      userMessage,
		"request_id": requestIDStr,
	})
}

// handleValidationError handles validation errors specifically
func (h *APIHandler) handleValidationError(c *gin.Context, err error) {
	h.handleError(c, err, http.StatusBadRequest, err.Error())
}
