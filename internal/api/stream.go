package api

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	streamBuffer = 16
)

// priceMessage is pushed to stream clients on every price change.
type priceMessage struct {
	AssetID string  `json:"asset_id"`
	Price   float64 `json:"price"`
	Time    int64   `json:"time"`
}

func (h *APIHandler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(h.allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(h.allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// StreamPrices handles GET /assets/:id/stream. It upgrades to a websocket and pushes
// every price change of the asset until the client disconnects.
func (h *APIHandler) StreamPrices(c *gin.Context) {
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

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn("Websocket upgrade failed", slog.String("asset", assetID), slog.Any("error", err))
		return
	}
	defer conn.Close()

	h.metrics.IncrementStreams()
	defer h.metrics.DecrementStreams()

	// The listener runs on the hub's delivery path and must never block it.
	updates := make(chan float64, streamBuffer)
	id := h.market.SubscribeToPriceUpdates(c.Request.Context(), assetID, func(price float64) {
		select {
		case updates <- price:
		default:
		}
	}, seed)
	defer h.market.UnsubscribeFromPriceUpdates(assetID, id)

	h.logger.Info("Price stream opened", slog.String("asset", assetID), slog.Uint64("subscription", uint64(id)))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("Price stream closed", slog.String("asset", assetID))
			return
		case price := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			msg := priceMessage{AssetID: assetID, Price: price, Time: time.Now().UnixMilli()}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
