package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"realty_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const service = "database"

// Storage is the SQLite persistence gateway for orders, trades and asset metadata.
type Storage struct {
	db   *gorm.DB
	feed *changeFeed
}

var _ domain.Store = (*Storage)(nil)

// NewStorage opens (or creates) the SQLite database at path.
// An empty path resolves to the per-user data directory.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		var err error
		path, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db)
}

func newStorage(db *gorm.DB) (*Storage, error) {
	// Auto Migration
	if err := db.AutoMigrate(&domain.Order{}, &domain.Trade{}, &domain.AssetMetadata{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db, feed: newChangeFeed()}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "RealtyGo", "data", "realty.db"), nil
}

// OnInsert registers a change feed handler, called after each committed insert into table.
func (s *Storage) OnInsert(table string, handler domain.InsertHandler) {
	s.feed.OnInsert(table, handler)
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Order Operations
// ======================================================================================

// InsertOrder stores a new order, assigning an id and timestamp when missing.
func (s *Storage) InsertOrder(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return domain.WrapService(service, "insert order", err)
	}

	row := *order
	s.feed.publish(domain.InsertEvent{Table: domain.TableOrders, Order: &row})
	return nil
}

// UpdateOrderStatus moves an order to a new status.
func (s *Storage) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	res := s.db.WithContext(ctx).Model(&domain.Order{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return domain.WrapService(service, "update order", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetOrder retrieves an order by id
func (s *Storage) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.WrapService(service, "get order", err)
	}
	return &order, nil
}

// OrdersByToken lists the orders of a token, newest first.
func (s *Storage) OrdersByToken(ctx context.Context, tokenID string) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, domain.WrapService(service, "list orders", err)
	}
	return orders, nil
}

// ======================================================================================
// Trade Operations
// ======================================================================================

// InsertTrade stores a trade and publishes it on the change feed.
func (s *Storage) InsertTrade(ctx context.Context, trade *domain.Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(trade).Error; err != nil {
		return domain.WrapService(service, "insert trade", err)
	}

	row := *trade
	s.feed.publish(domain.InsertEvent{Table: domain.TableTradeHistory, Trade: &row})
	return nil
}

// RecentTrades returns up to limit of the newest trades of a token in chronological order.
func (s *Storage) RecentTrades(ctx context.Context, tokenID string, limit int) ([]domain.Trade, error) {
	var trades []domain.Trade
	err := s.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("created_at DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, domain.WrapService(service, "query recent trades", err)
	}

	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}

// ======================================================================================
// Asset Metadata Operations
// ======================================================================================

// SaveMetadataCID records the metadata CID of a token.
func (s *Storage) SaveMetadataCID(ctx context.Context, meta *domain.AssetMetadata) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(meta).Error; err != nil {
		return domain.WrapService(service, "save metadata CID", err)
	}

	row := *meta
	s.feed.publish(domain.InsertEvent{Table: domain.TableAssetMetadata, Metadata: &row})
	return nil
}

// TokenIDByMetadataCID resolves the token minted for a metadata CID.
func (s *Storage) TokenIDByMetadataCID(ctx context.Context, cid string) (string, error) {
	var meta domain.AssetMetadata
	err := s.db.WithContext(ctx).Select("token_id").First(&meta, "metadata_cid = ?", cid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("metadata %s: %w", cid, domain.ErrNotFound)
	}
	if err != nil {
		return "", domain.WrapService(service, "fetch token id", err)
	}
	return meta.TokenID, nil
}

// ListAssetMetadata returns every asset metadata row.
func (s *Storage) ListAssetMetadata(ctx context.Context) ([]domain.AssetMetadata, error) {
	var rows []domain.AssetMetadata
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, domain.WrapService(service, "list metadata", err)
	}
	return rows, nil
}
