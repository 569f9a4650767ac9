package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"realty_go/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the LISTEN channel fed by the insert triggers.
const NotifyChannel = "realty_inserts"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS orders (
	id         TEXT PRIMARY KEY,
	token_id   TEXT NOT NULL,
	amount     DOUBLE PRECISION NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	order_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	buyer_id   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_orders_token ON orders (token_id);

CREATE TABLE IF NOT EXISTS trade_history (
	id         TEXT PRIMARY KEY,
	token_id   TEXT NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	volume     DOUBLE PRECISION NOT NULL,
	trade_type TEXT NOT NULL,
	trader_id  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trade_token_created ON trade_history (token_id, created_at);

CREATE TABLE IF NOT EXISTS asset_metadata (
	metadata_cid TEXT PRIMARY KEY,
	token_id     TEXT NOT NULL,
	owner        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION realty_notify_insert() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('realty_inserts', json_build_object('table', TG_TABLE_NAME, 'record', row_to_json(NEW))::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS orders_notify ON orders;
CREATE TRIGGER orders_notify AFTER INSERT ON orders FOR EACH ROW EXECUTE FUNCTION realty_notify_insert();
DROP TRIGGER IF EXISTS trade_history_notify ON trade_history;
CREATE TRIGGER trade_history_notify AFTER INSERT ON trade_history FOR EACH ROW EXECUTE FUNCTION realty_notify_insert();
DROP TRIGGER IF EXISTS asset_metadata_notify ON asset_metadata;
CREATE TRIGGER asset_metadata_notify AFTER INSERT ON asset_metadata FOR EACH ROW EXECUTE FUNCTION realty_notify_insert();
`

// PostgresConfig holds connection settings for the Postgres gateway.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	MaxConns int32
}

// DSN renders the connection URL with credentials escaped.
func (c PostgresConfig) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	return u.String()
}

// PostgresStore is the Postgres persistence gateway. Its change feed is driven by
// LISTEN/NOTIFY, so inserts made by other processes reach local handlers too.
type PostgresStore struct {
	pool *pgxpool.Pool
	feed *changeFeed
}

var _ domain.Store = (*PostgresStore)(nil)

// NewPostgresStore connects, applies the schema and returns the store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, domain.WrapService(service, "connect", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &PostgresStore{pool: pool, feed: newChangeFeed()}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// OnInsert registers a change feed handler. Events arrive once Listen is running.
func (s *PostgresStore) OnInsert(table string, handler domain.InsertHandler) {
	s.feed.OnInsert(table, handler)
}

// Listen subscribes to the insert channel and dispatches notifications until ctx ends.
func (s *PostgresStore) Listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return domain.WrapService(service, "acquire listener", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return domain.WrapService(service, "listen", err)
	}
	slog.Info("Listening for inserts", slog.String("channel", NotifyChannel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return domain.WrapService(service, "wait for notification", err)
		}

		ev, err := decodeNotification(n.Payload)
		if err != nil {
			slog.Warn("Dropping malformed notification", slog.Any("error", err))
			continue
		}
		s.feed.publish(ev)
	}
}

type notification struct {
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// metadataRecord mirrors the asset_metadata column names.
type metadataRecord struct {
	MetadataCID string    `json:"metadata_cid"`
	TokenID     string    `json:"token_id"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
}

func decodeNotification(payload string) (domain.InsertEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return domain.InsertEvent{}, fmt.Errorf("invalid payload: %w", err)
	}

	ev := domain.InsertEvent{Table: n.Table}
	switch n.Table {
	case domain.TableOrders:
		var o domain.Order
		if err := json.Unmarshal(n.Record, &o); err != nil {
			return ev, fmt.Errorf("invalid order record: %w", err)
		}
		ev.Order = &o
	case domain.TableTradeHistory:
		var t domain.Trade
		if err := json.Unmarshal(n.Record, &t); err != nil {
			return ev, fmt.Errorf("invalid trade record: %w", err)
		}
		ev.Trade = &t
	case domain.TableAssetMetadata:
		var m metadataRecord
		if err := json.Unmarshal(n.Record, &m); err != nil {
			return ev, fmt.Errorf("invalid metadata record: %w", err)
		}
		ev.Metadata = &domain.AssetMetadata{
			MetadataCID: m.MetadataCID,
			TokenID:     m.TokenID,
			Owner:       m.Owner,
			CreatedAt:   m.CreatedAt,
		}
	default:
		return ev, fmt.Errorf("unknown table %q", n.Table)
	}
	return ev, nil
}

// InsertOrder stores a new order.
func (s *PostgresStore) InsertOrder(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, token_id, amount, price, order_type, status, buyer_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID, order.TokenID, order.Amount, order.Price,
		string(order.OrderType), string(order.Status), order.BuyerID, order.CreatedAt,
	)
	if err != nil {
		return domain.WrapService(service, "insert order", err)
	}
	return nil
}

// UpdateOrderStatus moves an order to a new status.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return domain.WrapService(service, "update order", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

const orderColumns = `id, token_id, amount, price, order_type, status, buyer_id, created_at`

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var o domain.Order
	var side, status string
	err := row.Scan(&o.ID, &o.TokenID, &o.Amount, &o.Price, &side, &status, &o.BuyerID, &o.CreatedAt)
	o.OrderType = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	return o, err
}

// GetOrder retrieves an order by id.
func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, domain.WrapService(service, "get order", err)
	}
	order, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.WrapService(service, "scan order", err)
	}
	return &order, nil
}

// OrdersByToken lists the orders of a token, newest first.
func (s *PostgresStore) OrdersByToken(ctx context.Context, tokenID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE token_id = $1 ORDER BY created_at DESC`, tokenID)
	if err != nil {
		return nil, domain.WrapService(service, "list orders", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, domain.WrapService(service, "scan orders", err)
	}
	return orders, nil
}

// InsertTrade stores a trade.
func (s *PostgresStore) InsertTrade(ctx context.Context, trade *domain.Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_history (id, token_id, price, volume, trade_type, trader_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		trade.ID, trade.TokenID, trade.Price, trade.Volume,
		string(trade.TradeType), trade.TraderID, trade.CreatedAt,
	)
	if err != nil {
		return domain.WrapService(service, "insert trade", err)
	}
	return nil
}

// RecentTrades returns up to limit of the newest trades of a token in chronological order.
func (s *PostgresStore) RecentTrades(ctx context.Context, tokenID string, limit int) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, token_id, price, volume, trade_type, trader_id, created_at FROM (
			SELECT * FROM trade_history WHERE token_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at ASC`,
		tokenID, limit,
	)
	if err != nil {
		return nil, domain.WrapService(service, "query recent trades", err)
	}

	trades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Trade, error) {
		var t domain.Trade
		var side string
		err := row.Scan(&t.ID, &t.TokenID, &t.Price, &t.Volume, &side, &t.TraderID, &t.CreatedAt)
		t.TradeType = domain.Side(side)
		return t, err
	})
	if err != nil {
		return nil, domain.WrapService(service, "scan recent trades", err)
	}
	return trades, nil
}

// SaveMetadataCID records the metadata CID of a token.
func (s *PostgresStore) SaveMetadataCID(ctx context.Context, meta *domain.AssetMetadata) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO asset_metadata (metadata_cid, token_id, owner, created_at) VALUES ($1, $2, $3, $4)`,
		meta.MetadataCID, meta.TokenID, meta.Owner, meta.CreatedAt,
	)
	if err != nil {
		return domain.WrapService(service, "save metadata CID", err)
	}
	return nil
}

// TokenIDByMetadataCID resolves the token minted for a metadata CID.
func (s *PostgresStore) TokenIDByMetadataCID(ctx context.Context, cid string) (string, error) {
	var tokenID string
	err := s.pool.QueryRow(ctx, `SELECT token_id FROM asset_metadata WHERE metadata_cid = $1`, cid).Scan(&tokenID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("metadata %s: %w", cid, domain.ErrNotFound)
	}
	if err != nil {
		return "", domain.WrapService(service, "fetch token id", err)
	}
	return tokenID, nil
}

// ListAssetMetadata returns every asset metadata row.
func (s *PostgresStore) ListAssetMetadata(ctx context.Context) ([]domain.AssetMetadata, error) {
	rows, err := s.pool.Query(ctx, `SELECT metadata_cid, token_id, owner, created_at FROM asset_metadata ORDER BY created_at`)
	if err != nil {
		return nil, domain.WrapService(service, "list metadata", err)
	}
	metas, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AssetMetadata, error) {
		var m domain.AssetMetadata
		err := row.Scan(&m.MetadataCID, &m.TokenID, &m.Owner, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, domain.WrapService(service, "scan metadata", err)
	}
	return metas, nil
}
