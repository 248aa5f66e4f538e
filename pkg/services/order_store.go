package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
)

// ErrRecommendationNotFound is returned when no pending recommendation exists for an item.
var ErrRecommendationNotFound = errors.New("recommendation not found")

// OrderStore 注文履歴と推薦ログの永続化
type OrderStore interface {
	SaveOrders(ctx context.Context, orders []models.Order) error
	ListOrders(ctx context.Context) ([]models.Order, error)
	RecentOrders(ctx context.Context, limit int) ([]models.Order, error)
	OrderCount(ctx context.Context) (int, error)
	ItemCount(ctx context.Context) (int, error)
	SaveRecommendations(ctx context.Context, recs []models.Recommendation) error
	UpdateRecommendationAction(ctx context.Context, itemID, action string, addedToBasket bool, reason string) error
	RecommendationLog(ctx context.Context, limit int) ([]models.RecommendationLogEntry, error)
	Close() error
}

const orderSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	order_date       TIMESTAMP NOT NULL,
	order_date_local TEXT,
	total_amount     TEXT,
	synced_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS order_lines (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	item_id    TEXT NOT NULL,
	item_name  TEXT NOT NULL,
	quantity   INTEGER NOT NULL,
	unit_price TEXT,
	category   TEXT,
	brand      TEXT
);

CREATE INDEX IF NOT EXISTS idx_order_lines_order ON order_lines(order_id);
CREATE INDEX IF NOT EXISTS idx_order_lines_item ON order_lines(item_id);
CREATE INDEX IF NOT EXISTS idx_orders_date ON orders(order_date);

CREATE TABLE IF NOT EXISTS recommendation_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id            TEXT NOT NULL,
	item_name          TEXT NOT NULL,
	score              REAL NOT NULL,
	suggested_quantity INTEGER NOT NULL,
	reasoning          TEXT NOT NULL,
	action             TEXT NOT NULL DEFAULT 'pending',
	added_to_basket    INTEGER NOT NULL DEFAULT 0,
	reason             TEXT,
	created_at         TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendation_log_item ON recommendation_log(item_id, action);
`

// SQLiteOrderStore stores orders in a local SQLite database.
type SQLiteOrderStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteOrderStore opens (or creates) the database at path and applies the schema.
func NewSQLiteOrderStore(path string) (*SQLiteOrderStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(orderSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := ensureColumn(db, "orders", "order_date_local", "TEXT"); err != nil {
		db.Close()
		return nil, err
	}

	logging.Debug().Str("path", path).Msg("order store opened")
	return &SQLiteOrderStore{db: db, now: time.Now}, nil
}

// SaveOrders upserts orders and replaces their lines in a single transaction.
func (s *SQLiteOrderStore) SaveOrders(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	syncedAt := s.now().UTC()
	for _, o := range orders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, order_date, order_date_local, total_amount, synced_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET order_date = excluded.order_date,
				order_date_local = excluded.order_date_local,
				total_amount = excluded.total_amount, synced_at = excluded.synced_at`,
			o.ID, o.OrderDate.UTC(), o.OrderDate.Format(time.RFC3339Nano), decimalToNull(o.TotalAmount), syncedAt,
		); err != nil {
			return fmt.Errorf("failed to save order %s: %w", o.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = ?`, o.ID); err != nil {
			return fmt.Errorf("failed to replace lines of order %s: %w", o.ID, err)
		}
		for i, l := range o.Lines {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_lines (order_id, position, item_id, item_name, quantity, unit_price, category, brand)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				o.ID, i, l.ItemID, l.ItemName, l.Quantity, decimalToNull(l.UnitPrice), l.Category, l.Brand,
			); err != nil {
				return fmt.Errorf("failed to save line %d of order %s: %w", i, o.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit orders: %w", err)
	}
	logging.Info().Int("orders", len(orders)).Msg("orders saved")
	return nil
}

// ListOrders returns every stored order, oldest first.
func (s *SQLiteOrderStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.queryOrders(ctx, `SELECT id, order_date, order_date_local, total_amount FROM orders ORDER BY order_date ASC, id ASC`)
}

// RecentOrders returns the newest limit orders, newest first.
func (s *SQLiteOrderStore) RecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryOrders(ctx, `SELECT id, order_date, order_date_local, total_amount FROM orders ORDER BY order_date DESC, id ASC LIMIT ?`, limit)
}

// queryOrders runs an orders query selecting (id, order_date, order_date_local, total_amount)
// and loads the lines of exactly the orders it returned.
func (s *SQLiteOrderStore) queryOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var orders []models.Order
	index := make(map[string]int)
	for rows.Next() {
		var (
			o     models.Order
			local sql.NullString
			total sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.OrderDate, &local, &total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		// the local form keeps the offset, so the calendar date survives the round trip
		if local.Valid && local.String != "" {
			if t, err := time.Parse(time.RFC3339Nano, local.String); err == nil {
				o.OrderDate = t
			}
		}
		if o.TotalAmount, err = nullToDecimal(total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("order %s: %w", o.ID, err)
		}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	rows.Close()

	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := s.db.QueryContext(ctx, `
		SELECT order_id, item_id, item_name, quantity, unit_price, category, brand
		FROM order_lines
		WHERE order_id IN (SELECT id FROM (`+query+`))
		ORDER BY order_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer lines.Close()

	for lines.Next() {
		var (
			orderID         string
			l               models.OrderLine
			price           sql.NullString
			category, brand sql.NullString
		)
		if err := lines.Scan(&orderID, &l.ItemID, &l.ItemName, &l.Quantity, &price, &category, &brand); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		i, ok := index[orderID]
		if !ok {
			continue
		}
		if l.UnitPrice, err = nullToDecimal(price); err != nil {
			return nil, fmt.Errorf("order %s item %s: %w", orderID, l.ItemID, err)
		}
		l.Category = category.String
		l.Brand = brand.String
		orders[i].Lines = append(orders[i].Lines, l)
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("failed to read order lines: %w", err)
	}

	return orders, nil
}

// OrderCount returns the number of stored orders.
func (s *SQLiteOrderStore) OrderCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

// ItemCount returns the number of distinct items across all orders.
func (s *SQLiteOrderStore) ItemCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT item_id) FROM order_lines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// SaveRecommendations appends recommendations to the log as pending.
func (s *SQLiteOrderStore) SaveRecommendations(ctx context.Context, recs []models.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := s.now().UTC()
	for _, r := range recs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recommendation_log (item_id, item_name, score, suggested_quantity, reasoning, action, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ItemID, r.ItemName, r.Score, r.SuggestedQuantity, r.Reasoning, models.ActionPending, createdAt,
		); err != nil {
			return fmt.Errorf("failed to log recommendation %s: %w", r.ItemID, err)
		}
	}
	return tx.Commit()
}

// UpdateRecommendationAction records the outcome on the newest pending entry for the item.
func (s *SQLiteOrderStore) UpdateRecommendationAction(ctx context.Context, itemID, action string, addedToBasket bool, reason string) error {
	switch action {
	case models.ActionAccepted, models.ActionRejected, models.ActionPending:
	default:
		return fmt.Errorf("unknown recommendation action %q", action)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE recommendation_log SET action = ?, added_to_basket = ?, reason = ?
		WHERE id = (
			SELECT id FROM recommendation_log
			WHERE item_id = ? AND action = ?
			ORDER BY created_at DESC, id DESC LIMIT 1
		)`,
		action, addedToBasket, reason, itemID, models.ActionPending,
	)
	if err != nil {
		return fmt.Errorf("failed to update recommendation %s: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update recommendation %s: %w", itemID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRecommendationNotFound, itemID)
	}
	return nil
}

// RecommendationLog returns the newest log entries.
func (s *SQLiteOrderStore) RecommendationLog(ctx context.Context, limit int) ([]models.RecommendationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, item_name, score, suggested_quantity, reasoning, action, added_to_basket, reason, created_at
		FROM recommendation_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendation log: %w", err)
	}
	defer rows.Close()

	var entries []models.RecommendationLogEntry
	for rows.Next() {
		var (
			e      models.RecommendationLogEntry
			reason sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &e.ItemName, &e.Score, &e.SuggestedQuantity, &e.Reasoning,
			&e.Action, &e.AddedToBasket, &reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation log: %w", err)
		}
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLiteOrderStore) Close() error {
	return s.db.Close()
}

// ensureColumn adds a column to databases created before it existed.
func ensureColumn(db *sql.DB, table, column, typ string) error {
	rows, err := db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, ctyp string
			notNull    int
			dflt       sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctyp, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	rows.Close()

	if _, err := db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + typ); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

func decimalToNull(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullToDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", s.String, err)
	}
	return &d, nil
}
