package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/amirphl/cross-trader/internal/config"
	"github.com/amirphl/cross-trader/internal/journal"
	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/traderr"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

type Default struct {
	db *sql.DB
}

// New opens a postgres-backed store.
func New(connStr string, maxOpen, maxIdle int) (*Default, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, traderr.Wrap(traderr.KindStorage, err, "failed to open database")
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if err := sqlDB.Ping(); err != nil {
		return nil, traderr.Wrap(traderr.KindStorage, err, "failed to ping database")
	}
	return &Default{db: sqlDB}, nil
}

// NewWithDB wraps an already-open connection, used by tests.
func NewWithDB(sqlDB *sql.DB) *Default {
	return &Default{db: sqlDB}
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return traderr.Wrap(traderr.KindStorage, err, "failed to begin transaction")
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return traderr.Wrap(traderr.KindStorage, rbErr, "transaction rollback failed (original error: %v)", fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return traderr.Wrap(traderr.KindStorage, commitErr, "transaction commit failed")
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Default) SaveOrder(ctx context.Context, o order.Order, cur order.CurrentOrder) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO orders (client_id, order_id, symbol, side, type, price, quantity, status, filled_qty, avg_price, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (client_id) DO UPDATE SET order_id=EXCLUDED.order_id, status=EXCLUDED.status, filled_qty=EXCLUDED.filled_qty, avg_price=EXCLUDED.avg_price, updated_at=EXCLUDED.updated_at`,
			o.ClientID, cur.OrderID, o.Instrument.VenueSymbol, o.Side, o.Type, o.Price, o.Quantity, cur.Status, cur.FilledQty, cur.AvgPrice, cur.UpdatedAt)
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to save order %s", o.ClientID)
		}
		return nil
	})
}

func (p *Default) GetOrder(ctx context.Context, clientID string) (order.Order, order.CurrentOrder, error) {
	var o order.Order
	var cur order.CurrentOrder
	rows, err := p.queryWithTransaction(ctx, `SELECT client_id, order_id, symbol, side, type, price, quantity, status, filled_qty, avg_price, updated_at FROM orders WHERE client_id=$1`, clientID)
	if err != nil {
		return o, cur, traderr.Wrap(traderr.KindStorage, err, "failed to query order")
	}
	defer rows.Close()

	if !rows.Next() {
		return o, cur, traderr.New(traderr.KindStorage, "order %s not found", clientID)
	}
	if err := rows.Scan(&o.ClientID, &cur.OrderID, &o.Instrument.VenueSymbol, &o.Side, &o.Type, &o.Price, &o.Quantity, &cur.Status, &cur.FilledQty, &cur.AvgPrice, &cur.UpdatedAt); err != nil {
		return o, cur, traderr.Wrap(traderr.KindStorage, err, "failed to scan order")
	}
	cur.ClientID = o.ClientID
	cur.UpdatedAt = cur.UpdatedAt.UTC()
	return o, cur, nil
}

func (p *Default) GetOpenOrders(ctx context.Context) ([]order.CurrentOrder, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT client_id, order_id, status, filled_qty, avg_price, updated_at FROM orders WHERE closed=false AND status NOT IN ('FILLED', 'CANCELED')`)
	if err != nil {
		return nil, traderr.Wrap(traderr.KindStorage, err, "failed to query open orders")
	}
	defer rows.Close()
	var orders []order.CurrentOrder
	for rows.Next() {
		var cur order.CurrentOrder
		if err := rows.Scan(&cur.ClientID, &cur.OrderID, &cur.Status, &cur.FilledQty, &cur.AvgPrice, &cur.UpdatedAt); err != nil {
			return nil, traderr.Wrap(traderr.KindStorage, err, "failed to scan open order")
		}
		cur.UpdatedAt = cur.UpdatedAt.UTC()
		orders = append(orders, cur)
	}
	return orders, nil
}

func (p *Default) CloseOrder(ctx context.Context, clientID string) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE orders SET closed=true, updated_at=$1 WHERE client_id=$2`, time.Now().UTC(), clientID)
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to close order %s", clientID)
		}
		return nil
	})
}

func (p *Default) SaveSnapshot(ctx context.Context, pos market.Position) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO position_snapshots (account, symbol, quantity, taken_at) VALUES ($1,$2,$3,$4)`,
			pos.Account, pos.Symbol, pos.Quantity, pos.Timestamp)
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to save snapshot for %s/%s", pos.Account, pos.Symbol)
		}
		return nil
	})
}

func (p *Default) GetSnapshots(ctx context.Context, account, symbol string, start, end time.Time) ([]market.Position, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT account, symbol, quantity, taken_at FROM position_snapshots
		WHERE account=$1 AND symbol=$2 AND taken_at >= $3 AND taken_at < $4 ORDER BY taken_at ASC`,
		account, symbol, start, end)
	if err != nil {
		return nil, traderr.Wrap(traderr.KindStorage, err, "failed to query snapshots")
	}
	defer rows.Close()
	var out []market.Position
	for rows.Next() {
		var pos market.Position
		if err := rows.Scan(&pos.Account, &pos.Symbol, &pos.Quantity, &pos.Timestamp); err != nil {
			return nil, traderr.Wrap(traderr.KindStorage, err, "failed to scan snapshot")
		}
		pos.Timestamp = pos.Timestamp.UTC()
		out = append(out, pos)
	}
	return out, nil
}

func (p *Default) SaveRestriction(ctx context.Context, account, symbol, restriction string) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO side_restrictions (account, symbol, restriction, updated_at) VALUES ($1,$2,$3,$4)
			ON CONFLICT (account, symbol) DO UPDATE SET restriction=EXCLUDED.restriction, updated_at=EXCLUDED.updated_at`,
			account, symbol, restriction, time.Now().UTC())
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to save restriction for %s/%s", account, symbol)
		}
		return nil
	})
}

func (p *Default) LoadRestrictions(ctx context.Context) (map[string]string, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT account, symbol, restriction FROM side_restrictions`)
	if err != nil {
		return nil, traderr.Wrap(traderr.KindStorage, err, "failed to query restrictions")
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var account, symbol, restriction string
		if err := rows.Scan(&account, &symbol, &restriction); err != nil {
			return nil, traderr.Wrap(traderr.KindStorage, err, "failed to scan restriction")
		}
		out[RestrictionKey(account, symbol)] = restriction
	}
	return out, nil
}

func (p *Default) SaveStrategyConfig(ctx context.Context, sc config.StrategyConfig) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		props, err := json.Marshal(sc.Props)
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to marshal props for strategy %s", sc.Name)
		}
		symbols, err := json.Marshal(sc.Symbols)
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to marshal symbols for strategy %s", sc.Name)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO strategy_configs (id, name, executor, account, enabled, symbols, props)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, executor=EXCLUDED.executor, account=EXCLUDED.account, enabled=EXCLUDED.enabled, symbols=EXCLUDED.symbols, props=EXCLUDED.props`,
			sc.ID, sc.Name, sc.Executor, sc.Account, sc.Enabled, symbols, props)
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to save strategy config %s", sc.Name)
		}
		return nil
	})
}

func (p *Default) ListStrategyConfigs(ctx context.Context) ([]config.StrategyConfig, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT id, name, executor, account, enabled, symbols, props FROM strategy_configs ORDER BY id ASC`)
	if err != nil {
		return nil, traderr.Wrap(traderr.KindStorage, err, "failed to query strategy configs")
	}
	defer rows.Close()
	var out []config.StrategyConfig
	for rows.Next() {
		var sc config.StrategyConfig
		var symbols, props []byte
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Executor, &sc.Account, &sc.Enabled, &symbols, &props); err != nil {
			return nil, traderr.Wrap(traderr.KindStorage, err, "failed to scan strategy config")
		}
		if err := json.Unmarshal(symbols, &sc.Symbols); err != nil {
			return nil, traderr.Wrap(traderr.KindStorage, err, "failed to unmarshal symbols for strategy %s", sc.Name)
		}
		if err := json.Unmarshal(props, &sc.Props); err != nil {
			return nil, traderr.Wrap(traderr.KindStorage, err, "failed to unmarshal props for strategy %s", sc.Name)
		}
		out = append(out, sc)
	}
	return out, nil
}

func (p *Default) DeleteStrategyConfig(ctx context.Context, id int64) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM strategy_configs WHERE id=$1`, id)
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to delete strategy config %d", id)
		}
		return nil
	})
}

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to marshal event data")
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time, event.Type, event.Description, data)
		if err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "failed to log event")
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT time, type, description, data FROM events WHERE type=$1 AND time >= $2 AND time <= $3 ORDER BY time ASC`, eventType, start, end)
	if err != nil {
		return nil, traderr.Wrap(traderr.KindStorage, err, "failed to query events")
	}
	defer rows.Close()
	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, traderr.Wrap(traderr.KindStorage, err, "failed to scan event")
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, traderr.Wrap(traderr.KindStorage, err, "failed to unmarshal event data")
			}
		}
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, nil
}
