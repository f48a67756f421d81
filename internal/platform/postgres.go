package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ChangeChannel is the LISTEN channel that table triggers notify on.
const ChangeChannel = "table_changes"

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PGClient implements Client on a Postgres pool.
type PGClient struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPGClient wraps pool.
func NewPGClient(pool *pgxpool.Pool) *PGClient {
	return &PGClient{pool: pool, q: pool}
}

func (c *PGClient) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	stmt, err := compileSelect(table, q)
	if err != nil {
		return nil, err
	}
	return c.collect(ctx, stmt)
}

func (c *PGClient) Count(ctx context.Context, table string, filters []Filter) (int64, error) {
	stmt, err := compileCount(table, filters)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.q.QueryRow(ctx, stmt.sql, stmt.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (c *PGClient) Insert(ctx context.Context, table string, rows ...Row) ([]Row, error) {
	stmt, err := compileInsert(table, rows)
	if err != nil {
		return nil, err
	}
	return c.collect(ctx, stmt)
}

func (c *PGClient) Update(ctx context.Context, table string, values Row, filters []Filter) ([]Row, error) {
	stmt, err := compileUpdate(table, values, filters)
	if err != nil {
		return nil, err
	}
	return c.collect(ctx, stmt)
}

func (c *PGClient) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	stmt, err := compileDelete(table, filters)
	if err != nil {
		return 0, err
	}
	tag, err := c.q.Exec(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func (c *PGClient) Call(ctx context.Context, fn string, params map[string]any) ([]Row, error) {
	stmt, err := compileCall(fn, params)
	if err != nil {
		return nil, err
	}
	return c.collect(ctx, stmt)
}

// Subscribe listens for change notifications of table. The channel closes
// when ctx ends or the connection fails.
func (c *PGClient) Subscribe(ctx context.Context, table string) (<-chan Change, error) {
	if err := checkIdent("table", table); err != nil {
		return nil, err
	}
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+quote(ChangeChannel)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("table", table).Msg("platform: listener stopped")
				}
				// The connection may still be listening; drop it instead of returning it to the pool.
				_ = conn.Conn().Close(context.Background())
				return
			}
			var ch Change
			if err := json.Unmarshal([]byte(n.Payload), &ch); err != nil {
				log.Warn().Err(err).Msg("platform: malformed change payload")
				continue
			}
			if ch.Table != table {
				continue
			}
			select {
			case out <- ch:
			case <-ctx.Done():
				_ = conn.Conn().Close(context.Background())
				return
			}
		}
	}()
	return out, nil
}

func (c *PGClient) collect(ctx context.Context, stmt statement) ([]Row, error) {
	rows, err := c.q.Query(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return nil, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		for k, v := range m {
			m[k] = normalizeValue(v)
		}
		out[i] = Row(m)
	}
	return out, nil
}

// normalizeValue turns driver-specific representations into plain values.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	default:
		return v
	}
}
