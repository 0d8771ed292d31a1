// Package postgres implements the kv.Store contract on PostgreSQL. It is
// the multi-node alternative to the SQLite engine and additionally hosts
// the pgvector-backed entity profile embedding index.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/kairoshq/kairos/internal/kv"
)

// Schema creates the items table.
const Schema = `
CREATE TABLE IF NOT EXISTS kv_items (
	partition  TEXT        NOT NULL,
	sort       TEXT        NOT NULL,
	value      BYTEA       NOT NULL,
	version    BIGINT      NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (partition, sort)
);
`

// Store implements kv.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL using the given DSN and initializes the
// schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateIfAbsent writes the item only if the key is vacant.
func (s *Store) CreateIfAbsent(ctx context.Context, item kv.Item) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_items (partition, sort, value, version)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (partition, sort) DO NOTHING
	`, item.Partition, item.Sort, item.Value)
	if err != nil {
		return fmt.Errorf("postgres: create failed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: create failed: %w", err)
	}
	if rows == 0 {
		return kv.ErrConditionFailed
	}
	return nil
}

// Get reads one item.
func (s *Store) Get(ctx context.Context, partition, sort string) (*kv.Item, error) {
	item := kv.Item{Partition: partition, Sort: sort}
	err := s.db.QueryRowContext(ctx, `
		SELECT value, version FROM kv_items WHERE partition = $1 AND sort = $2
	`, partition, sort).Scan(&item.Value, &item.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get failed: %w", err)
	}
	return &item, nil
}

// ConditionalUpdate replaces the value only when the version guard holds.
func (s *Store) ConditionalUpdate(ctx context.Context, partition, sort string, value []byte, expectVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kv_items
		SET value = $1, version = version + 1, updated_at = now()
		WHERE partition = $2 AND sort = $3 AND version = $4
	`, value, partition, sort, expectVersion)
	if err != nil {
		return fmt.Errorf("postgres: update failed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update failed: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, partition, sort); errors.Is(getErr, kv.ErrNotFound) {
			return kv.ErrNotFound
		}
		return kv.ErrConditionFailed
	}
	return nil
}

// AtomicMultiWrite applies the batch in a single transaction.
func (s *Store) AtomicMultiWrite(ctx context.Context, ops []kv.Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin failed: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit failed: %w", err)
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op kv.Op) error {
	switch op.Kind {
	case kv.OpPut:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv_items (partition, sort, value, version)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (partition, sort) DO UPDATE SET
				value = EXCLUDED.value,
				version = kv_items.version + 1,
				updated_at = now()
		`, op.Partition, op.Sort, op.Value)
		if err != nil {
			return fmt.Errorf("postgres: put failed: %w", err)
		}
		return nil

	case kv.OpPutIfAbsent:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO kv_items (partition, sort, value, version)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (partition, sort) DO NOTHING
		`, op.Partition, op.Sort, op.Value)
		if err != nil {
			return fmt.Errorf("postgres: put-if-absent failed: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("postgres: put-if-absent failed: %w", err)
		}
		if rows == 0 {
			return kv.ErrConditionFailed
		}
		return nil

	case kv.OpUpdate:
		res, err := tx.ExecContext(ctx, `
			UPDATE kv_items
			SET value = $1, version = version + 1, updated_at = now()
			WHERE partition = $2 AND sort = $3 AND version = $4
		`, op.Value, op.Partition, op.Sort, op.ExpectVersion)
		if err != nil {
			return fmt.Errorf("postgres: guarded update failed: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("postgres: guarded update failed: %w", err)
		}
		if rows == 0 {
			return kv.ErrConditionFailed
		}
		return nil

	case kv.OpDelete:
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM kv_items WHERE partition = $1 AND sort = $2
		`, op.Partition, op.Sort); err != nil {
			return fmt.Errorf("postgres: delete failed: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown op kind %d", kv.ErrInvalidOp, op.Kind)
	}
}

// QueryPrefix returns items whose sort key starts with prefix, ascending.
func (s *Store) QueryPrefix(ctx context.Context, partition, prefix string, limit int) ([]kv.Item, error) {
	query := `
		SELECT sort, value, version FROM kv_items
		WHERE partition = $1 AND sort >= $2
	`
	args := []any{partition, prefix}
	if upper := prefixUpperBound(prefix); upper != "" {
		args = append(args, upper)
		query += fmt.Sprintf(" AND sort < $%d", len(args))
	}
	query += " ORDER BY sort ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: prefix query failed: %w", err)
	}
	defer rows.Close()

	var items []kv.Item
	for rows.Next() {
		item := kv.Item{Partition: partition}
		if err := rows.Scan(&item.Sort, &item.Value, &item.Version); err != nil {
			return nil, fmt.Errorf("postgres: prefix scan failed: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: prefix query failed: %w", err)
	}
	return items, nil
}

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix, by incrementing the last incrementable
// byte. The bound must be byte-wise, not a sentinel rune: four-byte UTF-8
// sequences sort above U+FFFF. Empty means unbounded.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// GetDB exposes the underlying connection, used by the embedding index.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Compile-time assertion.
var _ kv.Store = (*Store)(nil)
