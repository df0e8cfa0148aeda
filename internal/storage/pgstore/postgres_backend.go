// Package pgstore implements the Backend contract against PostgreSQL via
// pgx, the relational-with-uniqueness-constraints backend for credentials,
// error credentials, API keys, API logs, and model tables per the data
// model. Grounded on the teacher's postgres_backend.go/postgres/ package
// shape (Initialize/Close/Health, pooled connection, ExportData-style
// stats), generalized from a fixed credential table to a single
// collection+id+jsonb row store so every §3 table shares one
// implementation instead of one hand-written struct per table. The teacher
// wires `database/sql` against its own driver; this rewrite swaps in
// jackc/pgx/v5 directly (see DESIGN.md) since pgx's pool and jsonb
// convenience outweigh staying on database/sql here.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nullstack-gw/nexusgate/internal/storage"
)

// Backend stores every collection in one `gateway_records` table, keyed by
// (collection, id), with the row itself as jsonb. This keeps every data
// model table (§3) on one schema without hand-writing DDL per type.
type Backend struct {
	pool *pgxpool.Pool
	dsn  string
}

// New constructs a Postgres-backed store. Connection happens in Initialize.
func New(dsn string) *Backend {
	return &Backend{dsn: dsn}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS gateway_records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS gateway_records_collection_idx ON gateway_records (collection);
`

func (b *Backend) Initialize(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, b.dsn)
	if err != nil {
		return fmt.Errorf("pgstore: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return fmt.Errorf("pgstore: migrate schema: %w", err)
	}
	b.pool = pool
	return nil
}

func (b *Backend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

func (b *Backend) Health(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *Backend) Insert(ctx context.Context, collection, id string, row storage.Record) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO gateway_records (collection, id, data) VALUES ($1, $2, $3)`,
		collection, id, raw)
	return err
}

func (b *Backend) Update(ctx context.Context, collection, id string, row storage.Record) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO gateway_records (collection, id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, raw)
	return err
}

func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	_, err := b.pool.Exec(ctx,
		`DELETE FROM gateway_records WHERE collection = $1 AND id = $2`, collection, id)
	return err
}

func (b *Backend) FindByID(ctx context.Context, collection, id string) (storage.Record, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT data FROM gateway_records WHERE collection = $1 AND id = $2`, collection, id,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &storage.ErrNotFound{Collection: collection, Key: id}
	}
	if err != nil {
		return nil, err
	}
	var row storage.Record
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func (b *Backend) FindByKey(ctx context.Context, collection, field string, value interface{}) (storage.Record, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT data FROM gateway_records WHERE collection = $1 AND data->>$2 = $3 LIMIT 1`,
		collection, field, fmt.Sprint(value),
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &storage.ErrNotFound{Collection: collection, Key: fmt.Sprintf("%s=%v", field, value)}
	}
	if err != nil {
		return nil, err
	}
	var row storage.Record
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func buildWhere(filters []storage.Filter, argOffset int) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}
	var clauses []string
	var args []interface{}
	for _, f := range filters {
		n := argOffset + len(args) + 1
		switch f.Op {
		case storage.OpGt, storage.OpGte, storage.OpLt, storage.OpLte:
			op := map[storage.Op]string{
				storage.OpGt: ">", storage.OpGte: ">=",
				storage.OpLt: "<", storage.OpLte: "<=",
			}[f.Op]
			clauses = append(clauses, fmt.Sprintf("(data->>'%s')::numeric %s $%d", f.Field, op, n))
			args = append(args, f.Value)
		case storage.OpNeq:
			clauses = append(clauses, fmt.Sprintf("data->>'%s' != $%d", f.Field, n))
			args = append(args, fmt.Sprint(f.Value))
		default:
			clauses = append(clauses, fmt.Sprintf("data->>'%s' = $%d", f.Field, n))
			args = append(args, fmt.Sprint(f.Value))
		}
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

func (b *Backend) ListWhere(ctx context.Context, collection string, opts storage.ListOptions) ([]storage.Record, error) {
	where, args := buildWhere(opts.Filters, 1)
	query := `SELECT data FROM gateway_records WHERE collection = $1` + where
	allArgs := append([]interface{}{collection}, args...)

	if opts.OrderBy != "" {
		dir := "ASC"
		if opts.Desc {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY data->>'%s' %s", opts.OrderBy, dir)
	}
	if opts.Limit > 0 {
		allArgs = append(allArgs, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(allArgs))
	}
	if opts.Offset > 0 {
		allArgs = append(allArgs, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(allArgs))
	}

	rows, err := b.pool.Query(ctx, query, allArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var row storage.Record
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (b *Backend) CountWhere(ctx context.Context, collection string, filters []storage.Filter) (int64, error) {
	where, args := buildWhere(filters, 1)
	query := `SELECT count(*) FROM gateway_records WHERE collection = $1` + where
	allArgs := append([]interface{}{collection}, args...)

	var count int64
	if err := b.pool.QueryRow(ctx, query, allArgs...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// AtomicUpsert finds the row whose data contains keys (jsonb containment)
// and merges values on top via the `||` operator, or inserts a fresh row
// with a generated id when none exists.
func (b *Backend) AtomicUpsert(ctx context.Context, collection string, keys map[string]interface{}, values storage.Record) error {
	keyJSON, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	valJSON, err := json.Marshal(values)
	if err != nil {
		return err
	}

	tag, err := b.pool.Exec(ctx, `
		UPDATE gateway_records
		SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND data @> $2::jsonb`,
		collection, keyJSON, valJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	merged := make(storage.Record, len(keys)+len(values))
	for k, v := range values {
		merged[k] = v
	}
	for k, v := range keys {
		merged[k] = v
	}
	return b.Insert(ctx, collection, uuid.NewString(), merged)
}

// IncrementField atomically bumps a numeric field via jsonb_set, returning
// the post-increment value.
func (b *Backend) IncrementField(ctx context.Context, collection, id, field string, delta float64) (float64, error) {
	var result float64
	err := b.pool.QueryRow(ctx, `
		INSERT INTO gateway_records (collection, id, data)
		VALUES ($1, $2, jsonb_build_object($3::text, $4::numeric))
		ON CONFLICT (collection, id) DO UPDATE SET
			data = jsonb_set(
				gateway_records.data,
				array[$3::text],
				to_jsonb(COALESCE((gateway_records.data->>$3)::numeric, 0) + $4::numeric)
			),
			updated_at = now()
		RETURNING (data->>$3)::numeric`,
		collection, id, field, delta,
	).Scan(&result)
	return result, err
}

func (b *Backend) BeginTransaction(ctx context.Context) (storage.Transaction, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTransaction{tx: tx}, nil
}

type pgTransaction struct {
	tx pgx.Tx
}

func (t *pgTransaction) Insert(ctx context.Context, collection, id string, data storage.Record) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO gateway_records (collection, id, data) VALUES ($1, $2, $3)`, collection, id, raw)
	return err
}

func (t *pgTransaction) Update(ctx context.Context, collection, id string, data storage.Record) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO gateway_records (collection, id, data, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, raw)
	return err
}

func (t *pgTransaction) Delete(ctx context.Context, collection, id string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM gateway_records WHERE collection = $1 AND id = $2`, collection, id)
	return err
}

func (t *pgTransaction) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTransaction) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (b *Backend) GetStorageStats(ctx context.Context) (storage.StorageStats, error) {
	rows, err := b.pool.Query(ctx, `SELECT collection, count(*) FROM gateway_records GROUP BY collection`)
	if err != nil {
		return storage.StorageStats{Backend: "postgres", Healthy: false}, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var collection string
		var n int64
		if err := rows.Scan(&collection, &n); err != nil {
			return storage.StorageStats{}, err
		}
		counts[collection] = n
	}
	return storage.StorageStats{
		Backend:         "postgres",
		Healthy:         b.Health(ctx) == nil,
		CollectionCount: counts,
		LastChecked:     time.Now(),
	}, rows.Err()
}
