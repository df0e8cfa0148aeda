// Package redisstore implements the Backend contract on top of Redis. It is
// the intended backend for read-heavy, ephemeral state — token buckets,
// sticky-routing cache, rate counters — where Redis's native TTL and atomic
// increment primitives fit better than a relational row, grounded on the
// teacher's RedisBackend (internal/storage/redis_backend.go) generalized
// from a fixed credential/config/usage shape to arbitrary collections.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nullstack-gw/nexusgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Backend stores every collection/id row as a Redis hash keyed
// "<prefix><collection>:<id>", with a per-collection set
// "<prefix><collection>:__index__" tracking member ids for scans.
type Backend struct {
	client *redis.Client
	prefix string
}

// New constructs a Redis-backed store. Callers choose the address,
// password, database and key prefix; timeouts (5s dial, 3s read/write) and
// the pool size (10, with 2 idle) are fixed here.
func New(addr, password string, db int, prefix string) *Backend {
	if prefix == "" {
		prefix = "nexusgate:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) rowKey(collection, id string) string {
	return b.prefix + collection + ":" + id
}

func (b *Backend) indexKey(collection string) string {
	return b.prefix + collection + ":__index__"
}

func (b *Backend) Initialize(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstore: ping: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *Backend) Health(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func encodeRow(row storage.Record) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return out, nil
}

func decodeRow(raw map[string]string) storage.Record {
	row := make(storage.Record, len(raw))
	for k, v := range raw {
		var val interface{}
		if err := json.Unmarshal([]byte(v), &val); err == nil {
			row[k] = val
		} else {
			row[k] = v
		}
	}
	return row
}

func (b *Backend) Insert(ctx context.Context, collection, id string, row storage.Record) error {
	exists, err := b.client.Exists(ctx, b.rowKey(collection, id)).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("redisstore: row %s/%s already exists", collection, id)
	}
	return b.Update(ctx, collection, id, row)
}

func (b *Backend) Update(ctx context.Context, collection, id string, row storage.Record) error {
	encoded, err := encodeRow(row)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	key := b.rowKey(collection, id)
	pipe.Del(ctx, key)
	if len(encoded) > 0 {
		pipe.HSet(ctx, key, encoded)
	}
	pipe.SAdd(ctx, b.indexKey(collection), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.rowKey(collection, id))
	pipe.SRem(ctx, b.indexKey(collection), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *Backend) FindByID(ctx context.Context, collection, id string) (storage.Record, error) {
	raw, err := b.client.HGetAll(ctx, b.rowKey(collection, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &storage.ErrNotFound{Collection: collection, Key: id}
	}
	return decodeRow(raw), nil
}

func (b *Backend) collectionIDs(ctx context.Context, collection string) ([]string, error) {
	return b.client.SMembers(ctx, b.indexKey(collection)).Result()
}

func (b *Backend) FindByKey(ctx context.Context, collection, field string, value interface{}) (storage.Record, error) {
	ids, err := b.collectionIDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		row, err := b.FindByID(ctx, collection, id)
		if err != nil {
			continue
		}
		if fmt.Sprint(row[field]) == fmt.Sprint(value) {
			return row, nil
		}
	}
	return nil, &storage.ErrNotFound{Collection: collection, Key: fmt.Sprintf("%s=%v", field, value)}
}

func matchFilter(row storage.Record, f storage.Filter) bool {
	v, ok := row[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case storage.OpEq, "":
		return fmt.Sprint(v) == fmt.Sprint(f.Value)
	case storage.OpNeq:
		return fmt.Sprint(v) != fmt.Sprint(f.Value)
	default:
		fv, ok1 := toFloat(v)
		cv, ok2 := toFloat(f.Value)
		if !ok1 || !ok2 {
			return false
		}
		switch f.Op {
		case storage.OpGt:
			return fv > cv
		case storage.OpGte:
			return fv >= cv
		case storage.OpLt:
			return fv < cv
		case storage.OpLte:
			return fv <= cv
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (b *Backend) ListWhere(ctx context.Context, collection string, opts storage.ListOptions) ([]storage.Record, error) {
	ids, err := b.collectionIDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out []storage.Record
	for _, id := range ids {
		row, err := b.FindByID(ctx, collection, id)
		if err != nil {
			continue
		}
		ok := true
		for _, f := range opts.Filters {
			if !matchFilter(row, f) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	if opts.OrderBy != "" {
		sort.Slice(out, func(i, j int) bool {
			less := fmt.Sprint(out[i][opts.OrderBy]) < fmt.Sprint(out[j][opts.OrderBy])
			if fi, ok1 := toFloat(out[i][opts.OrderBy]); ok1 {
				if fj, ok2 := toFloat(out[j][opts.OrderBy]); ok2 {
					less = fi < fj
				}
			}
			if opts.Desc {
				return !less
			}
			return less
		})
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []storage.Record{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (b *Backend) CountWhere(ctx context.Context, collection string, filters []storage.Filter) (int64, error) {
	rows, err := b.ListWhere(ctx, collection, storage.ListOptions{Filters: filters})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (b *Backend) AtomicUpsert(ctx context.Context, collection string, keys map[string]interface{}, values storage.Record) error {
	id := upsertID(keys)
	merged, err := b.FindByID(ctx, collection, id)
	if err != nil {
		merged = storage.Record{}
	}
	for k, v := range keys {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return b.Update(ctx, collection, id, merged)
}

func upsertID(keys map[string]interface{}) string {
	id := ""
	for _, k := range []string{"provider", "credentialId", "id"} {
		if v, ok := keys[k]; ok {
			id += fmt.Sprintf("%s=%v|", k, v)
		}
	}
	if id == "" {
		for k, v := range keys {
			id += fmt.Sprintf("%s=%v|", k, v)
		}
	}
	return id
}

// IncrementField uses HINCRBYFLOAT so concurrent bucket/health updates stay
// atomic without a client-side read-modify-write race.
func (b *Backend) IncrementField(ctx context.Context, collection, id, field string, delta float64) (float64, error) {
	key := b.rowKey(collection, id)
	pipe := b.client.TxPipeline()
	incr := pipe.HIncrByFloat(ctx, key, field, delta)
	pipe.SAdd(ctx, b.indexKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (b *Backend) BeginTransaction(ctx context.Context) (storage.Transaction, error) {
	return nil, &storage.ErrNotSupported{Backend: "redis", Operation: "BeginTransaction"}
}

func (b *Backend) GetStorageStats(ctx context.Context) (storage.StorageStats, error) {
	healthy := b.client.Ping(ctx).Err() == nil
	return storage.StorageStats{
		Backend:     "redis",
		Healthy:     healthy,
		LastChecked: time.Now(),
	}, nil
}
