// Package filestore implements the Backend contract against a directory of
// JSON files, one collection per subdirectory and one file per row, the way
// the teacher's FileBackend lays out credentials/config/usage.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nullstack-gw/nexusgate/internal/storage"
)

// Backend is a directory-of-JSON-files storage implementation. Good for
// local development and single-instance deployments; concurrent access
// across processes is not safe (no file locking), matching the teacher's
// FileBackend limitations.
type Backend struct {
	baseDir string

	mu   sync.RWMutex
	data map[string]map[string]storage.Record // collection -> id -> row
}

// New constructs a file-backed store rooted at baseDir.
func New(baseDir string) *Backend {
	return &Backend{
		baseDir: baseDir,
		data:    make(map[string]map[string]storage.Record),
	}
}

func (b *Backend) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(b.baseDir, 0o755); err != nil {
		return fmt.Errorf("filestore: create base dir: %w", err)
	}
	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return fmt.Errorf("filestore: read base dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := b.loadCollection(entry.Name()); err != nil {
			return fmt.Errorf("filestore: load collection %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for collection := range b.data {
		if err := b.saveCollectionLocked(collection); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Health(ctx context.Context) error {
	_, err := os.Stat(b.baseDir)
	return err
}

func (b *Backend) loadCollection(collection string) error {
	dir := filepath.Join(b.baseDir, collection)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.data[collection]
	if rows == nil {
		rows = make(map[string]storage.Record)
		b.data[collection] = rows
	}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		id := file.Name()[:len(file.Name())-len(".json")]
		raw, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			continue
		}
		var row storage.Record
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		rows[id] = row
	}
	return nil
}

func (b *Backend) saveCollectionLocked(collection string) error {
	dir := filepath.Join(b.baseDir, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for id, row := range b.data[collection] {
		raw, err := json.MarshalIndent(row, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, id+".json"), raw, 0o600); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) saveRowLocked(collection, id string) error {
	dir := filepath.Join(b.baseDir, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	row, ok := b.data[collection][id]
	if !ok {
		return os.Remove(filepath.Join(dir, id+".json"))
	}
	raw, err := json.MarshalIndent(row, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, id+".json"), raw, 0o600)
}

func cloneRecord(r storage.Record) storage.Record {
	out := make(storage.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (b *Backend) Insert(ctx context.Context, collection, id string, row storage.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data[collection] == nil {
		b.data[collection] = make(map[string]storage.Record)
	}
	if _, exists := b.data[collection][id]; exists {
		return fmt.Errorf("filestore: row %s/%s already exists", collection, id)
	}
	b.data[collection][id] = cloneRecord(row)
	return b.saveRowLocked(collection, id)
}

func (b *Backend) Update(ctx context.Context, collection, id string, row storage.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data[collection] == nil {
		b.data[collection] = make(map[string]storage.Record)
	}
	b.data[collection][id] = cloneRecord(row)
	return b.saveRowLocked(collection, id)
}

func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[collection][id]; !ok {
		return nil
	}
	delete(b.data[collection], id)
	return b.saveRowLocked(collection, id)
}

func (b *Backend) FindByID(ctx context.Context, collection, id string) (storage.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	row, ok := b.data[collection][id]
	if !ok {
		return nil, &storage.ErrNotFound{Collection: collection, Key: id}
	}
	return cloneRecord(row), nil
}

func (b *Backend) FindByKey(ctx context.Context, collection, field string, value interface{}) (storage.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, row := range b.data[collection] {
		if matchEq(row[field], value) {
			return cloneRecord(row), nil
		}
	}
	return nil, &storage.ErrNotFound{Collection: collection, Key: fmt.Sprintf("%s=%v", field, value)}
}

func matchEq(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func matchFilter(row storage.Record, f storage.Filter) bool {
	v, ok := row[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case storage.OpEq, "":
		return matchEq(v, f.Value)
	case storage.OpNeq:
		return !matchEq(v, f.Value)
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
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func (b *Backend) ListWhere(ctx context.Context, collection string, opts storage.ListOptions) ([]storage.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []storage.Record
rows:
	for _, row := range b.data[collection] {
		for _, f := range opts.Filters {
			if !matchFilter(row, f) {
				continue rows
			}
		}
		out = append(out, cloneRecord(row))
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
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data[collection] == nil {
		b.data[collection] = make(map[string]storage.Record)
	}
	for id, row := range b.data[collection] {
		if matchesKeys(row, keys) {
			for k, v := range values {
				row[k] = v
			}
			b.data[collection][id] = row
			return b.saveRowLocked(collection, id)
		}
	}
	id := upsertID(keys)
	row := cloneRecord(values)
	for k, v := range keys {
		row[k] = v
	}
	b.data[collection][id] = row
	return b.saveRowLocked(collection, id)
}

func matchesKeys(row storage.Record, keys map[string]interface{}) bool {
	for k, v := range keys {
		if !matchEq(row[k], v) {
			return false
		}
	}
	return true
}

func upsertID(keys map[string]interface{}) string {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	id := ""
	for _, k := range names {
		id += fmt.Sprintf("%s=%v|", k, keys[k])
	}
	return id
}

func (b *Backend) IncrementField(ctx context.Context, collection, id, field string, delta float64) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data[collection] == nil {
		b.data[collection] = make(map[string]storage.Record)
	}
	row, ok := b.data[collection][id]
	if !ok {
		row = storage.Record{}
		b.data[collection][id] = row
	}
	cur, _ := toFloat(row[field])
	cur += delta
	row[field] = cur
	if err := b.saveRowLocked(collection, id); err != nil {
		return 0, err
	}
	return cur, nil
}

func (b *Backend) BeginTransaction(ctx context.Context) (storage.Transaction, error) {
	return nil, &storage.ErrNotSupported{Backend: "file", Operation: "BeginTransaction"}
}

func (b *Backend) GetStorageStats(ctx context.Context) (storage.StorageStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := make(map[string]int64, len(b.data))
	for collection, rows := range b.data {
		counts[collection] = int64(len(rows))
	}
	return storage.StorageStats{
		Backend:         "file",
		Healthy:         true,
		CollectionCount: counts,
		LastChecked:     time.Now(),
	}, nil
}
