// Package engine wires the storage and execution core into one process-
// lifetime database: a shared disk manager and buffer pool back every open
// table and index, a catalog resolves names to storage handles, and a
// transaction manager drives commit/abort. Package exec pulls rows through
// this wiring; engine itself never touches SQL text (spec's Non-goals
// explicitly leave parsing/planning and the network/session layer out of
// scope).
package engine

import (
	"context"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	boom "github.com/tylertreat/BoomFilters"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relcore/catalog"
	"relcore/exec"
	"relcore/relerr"
	"relcore/storage/bufferpool"
	"relcore/storage/diskmgr"
	"relcore/storage/heap"
	"relcore/storage/index"
	"relcore/storage/page"
	"relcore/txn"
	"relcore/types"
)

// Config configures a new Engine.
type Config struct {
	DataDir      string
	PoolCapacity int
	Logger       *zap.Logger
}

// Engine owns one data directory's worth of open tables and indexes, sharing
// a single disk manager and buffer pool across all of them (files are
// distinguished by their catalog-assigned FileID, per spec §2's Disk
// Manager contract).
type Engine struct {
	cfg  Config
	log  *zap.Logger
	disk *diskmgr.Manager
	pool *bufferpool.Pool
	cat  catalog.Catalog
	txns *txn.Manager

	heaps   map[string]*heap.Heap
	indexes map[string]*index.Index
	blooms  map[string]*boom.BloomFilter
}

// bloomExpectedEntries and bloomFalsePositiveRate size every index's
// point-lookup filter — a fixed budget rather than a per-table estimate,
// since the catalog has no row-count statistics to draw on (spec's
// Non-goals exclude a cost-based optimizer).
const (
	bloomExpectedEntries   = 1 << 20
	bloomFalsePositiveRate = 0.01
)

// Open constructs a fresh Engine over cfg.DataDir. It does not scan the
// directory for existing tables — spec's Non-goals exclude DDL meta-file
// serialization, so table/index registration is purely in-process via
// CreateTable/CreateIndex for the life of the Engine.
func Open(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = 256
	}
	disk := diskmgr.NewManager()
	pool, err := bufferpool.New(cfg.PoolCapacity, disk, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		disk:    disk,
		pool:    pool,
		cat:     catalog.NewMemCatalog(),
		txns:    txn.NewManager(),
		heaps:   make(map[string]*heap.Heap),
		indexes: make(map[string]*index.Index),
		blooms:  make(map[string]*boom.BloomFilter),
	}, nil
}

func (e *Engine) tablePath(name string) string  { return filepath.Join(e.cfg.DataDir, name+".tbl") }
func (e *Engine) indexPath(name string) string  { return filepath.Join(e.cfg.DataDir, name+".idx") }

// CreateTable registers a new table and creates its backing heap file.
func (e *Engine) CreateTable(name string, schema types.Schema, primaryKey []string) error {
	info, err := e.cat.CreateTable(name, schema, primaryKey)
	if err != nil {
		return err
	}
	if _, err := e.disk.Open(info.FileID, e.tablePath(name)); err != nil {
		return err
	}
	h, err := heap.Create(e.pool, info.FileID, schema)
	if err != nil {
		return err
	}
	e.heaps[name] = h
	e.log.Info("created table", zap.String("table", name), zap.Int("columns", len(schema.Columns)))
	return nil
}

// CreateIndex registers a new index over an existing table's columns and
// creates its backing B+-tree file.
func (e *Engine) CreateIndex(name, table string, columns []string) error {
	info, err := e.cat.CreateIndex(name, table, columns)
	if err != nil {
		return err
	}
	if _, err := e.disk.Open(info.FileID, e.indexPath(name)); err != nil {
		return err
	}
	idx, err := index.Create(e.pool, info.FileID, info.KeySchema)
	if err != nil {
		return err
	}
	e.indexes[name] = idx
	e.blooms[name] = boom.NewBloomFilter(bloomExpectedEntries, bloomFalsePositiveRate)
	e.log.Info("created index", zap.String("index", name), zap.String("table", table))
	return nil
}

// Table resolves a registered table's open heap.
func (e *Engine) Table(name string) (*heap.Heap, error) {
	h, ok := e.heaps[name]
	if !ok {
		return nil, errors.Wrapf(relerr.ErrTableNotFound, "table %q", name)
	}
	return h, nil
}

// Index resolves a registered index's open B+-tree.
func (e *Engine) Index(name string) (*index.Index, error) {
	idx, ok := e.indexes[name]
	if !ok {
		return nil, errors.Wrapf(relerr.ErrIndexNotFound, "index %q", name)
	}
	return idx, nil
}

// Bloom resolves a registered index's point-lookup filter, for callers
// building an exec.IndexScan directly against an index rather than through
// IndexesOn's DML bindings.
func (e *Engine) Bloom(name string) (*boom.BloomFilter, error) {
	bf, ok := e.blooms[name]
	if !ok {
		return nil, errors.Wrapf(relerr.ErrIndexNotFound, "index %q", name)
	}
	return bf, nil
}

// IndexesOn returns every index bound to table's heap, as exec.IndexBinding
// bindings ready to hand to exec.NewInsert/NewDelete/NewUpdate.
func (e *Engine) IndexesOn(table string) ([]exec.IndexBinding, error) {
	tbl, err := e.cat.GetTable(table)
	if err != nil {
		return nil, err
	}
	var out []exec.IndexBinding
	for _, info := range e.cat.IndexesOn(table) {
		idx, ok := e.indexes[info.Name]
		if !ok {
			continue
		}
		cols := make([]int, len(info.Columns))
		for i, c := range info.Columns {
			cols[i] = tbl.Schema.IndexOf(c)
		}
		out = append(out, exec.IndexBinding{Idx: idx, Cols: cols, Bloom: e.blooms[info.Name]})
	}
	return out, nil
}

// Catalog exposes the engine's name resolver to callers building an exec
// pipeline.
func (e *Engine) Catalog() catalog.Catalog { return e.cat }

// Begin starts a new transaction.
func (e *Engine) Begin() *txn.Transaction { return e.txns.Begin() }

// Commit finalizes tr with no further work beyond marking it committed —
// the engine's write-ahead durability is checkpoint-based (Checkpoint),
// not per-commit fsync (spec's Non-goals exclude WAL-based crash recovery).
func (e *Engine) Commit(tr *txn.Transaction) error {
	err := tr.Commit(nil)
	e.txns.Forget(tr.ID)
	return err
}

// Abort rolls tr back by replaying its write set in reverse against the
// affected heaps and indexes.
func (e *Engine) Abort(tr *txn.Transaction) error {
	err := tr.Abort(e.undo)
	e.txns.Forget(tr.ID)
	return err
}

func (e *Engine) undo(rec txn.WriteRecord) error {
	h, err := e.Table(rec.Table)
	if err != nil {
		return err
	}
	bindings, err := e.IndexesOn(rec.Table)
	if err != nil {
		return err
	}
	switch rec.Kind {
	case txn.WriteInsert:
		row, err := h.Delete(rec.Rid)
		if err != nil {
			return err
		}
		return removeFromIndexes(bindings, row)
	case txn.WriteDelete:
		if err := h.InsertAt(rec.Rid, rec.Before); err != nil {
			return err
		}
		return addToIndexes(bindings, rec.Before, rec.Rid)
	case txn.WriteUpdate:
		if err := removeFromIndexes(bindings, rec.After); err != nil {
			return err
		}
		if err := h.Update(rec.Rid, rec.Before); err != nil {
			return err
		}
		return addToIndexes(bindings, rec.Before, rec.Rid)
	default:
		return errors.Wrap(relerr.ErrInternal, "engine: unknown write record kind during undo")
	}
}

func removeFromIndexes(bindings []exec.IndexBinding, row types.Tuple) error {
	for _, ib := range bindings {
		key := make([]types.Value, len(ib.Cols))
		for i, c := range ib.Cols {
			key[i] = row.Values[c]
		}
		if err := ib.Idx.DeleteEntry(key); err != nil {
			return err
		}
	}
	return nil
}

func addToIndexes(bindings []exec.IndexBinding, row types.Tuple, rid types.Rid) error {
	for _, ib := range bindings {
		key := make([]types.Value, len(ib.Cols))
		for i, c := range ib.Cols {
			key[i] = row.Values[c]
		}
		if err := ib.Idx.InsertEntry(key, rid); err != nil {
			return err
		}
		if ib.Bloom != nil {
			encoded, err := ib.Idx.EncodeKey(key)
			if err != nil {
				return err
			}
			ib.Bloom.Add(encoded)
		}
	}
	return nil
}

// Checkpoint flushes every dirty buffer-pool frame to its file's OS buffer,
// then fans out an fsync per open file concurrently via errgroup, since
// fsync latency is per-file and independent across files.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if err := e.pool.FlushAll(); err != nil {
		return err
	}
	ids := e.disk.FileIDs()
	g, _ := errgroup.WithContext(ctx)
	var totalPages int64
	for _, id := range ids {
		f, err := e.disk.Get(id)
		if err != nil {
			return err
		}
		totalPages += int64(f.NumPages())
		g.Go(func() error {
			return f.Sync()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.log.Info("checkpoint complete",
		zap.Int("files", len(ids)),
		zap.String("bytes", humanize.Bytes(uint64(totalPages)*uint64(page.Size))))
	return nil
}

// Close checkpoints and releases every open file handle.
func (e *Engine) Close() error {
	if err := e.Checkpoint(context.Background()); err != nil {
		return err
	}
	return e.disk.CloseAll()
}
