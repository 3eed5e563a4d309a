// Package catalog stands in for the on-disk schema catalog that spec's DDL
// meta-file serialization explicitly leaves out of scope. It tracks table
// and index definitions purely in memory for the lifetime of the process,
// enough for the executor pipeline to resolve names to open heaps and
// indexes.
package catalog

import (
	"sync"

	"github.com/pkg/errors"

	"relcore/relerr"
	"relcore/types"
)

// TableInfo describes one registered table.
type TableInfo struct {
	Name       string
	FileID     uint32
	Schema     types.Schema
	PrimaryKey []string // column names; empty means no declared primary key
	Indexes    []string // names of indexes registered against this table
}

// IndexInfo describes one registered index.
type IndexInfo struct {
	Name      string
	Table     string
	FileID    uint32
	Columns   []string
	KeySchema types.Schema
}

// Catalog resolves table/index names to their storage identity. Narrow on
// purpose: it is a lookup surface for the executor pipeline, not a DDL
// engine.
type Catalog interface {
	CreateTable(name string, schema types.Schema, primaryKey []string) (TableInfo, error)
	GetTable(name string) (TableInfo, error)
	DropTable(name string) error
	Tables() []TableInfo

	CreateIndex(name, table string, columns []string) (IndexInfo, error)
	GetIndex(name string) (IndexInfo, error)
	IndexesOn(table string) []IndexInfo
	DropIndex(name string) error

	NextFileID() uint32
}

// MemCatalog is the in-memory Catalog implementation.
type MemCatalog struct {
	mu         sync.Mutex
	tables     map[string]TableInfo
	indexes    map[string]IndexInfo
	nextFileID uint32
}

func NewMemCatalog() *MemCatalog {
	return &MemCatalog{
		tables:  make(map[string]TableInfo),
		indexes: make(map[string]IndexInfo),
	}
}

// NextFileID hands out a fresh disk-manager file identifier.
func (c *MemCatalog) NextFileID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextFileID++
	return c.nextFileID
}

func (c *MemCatalog) CreateTable(name string, schema types.Schema, primaryKey []string) (TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; ok {
		return TableInfo{}, errors.Wrapf(relerr.ErrTableExists, "table %q", name)
	}
	c.nextFileID++
	info := TableInfo{Name: name, FileID: c.nextFileID, Schema: schema, PrimaryKey: primaryKey}
	c.tables[name] = info
	return info, nil
}

func (c *MemCatalog) GetTable(name string) (TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.tables[name]
	if !ok {
		return TableInfo{}, errors.Wrapf(relerr.ErrTableNotFound, "table %q", name)
	}
	return info, nil
}

func (c *MemCatalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; !ok {
		return errors.Wrapf(relerr.ErrTableNotFound, "table %q", name)
	}
	delete(c.tables, name)
	for idxName, idx := range c.indexes {
		if idx.Table == name {
			delete(c.indexes, idxName)
		}
	}
	return nil
}

func (c *MemCatalog) Tables() []TableInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TableInfo, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}

func (c *MemCatalog) CreateIndex(name, table string, columns []string) (IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[name]; ok {
		return IndexInfo{}, errors.Wrapf(relerr.ErrIndexExists, "index %q", name)
	}
	tbl, ok := c.tables[table]
	if !ok {
		return IndexInfo{}, errors.Wrapf(relerr.ErrTableNotFound, "table %q", table)
	}
	keySchema, err := tbl.Schema.Project(columns)
	if err != nil {
		return IndexInfo{}, errors.Wrap(relerr.ErrColumnNotFound, err.Error())
	}
	c.nextFileID++
	info := IndexInfo{Name: name, Table: table, FileID: c.nextFileID, Columns: columns, KeySchema: keySchema}
	c.indexes[name] = info

	tbl.Indexes = append(tbl.Indexes, name)
	c.tables[table] = tbl
	return info, nil
}

func (c *MemCatalog) GetIndex(name string) (IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.indexes[name]
	if !ok {
		return IndexInfo{}, errors.Wrapf(relerr.ErrIndexNotFound, "index %q", name)
	}
	return info, nil
}

func (c *MemCatalog) IndexesOn(table string) []IndexInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []IndexInfo
	for _, idx := range c.indexes {
		if idx.Table == table {
			out = append(out, idx)
		}
	}
	return out
}

func (c *MemCatalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.indexes[name]
	if !ok {
		return errors.Wrapf(relerr.ErrIndexNotFound, "index %q", name)
	}
	delete(c.indexes, name)
	tbl, ok := c.tables[info.Table]
	if ok {
		for i, n := range tbl.Indexes {
			if n == name {
				tbl.Indexes = append(tbl.Indexes[:i], tbl.Indexes[i+1:]...)
				break
			}
		}
		c.tables[info.Table] = tbl
	}
	return nil
}
