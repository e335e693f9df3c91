// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daviszhen/pagedb/pkg/catalog"
	"github.com/daviszhen/pagedb/pkg/index"
	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

// FileStats describes one open data file.
type FileStats struct {
	Path      string
	Cached    int
	Dirty     int
	Buffer    storage.BufferPoolStats
	Writer    storage.WriterStats
	HasWriter bool
}

// Engine ties the buffer pools, catalog and indexes of one data
// directory together. Foreground operations are serialized by one
// reentrant lock. Background writers flush on their own.
type Engine struct {
	_lock     *util.ReentryLock
	_cfg      *util.Config
	_registry *storage.Registry
	_catalog  *catalog.Manager
	_indexes  *index.Manager

	_writersLock sync.Mutex
	_writers     map[string]*storage.DirtyPageWriter
	_closed      bool
}

func checkConfig(cfg *util.Config) error {
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("%w: empty data dir", util.ErrInvalidArgument)
	}
	if cfg.Storage.PoolSizePerFile <= 0 {
		return fmt.Errorf("%w: pool size %d", util.ErrInvalidArgument, cfg.Storage.PoolSizePerFile)
	}
	switch strings.ToLower(cfg.Storage.Replacer) {
	case storage.ReplacerLRU, storage.ReplacerClock:
	default:
		return fmt.Errorf("%w: replacer %q", util.ErrInvalidArgument, cfg.Storage.Replacer)
	}
	if cfg.Index.BtreeOrder < 2 {
		return fmt.Errorf("%w: btree order %d", util.ErrInvalidArgument, cfg.Index.BtreeOrder)
	}
	if cfg.Writer.Enabled {
		w := &cfg.Writer
		if w.BackgroundWriterIntervalMs <= 0 || w.CheckPointIntervalMs <= 0 || w.BatchSize <= 0 {
			return fmt.Errorf("%w: writer options %+v", util.ErrInvalidArgument, *w)
		}
	}
	return nil
}

func Open(cfg *util.Config) (*Engine, error) {
	err := checkConfig(cfg)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(cfg.Storage.DataDir, 0755)
	if err != nil {
		return nil, err
	}
	eng := &Engine{
		_lock:     util.NewReentryLock(),
		_cfg:      cfg,
		_registry: storage.NewRegistry(cfg.Storage.PoolSizePerFile, storage.NewPageFileMgr(), cfg.Storage.Replacer),
		_writers:  make(map[string]*storage.DirtyPageWriter),
	}
	if cfg.Writer.Enabled {
		eng._registry.OnCreate(eng.startWriter)
		eng._registry.OnDrop(eng.stopWriter)
	}

	eng._catalog, err = catalog.Open(cfg.Storage.DataDir, eng._registry)
	if err != nil {
		return nil, errors.Join(err, eng._registry.Close())
	}
	eng._indexes, err = index.NewManager(cfg.Storage.DataDir, eng._catalog, eng._registry, cfg.Index.BtreeOrder)
	if err != nil {
		return nil, errors.Join(err, eng._registry.Close())
	}
	util.Info("engine open",
		zap.String("dataDir", cfg.Storage.DataDir),
		zap.Int("poolSizePerFile", cfg.Storage.PoolSizePerFile),
		zap.String("replacer", cfg.Storage.Replacer),
		zap.Bool("writer", cfg.Writer.Enabled))
	return eng, nil
}

func (eng *Engine) startWriter(path string, mgr *storage.BufferPoolMgr) {
	w := &eng._cfg.Writer
	writer := storage.NewDirtyPageWriter(
		path,
		mgr,
		time.Duration(w.BackgroundWriterIntervalMs)*time.Millisecond,
		time.Duration(w.CheckPointIntervalMs)*time.Millisecond,
		w.BatchSize,
		time.Duration(w.ShutdownTimeoutMs)*time.Millisecond,
	)
	writer.StartBackgroundWriter()
	writer.StartCheckPointer()
	eng._writersLock.Lock()
	eng._writers[path] = writer
	eng._writersLock.Unlock()
}

func (eng *Engine) stopWriter(path string, _ *storage.BufferPoolMgr) {
	eng._writersLock.Lock()
	writer, ok := eng._writers[path]
	delete(eng._writers, path)
	eng._writersLock.Unlock()
	if ok {
		writer.Shutdown()
	}
}

func (eng *Engine) Catalog() *catalog.Manager {
	return eng._catalog
}

func (eng *Engine) Indexes() *index.Manager {
	return eng._indexes
}

func (eng *Engine) Registry() *storage.Registry {
	return eng._registry
}

func (eng *Engine) Config() *util.Config {
	return eng._cfg
}

func (eng *Engine) CreateTable(name string, columns []catalog.ColumnDefinition) (*catalog.TableDefinition, error) {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	return eng._catalog.CreateTable(name, columns)
}

// ParseRow reads one text value per column of the table.
func (eng *Engine) ParseRow(table string, fields []string) ([]any, error) {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	ht, err := catalog.OpenHeapTable(eng._catalog, eng._registry, table)
	if err != nil {
		return nil, err
	}
	types := ht.Types()
	if len(fields) != len(types) {
		return nil, fmt.Errorf("%w: table %s has %d columns, got %d values",
			util.ErrInvalidArgument, table, len(types), len(fields))
	}
	row := make([]any, len(fields))
	for i, field := range fields {
		row[i], err = catalog.ParseValue(types[i], field)
		if err != nil {
			return nil, err
		}
	}
	return row, nil
}

// Insert stores the row and adds it to every index of the table.
func (eng *Engine) Insert(table string, values []any) (storage.TID, error) {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	ht, err := catalog.OpenHeapTable(eng._catalog, eng._registry, table)
	if err != nil {
		return storage.TID{}, err
	}
	types := ht.Types()
	if len(values) != len(types) {
		return storage.TID{}, fmt.Errorf("%w: table %s has %d columns, got %d values",
			util.ErrInvalidArgument, table, len(types), len(values))
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i], err = catalog.CoerceValue(types[i], v)
		if err != nil {
			return storage.TID{}, err
		}
	}
	tid, err := ht.Insert(row)
	if err != nil {
		return storage.TID{}, err
	}
	err = eng._indexes.OnInsert(table, row, tid)
	if err != nil {
		return tid, fmt.Errorf("index row %s of %s: %w", tid, table, err)
	}
	return tid, nil
}

func (eng *Engine) Read(table string, tid storage.TID) ([]any, error) {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	ht, err := catalog.OpenHeapTable(eng._catalog, eng._registry, table)
	if err != nil {
		return nil, err
	}
	return ht.Read(tid)
}

func (eng *Engine) Scan(table string, fn func(tid storage.TID, row []any) error) error {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	ht, err := catalog.OpenHeapTable(eng._catalog, eng._registry, table)
	if err != nil {
		return err
	}
	return ht.Scan(fn)
}

func (eng *Engine) CreateIndex(desc index.Descriptor) (index.Index, error) {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	idx, err := eng._indexes.CreateIndex(desc)
	if err != nil {
		return nil, err
	}
	util.Info("create index", zap.String("index", desc.String()))
	return idx, nil
}

// columnKey converts key to the Go form of the column type.
func (eng *Engine) columnKey(table, column string, key any) (any, int, error) {
	def, err := eng._catalog.GetTable(table)
	if err != nil {
		return nil, 0, err
	}
	col, err := eng._catalog.GetColumn(def, column)
	if err != nil {
		return nil, 0, err
	}
	if key == nil {
		return nil, int(col.Position), nil
	}
	typ, err := eng._catalog.GetType(col.TypeOid)
	if err != nil {
		return nil, 0, err
	}
	if s, ok := key.(string); ok {
		key, err = catalog.ParseValue(typ, s)
	} else {
		key, err = catalog.CoerceValue(typ, key)
	}
	if err != nil {
		return nil, 0, err
	}
	return key, int(col.Position), nil
}

// Search returns the TIDs whose column equals key. It prefers a hash
// index, then a b+tree, then scans the table.
func (eng *Engine) Search(table, column string, key any) ([]storage.TID, error) {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	key, position, err := eng.columnKey(table, column, key)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", util.ErrNotComparable)
	}
	for _, typ := range []index.IndexType{index.HASH, index.BTREE} {
		if idx, ok := eng._indexes.FindIndex(table, column, typ); ok {
			return idx.Search(key)
		}
	}
	util.Debug("search without index",
		zap.String("table", table),
		zap.String("column", column))
	ht, err := catalog.OpenHeapTable(eng._catalog, eng._registry, table)
	if err != nil {
		return nil, err
	}
	ret := make([]storage.TID, 0)
	err = ht.Scan(func(tid storage.TID, row []any) error {
		if row[position] == nil {
			return nil
		}
		c, err := index.CompareKeys(row[position], key)
		if err != nil {
			return err
		}
		if c == 0 {
			ret = append(ret, tid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// RangeSearch needs a b+tree over the column. A nil bound is unbounded.
func (eng *Engine) RangeSearch(table, column string, from, to any, inclusive bool) ([]storage.TID, error) {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	from, _, err := eng.columnKey(table, column, from)
	if err != nil {
		return nil, err
	}
	to, _, err = eng.columnKey(table, column, to)
	if err != nil {
		return nil, err
	}
	idx, ok := eng._indexes.FindIndex(table, column, index.BTREE)
	if !ok {
		return nil, fmt.Errorf("%w: no b+tree index on %s(%s)", util.ErrNotFound, table, column)
	}
	return idx.(index.RangeIndex).RangeSearch(from, to, inclusive)
}

func (eng *Engine) DumpIndex(name string) (string, error) {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	idx, err := eng._indexes.GetIndex(name)
	if err != nil {
		return "", err
	}
	return idx.Dump(), nil
}

// Checkpoint flushes every dirty page of every open file.
func (eng *Engine) Checkpoint() error {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	err := eng._registry.FlushAll()
	if err != nil {
		return err
	}
	util.Info("checkpoint", zap.Int("files", len(eng._registry.Managers())))
	return nil
}

func (eng *Engine) Stats() []FileStats {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	mgrs := eng._registry.Managers()
	eng._writersLock.Lock()
	defer eng._writersLock.Unlock()
	ret := make([]FileStats, 0, len(mgrs))
	for _, mgr := range mgrs {
		fs := FileStats{
			Path:   mgr.Path(),
			Cached: mgr.Size(),
			Dirty:  len(mgr.DirtyPages()),
			Buffer: mgr.Stats(),
		}
		if writer, ok := eng._writers[mgr.Path()]; ok {
			fs.Writer = writer.Stats()
			fs.HasWriter = true
		}
		ret = append(ret, fs)
	}
	return ret
}

// Close flushes everything, stops the writers and closes the files.
func (eng *Engine) Close() error {
	eng._lock.Lock()
	defer eng._lock.Unlock()
	if eng._closed {
		return nil
	}
	eng._closed = true
	err := errors.Join(
		eng._indexes.Close(),
		eng._catalog.Flush(),
	)
	err = errors.Join(err, eng._registry.Close())
	util.Info("engine closed", zap.String("dataDir", eng._cfg.Storage.DataDir))
	return err
}
