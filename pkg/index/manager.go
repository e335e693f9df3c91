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

package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/daviszhen/pagedb/pkg/catalog"
	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

const (
	IndexDefinitionsFile = "index_definitions.dat"
	IndexDir             = "indexes"

	maxDefinitionsPerPage = 50
)

type indexEntry struct {
	desc     Descriptor
	index    Index
	position int
}

func indexEntryLess(a, b *indexEntry) bool {
	return a.desc.Name < b.desc.Name
}

type lookupKey struct {
	table  string
	column string
	typ    IndexType
}

// Manager owns every index of the database. It persists definitions,
// builds new indexes from their table and routes inserted rows to the
// indexes of the table.
type Manager struct {
	_lock       sync.RWMutex
	_dataDir    string
	_catalog    *catalog.Manager
	_registry   *storage.Registry
	_btreeOrder int
	_byName     *btree.BTreeG[*indexEntry]
	_byLookup   map[lookupKey]*indexEntry
	_byTable    map[string][]*indexEntry
}

func NewManager(
	dataDir string,
	cat *catalog.Manager,
	registry *storage.Registry,
	btreeOrder int) (*Manager, error) {
	mgr := &Manager{
		_dataDir:    dataDir,
		_catalog:    cat,
		_registry:   registry,
		_btreeOrder: btreeOrder,
		_byName:     btree.NewBTreeG[*indexEntry](indexEntryLess),
		_byLookup:   make(map[lookupKey]*indexEntry),
		_byTable:    make(map[string][]*indexEntry),
	}
	err := mgr.loadDefinitions()
	if err != nil {
		return nil, fmt.Errorf("load index definitions: %w", err)
	}
	return mgr, nil
}

func (mgr *Manager) hashPath(name string) string {
	return filepath.Join(mgr._dataDir, IndexDir, name+".idx")
}

func (mgr *Manager) definitions() (*storage.BufferPoolMgr, error) {
	return mgr._registry.Get(filepath.Join(mgr._dataDir, IndexDefinitionsFile))
}

func (mgr *Manager) loadDefinitions() error {
	defs, err := mgr.definitions()
	if err != nil {
		return err
	}
	descs := make([]*Descriptor, 0)
	err = storage.ScanRecords(defs, func(_ storage.TID, rec []byte) error {
		desc, err := UnmarshalDefinition(rec)
		if err != nil {
			return err
		}
		descs = append(descs, desc)
		return nil
	})
	if err != nil {
		return err
	}
	for _, desc := range descs {
		if mgr.has(desc.Name) {
			util.Warn("skip duplicate index definition", zap.String("index", desc.Name))
			continue
		}
		_, col, err := mgr.resolve(desc)
		if err != nil {
			util.Warn("skip index definition",
				zap.String("index", desc.String()),
				zap.Error(err))
			continue
		}
		var idx Index
		if desc.Type == HASH {
			idx, err = OpenLinearHashIndex(desc.Name, desc.ColumnName, mgr.hashPath(desc.Name), mgr._registry)
		} else {
			idx, err = mgr.newIndex(desc)
			if err == nil {
				err = mgr.build(idx, desc, int(col.Position))
			}
		}
		if err != nil {
			util.Error("load index failed",
				zap.String("index", desc.String()),
				zap.Error(err))
			continue
		}
		mgr.register(desc, idx, int(col.Position))
		util.Info("load index", zap.String("index", desc.String()))
	}
	return nil
}

func (mgr *Manager) has(name string) bool {
	_, ok := mgr._byName.Get(&indexEntry{desc: Descriptor{Name: name}})
	return ok
}

func (mgr *Manager) resolve(desc *Descriptor) (*catalog.TableDefinition, *catalog.ColumnDefinition, error) {
	table, err := mgr._catalog.GetTable(desc.TableName)
	if err != nil {
		return nil, nil, err
	}
	col, err := mgr._catalog.GetColumn(table, desc.ColumnName)
	if err != nil {
		return nil, nil, err
	}
	return table, col, nil
}

// newIndex creates an empty index. A hash index starts from a fresh file.
func (mgr *Manager) newIndex(desc *Descriptor) (Index, error) {
	switch desc.Type {
	case HASH:
		path := mgr.hashPath(desc.Name)
		err := mgr._registry.Drop(path)
		if err != nil {
			return nil, err
		}
		err = os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		return OpenLinearHashIndex(desc.Name, desc.ColumnName, path, mgr._registry)
	case BTREE:
		return NewBPlusTree(desc.Name, desc.ColumnName, mgr._btreeOrder)
	}
	return nil, fmt.Errorf("%w: index type %s", util.ErrInvalidArgument, desc.Type)
}

// build inserts the column value of every row of the table.
func (mgr *Manager) build(idx Index, desc *Descriptor, position int) error {
	ht, err := catalog.OpenHeapTable(mgr._catalog, mgr._registry, desc.TableName)
	if err != nil {
		return err
	}
	count := 0
	err = ht.Scan(func(tid storage.TID, row []any) error {
		if position >= len(row) || row[position] == nil {
			return nil
		}
		count++
		return idx.Insert(row[position], tid)
	})
	if err != nil {
		return fmt.Errorf("build index %s: %w", desc.Name, err)
	}
	util.Info("build index",
		zap.String("index", desc.String()),
		zap.Int("entries", count))
	return nil
}

func (mgr *Manager) register(desc *Descriptor, idx Index, position int) {
	ent := &indexEntry{
		desc:     *desc,
		index:    idx,
		position: position,
	}
	mgr._byName.Set(ent)
	mgr._byLookup[lookupKey{desc.TableName, desc.ColumnName, desc.Type}] = ent
	mgr._byTable[desc.TableName] = append(mgr._byTable[desc.TableName], ent)
}

// CreateIndex persists the definition, builds the index from the rows
// already in the table and registers it.
func (mgr *Manager) CreateIndex(desc Descriptor) (Index, error) {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	if desc.Name == "" {
		return nil, fmt.Errorf("%w: empty index name", util.ErrInvalidArgument)
	}
	if mgr.has(desc.Name) {
		return nil, fmt.Errorf("%w: index %q already exists", util.ErrInvalidArgument, desc.Name)
	}
	if desc.Type != HASH && desc.Type != BTREE {
		return nil, fmt.Errorf("%w: index type %s", util.ErrInvalidArgument, desc.Type)
	}
	_, col, err := mgr.resolve(&desc)
	if err != nil {
		return nil, err
	}
	idx, err := mgr.newIndex(&desc)
	if err != nil {
		return nil, err
	}

	data, err := MarshalDefinition(&desc)
	if err != nil {
		return nil, err
	}
	defs, err := mgr.definitions()
	if err != nil {
		return nil, err
	}
	_, err = storage.AppendRecord(defs, data, maxDefinitionsPerPage)
	if err != nil {
		return nil, fmt.Errorf("persist index %s: %w", desc.Name, err)
	}

	err = mgr.build(idx, &desc, int(col.Position))
	if err != nil {
		return nil, err
	}
	mgr.register(&desc, idx, int(col.Position))
	return idx, nil
}

// OnInsert hands the new row to every index of the table.
func (mgr *Manager) OnInsert(table string, values []any, tid storage.TID) error {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	var err error
	for _, ent := range mgr._byTable[table] {
		if ent.position >= len(values) || values[ent.position] == nil {
			continue
		}
		e := ent.index.Insert(values[ent.position], tid)
		if e != nil {
			err = errors.Join(err, fmt.Errorf("index %s: %w", ent.desc.Name, e))
		}
	}
	return err
}

// FindIndex returns the index of the given kind over table.column.
func (mgr *Manager) FindIndex(table, column string, typ IndexType) (Index, bool) {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	ent, ok := mgr._byLookup[lookupKey{table, column, typ}]
	if !ok {
		return nil, false
	}
	return ent.index, true
}

func (mgr *Manager) GetIndex(name string) (Index, error) {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	ent, ok := mgr._byName.Get(&indexEntry{desc: Descriptor{Name: name}})
	if !ok {
		return nil, fmt.Errorf("%w: index %q", util.ErrNotFound, name)
	}
	return ent.index, nil
}

// ListIndexes returns the descriptors ordered by name.
func (mgr *Manager) ListIndexes() []Descriptor {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	ret := make([]Descriptor, 0, mgr._byName.Len())
	mgr._byName.Scan(func(ent *indexEntry) bool {
		ret = append(ret, ent.desc)
		return true
	})
	return ret
}

// Close flushes the hash indexes and the definition file.
func (mgr *Manager) Close() error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	var err error
	mgr._byName.Scan(func(ent *indexEntry) bool {
		err = errors.Join(err, ent.index.Close())
		return true
	})
	defs, e := mgr.definitions()
	if e != nil {
		return errors.Join(err, e)
	}
	return errors.Join(err, defs.FlushAllPages())
}
