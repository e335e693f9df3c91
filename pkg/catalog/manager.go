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

package catalog

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/lib/pq/oid"
	"go.uber.org/zap"

	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

const (
	TableDefinitionsFile  = "table_definitions.dat"
	ColumnDefinitionsFile = "column_definitions.dat"
	TypeDefinitionsFile   = "types_definitions.dat"

	maxDefinitionsPerPage = 50
	tableKind             = "TABLE"
)

// Manager keeps the table, column and type definitions. Each kind is
// an append-only record file read through the buffer pool registry.
// The last record of a table wins on reload.
type Manager struct {
	_lock          sync.RWMutex
	_dir           string
	_registry      *storage.Registry
	_tables        map[string]*TableDefinition
	_columns       map[int32][]*ColumnDefinition
	_types         map[oid.Oid]*TypeDefinition
	_typesByName   map[string]*TypeDefinition
	_nextTableOid  int32
	_nextColumnOid int32
}

func Open(dir string, registry *storage.Registry) (*Manager, error) {
	mgr := &Manager{
		_dir:           dir,
		_registry:      registry,
		_tables:        make(map[string]*TableDefinition),
		_columns:       make(map[int32][]*ColumnDefinition),
		_types:         make(map[oid.Oid]*TypeDefinition),
		_typesByName:   make(map[string]*TypeDefinition),
		_nextTableOid:  1,
		_nextColumnOid: 1,
	}
	err := mgr.load()
	if err != nil {
		return nil, fmt.Errorf("load catalog in %s: %w", dir, err)
	}
	return mgr, nil
}

func (mgr *Manager) defsFile(name string) (*storage.BufferPoolMgr, error) {
	return mgr._registry.Get(filepath.Join(mgr._dir, name))
}

func (mgr *Manager) load() error {
	types, err := mgr.defsFile(TypeDefinitionsFile)
	if err != nil {
		return err
	}
	err = storage.ScanRecords(types, func(_ storage.TID, rec []byte) error {
		typ, err := UnmarshalTypeDefinition(rec)
		if err != nil {
			return err
		}
		mgr.addType(typ)
		return nil
	})
	if err != nil {
		return err
	}
	for _, typ := range builtinTypes() {
		if _, ok := mgr._types[typ.Oid]; ok {
			continue
		}
		err = mgr.appendDef(TypeDefinitionsFile, typ)
		if err != nil {
			return err
		}
		mgr.addType(typ)
	}

	tables, err := mgr.defsFile(TableDefinitionsFile)
	if err != nil {
		return err
	}
	err = storage.ScanRecords(tables, func(_ storage.TID, rec []byte) error {
		table, err := UnmarshalTableDefinition(rec)
		if err != nil {
			return err
		}
		mgr._tables[table.Name] = table
		mgr._nextTableOid = max(mgr._nextTableOid, table.Oid+1)
		return nil
	})
	if err != nil {
		return err
	}

	columns, err := mgr.defsFile(ColumnDefinitionsFile)
	if err != nil {
		return err
	}
	return storage.ScanRecords(columns, func(_ storage.TID, rec []byte) error {
		col, err := UnmarshalColumnDefinition(rec)
		if err != nil {
			return err
		}
		mgr._columns[col.TableOid] = append(mgr._columns[col.TableOid], col)
		mgr._nextColumnOid = max(mgr._nextColumnOid, col.Oid+1)
		return nil
	})
}

func (mgr *Manager) addType(typ *TypeDefinition) {
	mgr._types[typ.Oid] = typ
	mgr._typesByName[typ.Name] = typ
}

type marshaler interface {
	Marshal() ([]byte, error)
}

func (mgr *Manager) appendDef(file string, def marshaler) error {
	data, err := def.Marshal()
	if err != nil {
		return err
	}
	bpm, err := mgr.defsFile(file)
	if err != nil {
		return err
	}
	_, err = storage.AppendRecord(bpm, data, maxDefinitionsPerPage)
	if err != nil {
		return fmt.Errorf("append to %s: %w", file, err)
	}
	return nil
}

// CreateTable registers a table. Column positions follow the order of
// columns; only Name and TypeOid of each column are used.
func (mgr *Manager) CreateTable(name string, columns []ColumnDefinition) (*TableDefinition, error) {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	if name == "" {
		return nil, fmt.Errorf("%w: empty table name", util.ErrInvalidArgument)
	}
	if _, ok := mgr._tables[name]; ok {
		return nil, fmt.Errorf("%w: table %q already exists", util.ErrInvalidArgument, name)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table %q has no columns", util.ErrInvalidArgument, name)
	}
	seen := make(map[string]bool)
	for _, col := range columns {
		if col.Name == "" || seen[col.Name] {
			return nil, fmt.Errorf("%w: bad or duplicate column %q", util.ErrInvalidArgument, col.Name)
		}
		seen[col.Name] = true
		if _, ok := mgr._types[col.TypeOid]; !ok {
			return nil, fmt.Errorf("%w: column %q has unknown type oid %d",
				util.ErrInvalidArgument, col.Name, col.TypeOid)
		}
	}

	tableOid := mgr._nextTableOid
	table := &TableDefinition{
		Oid:      tableOid,
		Name:     name,
		Kind:     tableKind,
		FileNode: strconv.Itoa(int(tableOid)) + ".dat",
	}
	defs := make([]*ColumnDefinition, 0, len(columns))
	for i, col := range columns {
		def := &ColumnDefinition{
			Oid:      mgr._nextColumnOid + int32(i),
			TableOid: tableOid,
			TypeOid:  col.TypeOid,
			Name:     col.Name,
			Position: int32(i),
		}
		err := mgr.appendDef(ColumnDefinitionsFile, def)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	err := mgr.appendDef(TableDefinitionsFile, table)
	if err != nil {
		return nil, err
	}
	mgr._nextTableOid++
	mgr._nextColumnOid += int32(len(columns))
	mgr._tables[name] = table
	mgr._columns[tableOid] = defs
	util.Info("create table",
		zap.String("name", name),
		zap.Int32("oid", tableOid),
		zap.Int("columns", len(defs)))
	cp := *table
	return &cp, nil
}

func (mgr *Manager) GetTable(name string) (*TableDefinition, error) {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	table, ok := mgr._tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: table %q does not exist", util.ErrInvalidArgument, name)
	}
	cp := *table
	return &cp, nil
}

// UpdateTable appends a new record for the table.
func (mgr *Manager) UpdateTable(table *TableDefinition) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	if table == nil {
		return fmt.Errorf("%w: nil table", util.ErrInvalidArgument)
	}
	old, ok := mgr._tables[table.Name]
	if !ok || old.Oid != table.Oid {
		return fmt.Errorf("%w: table %q does not exist", util.ErrInvalidArgument, table.Name)
	}
	cp := *table
	err := mgr.appendDef(TableDefinitionsFile, &cp)
	if err != nil {
		return err
	}
	mgr._tables[table.Name] = &cp
	return nil
}

func (mgr *Manager) ListTables() []*TableDefinition {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	ret := make([]*TableDefinition, 0, len(mgr._tables))
	for _, table := range mgr._tables {
		cp := *table
		ret = append(ret, &cp)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Oid < ret[j].Oid
	})
	return ret
}

func (mgr *Manager) GetColumn(table *TableDefinition, name string) (*ColumnDefinition, error) {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	cols := mgr._columns[table.Oid]
	idx := util.FindIf(cols, func(col *ColumnDefinition) bool {
		return col.Name == name
	})
	if idx < 0 {
		return nil, fmt.Errorf("%w: column %q of table %q does not exist",
			util.ErrInvalidArgument, name, table.Name)
	}
	cp := *cols[idx]
	return &cp, nil
}

// GetTableColumns returns the columns ordered by position.
func (mgr *Manager) GetTableColumns(table *TableDefinition) []*ColumnDefinition {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	cols := mgr._columns[table.Oid]
	ret := make([]*ColumnDefinition, 0, len(cols))
	for _, col := range cols {
		cp := *col
		ret = append(ret, &cp)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Position < ret[j].Position
	})
	return ret
}

func (mgr *Manager) GetType(typeOid oid.Oid) (*TypeDefinition, error) {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	typ, ok := mgr._types[typeOid]
	if !ok {
		return nil, fmt.Errorf("%w: type oid %d does not exist", util.ErrInvalidArgument, typeOid)
	}
	return typ, nil
}

func (mgr *Manager) GetTypeByName(name string) (*TypeDefinition, error) {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	typ, ok := mgr._typesByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: type %q does not exist", util.ErrInvalidArgument, name)
	}
	return typ, nil
}

// ColumnTypes resolves the type of every column of the table.
func (mgr *Manager) ColumnTypes(table *TableDefinition) ([]*TypeDefinition, error) {
	cols := mgr.GetTableColumns(table)
	ret := make([]*TypeDefinition, 0, len(cols))
	for _, col := range cols {
		typ, err := mgr.GetType(col.TypeOid)
		if err != nil {
			return nil, err
		}
		ret = append(ret, typ)
	}
	return ret, nil
}

// TablePath is the heap file of the table.
func (mgr *Manager) TablePath(table *TableDefinition) string {
	return filepath.Join(mgr._dir, table.FileNode)
}

// Flush writes the definition files.
func (mgr *Manager) Flush() error {
	for _, name := range []string{TableDefinitionsFile, ColumnDefinitionsFile, TypeDefinitionsFile} {
		bpm, err := mgr.defsFile(name)
		if err != nil {
			return err
		}
		err = bpm.FlushAllPages()
		if err != nil {
			return err
		}
	}
	return nil
}
