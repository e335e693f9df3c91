package catalog

import (
	"fmt"

	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

// HeapTable stores the rows of one table in its page file. Rows are
// never deleted, so a TID stays valid for the life of the table.
type HeapTable struct {
	_catalog *Manager
	_name    string
	_columns []*ColumnDefinition
	_types   []*TypeDefinition
	_bpm     *storage.BufferPoolMgr
}

func OpenHeapTable(cat *Manager, registry *storage.Registry, name string) (*HeapTable, error) {
	table, err := cat.GetTable(name)
	if err != nil {
		return nil, err
	}
	types, err := cat.ColumnTypes(table)
	if err != nil {
		return nil, err
	}
	bpm, err := registry.Get(cat.TablePath(table))
	if err != nil {
		return nil, err
	}
	return &HeapTable{
		_catalog: cat,
		_name:    name,
		_columns: cat.GetTableColumns(table),
		_types:   types,
		_bpm:     bpm,
	}, nil
}

func (ht *HeapTable) Name() string {
	return ht._name
}

func (ht *HeapTable) Columns() []*ColumnDefinition {
	return ht._columns
}

func (ht *HeapTable) Types() []*TypeDefinition {
	return ht._types
}

func (ht *HeapTable) PagesCount() (int32, error) {
	table, err := ht._catalog.GetTable(ht._name)
	if err != nil {
		return 0, err
	}
	return table.PagesCount, nil
}

// Insert encodes the row and puts it into the first page with room.
// A page is appended when none has, and the catalog learns the new
// page count.
func (ht *HeapTable) Insert(values []any) (storage.TID, error) {
	data, err := EncodeRow(ht._types, values)
	if err != nil {
		return storage.TID{}, err
	}
	if len(data) > storage.MAX_RECORD_SIZE {
		return storage.TID{}, fmt.Errorf("%w: row of %d bytes never fits a page",
			util.ErrCapacityExceeded, len(data))
	}
	table, err := ht._catalog.GetTable(ht._name)
	if err != nil {
		return storage.TID{}, err
	}
	for pageId := int32(0); pageId < table.PagesCount; pageId++ {
		page, err := ht._bpm.GetPage(pageId)
		if err != nil {
			return storage.TID{}, err
		}
		if !page.Fits(len(data)) {
			continue
		}
		cp := page.Clone()
		slot, err := cp.Write(data)
		if err != nil {
			return storage.TID{}, err
		}
		err = ht._bpm.UpdatePage(pageId, cp)
		if err != nil {
			return storage.TID{}, err
		}
		return storage.TID{PageId: pageId, SlotId: int16(slot)}, nil
	}

	page := storage.NewHeapPage(table.PagesCount)
	slot, err := page.Write(data)
	if err != nil {
		return storage.TID{}, err
	}
	err = ht._bpm.NewPage(page)
	if err != nil {
		return storage.TID{}, err
	}
	table.PagesCount++
	err = ht._catalog.UpdateTable(table)
	if err != nil {
		return storage.TID{}, err
	}
	return storage.TID{PageId: page.PageId, SlotId: int16(slot)}, nil
}

func (ht *HeapTable) Read(tid storage.TID) ([]any, error) {
	page, err := ht._bpm.GetPage(tid.PageId)
	if err != nil {
		return nil, err
	}
	rec, err := page.Read(int(tid.SlotId))
	if err != nil {
		return nil, err
	}
	return DecodeRow(ht._types, rec)
}

// TidIterator walks every TID of the table in page and slot order.
type TidIterator struct {
	_table     *HeapTable
	_pages     int32
	_pageId    int32
	_slotId    int
	_pageSlots int
	_cur       storage.TID
	_err       error
}

func (ht *HeapTable) TidIterator() *TidIterator {
	it := &TidIterator{
		_table:     ht,
		_pageSlots: -1,
	}
	it._pages, it._err = ht.PagesCount()
	return it
}

func (it *TidIterator) Next() bool {
	if it._err != nil {
		return false
	}
	for it._pageId < it._pages {
		if it._pageSlots < 0 {
			page, err := it._table._bpm.GetPage(it._pageId)
			if err != nil {
				it._err = err
				return false
			}
			it._pageSlots = page.Size()
		}
		if it._slotId < it._pageSlots {
			it._cur = storage.TID{PageId: it._pageId, SlotId: int16(it._slotId)}
			it._slotId++
			return true
		}
		it._pageId++
		it._slotId = 0
		it._pageSlots = -1
	}
	return false
}

func (it *TidIterator) TID() storage.TID {
	return it._cur
}

func (it *TidIterator) Err() error {
	return it._err
}

// Scan calls fn for every row.
func (ht *HeapTable) Scan(fn func(tid storage.TID, row []any) error) error {
	it := ht.TidIterator()
	for it.Next() {
		row, err := ht.Read(it.TID())
		if err != nil {
			return err
		}
		err = fn(it.TID(), row)
		if err != nil {
			return err
		}
	}
	return it.Err()
}
