package catalog

import (
	"strings"
	"testing"

	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

func TestHeapTable_InsertScan(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry()
	cat, err := Open(dir, reg)
	require.NoError(t, err)
	_, err = cat.CreateTable("t", []ColumnDefinition{
		{Name: "id", TypeOid: oid.T_int8},
		{Name: "pad", TypeOid: oid.T_varchar},
	})
	require.NoError(t, err)
	ht, err := OpenHeapTable(cat, reg, "t")
	require.NoError(t, err)

	pad := strings.Repeat("x", 500)
	tids := make([]storage.TID, 0)
	for i := 0; i < 100; i++ {
		tid, err := ht.Insert([]any{int64(i), pad})
		require.NoError(t, err)
		tids = append(tids, tid)
	}
	pages, err := ht.PagesCount()
	require.NoError(t, err)
	assert.Greater(t, pages, int32(1))
	assert.Equal(t, storage.TID{PageId: 0, SlotId: 0}, tids[0])

	row, err := ht.Read(tids[42])
	require.NoError(t, err)
	assert.Equal(t, int64(42), row[0])

	_, err = ht.Read(storage.TID{PageId: 0, SlotId: 999})
	assert.ErrorIs(t, err, util.ErrOutOfRange)

	_, err = ht.Insert([]any{int64(1), strings.Repeat("y", storage.PAGE_SIZE)})
	assert.ErrorIs(t, err, util.ErrCapacityExceeded)

	require.NoError(t, reg.Close())

	reg = newRegistry()
	defer reg.Close()
	cat, err = Open(dir, reg)
	require.NoError(t, err)
	ht, err = OpenHeapTable(cat, reg, "t")
	require.NoError(t, err)

	got := make([]storage.TID, 0)
	err = ht.Scan(func(tid storage.TID, row []any) error {
		assert.Equal(t, int64(len(got)), row[0])
		got = append(got, tid)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, tids, got)

	it := ht.TidIterator()
	n := 0
	for it.Next() {
		n++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 100, n)

	_, err = OpenHeapTable(cat, reg, "missing")
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
}
