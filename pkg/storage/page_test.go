package storage

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/pagedb/pkg/util"
)

func TestHeapPage_WriteRead(t *testing.T) {
	page := NewHeapPage(7)
	for i := 0; i < 10; i++ {
		slot, err := page.Write([]byte{byte(i), byte(i + 1)})
		require.NoError(t, err)
		assert.Equal(t, i, slot)
	}
	assert.Equal(t, 10, page.Size())
	assert.Equal(t, PAGE_HEADER_SIZE+10*(RECORD_HEADER_SIZE+2), page.Used())

	rec, err := page.Read(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4}, rec)

	_, err = page.Read(10)
	assert.ErrorIs(t, err, util.ErrOutOfRange)
	_, err = page.Read(-1)
	assert.ErrorIs(t, err, util.ErrOutOfRange)
}

func TestHeapPage_Capacity(t *testing.T) {
	page := NewHeapPage(0)
	_, err := page.Write(make([]byte, MAX_RECORD_SIZE+1))
	assert.ErrorIs(t, err, util.ErrCapacityExceeded)
	assert.Equal(t, 0, page.Size())

	_, err = page.Write(make([]byte, MAX_RECORD_SIZE))
	require.NoError(t, err)
	assert.Equal(t, 0, page.FreeSpace())

	_, err = page.Write(nil)
	assert.ErrorIs(t, err, util.ErrCapacityExceeded)

	page.Reset()
	assert.Equal(t, 0, page.Size())
	assert.Equal(t, PAGE_SIZE-PAGE_HEADER_SIZE, page.FreeSpace())
	assert.True(t, page.Fits(MAX_RECORD_SIZE))
}

func TestHeapPage_MarshalUnmarshal(t *testing.T) {
	page := NewHeapPage(3)
	_, err := page.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = page.Write([]byte{})
	require.NoError(t, err)
	_, err = page.Write(bytes.Repeat([]byte{0xab}, 300))
	require.NoError(t, err)

	buf := page.Marshal()
	assert.Len(t, buf, PAGE_SIZE)

	got, err := UnmarshalHeapPage(3, buf)
	require.NoError(t, err)
	assert.Equal(t, page.Size(), got.Size())
	assert.Equal(t, page.Used(), got.Used())
	for i := 0; i < page.Size(); i++ {
		want, _ := page.Read(i)
		rec, err := got.Read(i)
		require.NoError(t, err)
		assert.Equal(t, want, rec)
	}

	//zero filled page is empty
	empty, err := UnmarshalHeapPage(9, make([]byte, PAGE_SIZE))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Size())

	bad := make([]byte, PAGE_SIZE)
	bad[3] = 1
	bad[4] = 0x7f
	_, err = UnmarshalHeapPage(1, bad)
	assert.ErrorIs(t, err, util.ErrIllegalState)
}

func TestHeapPage_Clone(t *testing.T) {
	page := NewHeapPage(1)
	_, err := page.Write([]byte("abc"))
	require.NoError(t, err)

	cp := page.Clone()
	cp.Records[0][0] = 'x'
	_, err = cp.Write([]byte("def"))
	require.NoError(t, err)

	rec, _ := page.Read(0)
	assert.Equal(t, []byte("abc"), rec)
	assert.Equal(t, 1, page.Size())
	assert.Equal(t, 2, cp.Size())
	assert.Equal(t, page.Used()+RECORD_HEADER_SIZE+3, cp.Used())
}

func TestPageFileMgr(t *testing.T) {
	pfm := NewPageFileMgr()
	defer pfm.Close()
	path := filepath.Join(t.TempDir(), "sub", "1.dat")

	_, err := pfm.Read(0, path)
	assert.ErrorIs(t, err, util.ErrNotFound)

	page := NewHeapPage(3)
	_, err = page.Write([]byte("row"))
	require.NoError(t, err)
	require.NoError(t, pfm.Write(page, path))

	n, err := pfm.NumPages(path)
	require.NoError(t, err)
	assert.Equal(t, int32(4), n)

	got, err := pfm.Read(3, path)
	require.NoError(t, err)
	rec, err := got.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("row"), rec)

	//hole before page 3
	hole, err := pfm.Read(1, path)
	require.NoError(t, err)
	assert.Equal(t, 0, hole.Size())

	_, err = pfm.Read(4, path)
	assert.ErrorIs(t, err, util.ErrNotFound)

	_, err = pfm.Read(-1, path)
	assert.ErrorIs(t, err, util.ErrInvalidArgument)

	//a fresh manager sees the same bytes
	other := NewPageFileMgr()
	defer other.Close()
	got, err = other.Read(3, path)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Size())
}
