package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/pagedb/pkg/util"
)

// prepareFile writes pages 0..n-1, page i holding one record "p<i>".
func prepareFile(t *testing.T, pfm *PageFileMgr, n int) string {
	path := filepath.Join(t.TempDir(), "t.dat")
	for i := 0; i < n; i++ {
		page := NewHeapPage(int32(i))
		_, err := page.Write([]byte(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
		require.NoError(t, pfm.Write(page, path))
	}
	return path
}

func firstRecord(t *testing.T, page *HeapPage) string {
	rec, err := page.Read(0)
	require.NoError(t, err)
	return string(rec)
}

func TestBufferPool_EvictLeastRecentlyUsed(t *testing.T) {
	for _, kind := range []string{ReplacerLRU, ReplacerClock} {
		t.Run(kind, func(t *testing.T) {
			pfm := NewPageFileMgr()
			defer pfm.Close()
			path := prepareFile(t, pfm, 4)
			mgr := NewBufferPoolMgr(2, pfm, NewReplacer(kind), path)

			for _, id := range []int32{1, 2, 1, 3} {
				page, err := mgr.GetPage(id)
				require.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("p%d", id), firstRecord(t, page))
			}
			assert.True(t, mgr.Contains(1))
			assert.False(t, mgr.Contains(2))
			assert.True(t, mgr.Contains(3))
			assert.Equal(t, 2, mgr.Size())

			stats := mgr.Stats()
			assert.Equal(t, uint64(1), stats.Hits)
			assert.Equal(t, uint64(3), stats.Misses)
			assert.Equal(t, uint64(1), stats.Evictions)
		})
	}
}

func TestBufferPool_UpdateAndFlush(t *testing.T) {
	pfm := NewPageFileMgr()
	defer pfm.Close()
	path := prepareFile(t, pfm, 2)
	mgr := NewBufferPoolMgr(4, pfm, NewLRUReplacer(), path)

	err := mgr.UpdatePage(0, NewHeapPage(0))
	assert.ErrorIs(t, err, util.ErrNotFound)

	page, err := mgr.GetPage(0)
	require.NoError(t, err)
	cp := page.Clone()
	_, err = cp.Write([]byte("extra"))
	require.NoError(t, err)
	require.NoError(t, mgr.UpdatePage(0, cp))

	//cached state wins over the file
	page, err = mgr.GetPage(0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Size())
	onDisk, err := pfm.Read(0, path)
	require.NoError(t, err)
	assert.Equal(t, 1, onDisk.Size())

	dirty := mgr.DirtyPages()
	require.Len(t, dirty, 1)
	assert.Equal(t, int32(0), dirty[0].PageId)

	require.NoError(t, mgr.FlushPage(0))
	assert.Empty(t, mgr.DirtyPages())
	onDisk, err = pfm.Read(0, path)
	require.NoError(t, err)
	assert.Equal(t, 2, onDisk.Size())

	//absent and clean pages are no-ops
	require.NoError(t, mgr.FlushPage(0))
	require.NoError(t, mgr.FlushPage(42))
}

func TestBufferPool_DirtyVictimIsWritten(t *testing.T) {
	pfm := NewPageFileMgr()
	defer pfm.Close()
	path := prepareFile(t, pfm, 2)
	mgr := NewBufferPoolMgr(1, pfm, NewLRUReplacer(), path)

	fresh := NewHeapPage(5)
	_, err := fresh.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, mgr.NewPage(fresh))

	_, err = mgr.GetPage(1)
	require.NoError(t, err)
	assert.False(t, mgr.Contains(5))

	onDisk, err := pfm.Read(5, path)
	require.NoError(t, err)
	assert.Equal(t, "new", firstRecord(t, onDisk))
}

func TestBufferPool_Pinning(t *testing.T) {
	pfm := NewPageFileMgr()
	defer pfm.Close()
	path := prepareFile(t, pfm, 3)
	mgr := NewBufferPoolMgr(2, pfm, NewLRUReplacer(), path)

	require.NoError(t, mgr.PinPage(0))
	require.NoError(t, mgr.PinPage(1))
	require.NoError(t, mgr.PinPage(1))

	_, err := mgr.GetPage(2)
	assert.ErrorIs(t, err, util.ErrNoVictimAvailable)

	require.NoError(t, mgr.UnpinPage(1))
	_, err = mgr.GetPage(2)
	assert.ErrorIs(t, err, util.ErrNoVictimAvailable)

	require.NoError(t, mgr.UnpinPage(1))
	_, err = mgr.GetPage(2)
	require.NoError(t, err)
	assert.True(t, mgr.Contains(0))
	assert.False(t, mgr.Contains(1))

	err = mgr.UnpinPage(2)
	assert.ErrorIs(t, err, util.ErrIllegalState)
	err = mgr.UnpinPage(1)
	assert.ErrorIs(t, err, util.ErrNotFound)

	err = mgr.DropPage(0)
	assert.ErrorIs(t, err, util.ErrIllegalState)
	require.NoError(t, mgr.UnpinPage(0))
	require.NoError(t, mgr.DropPage(0))
	assert.False(t, mgr.Contains(0))
}

func TestBufferPool_EvictWriteFailure(t *testing.T) {
	pfm := NewPageFileMgr()
	defer pfm.Close()
	path := prepareFile(t, pfm, 2)
	mgr := NewBufferPoolMgr(1, pfm, NewLRUReplacer(), path)

	page, err := mgr.GetPage(0)
	require.NoError(t, err)
	cp := page.Clone()
	_, err = cp.Write([]byte("more"))
	require.NoError(t, err)
	require.NoError(t, mgr.UpdatePage(0, cp))

	util.Open(util.FAULTS_SCOPE_STORAGE)
	util.Register(util.FAULTS_SCOPE_STORAGE, util.FaultPageFileWrite, nil,
		func([]string) error {
			return errors.New("disk full")
		})
	_, err = mgr.GetPage(1)
	util.Close(util.FAULTS_SCOPE_STORAGE)
	require.Error(t, err)
	assert.True(t, mgr.Contains(0))
	assert.Len(t, mgr.DirtyPages(), 1)

	_, err = mgr.GetPage(1)
	require.NoError(t, err)
	assert.False(t, mgr.Contains(0))
	onDisk, err := pfm.Read(0, path)
	require.NoError(t, err)
	assert.Equal(t, 2, onDisk.Size())
}

func TestBufferPool_MissingPage(t *testing.T) {
	pfm := NewPageFileMgr()
	defer pfm.Close()
	path := prepareFile(t, pfm, 1)
	mgr := NewBufferPoolMgr(2, pfm, NewClockReplacer(), path)

	_, err := mgr.GetPage(3)
	assert.ErrorIs(t, err, util.ErrNotFound)
	assert.Equal(t, 0, mgr.Size())

	require.NoError(t, mgr.NewPage(NewHeapPage(3)))
	page, err := mgr.GetPage(3)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Size())

	require.NoError(t, mgr.Close())
	assert.Equal(t, 0, mgr.Size())
	n, err := pfm.NumPages(path)
	require.NoError(t, err)
	assert.Equal(t, int32(4), n)
}
