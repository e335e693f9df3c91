package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/pagedb/pkg/util"
)

func TestAppendRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.dat")
	pfm := NewPageFileMgr()
	defer pfm.Close()
	mgr := NewBufferPoolMgr(2, pfm, NewLRUReplacer(), path)

	tids := make([]TID, 0)
	for i := 0; i < 7; i++ {
		tid, err := AppendRecord(mgr, []byte(fmt.Sprintf("r%d", i)), 3)
		require.NoError(t, err)
		tids = append(tids, tid)
	}
	assert.Equal(t, TID{0, 0}, tids[0])
	assert.Equal(t, TID{0, 2}, tids[2])
	assert.Equal(t, TID{1, 0}, tids[3])
	assert.Equal(t, TID{2, 0}, tids[6])

	n, err := mgr.NumPages()
	require.NoError(t, err)
	assert.Equal(t, int32(3), n)

	//a big record skips pages without room
	_, err = AppendRecord(mgr, make([]byte, MAX_RECORD_SIZE), 0)
	require.NoError(t, err)
	_, err = AppendRecord(mgr, make([]byte, MAX_RECORD_SIZE+1), 0)
	assert.ErrorIs(t, err, util.ErrCapacityExceeded)

	require.NoError(t, mgr.Close())

	reopened := NewBufferPoolMgr(2, pfm, NewClockReplacer(), path)
	got := make([]string, 0)
	err = ScanRecords(reopened, func(tid TID, rec []byte) error {
		if len(rec) < 8 {
			got = append(got, string(rec))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1", "r2", "r3", "r4", "r5", "r6"}, got)
}
