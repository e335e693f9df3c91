package engine

import (
	"testing"
	"time"

	"github.com/govalues/decimal"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/pagedb/pkg/catalog"
	"github.com/daviszhen/pagedb/pkg/index"
	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

func testConfig(dir string, writer bool) *util.Config {
	cfg := util.DefaultConfig()
	cfg.Storage.DataDir = dir
	cfg.Storage.PoolSizePerFile = 4
	cfg.Writer.Enabled = writer
	cfg.Writer.BackgroundWriterIntervalMs = 5
	cfg.Writer.CheckPointIntervalMs = 20
	cfg.Writer.ShutdownTimeoutMs = 1000
	return cfg
}

func accountColumns() []catalog.ColumnDefinition {
	return []catalog.ColumnDefinition{
		{Name: "id", TypeOid: oid.T_int4},
		{Name: "owner", TypeOid: oid.T_varchar},
		{Name: "balance", TypeOid: oid.T_numeric},
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	eng, err := Open(testConfig(dir, false))
	require.NoError(t, err)

	_, err = eng.CreateTable("accounts", accountColumns())
	require.NoError(t, err)
	owners := []string{"ann", "bob", "cid", "dan", "eve"}
	tids := make([]storage.TID, 0)
	for i, owner := range owners {
		tid, err := eng.Insert("accounts", []any{i, owner, "10.50"})
		require.NoError(t, err)
		tids = append(tids, tid)
	}
	_, err = eng.Insert("accounts", []any{1, "x"})
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
	_, err = eng.Insert("accounts", []any{"one", "x", "1"})
	assert.ErrorIs(t, err, util.ErrInvalidArgument)

	row, err := eng.Read("accounts", tids[3])
	require.NoError(t, err)
	assert.Equal(t, int32(3), row[0])
	assert.Equal(t, "dan", row[1])
	assert.Equal(t, 0, row[2].(decimal.Decimal).Cmp(decimal.MustParse("10.5")))

	//no index yet: table scan
	got, err := eng.Search("accounts", "owner", "cid")
	require.NoError(t, err)
	assert.Equal(t, []storage.TID{tids[2]}, got)
	_, err = eng.RangeSearch("accounts", "id", 1, 3, true)
	assert.ErrorIs(t, err, util.ErrNotFound)

	_, err = eng.CreateIndex(index.Descriptor{Name: "acc_id", TableName: "accounts", ColumnName: "id", Type: index.HASH})
	require.NoError(t, err)
	_, err = eng.CreateIndex(index.Descriptor{Name: "acc_id_tree", TableName: "accounts", ColumnName: "id", Type: index.BTREE})
	require.NoError(t, err)

	tid, err := eng.Insert("accounts", []any{int64(5), "fay", nil})
	require.NoError(t, err)
	tids = append(tids, tid)

	got, err = eng.Search("accounts", "id", "5")
	require.NoError(t, err)
	assert.Equal(t, []storage.TID{tids[5]}, got)
	got, err = eng.Search("accounts", "id", 2)
	require.NoError(t, err)
	assert.Equal(t, []storage.TID{tids[2]}, got)
	got, err = eng.RangeSearch("accounts", "id", 1, 3, true)
	require.NoError(t, err)
	assert.Equal(t, tids[1:4], got)
	got, err = eng.RangeSearch("accounts", "id", 4, nil, false)
	require.NoError(t, err)
	assert.Equal(t, tids[5:], got)

	dump, err := eng.DumpIndex("acc_id")
	require.NoError(t, err)
	assert.Contains(t, dump, "bucket")
	_, err = eng.DumpIndex("missing")
	assert.ErrorIs(t, err, util.ErrNotFound)

	require.NoError(t, eng.Checkpoint())
	for _, fs := range eng.Stats() {
		assert.Zero(t, fs.Dirty, fs.Path)
		assert.False(t, fs.HasWriter)
	}
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	eng, err = Open(testConfig(dir, false))
	require.NoError(t, err)
	defer eng.Close()
	count := 0
	require.NoError(t, eng.Scan("accounts", func(tid storage.TID, row []any) error {
		count++
		return nil
	}))
	assert.Equal(t, len(tids), count)
	got, err = eng.Search("accounts", "id", 4)
	require.NoError(t, err)
	assert.Equal(t, []storage.TID{tids[4]}, got)
	got, err = eng.RangeSearch("accounts", "id", nil, 1, true)
	require.NoError(t, err)
	assert.Equal(t, tids[:2], got)
}

func TestEngine_SearchNumeric(t *testing.T) {
	eng, err := Open(testConfig(t.TempDir(), false))
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.CreateTable("accounts", accountColumns())
	require.NoError(t, err)
	tids := make([]storage.TID, 0)
	for i, balance := range []string{"10.50", "7", "10.5"} {
		tid, err := eng.Insert("accounts", []any{i, "x", balance})
		require.NoError(t, err)
		tids = append(tids, tid)
	}
	want := []storage.TID{tids[0], tids[2]}

	got, err := eng.Search("accounts", "balance", "10.5")
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)

	_, err = eng.CreateIndex(index.Descriptor{Name: "acc_balance", TableName: "accounts", ColumnName: "balance", Type: index.HASH})
	require.NoError(t, err)
	for _, key := range []string{"10.5", "10.50", "10.500"} {
		got, err = eng.Search("accounts", "balance", key)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, got, key)
	}
}

func TestEngine_BackgroundWriter(t *testing.T) {
	eng, err := Open(testConfig(t.TempDir(), true))
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.CreateTable("accounts", accountColumns())
	require.NoError(t, err)
	fields := []string{"1", "ann", "3.25"}
	for i := 0; i < 50; i++ {
		row, err := eng.ParseRow("accounts", fields)
		require.NoError(t, err)
		_, err = eng.Insert("accounts", row)
		require.NoError(t, err)
	}
	_, err = eng.ParseRow("accounts", []string{"1"})
	assert.ErrorIs(t, err, util.ErrInvalidArgument)

	assert.Eventually(t, func() bool {
		for _, fs := range eng.Stats() {
			if !fs.HasWriter || fs.Dirty != 0 || fs.Writer.Checkpoints == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_BadConfig(t *testing.T) {
	cfg := testConfig(t.TempDir(), false)
	cfg.Storage.Replacer = "fifo"
	_, err := Open(cfg)
	assert.ErrorIs(t, err, util.ErrInvalidArgument)

	cfg = testConfig(t.TempDir(), false)
	cfg.Storage.PoolSizePerFile = 0
	_, err = Open(cfg)
	assert.ErrorIs(t, err, util.ErrInvalidArgument)

	cfg = testConfig(t.TempDir(), true)
	cfg.Writer.BatchSize = 0
	_, err = Open(cfg)
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
}
