package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "pagedb.toml")
	content := `
[storage]
dataDir = "/tmp/pagedb"
replacer = "clock"

[writer]
enabled = false
batchSize = 4
`
	require.NoError(t, os.WriteFile(fpath, []byte(content), 0644))
	cfg, err := LoadConfig(fpath)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pagedb", cfg.Storage.DataDir)
	assert.Equal(t, "clock", cfg.Storage.Replacer)
	assert.False(t, cfg.Writer.Enabled)
	assert.Equal(t, 4, cfg.Writer.BatchSize)
	//untouched keys keep defaults
	def := DefaultConfig()
	assert.Equal(t, def.Storage.PoolSizePerFile, cfg.Storage.PoolSizePerFile)
	assert.Equal(t, def.Index.BtreeOrder, cfg.Index.BtreeOrder)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestFaultInject(t *testing.T) {
	called := 0
	Register(FAULTS_SCOPE_STORAGE, "f", nil, func([]string) error {
		called++
		return ErrIllegalState
	})
	//not open: nothing registered, nothing fires
	assert.NoError(t, Inject(FAULTS_SCOPE_STORAGE, "f"))

	Open(FAULTS_SCOPE_STORAGE)
	defer Close(FAULTS_SCOPE_STORAGE)
	Register(FAULTS_SCOPE_STORAGE, "f", []string{"a"}, func(args []string) error {
		called++
		assert.Equal(t, []string{"a"}, args)
		return ErrIllegalState
	})
	assert.ErrorIs(t, Inject(FAULTS_SCOPE_STORAGE, "f"), ErrIllegalState)
	assert.NoError(t, Inject(FAULTS_SCOPE_STORAGE, "g"))
	Unregister(FAULTS_SCOPE_STORAGE, "f")
	assert.NoError(t, Inject(FAULTS_SCOPE_STORAGE, "f"))
	assert.Equal(t, 1, called)
}
