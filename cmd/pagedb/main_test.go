package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) string {
	out := &bytes.Buffer{}
	RootCmd.SetOut(out)
	RootCmd.SetArgs(append(args, "--data_dir", dir, "--writer=false", "--log_level", "error"))
	require.NoError(t, RootCmd.Execute(), strings.Join(args, " "))
	return out.String()
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	out := run(t, dir, "create-table", "items", "id:int32", "label:varchar", "price:numeric")
	assert.Contains(t, out, "table items oid 1")

	for _, row := range [][]string{
		{"1", "apple", "1.25"},
		{"2", "pear", "NULL"},
		{"3", "plum", "0.80"},
	} {
		out = run(t, dir, append([]string{"insert", "items"}, row...)...)
		assert.Contains(t, out, "(0,")
	}

	out = run(t, dir, "create-index", "items_id", "items", "id", "--type", "btree")
	assert.Contains(t, out, "index items_id BTREE")
	run(t, dir, "create-index", "items_label", "items", "label", "--type", "hash")

	out = run(t, dir, "search", "items", "label", "pear")
	assert.Contains(t, out, "pear\tNULL")
	out = run(t, dir, "range", "items", "id", "--from", "2")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "plum")

	out = run(t, dir, "scan", "items")
	assert.Equal(t, 3, strings.Count(out, "\n"))
	assert.Contains(t, out, "apple\t1.25")

	out = run(t, dir, "tables")
	assert.Contains(t, out, "table items(id INT32, label VARCHAR, price NUMERIC)")
	assert.Contains(t, out, "index items_label on items(label) using HASH")

	out = run(t, dir, "dump", "items_label")
	assert.Contains(t, out, "hash index items_label(label)")
	run(t, dir, "checkpoint")
	out = run(t, dir, "stats")
	assert.Contains(t, out, "dirty=0")
}
