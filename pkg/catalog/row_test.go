package catalog

import (
	"testing"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/pagedb/pkg/util"
)

func TestRowCodec(t *testing.T) {
	types := builtinTypes()
	dec, err := decimal.Parse("12.50")
	require.NoError(t, err)

	data, err := EncodeRow(types, []any{7, int32(9), "héllo", dec})
	require.NoError(t, err)
	row, err := DecodeRow(types, data)
	require.NoError(t, err)
	require.Len(t, row, 4)
	assert.Equal(t, int32(7), row[0])
	assert.Equal(t, int64(9), row[1])
	assert.Equal(t, "héllo", row[2])
	assert.Equal(t, 0, dec.Cmp(row[3].(decimal.Decimal)))

	data, err = EncodeRow(types, []any{nil, nil, nil, "3"})
	require.NoError(t, err)
	row, err = DecodeRow(types, data)
	require.NoError(t, err)
	assert.Nil(t, row[0])
	assert.Nil(t, row[1])
	assert.Nil(t, row[2])
	assert.Equal(t, "3", row[3].(decimal.Decimal).String())

	_, err = EncodeRow(types, []any{1})
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
	_, err = EncodeRow(types, []any{int64(1) << 40, nil, nil, nil})
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
	_, err = EncodeRow(types, []any{nil, "x", nil, nil})
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
	_, err = EncodeRow(types, []any{nil, nil, nil, "abc"})
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
}

func TestParseValue(t *testing.T) {
	types := builtinTypes()
	v, err := ParseValue(types[0], "-12")
	require.NoError(t, err)
	assert.Equal(t, int32(-12), v)
	v, err = ParseValue(types[1], "9000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(9000000000), v)
	v, err = ParseValue(types[2], "text")
	require.NoError(t, err)
	assert.Equal(t, "text", v)
	v, err = ParseValue(types[3], "1.25")
	require.NoError(t, err)
	assert.Equal(t, "1.25", v.(decimal.Decimal).String())
	v, err = ParseValue(types[2], "NULL")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseValue(types[0], "9000000000")
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
	_, err = ParseValue(types[1], "x")
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
}
