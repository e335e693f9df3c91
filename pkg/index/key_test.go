package index

import (
	"testing"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/pagedb/pkg/util"
)

func TestNormalizeKey(t *testing.T) {
	kases := []struct {
		in   any
		want any
	}{
		{int(7), int64(7)},
		{int8(-3), int32(-3)},
		{uint16(9), int32(9)},
		{uint32(10), int64(10)},
		{float32(1.5), float64(1.5)},
		{"abc", "abc"},
		{int32(4), int32(4)},
		{decimal.MustParse("10.50"), decimal.MustParse("10.5")},
		{decimal.MustParse("3.000"), decimal.MustParse("3")},
	}
	for _, kase := range kases {
		got, err := NormalizeKey(kase.in)
		require.NoError(t, err)
		assert.Equal(t, kase.want, got)
	}

	_, err := NormalizeKey(nil)
	assert.ErrorIs(t, err, util.ErrNotComparable)
	_, err = NormalizeKey([]byte("x"))
	assert.ErrorIs(t, err, util.ErrNotComparable)
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
}

func TestCompareKeys(t *testing.T) {
	c, err := CompareKeys(int32(5), int64(7))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = CompareKeys("b", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	d := decimal.MustParse("2.50")
	c, err = CompareKeys(d, int64(2))
	require.NoError(t, err)
	assert.Equal(t, 1, c)
	c, err = CompareKeys(decimal.MustParse("3.0"), decimal.MustParse("3"))
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	c, err = CompareKeys(float64(2.5), int32(3))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	_, err = CompareKeys("a", int32(1))
	assert.ErrorIs(t, err, util.ErrNotComparable)
	_, err = CompareKeys(d, "x")
	assert.ErrorIs(t, err, util.ErrNotComparable)
}

func TestEncodeKey(t *testing.T) {
	assert.Len(t, EncodeKey(int32(1)), 5)
	assert.Len(t, EncodeKey(int64(1)), 9)
	assert.NotEqual(t, EncodeKey(int32(1)), EncodeKey(int64(1)))

	for _, key := range []any{int32(-42), int64(1) << 40, "hello", ""} {
		got, err := DecodeKey(EncodeKey(key))
		require.NoError(t, err)
		assert.Equal(t, key, got)
	}

	a, err := NormalizeKey(decimal.MustParse("10.50"))
	require.NoError(t, err)
	b, err := NormalizeKey(decimal.MustParse("10.5"))
	require.NoError(t, err)
	assert.Equal(t, EncodeKey(a), EncodeKey(b))

	got, err := DecodeKey(EncodeKey(decimal.MustParse("1.25")))
	require.NoError(t, err)
	assert.Contains(t, got, "decimal.Decimal:")

	_, err = DecodeKey([]byte{keyTagInt32, 1})
	assert.ErrorIs(t, err, util.ErrIllegalState)
	_, err = DecodeKey(nil)
	assert.ErrorIs(t, err, util.ErrIllegalState)

	assert.Equal(t, HashKey(EncodeKey("k")), HashKey(EncodeKey("k")))
}
