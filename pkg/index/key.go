package index

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/govalues/decimal"

	"github.com/daviszhen/pagedb/pkg/util"
)

// key tags of the encoded form
const (
	keyTagInt32  byte = 1
	keyTagInt64  byte = 2
	keyTagString byte = 3
)

// NormalizeKey maps a key onto the kinds indexes order and encode:
// int32, int64, float64, string and decimal.Decimal.
// Decimals lose trailing zeros so equal values encode alike.
func NormalizeKey(key any) (any, error) {
	switch k := key.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil key", util.ErrNotComparable)
	case int32, int64, float64, string:
		return k, nil
	case decimal.Decimal:
		return k.Trim(0), nil
	case int:
		return int64(k), nil
	case int8:
		return int32(k), nil
	case int16:
		return int32(k), nil
	case uint8:
		return int32(k), nil
	case uint16:
		return int32(k), nil
	case uint32:
		return int64(k), nil
	case uint64:
		if k > math.MaxInt64 {
			break
		}
		return int64(k), nil
	case float32:
		return float64(k), nil
	}
	return nil, fmt.Errorf("%w: %v (%T)", util.ErrNotComparable, key, key)
}

func asInt64(key any) (int64, bool) {
	switch k := key.(type) {
	case int32:
		return int64(k), true
	case int64:
		return k, true
	}
	return 0, false
}

func asFloat64(key any) (float64, bool) {
	if i, ok := asInt64(key); ok {
		return float64(i), true
	}
	f, ok := key.(float64)
	return f, ok
}

func asDecimal(key any) (decimal.Decimal, bool) {
	if i, ok := asInt64(key); ok {
		d, err := decimal.New(i, 0)
		return d, err == nil
	}
	d, ok := key.(decimal.Decimal)
	return d, ok
}

// CompareKeys orders two normalized keys. Integers of both widths
// compare by value. Integers also compare with floats and decimals.
func CompareKeys(a, b any) (int, error) {
	if x, ok := asInt64(a); ok {
		if y, ok := asInt64(b); ok {
			return cmp.Compare(x, y), nil
		}
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
		return 0, fmt.Errorf("%w: %T vs %T", util.ErrNotComparable, a, b)
	}
	_, aDec := a.(decimal.Decimal)
	_, bDec := b.(decimal.Decimal)
	if aDec || bDec {
		x, ok1 := asDecimal(a)
		y, ok2 := asDecimal(b)
		if ok1 && ok2 {
			return x.Cmp(y), nil
		}
		return 0, fmt.Errorf("%w: %T vs %T", util.ErrNotComparable, a, b)
	}
	if x, ok := asFloat64(a); ok {
		if y, ok := asFloat64(b); ok {
			return cmp.Compare(x, y), nil
		}
	}
	return 0, fmt.Errorf("%w: %T vs %T", util.ErrNotComparable, a, b)
}

// EncodeKey is the on-disk form of a key: a tag byte and a payload.
//
//	1: int32
//	2: int64
//	3: len int32 + utf8. Other kinds use "<type>:<value>".
func EncodeKey(key any) []byte {
	switch k := key.(type) {
	case int32:
		buf := make([]byte, 5)
		buf[0] = keyTagInt32
		binary.BigEndian.PutUint32(buf[1:], uint32(k))
		return buf
	case int64:
		buf := make([]byte, 9)
		buf[0] = keyTagInt64
		binary.BigEndian.PutUint64(buf[1:], uint64(k))
		return buf
	case string:
		return encodeString(k)
	}
	return encodeString(fmt.Sprintf("%T:%v", key, key))
}

func encodeString(s string) []byte {
	buf := make([]byte, 5+len(s))
	buf[0] = keyTagString
	binary.BigEndian.PutUint32(buf[1:], uint32(len(s)))
	copy(buf[5:], s)
	return buf
}

// DecodeKey reverses EncodeKey. Fallback-encoded keys come back as
// their string form.
func DecodeKey(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty key", util.ErrIllegalState)
	}
	switch data[0] {
	case keyTagInt32:
		if len(data) == 5 {
			return int32(binary.BigEndian.Uint32(data[1:])), nil
		}
	case keyTagInt64:
		if len(data) == 9 {
			return int64(binary.BigEndian.Uint64(data[1:])), nil
		}
	case keyTagString:
		if len(data) >= 5 && int(binary.BigEndian.Uint32(data[1:])) == len(data)-5 {
			return string(data[5:]), nil
		}
	}
	return nil, fmt.Errorf("%w: bad key encoding tag %d len %d",
		util.ErrIllegalState, data[0], len(data))
}

// HashKey hashes the encoded key.
func HashKey(encoded []byte) int32 {
	return int32(xxhash.Sum64(encoded))
}
