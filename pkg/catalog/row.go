package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/govalues/decimal"
	"github.com/lib/pq/oid"

	"github.com/daviszhen/pagedb/pkg/util"
)

// CoerceValue converts v into the Go form of typ:
// int32, int64, string or decimal.Decimal. nil stays nil.
func CoerceValue(typ *TypeDefinition, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ.Oid {
	case oid.T_int4:
		switch val := v.(type) {
		case int32:
			return val, nil
		case int:
			if val < math.MinInt32 || val > math.MaxInt32 {
				break
			}
			return int32(val), nil
		case int64:
			if val < math.MinInt32 || val > math.MaxInt32 {
				break
			}
			return int32(val), nil
		}
	case oid.T_int8:
		switch val := v.(type) {
		case int64:
			return val, nil
		case int32:
			return int64(val), nil
		case int:
			return int64(val), nil
		}
	case oid.T_varchar:
		if val, ok := v.(string); ok {
			return val, nil
		}
	case oid.T_numeric:
		switch val := v.(type) {
		case decimal.Decimal:
			return val, nil
		case string:
			d, err := decimal.Parse(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not NUMERIC: %v",
					util.ErrInvalidArgument, val, err)
			}
			return d, nil
		case int32:
			return decimal.New(int64(val), 0)
		case int64:
			return decimal.New(val, 0)
		case int:
			return decimal.New(int64(val), 0)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type oid %d", util.ErrInvalidArgument, typ.Oid)
	}
	return nil, fmt.Errorf("%w: value %v (%T) does not fit %s",
		util.ErrInvalidArgument, v, v, typ.Name)
}

// ParseValue reads the text form of a value. NULL in any case is nil.
func ParseValue(typ *TypeDefinition, s string) (any, error) {
	if strings.EqualFold(s, "null") {
		return nil, nil
	}
	switch typ.Oid {
	case oid.T_int4:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not INT32", util.ErrInvalidArgument, s)
		}
		return int32(v), nil
	case oid.T_int8:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not INT64", util.ErrInvalidArgument, s)
		}
		return v, nil
	}
	return CoerceValue(typ, s)
}

// EncodeRow writes a presence byte per column followed by the value.
func EncodeRow(types []*TypeDefinition, values []any) ([]byte, error) {
	if len(types) != len(values) {
		return nil, fmt.Errorf("%w: %d values for %d columns",
			util.ErrInvalidArgument, len(values), len(types))
	}
	serial := util.NewBytesSerialize()
	for i, typ := range types {
		v, err := CoerceValue(typ, values[i])
		if err != nil {
			return nil, err
		}
		err = util.Write[bool](v != nil, serial)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case int32:
			err = util.Write[int32](val, serial)
		case int64:
			err = util.Write[int64](val, serial)
		case string:
			err = util.WriteString(val, serial)
		case decimal.Decimal:
			err = util.WriteString(val.String(), serial)
		}
		if err != nil {
			return nil, err
		}
	}
	return serial.Bytes(), nil
}

func DecodeRow(types []*TypeDefinition, data []byte) ([]any, error) {
	deserial := util.NewBytesDeserialize(data)
	ret := make([]any, len(types))
	for i, typ := range types {
		has := false
		err := util.Read[bool](&has, deserial)
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}
		switch typ.Oid {
		case oid.T_int4:
			var v int32
			err = util.Read[int32](&v, deserial)
			ret[i] = v
		case oid.T_int8:
			var v int64
			err = util.Read[int64](&v, deserial)
			ret[i] = v
		case oid.T_varchar:
			ret[i], err = util.ReadString(deserial)
		case oid.T_numeric:
			var s string
			s, err = util.ReadString(deserial)
			if err == nil {
				ret[i], err = decimal.Parse(s)
			}
		default:
			err = fmt.Errorf("%w: unknown type oid %d", util.ErrIllegalState, typ.Oid)
		}
		if err != nil {
			return nil, err
		}
	}
	return ret, nil
}
