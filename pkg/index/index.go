package index

import (
	"fmt"
	"strings"

	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

type IndexType int32

const (
	HASH IndexType = iota
	BTREE
)

func (typ IndexType) String() string {
	switch typ {
	case HASH:
		return "HASH"
	case BTREE:
		return "BTREE"
	default:
		return fmt.Sprintf("IndexType(%d)", int32(typ))
	}
}

func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToUpper(s) {
	case "HASH":
		return HASH, nil
	case "BTREE":
		return BTREE, nil
	}
	return 0, fmt.Errorf("%w: unknown index type %q", util.ErrInvalidArgument, s)
}

// Index maps keys to the TIDs of rows holding them.
type Index interface {
	Name() string
	ColumnName() string
	Type() IndexType
	Insert(key any, tid storage.TID) error
	//Search expects the key in the Go type of the indexed column.
	//A hash index keeps int32 and int64 keys apart.
	Search(key any) ([]storage.TID, error)
	ScanAll() ([]storage.TID, error)
	Dump() string
	Close() error
}

// RangeIndex is an Index that also answers ordered queries.
// A nil bound is unbounded.
type RangeIndex interface {
	Index
	RangeSearch(from, to any, inclusive bool) ([]storage.TID, error)
	SearchGreaterThan(key any, inclusive bool) ([]storage.TID, error)
	SearchLessThan(key any, inclusive bool) ([]storage.TID, error)
}

var _ Index = new(LinearHashIndex)
var _ RangeIndex = new(BPlusTree)

type Descriptor struct {
	Name       string
	TableName  string
	ColumnName string
	Type       IndexType
}

func (desc *Descriptor) String() string {
	return fmt.Sprintf("%s on %s(%s) using %s",
		desc.Name, desc.TableName, desc.ColumnName, desc.Type)
}

// MarshalDefinition is the persisted form of a descriptor:
// name, table and column as len+bytes, then the type ordinal.
func MarshalDefinition(desc *Descriptor) ([]byte, error) {
	serial := util.NewBytesSerialize()
	for _, s := range []string{desc.Name, desc.TableName, desc.ColumnName} {
		err := util.WriteString(s, serial)
		if err != nil {
			return nil, err
		}
	}
	err := util.Write[int32](int32(desc.Type), serial)
	if err != nil {
		return nil, err
	}
	return serial.Bytes(), nil
}

func UnmarshalDefinition(data []byte) (*Descriptor, error) {
	deserial := util.NewBytesDeserialize(data)
	desc := &Descriptor{}
	var err error
	for _, s := range []*string{&desc.Name, &desc.TableName, &desc.ColumnName} {
		*s, err = util.ReadString(deserial)
		if err != nil {
			return nil, err
		}
	}
	var typ int32
	err = util.Read[int32](&typ, deserial)
	if err != nil {
		return nil, err
	}
	desc.Type = IndexType(typ)
	if desc.Type != HASH && desc.Type != BTREE {
		return nil, fmt.Errorf("%w: index %q has type ordinal %d",
			util.ErrIllegalState, desc.Name, typ)
	}
	return desc, nil
}
