package catalog

import (
	"github.com/lib/pq/oid"

	"github.com/daviszhen/pagedb/pkg/util"
)

const (
	TypeInt32   = "INT32"
	TypeInt64   = "INT64"
	TypeVarchar = "VARCHAR"
	TypeNumeric = "NUMERIC"
)

// TypeDefinition describes a column type. ByteLength is -1 for
// variable-length types.
type TypeDefinition struct {
	Oid        oid.Oid
	Name       string
	ByteLength int32
}

func builtinTypes() []*TypeDefinition {
	return []*TypeDefinition{
		{Oid: oid.T_int4, Name: TypeInt32, ByteLength: 4},
		{Oid: oid.T_int8, Name: TypeInt64, ByteLength: 8},
		{Oid: oid.T_varchar, Name: TypeVarchar, ByteLength: -1},
		{Oid: oid.T_numeric, Name: TypeNumeric, ByteLength: -1},
	}
}

func (typ *TypeDefinition) Marshal() ([]byte, error) {
	serial := util.NewBytesSerialize()
	err := util.Write[uint32](uint32(typ.Oid), serial)
	if err != nil {
		return nil, err
	}
	err = util.WriteString(typ.Name, serial)
	if err != nil {
		return nil, err
	}
	err = util.Write[int32](typ.ByteLength, serial)
	if err != nil {
		return nil, err
	}
	return serial.Bytes(), nil
}

func UnmarshalTypeDefinition(data []byte) (*TypeDefinition, error) {
	deserial := util.NewBytesDeserialize(data)
	typ := &TypeDefinition{}
	var o uint32
	err := util.Read[uint32](&o, deserial)
	if err != nil {
		return nil, err
	}
	typ.Oid = oid.Oid(o)
	typ.Name, err = util.ReadString(deserial)
	if err != nil {
		return nil, err
	}
	err = util.Read[int32](&typ.ByteLength, deserial)
	if err != nil {
		return nil, err
	}
	return typ, nil
}

// TableDefinition is the catalog record of a heap table. Its rows live
// in FileNode under the catalog directory.
type TableDefinition struct {
	Oid        int32
	Name       string
	Kind       string
	FileNode   string
	PagesCount int32
}

func (table *TableDefinition) Marshal() ([]byte, error) {
	serial := util.NewBytesSerialize()
	err := util.Write[int32](table.Oid, serial)
	if err != nil {
		return nil, err
	}
	for _, s := range []string{table.Name, table.Kind, table.FileNode} {
		err = util.WriteString(s, serial)
		if err != nil {
			return nil, err
		}
	}
	err = util.Write[int32](table.PagesCount, serial)
	if err != nil {
		return nil, err
	}
	return serial.Bytes(), nil
}

func UnmarshalTableDefinition(data []byte) (*TableDefinition, error) {
	deserial := util.NewBytesDeserialize(data)
	table := &TableDefinition{}
	err := util.Read[int32](&table.Oid, deserial)
	if err != nil {
		return nil, err
	}
	for _, s := range []*string{&table.Name, &table.Kind, &table.FileNode} {
		*s, err = util.ReadString(deserial)
		if err != nil {
			return nil, err
		}
	}
	err = util.Read[int32](&table.PagesCount, deserial)
	if err != nil {
		return nil, err
	}
	return table, nil
}

type ColumnDefinition struct {
	Oid      int32
	TableOid int32
	TypeOid  oid.Oid
	Name     string
	Position int32
}

func (col *ColumnDefinition) Marshal() ([]byte, error) {
	serial := util.NewBytesSerialize()
	err := util.Write[int32](col.Oid, serial)
	if err != nil {
		return nil, err
	}
	err = util.Write[int32](col.TableOid, serial)
	if err != nil {
		return nil, err
	}
	err = util.Write[uint32](uint32(col.TypeOid), serial)
	if err != nil {
		return nil, err
	}
	err = util.WriteString(col.Name, serial)
	if err != nil {
		return nil, err
	}
	err = util.Write[int32](col.Position, serial)
	if err != nil {
		return nil, err
	}
	return serial.Bytes(), nil
}

func UnmarshalColumnDefinition(data []byte) (*ColumnDefinition, error) {
	deserial := util.NewBytesDeserialize(data)
	col := &ColumnDefinition{}
	err := util.Read[int32](&col.Oid, deserial)
	if err != nil {
		return nil, err
	}
	err = util.Read[int32](&col.TableOid, deserial)
	if err != nil {
		return nil, err
	}
	var o uint32
	err = util.Read[uint32](&o, deserial)
	if err != nil {
		return nil, err
	}
	col.TypeOid = oid.Oid(o)
	col.Name, err = util.ReadString(deserial)
	if err != nil {
		return nil, err
	}
	err = util.Read[int32](&col.Position, deserial)
	if err != nil {
		return nil, err
	}
	return col, nil
}
