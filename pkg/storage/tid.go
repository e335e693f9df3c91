package storage

import (
	"fmt"

	"github.com/daviszhen/pagedb/pkg/util"
)

// TID locates one row: the heap page and the slot inside it.
type TID struct {
	PageId int32
	SlotId int16
}

const TIDSize = 6

func (tid TID) String() string {
	return fmt.Sprintf("(%d,%d)", tid.PageId, tid.SlotId)
}

func (tid TID) Serialize(serial util.Serialize) error {
	err := util.Write[int32](tid.PageId, serial)
	if err != nil {
		return err
	}
	return util.Write[int16](tid.SlotId, serial)
}

func DeserializeTID(deserial util.Deserialize) (TID, error) {
	var tid TID
	err := util.Read[int32](&tid.PageId, deserial)
	if err != nil {
		return tid, err
	}
	err = util.Read[int16](&tid.SlotId, deserial)
	return tid, err
}
