package storage

import (
	"errors"

	"github.com/daviszhen/pagedb/pkg/util"
)

// AppendRecord stores rec in the first page of the file that has room
// for it and holds fewer than maxPerPage records. A page is appended
// when none qualifies. maxPerPage <= 0 means no record limit.
func AppendRecord(mgr *BufferPoolMgr, rec []byte, maxPerPage int) (TID, error) {
	numPages, err := mgr.NumPages()
	if err != nil {
		return TID{}, err
	}
	for pageId := int32(0); pageId < numPages; pageId++ {
		page, err := mgr.GetPage(pageId)
		if err != nil {
			if errors.Is(err, util.ErrNotFound) {
				break
			}
			return TID{}, err
		}
		if maxPerPage > 0 && page.Size() >= maxPerPage {
			continue
		}
		if !page.Fits(len(rec)) {
			continue
		}
		cp := page.Clone()
		slot, err := cp.Write(rec)
		if err != nil {
			return TID{}, err
		}
		err = mgr.UpdatePage(pageId, cp)
		if err != nil {
			return TID{}, err
		}
		return TID{PageId: pageId, SlotId: int16(slot)}, nil
	}
	page := NewHeapPage(numPages)
	slot, err := page.Write(rec)
	if err != nil {
		return TID{}, err
	}
	err = mgr.NewPage(page)
	if err != nil {
		return TID{}, err
	}
	return TID{PageId: numPages, SlotId: int16(slot)}, nil
}

// ScanRecords calls fn for every record of the file in page and slot order.
func ScanRecords(mgr *BufferPoolMgr, fn func(tid TID, rec []byte) error) error {
	numPages, err := mgr.NumPages()
	if err != nil {
		return err
	}
	for pageId := int32(0); pageId < numPages; pageId++ {
		page, err := mgr.GetPage(pageId)
		if err != nil {
			return err
		}
		for i, rec := range page.Records {
			err = fn(TID{PageId: pageId, SlotId: int16(i)}, rec)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
