// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/huandu/go-clone"

	"github.com/daviszhen/pagedb/pkg/util"
)

const (
	PAGE_SIZE          = 8192
	PAGE_HEADER_SIZE   = 4
	RECORD_HEADER_SIZE = 4
	// MAX_RECORD_SIZE is the largest record an empty page can hold.
	MAX_RECORD_SIZE = PAGE_SIZE - PAGE_HEADER_SIZE - RECORD_HEADER_SIZE
)

// HeapPage is a slotted page of variable-length records.
// Slot ids are dense and follow insertion order.
//
// layout:
//
//	count int32
//	count x (len int32, bytes)
type HeapPage struct {
	PageId  int32
	Records [][]byte
	_used   int
}

func NewHeapPage(pageId int32) *HeapPage {
	return &HeapPage{
		PageId: pageId,
		_used:  PAGE_HEADER_SIZE,
	}
}

func (page *HeapPage) Size() int {
	return len(page.Records)
}

func (page *HeapPage) Used() int {
	return page._used
}

func (page *HeapPage) FreeSpace() int {
	return PAGE_SIZE - page._used
}

// Fits reports whether a record of n bytes can be appended.
func (page *HeapPage) Fits(n int) bool {
	return page._used+RECORD_HEADER_SIZE+n <= PAGE_SIZE
}

// Write appends the record and returns its slot id.
func (page *HeapPage) Write(rec []byte) (int, error) {
	if !page.Fits(len(rec)) {
		return 0, fmt.Errorf("%w: record of %d bytes into page %d with %d free",
			util.ErrCapacityExceeded, len(rec), page.PageId, page.FreeSpace())
	}
	data := make([]byte, len(rec))
	copy(data, rec)
	page.Records = append(page.Records, data)
	page._used += RECORD_HEADER_SIZE + len(rec)
	return len(page.Records) - 1, nil
}

func (page *HeapPage) Read(slot int) ([]byte, error) {
	if slot < 0 || slot >= len(page.Records) {
		return nil, fmt.Errorf("%w: slot %d of page %d with %d records",
			util.ErrOutOfRange, slot, page.PageId, len(page.Records))
	}
	return page.Records[slot], nil
}

// Reset drops every record.
func (page *HeapPage) Reset() {
	page.Records = nil
	page._used = PAGE_HEADER_SIZE
}

// Clone returns a deep copy. Pages handed out by the buffer pool
// are shared; callers clone before mutating and then update the pool.
func (page *HeapPage) Clone() *HeapPage {
	return clone.Clone(page).(*HeapPage)
}

func (page *HeapPage) Marshal() []byte {
	buf := make([]byte, PAGE_SIZE)
	binary.BigEndian.PutUint32(buf, uint32(len(page.Records)))
	off := PAGE_HEADER_SIZE
	for _, rec := range page.Records {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(rec)))
		off += RECORD_HEADER_SIZE
		copy(buf[off:], rec)
		off += len(rec)
	}
	return buf
}

func UnmarshalHeapPage(pageId int32, buf []byte) (*HeapPage, error) {
	if len(buf) < PAGE_HEADER_SIZE {
		return nil, fmt.Errorf("%w: page %d buffer of %d bytes",
			util.ErrIllegalState, pageId, len(buf))
	}
	page := NewHeapPage(pageId)
	cnt := int32(binary.BigEndian.Uint32(buf))
	if cnt < 0 {
		return nil, fmt.Errorf("%w: page %d record count %d",
			util.ErrIllegalState, pageId, cnt)
	}
	off := PAGE_HEADER_SIZE
	for i := int32(0); i < cnt; i++ {
		if off+RECORD_HEADER_SIZE > len(buf) {
			return nil, fmt.Errorf("%w: page %d truncated at record %d",
				util.ErrIllegalState, pageId, i)
		}
		l := int(int32(binary.BigEndian.Uint32(buf[off:])))
		off += RECORD_HEADER_SIZE
		if l < 0 || off+l > len(buf) {
			return nil, fmt.Errorf("%w: page %d record %d length %d",
				util.ErrIllegalState, pageId, i, l)
		}
		rec := make([]byte, l)
		copy(rec, buf[off:off+l])
		off += l
		page.Records = append(page.Records, rec)
	}
	page._used = off
	return page, nil
}
