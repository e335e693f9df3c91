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
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/daviszhen/pagedb/pkg/util"
)

// BufferSlot is one cached page with its bookkeeping.
type BufferSlot struct {
	PageId     int32
	Page       *HeapPage
	Dirty      bool
	PinCount   int
	UsageCount int
	Pinned     bool
}

type BufferPoolStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

// BufferPoolMgr caches the pages of one file in at most poolSize frames.
//
// Pages returned by GetPage are shared with the pool. Mutate a Clone
// and hand it back with UpdatePage.
type BufferPoolMgr struct {
	_lock     sync.RWMutex
	_poolSize int
	_path     string
	_pfm      *PageFileMgr
	_replacer Replacer
	_slots    map[int32]*BufferSlot
	_stats    BufferPoolStats
}

func NewBufferPoolMgr(
	poolSize int,
	pfm *PageFileMgr,
	replacer Replacer,
	path string) *BufferPoolMgr {
	util.AssertFunc(poolSize > 0)
	return &BufferPoolMgr{
		_poolSize: poolSize,
		_path:     path,
		_pfm:      pfm,
		_replacer: replacer,
		_slots:    make(map[int32]*BufferSlot),
	}
}

func (mgr *BufferPoolMgr) Path() string {
	return mgr._path
}

func (mgr *BufferPoolMgr) PoolSize() int {
	return mgr._poolSize
}

// Size is the number of cached frames.
func (mgr *BufferPoolMgr) Size() int {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	return len(mgr._slots)
}

func (mgr *BufferPoolMgr) Contains(pageId int32) bool {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	_, ok := mgr._slots[pageId]
	return ok
}

// NumPages counts pages on disk and cached pages not flushed yet.
func (mgr *BufferPoolMgr) NumPages() (int32, error) {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	n, err := mgr._pfm.NumPages(mgr._path)
	if err != nil {
		return 0, err
	}
	for pageId := range mgr._slots {
		if pageId+1 > n {
			n = pageId + 1
		}
	}
	return n, nil
}

func (mgr *BufferPoolMgr) Stats() BufferPoolStats {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	return mgr._stats
}

// GetPage returns the cached page, reading it through on a miss.
func (mgr *BufferPoolMgr) GetPage(pageId int32) (*HeapPage, error) {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	slot, err := mgr.getSlot(pageId)
	if err != nil {
		return nil, err
	}
	return slot.Page, nil
}

func (mgr *BufferPoolMgr) getSlot(pageId int32) (*BufferSlot, error) {
	if slot, ok := mgr._slots[pageId]; ok {
		mgr._stats.Hits++
		slot.UsageCount++
		if !slot.Pinned {
			mgr._replacer.Push(slot)
		}
		return slot, nil
	}
	mgr._stats.Misses++
	page, err := mgr._pfm.Read(pageId, mgr._path)
	if err != nil {
		return nil, err
	}
	return mgr.install(page, false)
}

func (mgr *BufferPoolMgr) install(page *HeapPage, dirty bool) (*BufferSlot, error) {
	if len(mgr._slots) >= mgr._poolSize {
		err := mgr.evict()
		if err != nil {
			return nil, err
		}
	}
	slot := &BufferSlot{
		PageId:     page.PageId,
		Page:       page,
		Dirty:      dirty,
		UsageCount: 1,
	}
	mgr._slots[page.PageId] = slot
	mgr._replacer.Push(slot)
	return slot, nil
}

func (mgr *BufferPoolMgr) evict() error {
	victim := mgr._replacer.PickVictim()
	if victim == nil {
		return fmt.Errorf("%w: %d frames of %s are pinned",
			util.ErrNoVictimAvailable, len(mgr._slots), mgr._path)
	}
	util.AssertFunc(!victim.Pinned)
	if victim.Dirty {
		err := mgr._pfm.Write(victim.Page, mgr._path)
		if err != nil {
			mgr._replacer.Push(victim)
			return fmt.Errorf("evict page %d: %w", victim.PageId, err)
		}
		mgr._stats.Flushes++
	}
	delete(mgr._slots, victim.PageId)
	mgr._stats.Evictions++
	util.Debug("evict page",
		zap.String("path", mgr._path),
		zap.Int32("pageId", victim.PageId),
		zap.Bool("dirty", victim.Dirty))
	return nil
}

// UpdatePage replaces the content of a cached page and marks it dirty.
func (mgr *BufferPoolMgr) UpdatePage(pageId int32, page *HeapPage) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	slot, ok := mgr._slots[pageId]
	if !ok {
		return fmt.Errorf("%w: page %d is not cached in %s",
			util.ErrNotFound, pageId, mgr._path)
	}
	page.PageId = pageId
	slot.Page = page
	slot.Dirty = true
	return nil
}

// NewPage caches a page that may not exist on disk yet. It is dirty
// until flushed. An already cached page is replaced.
func (mgr *BufferPoolMgr) NewPage(page *HeapPage) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	if slot, ok := mgr._slots[page.PageId]; ok {
		slot.Page = page
		slot.Dirty = true
		return nil
	}
	_, err := mgr.install(page, true)
	return err
}

// DropPage forgets a frame without flushing it.
func (mgr *BufferPoolMgr) DropPage(pageId int32) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	slot, ok := mgr._slots[pageId]
	if !ok {
		return nil
	}
	if slot.Pinned {
		return fmt.Errorf("%w: drop pinned page %d of %s",
			util.ErrIllegalState, pageId, mgr._path)
	}
	mgr._replacer.Delete(pageId)
	delete(mgr._slots, pageId)
	return nil
}

// PinPage loads the page if needed and keeps it out of eviction.
func (mgr *BufferPoolMgr) PinPage(pageId int32) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	slot, err := mgr.getSlot(pageId)
	if err != nil {
		return err
	}
	slot.PinCount++
	slot.Pinned = true
	mgr._replacer.Delete(pageId)
	return nil
}

func (mgr *BufferPoolMgr) UnpinPage(pageId int32) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	slot, ok := mgr._slots[pageId]
	if !ok {
		return fmt.Errorf("%w: unpin page %d is not cached in %s",
			util.ErrNotFound, pageId, mgr._path)
	}
	if slot.PinCount == 0 {
		return fmt.Errorf("%w: unpin page %d that is not pinned",
			util.ErrIllegalState, pageId)
	}
	slot.PinCount--
	if slot.PinCount == 0 {
		slot.Pinned = false
		slot.UsageCount++
		mgr._replacer.Push(slot)
	}
	return nil
}

// FlushPage writes the page if it is cached and dirty.
func (mgr *BufferPoolMgr) FlushPage(pageId int32) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	slot, ok := mgr._slots[pageId]
	if !ok || !slot.Dirty {
		return nil
	}
	return mgr.flushSlot(slot)
}

func (mgr *BufferPoolMgr) flushSlot(slot *BufferSlot) error {
	err := mgr._pfm.Write(slot.Page, mgr._path)
	if err != nil {
		return err
	}
	slot.Dirty = false
	mgr._stats.Flushes++
	return nil
}

// FlushAllPages writes every dirty frame and syncs the file.
func (mgr *BufferPoolMgr) FlushAllPages() error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	var err error
	for _, pageId := range mgr.sortedPageIds() {
		slot := mgr._slots[pageId]
		if !slot.Dirty {
			continue
		}
		err = errors.Join(err, mgr.flushSlot(slot))
	}
	if err != nil {
		return err
	}
	return mgr._pfm.Sync(mgr._path)
}

// DirtyPages is a snapshot of the dirty frames ordered by page id.
func (mgr *BufferPoolMgr) DirtyPages() []BufferSlot {
	mgr._lock.RLock()
	defer mgr._lock.RUnlock()
	ret := make([]BufferSlot, 0)
	for _, pageId := range mgr.sortedPageIds() {
		slot := mgr._slots[pageId]
		if slot.Dirty {
			ret = append(ret, *slot)
		}
	}
	return ret
}

func (mgr *BufferPoolMgr) sortedPageIds() []int32 {
	ids := make([]int32, 0, len(mgr._slots))
	for pageId := range mgr._slots {
		ids = append(ids, pageId)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

// Close flushes the pool and releases the file handle.
func (mgr *BufferPoolMgr) Close() error {
	err := mgr.FlushAllPages()
	if err != nil {
		return err
	}
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	mgr._slots = make(map[int32]*BufferSlot)
	mgr._replacer = NewReplacer(mgr.replacerKind())
	return mgr._pfm.CloseFile(mgr._path)
}

func (mgr *BufferPoolMgr) replacerKind() string {
	if _, ok := mgr._replacer.(*ClockReplacer); ok {
		return ReplacerClock
	}
	return ReplacerLRU
}
