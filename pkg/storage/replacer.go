package storage

import (
	"strings"

	treemap "github.com/liyue201/gostl/ds/map"

	"github.com/daviszhen/pagedb/pkg/util"
)

// Replacer tracks the unpinned slots of one buffer pool and picks
// eviction victims among them. It is guarded by the pool's lock.
type Replacer interface {
	// Push admits the slot, or refreshes it when already admitted.
	Push(slot *BufferSlot)
	Delete(pageId int32)
	// PickVictim removes and returns a victim. nil when nothing is admitted.
	PickVictim() *BufferSlot
	Size() int
}

const (
	ReplacerLRU   = "lru"
	ReplacerClock = "clock"
)

// NewReplacer returns the policy named by kind. Unknown names get LRU.
func NewReplacer(kind string) Replacer {
	switch strings.ToLower(kind) {
	case ReplacerClock:
		return NewClockReplacer()
	default:
		return NewLRUReplacer()
	}
}

var _ Replacer = new(LRUReplacer)

// LRUReplacer orders slots by the tick of their last Push.
type LRUReplacer struct {
	_tick  uint64
	_order *treemap.Map[uint64, *BufferSlot]
	_ticks map[int32]uint64
}

func NewLRUReplacer() *LRUReplacer {
	cmp := func(a, b uint64) int {
		if a < b {
			return -1
		} else if a > b {
			return 1
		}
		return 0
	}
	return &LRUReplacer{
		_order: treemap.New[uint64, *BufferSlot](cmp),
		_ticks: make(map[int32]uint64),
	}
}

func (lru *LRUReplacer) Push(slot *BufferSlot) {
	lru.Delete(slot.PageId)
	lru._tick++
	lru._order.Insert(lru._tick, slot)
	lru._ticks[slot.PageId] = lru._tick
}

func (lru *LRUReplacer) Delete(pageId int32) {
	tick, ok := lru._ticks[pageId]
	if !ok {
		return
	}
	lru._order.Erase(tick)
	delete(lru._ticks, pageId)
}

func (lru *LRUReplacer) PickVictim() *BufferSlot {
	iter := lru._order.Begin()
	if !iter.IsValid() {
		return nil
	}
	slot := iter.Value()
	lru._order.Erase(iter.Key())
	delete(lru._ticks, slot.PageId)
	return slot
}

func (lru *LRUReplacer) Size() int {
	return len(lru._ticks)
}

var _ Replacer = new(ClockReplacer)

// ClockReplacer is the second-chance policy over a ring of slots.
type ClockReplacer struct {
	_ring []*BufferSlot
	_hand int
}

func NewClockReplacer() *ClockReplacer {
	return &ClockReplacer{}
}

func (clock *ClockReplacer) find(pageId int32) int {
	return util.FindIf(clock._ring, func(slot *BufferSlot) bool {
		return slot.PageId == pageId
	})
}

func (clock *ClockReplacer) Push(slot *BufferSlot) {
	if idx := clock.find(slot.PageId); idx >= 0 {
		clock._ring[idx] = slot
		return
	}
	clock._ring = append(clock._ring, slot)
}

func (clock *ClockReplacer) removeAt(idx int) *BufferSlot {
	slot := clock._ring[idx]
	clock._ring = append(clock._ring[:idx], clock._ring[idx+1:]...)
	if idx < clock._hand {
		clock._hand--
	}
	if clock._hand >= len(clock._ring) {
		clock._hand = 0
	}
	return slot
}

func (clock *ClockReplacer) Delete(pageId int32) {
	if idx := clock.find(pageId); idx >= 0 {
		clock.removeAt(idx)
	}
}

func (clock *ClockReplacer) PickVictim() *BufferSlot {
	n := len(clock._ring)
	if n == 0 {
		return nil
	}
	for step := 0; step < 2*n; step++ {
		if clock._hand >= len(clock._ring) {
			clock._hand = 0
		}
		slot := clock._ring[clock._hand]
		if slot.UsageCount > 0 {
			slot.UsageCount--
			clock._hand++
			continue
		}
		//the hand now points to the successor
		return clock.removeAt(clock._hand)
	}
	return clock.removeAt(0)
}

func (clock *ClockReplacer) Size() int {
	return len(clock._ring)
}
