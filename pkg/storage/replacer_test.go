package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSlots(n int) []*BufferSlot {
	ret := make([]*BufferSlot, n)
	for i := range ret {
		ret[i] = &BufferSlot{PageId: int32(i), UsageCount: 1}
	}
	return ret
}

func TestLRUReplacer(t *testing.T) {
	lru := NewLRUReplacer()
	assert.Nil(t, lru.PickVictim())

	slots := newSlots(4)
	for _, slot := range slots {
		lru.Push(slot)
	}
	assert.Equal(t, 4, lru.Size())

	//refresh 0, drop 1
	lru.Push(slots[0])
	lru.Delete(1)
	lru.Delete(100)
	assert.Equal(t, 3, lru.Size())

	order := make([]int32, 0)
	for victim := lru.PickVictim(); victim != nil; victim = lru.PickVictim() {
		order = append(order, victim.PageId)
	}
	assert.Equal(t, []int32{2, 3, 0}, order)
	assert.Equal(t, 0, lru.Size())
}

func TestClockReplacer_SecondChance(t *testing.T) {
	clock := NewClockReplacer()
	assert.Nil(t, clock.PickVictim())

	slots := newSlots(3)
	slots[0].UsageCount = 0
	slots[1].UsageCount = 2
	slots[2].UsageCount = 1
	for _, slot := range slots {
		clock.Push(slot)
	}
	clock.Push(slots[2])
	assert.Equal(t, 3, clock.Size())

	victim := clock.PickVictim()
	require.NotNil(t, victim)
	assert.Equal(t, int32(0), victim.PageId)

	//1 drops to 1, 2 drops to 0, 1 drops to 0, 2 goes
	victim = clock.PickVictim()
	require.NotNil(t, victim)
	assert.Equal(t, int32(2), victim.PageId)
	assert.Equal(t, 0, slots[1].UsageCount)

	victim = clock.PickVictim()
	require.NotNil(t, victim)
	assert.Equal(t, int32(1), victim.PageId)
	assert.Nil(t, clock.PickVictim())
}

func TestClockReplacer_BoundedSweep(t *testing.T) {
	clock := NewClockReplacer()
	slots := newSlots(3)
	for _, slot := range slots {
		slot.UsageCount = 10
		clock.Push(slot)
	}
	clock.Delete(1)
	assert.Equal(t, 2, clock.Size())

	//no slot reaches zero within 2*size steps, so the head goes
	victim := clock.PickVictim()
	require.NotNil(t, victim)
	assert.Equal(t, int32(0), victim.PageId)
	assert.Equal(t, 1, clock.Size())
}

func TestNewReplacer(t *testing.T) {
	assert.IsType(t, &LRUReplacer{}, NewReplacer("lru"))
	assert.IsType(t, &ClockReplacer{}, NewReplacer("CLOCK"))
	assert.IsType(t, &LRUReplacer{}, NewReplacer(""))
}
