package arena

import (
	"fmt"

	"github.com/google/btree"
)

const (
	noBlock = -1

	freeIndexDegree = 8
)

// block is one node in the offset-ordered chain covering the arena. Neighbours are referred
// to by slot index within blockList.blocks rather than by pointer.
type block struct {
	offset int
	size   int
	prev   int
	next   int
	inUse  bool

	// Only meaningful while inUse
	token         AllocationToken
	alignedOffset int
	requestedSize int
	userData      any
}

// freeKey orders free blocks by size, then by offset, so a lower bound on (size, -1) finds
// the best fit with the lowest offset among equally sized candidates.
type freeKey struct {
	size   int
	offset int
	slot   int
}

func freeKeyLess(left, right freeKey) bool {
	if left.size != right.size {
		return left.size < right.size
	}
	return left.offset < right.offset
}

type blockList struct {
	blocks    []block
	freeSlots []int
	head      int

	freeIndex *btree.BTreeG[freeKey]
	freeBytes int
}

func (l *blockList) init(size int) {
	l.blocks = l.blocks[:0]
	l.freeSlots = l.freeSlots[:0]
	l.freeIndex = btree.NewG[freeKey](freeIndexDegree, freeKeyLess)
	l.freeBytes = 0

	l.head = l.allocateSlot()
	l.blocks[l.head].size = size
	l.insertFree(l.head)
}

func (l *blockList) allocateSlot() int {
	if len(l.freeSlots) > 0 {
		slot := l.freeSlots[len(l.freeSlots)-1]
		l.freeSlots = l.freeSlots[:len(l.freeSlots)-1]
		l.blocks[slot] = block{prev: noBlock, next: noBlock, token: NoAllocation}
		return slot
	}

	l.blocks = append(l.blocks, block{prev: noBlock, next: noBlock, token: NoAllocation})
	return len(l.blocks) - 1
}

func (l *blockList) releaseSlot(slot int) {
	l.blocks[slot] = block{prev: noBlock, next: noBlock, token: NoAllocation}
	l.freeSlots = append(l.freeSlots, slot)
}

func (l *blockList) liveBlockCount() int {
	return len(l.blocks) - len(l.freeSlots)
}

func (l *blockList) keyFor(slot int) freeKey {
	b := &l.blocks[slot]
	return freeKey{size: b.size, offset: b.offset, slot: slot}
}

func (l *blockList) insertFree(slot int) {
	if l.blocks[slot].inUse {
		panic(fmt.Sprintf("block at offset %d is in use and cannot enter the free index", l.blocks[slot].offset))
	}

	key := l.keyFor(slot)
	if _, replaced := l.freeIndex.ReplaceOrInsert(key); replaced {
		panic(fmt.Sprintf("free index already held a block at offset %d", key.offset))
	}
	l.freeBytes += key.size
}

func (l *blockList) removeFree(slot int) {
	key := l.keyFor(slot)
	removed, found := l.freeIndex.Delete(key)
	if !found || removed.slot != slot {
		panic(fmt.Sprintf("block at offset %d was not in the free index at the expected location", key.offset))
	}
	l.freeBytes -= key.size
}

// findFree returns the slot of the smallest free block of at least minSize bytes.
func (l *blockList) findFree(minSize int) (int, bool) {
	slot := noBlock
	l.freeIndex.AscendGreaterOrEqual(freeKey{size: minSize, offset: -1}, func(item freeKey) bool {
		slot = item.slot
		return false
	})

	return slot, slot != noBlock
}

func (l *blockList) largestFree() int {
	largest, ok := l.freeIndex.Max()
	if !ok {
		return 0
	}
	return largest.size
}

// splitFront carves frontSize bytes off the start of the block in slot into a new block,
// which is linked in immediately before it and returned.
func (l *blockList) splitFront(slot int, frontSize int) int {
	front := l.allocateSlot()
	back := &l.blocks[slot]

	l.blocks[front].offset = back.offset
	l.blocks[front].size = frontSize
	l.blocks[front].prev = back.prev
	l.blocks[front].next = slot

	if back.prev != noBlock {
		l.blocks[back.prev].next = front
	} else {
		l.head = front
	}

	back.prev = front
	back.offset += frontSize
	back.size -= frontSize

	return front
}

// coalesce merges the free block in slot with any free neighbours and returns slot. The
// block in slot itself must not be in the free index; merged neighbours are removed from it.
func (l *blockList) coalesce(slot int) int {
	for prev := l.blocks[slot].prev; prev != noBlock && !l.blocks[prev].inUse; prev = l.blocks[slot].prev {
		l.removeFree(prev)

		current := &l.blocks[slot]
		current.offset = l.blocks[prev].offset
		current.size += l.blocks[prev].size
		current.prev = l.blocks[prev].prev
		if current.prev != noBlock {
			l.blocks[current.prev].next = slot
		} else {
			l.head = slot
		}

		l.releaseSlot(prev)
	}

	for next := l.blocks[slot].next; next != noBlock && !l.blocks[next].inUse; next = l.blocks[slot].next {
		l.removeFree(next)

		current := &l.blocks[slot]
		current.size += l.blocks[next].size
		current.next = l.blocks[next].next
		if current.next != noBlock {
			l.blocks[current.next].prev = slot
		}

		l.releaseSlot(next)
	}

	return slot
}
