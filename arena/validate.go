package arena

import (
	"github.com/cockroachdb/errors"
)

// Validate performs internal consistency checks across the whole block chain, the free index,
// and the token map. It returns an error describing the first broken invariant, if any. It is
// called after every allocate and free when built with the debug_mem_utils tag.
func (a *Arena) Validate() error {
	if a.destroyed {
		return errors.Wrap(ErrProtocolViolation, "cannot validate a destroyed arena")
	}

	l := &a.blocks
	if l.head == noBlock {
		return errors.New("the block chain has no head")
	}
	if l.blocks[l.head].prev != noBlock {
		return errors.Errorf("the first block at offset %d has a previous block", l.blocks[l.head].offset)
	}

	nextOffset := 0
	previous := noBlock
	previousFree := false
	var visited, allocCount, freeCount, freeSize int

	for slot := l.head; slot != noBlock; slot = l.blocks[slot].next {
		visited++
		if visited > l.liveBlockCount() {
			return errors.New("the block chain is longer than the number of live blocks, it may contain a cycle")
		}

		b := &l.blocks[slot]
		if b.prev != previous {
			return errors.Errorf("block at offset %d lists the wrong previous block, the reverse reference is broken", b.offset)
		}
		if b.offset != nextOffset {
			return errors.Errorf("block at offset %d does not start where the previous block ends (%d)", b.offset, nextOffset)
		}
		if b.size < 1 {
			return errors.Errorf("block at offset %d has invalid size %d", b.offset, b.size)
		}

		if b.inUse {
			allocCount++
			if b.alignedOffset < b.offset || b.alignedOffset+b.requestedSize != b.offset+b.size {
				return errors.Errorf("in-use block [%d, %d) does not end with its %d byte allocation at aligned offset %d",
					b.offset, b.offset+b.size, b.requestedSize, b.alignedOffset)
			}

			tokenSlot, ok := a.tokens.Get(b.token)
			if !ok || tokenSlot != slot {
				return errors.Errorf("in-use block at offset %d is not registered under its token %d", b.offset, b.token)
			}
			previousFree = false
		} else {
			if previousFree {
				return errors.Errorf("free block at offset %d follows another free block and should have been merged", b.offset)
			}
			freeCount++
			freeSize += b.size

			key, found := l.freeIndex.Get(freeKey{size: b.size, offset: b.offset})
			if !found || key.slot != slot {
				return errors.Errorf("free block at offset %d is missing from the free index", b.offset)
			}
			previousFree = true
		}

		nextOffset = b.offset + b.size
		previous = slot
	}

	if nextOffset != a.size {
		return errors.Errorf("the full size of the arena is %d, but the blocks only added up to %d", a.size, nextOffset)
	}
	if visited != l.liveBlockCount() {
		return errors.Errorf("the block chain holds %d blocks, but %d block slots are live", visited, l.liveBlockCount())
	}
	if freeCount != l.freeIndex.Len() {
		return errors.Errorf("the number of free blocks in the chain and the number of blocks in the free index do not match! free index size: %d, chain free blocks: %d", l.freeIndex.Len(), freeCount)
	}
	if freeSize != l.freeBytes {
		return errors.Errorf("the free size of the arena is %d, but the free blocks only added up to %d", l.freeBytes, freeSize)
	}
	if allocCount != a.allocCount || allocCount != a.tokens.Count() {
		return errors.Errorf("the allocation count of the arena is %d with %d live tokens, but the in-use blocks added up to %d", a.allocCount, a.tokens.Count(), allocCount)
	}

	return nil
}
