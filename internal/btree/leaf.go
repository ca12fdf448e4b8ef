package btree

import (
	"bytes"
	"fmt"

	"github.com/SimonWaldherr/minirel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Leaf nodes
// ───────────────────────────────────────────────────────────────────────────
//
// Leaf body layout:
//   [0:8]   prevPageID (uint64 LE, InvalidPageID = none)
//   [8:16]  nextPageID (uint64 LE, InvalidPageID = none)
//   [16:..] slotted region of (key, value) pairs, sorted by key

const leafHeaderSize = 16

// leaf overlays a leaf node body.
type leaf struct {
	body []byte
}

func wrapLeaf(body []byte) leaf { return leaf{body: body} }

func (l leaf) slotted() slotted { return slotted{data: l.body[leafHeaderSize:]} }

func (l leaf) initialize() {
	writePageID(l.body[0:8], storage.InvalidPageID)
	writePageID(l.body[8:16], storage.InvalidPageID)
	l.slotted().init()
}

func (l leaf) prevPageID() storage.PageID { return decodePageID(l.body[0:8]) }
func (l leaf) nextPageID() storage.PageID { return decodePageID(l.body[8:16]) }

func (l leaf) setPrevPageID(id storage.PageID) { writePageID(l.body[0:8], id) }
func (l leaf) setNextPageID(id storage.PageID) { writePageID(l.body[8:16], id) }

func (l leaf) numPairs() int { return l.slotted().numSlots() }

func (l leaf) pairAt(i int) pair {
	rec := l.slotted().recordAt(i)
	if rec == nil {
		return pair{}
	}
	return decodePair(rec)
}

func (l leaf) keyAt(i int) []byte { return l.pairAt(i).key }

// searchSlotID locates key in the leaf: (index, true) on an exact match,
// (insertion index, false) otherwise.
func (l leaf) searchSlotID(key []byte) (int, bool) {
	return searchSlots(l.numPairs(), l.keyAt, key)
}

// insert places (key, value) at slot slotID and reports whether it fit.
func (l leaf) insert(slotID int, key, value []byte) bool {
	return l.slotted().insert(slotID, pair{key: key, value: value}.encode())
}

// transfer moves the leaf's first pair to the end of dest.
func (l leaf) transfer(dest leaf) bool {
	rec := l.slotted().recordAt(0)
	if rec == nil || !dest.slotted().insert(dest.numPairs(), rec) {
		return false
	}
	l.slotted().remove(0)
	return true
}

// isHalfFull reports whether more than half of the slotted region is used.
func (l leaf) isHalfFull() bool {
	s := l.slotted()
	return 2*s.freeSpace() < s.capacity()
}

// splitInsert distributes the leaf's pairs with newLeaf (which takes the
// smaller keys, sitting to the left in the sibling chain) and inserts
// (key, value) on the correct side. It returns the split key: the smallest
// key remaining in the original leaf.
func (l leaf) splitInsert(newLeaf leaf, key, value []byte) ([]byte, error) {
	for {
		if newLeaf.isHalfFull() {
			slotID, exact := l.searchSlotID(key)
			if exact {
				return nil, fmt.Errorf("leaf split: %w: duplicate key slipped past lookup", ErrCorruptPage)
			}
			if !l.insert(slotID, key, value) {
				return nil, fmt.Errorf("leaf split: pair of %d bytes does not fit a page", pair{key: key, value: value}.size())
			}
			break
		}
		if bytes.Compare(l.keyAt(0), key) < 0 {
			if !l.transfer(newLeaf) {
				return nil, fmt.Errorf("leaf split: transfer failed: %w", ErrCorruptPage)
			}
		} else {
			if !newLeaf.insert(newLeaf.numPairs(), key, value) {
				return nil, fmt.Errorf("leaf split: pair of %d bytes does not fit a page", pair{key: key, value: value}.size())
			}
			for !newLeaf.isHalfFull() {
				if !l.transfer(newLeaf) {
					return nil, fmt.Errorf("leaf split: transfer failed: %w", ErrCorruptPage)
				}
			}
			break
		}
	}
	return append([]byte(nil), l.keyAt(0)...), nil
}
