package btree

import (
	"bytes"
	"fmt"

	"github.com/SimonWaldherr/minirel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Branch nodes
// ───────────────────────────────────────────────────────────────────────────
//
// Branch body layout:
//   [0:8]  rightChild (uint64 LE) — child for keys >= the last separator
//   [8:..] slotted region of (separator key, left child page id) pairs
//
// A branch with n children stores n-1 separators. All keys in the subtree of
// pair i's child are strictly below separator i; separators are left fences
// of the child to their right, so an exact separator hit descends right.

const branchHeaderSize = 8

// branch overlays a branch node body.
type branch struct {
	body []byte
}

func wrapBranch(body []byte) branch { return branch{body: body} }

func (b branch) slotted() slotted { return slotted{data: b.body[branchHeaderSize:]} }

// initializeEmpty sets up a fresh branch with no separators or children yet,
// ready to receive pairs from a split.
func (b branch) initializeEmpty() {
	b.slotted().init()
	b.setRightChild(storage.InvalidPageID)
}

// initialize sets up a fresh branch with a single separator between two
// children, as created by a root split.
func (b branch) initialize(key []byte, leftChild, rightChild storage.PageID) error {
	b.slotted().init()
	if !b.insert(0, key, leftChild) {
		return fmt.Errorf("branch init: separator of %d bytes does not fit a page", len(key))
	}
	b.setRightChild(rightChild)
	return nil
}

func (b branch) rightChild() storage.PageID      { return decodePageID(b.body[0:8]) }
func (b branch) setRightChild(id storage.PageID) { writePageID(b.body[0:8], id) }

func (b branch) numPairs() int { return b.slotted().numSlots() }

func (b branch) pairAt(i int) pair {
	rec := b.slotted().recordAt(i)
	if rec == nil {
		return pair{}
	}
	return decodePair(rec)
}

func (b branch) keyAt(i int) []byte { return b.pairAt(i).key }

// childAt returns the i-th child pointer; index numPairs is the rightmost
// child from the header.
func (b branch) childAt(i int) storage.PageID {
	if i == b.numPairs() {
		return b.rightChild()
	}
	return decodePageID(b.pairAt(i).value)
}

func (b branch) searchSlotID(key []byte) (int, bool) {
	return searchSlots(b.numPairs(), b.keyAt, key)
}

// searchChildIdx picks the child covering key. An exact separator hit
// descends into the child to the separator's right.
func (b branch) searchChildIdx(key []byte) int {
	slotID, exact := b.searchSlotID(key)
	if exact {
		return slotID + 1
	}
	return slotID
}

func (b branch) searchChild(key []byte) storage.PageID {
	return b.childAt(b.searchChildIdx(key))
}

// insert places (key, child) at slot slotID and reports whether it fit.
func (b branch) insert(slotID int, key []byte, child storage.PageID) bool {
	return b.slotted().insert(slotID, pair{key: key, value: encodePageID(child)}.encode())
}

// transfer moves the branch's first pair to the end of dest.
func (b branch) transfer(dest branch) bool {
	rec := b.slotted().recordAt(0)
	if rec == nil || !dest.slotted().insert(dest.numPairs(), rec) {
		return false
	}
	b.slotted().remove(0)
	return true
}

func (b branch) isHalfFull() bool {
	s := b.slotted()
	return 2*s.freeSpace() < s.capacity()
}

// splitInsert distributes the branch's pairs with newBranch (which takes the
// smaller separators) and inserts (key, child) on the correct side. The
// original branch's first separator is promoted: its child becomes the new
// branch's rightmost child and its key is returned for the parent.
func (b branch) splitInsert(newBranch branch, key []byte, child storage.PageID) ([]byte, error) {
	for {
		if newBranch.isHalfFull() {
			slotID, exact := b.searchSlotID(key)
			if exact {
				return nil, fmt.Errorf("branch split: %w: separator already present", ErrCorruptPage)
			}
			if !b.insert(slotID, key, child) {
				return nil, fmt.Errorf("branch split: separator of %d bytes does not fit a page", len(key))
			}
			break
		}
		if bytes.Compare(b.keyAt(0), key) < 0 {
			if !b.transfer(newBranch) {
				return nil, fmt.Errorf("branch split: transfer failed: %w", ErrCorruptPage)
			}
		} else {
			if !newBranch.insert(newBranch.numPairs(), key, child) {
				return nil, fmt.Errorf("branch split: separator of %d bytes does not fit a page", len(key))
			}
			for !newBranch.isHalfFull() {
				if !b.transfer(newBranch) {
					return nil, fmt.Errorf("branch split: transfer failed: %w", ErrCorruptPage)
				}
			}
			break
		}
	}
	promoted := b.pairAt(0)
	overflowKey := append([]byte(nil), promoted.key...)
	newBranch.setRightChild(decodePageID(promoted.value))
	b.slotted().remove(0)
	return overflowKey, nil
}
