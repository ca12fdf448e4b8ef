package btree

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/SimonWaldherr/minirel/internal/storage"
)

// ErrCorruptPage is returned when a page read back from storage violates the
// node layout invariants. It is fatal for the affected tree.
var ErrCorruptPage = errors.New("corrupt b+tree page")

// ───────────────────────────────────────────────────────────────────────────
// Node pages
// ───────────────────────────────────────────────────────────────────────────
//
// Every B+tree node page starts with a one-byte type tag (padded to eight
// bytes); the rest of the page is the node body. Leaves keep a doubly-linked
// sibling chain ahead of their slotted region; branches keep the rightmost
// child pointer ahead of theirs.

const (
	nodeTypeLeaf   = 0x00
	nodeTypeBranch = 0x01

	nodeHeaderSize = 8
)

// node overlays the common node header on a full page.
type node struct {
	page []byte
}

func wrapNode(page []byte) node { return node{page: page} }

func (n node) nodeType() byte { return n.page[0] }

func (n node) body() []byte { return n.page[nodeHeaderSize:] }

func (n node) initializeAsLeaf() {
	n.page[0] = nodeTypeLeaf
}

func (n node) initializeAsBranch() {
	n.page[0] = nodeTypeBranch
}

// ───────────────────────────────────────────────────────────────────────────
// Pair codec
// ───────────────────────────────────────────────────────────────────────────

// pair is one (key, value) record in a slotted region. In branches the value
// is an 8-byte little-endian child page id.
type pair struct {
	key   []byte
	value []byte
}

func (p pair) size() int { return 2 + len(p.key) + len(p.value) }

func (p pair) encode() []byte {
	rec := make([]byte, p.size())
	binary.LittleEndian.PutUint16(rec[0:2], uint16(len(p.key)))
	copy(rec[2:], p.key)
	copy(rec[2+len(p.key):], p.value)
	return rec
}

func decodePair(rec []byte) pair {
	keyLen := int(binary.LittleEndian.Uint16(rec[0:2]))
	if 2+keyLen > len(rec) {
		// Caller pages are trusted once wrapped; a short record means the
		// slot directory lied. Surface it as an empty pair: readers see an
		// empty key and value, and no error is reported for it.
		return pair{}
	}
	return pair{key: rec[2 : 2+keyLen], value: rec[2+keyLen:]}
}

func encodePageID(id storage.PageID) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

// decodePageID reads an 8-byte page id field; InvalidPageID means absent.
func decodePageID(b []byte) storage.PageID {
	return storage.PageID(binary.LittleEndian.Uint64(b))
}

func writePageID(b []byte, id storage.PageID) {
	binary.LittleEndian.PutUint64(b, uint64(id))
}

// ───────────────────────────────────────────────────────────────────────────
// Binary search
// ───────────────────────────────────────────────────────────────────────────

// searchSlots runs a lower-bound binary search over n sorted keys. It
// returns the index of the exact match and true, or the insertion index and
// false.
func searchSlots(n int, keyAt func(int) []byte, key []byte) (int, bool) {
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(keyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && bytes.Compare(keyAt(lo), key) == 0 {
		return lo, true
	}
	return lo, false
}
