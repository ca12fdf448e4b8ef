// Package btree implements a disk-resident B+tree over the buffer pool: an
// ordered map from byte-string keys to byte-string values with point lookup,
// ascending range iteration, and bottom-up splits.
//
// The tree is addressed by its meta page id. Leaves form a doubly-linked
// sibling chain so iteration walks left to right without touching branches.
// A leaf split allocates the new leaf to the LEFT of the splitting one: the
// new leaf receives the smaller keys and the split key reported upward is
// the smallest key remaining in the original (right) leaf.
package btree

import (
	"errors"
	"fmt"

	"github.com/SimonWaldherr/minirel/internal/buffer"
	"github.com/SimonWaldherr/minirel/internal/storage"
)

// ErrDuplicateKey is returned by Insert when the exact key already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// ───────────────────────────────────────────────────────────────────────────
// Search modes
// ───────────────────────────────────────────────────────────────────────────

// SearchMode selects where an iterator begins: the first slot of the
// leftmost leaf, or the first slot whose key is >= a search key.
type SearchMode struct {
	key   []byte
	start bool
}

// SearchStart positions at the smallest key in the tree.
func SearchStart() SearchMode { return SearchMode{start: true} }

// SearchKey positions at the first key >= key.
func SearchKey(key []byte) SearchMode { return SearchMode{key: key} }

func (m SearchMode) childPageID(b branch) storage.PageID {
	if m.start {
		return b.childAt(0)
	}
	return b.searchChild(m.key)
}

func (m SearchMode) tupleSlotID(l leaf) int {
	if m.start {
		return 0
	}
	slotID, _ := l.searchSlotID(m.key)
	return slotID
}

// ───────────────────────────────────────────────────────────────────────────
// BTree
// ───────────────────────────────────────────────────────────────────────────

// BTree is a handle to a tree: just its meta page id. Handles are cheap and
// carry no state, so any number may address the same tree.
type BTree struct {
	MetaPageID storage.PageID
}

// New returns a handle to the existing tree anchored at metaPageID.
func New(metaPageID storage.PageID) *BTree {
	return &BTree{MetaPageID: metaPageID}
}

// Create allocates and initializes a new tree: a meta page plus an empty
// leaf root.
func Create(bufmgr *buffer.Manager) (*BTree, error) {
	metaBuf, err := bufmgr.CreatePage()
	if err != nil {
		return nil, fmt.Errorf("btree create: %w", err)
	}
	defer metaBuf.Unpin()

	rootBuf, err := bufmgr.CreatePage()
	if err != nil {
		return nil, fmt.Errorf("btree create: %w", err)
	}
	defer rootBuf.Unpin()

	root := wrapNode(rootBuf.Data())
	root.initializeAsLeaf()
	wrapLeaf(root.body()).initialize()
	rootBuf.MarkDirty()

	wrapMeta(metaBuf.Data()).setRootPageID(rootBuf.PageID())
	metaBuf.MarkDirty()

	return New(metaBuf.PageID()), nil
}

func (t *BTree) fetchRootPage(bufmgr *buffer.Manager) (*buffer.Buffer, error) {
	metaBuf, err := bufmgr.FetchPage(t.MetaPageID)
	if err != nil {
		return nil, err
	}
	rootPageID := wrapMeta(metaBuf.Data()).rootPageID()
	metaBuf.Unpin()
	return bufmgr.FetchPage(rootPageID)
}

// Search descends to the leaf covering the search mode and returns an
// iterator positioned at the first qualifying slot. The caller must Close
// the iterator to release its page pin.
//
// Iterators opened before an insert are not guaranteed to observe that
// insert consistently; open a fresh iterator after mutating.
func (t *BTree) Search(bufmgr *buffer.Manager, mode SearchMode) (*Iter, error) {
	nodeBuf, err := t.fetchRootPage(bufmgr)
	if err != nil {
		return nil, fmt.Errorf("btree search: %w", err)
	}
	for {
		n := wrapNode(nodeBuf.Data())
		switch n.nodeType() {
		case nodeTypeLeaf:
			slotID := mode.tupleSlotID(wrapLeaf(n.body()))
			return &Iter{buf: nodeBuf, slotID: slotID}, nil
		case nodeTypeBranch:
			childPageID := mode.childPageID(wrapBranch(n.body()))
			nodeBuf.Unpin()
			if nodeBuf, err = bufmgr.FetchPage(childPageID); err != nil {
				return nil, fmt.Errorf("btree search: %w", err)
			}
		default:
			pageID := nodeBuf.PageID()
			nodeBuf.Unpin()
			return nil, fmt.Errorf("btree search: page %v: %w", pageID, ErrCorruptPage)
		}
	}
}

// Insert adds (key, value) to the tree. It returns ErrDuplicateKey when the
// exact key is already present. Structural overflow splits leaves and
// branches bottom-up; a root split installs a new branch root and updates
// the meta page.
func (t *BTree) Insert(bufmgr *buffer.Manager, key, value []byte) error {
	metaBuf, err := bufmgr.FetchPage(t.MetaPageID)
	if err != nil {
		return fmt.Errorf("btree insert: %w", err)
	}
	defer metaBuf.Unpin()
	m := wrapMeta(metaBuf.Data())

	rootPageID := m.rootPageID()
	rootBuf, err := bufmgr.FetchPage(rootPageID)
	if err != nil {
		return fmt.Errorf("btree insert: %w", err)
	}
	overflowKey, overflowChild, err := t.insertInternal(bufmgr, rootBuf, key, value)
	if err != nil {
		return err
	}
	if overflowKey != nil {
		newRootBuf, err := bufmgr.CreatePage()
		if err != nil {
			return fmt.Errorf("btree root split: %w", err)
		}
		n := wrapNode(newRootBuf.Data())
		n.initializeAsBranch()
		if err := wrapBranch(n.body()).initialize(overflowKey, overflowChild, rootPageID); err != nil {
			newRootBuf.Unpin()
			return fmt.Errorf("btree root split: %w", err)
		}
		newRootBuf.MarkDirty()
		m.setRootPageID(newRootBuf.PageID())
		metaBuf.MarkDirty()
		newRootBuf.Unpin()
	}
	return nil
}

// insertInternal descends recursively from buf, holding a pin per level.
// It consumes buf (always unpins it) and reports a split to the caller as a
// non-nil overflow key plus the page id of the newly created sibling, which
// holds the keys below that overflow key.
func (t *BTree) insertInternal(bufmgr *buffer.Manager, buf *buffer.Buffer, key, value []byte) (overflowKey []byte, overflowChild storage.PageID, err error) {
	defer buf.Unpin()

	n := wrapNode(buf.Data())
	switch n.nodeType() {
	case nodeTypeLeaf:
		return t.insertLeaf(bufmgr, buf, wrapLeaf(n.body()), key, value)
	case nodeTypeBranch:
		return t.insertBranch(bufmgr, buf, wrapBranch(n.body()), key, value)
	default:
		return nil, storage.InvalidPageID, fmt.Errorf("btree insert: page %v: %w", buf.PageID(), ErrCorruptPage)
	}
}

func (t *BTree) insertLeaf(bufmgr *buffer.Manager, buf *buffer.Buffer, lf leaf, key, value []byte) ([]byte, storage.PageID, error) {
	slotID, exact := lf.searchSlotID(key)
	if exact {
		return nil, storage.InvalidPageID, ErrDuplicateKey
	}
	if lf.insert(slotID, key, value) {
		buf.MarkDirty()
		return nil, storage.InvalidPageID, nil
	}

	// Overflow: put a fresh leaf to the LEFT of this one and rebalance.
	prevPageID := lf.prevPageID()
	var prevBuf *buffer.Buffer
	if prevPageID.Valid() {
		var err error
		if prevBuf, err = bufmgr.FetchPage(prevPageID); err != nil {
			return nil, storage.InvalidPageID, fmt.Errorf("leaf split: %w", err)
		}
	}

	newLeafBuf, err := bufmgr.CreatePage()
	if err != nil {
		if prevBuf != nil {
			prevBuf.Unpin()
		}
		return nil, storage.InvalidPageID, fmt.Errorf("leaf split: %w", err)
	}

	if prevBuf != nil {
		wrapLeaf(wrapNode(prevBuf.Data()).body()).setNextPageID(newLeafBuf.PageID())
		prevBuf.MarkDirty()
		prevBuf.Unpin()
	}
	lf.setPrevPageID(newLeafBuf.PageID())

	newLeafNode := wrapNode(newLeafBuf.Data())
	newLeafNode.initializeAsLeaf()
	newLeaf := wrapLeaf(newLeafNode.body())
	newLeaf.initialize()

	overflowKey, err := lf.splitInsert(newLeaf, key, value)
	if err != nil {
		newLeafBuf.Unpin()
		return nil, storage.InvalidPageID, err
	}
	newLeaf.setNextPageID(buf.PageID())
	newLeaf.setPrevPageID(prevPageID)
	buf.MarkDirty()
	newLeafBuf.MarkDirty()

	newLeafPageID := newLeafBuf.PageID()
	newLeafBuf.Unpin()
	return overflowKey, newLeafPageID, nil
}

func (t *BTree) insertBranch(bufmgr *buffer.Manager, buf *buffer.Buffer, br branch, key, value []byte) ([]byte, storage.PageID, error) {
	childIdx := br.searchChildIdx(key)
	childPageID := br.childAt(childIdx)

	childBuf, err := bufmgr.FetchPage(childPageID)
	if err != nil {
		return nil, storage.InvalidPageID, fmt.Errorf("btree insert: %w", err)
	}
	overflowKeyFromChild, overflowChild, err := t.insertInternal(bufmgr, childBuf, key, value)
	if err != nil || overflowKeyFromChild == nil {
		return nil, storage.InvalidPageID, err
	}

	if br.insert(childIdx, overflowKeyFromChild, overflowChild) {
		buf.MarkDirty()
		return nil, storage.InvalidPageID, nil
	}

	// Branch overflow: split into a fresh branch holding the smaller half.
	newBranchBuf, err := bufmgr.CreatePage()
	if err != nil {
		return nil, storage.InvalidPageID, fmt.Errorf("branch split: %w", err)
	}
	newBranchNode := wrapNode(newBranchBuf.Data())
	newBranchNode.initializeAsBranch()
	newBranch := wrapBranch(newBranchNode.body())
	newBranch.initializeEmpty()

	overflowKey, err := br.splitInsert(newBranch, overflowKeyFromChild, overflowChild)
	if err != nil {
		newBranchBuf.Unpin()
		return nil, storage.InvalidPageID, err
	}
	buf.MarkDirty()
	newBranchBuf.MarkDirty()

	newBranchPageID := newBranchBuf.PageID()
	newBranchBuf.Unpin()
	return overflowKey, newBranchPageID, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Iterator
// ───────────────────────────────────────────────────────────────────────────

// Iter walks leaf slots in ascending key order, following the sibling chain.
// It owns a pin on the current leaf; Close releases it. An exhausted
// iterator stays exhausted — obtain a new one with Search.
type Iter struct {
	buf    *buffer.Buffer
	slotID int
	closed bool
}

func (it *Iter) get() (key, value []byte, ok bool) {
	lf := wrapLeaf(wrapNode(it.buf.Data()).body())
	if it.slotID >= lf.numPairs() {
		return nil, nil, false
	}
	p := lf.pairAt(it.slotID)
	return append([]byte(nil), p.key...), append([]byte(nil), p.value...), true
}

// Next returns the pair under the cursor and advances, crossing to the next
// leaf when the current one is exhausted. It returns (nil, nil, nil) at the
// end of the tree.
func (it *Iter) Next(bufmgr *buffer.Manager) (key, value []byte, err error) {
	if it.closed {
		return nil, nil, fmt.Errorf("btree iter: use after close")
	}
	key, value, ok := it.get()
	if !ok {
		return nil, nil, nil
	}
	it.slotID++

	lf := wrapLeaf(wrapNode(it.buf.Data()).body())
	if it.slotID < lf.numPairs() {
		return key, value, nil
	}
	nextPageID := lf.nextPageID()
	if nextPageID.Valid() {
		// Release the current leaf before loading the next one so the pool
		// can reuse its frame.
		it.buf.Unpin()
		nextBuf, err := bufmgr.FetchPage(nextPageID)
		if err != nil {
			it.closed = true
			return nil, nil, fmt.Errorf("btree iter: %w", err)
		}
		it.buf = nextBuf
		it.slotID = 0
	}
	return key, value, nil
}

// Close releases the iterator's page pin. It is safe to call twice.
func (it *Iter) Close() {
	if !it.closed {
		it.buf.Unpin()
		it.closed = true
	}
}
