package btree

import (
	"bytes"
	"fmt"

	"github.com/SimonWaldherr/minirel/internal/buffer"
	"github.com/SimonWaldherr/minirel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Inspection & verification
// ───────────────────────────────────────────────────────────────────────────

// TreeStats summarizes a tree's shape for inspection tools.
type TreeStats struct {
	Height      int // 1 = a lone leaf root
	BranchPages int
	LeafPages   int
	Pairs       int
	FreeBytes   int // unused slotted bytes across all pages
}

// Stats walks the whole tree and returns its shape. It pins one page at a
// time, so any pool size that can host a Search works here too.
func (t *BTree) Stats(bufmgr *buffer.Manager) (TreeStats, error) {
	var stats TreeStats
	rootBuf, err := t.fetchRootPage(bufmgr)
	if err != nil {
		return stats, fmt.Errorf("btree stats: %w", err)
	}
	err = t.walk(bufmgr, rootBuf, 1, &stats)
	return stats, err
}

// walk consumes buf (always unpins it).
func (t *BTree) walk(bufmgr *buffer.Manager, buf *buffer.Buffer, depth int, stats *TreeStats) error {
	n := wrapNode(buf.Data())
	switch n.nodeType() {
	case nodeTypeLeaf:
		lf := wrapLeaf(n.body())
		stats.LeafPages++
		stats.Pairs += lf.numPairs()
		stats.FreeBytes += lf.slotted().freeSpace()
		if depth > stats.Height {
			stats.Height = depth
		}
		buf.Unpin()
		return nil
	case nodeTypeBranch:
		br := wrapBranch(n.body())
		stats.BranchPages++
		stats.FreeBytes += br.slotted().freeSpace()
		children := make([]storage.PageID, 0, br.numPairs()+1)
		for i := 0; i <= br.numPairs(); i++ {
			children = append(children, br.childAt(i))
		}
		buf.Unpin()
		for _, child := range children {
			childBuf, err := bufmgr.FetchPage(child)
			if err != nil {
				return fmt.Errorf("btree stats: %w", err)
			}
			if err := t.walk(bufmgr, childBuf, depth+1, stats); err != nil {
				return err
			}
		}
		return nil
	default:
		pageID := buf.PageID()
		buf.Unpin()
		return fmt.Errorf("btree stats: page %v: %w", pageID, ErrCorruptPage)
	}
}

// Verify checks the tree's structural invariants and returns a list of
// issues found (empty = healthy): keys sorted ascending within every node,
// separator/child arithmetic in branches, and a leaf chain whose prev/next
// links mirror each other and visit every leaf exactly once.
func (t *BTree) Verify(bufmgr *buffer.Manager) ([]string, error) {
	var issues []string

	rootBuf, err := t.fetchRootPage(bufmgr)
	if err != nil {
		return nil, fmt.Errorf("btree verify: %w", err)
	}
	leaves := make(map[storage.PageID]bool)
	leftmost, err := t.verifyNode(bufmgr, rootBuf, &issues, leaves)
	if err != nil {
		return nil, err
	}

	// Walk the sibling chain from the leftmost leaf.
	var (
		prevID  = storage.InvalidPageID
		prevKey []byte
		leafID  = leftmost
	)
	for leafID.Valid() {
		if !leaves[leafID] {
			issues = append(issues, fmt.Sprintf("leaf %v: reached twice by the sibling chain or not part of the tree", leafID))
			break
		}
		delete(leaves, leafID)
		buf, err := bufmgr.FetchPage(leafID)
		if err != nil {
			return nil, fmt.Errorf("btree verify: %w", err)
		}
		lf := wrapLeaf(wrapNode(buf.Data()).body())
		if lf.prevPageID() != prevID {
			issues = append(issues, fmt.Sprintf("leaf %v: prev link %v, want %v", leafID, lf.prevPageID(), prevID))
		}
		for i := 0; i < lf.numPairs(); i++ {
			key := lf.keyAt(i)
			if prevKey != nil && bytes.Compare(prevKey, key) >= 0 {
				issues = append(issues, fmt.Sprintf("leaf %v slot %d: key out of order", leafID, i))
			}
			prevKey = append(prevKey[:0], key...)
		}
		next := lf.nextPageID()
		buf.Unpin()
		prevID, leafID = leafID, next
	}
	if len(leaves) != 0 {
		issues = append(issues, fmt.Sprintf("%d leaves not reached by the sibling chain", len(leaves)))
	}
	return issues, nil
}

// verifyNode checks per-node invariants below buf, records every leaf id in
// leaves, and returns the id of the subtree's leftmost leaf. It consumes buf.
func (t *BTree) verifyNode(bufmgr *buffer.Manager, buf *buffer.Buffer, issues *[]string, leaves map[storage.PageID]bool) (storage.PageID, error) {
	pageID := buf.PageID()
	n := wrapNode(buf.Data())
	switch n.nodeType() {
	case nodeTypeLeaf:
		leaves[pageID] = true
		buf.Unpin()
		return pageID, nil
	case nodeTypeBranch:
		br := wrapBranch(n.body())
		if br.numPairs() == 0 {
			*issues = append(*issues, fmt.Sprintf("branch %v: no separators", pageID))
		}
		if !br.rightChild().Valid() {
			*issues = append(*issues, fmt.Sprintf("branch %v: missing rightmost child", pageID))
		}
		for i := 1; i < br.numPairs(); i++ {
			if bytes.Compare(br.keyAt(i-1), br.keyAt(i)) >= 0 {
				*issues = append(*issues, fmt.Sprintf("branch %v slot %d: separator out of order", pageID, i))
			}
		}
		children := make([]storage.PageID, 0, br.numPairs()+1)
		for i := 0; i <= br.numPairs(); i++ {
			children = append(children, br.childAt(i))
		}
		buf.Unpin()

		leftmost := storage.InvalidPageID
		for i, child := range children {
			childBuf, err := bufmgr.FetchPage(child)
			if err != nil {
				return storage.InvalidPageID, fmt.Errorf("btree verify: %w", err)
			}
			childLeftmost, err := t.verifyNode(bufmgr, childBuf, issues, leaves)
			if err != nil {
				return storage.InvalidPageID, err
			}
			if i == 0 {
				leftmost = childLeftmost
			}
		}
		return leftmost, nil
	default:
		buf.Unpin()
		*issues = append(*issues, fmt.Sprintf("page %v: unknown node type", pageID))
		return storage.InvalidPageID, nil
	}
}
