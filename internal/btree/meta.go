package btree

import "github.com/SimonWaldherr/minirel/internal/storage"

// ───────────────────────────────────────────────────────────────────────────
// Meta page
// ───────────────────────────────────────────────────────────────────────────
//
// Each B+tree owns one meta page holding the current root page id. The meta
// page id is the tree's stable external handle; the root id it points at
// changes on a root split.
//
// Layout: [0:8] rootPageID (uint64 LE).

type meta struct {
	page []byte
}

func wrapMeta(page []byte) meta { return meta{page: page} }

func (m meta) rootPageID() storage.PageID      { return decodePageID(m.page[0:8]) }
func (m meta) setRootPageID(id storage.PageID) { writePageID(m.page[0:8], id) }
