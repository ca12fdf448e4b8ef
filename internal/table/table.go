// Package table maps multi-column records onto B+trees. A table's primary
// B+tree stores the memory-comparable encoding of the leading key columns
// against the encoding of the remaining columns; each unique secondary index
// is another B+tree mapping its own column encoding to the primary key
// bytes.
package table

import (
	"fmt"

	"github.com/SimonWaldherr/minirel/internal/btree"
	"github.com/SimonWaldherr/minirel/internal/buffer"
	"github.com/SimonWaldherr/minirel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// SimpleTable
// ───────────────────────────────────────────────────────────────────────────

// SimpleTable is a primary-key table without secondary indexes.
type SimpleTable struct {
	MetaPageID  storage.PageID
	NumKeyElems int
}

// Create allocates the table's B+tree and records its meta page id.
func (t *SimpleTable) Create(bufmgr *buffer.Manager) error {
	bt, err := btree.Create(bufmgr)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	t.MetaPageID = bt.MetaPageID
	return nil
}

// Insert encodes the leading NumKeyElems columns as the primary key and the
// rest as the value, and inserts the pair.
func (t *SimpleTable) Insert(bufmgr *buffer.Manager, record [][]byte) error {
	return insertRecord(bufmgr, t.MetaPageID, t.NumKeyElems, record)
}

// ───────────────────────────────────────────────────────────────────────────
// Table
// ───────────────────────────────────────────────────────────────────────────

// Table is a primary-key table with optional unique secondary indexes.
type Table struct {
	MetaPageID    storage.PageID
	NumKeyElems   int
	UniqueIndexes []*UniqueIndex
}

// Create allocates the table's B+tree and one B+tree per unique index.
func (t *Table) Create(bufmgr *buffer.Manager) error {
	bt, err := btree.Create(bufmgr)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	t.MetaPageID = bt.MetaPageID
	for _, idx := range t.UniqueIndexes {
		if err := idx.Create(bufmgr); err != nil {
			return err
		}
	}
	return nil
}

// Insert adds the record to the primary B+tree, then registers it with every
// unique index. A duplicate in any tree aborts with btree.ErrDuplicateKey;
// indexes updated before the failing one keep their entries (no rollback).
func (t *Table) Insert(bufmgr *buffer.Manager, record [][]byte) error {
	if err := insertRecord(bufmgr, t.MetaPageID, t.NumKeyElems, record); err != nil {
		return err
	}
	pkey := encodeTuple(record[:t.NumKeyElems])
	for _, idx := range t.UniqueIndexes {
		if err := idx.Insert(bufmgr, pkey, record); err != nil {
			return err
		}
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// UniqueIndex
// ───────────────────────────────────────────────────────────────────────────

// UniqueIndex maps the encoding of selected record columns (SKey holds their
// positions) to the primary key bytes.
type UniqueIndex struct {
	MetaPageID storage.PageID
	SKey       []int
}

// Create allocates the index's B+tree and records its meta page id.
func (idx *UniqueIndex) Create(bufmgr *buffer.Manager) error {
	bt, err := btree.Create(bufmgr)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	idx.MetaPageID = bt.MetaPageID
	return nil
}

// Insert maps the record's secondary key bytes to pkey.
func (idx *UniqueIndex) Insert(bufmgr *buffer.Manager, pkey []byte, record [][]byte) error {
	cols := make([][]byte, 0, len(idx.SKey))
	for _, i := range idx.SKey {
		cols = append(cols, record[i])
	}
	skey := encodeTuple(cols)
	if err := btree.New(idx.MetaPageID).Insert(bufmgr, skey, pkey); err != nil {
		return fmt.Errorf("index insert: %w", err)
	}
	return nil
}
