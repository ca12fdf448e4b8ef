package table

import (
	"fmt"

	"github.com/SimonWaldherr/minirel/internal/btree"
	"github.com/SimonWaldherr/minirel/internal/buffer"
	"github.com/SimonWaldherr/minirel/internal/storage"
	"github.com/SimonWaldherr/minirel/internal/tuple"
)

func encodeTuple(elems [][]byte) []byte {
	return tuple.Encode(nil, elems...)
}

// insertRecord splits the record at numKeyElems and inserts the encoded
// (key, value) pair into the B+tree anchored at metaPageID.
func insertRecord(bufmgr *buffer.Manager, metaPageID storage.PageID, numKeyElems int, record [][]byte) error {
	if numKeyElems < 1 || numKeyElems > len(record) {
		return fmt.Errorf("table insert: record has %d columns, key takes %d", len(record), numKeyElems)
	}
	key := encodeTuple(record[:numKeyElems])
	value := encodeTuple(record[numKeyElems:])
	if err := btree.New(metaPageID).Insert(bufmgr, key, value); err != nil {
		return fmt.Errorf("table insert: %w", err)
	}
	return nil
}
