// Package query provides volcano-style plan nodes over tables and indexes.
// A plan node's Start opens a single-shot executor; Next yields decoded
// records one at a time until it returns nil.
package query

import (
	"fmt"

	"github.com/SimonWaldherr/minirel/internal/btree"
	"github.com/SimonWaldherr/minirel/internal/buffer"
	"github.com/SimonWaldherr/minirel/internal/storage"
	"github.com/SimonWaldherr/minirel/internal/tuple"
)

// Tuple is a decoded record: one byte string per column.
type Tuple [][]byte

// Cond is a predicate over a decoded tuple prefix.
type Cond func(Tuple) bool

// ───────────────────────────────────────────────────────────────────────────
// Search modes over tuples
// ───────────────────────────────────────────────────────────────────────────

// TupleSearchMode is a SearchMode expressed over unencoded column values.
type TupleSearchMode struct {
	key   [][]byte
	start bool
}

// ScanAll starts at the smallest key.
func ScanAll() TupleSearchMode { return TupleSearchMode{start: true} }

// ScanFrom starts at the first entry whose key is >= the encoding of key.
func ScanFrom(key ...[]byte) TupleSearchMode { return TupleSearchMode{key: key} }

func (m TupleSearchMode) encode() btree.SearchMode {
	if m.start {
		return btree.SearchStart()
	}
	return btree.SearchKey(tuple.Encode(nil, m.key...))
}

// ───────────────────────────────────────────────────────────────────────────
// Plan nodes and executors
// ───────────────────────────────────────────────────────────────────────────

// PlanNode describes a query; Start instantiates its executor.
type PlanNode interface {
	Start(bufmgr *buffer.Manager) (Executor, error)
}

// Executor is a single-shot lazy iterator of decoded tuples. Next returns
// nil once exhausted; Close releases any page pins the executor holds.
type Executor interface {
	Next(bufmgr *buffer.Manager) (Tuple, error)
	Close()
}

// ── SeqScan ───────────────────────────────────────────────────────────────

// SeqScan walks a table's primary B+tree in key order, decoding each record
// until WhileCond rejects a primary key.
type SeqScan struct {
	TableMetaPageID storage.PageID
	SearchMode      TupleSearchMode
	WhileCond       Cond
}

// Start opens the table iterator.
func (p SeqScan) Start(bufmgr *buffer.Manager) (Executor, error) {
	iter, err := btree.New(p.TableMetaPageID).Search(bufmgr, p.SearchMode.encode())
	if err != nil {
		return nil, fmt.Errorf("seq scan: %w", err)
	}
	return &execSeqScan{tableIter: iter, whileCond: p.WhileCond}, nil
}

type execSeqScan struct {
	tableIter *btree.Iter
	whileCond Cond
	done      bool
}

func (e *execSeqScan) Next(bufmgr *buffer.Manager) (Tuple, error) {
	if e.done {
		return nil, nil
	}
	pkeyBytes, valueBytes, err := e.tableIter.Next(bufmgr)
	if err != nil {
		return nil, err
	}
	if pkeyBytes == nil {
		e.done = true
		return nil, nil
	}
	pkey := tuple.Decode(nil, pkeyBytes)
	if e.whileCond != nil && !e.whileCond(pkey) {
		e.done = true
		return nil, nil
	}
	return tuple.Decode(pkey, valueBytes), nil
}

func (e *execSeqScan) Close() { e.tableIter.Close() }

// ── Filter ────────────────────────────────────────────────────────────────

// Filter yields only the inner plan's tuples that satisfy Cond.
type Filter struct {
	InnerPlan PlanNode
	Cond      Cond
}

// Start opens the inner executor.
func (p Filter) Start(bufmgr *buffer.Manager) (Executor, error) {
	inner, err := p.InnerPlan.Start(bufmgr)
	if err != nil {
		return nil, err
	}
	return &execFilter{innerIter: inner, cond: p.Cond}, nil
}

type execFilter struct {
	innerIter Executor
	cond      Cond
}

func (e *execFilter) Next(bufmgr *buffer.Manager) (Tuple, error) {
	for {
		t, err := e.innerIter.Next(bufmgr)
		if err != nil || t == nil {
			return nil, err
		}
		if e.cond(t) {
			return t, nil
		}
	}
}

func (e *execFilter) Close() { e.innerIter.Close() }

// ── IndexScan ─────────────────────────────────────────────────────────────

// IndexScan walks a unique secondary index in secondary-key order and
// resolves each hit into the full record with a point lookup on the table.
type IndexScan struct {
	TableMetaPageID storage.PageID
	IndexMetaPageID storage.PageID
	SearchMode      TupleSearchMode
	WhileCond       Cond
}

// Start opens the index iterator.
func (p IndexScan) Start(bufmgr *buffer.Manager) (Executor, error) {
	indexIter, err := btree.New(p.IndexMetaPageID).Search(bufmgr, p.SearchMode.encode())
	if err != nil {
		return nil, fmt.Errorf("index scan: %w", err)
	}
	return &execIndexScan{
		tableBTree: btree.New(p.TableMetaPageID),
		indexIter:  indexIter,
		whileCond:  p.WhileCond,
	}, nil
}

type execIndexScan struct {
	tableBTree *btree.BTree
	indexIter  *btree.Iter
	whileCond  Cond
	done       bool
}

func (e *execIndexScan) Next(bufmgr *buffer.Manager) (Tuple, error) {
	if e.done {
		return nil, nil
	}
	skeyBytes, pkeyBytes, err := e.indexIter.Next(bufmgr)
	if err != nil {
		return nil, err
	}
	if skeyBytes == nil {
		e.done = true
		return nil, nil
	}
	skey := tuple.Decode(nil, skeyBytes)
	if e.whileCond != nil && !e.whileCond(skey) {
		e.done = true
		return nil, nil
	}

	tableIter, err := e.tableBTree.Search(bufmgr, btree.SearchKey(pkeyBytes))
	if err != nil {
		return nil, fmt.Errorf("index scan lookup: %w", err)
	}
	defer tableIter.Close()
	foundPkey, valueBytes, err := tableIter.Next(bufmgr)
	if err != nil {
		return nil, err
	}
	if foundPkey == nil {
		return nil, fmt.Errorf("index scan: dangling index entry for %x", pkeyBytes)
	}
	t := tuple.Decode(nil, foundPkey)
	return tuple.Decode(t, valueBytes), nil
}

func (e *execIndexScan) Close() { e.indexIter.Close() }

// ── IndexOnlyScan ─────────────────────────────────────────────────────────

// IndexOnlyScan walks a unique secondary index and yields the secondary key
// columns followed by the primary key columns, never touching the table.
type IndexOnlyScan struct {
	IndexMetaPageID storage.PageID
	SearchMode      TupleSearchMode
	WhileCond       Cond
}

// Start opens the index iterator.
func (p IndexOnlyScan) Start(bufmgr *buffer.Manager) (Executor, error) {
	indexIter, err := btree.New(p.IndexMetaPageID).Search(bufmgr, p.SearchMode.encode())
	if err != nil {
		return nil, fmt.Errorf("index-only scan: %w", err)
	}
	return &execIndexOnlyScan{indexIter: indexIter, whileCond: p.WhileCond}, nil
}

type execIndexOnlyScan struct {
	indexIter *btree.Iter
	whileCond Cond
	done      bool
}

func (e *execIndexOnlyScan) Next(bufmgr *buffer.Manager) (Tuple, error) {
	if e.done {
		return nil, nil
	}
	skeyBytes, pkeyBytes, err := e.indexIter.Next(bufmgr)
	if err != nil {
		return nil, err
	}
	if skeyBytes == nil {
		e.done = true
		return nil, nil
	}
	skey := tuple.Decode(nil, skeyBytes)
	if e.whileCond != nil && !e.whileCond(skey) {
		e.done = true
		return nil, nil
	}
	return tuple.Decode(skey, pkeyBytes), nil
}

func (e *execIndexOnlyScan) Close() { e.indexIter.Close() }
