// Package minirel is a minimal disk-backed relational storage engine: keyed
// records in a 4 KiB-paged heap file, cached by a bounded Clock-sweep buffer
// pool, indexed by disk-resident B+trees, and queried through volcano-style
// scan/filter plans.
//
// # Basic usage
//
//	db, _ := minirel.Open(minirel.Config{Path: "sample.db", PoolSize: 16})
//	defer db.Close()
//
//	tbl := &minirel.Table{NumKeyElems: 1, UniqueIndexes: []*minirel.UniqueIndex{{SKey: []int{2}}}}
//	db.Do(func(mgr *minirel.BufferManager) error { return tbl.Create(mgr) })
//	db.Do(func(mgr *minirel.BufferManager) error {
//		return tbl.Insert(mgr, [][]byte{[]byte("z"), []byte("Alice"), []byte("Smith")})
//	})
//	db.Flush()
//
// The engine assumes a single logical user: operations run one at a time and
// there is no crash recovery — call Flush at safe points.
package minirel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/SimonWaldherr/minirel/internal/btree"
	"github.com/SimonWaldherr/minirel/internal/buffer"
	"github.com/SimonWaldherr/minirel/internal/query"
	"github.com/SimonWaldherr/minirel/internal/storage"
	"github.com/SimonWaldherr/minirel/internal/table"
)

// ============================================================================
// Core types — re-exported from internal packages for the public API
// ============================================================================

// PageID identifies a page within the heap file.
type PageID = storage.PageID

// InvalidPageID is the null page pointer.
const InvalidPageID = storage.InvalidPageID

// PageSize is the fixed page size in bytes.
const PageSize = storage.PageSize

// BufferManager is the buffer pool manager; all engine operations go
// through one.
type BufferManager = buffer.Manager

// Buffer is a pinned in-memory page frame.
type Buffer = buffer.Buffer

// BTree is a handle to one B+tree (its meta page id).
type BTree = btree.BTree

// BTreeIter iterates a B+tree in ascending key order.
type BTreeIter = btree.Iter

// SearchMode selects where a B+tree iterator starts.
type SearchMode = btree.SearchMode

// Table is a primary-key table with optional unique secondary indexes.
type Table = table.Table

// SimpleTable is a primary-key table without secondary indexes.
type SimpleTable = table.SimpleTable

// UniqueIndex maps selected record columns to the primary key.
type UniqueIndex = table.UniqueIndex

// Tuple is a decoded record.
type Tuple = query.Tuple

// Plan nodes: volcano-style scans over tables and indexes.
type (
	SeqScan       = query.SeqScan
	Filter        = query.Filter
	IndexScan     = query.IndexScan
	IndexOnlyScan = query.IndexOnlyScan
)

// Executor is a single-shot lazy iterator of decoded tuples.
type Executor = query.Executor

// PlanNode describes a query; Start instantiates its executor.
type PlanNode = query.PlanNode

// TupleSearchMode is a search mode expressed over unencoded column values.
type TupleSearchMode = query.TupleSearchMode

// Errors surfaced by the engine.
var (
	ErrDuplicateKey = btree.ErrDuplicateKey
	ErrNoFreeBuffer = buffer.ErrNoFreeBuffer
	ErrCorruptPage  = btree.ErrCorruptPage
)

// SearchStart positions a B+tree iterator at the smallest key.
func SearchStart() SearchMode { return btree.SearchStart() }

// SearchKey positions a B+tree iterator at the first key >= key.
func SearchKey(key []byte) SearchMode { return btree.SearchKey(key) }

// ScanAll starts a plan at the smallest key.
func ScanAll() TupleSearchMode { return query.ScanAll() }

// ScanFrom starts a plan at the first entry whose key is >= key.
func ScanFrom(key ...[]byte) TupleSearchMode { return query.ScanFrom(key...) }

// CreateBTree allocates a new B+tree through the buffer pool and returns its
// handle.
func CreateBTree(mgr *BufferManager) (*BTree, error) { return btree.Create(mgr) }

// NewBTree returns a handle to the existing B+tree anchored at metaPageID.
func NewBTree(metaPageID PageID) *BTree { return btree.New(metaPageID) }

// ============================================================================
// DB
// ============================================================================

// DB bundles a storage manager and buffer pool into one handle. Methods
// serialize access with a mutex so a background flush schedule can coexist
// with the single logical user.
type DB struct {
	mu   sync.Mutex
	mgr  *buffer.Manager
	cron *cron.Cron
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*DB, error) {
	cfg.applyDefaults()

	var (
		disk storage.Manager
		err  error
	)
	switch {
	case cfg.InMemory:
		disk = storage.NewMemManager()
	case cfg.DirectIO:
		disk, err = storage.OpenDirect(cfg.Path)
	default:
		disk, err = storage.Open(cfg.Path)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{mgr: buffer.NewManager(disk, cfg.PoolSize)}
	if cfg.FlushSchedule != "" {
		if err := db.StartAutoFlush(cfg.FlushSchedule); err != nil {
			disk.Close()
			return nil, err
		}
	}
	return db, nil
}

// OpenMemory opens an ephemeral in-memory database.
func OpenMemory(poolSize int) *DB {
	db, _ := Open(Config{InMemory: true, PoolSize: poolSize})
	return db
}

// Do runs fn against the buffer pool under the database lock. All table,
// B+tree, and plan operations belong inside a Do.
func (db *DB) Do(fn func(mgr *BufferManager) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(db.mgr)
}

// Flush writes every cached page back to storage and syncs it.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.mgr.Flush()
}

// StartAutoFlush schedules periodic Flush calls with a cron expression
// (e.g. "@every 30s"). The schedule runs until Close.
func (db *DB) StartAutoFlush(schedule string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.cron == nil {
		db.cron = cron.New()
	}
	if _, err := db.cron.AddFunc(schedule, func() { _ = db.Flush() }); err != nil {
		return fmt.Errorf("auto flush schedule %q: %w", schedule, err)
	}
	db.cron.Start()
	return nil
}

// Close flushes, stops any auto-flush schedule, and closes the storage.
func (db *DB) Close() error {
	// Stop the scheduler outside the lock: a running flush job needs the
	// lock to finish.
	db.mu.Lock()
	c := db.cron
	db.cron = nil
	db.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	flushErr := db.mgr.Flush()
	closeErr := db.mgr.Storage().Close()
	return errors.Join(flushErr, closeErr)
}
