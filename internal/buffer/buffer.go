// Package buffer implements a bounded, pinning, write-back page cache over a
// storage manager, with Clock-sweep eviction.
//
// The pool owns every frame for the lifetime of the engine. Callers receive
// pinned *Buffer handles from FetchPage / CreatePage and must Unpin them when
// done; a pinned frame is never chosen as an eviction victim. The engine is
// single-threaded, so pin counts are plain integers rather than atomics.
package buffer

import (
	"errors"
	"fmt"

	"github.com/SimonWaldherr/minirel/internal/storage"
)

// ErrNoFreeBuffer is returned when the clock sweep cannot find an unpinned
// frame. It usually means the pool is too small for the B+tree depth.
var ErrNoFreeBuffer = errors.New("no free buffer available in buffer pool")

// ───────────────────────────────────────────────────────────────────────────
// Buffer
// ───────────────────────────────────────────────────────────────────────────

// Buffer is an in-memory page frame: the page bytes plus identity, dirty
// flag and pin count. Buffers are owned by the pool and recycled in place on
// eviction.
type Buffer struct {
	pageID storage.PageID
	page   [storage.PageSize]byte
	dirty  bool
	pins   int
}

// PageID returns the id of the page currently held by the buffer.
func (b *Buffer) PageID() storage.PageID { return b.pageID }

// Data returns the page bytes. Mutators must call MarkDirty afterwards.
func (b *Buffer) Data() []byte { return b.page[:] }

// MarkDirty records that the page bytes diverge from storage. The flag is
// cleared on write-back.
func (b *Buffer) MarkDirty() { b.dirty = true }

// Unpin releases one pin. The caller must not touch the buffer afterwards;
// once the pin count reaches zero the frame may be evicted and reloaded with
// a different page.
func (b *Buffer) Unpin() {
	if b.pins == 0 {
		panic("buffer: unpin of unpinned buffer")
	}
	b.pins--
}

func (b *Buffer) pinned() bool { return b.pins > 0 }

func (b *Buffer) reset(id storage.PageID) {
	b.pageID = id
	b.dirty = false
	for i := range b.page {
		b.page[i] = 0
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Pool — frames and Clock-sweep
// ───────────────────────────────────────────────────────────────────────────

type frame struct {
	usageCount uint64
	buf        *Buffer
}

type pool struct {
	frames       []frame
	nextVictimID int
}

func newPool(size int) *pool {
	frames := make([]frame, size)
	for i := range frames {
		frames[i].buf = &Buffer{pageID: storage.InvalidPageID}
	}
	return &pool{frames: frames}
}

// evict runs the Clock sweep and returns the victim frame index.
//
// A frame with usage count zero is taken immediately (cursor left in place).
// An unpinned frame loses one usage count; a pinned frame is skipped, and
// after a full circle of nothing but pinned frames the sweep gives up.
func (p *pool) evict() (int, bool) {
	poolSize := len(p.frames)
	consecutivePinned := 0
	for {
		f := &p.frames[p.nextVictimID]
		if f.usageCount == 0 {
			return p.nextVictimID, true
		}
		if !f.buf.pinned() {
			f.usageCount--
			consecutivePinned = 0
		} else {
			consecutivePinned++
			if consecutivePinned >= poolSize {
				return 0, false
			}
		}
		p.nextVictimID = (p.nextVictimID + 1) % poolSize
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Manager
// ───────────────────────────────────────────────────────────────────────────

// Manager is the buffer pool manager: a page table over a fixed set of
// frames, backed by a storage manager that it exclusively owns.
type Manager struct {
	disk      storage.Manager
	pool      *pool
	pageTable map[storage.PageID]int
}

// NewManager creates a pool with poolSize frames over disk.
func NewManager(disk storage.Manager, poolSize int) *Manager {
	if poolSize < 1 {
		panic("buffer: pool size must be at least 1")
	}
	return &Manager{
		disk:      disk,
		pool:      newPool(poolSize),
		pageTable: make(map[storage.PageID]int, poolSize),
	}
}

// Storage returns the underlying storage manager.
func (m *Manager) Storage() storage.Manager { return m.disk }

// FetchPage returns a pinned buffer holding page id, reading it from storage
// on a cache miss. A miss evicts a victim frame, writing it back first when
// dirty.
func (m *Manager) FetchPage(id storage.PageID) (*Buffer, error) {
	if frameID, ok := m.pageTable[id]; ok {
		f := &m.pool.frames[frameID]
		f.usageCount++
		f.buf.pins++
		return f.buf, nil
	}

	frameID, ok := m.pool.evict()
	if !ok {
		return nil, ErrNoFreeBuffer
	}
	f := &m.pool.frames[frameID]
	evictPageID := f.buf.pageID
	if f.buf.dirty {
		if err := m.disk.WritePageData(evictPageID, f.buf.Data()); err != nil {
			return nil, fmt.Errorf("evict %v: %w", evictPageID, err)
		}
	}
	delete(m.pageTable, evictPageID)

	f.buf.reset(id)
	if err := m.disk.ReadPageData(id, f.buf.Data()); err != nil {
		// The frame no longer holds its old page and never held the new
		// one; leave it empty rather than mapped to stale bytes.
		f.buf.pageID = storage.InvalidPageID
		f.usageCount = 0
		return nil, err
	}
	f.usageCount = 1
	f.buf.pins = 1
	m.pageTable[id] = frameID
	return f.buf, nil
}

// CreatePage allocates a fresh page and returns a pinned, zeroed, dirty
// buffer for it. The page reaches storage on eviction or Flush.
func (m *Manager) CreatePage() (*Buffer, error) {
	frameID, ok := m.pool.evict()
	if !ok {
		return nil, ErrNoFreeBuffer
	}
	f := &m.pool.frames[frameID]
	evictPageID := f.buf.pageID
	if f.buf.dirty {
		if err := m.disk.WritePageData(evictPageID, f.buf.Data()); err != nil {
			return nil, fmt.Errorf("evict %v: %w", evictPageID, err)
		}
	}
	delete(m.pageTable, evictPageID)

	id := m.disk.AllocatePage()
	f.buf.reset(id)
	f.buf.dirty = true
	f.usageCount = 1
	f.buf.pins = 1
	m.pageTable[id] = frameID
	return f.buf, nil
}

// Flush writes every mapped frame through the storage manager — dirty or
// not — clears the dirty flags, and syncs the storage. Map iteration order
// is not deterministic and callers must not rely on it.
func (m *Manager) Flush() error {
	for pageID, frameID := range m.pageTable {
		f := &m.pool.frames[frameID]
		if err := m.disk.WritePageData(pageID, f.buf.Data()); err != nil {
			return fmt.Errorf("flush %v: %w", pageID, err)
		}
		f.buf.dirty = false
	}
	if err := m.disk.Sync(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
