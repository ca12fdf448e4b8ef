package storage

import (
	"fmt"

	"github.com/dsnet/golib/memfile"
)

// ───────────────────────────────────────────────────────────────────────────
// MemManager — in-memory heap
// ───────────────────────────────────────────────────────────────────────────

// MemManager keeps the heap in memory. It behaves like DiskManager modulo
// durability (Sync is a no-op and nothing survives the process), with one
// difference: allocated pages are zero-filled immediately, so a read of a
// page that was never written returns zeroes where DiskManager fails.
type MemManager struct {
	heap       *memfile.File
	nextPageID uint64
}

// NewMemManager returns an empty in-memory heap.
func NewMemManager() *MemManager {
	return &MemManager{heap: memfile.New(nil)}
}

// AllocatePage extends the heap by one zero page and returns its id.
func (m *MemManager) AllocatePage() PageID {
	id := PageID(m.nextPageID)
	m.nextPageID++
	m.heap.Truncate(int64(m.nextPageID) * PageSize)
	return id
}

// ReadPageData reads exactly PageSize bytes of page id into data.
func (m *MemManager) ReadPageData(id PageID, data []byte) error {
	if _, err := m.heap.ReadAt(data[:PageSize], id.Offset()); err != nil {
		return fmt.Errorf("read page %d: %w", uint64(id), err)
	}
	return nil
}

// WritePageData writes exactly PageSize bytes of data at page id.
func (m *MemManager) WritePageData(id PageID, data []byte) error {
	if _, err := m.heap.WriteAt(data[:PageSize], id.Offset()); err != nil {
		return fmt.Errorf("write page %d: %w", uint64(id), err)
	}
	return nil
}

// Sync is a no-op for the in-memory heap.
func (m *MemManager) Sync() error { return nil }

// Close discards nothing; the heap lives until garbage collected.
func (m *MemManager) Close() error { return nil }
