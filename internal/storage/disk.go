package storage

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
)

// ───────────────────────────────────────────────────────────────────────────
// DiskManager — file-backed heap
// ───────────────────────────────────────────────────────────────────────────

// DiskManager stores pages in a single heap file on disk.
type DiskManager struct {
	heapFile   *os.File
	nextPageID uint64
	// aligned is a scratch block for O_DIRECT transfers; nil when the file
	// was opened without direct I/O.
	aligned []byte
}

// Open opens or creates a heap file. Allocation resumes at
// fileSize / PageSize; a trailing partial page is ignored.
func Open(path string) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open heap file: %w", err)
	}
	return newDiskManager(f, nil)
}

// OpenDirect opens or creates a heap file with direct I/O, bypassing the OS
// page cache. Page transfers go through a block-aligned scratch buffer;
// PageSize matches the direct-I/O block size so every page is one block.
func OpenDirect(path string) (*DiskManager, error) {
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open heap file (direct): %w", err)
	}
	return newDiskManager(f, directio.AlignedBlock(PageSize))
}

func newDiskManager(f *os.File, aligned []byte) (*DiskManager, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat heap file: %w", err)
	}
	return &DiskManager{
		heapFile:   f,
		nextPageID: uint64(info.Size()) / PageSize,
		aligned:    aligned,
	}, nil
}

// AllocatePage returns a fresh page id. The page's bytes come into existence
// on the first write.
func (d *DiskManager) AllocatePage() PageID {
	id := PageID(d.nextPageID)
	d.nextPageID++
	return id
}

// ReadPageData reads exactly PageSize bytes of page id into data.
func (d *DiskManager) ReadPageData(id PageID, data []byte) error {
	buf := data
	if d.aligned != nil {
		buf = d.aligned
	}
	if _, err := d.heapFile.ReadAt(buf[:PageSize], id.Offset()); err != nil {
		return fmt.Errorf("read page %d: %w", uint64(id), err)
	}
	if d.aligned != nil {
		copy(data, d.aligned)
	}
	return nil
}

// WritePageData writes exactly PageSize bytes of data at page id.
func (d *DiskManager) WritePageData(id PageID, data []byte) error {
	buf := data
	if d.aligned != nil {
		copy(d.aligned, data)
		buf = d.aligned
	}
	if _, err := d.heapFile.WriteAt(buf[:PageSize], id.Offset()); err != nil {
		return fmt.Errorf("write page %d: %w", uint64(id), err)
	}
	return nil
}

// Sync flushes pending writes durably to disk.
func (d *DiskManager) Sync() error {
	if err := d.heapFile.Sync(); err != nil {
		return fmt.Errorf("sync heap file: %w", err)
	}
	return nil
}

// Close closes the heap file without syncing.
func (d *DiskManager) Close() error {
	return d.heapFile.Close()
}
