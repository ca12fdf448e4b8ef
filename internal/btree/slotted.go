package btree

import "encoding/binary"

// ───────────────────────────────────────────────────────────────────────────
// Slotted region
// ───────────────────────────────────────────────────────────────────────────
//
// A slotted region packs variable-length records into a fixed byte range: a
// slot directory grows upward from a small header while the record heap
// grows downward from the end. Slots keep their index order under insertion
// and removal, so binary search over slot indexes stays valid.
//
// Layout:
//   [0:2]  numSlots        (uint16 LE)
//   [2:4]  freeSpaceOffset (uint16 LE) — start of the record heap
//   [4:..] slot directory  — per slot: offset (uint16 LE), length (uint16 LE)
//   [freeSpaceOffset:] record heap

const (
	slottedHeaderSize = 4
	slotEntrySize     = 4
)

type slotEntry struct {
	offset uint16
	length uint16
}

// slotted overlays a slotted region on a byte range of a page body.
type slotted struct {
	data []byte
}

func (s slotted) init() {
	binary.LittleEndian.PutUint16(s.data[0:2], 0)
	binary.LittleEndian.PutUint16(s.data[2:4], uint16(len(s.data)))
}

func (s slotted) numSlots() int {
	return int(binary.LittleEndian.Uint16(s.data[0:2]))
}

func (s slotted) setNumSlots(n int) {
	binary.LittleEndian.PutUint16(s.data[0:2], uint16(n))
}

func (s slotted) freeSpaceOffset() int {
	return int(binary.LittleEndian.Uint16(s.data[2:4]))
}

func (s slotted) setFreeSpaceOffset(off int) {
	binary.LittleEndian.PutUint16(s.data[2:4], uint16(off))
}

func (s slotted) slotAt(i int) slotEntry {
	off := slottedHeaderSize + i*slotEntrySize
	return slotEntry{
		offset: binary.LittleEndian.Uint16(s.data[off:]),
		length: binary.LittleEndian.Uint16(s.data[off+2:]),
	}
}

func (s slotted) setSlotAt(i int, e slotEntry) {
	off := slottedHeaderSize + i*slotEntrySize
	binary.LittleEndian.PutUint16(s.data[off:], e.offset)
	binary.LittleEndian.PutUint16(s.data[off+2:], e.length)
}

// capacity is the byte budget shared by the slot directory and record heap.
func (s slotted) capacity() int {
	return len(s.data) - slottedHeaderSize
}

// freeSpace is what remains between the slot directory and the record heap.
func (s slotted) freeSpace() int {
	return s.freeSpaceOffset() - slottedHeaderSize - s.numSlots()*slotEntrySize
}

// recordAt returns the record bytes of slot i, or nil when the slot points
// outside the region (a corrupt page).
func (s slotted) recordAt(i int) []byte {
	e := s.slotAt(i)
	end := int(e.offset) + int(e.length)
	if int(e.offset) < s.freeSpaceOffset() || end > len(s.data) {
		return nil
	}
	return s.data[e.offset:end]
}

// insert places record at slot index i, shifting later slots up. It reports
// whether the record fit.
func (s slotted) insert(i int, record []byte) bool {
	if s.freeSpace() < slotEntrySize+len(record) {
		return false
	}
	newOffset := s.freeSpaceOffset() - len(record)
	copy(s.data[newOffset:], record)
	s.setFreeSpaceOffset(newOffset)

	n := s.numSlots()
	s.setNumSlots(n + 1)
	for j := n; j > i; j-- {
		s.setSlotAt(j, s.slotAt(j-1))
	}
	s.setSlotAt(i, slotEntry{offset: uint16(newOffset), length: uint16(len(record))})
	return true
}

// remove deletes slot i, compacting the record heap so the space is
// immediately reusable.
func (s slotted) remove(i int) {
	e := s.slotAt(i)
	fso := s.freeSpaceOffset()

	// Close the hole: records stored below the removed one move up.
	copy(s.data[fso+int(e.length):int(e.offset)+int(e.length)], s.data[fso:e.offset])
	s.setFreeSpaceOffset(fso + int(e.length))

	n := s.numSlots()
	for j := i; j < n-1; j++ {
		s.setSlotAt(j, s.slotAt(j+1))
	}
	s.setNumSlots(n - 1)

	// Rebase every slot that lived below the removed record.
	for j := 0; j < n-1; j++ {
		se := s.slotAt(j)
		if se.offset < e.offset {
			se.offset += e.length
			s.setSlotAt(j, se)
		}
	}
}
