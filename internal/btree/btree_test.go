package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/SimonWaldherr/minirel/internal/buffer"
	"github.com/SimonWaldherr/minirel/internal/storage"
)

func newTestManager(t *testing.T, poolSize int) *buffer.Manager {
	t.Helper()
	return buffer.NewManager(storage.NewMemManager(), poolSize)
}

func beUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func mustInsert(t *testing.T, bt *BTree, mgr *buffer.Manager, key, value []byte) {
	t.Helper()
	if err := bt.Insert(mgr, key, value); err != nil {
		t.Fatalf("insert %x: %v", key, err)
	}
}

func collectValues(t *testing.T, bt *BTree, mgr *buffer.Manager, mode SearchMode) [][]byte {
	t.Helper()
	iter, err := bt.Search(mgr, mode)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer iter.Close()
	var values [][]byte
	for {
		_, value, err := iter.Next(mgr)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if value == nil {
			return values
		}
		values = append(values, value)
	}
}

func TestBTree_InsertAndSearch(t *testing.T) {
	mgr := newTestManager(t, 16)
	bt, err := Create(mgr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mustInsert(t, bt, mgr, beUint64(6), []byte("world"))
	mustInsert(t, bt, mgr, beUint64(3), []byte("hello"))
	mustInsert(t, bt, mgr, beUint64(8), []byte("!"))
	mustInsert(t, bt, mgr, beUint64(4), []byte(","))

	iter, err := bt.Search(mgr, SearchKey(beUint64(3)))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	key, value, err := iter.Next(mgr)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	iter.Close()
	if !bytes.Equal(key, beUint64(3)) || !bytes.Equal(value, []byte("hello")) {
		t.Errorf("search(3) = (%x, %q)", key, value)
	}

	got := collectValues(t, bt, mgr, SearchStart())
	want := []string{"hello", ",", "world", "!"}
	if len(got) != len(want) {
		t.Fatalf("scan yielded %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("value %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBTree_SearchFromKey(t *testing.T) {
	mgr := newTestManager(t, 16)
	bt, _ := Create(mgr)
	for _, v := range []uint64{6, 3, 8, 4} {
		mustInsert(t, bt, mgr, beUint64(v), beUint64(v))
	}

	// The iterator starts at the first key >= the search key.
	got := collectValues(t, bt, mgr, SearchKey(beUint64(5)))
	if len(got) != 2 || !bytes.Equal(got[0], beUint64(6)) || !bytes.Equal(got[1], beUint64(8)) {
		t.Errorf("scan from 5 = %x", got)
	}
}

func TestBTree_Split(t *testing.T) {
	mgr := newTestManager(t, 16)
	bt, err := Create(mgr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	longPadding := bytes.Repeat([]byte{0xDE}, 1500)
	mustInsert(t, bt, mgr, beUint64(6), longPadding)
	mustInsert(t, bt, mgr, beUint64(3), longPadding)
	mustInsert(t, bt, mgr, beUint64(8), longPadding)
	mustInsert(t, bt, mgr, beUint64(4), longPadding)
	mustInsert(t, bt, mgr, beUint64(5), []byte("hello"))

	iter, err := bt.Search(mgr, SearchKey(beUint64(5)))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer iter.Close()
	key, value, err := iter.Next(mgr)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !bytes.Equal(key, beUint64(5)) || !bytes.Equal(value, []byte("hello")) {
		t.Errorf("search(5) = (%x, %q)", key, value)
	}

	// The split must keep the full key set iterable in order.
	values := collectValues(t, bt, mgr, SearchStart())
	if len(values) != 5 {
		t.Errorf("scan yielded %d values, want 5", len(values))
	}
}

func TestBTree_DuplicateKey(t *testing.T) {
	mgr := newTestManager(t, 16)
	bt, _ := Create(mgr)

	mustInsert(t, bt, mgr, []byte("key"), []byte("v1"))
	if err := bt.Insert(mgr, []byte("key"), []byte("v2")); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate insert = %v, want ErrDuplicateKey", err)
	}

	iter, err := bt.Search(mgr, SearchKey([]byte("key")))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer iter.Close()
	_, value, err := iter.Next(mgr)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(value) != "v1" {
		t.Errorf("value after duplicate insert = %q, want v1", value)
	}
}

func TestBTree_ManyKeysAscendingScan(t *testing.T) {
	mgr := newTestManager(t, 32)
	bt, _ := Create(mgr)

	const n = 5000
	// Insert in a scattered order to exercise splits on both flanks.
	for i := 0; i < n; i++ {
		v := uint64((i * 2654435761) % n)
		if err := bt.Insert(mgr, beUint64(v), beUint64(v)); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				continue
			}
			t.Fatalf("insert %d: %v", v, err)
		}
	}
	// Fill any holes the multiplicative walk skipped.
	for i := uint64(0); i < n; i++ {
		if err := bt.Insert(mgr, beUint64(i), beUint64(i)); err != nil && !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	iter, err := bt.Search(mgr, SearchStart())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer iter.Close()
	var count uint64
	for {
		key, value, err := iter.Next(mgr)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if key == nil {
			break
		}
		if got := binary.BigEndian.Uint64(key); got != count {
			t.Fatalf("key %d out of order or missing: got %d", count, got)
		}
		if !bytes.Equal(key, value) {
			t.Fatalf("value mismatch at key %d", count)
		}
		count++
	}
	if count != n {
		t.Errorf("scan visited %d keys, want %d", count, n)
	}
}

func TestBTree_PointLookupsAfterSplits(t *testing.T) {
	mgr := newTestManager(t, 32)
	bt, _ := Create(mgr)

	const n = 2000
	value := bytes.Repeat([]byte{0xAB}, 100)
	for i := uint64(0); i < n; i++ {
		mustInsert(t, bt, mgr, beUint64(i), value)
	}
	for i := uint64(0); i < n; i++ {
		iter, err := bt.Search(mgr, SearchKey(beUint64(i)))
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		key, got, err := iter.Next(mgr)
		iter.Close()
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if !bytes.Equal(key, beUint64(i)) || !bytes.Equal(got, value) {
			t.Fatalf("lookup %d: key %x", i, key)
		}
	}
}

func TestBTree_LeafChainCoversEveryKeyOnce(t *testing.T) {
	mgr := newTestManager(t, 32)
	bt, _ := Create(mgr)

	const n = 1000
	for i := uint64(0); i < n; i++ {
		// Descending inserts split at the left edge of the tree.
		mustInsert(t, bt, mgr, beUint64(n-1-i), bytes.Repeat([]byte{1}, 64))
	}

	seen := make(map[uint64]bool, n)
	iter, err := bt.Search(mgr, SearchStart())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer iter.Close()
	prev := int64(-1)
	for {
		key, _, err := iter.Next(mgr)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if key == nil {
			break
		}
		v := binary.BigEndian.Uint64(key)
		if seen[v] {
			t.Fatalf("key %d visited twice", v)
		}
		if int64(v) <= prev {
			t.Fatalf("keys out of order: %d after %d", v, prev)
		}
		seen[v] = true
		prev = int64(v)
	}
	if len(seen) != n {
		t.Errorf("chain covered %d keys, want %d", len(seen), n)
	}
}

func TestBTree_HandleAddressesSameTree(t *testing.T) {
	mgr := newTestManager(t, 16)
	created, _ := Create(mgr)
	mustInsert(t, created, mgr, []byte("k"), []byte("v"))

	reopened := New(created.MetaPageID)
	iter, err := reopened.Search(mgr, SearchKey([]byte("k")))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer iter.Close()
	_, value, err := iter.Next(mgr)
	if err != nil || string(value) != "v" {
		t.Errorf("reopened handle lookup = (%q, %v)", value, err)
	}
}

func TestBTree_ScanUnderPoolPressure(t *testing.T) {
	// Build a multi-leaf tree with a roomy pool, then scan it through a
	// minimal one: the iterator holds a single pin and must release each
	// leaf before the pool can load the next.
	disk := storage.NewMemManager()
	buildMgr := buffer.NewManager(disk, 32)
	bt, err := Create(buildMgr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	const n = 1000
	for i := uint64(0); i < n; i++ {
		mustInsert(t, bt, buildMgr, beUint64(i), bytes.Repeat([]byte{7}, 64))
	}
	if err := buildMgr.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	scanMgr := buffer.NewManager(disk, 3)
	iter, err := New(bt.MetaPageID).Search(scanMgr, SearchStart())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer iter.Close()
	var count uint64
	for {
		key, _, err := iter.Next(scanMgr)
		if err != nil {
			t.Fatalf("next at %d: %v", count, err)
		}
		if key == nil {
			break
		}
		if binary.BigEndian.Uint64(key) != count {
			t.Fatalf("key %d missing or out of order", count)
		}
		count++
	}
	if count != n {
		t.Errorf("scan visited %d keys, want %d", count, n)
	}
}

func TestBTree_CreateFailsWhenPoolTooSmall(t *testing.T) {
	// Create pins the meta and root pages at once; a single-frame pool
	// cannot host them.
	mgr := newTestManager(t, 1)
	if _, err := Create(mgr); !errors.Is(err, buffer.ErrNoFreeBuffer) {
		t.Fatalf("create with pool 1 = %v, want ErrNoFreeBuffer", err)
	}
}
