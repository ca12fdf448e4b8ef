package tuple

import (
	"bytes"
	"testing"
)

func TestEncode(t *testing.T) {
	got := Encode(nil, []byte("hello"), []byte(","), []byte("world"), []byte("!"))
	want := []byte{
		'h', 'e', 'l', 'l', 'o', 0, 0, 0, 5,
		',', 0, 0, 0, 0, 0, 0, 0, 1,
		'w', 'o', 'r', 'l', 'd', 0, 0, 0, 5,
		'!', 0, 0, 0, 0, 0, 0, 0, 1,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
}

func TestDecode(t *testing.T) {
	enc := []byte{
		'h', 'e', 'l', 'l', 'o', 0, 0, 0, 5,
		',', 0, 0, 0, 0, 0, 0, 0, 1,
		'w', 'o', 'r', 'l', 'd', 0, 0, 0, 5,
		'!', 0, 0, 0, 0, 0, 0, 0, 1,
	}
	got := Decode(nil, enc)
	want := [][]byte{[]byte("hello"), []byte(","), []byte("world"), []byte("!")}
	if len(got) != len(want) {
		t.Fatalf("Decode yielded %d elements, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("element %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecode_AppendsToExisting(t *testing.T) {
	head := [][]byte{[]byte("pk")}
	got := Decode(head, Encode(nil, []byte("v1"), []byte("v2")))
	if len(got) != 3 || string(got[0]) != "pk" || string(got[1]) != "v1" || string(got[2]) != "v2" {
		t.Errorf("Decode append = %q", got)
	}
}

func TestRoundTrip_TrailingEmptyElems(t *testing.T) {
	org := [][]byte{[]byte("a"), {}, {}}
	dec := Decode(nil, Encode(nil, org...))
	if len(dec) != 3 {
		t.Fatalf("got %d elements, want 3", len(dec))
	}
	if string(dec[0]) != "a" || len(dec[1]) != 0 || len(dec[2]) != 0 {
		t.Errorf("round trip = %q", dec)
	}
}

func TestPretty(t *testing.T) {
	dec := Decode(nil, Encode(nil, []byte("hello"), []byte("!")))
	got := Pretty(dec).String()
	want := `Tuple("hello" 68656c6c6f, "!" 21)`
	if got != want {
		t.Errorf("Pretty = %s, want %s", got, want)
	}
}
