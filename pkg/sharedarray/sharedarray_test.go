package sharedarray

import (
	"testing"

	"github.com/taoshm/camerafabric/pkg/ipctime"
)

// TestConstructReadBackShape checks that a 3x4x2 float32 array reports
// the dims the test asked for.
func TestConstructReadBackShape(t *testing.T) {
	arr, err := New(Float32, []int64{3, 4, 2}, 0600)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer arr.Detach()

	if arr.NDims() != 3 {
		t.Fatalf("NDims = %d, want 3", arr.NDims())
	}
	if arr.Length() != 24 {
		t.Fatalf("Length = %d, want 24", arr.Length())
	}
	for k, want := range []int64{3, 4, 2} {
		if got := arr.DimSize(k); got != want {
			t.Fatalf("DimSize(%d) = %d, want %d", k, got, want)
		}
	}
	if arr.DimSize(3) != 1 || arr.DimSize(4) != 1 {
		t.Fatalf("dims beyond rank should read back as 1")
	}
	if len(arr.DataPtr()) < 24*4 {
		t.Fatalf("DataPtr len %d, too small for 24 float32s", len(arr.DataPtr()))
	}
}

// TestAttachSeesCounterAndTimestamp checks that a peer attaching by
// ident sees the counter/timestamp the owner set under lock, and that
// detaching the owner last brings the segment down.
func TestAttachSeesCounterAndTimestamp(t *testing.T) {
	owner, err := New(Float32, []int64{3, 4, 2}, 0600)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := owner.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	owner.SetCounter(42)
	owner.SetTimestamp(ipctime.Time{Sec: 1000000000, Nsec: 0})
	if err := owner.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	peer, err := Attach(owner.Ident())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := peer.Lock(); err != nil {
		t.Fatalf("peer Lock: %v", err)
	}
	if peer.Counter() != 42 {
		t.Fatalf("peer Counter = %d, want 42", peer.Counter())
	}
	ts := peer.Timestamp()
	if ts.Sec != 1000000000 || ts.Nsec != 0 {
		t.Fatalf("peer Timestamp = %+v, want {1000000000 0}", ts)
	}
	if err := peer.Unlock(); err != nil {
		t.Fatalf("peer Unlock: %v", err)
	}
	if err := peer.Detach(); err != nil {
		t.Fatalf("peer Detach: %v", err)
	}
	if err := owner.Detach(); err != nil {
		t.Fatalf("owner Detach: %v", err)
	}
}

func TestNewRejectsBadRankAndSize(t *testing.T) {
	if _, err := New(Uint8, nil, 0600); err == nil {
		t.Fatalf("want error for zero-rank shape")
	}
	if _, err := New(Uint8, []int64{1, 2, 3, 4, 5, 6}, 0600); err == nil {
		t.Fatalf("want error for rank > MaxNDims")
	}
	if _, err := New(Uint8, []int64{4, 0}, 0600); err == nil {
		t.Fatalf("want error for a zero dimension")
	}
	if _, err := New(Uint8, []int64{-1, 4}, 0600); err == nil {
		t.Fatalf("want error for a negative dimension")
	}
}

func TestSameShapeMatchesElementTypeAndDims(t *testing.T) {
	arr, err := New(Uint16, []int64{16, 8}, 0600)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer arr.Detach()

	if !arr.SameShape(Uint16, []int64{16, 8}) {
		t.Fatalf("SameShape should match identical element type and dims")
	}
	if arr.SameShape(Uint8, []int64{16, 8}) {
		t.Fatalf("SameShape should reject a differing element type")
	}
	if arr.SameShape(Uint16, []int64{8, 16}) {
		t.Fatalf("SameShape should reject transposed dims")
	}
}
