package external

import (
	"math"
	"path/filepath"
	"testing"

	heappkg "github.com/thcristo/planesweep-knn/pkg/heap"
)

func TestNeighborStreamRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neighbors.bin")
	k := 3

	w, err := createNeighborStream(path, k, false)
	if err != nil {
		t.Fatalf("createNeighborStream: %v", err)
	}
	records := []neighborRecord{
		{id: 2, neighbors: []heappkg.Neighbor{{TrainingID: 7, DistSq: 0.1}, {TrainingID: 8, DistSq: 0.2}, {TrainingID: 9, DistSq: 0.3}}},
		{id: 1, neighbors: []heappkg.Neighbor{{TrainingID: 4, DistSq: 0.05}}},
	}
	for _, rec := range records {
		if err := w.Write(rec.id, rec.neighbors); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := openNeighborStream(path, false)
	if err != nil {
		t.Fatalf("openNeighborStream: %v", err)
	}
	defer r.Close()

	if r.k != k {
		t.Fatalf("stream k = %d, want %d", r.k, k)
	}

	first, ok, err := r.next()
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if first.id != 2 || len(first.neighbors) != k {
		t.Fatalf("first record = %+v, want id 2 with %d neighbors", first, k)
	}

	// the short list must have been padded to k with sentinels.
	second, ok, err := r.next()
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if second.id != 1 {
		t.Fatalf("second record id = %d, want 1", second.id)
	}
	if second.neighbors[1].TrainingID != 0 || !math.IsInf(second.neighbors[1].DistSq, 1) {
		t.Fatalf("padded slot = %+v, want sentinel", second.neighbors[1])
	}

	if _, ok, err := r.next(); ok || err != nil {
		t.Fatalf("expected clean end of stream, got ok=%v err=%v", ok, err)
	}
}

// TestSortNeighborStreamByID writes records in scrambled id order with a
// tiny run length, forcing the external sort to spill and merge several
// runs before the stream comes back ascending.
func TestSortNeighborStreamByID(t *testing.T) {
	dir := t.TempDir()
	unsorted := filepath.Join(dir, "neighbors.raw")
	k := 2

	w, err := createNeighborStream(unsorted, k, false)
	if err != nil {
		t.Fatalf("createNeighborStream: %v", err)
	}
	ids := []uint64{5, 1, 9, 3, 7, 2, 8, 4, 6, 10}
	for _, id := range ids {
		ns := []heappkg.Neighbor{
			{TrainingID: id * 10, DistSq: float64(id)},
			{TrainingID: id*10 + 1, DistSq: float64(id) + 0.5},
		}
		if err := w.Write(id, ns); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sortedPath, err := sortNeighborStreamByID(unsorted, dir, k, 3, false)
	if err != nil {
		t.Fatalf("sortNeighborStreamByID: %v", err)
	}

	s, err := OpenNeighborResultStream(sortedPath, false)
	if err != nil {
		t.Fatalf("OpenNeighborResultStream: %v", err)
	}
	defer s.Close()

	var got []uint64
	for {
		id, ns, ok, err := s.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if len(ns) != k {
			t.Fatalf("record %d has %d neighbors, want %d", id, len(ns), k)
		}
		if ns[0].TrainingID != id*10 {
			t.Fatalf("record %d neighbor 0 = %+v, want training id %d", id, ns[0], id*10)
		}
		got = append(got, id)
	}
	if len(got) != len(ids) {
		t.Fatalf("sorted stream has %d records, want %d", len(got), len(ids))
	}
	for i, id := range got {
		if id != uint64(i+1) {
			t.Fatalf("sorted ids = %v, want 1..%d ascending", got, len(ids))
		}
	}
}
