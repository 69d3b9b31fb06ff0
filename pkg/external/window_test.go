package external

import (
	"path/filepath"
	"testing"

	"github.com/thcristo/planesweep-knn/pkg/point"
	"github.com/thcristo/planesweep-knn/pkg/stripe"
)

func buildTestStore(t *testing.T) *Store {
	t.Helper()
	input := randomSet(200, 42)
	training := randomSet(200, 43)
	data := stripe.Build(input, training, 3, stripe.WithStripes(10))

	path := filepath.Join(t.TempDir(), "stripes.bin")
	if err := WriteStore(path, data); err != nil {
		t.Fatalf("WriteStore: %v", err)
	}
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetWindowAscendingCoversAllWithGenerousBudget(t *testing.T) {
	store := buildTestStore(t)
	lo, hi, err := getWindow(store, 0, false, 3, 0, 1<<30)
	if err != nil {
		t.Fatalf("getWindow: %v", err)
	}
	if lo != 0 || hi != store.NumStripes() {
		t.Fatalf("got [%d,%d), want [0,%d)", lo, hi, store.NumStripes())
	}
}

func TestGetWindowDescendingCoversAllWithGenerousBudget(t *testing.T) {
	store := buildTestStore(t)
	lo, hi, err := getWindow(store, store.NumStripes()-1, true, 3, 0, 1<<30)
	if err != nil {
		t.Fatalf("getWindow: %v", err)
	}
	if lo != 0 || hi != store.NumStripes()-1 {
		t.Fatalf("got [%d,%d], want [0,%d]", lo, hi, store.NumStripes()-1)
	}
}

func TestGetWindowTinyBudgetReturnsAllocationError(t *testing.T) {
	store := buildTestStore(t)
	_, _, err := getWindow(store, 0, false, 3, 0, 1)
	if err == nil {
		t.Fatalf("expected allocation error with a 1-byte budget")
	}
	if _, ok := err.(*AllocationError); !ok {
		t.Fatalf("error %v is not *AllocationError", err)
	}
}

func TestGetWindowBudgetedRangeNeverExceedsLimit(t *testing.T) {
	store := buildTestStore(t)
	budget := uint64(10000)
	lo, hi, err := getWindow(store, 0, false, 3, 0, budget)
	if err != nil {
		t.Fatalf("getWindow: %v", err)
	}
	if hi <= lo {
		t.Fatalf("window [%d,%d) is empty", lo, hi)
	}

	var used uint64
	for i := lo; i < hi; i++ {
		used += store.EstimatedBytes(i) + perInputHeapCost(store, i, 3)
	}
	if used > budget*9/10 {
		t.Errorf("window uses %d bytes, exceeds 90%% of budget %d", used, budget)
	}
}

func TestPendingMapPutGetDelete(t *testing.T) {
	m := newPendingMap()
	p := point.Point{Id: 7, X: 0.1, Y: 0.2}

	if _, ok := m.get(7); ok {
		t.Fatalf("expected no entry before put")
	}
	m.put(p, nil)
	if m.len() != 1 {
		t.Fatalf("len = %d, want 1", m.len())
	}
	e, ok := m.get(7)
	if !ok || e.p != p {
		t.Fatalf("get(7) = %+v, %v, want %+v, true", e, ok, p)
	}
	m.delete(7)
	if m.len() != 0 {
		t.Fatalf("len = %d after delete, want 0", m.len())
	}
}
