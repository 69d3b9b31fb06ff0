package external

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/thcristo/planesweep-knn/pkg/point"
	"github.com/thcristo/planesweep-knn/pkg/stripe"
)

func TestWriteAndOpenStoreRoundTrip(t *testing.T) {
	input := point.Set{
		{Id: 1, X: 0.1, Y: 0.2},
		{Id: 2, X: 0.4, Y: 0.3},
	}
	training := point.Set{
		{Id: 1, X: 0.5, Y: 0.1},
		{Id: 2, X: 0.2, Y: 0.4},
		{Id: 3, X: 0.9, Y: 0.5},
	}
	data := stripe.Build(input, training, 2, stripe.WithStripes(2))

	path := filepath.Join(t.TempDir(), "stripes.bin")
	if err := WriteStore(path, data); err != nil {
		t.Fatalf("WriteStore: %v", err)
	}

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if store.NumStripes() != len(data.Stripes) {
		t.Fatalf("NumStripes = %d, want %d", store.NumStripes(), len(data.Stripes))
	}

	for i, want := range data.Stripes {
		if store.Bounds(i) != want.Bounds {
			t.Errorf("stripe %d: Bounds = %+v, want %+v", i, store.Bounds(i), want.Bounds)
		}
		got, err := store.LoadStripe(i)
		if err != nil {
			t.Fatalf("LoadStripe(%d): %v", i, err)
		}
		if len(got.Input) != len(want.Input) || len(got.Training) != len(want.Training) {
			t.Fatalf("stripe %d: counts = (%d,%d), want (%d,%d)", i,
				len(got.Input), len(got.Training), len(want.Input), len(want.Training))
		}
		for j := range want.Input {
			if got.Input[j] != want.Input[j] {
				t.Errorf("stripe %d input[%d] = %+v, want %+v", i, j, got.Input[j], want.Input[j])
			}
		}
		for j := range want.Training {
			if got.Training[j] != want.Training[j] {
				t.Errorf("stripe %d training[%d] = %+v, want %+v", i, j, got.Training[j], want.Training[j])
			}
		}
	}
}

func TestOpenStoreRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	data := stripe.Build(point.Set{{Id: 1, X: 0.1, Y: 0.1}}, point.Set{{Id: 1, X: 0.2, Y: 0.2}}, 1)
	if err := WriteStore(path, data); err != nil {
		t.Fatalf("WriteStore: %v", err)
	}

	corrupt := []byte("NOT-AKNN")
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.WriteAt(corrupt, 0); err != nil {
		t.Fatalf("write corruption: %v", err)
	}
	f.Close()

	if _, err := OpenStore(path); err == nil {
		t.Fatalf("expected error opening store with corrupted magic")
	}
}
