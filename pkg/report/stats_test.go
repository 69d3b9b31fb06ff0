package report

import (
	"os"
	"strings"
	"testing"

	"github.com/thcristo/planesweep-knn/pkg/heap"
	"github.com/thcristo/planesweep-knn/pkg/knn"
)

func TestWriteStatsDotLocale(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/stats.csv"

	stats := []Stat{
		{
			Algorithm:      "planesweep_stripes",
			TotalSec:       1.5,
			SortSec:        0.25,
			TotalAdditions: 10,
			MinAdditions:   2,
			MaxAdditions:   4,
			AvgAdditions:   2.5,
			NumStripes:     3,
			Diffs:          0,
		},
		{
			Algorithm:          "planesweep_stripes_external",
			TotalSec:           2.0,
			HasAllocationError: false,
			PendingPoints:      5,
			FirstPassWindows:   2,
			SecondPassWindows:  1,
			Diffs:              1,
			First5DiffIds:      []uint64{7},
		},
	}

	if err := WriteStats(path, stats, LocaleDot); err != nil {
		t.Fatalf("WriteStats: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	fields := strings.Split(lines[0], ";")
	if len(fields) != 16 {
		t.Fatalf("got %d fields, want 16: %q", len(fields), lines[0])
	}
	if fields[0] != "planesweep_stripes" {
		t.Errorf("field 0 = %q, want algorithm name", fields[0])
	}
	if fields[6] != "2.500000" {
		t.Errorf("avgAdds field = %q, want 2.500000", fields[6])
	}

	fields1 := strings.Split(lines[1], ";")
	if fields1[len(fields1)-2] != "1" {
		t.Errorf("diffs field = %q, want 1", fields1[len(fields1)-2])
	}
	if fields1[len(fields1)-1] != "7" {
		t.Errorf("first5DiffIds field = %q, want 7", fields1[len(fields1)-1])
	}
}

func TestWriteStatsCommaLocale(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/stats.csv"

	stats := []Stat{{Algorithm: "planesweep_stripes", TotalSec: 1.5, AvgAdditions: 2.5}}
	if err := WriteStats(path, stats, LocaleComma); err != nil {
		t.Fatalf("WriteStats: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "1,500000") {
		t.Errorf("expected comma-decimal totalSec, got %q", string(data))
	}
}

func TestStatFromResult(t *testing.T) {
	r := &knn.Result{
		Algorithm:      "planesweep_stripes",
		TotalAdditions: 20,
		MinAdditions:   3,
		MaxAdditions:   9,
		NumStripes:     5,
		Neighbors: [][]heap.Neighbor{
			{{TrainingID: 1, DistSq: 0.1}},
			{{TrainingID: 2, DistSq: 0.2}},
		},
	}

	s := StatFromResult(r)
	if s.Algorithm != "planesweep_stripes" {
		t.Errorf("Algorithm = %q", s.Algorithm)
	}
	if s.AvgAdditions != 10 {
		t.Errorf("AvgAdditions = %v, want 10 (20/2)", s.AvgAdditions)
	}
	if s.NumStripes != 5 {
		t.Errorf("NumStripes = %d, want 5", s.NumStripes)
	}
}
