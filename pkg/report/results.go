// Package report writes the two human-facing artifacts a CLI run produces:
// a results text file (one line of neighbors per input point) and a
// statistics CSV (one line per algorithm run). Neither file format is part
// of the algorithm core. The statistics CSV takes a Locale decimal
// separator; the results file always writes '.' decimals.
package report

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/thcristo/planesweep-knn/pkg/heap"
	"github.com/thcristo/planesweep-knn/pkg/knn"
)

// WriteResults writes one line per input point to path: "id\t(nbrId d²)…",
// neighbors in increasing d², sentinel entries (no neighbor) printed with
// nbrId "NULL". Ids are 1-based and correspond to result.Neighbors' index+1.
func WriteResults(path string, result *knn.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i, neighbors := range result.Neighbors {
		fmt.Fprintf(w, "%d", i+1)
		for _, n := range neighbors {
			fmt.Fprintf(w, "\t(%s %s)", neighborID(n), strconv.FormatFloat(n.DistSq, 'f', -1, 64))
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// NeighborStream is the read side of an on-disk, ascending-id-ordered
// neighbor result, satisfied by external.NeighborResultStream. Declared
// here rather than imported so this package need not depend on pkg/external.
type NeighborStream interface {
	Next() (id uint64, neighbors []heap.Neighbor, ok bool, err error)
	Close() error
}

// WriteResultsFromStream is WriteResults' counterpart for the external
// variant's streamed output: it reads s one record at a time instead of
// ranging over an in-memory Result.Neighbors slice, so the results file is
// produced without ever holding every point's neighbor list in memory at
// once.
func WriteResultsFromStream(path string, s NeighborStream) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for {
		id, neighbors, ok, err := s.Next()
		if err != nil {
			return fmt.Errorf("read neighbor stream: %w", err)
		}
		if !ok {
			break
		}
		fmt.Fprintf(w, "%d", id)
		for _, n := range neighbors {
			fmt.Fprintf(w, "\t(%s %s)", neighborID(n), strconv.FormatFloat(n.DistSq, 'f', -1, 64))
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func neighborID(n heap.Neighbor) string {
	if n.TrainingID == heap.Sentinel.TrainingID {
		return "NULL"
	}
	return strconv.FormatUint(n.TrainingID, 10)
}
