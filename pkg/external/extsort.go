package external

import (
	"container/heap"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/thcristo/planesweep-knn/pkg/point"
)

// sortByYExternal produces a file holding every record of inPath sorted
// ascending by y, without ever materializing the whole dataset in memory:
// it streams inPath in bounded runs of at most runLen records, sorts each
// run in place, spills it to tmpDir, then k-way merges the runs. Peak
// memory is proportional to runLen, not to the dataset size, the same
// run-and-merge external sort a database uses to sort a table larger than
// its buffer pool.
func sortByYExternal(inPath, tmpDir string, runLen int, readOpts, writeOpts point.BinaryOptions) (string, error) {
	r, err := point.OpenStream(inPath, readOpts)
	if err != nil {
		return "", err
	}
	defer r.Close()

	var runPaths []string
	buf := make(point.Set, 0, runLen)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		sort.Slice(buf, func(i, j int) bool { return buf[i].Y < buf[j].Y })
		runPath := filepath.Join(tmpDir, fmt.Sprintf("run-%d.bin", len(runPaths)))
		w, err := point.CreateBinaryStream(runPath, uint64(len(buf)), writeOpts)
		if err != nil {
			return err
		}
		for _, p := range buf {
			if err := w.Write(p); err != nil {
				return err
			}
		}
		if err := w.Close(); err != nil {
			return err
		}
		runPaths = append(runPaths, runPath)
		buf = buf[:0]
		return nil
	}

	for {
		p, ok, err := r.Next()
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		buf = append(buf, p)
		if len(buf) >= runLen {
			if err := flush(); err != nil {
				return "", err
			}
		}
	}
	if err := flush(); err != nil {
		return "", err
	}

	switch len(runPaths) {
	case 0:
		emptyPath := filepath.Join(tmpDir, "sorted-empty.bin")
		w, err := point.CreateBinaryStream(emptyPath, 0, writeOpts)
		if err != nil {
			return "", err
		}
		if err := w.Close(); err != nil {
			return "", err
		}
		return emptyPath, nil
	case 1:
		return runPaths[0], nil
	default:
		return mergeRunsByY(runPaths, tmpDir, writeOpts)
	}
}

type yMergeItem struct {
	p      point.Point
	srcIdx int
}

type yMergeHeap []yMergeItem

func (h yMergeHeap) Len() int            { return len(h) }
func (h yMergeHeap) Less(i, j int) bool  { return h[i].p.Y < h[j].p.Y }
func (h yMergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *yMergeHeap) Push(x interface{}) { *h = append(*h, x.(yMergeItem)) }
func (h *yMergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeRunsByY k-way merges a set of already-sorted run files into one
// sorted file, holding only one buffered record per run (container/heap
// picks the next-smallest) at any moment.
func mergeRunsByY(runPaths []string, tmpDir string, opts point.BinaryOptions) (string, error) {
	readers := make([]point.StreamReader, len(runPaths))
	var total uint64
	for i, p := range runPaths {
		r, err := point.OpenStream(p, opts)
		if err != nil {
			return "", err
		}
		readers[i] = r
		n, err := point.CountRecords(p, opts)
		if err != nil {
			return "", err
		}
		total += n
	}
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	h := &yMergeHeap{}
	heap.Init(h)
	for i, r := range readers {
		p, ok, err := r.Next()
		if err != nil {
			return "", err
		}
		if ok {
			heap.Push(h, yMergeItem{p: p, srcIdx: i})
		}
	}

	outPath := filepath.Join(tmpDir, "merged.bin")
	w, err := point.CreateBinaryStream(outPath, total, opts)
	if err != nil {
		return "", err
	}

	for h.Len() > 0 {
		item := heap.Pop(h).(yMergeItem)
		if err := w.Write(item.p); err != nil {
			return "", errors.Wrap(err, "write merged record")
		}
		next, ok, err := readers[item.srcIdx].Next()
		if err != nil {
			return "", err
		}
		if ok {
			heap.Push(h, yMergeItem{p: next, srcIdx: item.srcIdx})
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}
