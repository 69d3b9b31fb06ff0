package external

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	heappkg "github.com/thcristo/planesweep-knn/pkg/heap"
)

// neighborRecord is one input point's resolved k-nearest list, the record
// unit of the external-neighbors stream.
type neighborRecord struct {
	id        uint64
	neighbors []heappkg.Neighbor
}

// NeighborStreamWriter appends finished (id, neighbors) results to an
// unsorted on-disk run the moment the scheduler resolves them, rather than
// holding one slot per input point in a single in-memory slice for the
// whole run. Results land in whatever order the windowed scheduler finishes
// them, not sorted by id; sortNeighborStreamByID restores id order
// afterward via an external run-and-merge pass, mirroring sortByYExternal.
type NeighborStreamWriter struct {
	f    *os.File
	gz   *gzip.Writer
	bw   *bufio.Writer
	k    int
	path string
}

func createNeighborStream(path string, k int, compress bool) (*NeighborStreamWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	var w io.Writer = f
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(f)
		w = gz
	}
	bw := bufio.NewWriterSize(w, 1<<20)

	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(k))
	if _, err := bw.Write(hdr[:]); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "write header to %s", path)
	}
	return &NeighborStreamWriter{f: f, gz: gz, bw: bw, k: k, path: path}, nil
}

// Write appends one point's resolved neighbor list. Lists shorter than k
// (fewer training points than requested neighbors existed) are padded with
// heap.Sentinel entries so every record has the same size and the file can
// be split into runs at arbitrary record boundaries.
func (w *NeighborStreamWriter) Write(id uint64, neighbors []heappkg.Neighbor) error {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], id)
	if _, err := w.bw.Write(idBuf[:]); err != nil {
		return err
	}
	var nb [16]byte
	for i := 0; i < w.k; i++ {
		n := heappkg.Sentinel
		if i < len(neighbors) {
			n = neighbors[i]
		}
		binary.LittleEndian.PutUint64(nb[0:8], n.TrainingID)
		binary.LittleEndian.PutUint64(nb[8:16], math.Float64bits(n.DistSq))
		if _, err := w.bw.Write(nb[:]); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the underlying file. The run it produces is
// intermediate (read back only by sortNeighborStreamByID), so unlike
// point.BinaryStreamWriter it writes directly to path with no temp-rename
// step.
func (w *NeighborStreamWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return errors.Wrapf(err, "flush %s", w.path)
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.f.Close()
			return errors.Wrapf(err, "close gzip writer for %s", w.path)
		}
	}
	return w.f.Close()
}

type neighborStreamReader struct {
	f    *os.File
	gz   *gzip.Reader
	br   *bufio.Reader
	k    int
	path string
}

func openNeighborStream(path string, compress bool) (*neighborStreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var r io.Reader = f
	var gz *gzip.Reader
	if compress {
		gz, err = gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "open gzip reader for %s", path)
		}
		r = gz
	}
	br := bufio.NewReaderSize(r, 1<<20)

	var hdr [8]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read header from %s", path)
	}
	k := int(binary.LittleEndian.Uint64(hdr[:]))
	return &neighborStreamReader{f: f, gz: gz, br: br, k: k, path: path}, nil
}

func (r *neighborStreamReader) next() (neighborRecord, bool, error) {
	var idBuf [8]byte
	if _, err := io.ReadFull(r.br, idBuf[:]); err != nil {
		if err == io.EOF {
			return neighborRecord{}, false, nil
		}
		return neighborRecord{}, false, errors.Wrapf(err, "%s: read record id", r.path)
	}
	id := binary.LittleEndian.Uint64(idBuf[:])

	neighbors := make([]heappkg.Neighbor, r.k)
	var nb [16]byte
	for i := 0; i < r.k; i++ {
		if _, err := io.ReadFull(r.br, nb[:]); err != nil {
			return neighborRecord{}, false, errors.Wrapf(err, "%s: read record %d neighbor %d", r.path, id, i)
		}
		neighbors[i] = heappkg.Neighbor{
			TrainingID: binary.LittleEndian.Uint64(nb[0:8]),
			DistSq:     math.Float64frombits(binary.LittleEndian.Uint64(nb[8:16])),
		}
	}
	return neighborRecord{id: id, neighbors: neighbors}, true, nil
}

func (r *neighborStreamReader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.f.Close()
}

func writeNeighborRun(tmpDir string, runIdx, k int, records []neighborRecord, compress bool) (string, error) {
	sort.Slice(records, func(i, j int) bool { return records[i].id < records[j].id })
	path := filepath.Join(tmpDir, fmt.Sprintf("nrun-%d.bin", runIdx))
	w, err := createNeighborStream(path, k, compress)
	if err != nil {
		return "", err
	}
	for _, rec := range records {
		if err := w.Write(rec.id, rec.neighbors); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return path, nil
}

type idMergeItem struct {
	rec    neighborRecord
	srcIdx int
}

type idMergeHeap []idMergeItem

func (h idMergeHeap) Len() int            { return len(h) }
func (h idMergeHeap) Less(i, j int) bool  { return h[i].rec.id < h[j].rec.id }
func (h idMergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idMergeHeap) Push(x interface{}) { *h = append(*h, x.(idMergeItem)) }
func (h *idMergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// sortNeighborStreamByID restores ascending-id order over an unsorted
// neighbor stream via external run-and-merge: it buffers runLen records at
// a time, sorts and spills each run, then k-way merges them by id. An
// external-memory merge sort over the neighbor stream rather than an
// in-memory sort of Result.Neighbors.
func sortNeighborStreamByID(unsortedPath, tmpDir string, k, runLen int, compress bool) (string, error) {
	r, err := openNeighborStream(unsortedPath, compress)
	if err != nil {
		return "", err
	}
	defer r.Close()

	var runPaths []string
	buf := make([]neighborRecord, 0, runLen)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		runPath, err := writeNeighborRun(tmpDir, len(runPaths), k, buf, compress)
		if err != nil {
			return err
		}
		runPaths = append(runPaths, runPath)
		buf = buf[:0]
		return nil
	}

	for {
		rec, ok, err := r.next()
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		buf = append(buf, rec)
		if len(buf) >= runLen {
			if err := flush(); err != nil {
				return "", err
			}
		}
	}
	if err := flush(); err != nil {
		return "", err
	}

	if len(runPaths) == 0 {
		emptyPath := filepath.Join(tmpDir, "nsorted-empty.bin")
		w, err := createNeighborStream(emptyPath, k, compress)
		if err != nil {
			return "", err
		}
		return emptyPath, w.Close()
	}
	if len(runPaths) == 1 {
		return runPaths[0], nil
	}

	readers := make([]*neighborStreamReader, len(runPaths))
	for i, p := range runPaths {
		rr, err := openNeighborStream(p, compress)
		if err != nil {
			return "", err
		}
		readers[i] = rr
	}
	defer func() {
		for _, rr := range readers {
			rr.Close()
		}
	}()

	h := &idMergeHeap{}
	heap.Init(h)
	for i, rr := range readers {
		rec, ok, err := rr.next()
		if err != nil {
			return "", err
		}
		if ok {
			heap.Push(h, idMergeItem{rec: rec, srcIdx: i})
		}
	}

	outPath := filepath.Join(tmpDir, "nsorted.bin")
	w, err := createNeighborStream(outPath, k, compress)
	if err != nil {
		return "", err
	}
	for h.Len() > 0 {
		item := heap.Pop(h).(idMergeItem)
		if err := w.Write(item.rec.id, item.rec.neighbors); err != nil {
			return "", err
		}
		next, ok, err := readers[item.srcIdx].next()
		if err != nil {
			return "", err
		}
		if ok {
			heap.Push(h, idMergeItem{rec: next, srcIdx: item.srcIdx})
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}

// NeighborResultStream reads a sorted neighbor stream back in id order; it
// satisfies report.NeighborStream so the CLI can write the results file
// directly off disk.
type NeighborResultStream struct {
	r *neighborStreamReader
}

// OpenNeighborResultStream opens path (as produced by RunExternalFromFiles)
// for sequential, id-ordered reading.
func OpenNeighborResultStream(path string, compress bool) (*NeighborResultStream, error) {
	r, err := openNeighborStream(path, compress)
	if err != nil {
		return nil, err
	}
	return &NeighborResultStream{r: r}, nil
}

// Next returns the next (id, neighbors) pair, or ok=false at end of stream.
func (s *NeighborResultStream) Next() (id uint64, neighbors []heappkg.Neighbor, ok bool, err error) {
	rec, ok, err := s.r.next()
	if err != nil || !ok {
		return 0, nil, ok, err
	}
	return rec.id, rec.neighbors, true, nil
}

// Close releases the underlying file handle.
func (s *NeighborResultStream) Close() error { return s.r.Close() }
