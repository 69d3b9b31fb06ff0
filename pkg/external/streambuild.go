package external

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/thcristo/planesweep-knn/pkg/point"
	"github.com/thcristo/planesweep-knn/pkg/stripe"
)

// peekReader adds a single-item lookahead to a point.StreamReader, letting
// streaming code replicate the in-memory cursor-based stripe split (which
// needs to look one point ahead to detect an equal-y boundary) without
// needing full random access into the set.
type peekReader struct {
	r      point.StreamReader
	peeked *point.Point
}

func newPeekReader(r point.StreamReader) *peekReader { return &peekReader{r: r} }

func (p *peekReader) peek() (point.Point, bool, error) {
	if p.peeked != nil {
		return *p.peeked, true, nil
	}
	pt, ok, err := p.r.Next()
	if err != nil || !ok {
		return point.Point{}, false, err
	}
	p.peeked = &pt
	return pt, true, nil
}

func (p *peekReader) next() (point.Point, bool, error) {
	if p.peeked != nil {
		pt := *p.peeked
		p.peeked = nil
		return pt, true, nil
	}
	return p.r.Next()
}

// stripeMeta describes one stripe already spilled to its own temp file by
// buildStripesStreaming; assembleStore reads these back, in order, to
// produce the final random-access Store. Its temp file's payload is always
// physically ordered [input][training], regardless of splitByTraining.
type stripeMeta struct {
	path          string
	bounds        stripe.Bounds
	inputCount    uint64
	trainingCount uint64
}

// buildStripesStreaming partitions two y-sorted point streams into stripes
// exactly as stripe.Build's serial cursor path does: a fixed run size
// against the primary stream, widened across equal-y boundaries, with the
// paired stream's matching slice found by advancing a forward-only cursor,
// except every operation is a forward streaming read instead of a slice
// index, and each stripe is written to its own temp file the instant it is
// complete rather than being held alongside every other stripe in memory.
// primaryPath/pairedPath must already be sorted ascending by y (e.g. by
// sortByYExternal). When splitByTraining is true, primaryPath/pairedPath are
// the training/input streams respectively (mirroring stripe.splitByTraining);
// writeStripeTemp is always handed (input, training) in that fixed order so
// assembleStore's offset math never needs to know splitByTraining itself.
func buildStripesStreaming(primaryPath, pairedPath, tmpDir string, numStripes int, splitByTraining bool, opts point.BinaryOptions) ([]stripeMeta, error) {
	total, err := point.CountRecords(primaryPath, opts)
	if err != nil {
		return nil, errors.Wrap(err, "count primary records")
	}
	if total == 0 {
		return nil, nil
	}
	stripeSize := int(total)/numStripes + 1
	if stripeSize < 1 {
		stripeSize = 1
	}

	primary, err := point.OpenStream(primaryPath, opts)
	if err != nil {
		return nil, err
	}
	defer primary.Close()
	paired, err := point.OpenStream(pairedPath, opts)
	if err != nil {
		return nil, err
	}
	defer paired.Close()

	pr := newPeekReader(primary)
	pa := newPeekReader(paired)

	var metas []stripeMeta
	idx := 0
	for {
		if _, ok, err := pr.peek(); err != nil {
			return nil, err
		} else if !ok {
			break
		}

		var primaryBuf point.Set
		for len(primaryBuf) < stripeSize {
			p, ok, err := pr.next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			primaryBuf = append(primaryBuf, p)
		}
		for {
			next, ok, err := pr.peek()
			if err != nil {
				return nil, err
			}
			if !ok || next.Y != primaryBuf[len(primaryBuf)-1].Y {
				break
			}
			p, _, err := pr.next()
			if err != nil {
				return nil, err
			}
			primaryBuf = append(primaryBuf, p)
		}

		yLimit := primaryBuf[len(primaryBuf)-1].Y
		_, hasMorePrimary, err := pr.peek()
		if err != nil {
			return nil, err
		}

		minY := primaryBuf[0].Y
		if firstPaired, ok, err := pa.peek(); err != nil {
			return nil, err
		} else if ok && firstPaired.Y < minY {
			minY = firstPaired.Y
		}

		var pairedBuf point.Set
		if !hasMorePrimary {
			// last stripe: every remaining paired point belongs here
			// regardless of y, matching splitByInput/splitByTraining.
			for {
				p, ok, err := pa.next()
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				pairedBuf = append(pairedBuf, p)
			}
		} else {
			for {
				next, ok, err := pa.peek()
				if err != nil {
					return nil, err
				}
				if !ok || next.Y > yLimit {
					break
				}
				p, _, err := pa.next()
				if err != nil {
					return nil, err
				}
				pairedBuf = append(pairedBuf, p)
			}
		}

		maxY := yLimit
		if len(pairedBuf) > 0 && pairedBuf[len(pairedBuf)-1].Y > maxY {
			maxY = pairedBuf[len(pairedBuf)-1].Y
		}

		primaryBuf.SortByX()
		pairedBuf.SortByX()

		inputBuf, trainingBuf := primaryBuf, pairedBuf
		if splitByTraining {
			inputBuf, trainingBuf = pairedBuf, primaryBuf
		}

		meta, err := writeStripeTemp(tmpDir, idx, inputBuf, trainingBuf, stripe.Bounds{MinY: minY, MaxY: maxY})
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
		idx++
	}
	return metas, nil
}

// writeStripeTemp spills one completed stripe to its own small file: a
// 32-byte header (bounds + counts) followed by the input then training
// records, reusing writeRecords' exact 24-byte-per-point layout so
// assembleStore can copy the payload straight through. The caller must
// always pass input/training in that fixed order, regardless of which
// stream (primary or paired) each came from.
func writeStripeTemp(tmpDir string, idx int, input, training point.Set, bounds stripe.Bounds) (stripeMeta, error) {
	path := filepath.Join(tmpDir, fmt.Sprintf("stripe-%d.bin", idx))
	f, err := os.Create(path)
	if err != nil {
		return stripeMeta{}, errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	var hdr [32]byte
	binary.LittleEndian.PutUint64(hdr[0:8], math.Float64bits(bounds.MinY))
	binary.LittleEndian.PutUint64(hdr[8:16], math.Float64bits(bounds.MaxY))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(len(input)))
	binary.LittleEndian.PutUint64(hdr[24:32], uint64(len(training)))
	if _, err := f.Write(hdr[:]); err != nil {
		return stripeMeta{}, errors.Wrapf(err, "write header to %s", path)
	}
	if _, err := writeRecords(f, input); err != nil {
		return stripeMeta{}, errors.Wrapf(err, "write input records to %s", path)
	}
	if _, err := writeRecords(f, training); err != nil {
		return stripeMeta{}, errors.Wrapf(err, "write training records to %s", path)
	}

	return stripeMeta{
		path:          path,
		bounds:        bounds,
		inputCount:    uint64(len(input)),
		trainingCount: uint64(len(training)),
	}, nil
}

// assembleStore concatenates the per-stripe temp files built by
// buildStripesStreaming into the same Store format WriteStore produces, so
// OpenStore/LoadStripe need no changes to read a streamed-built store. Each
// temp file's payload is already in fixed [input][training] order, so no
// splitByTraining bookkeeping is needed here.
func assembleStore(metas []stripeMeta, storePath string) error {
	tmpPath := storePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmpPath)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	var header [8 + 4 + 8]byte
	copy(header[0:8], storeMagic)
	binary.LittleEndian.PutUint32(header[8:12], storeVersion)
	binary.LittleEndian.PutUint64(header[12:20], uint64(len(metas)))
	if _, err := f.Write(header[:]); err != nil {
		return errors.Wrapf(err, "write header to %s", tmpPath)
	}

	for _, m := range metas {
		var b [16]byte
		binary.LittleEndian.PutUint64(b[0:8], math.Float64bits(m.bounds.MinY))
		binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(m.bounds.MaxY))
		if _, err := f.Write(b[:]); err != nil {
			return errors.Wrapf(err, "write bounds to %s", tmpPath)
		}
	}

	offsets := make([]stripeOffset, len(metas))
	cursor := int64(0)
	for i, m := range metas {
		offsets[i] = stripeOffset{
			inputOffset:    uint64(cursor),
			inputCount:     m.inputCount,
			trainingOffset: uint64(cursor) + m.inputCount*24,
			trainingCount:  m.trainingCount,
		}
		cursor += int64(m.inputCount+m.trainingCount) * 24
	}
	for _, o := range offsets {
		var b [32]byte
		binary.LittleEndian.PutUint64(b[0:8], o.inputOffset)
		binary.LittleEndian.PutUint64(b[8:16], o.inputCount)
		binary.LittleEndian.PutUint64(b[16:24], o.trainingOffset)
		binary.LittleEndian.PutUint64(b[24:32], o.trainingCount)
		if _, err := f.Write(b[:]); err != nil {
			return errors.Wrapf(err, "write offset table to %s", tmpPath)
		}
	}

	for _, m := range metas {
		sf, err := os.Open(m.path)
		if err != nil {
			return errors.Wrapf(err, "open %s", m.path)
		}
		if _, err := sf.Seek(32, io.SeekStart); err != nil {
			sf.Close()
			return errors.Wrapf(err, "seek past header in %s", m.path)
		}
		if _, err := io.Copy(f, sf); err != nil {
			sf.Close()
			return errors.Wrapf(err, "copy payload from %s", m.path)
		}
		sf.Close()
	}

	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmpPath)
	}
	if err := os.Rename(tmpPath, storePath); err != nil {
		return errors.Wrapf(err, "rename %s to %s", tmpPath, storePath)
	}
	return nil
}

const minExternalRunLen = 1024

// runLengthFor derives the external-sort run length from the memory
// budget: ~64 bytes per buffered point (the point itself plus Go's slice
// and scheduling overhead), floored so tiny budgets in tests still make
// forward progress.
func runLengthFor(cfg Config) int {
	n := int(cfg.MemoryBudgetBytes / 64)
	if n < minExternalRunLen {
		n = minExternalRunLen
	}
	return n
}

// BuildStoreFromFiles builds an on-disk stripe store directly from two
// dataset files: each is first externally sorted by y (sortByYExternal),
// then streamed into stripes (buildStripesStreaming) and assembled
// (assembleStore). Neither the input nor the training set is ever held
// resident as a whole point.Set; only one run, and then one stripe, is
// buffered at a time.
func BuildStoreFromFiles(inputPath, trainingPath, storePath, tmpDir string, k int, cfg Config) (int, error) {
	readOpts := point.BinaryOptions{}
	writeOpts := point.BinaryOptions{Compress: cfg.Compress}
	runLen := runLengthFor(cfg)

	trainingCount, err := point.CountRecords(trainingPath, readOpts)
	if err != nil {
		return 0, errors.Wrap(err, "count training records")
	}
	numStripes := cfg.Stripes
	if numStripes <= 0 {
		numStripes = stripe.AutoStripes(int(trainingCount), k)
	}
	if numStripes < 1 {
		numStripes = 1
	}

	inputSortDir := filepath.Join(tmpDir, "sort-input")
	if err := os.Mkdir(inputSortDir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "create %s", inputSortDir)
	}
	sortedInputPath, err := sortByYExternal(inputPath, inputSortDir, runLen, readOpts, writeOpts)
	if err != nil {
		return 0, errors.Wrap(err, "external sort input by y")
	}

	trainingSortDir := filepath.Join(tmpDir, "sort-training")
	if err := os.Mkdir(trainingSortDir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "create %s", trainingSortDir)
	}
	sortedTrainingPath, err := sortByYExternal(trainingPath, trainingSortDir, runLen, readOpts, writeOpts)
	if err != nil {
		return 0, errors.Wrap(err, "external sort training by y")
	}

	stripesDir := filepath.Join(tmpDir, "stripes")
	if err := os.Mkdir(stripesDir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "create %s", stripesDir)
	}

	var metas []stripeMeta
	if cfg.SplitByTraining {
		metas, err = buildStripesStreaming(sortedTrainingPath, sortedInputPath, stripesDir, numStripes, true, writeOpts)
	} else {
		metas, err = buildStripesStreaming(sortedInputPath, sortedTrainingPath, stripesDir, numStripes, false, writeOpts)
	}
	if err != nil {
		return 0, errors.Wrap(err, "build stripes")
	}

	if err := assembleStore(metas, storePath); err != nil {
		return 0, errors.Wrap(err, "assemble stripe store")
	}
	return len(metas), nil
}

// moveFile renames src to dst, falling back to a copy-then-remove when the
// two paths are on different filesystems (os.Rename's EXDEV case); the
// final sorted neighbor stream is produced inside a temp dir but handed to
// the caller at an arbitrary destination path.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s to %s", src, dst)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "close %s", dst)
	}
	return os.Remove(src)
}
