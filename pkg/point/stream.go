package point

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blainsmith/seahash"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// StreamReader yields one Point at a time from a dataset file, so a caller
// processing a set too large to fit in memory never has to materialize it
// as a Set. Used by the external scheduler's stripe-store builder, which
// must not hold the whole input or training set resident at once.
type StreamReader interface {
	// Next returns the next point, or ok=false once the stream is
	// exhausted (including trailer verification on a checksummed file).
	Next() (p Point, ok bool, err error)
	Close() error
}

// OpenStream opens path for streaming, dispatching on extension exactly as
// LoadBinary/LoadText do.
func OpenStream(path string, opts BinaryOptions) (StreamReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		return OpenBinaryStream(path, opts)
	}
	return OpenTextStream(path)
}

// CountRecords reports the number of records in a dataset file without
// loading them. Binary files carry their count in the first 8 bytes
// (O(1)); text files still require a single streaming pass to count lines,
// but never hold more than the current line in memory.
func CountRecords(path string, opts BinaryOptions) (uint64, error) {
	if strings.EqualFold(filepath.Ext(path), ".bin") && !opts.Compress {
		f, err := os.Open(path)
		if err != nil {
			return 0, errors.Wrapf(err, "open %s", path)
		}
		defer f.Close()
		var header [8]byte
		if _, err := io.ReadFull(f, header[:]); err != nil {
			return 0, errors.Wrapf(err, "read count from %s", path)
		}
		return binary.LittleEndian.Uint64(header[:]), nil
	}

	r, err := OpenStream(path, opts)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var n uint64
	for {
		_, ok, err := r.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

type binaryStreamReader struct {
	f        *os.File
	gz       *gzip.Reader
	br       *bufio.Reader
	hw       hash.Hash64
	path     string
	count    uint64
	read     uint64
	checksum bool
}

// OpenBinaryStream opens path for record-at-a-time binary reading.
func OpenBinaryStream(path string, opts BinaryOptions) (StreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	var r io.Reader = f
	var gz *gzip.Reader
	if opts.Compress {
		gz, err = gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "open gzip reader for %s", path)
		}
		r = gz
	}

	// As in LoadBinary, the hash is fed from the decoded record bytes in
	// Next rather than by teeing the reader under the bufio layer, which
	// would also absorb prefetched trailer bytes.
	var hw hash.Hash64
	if opts.Checksum {
		hw = seahash.New()
	}
	br := bufio.NewReaderSize(r, 1<<20)

	var cnt [8]byte
	if _, err := io.ReadFull(br, cnt[:]); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read count from %s", path)
	}
	if hw != nil {
		hw.Write(cnt[:])
	}
	count := binary.LittleEndian.Uint64(cnt[:])

	return &binaryStreamReader{f: f, gz: gz, br: br, hw: hw, path: path, count: count, checksum: opts.Checksum}, nil
}

func (r *binaryStreamReader) Next() (Point, bool, error) {
	if r.read >= r.count {
		if r.checksum {
			var stored uint64
			if err := binary.Read(r.br, binary.LittleEndian, &stored); err != nil {
				return Point{}, false, errors.Wrapf(err, "read checksum from %s", r.path)
			}
			if got := r.hw.Sum64(); got != stored {
				return Point{}, false, fmt.Errorf("%s: checksum mismatch: stored=%x computed=%x", r.path, stored, got)
			}
		}
		return Point{}, false, nil
	}

	var buf [recordSize]byte
	if _, err := io.ReadFull(r.br, buf[:]); err != nil {
		return Point{}, false, errors.Wrapf(err, "%s: read record %d", r.path, r.read)
	}
	if r.hw != nil {
		r.hw.Write(buf[:])
	}
	r.read++
	return Point{
		Id: binary.LittleEndian.Uint64(buf[0:8]),
		X:  math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
		Y:  math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24])),
	}, true, nil
}

func (r *binaryStreamReader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.f.Close()
}

type textStreamReader struct {
	f       *os.File
	scanner *bufio.Scanner
	path    string
	line    int
}

// OpenTextStream opens path for line-at-a-time text reading.
func OpenTextStream(path string) (StreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &textStreamReader{f: f, scanner: scanner, path: path}, nil
}

func (r *textStreamReader) Next() (Point, bool, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return Point{}, false, &ParseError{File: r.path, Line: r.line, Err: fmt.Errorf("expected 3 fields, got %d", len(fields))}
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return Point{}, false, &ParseError{File: r.path, Line: r.line, Err: errors.Wrap(err, "parsing id")}
		}
		x, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Point{}, false, &ParseError{File: r.path, Line: r.line, Err: errors.Wrap(err, "parsing x")}
		}
		y, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return Point{}, false, &ParseError{File: r.path, Line: r.line, Err: errors.Wrap(err, "parsing y")}
		}
		return Point{Id: id, X: x, Y: y}, true, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Point{}, false, errors.Wrapf(err, "reading %s", r.path)
	}
	return Point{}, false, nil
}

func (r *textStreamReader) Close() error { return r.f.Close() }

// BinaryStreamWriter writes the binary point-dataset format one record at a
// time. Unlike SaveBinary, it never holds the full Set in memory: callers
// that already know the final record count (an external merge knows its
// total upfront from the run sizes it is merging) can append one point at a
// time instead of assembling a Set first.
type BinaryStreamWriter struct {
	f        *os.File
	gz       *gzip.Writer
	bw       *bufio.Writer
	hw       hash.Hash64
	checksum bool
	tmpPath  string
	path     string
}

// CreateBinaryStream creates path for record-at-a-time binary writing. count
// must equal the number of Write calls that will follow.
func CreateBinaryStream(path string, count uint64, opts BinaryOptions) (*BinaryStreamWriter, error) {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", tmpPath)
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(f)
		w = gz
	}

	var hw hash.Hash64
	if opts.Checksum {
		hw = seahash.New()
	}
	bw := bufio.NewWriterSize(w, 1<<20)

	var cnt [8]byte
	binary.LittleEndian.PutUint64(cnt[:], count)
	if _, err := bw.Write(cnt[:]); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, errors.Wrapf(err, "write count to %s", tmpPath)
	}
	if hw != nil {
		hw.Write(cnt[:])
	}

	return &BinaryStreamWriter{f: f, gz: gz, bw: bw, hw: hw, checksum: opts.Checksum, tmpPath: tmpPath, path: path}, nil
}

// Write appends one record.
func (w *BinaryStreamWriter) Write(p Point) error {
	var buf [recordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], p.Id)
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(p.Y))
	if _, err := w.bw.Write(buf[:]); err != nil {
		return err
	}
	if w.hw != nil {
		w.hw.Write(buf[:])
	}
	return nil
}

// Close finalizes and atomically renames the file into place. It must be
// called exactly once; on error the temp file is removed.
func (w *BinaryStreamWriter) Close() error {
	if w.checksum {
		if err := binary.Write(w.bw, binary.LittleEndian, w.hw.Sum64()); err != nil {
			w.f.Close()
			os.Remove(w.tmpPath)
			return errors.Wrapf(err, "write checksum to %s", w.tmpPath)
		}
	}
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		os.Remove(w.tmpPath)
		return errors.Wrapf(err, "flush %s", w.tmpPath)
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.f.Close()
			os.Remove(w.tmpPath)
			return errors.Wrapf(err, "close gzip writer for %s", w.tmpPath)
		}
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpPath)
		return errors.Wrapf(err, "close %s", w.tmpPath)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return errors.Wrapf(err, "rename %s to %s", w.tmpPath, w.path)
	}
	return nil
}
