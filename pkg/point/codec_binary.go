package point

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"math"
	"os"

	"github.com/blainsmith/seahash"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Binary point-dataset format: an 8-byte unsigned count n, then n packed
// records of (u64 id, f64 x, f64 y), pinned to little-endian so the file is
// portable across machines regardless of host byte order. This is the
// complete on-disk layout; LoadBinary reads exactly that by default, so
// files written by other producers of the format load without modification.
//
// An optional trailing 8-byte seahash checksum can be requested via
// BinaryOptions.Checksum. It is opt-in and off by default because it is not
// part of the literal format: a reader expecting it would fail on every
// third-party file, and a writer emitting it unconditionally would produce
// files only this codec could read back.
const recordSize = 8 + 8 + 8 // id, x, y

// BinaryOptions controls optional codec behavior.
type BinaryOptions struct {
	// Compress gzip-wraps the file (via klauspost/compress, a drop-in for
	// compress/gzip) for the out-of-core path where I/O volume dominates.
	Compress bool

	// Checksum adds (on save) or requires (on load) a trailing seahash
	// checksum beyond the literal format's count+records layout. Off by
	// default.
	Checksum bool
}

// LoadBinary reads the binary point-dataset format.
func LoadBinary(path string, opts BinaryOptions) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if opts.Compress {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "open gzip reader for %s", path)
		}
		defer gz.Close()
		r = gz
	}

	// The checksum covers the uncompressed count header and record bytes.
	// The hash is fed explicitly from the decoded buffers rather than by
	// teeing the reader: a tee below the bufio layer would also absorb
	// whatever the buffer prefetches, including the trailer itself.
	var hw hash.Hash64
	if opts.Checksum {
		hw = seahash.New()
	}
	br := bufio.NewReaderSize(r, 1<<20)

	var cnt [8]byte
	if _, err := io.ReadFull(br, cnt[:]); err != nil {
		return nil, errors.Wrapf(err, "read count from %s", path)
	}
	if hw != nil {
		hw.Write(cnt[:])
	}
	count := binary.LittleEndian.Uint64(cnt[:])

	out := make(Set, 0, count)
	buf := make([]byte, recordSize)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, errors.Wrapf(err, "%s: read record %d", path, i)
		}
		if hw != nil {
			hw.Write(buf)
		}
		out = append(out, Point{
			Id: binary.LittleEndian.Uint64(buf[0:8]),
			X:  math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
			Y:  math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24])),
		})
	}

	if opts.Checksum {
		var stored uint64
		if err := binary.Read(br, binary.LittleEndian, &stored); err != nil {
			return nil, errors.Wrapf(err, "read checksum from %s", path)
		}
		if got := hw.Sum64(); got != stored {
			return nil, fmt.Errorf("%s: checksum mismatch: stored=%x computed=%x", path, stored, got)
		}
	}

	return out, nil
}

// SaveBinary writes s in the binary point-dataset format.
func SaveBinary(path string, s Set, opts BinaryOptions) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmpPath)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	var w io.Writer = f
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(f)
		w = gz
	}

	// Mirror of LoadBinary: the hash is fed explicitly from the encoded
	// buffers, not plumbed under the bufio layer, so Sum64 reflects every
	// record regardless of what is still buffered.
	var hw hash.Hash64
	if opts.Checksum {
		hw = seahash.New()
	}
	bw := bufio.NewWriterSize(w, 1<<20)

	var cnt [8]byte
	binary.LittleEndian.PutUint64(cnt[:], uint64(len(s)))
	if _, err := bw.Write(cnt[:]); err != nil {
		return errors.Wrapf(err, "write count to %s", tmpPath)
	}
	if hw != nil {
		hw.Write(cnt[:])
	}

	buf := make([]byte, recordSize)
	for _, p := range s {
		binary.LittleEndian.PutUint64(buf[0:8], p.Id)
		binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(p.Y))
		if _, err := bw.Write(buf); err != nil {
			return errors.Wrapf(err, "write record to %s", tmpPath)
		}
		if hw != nil {
			hw.Write(buf)
		}
	}

	if opts.Checksum {
		if err := binary.Write(bw, binary.LittleEndian, hw.Sum64()); err != nil {
			return errors.Wrapf(err, "write checksum to %s", tmpPath)
		}
	}

	if err := bw.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", tmpPath)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.Wrapf(err, "close gzip writer for %s", tmpPath)
		}
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "rename %s to %s", tmpPath, path)
	}
	return nil
}
