// Package external implements the out-of-core variant of the
// planesweep-stripes algorithm: the training (and input) sets are split
// into stripes on disk, and a bounded window of stripes is held in memory
// at a time.
package external

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/thcristo/planesweep-knn/pkg/point"
	"github.com/thcristo/planesweep-knn/pkg/stripe"
)

// Stripe-store file layout: magic + version header, bounds table, offset
// table, then the per-stripe point payload.
const (
	storeMagic   = "AKNNSTRP"
	storeVersion = uint32(1)
)

type stripeOffset struct {
	inputOffset, inputCount       uint64
	trainingOffset, trainingCount uint64
}

// Store is a random-access, on-disk representation of a stripe.Data. Unlike
// pkg/point's binary codec, it is never gzip-wrapped: the windowed
// scheduler seeks to arbitrary stripes in both ascending and descending
// passes, which a compressed stream can't support without decompressing
// from the start every time.
type Store struct {
	f          *os.File
	bounds     []stripe.Bounds
	offsets    []stripeOffset
	payloadOff int64
}

// WriteStore serializes data to path in stripe-store format.
func WriteStore(path string, data stripe.Data) error {
	tmpPath := path + ".tmp"
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
	binary.LittleEndian.PutUint64(header[12:20], uint64(len(data.Stripes)))
	if _, err := f.Write(header[:]); err != nil {
		return errors.Wrapf(err, "write header to %s", tmpPath)
	}

	for _, s := range data.Stripes {
		var b [16]byte
		binary.LittleEndian.PutUint64(b[0:8], math.Float64bits(s.Bounds.MinY))
		binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(s.Bounds.MaxY))
		if _, err := f.Write(b[:]); err != nil {
			return errors.Wrapf(err, "write bounds to %s", tmpPath)
		}
	}

	offsetTablePos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.Wrapf(err, "seek in %s", tmpPath)
	}
	offsetTableSize := int64(len(data.Stripes)) * 32
	if _, err := f.Seek(offsetTableSize, io.SeekCurrent); err != nil {
		return errors.Wrapf(err, "seek past offset table in %s", tmpPath)
	}

	offsets := make([]stripeOffset, len(data.Stripes))
	cursor := int64(0)
	for i, s := range data.Stripes {
		inputOff := cursor
		n, err := writeRecords(f, s.Input)
		if err != nil {
			return errors.Wrapf(err, "write stripe %d input to %s", i, tmpPath)
		}
		cursor += n

		trainingOff := cursor
		n, err = writeRecords(f, s.Training)
		if err != nil {
			return errors.Wrapf(err, "write stripe %d training to %s", i, tmpPath)
		}
		cursor += n

		offsets[i] = stripeOffset{
			inputOffset: uint64(inputOff), inputCount: uint64(len(s.Input)),
			trainingOffset: uint64(trainingOff), trainingCount: uint64(len(s.Training)),
		}
	}

	if _, err := f.Seek(offsetTablePos, io.SeekStart); err != nil {
		return errors.Wrapf(err, "seek back to offset table in %s", tmpPath)
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

	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "rename %s to %s", tmpPath, path)
	}
	return nil
}

func writeRecords(f *os.File, s point.Set) (int64, error) {
	buf := make([]byte, 24)
	for _, p := range s {
		binary.LittleEndian.PutUint64(buf[0:8], p.Id)
		binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(p.Y))
		if _, err := f.Write(buf); err != nil {
			return 0, err
		}
	}
	return int64(len(s)) * 24, nil
}

// OpenStore opens a stripe store for random-access reading, loading only
// its (small, O(numStripes)) bounds and offset tables into memory.
func OpenStore(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	var header [8 + 4 + 8]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read header from %s", path)
	}
	if string(header[0:8]) != storeMagic {
		f.Close()
		return nil, errors.Errorf("%s: bad stripe store magic", path)
	}
	numStripes := int(binary.LittleEndian.Uint64(header[12:20]))

	boundsBuf := make([]byte, numStripes*16)
	if _, err := f.ReadAt(boundsBuf, int64(len(header))); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read bounds table from %s", path)
	}
	bounds := make([]stripe.Bounds, numStripes)
	for i := range bounds {
		b := boundsBuf[i*16 : i*16+16]
		bounds[i] = stripe.Bounds{
			MinY: math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
			MaxY: math.Float64frombits(binary.LittleEndian.Uint64(b[8:16])),
		}
	}

	offsetTablePos := int64(len(header)) + int64(numStripes)*16
	offsetBuf := make([]byte, numStripes*32)
	if _, err := f.ReadAt(offsetBuf, offsetTablePos); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read offset table from %s", path)
	}
	offsets := make([]stripeOffset, numStripes)
	for i := range offsets {
		b := offsetBuf[i*32 : i*32+32]
		offsets[i] = stripeOffset{
			inputOffset:    binary.LittleEndian.Uint64(b[0:8]),
			inputCount:     binary.LittleEndian.Uint64(b[8:16]),
			trainingOffset: binary.LittleEndian.Uint64(b[16:24]),
			trainingCount:  binary.LittleEndian.Uint64(b[24:32]),
		}
	}

	payloadOff := offsetTablePos + int64(numStripes)*32

	return &Store{f: f, bounds: bounds, offsets: offsets, payloadOff: payloadOff}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error { return s.f.Close() }

// NumStripes returns the stripe count recorded in the store.
func (s *Store) NumStripes() int { return len(s.bounds) }

// Bounds returns stripe i's y-range.
func (s *Store) Bounds(i int) stripe.Bounds { return s.bounds[i] }

// LoadStripe reads stripe i's input and training points from disk.
func (s *Store) LoadStripe(i int) (stripe.Stripe, error) {
	o := s.offsets[i]
	input, err := s.readRecords(s.payloadOff+int64(o.inputOffset), o.inputCount)
	if err != nil {
		return stripe.Stripe{}, errors.Wrapf(err, "read stripe %d input", i)
	}
	training, err := s.readRecords(s.payloadOff+int64(o.trainingOffset), o.trainingCount)
	if err != nil {
		return stripe.Stripe{}, errors.Wrapf(err, "read stripe %d training", i)
	}
	return stripe.Stripe{Input: input, Training: training, Bounds: s.bounds[i]}, nil
}

// EstimatedBytes returns the approximate in-memory footprint of stripe i's
// points, used by the window loader's memory-budget estimate.
func (s *Store) EstimatedBytes(i int) uint64 {
	return (s.offsets[i].inputCount + s.offsets[i].trainingCount) * pointSize
}

func (s *Store) readRecords(offset int64, count uint64) (point.Set, error) {
	if count == 0 {
		return nil, nil
	}
	buf := make([]byte, count*24)
	if _, err := s.f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	out := make(point.Set, count)
	for i := range out {
		b := buf[i*24 : i*24+24]
		out[i] = point.Point{
			Id: binary.LittleEndian.Uint64(b[0:8]),
			X:  math.Float64frombits(binary.LittleEndian.Uint64(b[8:16])),
			Y:  math.Float64frombits(binary.LittleEndian.Uint64(b[16:24])),
		}
	}
	return out, nil
}
