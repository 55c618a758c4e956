package flat

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// Snapshot format, little-endian:
//
//	[magic:4][version:2][reserved:2][dimension:4][count:4][count*dimension float32][crc32:4]
//
// The CRC covers the header and the vector payload.
const (
	snapshotMagic   uint32 = 0x52474649 // "RGFI"
	snapshotVersion uint16 = 1
)

// ErrCorruptSnapshot indicates that a persisted index file is unreadable or
// malformed. Callers recover by discarding the state and starting empty.
var ErrCorruptSnapshot = errors.New("flat: corrupt snapshot")

// Save serializes the full vector set to w.
func (f *Flat) Save(ctx context.Context, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st := f.state.Load()

	h := crc32.NewIEEE()
	mw := io.MultiWriter(w, h)

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], snapshotMagic)
	binary.LittleEndian.PutUint16(header[4:6], snapshotVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(f.opts.Dimension))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(st.vectors)))
	if _, err := mw.Write(header); err != nil {
		return err
	}

	buf := make([]byte, 4*f.opts.Dimension)
	for _, vec := range st.vectors {
		for i, x := range vec {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
		}
		if _, err := mw.Write(buf); err != nil {
			return err
		}
	}

	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], h.Sum32())
	_, err := w.Write(sum[:])
	return err
}

// Load replaces the index contents with the snapshot read from r. The
// configured dimension must match the snapshot's. Malformed input is reported
// as ErrCorruptSnapshot and leaves the index unchanged.
func (f *Flat) Load(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h := crc32.NewIEEE()
	tr := io.TeeReader(r, h)

	header := make([]byte, 16)
	if _, err := io.ReadFull(tr, header); err != nil {
		return fmt.Errorf("%w: short header: %w", ErrCorruptSnapshot, err)
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != snapshotMagic {
		return fmt.Errorf("%w: bad magic 0x%08x", ErrCorruptSnapshot, magic)
	}
	if version := binary.LittleEndian.Uint16(header[4:6]); version != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, version)
	}
	dim := int(binary.LittleEndian.Uint32(header[8:12]))
	count := int(binary.LittleEndian.Uint32(header[12:16]))
	if dim != f.opts.Dimension {
		return fmt.Errorf("%w: dimension %d does not match configured %d", ErrCorruptSnapshot, dim, f.opts.Dimension)
	}

	vectors := make([][]float32, 0, count)
	buf := make([]byte, 4*dim)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(tr, buf); err != nil {
			return fmt.Errorf("%w: short vector payload at row %d: %w", ErrCorruptSnapshot, i, err)
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		vectors = append(vectors, vec)
	}

	want := h.Sum32()
	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return fmt.Errorf("%w: missing checksum: %w", ErrCorruptSnapshot, err)
	}
	if got := binary.LittleEndian.Uint32(sum[:]); got != want {
		return fmt.Errorf("%w: checksum mismatch: got 0x%08x, want 0x%08x", ErrCorruptSnapshot, got, want)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.state.Store(&indexState{vectors: vectors})
	return nil
}
