// Package wal implements the write-ahead log that makes ingest crash-safe.
//
// Every ingest is logged and synced before either the vector index or the
// metadata store is touched. An entry carries the complete mutation, so
// replay after a crash can finish a half-applied ingest without calling the
// embedder again. The log is checkpointed (truncated) after each successful
// snapshot of the paired stores.
//
// On-disk layout, little-endian:
//
//	header:  [magic "RAGWAL"][version:1][flags:1][codecNameLen:1][codecName]
//	entry:   [payloadLen:4][crc32:4][payload]
//
// flags bit 0 marks zstd-compressed payloads. The header makes the file
// self-describing: a log written with one codec or compression setting is
// readable regardless of the options the reopening process was given.
package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/raggo/codec"
)

var walMagic = []byte("RAGWAL")

const (
	walVersion     byte = 1
	flagCompressed byte = 1 << 0

	// frames larger than this are treated as corruption
	maxPayloadSize = 256 << 20
)

var (
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("wal: closed")
	// ErrCorruptHeader indicates the log file exists but its header is
	// unreadable. Callers recover by discarding the file.
	ErrCorruptHeader = errors.New("wal: corrupt header")
)

// WAL is an append-only mutation log backed by a single file.
// It is safe for concurrent use.
type WAL struct {
	mu        sync.Mutex
	file      *os.File
	opts      Options
	codec     codec.Codec
	compress  bool
	headerLen int64
	size      int64 // end offset of the last valid entry
	lastSeq   uint64
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	closed    bool
}

// New opens or creates the log at path. For an existing log the header
// determines codec and compression; the tail is scanned and a torn final
// entry is ignored, with subsequent appends overwriting it.
func New(path string, optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	w := &WAL{file: file, opts: opts, codec: opts.Codec, compress: opts.Compress}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
	} else {
		if err := w.readHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	if w.compress {
		w.enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("wal: create encoder: %w", err)
		}
	}
	w.dec, err = zstd.NewReader(nil)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: create decoder: %w", err)
	}

	// Scan to find the end of the valid entry sequence and the last
	// sequence number.
	w.size = w.headerLen
	if err := w.scan(func(e Entry) error {
		w.lastSeq = e.SeqNum
		return nil
	}); err != nil {
		_ = w.Close()
		return nil, err
	}

	return w, nil
}

func (w *WAL) writeHeader() error {
	name := w.codec.Name()
	header := make([]byte, 0, len(walMagic)+3+len(name))
	header = append(header, walMagic...)
	header = append(header, walVersion)
	var flags byte
	if w.compress {
		flags |= flagCompressed
	}
	header = append(header, flags, byte(len(name)))
	header = append(header, name...)

	if _, err := w.file.WriteAt(header, 0); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.headerLen = int64(len(header))
	return nil
}

func (w *WAL) readHeader() error {
	fixed := make([]byte, len(walMagic)+3)
	if _, err := io.ReadFull(io.NewSectionReader(w.file, 0, int64(len(fixed))), fixed); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	if string(fixed[:len(walMagic)]) != string(walMagic) {
		return fmt.Errorf("%w: bad magic", ErrCorruptHeader)
	}
	if fixed[len(walMagic)] != walVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, fixed[len(walMagic)])
	}
	flags := fixed[len(walMagic)+1]
	nameLen := int(fixed[len(walMagic)+2])

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(io.NewSectionReader(w.file, int64(len(fixed)), int64(nameLen)), nameBuf); err != nil {
		return fmt.Errorf("%w: short codec name: %v", ErrCorruptHeader, err)
	}

	c, ok := codec.ByName(string(nameBuf))
	if !ok {
		return fmt.Errorf("%w: unknown codec %q", ErrCorruptHeader, nameBuf)
	}

	w.codec = c
	w.compress = flags&flagCompressed != 0
	w.headerLen = int64(len(fixed) + nameLen)
	return nil
}

// scan walks valid entries from the start of the log, invoking fn for each,
// and leaves w.size at the end of the last valid frame. A torn or corrupt
// tail ends the scan without error.
func (w *WAL) scan(fn func(Entry) error) error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	fileSize := info.Size()

	offset := w.headerLen
	frame := make([]byte, 8)
	for {
		if offset+8 > fileSize {
			break
		}
		if _, err := w.file.ReadAt(frame, offset); err != nil {
			break
		}
		payloadLen := binary.LittleEndian.Uint32(frame[0:4])
		wantCRC := binary.LittleEndian.Uint32(frame[4:8])
		if payloadLen == 0 || payloadLen > maxPayloadSize {
			break
		}
		if offset+8+int64(payloadLen) > fileSize {
			break
		}

		payload := make([]byte, payloadLen)
		if _, err := w.file.ReadAt(payload, offset+8); err != nil {
			break
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break
		}

		entry, err := w.decodeEntry(payload)
		if err != nil {
			break
		}
		if err := fn(entry); err != nil {
			return err
		}
		offset += 8 + int64(payloadLen)
	}

	w.size = offset
	return nil
}

func (w *WAL) decodeEntry(payload []byte) (Entry, error) {
	var entry Entry
	if w.compress {
		raw, err := w.dec.DecodeAll(payload, nil)
		if err != nil {
			return Entry{}, err
		}
		payload = raw
	}
	if err := w.codec.Unmarshal(payload, &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Append assigns the next sequence number to e, writes it, and (unless
// disabled) syncs the file before returning. Once Append returns nil the
// mutation is durable.
func (w *WAL) Append(ctx context.Context, e *Entry) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}

	e.SeqNum = w.lastSeq + 1

	payload, err := w.codec.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("wal: marshal entry: %w", err)
	}
	if w.compress {
		payload = w.enc.EncodeAll(payload, nil)
	}

	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[8:], payload)

	if _, err := w.file.WriteAt(buf, w.size); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	if w.opts.SyncOnAppend {
		if err := w.file.Sync(); err != nil {
			return 0, fmt.Errorf("wal: sync: %w", err)
		}
	}

	w.size += int64(len(buf))
	w.lastSeq = e.SeqNum
	return e.SeqNum, nil
}

// Replay invokes fn for every valid entry in order. It stops cleanly at a
// torn tail; an error from fn aborts the replay.
func (w *WAL) Replay(ctx context.Context, fn func(Entry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	return w.scan(fn)
}

// Checkpoint discards all logged entries. It is called after the paired
// snapshot has been durably written, making the logged mutations redundant.
// Sequence numbers keep counting upward across checkpoints.
func (w *WAL) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if err := w.file.Truncate(w.headerLen); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.size = w.headerLen
	return nil
}

// LastSeq returns the sequence number of the most recent entry, or zero for
// an empty log.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// Close syncs and closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.enc != nil {
		_ = w.enc.Close()
	}
	if w.dec != nil {
		w.dec.Close()
	}

	var errs []error
	if err := w.file.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
