// Package persistence provides atomic snapshot files for the retrieval
// engine's paired stores.
//
// The vector index and the chunk metadata must never diverge on disk: a crash
// between writing one and the other would leave index rows without metadata
// or metadata referencing missing rows. Pair therefore writes both snapshots
// to temp files first and renames them together, and refuses to load a
// partial pair.
package persistence

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrPartialPair is returned by Pair.Load when exactly one of the two
// snapshot files exists. Callers should treat the pair as corrupt.
var ErrPartialPair = errors.New("persistence: partial snapshot pair")

// SaveToFile writes a file atomically: content goes to a temp file in the
// same directory, is fsynced, then renamed over the target. On POSIX the
// rename is atomic, so readers never observe a half-written file.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}

// Pair couples the vector index snapshot and the metadata snapshot living
// side by side in one directory. All save/load operations treat the two
// files as a single unit.
type Pair struct {
	dir          string
	indexFile    string
	metadataFile string
}

// NewPair creates a Pair rooted at dir with the default file names
// ("index.bin" and "metadata.json").
func NewPair(dir string) Pair {
	return Pair{dir: dir, indexFile: "index.bin", metadataFile: "metadata.json"}
}

// IndexPath returns the path of the index snapshot file.
func (p Pair) IndexPath() string { return filepath.Join(p.dir, p.indexFile) }

// MetadataPath returns the path of the metadata snapshot file.
func (p Pair) MetadataPath() string { return filepath.Join(p.dir, p.metadataFile) }

// Exists reports whether the snapshot pair is present on disk.
// partial is true when exactly one of the two files exists.
func (p Pair) Exists() (complete, partial bool, err error) {
	idx, err := fileExists(p.IndexPath())
	if err != nil {
		return false, false, err
	}
	meta, err := fileExists(p.MetadataPath())
	if err != nil {
		return false, false, err
	}
	return idx && meta, idx != meta, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Save writes both snapshots as a unit: both go to temp files first, then
// both are renamed into place. Either both renames happen or neither does.
func (p Pair) Save(ctx context.Context, writeIndex, writeMetadata func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.dir, 0750); err != nil {
		return fmt.Errorf("persistence: create snapshot directory: %w", err)
	}

	type staged struct {
		temp   string
		target string
	}

	var temps []string
	defer func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}()

	var mappings []staged
	for _, f := range []struct {
		target    string
		writeFunc func(io.Writer) error
	}{
		{p.IndexPath(), writeIndex},
		{p.MetadataPath(), writeMetadata},
	} {
		tmp, err := os.CreateTemp(p.dir, filepath.Base(f.target)+".tmp-*")
		if err != nil {
			return fmt.Errorf("persistence: create temp for %s: %w", f.target, err)
		}
		temps = append(temps, tmp.Name())

		buf := bufio.NewWriterSize(tmp, 256*1024)
		if err := f.writeFunc(buf); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: write %s: %w", f.target, err)
		}
		if err := buf.Flush(); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: flush %s: %w", f.target, err)
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: sync %s: %w", f.target, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("persistence: close %s: %w", f.target, err)
		}

		mappings = append(mappings, staged{temp: tmp.Name(), target: f.target})
	}

	for _, m := range mappings {
		if err := os.Rename(m.temp, m.target); err != nil {
			return fmt.Errorf("persistence: rename %s: %w", m.target, err)
		}
	}
	temps = nil

	if d, err := os.Open(p.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}

// Load opens both snapshot files and hands them to the readers. It refuses
// to load a partial pair: if exactly one file exists, ErrPartialPair is
// returned so the caller can discard the state rather than violate the
// index/metadata invariant.
func (p Pair) Load(ctx context.Context, readIndex, readMetadata func(io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	complete, partial, err := p.Exists()
	if err != nil {
		return err
	}
	if partial {
		return ErrPartialPair
	}
	if !complete {
		return os.ErrNotExist
	}

	for _, f := range []struct {
		path     string
		readFunc func(io.Reader) error
	}{
		{p.IndexPath(), readIndex},
		{p.MetadataPath(), readMetadata},
	} {
		file, err := os.Open(f.path)
		if err != nil {
			return err
		}
		err = f.readFunc(bufio.NewReader(file))
		_ = file.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes both snapshot files. Used to discard corrupt state.
func (p Pair) Remove() error {
	var errs []error
	for _, path := range []string{p.IndexPath(), p.MetadataPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
