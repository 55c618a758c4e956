package persistence

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	require.NoError(t, SaveToFile(path, func(w io.Writer) error {
		_, err := w.Write([]byte("hello"))
		return err
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// Overwrite is atomic: the old content is fully replaced.
	require.NoError(t, SaveToFile(path, func(w io.Writer) error {
		_, err := w.Write([]byte("replaced"))
		return err
	}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)
}

func TestSaveToFileWriteError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	boom := errors.New("boom")

	err := SaveToFile(path, func(io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)

	// No target file and no leftover temp files.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func readAllInto(dst *string) func(io.Reader) error {
	return func(r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		*dst = string(data)
		return nil
	}
}

func TestPairSaveLoad(t *testing.T) {
	ctx := context.Background()
	p := NewPair(filepath.Join(t.TempDir(), "snapshots"))

	complete, partial, err := p.Exists()
	require.NoError(t, err)
	assert.False(t, complete)
	assert.False(t, partial)

	require.NoError(t, p.Save(ctx, writeString("index-bytes"), writeString(`{"a_0":{}}`)))

	complete, partial, err = p.Exists()
	require.NoError(t, err)
	assert.True(t, complete)
	assert.False(t, partial)

	var idx, meta string
	require.NoError(t, p.Load(ctx, readAllInto(&idx), readAllInto(&meta)))
	assert.Equal(t, "index-bytes", idx)
	assert.Equal(t, `{"a_0":{}}`, meta)
}

func TestPairLoadMissing(t *testing.T) {
	p := NewPair(t.TempDir())
	err := p.Load(context.Background(), readAllInto(new(string)), readAllInto(new(string)))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPairRefusesPartial(t *testing.T) {
	ctx := context.Background()
	p := NewPair(t.TempDir())

	require.NoError(t, p.Save(ctx, writeString("x"), writeString("{}")))
	require.NoError(t, os.Remove(p.MetadataPath()))

	complete, partial, err := p.Exists()
	require.NoError(t, err)
	assert.False(t, complete)
	assert.True(t, partial)

	err = p.Load(ctx, readAllInto(new(string)), readAllInto(new(string)))
	assert.ErrorIs(t, err, ErrPartialPair)
}

func TestPairSaveFailureLeavesOldPair(t *testing.T) {
	ctx := context.Background()
	p := NewPair(t.TempDir())
	require.NoError(t, p.Save(ctx, writeString("old-index"), writeString("old-meta")))

	boom := errors.New("boom")
	err := p.Save(ctx, writeString("new-index"), func(io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)

	var idx, meta string
	require.NoError(t, p.Load(ctx, readAllInto(&idx), readAllInto(&meta)))
	assert.Equal(t, "old-index", idx)
	assert.Equal(t, "old-meta", meta)
}

func TestPairRemove(t *testing.T) {
	ctx := context.Background()
	p := NewPair(t.TempDir())
	require.NoError(t, p.Save(ctx, writeString("x"), writeString("y")))

	require.NoError(t, p.Remove())
	complete, partial, err := p.Exists()
	require.NoError(t, err)
	assert.False(t, complete)
	assert.False(t, partial)

	// Removing an already-empty pair is fine.
	require.NoError(t, p.Remove())
}
