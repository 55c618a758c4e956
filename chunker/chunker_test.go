package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	t.Run("SingleWindow", func(t *testing.T) {
		// 60 < 512, so one window covers the whole text; length >= 50 keeps it.
		chunks := Chunk(strings.Repeat("A", 60))
		require.Len(t, chunks, 1)
		assert.Equal(t, strings.Repeat("A", 60), chunks[0])
	})

	t.Run("TooShort", func(t *testing.T) {
		assert.Empty(t, Chunk(strings.Repeat("A", 49)))
		assert.Empty(t, Chunk(""))
	})

	t.Run("Overlap", func(t *testing.T) {
		text := strings.Repeat("x", 250)
		chunks := Chunk(text, func(o *Options) {
			o.ChunkSize = 100
			o.Overlap = 20
			o.MinLength = 50
		})
		// Windows start at 0, 80, 160, 240; the last is 10 long and dropped.
		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], 100)
		assert.Len(t, chunks[1], 100)
		assert.Len(t, chunks[2], 90)
	})

	t.Run("TrailingFragmentDropped", func(t *testing.T) {
		text := strings.Repeat("y", 120)
		chunks := Chunk(text, func(o *Options) {
			o.ChunkSize = 100
			o.Overlap = 50
			o.MinLength = 50
		})
		// Windows at 0 (len 100), 50 (len 70), 100 (len 20, dropped).
		require.Len(t, chunks, 2)
		assert.Len(t, chunks[1], 70)
	})

	t.Run("Deterministic", func(t *testing.T) {
		text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
		a := Chunk(text)
		b := Chunk(text)
		assert.Equal(t, a, b)
	})

	t.Run("MultiByteRunes", func(t *testing.T) {
		text := strings.Repeat("あ", 60)
		chunks := Chunk(text)
		require.Len(t, chunks, 1)
		// Windowing counts code points, not bytes.
		assert.Equal(t, 60, len([]rune(chunks[0])))
	})

	t.Run("InvalidOptions", func(t *testing.T) {
		chunks := Chunk(strings.Repeat("A", 100), func(o *Options) {
			o.Overlap = o.ChunkSize
		})
		assert.Empty(t, chunks)
	})
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions.Validate())
	assert.Error(t, Options{ChunkSize: 0, Overlap: 0, MinLength: 0}.Validate())
	assert.Error(t, Options{ChunkSize: 100, Overlap: 100, MinLength: 0}.Validate())
	assert.Error(t, Options{ChunkSize: 100, Overlap: 10, MinLength: -1}.Validate())
}
