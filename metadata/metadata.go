// Package metadata provides the chunk metadata store: an ordered mapping from
// stable chunk identifiers to chunk attributes and the row offset each chunk
// occupies in the vector index.
//
// Alongside the primary map the store maintains a row-offset secondary index
// for constant-time joins at query time, and Roaring-bitmap inverted indexes
// over filename and language for filtered retrieval. Only the primary map is
// persisted; secondary structures are rebuilt on load.
package metadata

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/raggo/codec"
)

// Entry holds the attributes of one ingested chunk.
type Entry struct {
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Language   string `json:"language"`
	Row        uint32 `json:"row_offset"`
}

// DocumentID derives the stable identifier for a chunk from its filename and
// position. The filename extension is stripped so the identifier stays stable
// regardless of the source file type; uniqueness per chunk comes from the
// position suffix.
func DocumentID(filename string, chunkIndex int) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return stem + "_" + strconv.Itoa(chunkIndex)
}

// DocumentInfo is a per-filename aggregate over the store.
type DocumentInfo struct {
	Filename   string `json:"filename"`
	Language   string `json:"language"`
	ChunkCount int    `json:"chunk_count"`
}

// Store maps stable chunk identifiers to entries.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	codec   codec.Codec
	entries map[string]Entry
	byRow   map[uint32]string
	byFile  map[string]*roaring.Bitmap
	byLang  map[string]*roaring.Bitmap
}

// New creates an empty store. If c is nil, codec.Default is used for
// serialization.
func New(c codec.Codec) *Store {
	if c == nil {
		c = codec.Default
	}
	s := &Store{codec: c}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.entries = make(map[string]Entry)
	s.byRow = make(map[uint32]string)
	s.byFile = make(map[string]*roaring.Bitmap)
	s.byLang = make(map[string]*roaring.Bitmap)
}

func (s *Store) link(id string, e Entry) {
	s.entries[id] = e
	s.byRow[e.Row] = id

	fb, ok := s.byFile[e.Filename]
	if !ok {
		fb = roaring.New()
		s.byFile[e.Filename] = fb
	}
	fb.Add(e.Row)

	lb, ok := s.byLang[e.Language]
	if !ok {
		lb = roaring.New()
		s.byLang[e.Language] = lb
	}
	lb.Add(e.Row)
}

func (s *Store) unlink(id string, e Entry) {
	delete(s.entries, id)
	if s.byRow[e.Row] == id {
		delete(s.byRow, e.Row)
	}
	if fb, ok := s.byFile[e.Filename]; ok {
		fb.Remove(e.Row)
		if fb.IsEmpty() {
			delete(s.byFile, e.Filename)
		}
	}
	if lb, ok := s.byLang[e.Language]; ok {
		lb.Remove(e.Row)
		if lb.IsEmpty() {
			delete(s.byLang, e.Language)
		}
	}
}

// Put inserts or overwrites the entry for id, keeping all secondary indexes
// in sync. Overwriting (re-ingesting the same filename) replaces the prior
// entry by identity; the prior row offset becomes unreferenced.
func (s *Store) Put(id string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[id]; ok {
		s.unlink(id, old)
	}
	s.link(id, e)
}

// Get returns the entry for id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// GetByRow returns the entry occupying the given index row offset, together
// with its identifier.
func (s *Store) GetByRow(row uint32) (string, Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRow[row]
	if !ok {
		return "", Entry{}, false
	}
	return id, s.entries[id], true
}

// Count returns the number of entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// MaxRow returns the highest row offset referenced by any entry.
// ok is false for an empty store.
func (s *Store) MaxRow() (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max uint32
	found := false
	for row := range s.byRow {
		if !found || row > max {
			max = row
			found = true
		}
	}
	return max, found
}

// FilterRows returns a bitmap of the row offsets matching the given filename
// and/or language, intersecting the two when both are set. It returns nil
// when no filter is requested; an empty bitmap means the filter matched
// nothing. The returned bitmap is a copy and safe to use after further Puts.
func (s *Store) FilterRows(filename, language string) *roaring.Bitmap {
	if filename == "" && language == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := roaring.New()
	switch {
	case filename != "" && language != "":
		if fb, ok := s.byFile[filename]; ok {
			result.Or(fb)
		}
		if lb, ok := s.byLang[language]; ok {
			result.And(lb)
		} else {
			result.Clear()
		}
	case filename != "":
		if fb, ok := s.byFile[filename]; ok {
			result.Or(fb)
		}
	default:
		if lb, ok := s.byLang[language]; ok {
			result.Or(lb)
		}
	}
	return result
}

// DropOutOfRange removes every entry whose row offset is at or beyond count
// and returns the removed identifiers. It is used by the startup repair pass
// after the vector index has been loaded.
func (s *Store) DropOutOfRange(count uint32) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	for id, e := range s.entries {
		if e.Row >= count {
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		s.unlink(id, s.entries[id])
	}
	sort.Strings(dropped)
	return dropped
}

// Documents returns a per-filename aggregate, sorted by filename. The
// language reported is the one carried by the filename's first chunk.
func (s *Store) Documents() []DocumentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byFile := make(map[string]*DocumentInfo)
	for _, e := range s.entries {
		info, ok := byFile[e.Filename]
		if !ok {
			info = &DocumentInfo{Filename: e.Filename, Language: e.Language}
			byFile[e.Filename] = info
		}
		info.ChunkCount++
		if e.ChunkIndex == 0 {
			info.Language = e.Language
		}
	}

	docs := make([]DocumentInfo, 0, len(byFile))
	for _, info := range byFile {
		docs = append(docs, *info)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs
}

// Save serializes the primary map to w as a single codec document keyed by
// identifier, mirroring the on-disk metadata layout.
func (s *Store) Save(ctx context.Context, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	data, err := s.codec.Marshal(s.entries)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("metadata: marshal failed: %w", err)
	}

	_, err = w.Write(data)
	return err
}

// Load replaces the store contents with the document read from r and rebuilds
// the secondary indexes. An empty input yields an empty store.
func (s *Store) Load(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("metadata: read failed: %w", err)
	}

	entries := make(map[string]Entry)
	if len(data) > 0 {
		if err := s.codec.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("metadata: unmarshal failed: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	for id, e := range entries {
		s.link(id, e)
	}
	return nil
}
