package elements

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// IndexEntry is one asteroid ("ast") or comet ("com") in the small-body index.
type IndexEntry struct {
	Type        string   `json:"type"`
	Number      string   `json:"number,omitempty"`
	Name        string   `json:"name,omitempty"`
	Principal   string   `json:"principal,omitempty"`
	Other       []string `json:"other,omitempty"`
	Designation string   `json:"designation,omitempty"`
	Packed      string   `json:"packed,omitempty"`
	H           *float64 `json:"h,omitempty"`
	G           *float64 `json:"g,omitempty"`
	Epoch       *float64 `json:"epoch,omitempty"`
	Orbit       string   `json:"orbit,omitempty"`
	NEO         *bool    `json:"neo,omitempty"`
}

// Designator returns the string best suited for an SBDB lookup.
func (e IndexEntry) Designator() string {
	switch {
	case e.Number != "":
		return e.Number
	case e.Principal != "":
		return e.Principal
	case e.Packed != "":
		return e.Packed
	}
	// Comet designations carry the name in parentheses: "1P/Halley (Halley)".
	des, _, _ := strings.Cut(e.Designation, " (")
	return strings.TrimSpace(des)
}

// IndexMetadata describes the index contents.
type IndexMetadata struct {
	AsteroidCount int    `json:"asteroidCount"`
	CometCount    int    `json:"cometCount"`
	Source        string `json:"source"`
}

// Index is a searchable catalog of small bodies.
type Index struct {
	Metadata IndexMetadata `json:"metadata"`
	Entries  []IndexEntry  `json:"entries"`
}

// LoadIndex reads an index file, gzipped or plain JSON.
func LoadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()
	return ReadIndex(f)
}

// ReadIndex decodes an index from r, detecting gzip by its magic bytes.
func ReadIndex(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip index: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var idx Index
	if err := json.NewDecoder(src).Decode(&idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return &idx, nil
}

// Search returns up to limit entries matching query, best matches first:
// exact designator or number, then name prefix, then substring.
func (idx *Index) Search(query string, limit int) []IndexEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil
	}

	type hit struct {
		score int
		pos   int
	}
	var hits []hit
	for i, e := range idx.Entries {
		if s, ok := matchScore(e, q); ok {
			hits = append(hits, hit{score: s, pos: i})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score < hits[b].score
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]IndexEntry, len(hits))
	for i, h := range hits {
		out[i] = idx.Entries[h.pos]
	}
	return out
}

func matchScore(e IndexEntry, q string) (int, bool) {
	keys := append([]string{e.Number, e.Principal, e.Packed, e.Designator()}, e.Other...)
	for _, k := range keys {
		if k != "" && strings.ToLower(k) == q {
			return 0, true
		}
	}

	name := strings.ToLower(e.Name)
	switch {
	case name == q:
		return 0, true
	case name != "" && strings.HasPrefix(name, q):
		return 1, true
	case name != "" && strings.Contains(name, q):
		return 2, true
	case strings.Contains(strings.ToLower(e.Designation), q):
		return 2, true
	}
	return 0, false
}
