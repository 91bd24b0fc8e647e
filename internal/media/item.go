package media

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Item is one classified input. Values are never mutated after Ingest.
type Item struct {
	ID          int
	DisplayName string
	SourcePath  string
	Category    Category
	// DerivedFrom holds the original source path when this item was produced
	// by an earlier phase. Empty for ingested items.
	DerivedFrom string
}

// Ingest classifies paths in order, assigning IDs starting at 1.
func Ingest(paths []string) []Item {
	items := make([]Item, 0, len(paths))
	for i, path := range paths {
		items = append(items, NewItem(i+1, path))
	}
	return items
}

// NewItem builds a classified item for path.
func NewItem(id int, path string) Item {
	path = strings.TrimSpace(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return Item{
		ID:          id,
		DisplayName: displayName(abs),
		SourcePath:  abs,
		Category:    Classify(abs),
	}
}

// Derive returns a new item for an intermediate file produced from i. The ID
// and display name are preserved; the category is re-derived from path.
func (i Item) Derive(path string) Item {
	origin := i.DerivedFrom
	if origin == "" {
		origin = i.SourcePath
	}
	return Item{
		ID:          i.ID,
		DisplayName: i.DisplayName,
		SourcePath:  path,
		Category:    Classify(path),
		DerivedFrom: origin,
	}
}

// Stem returns the base name of the source without its extension.
func (i Item) Stem() string {
	base := filepath.Base(i.SourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OriginPath returns the path the user supplied for this item.
func (i Item) OriginPath() string {
	if i.DerivedFrom != "" {
		return i.DerivedFrom
	}
	return i.SourcePath
}

// displayName normalizes to NFC so names decomposed by the file system
// (macOS NFD) render and sort like the user typed them.
func displayName(path string) string {
	return norm.NFC.String(filepath.Base(path))
}
