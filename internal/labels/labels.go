// Package labels resolves class indices to human-readable ImageNet labels.
package labels

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

// Class is one row of the class-index table.
type Class struct {
	Synset string `json:"synset"`
	Label  string `json:"label"`
}

// Table is an immutable index -> class mapping. Safe for concurrent use.
type Table struct {
	classes []Class
}

// LoadFile reads a class-index JSON file such as imagenet_class_index.json.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewStartupError("failed to open label table", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses {"0": ["n01440764", "tench"], ...}. Keys must cover 0..N-1 exactly.
func Load(r io.Reader) (*Table, error) {
	var raw map[string][]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, apperrors.NewStartupError("failed to parse label table", err)
	}
	if len(raw) == 0 {
		return nil, apperrors.NewStartupError("label table is empty", nil)
	}

	classes := make([]Class, len(raw))
	seen := make([]bool, len(raw))
	for key, entry := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(raw) {
			return nil, apperrors.NewStartupError(fmt.Sprintf("label table key %q is not an index in [0,%d)", key, len(raw)), err)
		}
		if seen[idx] {
			return nil, apperrors.NewStartupError(fmt.Sprintf("label table index %d is duplicated", idx), nil)
		}
		if len(entry) != 2 {
			return nil, apperrors.NewStartupError(fmt.Sprintf("label table entry %q must be [synset, label], got %d fields", key, len(entry)), nil)
		}
		seen[idx] = true
		classes[idx] = Class{Synset: entry[0], Label: entry[1]}
	}
	return &Table{classes: classes}, nil
}

// New builds a table from labels in index order. Intended for tests and
// small custom vocabularies.
func New(labels ...string) *Table {
	classes := make([]Class, len(labels))
	for i, l := range labels {
		classes[i] = Class{Label: l}
	}
	return &Table{classes: classes}
}

// Len is the number of classes.
func (t *Table) Len() int {
	return len(t.classes)
}

// Lookup returns the full class entry for index.
func (t *Table) Lookup(index int) (Class, error) {
	if index < 0 || index >= len(t.classes) {
		return Class{}, apperrors.NewLabelLookupError(fmt.Sprintf("class index %d outside label table [0,%d)", index, len(t.classes)), nil)
	}
	return t.classes[index], nil
}

// LabelOf returns the human-readable label for index.
func (t *Table) LabelOf(index int) (string, error) {
	c, err := t.Lookup(index)
	if err != nil {
		return "", err
	}
	return c.Label, nil
}
