package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UnknownIdentifier is the identifier used when a document's number could not
// be extracted.
const UnknownIdentifier = "unknown"

// ErrNotFound reports that no artifact with the requested name is held.
var ErrNotFound = errors.New("artifact not found")

// Artifact is one stored file.
type Artifact struct {
	Name string
	Path string
	Size int64
}

// Key is the identity of a document. Documents with an unknown identifier are
// distinguished by their whole filename instead.
type Key struct {
	Identifier string
	Language   string
	Name       string
}

// KeyFor builds the identity of a document.
func KeyFor(identifier, language, filename string) Key {
	identifier = strings.ToLower(identifier)
	language = strings.ToLower(language)
	if identifier == UnknownIdentifier {
		return Key{Identifier: identifier, Language: language, Name: filename}
	}
	return Key{Identifier: identifier, Language: language}
}

// ParseName splits a stored filename of the form date_identifier_language.ext.
func ParseName(name, ext string) (identifier, language string, ok bool) {
	suffix := "." + strings.ToLower(ext)
	if !strings.HasSuffix(strings.ToLower(name), suffix) {
		return "", "", false
	}
	stem := name[:len(name)-len(suffix)]
	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return "", "", false
	}
	identifier = strings.Join(parts[1:len(parts)-1], "_")
	language = parts[len(parts)-1]
	if identifier == "" || language == "" {
		return "", "", false
	}
	return identifier, language, true
}

// Index maps document identities to the artifacts held for them.
type Index struct {
	ext   string
	byKey map[Key][]Artifact
	keyOf map[string]Key
}

// NewIndex returns an empty index for files with extension ext.
func NewIndex(ext string) *Index {
	return &Index{
		ext:   strings.TrimPrefix(strings.ToLower(ext), "."),
		byKey: make(map[Key][]Artifact),
		keyOf: make(map[string]Key),
	}
}

// Scan builds an index from the regular files in dir. Files that do not follow
// the naming scheme are ignored.
func Scan(dir, ext string) (*Index, error) {
	idx := NewIndex(ext)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan artifact directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		idx.Put(Artifact{Name: entry.Name(), Path: filepath.Join(dir, entry.Name()), Size: info.Size()})
	}
	return idx, nil
}

// Put adds or replaces the artifact with the same name. It reports false for
// names outside the naming scheme.
func (idx *Index) Put(a Artifact) bool {
	identifier, language, ok := ParseName(a.Name, idx.ext)
	if !ok {
		return false
	}
	idx.Delete(a.Name)
	key := KeyFor(identifier, language, a.Name)
	idx.byKey[key] = append(idx.byKey[key], a)
	idx.keyOf[a.Name] = key
	return true
}

// Delete drops the artifact with the given name.
func (idx *Index) Delete(name string) {
	key, ok := idx.keyOf[name]
	if !ok {
		return
	}
	delete(idx.keyOf, name)
	held := idx.byKey[key]
	kept := held[:0]
	for _, a := range held {
		if a.Name != name {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(idx.byKey, key)
		return
	}
	idx.byKey[key] = kept
}

// Lookup returns the largest artifact held for key.
func (idx *Index) Lookup(key Key) (Artifact, bool) {
	var best Artifact
	found := false
	for _, a := range idx.byKey[key] {
		if !found || a.Size > best.Size {
			best = a
			found = true
		}
	}
	return best, found
}

// Matches returns every artifact held for key.
func (idx *Index) Matches(key Key) []Artifact {
	held := idx.byKey[key]
	out := make([]Artifact, len(held))
	copy(out, held)
	return out
}

// Len returns the number of indexed artifacts.
func (idx *Index) Len() int {
	return len(idx.keyOf)
}
