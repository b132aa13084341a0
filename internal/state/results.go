package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

// Results is the result catalog: filename to the raw metadata of the entry that
// produced it. Entries keep their insertion order on disk.
type Results struct {
	path string

	mu      sync.Mutex
	order   []string
	entries map[string]catalog.Fields
}

// OpenResults loads the result catalog at path, starting empty when missing.
func OpenResults(path string) (*Results, error) {
	r := &Results{path: path, entries: make(map[string]catalog.Fields)}
	var doc resultsDocument
	found, err := readJSON(path, &doc)
	if err != nil {
		return nil, fmt.Errorf("open result catalog: %w", err)
	}
	if found {
		r.order = doc.order
		r.entries = doc.entries
	}
	return r, nil
}

// Upsert stores meta under name unless an entry with that filename already
// exists. It reports whether the catalog changed.
func (r *Results) Upsert(name string, meta catalog.Fields) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return false, nil
	}
	r.entries[name] = meta.Clone()
	r.order = append(r.order, name)
	if err := r.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// Remove deletes the named entries and persists when anything was removed.
func (r *Results) Remove(names ...string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, name := range names {
		if _, ok := r.entries[name]; !ok {
			continue
		}
		delete(r.entries, name)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	kept := r.order[:0]
	for _, name := range r.order {
		if _, ok := r.entries[name]; ok {
			kept = append(kept, name)
		}
	}
	r.order = kept
	return removed, r.persistLocked()
}

// Get returns the metadata stored under name.
func (r *Results) Get(name string) (catalog.Fields, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.entries[name]
	return meta.Clone(), ok
}

// Len returns the number of catalogued artifacts.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Results) persistLocked() error {
	doc := resultsDocument{order: r.order, entries: r.entries}
	if err := writeJSON(r.path, doc); err != nil {
		return fmt.Errorf("persist result catalog: %w", err)
	}
	return nil
}

type resultsDocument struct {
	order   []string
	entries map[string]catalog.Fields
}

func (d resultsDocument) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range d.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(d.entries[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *resultsDocument) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("result catalog must be a JSON object, got %v", tok)
	}
	d.entries = make(map[string]catalog.Fields)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected key %v", keyTok)
		}
		var meta catalog.Fields
		if err := dec.Decode(&meta); err != nil {
			return fmt.Errorf("decode entry %q: %w", name, err)
		}
		if _, dup := d.entries[name]; !dup {
			d.order = append(d.order, name)
		}
		d.entries[name] = meta
	}
	_, err = dec.Token()
	return err
}
