// Package manifest tracks previously downloaded files for idempotent reruns.
//
// The manifest is a flat JSON array persisted next to the raw data tree. It
// is read once at the start of a run, pruned of entries whose files are gone,
// and rewritten after every successful download so a crash loses at most the
// in-flight file.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Entry records one previously downloaded source URL.
// Invariant: at most one entry per URL (Upsert keys on URL).
type Entry struct {
	URL               string `json:"url"`
	FilePath          string `json:"file_path"`
	ByteSize          int64  `json:"byte_size"`
	SHA256Hash        string `json:"sha256_hash"`
	DownloadTimestamp string `json:"download_timestamp"`
	HTTPStatus        int    `json:"http_status"`
}

// Manifest is file-backed mutable download state. It is not safe for
// concurrent use; the pipeline is single-threaded by design.
type Manifest struct {
	path    string
	entries []Entry
}

// Load reads the manifest at path, returning an empty manifest if the file
// does not exist.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{path: path}, nil
		}

		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	return &Manifest{path: path, entries: entries}, nil
}

// Path returns the on-disk location the manifest saves to.
func (m *Manifest) Path() string { return m.path }

// Entries returns a copy of the current entries in order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)

	return out
}

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Find returns the entry for url, if any.
func (m *Manifest) Find(url string) (Entry, bool) {
	for _, e := range m.entries {
		if e.URL == url {
			return e, true
		}
	}

	return Entry{}, false
}

// ShouldSkip reports whether a download for url can be skipped: an entry
// exists, its file exists, and the file's current size matches the recorded
// size. Content hashes are deliberately not re-verified here; a file replaced
// with different bytes of identical length is skipped. Size-only checking
// keeps rerun startup cheap on multi-hundred-MB raw trees.
func (m *Manifest) ShouldSkip(url string) bool {
	entry, ok := m.Find(url)
	if !ok {
		return false
	}

	info, err := os.Stat(entry.FilePath)
	if err != nil {
		return false
	}

	return info.Size() == entry.ByteSize
}

// Upsert inserts or replaces the entry with the same URL. A replaced entry
// moves to the end, matching append-on-rewrite semantics.
func (m *Manifest) Upsert(entry Entry) {
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.URL != entry.URL {
			kept = append(kept, e)
		}
	}

	m.entries = append(kept, entry)
}

// Prune removes entries whose file no longer exists on disk, preserving the
// relative order of survivors, and returns the number removed.
func (m *Manifest) Prune() int {
	kept := m.entries[:0]
	for _, e := range m.entries {
		if _, err := os.Stat(e.FilePath); err == nil {
			kept = append(kept, e)
		}
	}

	removed := len(m.entries) - len(kept)
	m.entries = kept

	return removed
}

// Save writes the manifest atomically: marshal to a temp file in the same
// directory, then rename over the target. A crash mid-save never leaves a
// truncated manifest behind.
func (m *Manifest) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	entries := m.entries
	if entries == nil {
		entries = []Entry{}
	}

	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write manifest temp file: %w", err)
	}

	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}

	return nil
}
