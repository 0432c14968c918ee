package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func entryFor(url, path string, size int64) Entry {
	return Entry{
		URL:               url,
		FilePath:          path,
		ByteSize:          size,
		SHA256Hash:        "deadbeef",
		DownloadTimestamp: "2024-01-15T10:00:00Z",
		HTTPStatus:        200,
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), ".manifest.json"))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestShouldSkip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "subway_2023.xlsx")
	writeFile(t, file, "0123456789")

	m, _ := Load(filepath.Join(dir, ".manifest.json"))
	m.Upsert(entryFor("https://example.com/subway", file, 10))

	t.Run("entry with matching size skips", func(t *testing.T) {
		if !m.ShouldSkip("https://example.com/subway") {
			t.Error("ShouldSkip() = false, want true")
		}
	})

	t.Run("no entry does not skip", func(t *testing.T) {
		if m.ShouldSkip("https://example.com/other") {
			t.Error("ShouldSkip() = true for unknown URL")
		}
	})

	t.Run("size mismatch does not skip", func(t *testing.T) {
		writeFile(t, file, "0123456789extra")

		if m.ShouldSkip("https://example.com/subway") {
			t.Error("ShouldSkip() = true after size change")
		}

		writeFile(t, file, "0123456789")
	})

	t.Run("same size different content still skips", func(t *testing.T) {
		// Documented size-only tradeoff: content is not re-hashed.
		writeFile(t, file, "abcdefghij")

		if !m.ShouldSkip("https://example.com/subway") {
			t.Error("ShouldSkip() = false for same-size replacement")
		}
	})

	t.Run("deleted file does not skip", func(t *testing.T) {
		if err := os.Remove(file); err != nil {
			t.Fatal(err)
		}

		if m.ShouldSkip("https://example.com/subway") {
			t.Error("ShouldSkip() = true after file deletion")
		}
	})
}

func TestUpsertReplacesByURL(t *testing.T) {
	m, _ := Load(filepath.Join(t.TempDir(), ".manifest.json"))

	m.Upsert(entryFor("https://example.com/a", "/tmp/a", 100))
	m.Upsert(entryFor("https://example.com/a", "/tmp/a", 250))

	if m.Len() != 1 {
		t.Fatalf("Len() = %d after double upsert, want 1", m.Len())
	}

	entry, ok := m.Find("https://example.com/a")
	if !ok {
		t.Fatal("Find() did not locate upserted entry")
	}

	if entry.ByteSize != 250 {
		t.Errorf("ByteSize = %d, want 250 (latest wins)", entry.ByteSize)
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	kept := filepath.Join(dir, "kept.csv")
	writeFile(t, kept, "data")

	m, _ := Load(filepath.Join(dir, ".manifest.json"))
	m.Upsert(entryFor("https://example.com/gone1", filepath.Join(dir, "gone1.csv"), 1))
	m.Upsert(entryFor("https://example.com/kept", kept, 4))
	m.Upsert(entryFor("https://example.com/gone2", filepath.Join(dir, "gone2.csv"), 2))

	removed := m.Prune()

	if removed != 2 {
		t.Errorf("Prune() = %d, want 2", removed)
	}

	entries := m.Entries()
	if len(entries) != 1 || entries[0].URL != "https://example.com/kept" {
		t.Errorf("surviving entries = %+v, want only the kept URL", entries)
	}
}

func TestPruneKeepsOrder(t *testing.T) {
	dir := t.TempDir()

	var urls []string

	m, _ := Load(filepath.Join(dir, ".manifest.json"))
	for _, name := range []string{"a", "b", "c", "d"} {
		path := filepath.Join(dir, name+".csv")
		writeFile(t, path, name)
		url := "https://example.com/" + name
		urls = append(urls, url)
		m.Upsert(entryFor(url, path, 1))
	}

	if err := os.Remove(filepath.Join(dir, "b.csv")); err != nil {
		t.Fatal(err)
	}

	m.Prune()

	want := []string{urls[0], urls[2], urls[3]}
	got := m.Entries()

	if len(got) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got), len(want))
	}

	for i, e := range got {
		if e.URL != want[i] {
			t.Errorf("entries[%d].URL = %s, want %s", i, e.URL, want[i])
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".manifest.json")

	m, _ := Load(path)
	m.Upsert(entryFor("https://example.com/a", "/data/raw/a.xlsx", 1024))
	m.Upsert(entryFor("https://example.com/b", "/data/raw/b.zip", 2048))

	if err := m.Save(); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if reloaded.Len() != m.Len() {
		t.Fatalf("round trip lost entries: %d != %d", reloaded.Len(), m.Len())
	}

	for i, want := range m.Entries() {
		got := reloaded.Entries()[i]
		if got != want {
			t.Errorf("entry %d = %+v, want %+v", i, got, want)
		}
	}

	// Atomic save leaves no temp file behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save()")
	}
}

func TestSaveEmptyManifestWritesArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".manifest.json")

	m, _ := Load(path)
	if err := m.Save(); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if string(raw) != "[]" {
		t.Errorf("empty manifest payload = %q, want %q", raw, "[]")
	}
}
