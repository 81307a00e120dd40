package cache

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func newTestDisk(t *testing.T, now func() time.Time) (*diskStore, afero.Fs) {
	t.Helper()
	memfs := afero.NewMemMapFs()
	d, err := newDiskStore("cache", NewFS(memfs), quietLogger(), now)
	if err != nil {
		t.Fatalf("newDiskStore failed: %v", err)
	}
	return d, memfs
}

func TestDiskStore_SaveLoad(t *testing.T) {
	clock := newFakeClock()
	d, memfs := newTestDisk(t, clock.Now)

	e := newEntry("src/app.tsx", TypeTransform, json.RawMessage(`{"code":"x"}`), clock.Now(), time.Hour)
	e.dirty = true
	d.Save(e)

	if e.dirty {
		t.Error("Save should clear the dirty flag")
	}
	if ok, _ := afero.Exists(memfs, filepath.Join("cache", e.Hash()+entryExt)); !ok {
		t.Fatal("entry file not written")
	}
	if ok, _ := afero.Exists(memfs, filepath.Join("cache", e.Hash()+entryExt+tempExt)); ok {
		t.Error("temp file left behind")
	}

	got, ok := d.Load(e.Hash())
	if !ok {
		t.Fatal("Load missed")
	}
	if got.Key != e.Key || got.Type != e.Type || string(got.Payload) != string(e.Payload) {
		t.Errorf("Load = %+v, want %+v", got, e)
	}
	if got == e {
		t.Error("Load should return a fresh entry")
	}
}

func TestDiskStore_FileFormat(t *testing.T) {
	clock := newFakeClock()
	d, memfs := newTestDisk(t, clock.Now)

	e := newEntry("k", TypeBuild, json.RawMessage(`[1,2]`), clock.Now(), time.Minute)
	d.Save(e)

	data, err := afero.ReadFile(memfs, filepath.Join("cache", e.Hash()+entryExt))
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("entry file is not JSON: %v", err)
	}
	for _, field := range []string{"key", "type", "payload", "createdAt", "lastAccessed", "accessCount", "sizeBytes", "expiresAt"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("entry file missing %q", field)
		}
	}
	if string(raw["payload"]) != `[1,2]` {
		t.Errorf("payload = %s, want [1,2]", raw["payload"])
	}
}

func TestDiskStore_LoadDiscardsBadFiles(t *testing.T) {
	clock := newFakeClock()
	d, memfs := newTestDisk(t, clock.Now)

	expiredEntry := newEntry("old", TypeBuild, json.RawMessage(`1`), clock.Now().Add(-2*time.Hour), time.Hour)
	d.Save(expiredEntry)

	// a valid entry stored under another entry's name
	other := newEntry("other", TypeBuild, json.RawMessage(`1`), clock.Now(), time.Hour)
	data, _ := json.Marshal(other)
	misplaced := HashKey(TypeBuild, "misplaced")
	_ = afero.WriteFile(memfs, filepath.Join("cache", misplaced+entryExt), data, 0o644)

	badType := HashKey(TypeBuild, "bad-type")
	_ = afero.WriteFile(memfs, filepath.Join("cache", badType+entryExt),
		[]byte(`{"key":"bad-type","type":"images","payload":1,"createdAt":1,"expiresAt":2}`), 0o644)

	for _, hash := range []string{expiredEntry.Hash(), misplaced, badType} {
		if _, ok := d.Load(hash); ok {
			t.Errorf("Load(%s) should miss", hash)
		}
		if d.Exists(hash) {
			t.Errorf("file for %s should be removed", hash)
		}
	}

	if _, ok := d.Load(HashKey(TypeBuild, "never-written")); ok {
		t.Error("Load of a missing file should miss")
	}
}

func TestDiskStore_LoadAll(t *testing.T) {
	clock := newFakeClock()
	d, memfs := newTestDisk(t, clock.Now)

	for _, key := range []string{"a", "b", "c"} {
		d.Save(newEntry(key, TypeModules, json.RawMessage(`"`+key+`"`), clock.Now(), time.Hour))
	}
	d.Save(newEntry("stale", TypeModules, json.RawMessage(`0`), clock.Now().Add(-3*time.Hour), time.Hour))
	_ = afero.WriteFile(memfs, filepath.Join("cache", "deadbeef"+entryExt), []byte("garbage"), 0o644)
	_ = afero.WriteFile(memfs, filepath.Join("cache", "leftover"+entryExt+tempExt), []byte("{"), 0o644)
	_ = afero.WriteFile(memfs, filepath.Join("cache", "README"), []byte("hi"), 0o644)

	entries := d.LoadAll()
	if len(entries) != 3 {
		t.Fatalf("LoadAll returned %d entries, want 3", len(entries))
	}

	names, _ := d.fs.ReadDir("cache")
	if len(names) != 4 {
		t.Errorf("files after scan = %v, want 3 entries and README", names)
	}
}

func TestDiskStore_RemoveWhere(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDisk(t, clock.Now)

	d.Save(newEntry("a", TypeBuild, json.RawMessage(`1`), clock.Now(), time.Hour))
	d.Save(newEntry("b", TypeDeps, json.RawMessage(`1`), clock.Now(), time.Hour))
	d.Save(newEntry("c", TypeTemp, json.RawMessage(`1`), clock.Now(), time.Hour))

	n := d.RemoveWhere(func(t Type) bool { return t == TypeBuild || t == TypeTemp })
	if n != 2 {
		t.Errorf("RemoveWhere removed %d, want 2", n)
	}
	if !d.Exists(HashKey(TypeDeps, "b")) {
		t.Error("deps entry should remain")
	}
}

func TestDiskStore_Wipe(t *testing.T) {
	clock := newFakeClock()
	d, memfs := newTestDisk(t, clock.Now)

	d.Save(newEntry("a", TypeBuild, json.RawMessage(`1`), clock.Now(), time.Hour))
	d.Save(newEntry("b", TypeDeps, json.RawMessage(`2`), clock.Now(), time.Hour))
	_ = afero.WriteFile(memfs, filepath.Join("cache", "partial"+entryExt+tempExt), []byte("{"), 0o644)
	_ = afero.WriteFile(memfs, filepath.Join("cache", "notes.txt"), []byte("x"), 0o644)

	if n := d.Wipe(); n != 3 {
		t.Errorf("Wipe removed %d files, want 3", n)
	}

	names, err := d.fs.ReadDir("cache")
	if err != nil {
		t.Fatalf("directory should exist after Wipe: %v", err)
	}
	if len(names) != 1 || names[0] != "notes.txt" {
		t.Errorf("files after Wipe = %v, want only notes.txt", names)
	}
}

func TestDiskStore_FailedSaveRemovesStaleFile(t *testing.T) {
	tests := []struct {
		name string
		fail func(*flakyFS)
	}{
		{"write fails", func(f *flakyFS) { f.failWrites.Store(true) }},
		{"rename fails", func(f *flakyFS) { f.failRenames.Store(true) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			memfs := afero.NewMemMapFs()
			fsys := &flakyFS{FS: NewFS(memfs)}
			d, err := newDiskStore("cache", fsys, quietLogger(), clock.Now)
			if err != nil {
				t.Fatalf("newDiskStore failed: %v", err)
			}

			old := newEntry("k", TypeBuild, json.RawMessage(`"old"`), clock.Now(), time.Hour)
			d.Save(old)

			tt.fail(fsys)
			replacement := newEntry("k", TypeBuild, json.RawMessage(`"new"`), clock.Now(), time.Hour)
			replacement.dirty = true
			d.Save(replacement)

			if d.Exists(old.Hash()) {
				t.Error("old entry file should be removed when its replacement cannot be written")
			}
			if !replacement.dirty {
				t.Error("a failed Save should leave the entry dirty")
			}
			names, _ := d.fs.ReadDir("cache")
			if len(names) != 0 {
				t.Errorf("files left after failed Save: %v", names)
			}
		})
	}
}

func TestDiskStore_LoadAllDropsEntriesWithoutExpiry(t *testing.T) {
	clock := newFakeClock()
	d, memfs := newTestDisk(t, clock.Now)

	hash := HashKey(TypeBuild, "k")
	path := filepath.Join("cache", hash+entryExt)
	_ = afero.WriteFile(memfs, path, []byte(`{"key":"k","type":"build","payload":1}`), 0o644)

	if entries := d.LoadAll(); len(entries) != 0 {
		t.Errorf("LoadAll returned %d entries, want 0", len(entries))
	}
	if ok, _ := afero.Exists(memfs, path); ok {
		t.Error("entry without an expiry should be deleted")
	}
}

func TestNewDiskStore_Unwritable(t *testing.T) {
	ro := afero.NewReadOnlyFs(afero.NewMemMapFs())
	if _, err := newDiskStore("cache", NewFS(ro), quietLogger(), time.Now); err == nil {
		t.Error("expected an error for a read-only filesystem")
	}
}
