package fs

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/streamvault/streamvault/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

// TestPutGet tests basic round-trip per area
func TestPutGet(t *testing.T) {
	store := newTestStore(t)

	for _, area := range types.Areas() {
		data := []byte(`{"stream_id":"abc"}`)
		if err := store.Put(area, "abc", data); err != nil {
			t.Fatalf("Put(%s): %v", area, err)
		}

		got, err := store.Get(area, "abc")
		if err != nil {
			t.Fatalf("Get(%s): %v", area, err)
		}
		if string(got) != string(data) {
			t.Errorf("Get(%s) = %q, want %q", area, got, data)
		}
	}
}

// TestGet_Miss tests that an absent key is (nil, nil)
func TestGet_Miss(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(types.AreaStreams, "nope")
	if err != nil {
		t.Fatalf("Get on missing key should not error: %v", err)
	}
	if got != nil {
		t.Errorf("Get on missing key = %q, want nil", got)
	}
}

// TestPut_Overwrite tests that re-putting replaces the value
func TestPut_Overwrite(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put(types.AreaThumbnails, "id", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(types.AreaThumbnails, "id", []byte("new")); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(types.AreaThumbnails, "id")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("Get after overwrite = %q, want new", got)
	}
}

// TestDelete_Idempotent tests that deleting a missing key is a no-op
func TestDelete_Idempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Delete(types.AreaStreams, "ghost"); err != nil {
		t.Errorf("Delete on missing key should not error: %v", err)
	}

	if err := store.Put(types.AreaStreams, "id", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(types.AreaStreams, "id"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(types.AreaStreams, "id"); err != nil {
		t.Errorf("second Delete should not error: %v", err)
	}

	got, err := store.Get(types.AreaStreams, "id")
	if err != nil || got != nil {
		t.Errorf("Get after delete = %q, %v; want nil, nil", got, err)
	}
}

// TestListKeys tests startup enumeration
func TestListKeys(t *testing.T) {
	store := newTestStore(t)

	// Empty area before first use
	keys, err := store.ListKeys(types.AreaMetadata)
	if err != nil {
		t.Fatalf("ListKeys on untouched area: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}

	want := []string{"stream-1", "stream-2", "stream/with/slashes", "ütf8-ID"}
	for _, key := range want {
		if err := store.Put(types.AreaMetadata, key, []byte("v")); err != nil {
			t.Fatalf("Put(%q): %v", key, err)
		}
	}

	keys, err = store.ListKeys(types.AreaMetadata)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	sort.Strings(want)
	if len(keys) != len(want) {
		t.Fatalf("ListKeys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

// TestListKeys_SkipsForeignFiles tests that undecodable files are removed
func TestListKeys_SkipsForeignFiles(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put(types.AreaStreams, "good", []byte("v")); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(store.Root(), string(types.AreaStreams))
	foreign := filepath.Join(dir, "not base64!.json")
	if err := os.WriteFile(foreign, []byte("junk"), 0600); err != nil {
		t.Fatal(err)
	}

	keys, err := store.ListKeys(types.AreaStreams)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "good" {
		t.Errorf("ListKeys = %v, want [good]", keys)
	}
	if _, err := os.Stat(foreign); !os.IsNotExist(err) {
		t.Error("unaddressable file should have been removed")
	}
}

// TestAreasAreIndependent tests that the three key spaces do not collide
func TestAreasAreIndependent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put(types.AreaStreams, "id", []byte("stream")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(types.AreaThumbnails, "id", []byte("thumb")); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(types.AreaStreams, "id"); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(types.AreaThumbnails, "id")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "thumb" {
		t.Errorf("thumbnail entry should survive stream delete, got %q", got)
	}
}
