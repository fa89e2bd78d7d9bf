package localfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystem_CreateMoveDelete(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	if err != nil {
		t.Fatalf("Failed to create filesystem: %v", err)
	}

	src := filepath.Join(root, "staging", "a", "model.fbx")
	f, err := fs.CreateFile(src)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if _, err := f.Write([]byte("bytes")); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if !fs.Exists(src) {
		t.Fatal("Created file should exist")
	}

	dst := filepath.Join(root, "assets", "Pack", "model.fbx")
	if err := fs.Move(src, dst); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if fs.Exists(src) || !fs.Exists(dst) {
		t.Error("Move must relocate the file")
	}

	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "bytes" {
		t.Errorf("Moved content mismatch: %q %v", data, err)
	}

	if err := fs.Delete(dst); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if fs.Exists(dst) {
		t.Error("Deleted file should not exist")
	}
	// Deleting a missing file is not an error.
	if err := fs.Delete(dst); err != nil {
		t.Errorf("Repeated delete failed: %v", err)
	}
}

func TestFileSystem_EnumerateFiles(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("missing directory yields empty list", func(t *testing.T) {
		files, err := fs.EnumerateFiles(filepath.Join(root, "nope"))
		if err != nil {
			t.Fatalf("EnumerateFiles failed: %v", err)
		}
		if len(files) != 0 {
			t.Errorf("Expected no files, got %v", files)
		}
	})

	t.Run("lists files recursively", func(t *testing.T) {
		for _, p := range []string{"a/one.txt", "a/b/two.txt", "three.txt"} {
			full := filepath.Join(root, "tree", filepath.FromSlash(p))
			f, err := fs.CreateFile(full)
			if err != nil {
				t.Fatal(err)
			}
			f.Close()
		}
		files, err := fs.EnumerateFiles(filepath.Join(root, "tree"))
		if err != nil {
			t.Fatal(err)
		}
		if len(files) != 3 {
			t.Errorf("Expected 3 files, got %v", files)
		}
	})
}

func TestFileSystem_TempDir(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	a, err := fs.TempDir("import-")
	if err != nil {
		t.Fatalf("TempDir failed: %v", err)
	}
	b, err := fs.TempDir("import-")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("Scratch directories must be distinct")
	}
	if !strings.HasPrefix(a, filepath.Join(root, ".stash", "tmp")) {
		t.Errorf("Scratch space must live under the project root, got %s", a)
	}
}

func TestMapper_Deterministic(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Assets", "Pack", "model.fbx")

	m1 := NewMapper(root)
	m2 := NewMapper(root)
	if m1.GuidFromPath(path) != m2.GuidFromPath(path) {
		t.Error("The same path must always map to the same guid")
	}

	other := filepath.Join(root, "Assets", "Pack", "other.fbx")
	if m1.GuidFromPath(path) == m1.GuidFromPath(other) {
		t.Error("Distinct paths must map to distinct guids")
	}
}

func TestMapper_ReverseLookup(t *testing.T) {
	root := t.TempDir()
	m := NewMapper(root)
	path := filepath.Join(root, "Assets", "model.fbx")

	guid := m.GuidFromPath(path)
	got, ok := m.PathFromGuid(guid)
	if !ok || got != path {
		t.Errorf("Expected reverse lookup to yield %s, got %s %v", path, got, ok)
	}

	m.Forget(guid)
	if _, ok := m.PathFromGuid(guid); ok {
		t.Error("Forgotten guid must not resolve")
	}
}

func TestMapper_Rehydrate(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "Assets", "Pack", "model.fbx")
	f, err := fs.CreateFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	// A fresh mapper learns existing files' guids from disk, as happens
	// at startup for imports from earlier runs.
	known := NewMapper(root).GuidFromPath(path)

	m := NewMapper(root)
	if _, ok := m.PathFromGuid(known); ok {
		t.Fatal("Fresh mapper must not know the guid yet")
	}
	if err := m.Rehydrate(fs, filepath.Join(root, "Assets")); err != nil {
		t.Fatalf("Rehydrate failed: %v", err)
	}
	got, ok := m.PathFromGuid(known)
	if !ok || got != path {
		t.Errorf("Expected rehydrated lookup to yield %s, got %s %v", path, got, ok)
	}
}
