package importer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/stash/pkg/api"
)

// trackAsset records an already-imported asset directly: files are written
// to disk and indexed under their mapper guids.
func (e *env) trackAsset(t *testing.T, name, version string, paths ...string) {
	t.Helper()
	info := &api.ImportedAssetInfo{
		Asset: api.AssetData{
			ID:   ident(name, version),
			Name: name,
		},
		ImportedAt: time.Now().UTC(),
	}
	for _, p := range paths {
		full := filepath.Join(e.dest, filepath.FromSlash(p))
		if !e.fs.Exists(full) {
			f, err := e.fs.CreateFile(full)
			if err != nil {
				t.Fatal(err)
			}
			f.Close()
		}
		info.Files = append(info.Files, api.ImportedFileInfo{
			Guid:       e.mapper.GuidFromPath(full),
			RemotePath: p,
		})
	}
	if err := e.idx.Upsert(info); err != nil {
		t.Fatal(err)
	}
}

func TestRemove_DeletesFilesAndPrunesDirs(t *testing.T) {
	e := newEnv(t)
	e.trackAsset(t, "Pack", "1.0", "Pack/model.fbx", "Pack/textures/wood.png")

	result, err := e.orch.Remove(context.Background(), []api.AssetIdentifier{ident("Pack", "")})
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(result.Removed) != 1 || len(result.FailedPaths) != 0 {
		t.Fatalf("Unexpected result: %+v", result)
	}

	if e.idx.Len() != 0 {
		t.Error("Removed asset must be untracked")
	}
	if e.fs.Exists(filepath.Join(e.dest, "Pack", "model.fbx")) {
		t.Error("Owned files must be deleted")
	}
	if e.fs.Exists(filepath.Join(e.dest, "Pack")) {
		t.Error("Emptied directories must be pruned")
	}
	if !e.fs.Exists(e.dest) {
		t.Error("Pruning must stop at the destination root")
	}
}

func TestRemove_PreservesSharedFiles(t *testing.T) {
	e := newEnv(t)
	e.trackAsset(t, "A", "1.0", "Shared/tex.png", "A/a.bin")
	e.trackAsset(t, "B", "1.0", "Shared/tex.png", "B/b.bin")

	result, err := e.orch.Remove(context.Background(), []api.AssetIdentifier{ident("A", "")})
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(result.Removed) != 1 {
		t.Fatalf("Unexpected result: %+v", result)
	}

	if e.fs.Exists(filepath.Join(e.dest, "A", "a.bin")) {
		t.Error("Exclusively owned file must be deleted")
	}
	shared := filepath.Join(e.dest, "Shared", "tex.png")
	if !e.fs.Exists(shared) {
		t.Error("File still referenced by another asset must survive")
	}

	// The surviving owner keeps its guid-index membership.
	entry := e.idx.Lookup(ident("B", ""))
	if entry == nil {
		t.Fatal("B must remain tracked")
	}
	if owners := e.idx.Owners(entry.Files[0].Guid); len(owners) != 1 {
		t.Errorf("Expected one surviving owner, got %v", owners)
	}

	// Removing the last owner deletes the shared file too.
	if _, err := e.orch.Remove(context.Background(), []api.AssetIdentifier{ident("B", "")}); err != nil {
		t.Fatal(err)
	}
	if e.fs.Exists(shared) {
		t.Error("File must be deleted once the last owner is removed")
	}
}

func TestRemove_SharedWithinBatchDeleted(t *testing.T) {
	e := newEnv(t)
	e.trackAsset(t, "A", "1.0", "Shared/tex.png")
	e.trackAsset(t, "B", "1.0", "Shared/tex.png")

	// Both owners leave in the same batch, so nothing protects the file.
	result, err := e.orch.Remove(context.Background(), []api.AssetIdentifier{ident("A", ""), ident("B", "")})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Removed) != 2 {
		t.Fatalf("Expected both removed, got %+v", result)
	}
	if e.fs.Exists(filepath.Join(e.dest, "Shared", "tex.png")) {
		t.Error("A file whose every owner leaves in the batch must be deleted")
	}
}

func TestRemove_DeletesFoldedCompanion(t *testing.T) {
	e := newEnv(t)
	pack := e.repo.add("Pack", "1.0", 1)
	e.repo.addFile(pack, "model.fbx", []byte("mesh"))
	e.repo.addFile(pack, "model.fbx.meta", []byte("meta"))
	e.runImport(t, []api.AssetIdentifier{ident("Pack", "1.0")}, api.KindImport)

	result, err := e.orch.Remove(context.Background(), []api.AssetIdentifier{ident("Pack", "")})
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(result.Removed) != 1 || len(result.FailedPaths) != 0 {
		t.Fatalf("Unexpected result: %+v", result)
	}

	if e.fs.Exists(filepath.Join(e.dest, "Pack", "model.fbx.meta")) {
		t.Error("Companion file must leave with its primary")
	}
	if e.fs.Exists(filepath.Join(e.dest, "Pack")) {
		t.Error("Emptied directories must be pruned")
	}
}

func TestRemove_NotTracked(t *testing.T) {
	e := newEnv(t)
	e.trackAsset(t, "A", "1.0", "A/a.bin")

	result, err := e.orch.Remove(context.Background(), []api.AssetIdentifier{ident("A", ""), ident("Ghost", "")})
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(result.Removed) != 1 {
		t.Errorf("Expected one removal, got %+v", result.Removed)
	}
	if len(result.NotTracked) != 1 || result.NotTracked[0].AssetID != "Ghost" {
		t.Errorf("Untracked identities must be reported, got %+v", result.NotTracked)
	}
}

func TestRemove_InvalidIdentifier(t *testing.T) {
	e := newEnv(t)
	_, err := e.orch.Remove(context.Background(), []api.AssetIdentifier{{OrgID: "o"}})
	if !errors.Is(err, api.ErrInvalidIdentifier) {
		t.Errorf("Expected ErrInvalidIdentifier, got %v", err)
	}
}
