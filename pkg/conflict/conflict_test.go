package conflict

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/index"
	"github.com/platinummonkey/stash/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ParseLogLevel("error"), io.Discard)
}

// fakeFS reports existence from a fixed path set; nothing else is used
// by classification.
type fakeFS struct {
	existing map[string]struct{}
}

func newFakeFS(paths ...string) *fakeFS {
	fs := &fakeFS{existing: make(map[string]struct{})}
	for _, p := range paths {
		fs.existing[filepath.Clean(p)] = struct{}{}
	}
	return fs
}

func (f *fakeFS) Exists(path string) bool {
	_, ok := f.existing[filepath.Clean(path)]
	return ok
}
func (f *fakeFS) MkdirAll(string) error                     { return nil }
func (f *fakeFS) CreateFile(string) (io.WriteCloser, error) { return nil, errors.New("not implemented") }
func (f *fakeFS) Move(string, string) error                 { return nil }
func (f *fakeFS) Delete(string) error                       { return nil }
func (f *fakeFS) DeleteDir(string) error                    { return nil }
func (f *fakeFS) EnumerateFiles(string) ([]string, error)   { return nil, nil }
func (f *fakeFS) TempDir(string) (string, error)            { return "", errors.New("not implemented") }

func asset(name, version string, paths ...string) *api.AssetData {
	data := &api.AssetData{
		ID:   api.AssetIdentifier{OrgID: "o", ProjectID: "p", AssetID: name, Version: version},
		Name: name,
	}
	for _, p := range paths {
		data.Files = append(data.Files, api.AssetFile{Path: p})
	}
	return data
}

func tracked(name string) api.TrackedAssetIdentifier {
	return api.TrackedAssetIdentifier{OrgID: "o", ProjectID: "p", AssetID: name}
}

func TestDestinationDir(t *testing.T) {
	t.Run("sanitizes the display name", func(t *testing.T) {
		a := asset("foo", "1")
		a.Name = `Foo: The "Pack"`
		got := DestinationDir("/root", a)
		if got != filepath.Join("/root", "Foo The Pack") {
			t.Errorf("Unexpected destination: %s", got)
		}
	})

	t.Run("falls back to asset ID when the name sanitizes away", func(t *testing.T) {
		a := asset("foo", "1")
		a.Name = `///`
		got := DestinationDir("/root", a)
		if got != filepath.Join("/root", "foo") {
			t.Errorf("Unexpected destination: %s", got)
		}
	})
}

func TestClassify(t *testing.T) {
	idx := index.New(nil, testLogger())
	existing := asset("Foo", "1.0", "model.fbx")
	if err := idx.Upsert(&api.ImportedAssetInfo{Asset: *existing}); err != nil {
		t.Fatal(err)
	}

	// A file of an untracked asset already sits at its computed
	// destination.
	fs := newFakeFS(filepath.Join("/dest", "Bar", "model.fbx"))
	r := New(idx, fs, nil, testLogger())

	resolved := []*api.AssetData{
		asset("Foo", "2.0", "model.fbx"),
		asset("Bar", "1.0", "model.fbx", "textures/bark.png"),
		asset("Baz", "1.0", "mesh.obj"),
	}
	requested := []api.AssetIdentifier{
		{OrgID: "o", ProjectID: "p", AssetID: "Foo", Version: "2.0"},
	}

	c := r.Classify(resolved, requested, "/dest")

	if len(c.Assets) != 1 || c.Assets[0].Asset.ID.AssetID != "Foo" {
		t.Fatalf("Expected Foo under requested assets, got %+v", c.Assets)
	}
	if !c.Assets[0].Existed {
		t.Error("Foo is tracked and must be flagged as existing")
	}
	if len(c.Assets[0].FileConflicts) != 0 {
		t.Error("Tracked assets do not separately report file conflicts")
	}

	if len(c.Dependants) != 2 {
		t.Fatalf("Expected 2 dependants, got %d", len(c.Dependants))
	}
	byName := make(map[string]AssetResolution)
	for _, res := range c.Dependants {
		byName[res.Asset.ID.AssetID] = res
	}
	if got := byName["Bar"].FileConflicts; len(got) != 1 || got[0] != "model.fbx" {
		t.Errorf("Expected model.fbx conflict for Bar, got %v", got)
	}
	if byName["Bar"].Existed {
		t.Error("Bar is not tracked")
	}
	if byName["Baz"].RequiresDecision() {
		t.Error("Baz has no conflicts and needs no decision")
	}
	if !c.NeedsDecision() {
		t.Error("A tracked asset in scope must trigger decisions")
	}
}

func TestDecide(t *testing.T) {
	newIdx := func(t *testing.T) *index.LocalAssetIndex {
		t.Helper()
		idx := index.New(nil, testLogger())
		if err := idx.Upsert(&api.ImportedAssetInfo{Asset: *asset("Foo", "1.0")}); err != nil {
			t.Fatal(err)
		}
		return idx
	}
	resolved := []*api.AssetData{asset("Foo", "2.0"), asset("Baz", "1.0")}
	requested := []api.AssetIdentifier{{OrgID: "o", ProjectID: "p", AssetID: "Foo", Version: "2.0"}}

	t.Run("nil decider replaces everything", func(t *testing.T) {
		r := New(newIdx(t), newFakeFS(), nil, testLogger())
		accepted, err := r.Decide(context.Background(), r.Classify(resolved, requested, "/dest"))
		if err != nil {
			t.Fatal(err)
		}
		if len(accepted) != 2 {
			t.Errorf("Expected both assets accepted, got %d", len(accepted))
		}
	})

	t.Run("skip decision drops the asset", func(t *testing.T) {
		decider := DeciderFunc(func(ctx context.Context, c *Classification) (map[api.TrackedAssetIdentifier]Decision, error) {
			return map[api.TrackedAssetIdentifier]Decision{tracked("Foo"): DecisionSkip}, nil
		})
		r := New(newIdx(t), newFakeFS(), decider, testLogger())
		accepted, err := r.Decide(context.Background(), r.Classify(resolved, requested, "/dest"))
		if err != nil {
			t.Fatal(err)
		}
		if len(accepted) != 1 || accepted[0].ID.AssetID != "Baz" {
			t.Errorf("Expected only Baz accepted, got %+v", accepted)
		}
	})

	t.Run("missing decisions default to replace", func(t *testing.T) {
		decider := DeciderFunc(func(ctx context.Context, c *Classification) (map[api.TrackedAssetIdentifier]Decision, error) {
			return nil, nil
		})
		r := New(newIdx(t), newFakeFS(), decider, testLogger())
		accepted, err := r.Decide(context.Background(), r.Classify(resolved, requested, "/dest"))
		if err != nil {
			t.Fatal(err)
		}
		if len(accepted) != 2 {
			t.Errorf("Expected both assets accepted, got %d", len(accepted))
		}
	})

	t.Run("decider error aborts", func(t *testing.T) {
		wantErr := errors.New("decider offline")
		decider := DeciderFunc(func(ctx context.Context, c *Classification) (map[api.TrackedAssetIdentifier]Decision, error) {
			return nil, wantErr
		})
		r := New(newIdx(t), newFakeFS(), decider, testLogger())
		_, err := r.Decide(context.Background(), r.Classify(resolved, requested, "/dest"))
		if !errors.Is(err, wantErr) {
			t.Errorf("Expected decider error, got %v", err)
		}
	})

	t.Run("decider not consulted without tracked conflicts", func(t *testing.T) {
		consulted := false
		decider := DeciderFunc(func(ctx context.Context, c *Classification) (map[api.TrackedAssetIdentifier]Decision, error) {
			consulted = true
			return nil, nil
		})
		r := New(index.New(nil, testLogger()), newFakeFS(), decider, testLogger())
		_, err := r.Decide(context.Background(), r.Classify(resolved, requested, "/dest"))
		if err != nil {
			t.Fatal(err)
		}
		if consulted {
			t.Error("Decider must only run when something in scope already exists")
		}
	})
}
