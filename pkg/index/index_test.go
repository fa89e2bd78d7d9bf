package index

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ParseLogLevel("error"), io.Discard)
}

func testInfo(org, project, asset, version string, guids ...string) *api.ImportedAssetInfo {
	info := &api.ImportedAssetInfo{
		Asset: api.AssetData{
			ID:             api.AssetIdentifier{OrgID: org, ProjectID: project, AssetID: asset, Version: version},
			SequenceNumber: 1,
			Name:           asset,
		},
		ImportedAt: time.Now().UTC(),
	}
	for _, g := range guids {
		info.Files = append(info.Files, api.ImportedFileInfo{Guid: g, RemotePath: g + ".bin"})
	}
	return info
}

func TestUpsert_SingleTrackedVersion(t *testing.T) {
	x := New(nil, testLogger())

	if err := x.Upsert(testInfo("o", "p", "a", "1.0", "g1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := x.Upsert(testInfo("o", "p", "a", "2.0", "g2")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if x.Len() != 1 {
		t.Fatalf("Expected one tracked asset, got %d", x.Len())
	}
	entry := x.Lookup(api.AssetIdentifier{OrgID: "o", ProjectID: "p", AssetID: "a", Version: "9.9"})
	if entry == nil {
		t.Fatal("Lookup must ignore the identifier's version")
	}
	if entry.Asset.ID.Version != "2.0" {
		t.Errorf("Expected version 2.0 to be tracked, got %s", entry.Asset.ID.Version)
	}

	// Stale guid associations from 1.0 must be gone.
	if owners := x.Owners("g1"); len(owners) != 0 {
		t.Errorf("Expected no owners for stale guid, got %v", owners)
	}
	if owners := x.Owners("g2"); len(owners) != 1 {
		t.Errorf("Expected one owner for g2, got %v", owners)
	}
}

func TestUpsert_RejectsInvalid(t *testing.T) {
	x := New(nil, testLogger())
	if err := x.Upsert(nil); !errors.Is(err, api.ErrInvalidIdentifier) {
		t.Errorf("Expected ErrInvalidIdentifier for nil, got %v", err)
	}
	if err := x.Upsert(&api.ImportedAssetInfo{}); !errors.Is(err, api.ErrInvalidIdentifier) {
		t.Errorf("Expected ErrInvalidIdentifier for empty identity, got %v", err)
	}
}

func TestOwners_SharedGuid(t *testing.T) {
	x := New(nil, testLogger())
	if err := x.Upsert(testInfo("o", "p", "a", "1.0", "shared", "only-a")); err != nil {
		t.Fatal(err)
	}
	if err := x.Upsert(testInfo("o", "p", "b", "1.0", "shared")); err != nil {
		t.Fatal(err)
	}

	if owners := x.Owners("shared"); len(owners) != 2 {
		t.Fatalf("Expected two owners for shared guid, got %v", owners)
	}
	if owners := x.Owners("only-a"); len(owners) != 1 {
		t.Fatalf("Expected one owner, got %v", owners)
	}

	// Removing one owner keeps the surviving reference.
	if err := x.Remove(api.AssetIdentifier{OrgID: "o", ProjectID: "p", AssetID: "a"}); err != nil {
		t.Fatal(err)
	}
	owners := x.Owners("shared")
	if len(owners) != 1 || owners[0].AssetID != "b" {
		t.Errorf("Expected b to survive as owner, got %v", owners)
	}
	if owners := x.Owners("only-a"); len(owners) != 0 {
		t.Errorf("Expected only-a guid to be dropped, got %v", owners)
	}
}

func TestRemove_NotTracked(t *testing.T) {
	x := New(nil, testLogger())
	err := x.Remove(api.AssetIdentifier{OrgID: "o", ProjectID: "p", AssetID: "ghost"})
	if !errors.Is(err, api.ErrNotTracked) {
		t.Errorf("Expected ErrNotTracked, got %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	x := New(nil, testLogger())

	var changes []Change
	unsubscribe := x.Subscribe(SubscriberFunc(func(c Change) {
		changes = append(changes, c)
	}))

	if err := x.Upsert(testInfo("o", "p", "a", "1.0", "g1")); err != nil {
		t.Fatal(err)
	}
	if err := x.Upsert(testInfo("o", "p", "a", "2.0", "g1")); err != nil {
		t.Fatal(err)
	}
	if err := x.Remove(api.AssetIdentifier{OrgID: "o", ProjectID: "p", AssetID: "a"}); err != nil {
		t.Fatal(err)
	}

	if len(changes) != 3 {
		t.Fatalf("Expected 3 change events, got %d", len(changes))
	}
	if len(changes[0].Added) != 1 || len(changes[1].Updated) != 1 || len(changes[2].Removed) != 1 {
		t.Errorf("Unexpected change sequence: %+v", changes)
	}

	unsubscribe()
	if err := x.Upsert(testInfo("o", "p", "b", "1.0")); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 3 {
		t.Error("Unsubscribed subscriber must not receive events")
	}
}

func TestApplyBatch_SingleEvent(t *testing.T) {
	x := New(nil, testLogger())
	if err := x.Upsert(testInfo("o", "p", "old", "1.0", "g-old")); err != nil {
		t.Fatal(err)
	}

	var events int
	x.Subscribe(SubscriberFunc(func(c Change) { events++ }))

	x.ApplyBatch(
		[]*api.ImportedAssetInfo{testInfo("o", "p", "a", "1.0", "g1"), testInfo("o", "p", "b", "1.0", "g2")},
		nil,
		[]api.TrackedAssetIdentifier{{OrgID: "o", ProjectID: "p", AssetID: "old"}},
	)

	if events != 1 {
		t.Errorf("Expected one consolidated event, got %d", events)
	}
	if x.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", x.Len())
	}
	if owners := x.Owners("g-old"); len(owners) != 0 {
		t.Errorf("Removed entry's guids must be dropped, got %v", owners)
	}
}

func TestRemoteCache(t *testing.T) {
	x := New(nil, testLogger())
	data := &api.AssetData{
		ID:             api.AssetIdentifier{OrgID: "o", ProjectID: "p", AssetID: "a", Version: "1.0"},
		SequenceNumber: 7,
	}
	x.CacheRemote(data)

	cached, ok := x.CachedRemote(data.ID.Tracked())
	if !ok || cached.SequenceNumber != 7 {
		t.Fatalf("Expected cached snapshot, got %v %v", cached, ok)
	}

	// Authentication loss clears remote metadata but not import tracking.
	if err := x.Upsert(testInfo("o", "p", "a", "1.0", "g1")); err != nil {
		t.Fatal(err)
	}
	x.OnAuthenticationLost()
	if _, ok := x.CachedRemote(data.ID.Tracked()); ok {
		t.Error("Remote cache must be cleared on auth loss")
	}
	if x.Len() != 1 {
		t.Error("Import tracking must survive auth loss")
	}
}
