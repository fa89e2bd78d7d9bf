package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/platinummonkey/stash/pkg/api"
)

// Store persists index entries, one per tracked asset.
type Store interface {
	// Load reads every persisted entry. Called once at startup, before
	// any import can run.
	Load() ([]*api.ImportedAssetInfo, error)
	// Save writes or replaces the entry for info's tracked identity.
	Save(info *api.ImportedAssetInfo) error
	// Delete removes the persisted entry for the tracked identity.
	// Deleting a missing entry is not an error.
	Delete(t api.TrackedAssetIdentifier) error
}

// FileStore implements Store as one JSON file per tracked asset, stored
// under a directory sharded by the first two characters of the asset's
// stable key hash:
//
//	<root>/ab/abcdef0123....json
type FileStore struct {
	rootDir string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(rootDir string) (*FileStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index root directory: %w", err)
	}
	return &FileStore{rootDir: rootDir}, nil
}

func (s *FileStore) entryPath(t api.TrackedAssetIdentifier) string {
	sum := sha256.Sum256([]byte(t.Key()))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.rootDir, name[:2], name+".json")
}

// Save implements Store.Save.
func (s *FileStore) Save(info *api.ImportedAssetInfo) error {
	path := s.entryPath(info.Asset.ID.Tracked())
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal index entry: %w", err)
	}

	// Write to a sibling temp file then rename so a crash mid-write never
	// leaves a truncated entry.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write index entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit index entry: %w", err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *FileStore) Delete(t api.TrackedAssetIdentifier) error {
	err := os.Remove(s.entryPath(t))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete index entry: %w", err)
	}
	return nil
}

// Load implements Store.Load. Unreadable or corrupt entries are skipped,
// not fatal: a partially readable index is more useful at startup than
// none, and the next Upsert of the asset rewrites its entry.
func (s *FileStore) Load() ([]*api.ImportedAssetInfo, error) {
	shards, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read index root: %w", err)
	}

	var entries []*api.ImportedAssetInfo
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.rootDir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read shard %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(shardDir, f.Name()))
			if err != nil {
				continue
			}
			var info api.ImportedAssetInfo
			if err := json.Unmarshal(data, &info); err != nil {
				continue
			}
			if !info.Asset.ID.IsValid() {
				continue
			}
			entries = append(entries, &info)
		}
	}
	return entries, nil
}

// LoadInto populates the index from the store with one consolidated
// change event.
func LoadInto(x *LocalAssetIndex, s Store) error {
	entries, err := s.Load()
	if err != nil {
		return err
	}
	x.ApplyBatch(entries, nil, nil)
	return nil
}
