package localfs

import (
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Mapper implements api.PathMapper: a deterministic translation between a
// local file path and its stable guid. The guid is a name-based UUID over
// the project-relative path, so the same file always maps to the same
// guid across processes. The reverse direction needs the mapping to have
// been observed, either by a forward lookup or by Rehydrate at startup.
type Mapper struct {
	projectRoot string
	namespace   uuid.UUID

	mu     sync.RWMutex
	byGuid map[string]string
}

// NewMapper creates a Mapper scoped to projectRoot.
func NewMapper(projectRoot string) *Mapper {
	return &Mapper{
		projectRoot: projectRoot,
		namespace:   uuid.NewSHA1(uuid.NameSpaceURL, []byte("stash://project")),
		byGuid:      make(map[string]string),
	}
}

// GuidFromPath returns the stable guid for a local path and records the
// reverse mapping.
func (m *Mapper) GuidFromPath(path string) string {
	rel, err := filepath.Rel(m.projectRoot, path)
	if err != nil {
		rel = path
	}
	guid := uuid.NewSHA1(m.namespace, []byte(filepath.ToSlash(rel))).String()

	m.mu.Lock()
	m.byGuid[guid] = path
	m.mu.Unlock()
	return guid
}

// PathFromGuid resolves a guid back to the local path, if known.
func (m *Mapper) PathFromGuid(guid string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	path, ok := m.byGuid[guid]
	return path, ok
}

// Forget drops the reverse mapping for a guid, after its file is deleted.
func (m *Mapper) Forget(guid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byGuid, guid)
}

// Rehydrate observes every file currently under the given directories so
// guid reverse lookups work for files imported by earlier runs.
func (m *Mapper) Rehydrate(fs *FileSystem, dirs ...string) error {
	for _, dir := range dirs {
		files, err := fs.EnumerateFiles(dir)
		if err != nil {
			return err
		}
		for _, path := range files {
			m.GuidFromPath(path)
		}
	}
	return nil
}
