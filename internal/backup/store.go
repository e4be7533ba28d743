package backup

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// Store persists backup images with their metadata. Where the bytes live
// is the caller's choice.
type Store interface {
	Save(ctx context.Context, meta types.BackupMetadata, image []byte) error
	Load(ctx context.Context, id string) ([]byte, types.BackupMetadata, error)
	// List returns all backups, newest first.
	List(ctx context.Context) ([]types.BackupMetadata, error)
}

type memoryEntry struct {
	meta  types.BackupMetadata
	image []byte
}

// MemoryStore keeps backups in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, meta types.BackupMetadata, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[meta.ID] = memoryEntry{meta: meta, image: append([]byte(nil), image...)}
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, id string) ([]byte, types.BackupMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, types.BackupMetadata{}, fmt.Errorf("%w: %s", types.ErrBackupNotFound, id)
	}
	return append([]byte(nil), e.image...), e.meta, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]types.BackupMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.BackupMetadata, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.meta)
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(metas []types.BackupMetadata) {
	sort.SliceStable(metas, func(i, j int) bool {
		if metas[i].Timestamp.Equal(metas[j].Timestamp) {
			return metas[i].ID > metas[j].ID
		}
		return metas[i].Timestamp.After(metas[j].Timestamp)
	})
}
