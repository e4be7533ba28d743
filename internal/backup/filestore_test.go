package backup

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

func TestFileStore_SaveLoadList(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "/backups")

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	older := types.BackupMetadata{ID: "older", Timestamp: base, Size: 3, Checksum: "x", Validated: true}
	newer := types.BackupMetadata{ID: "newer", Timestamp: base.Add(time.Hour), Size: 3, Checksum: "y", Emergency: true}

	image := bytes.Repeat([]byte{0x42}, 64*1024)
	require.NoError(t, s.Save(ctx, older, image))
	require.NoError(t, s.Save(ctx, newer, []byte("abc")))

	exists, err := afero.Exists(fs, "/backups/older"+ImageSuffix)
	require.NoError(t, err)
	assert.True(t, exists)

	info, err := fs.Stat("/backups/older" + ImageSuffix)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(image)), "image must be compressed")

	got, meta, err := s.Load(ctx, "older")
	require.NoError(t, err)
	assert.Equal(t, image, got)
	assert.Equal(t, "older", meta.ID)
	assert.True(t, meta.Timestamp.Equal(base))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)
	assert.Equal(t, "older", list[1].ID)
	assert.True(t, list[0].Emergency)
}

func TestFileStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(afero.NewMemMapFs(), "/backups")

	_, _, err := s.Load(ctx, "missing")
	require.ErrorIs(t, err, types.ErrBackupNotFound)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileStore_MissingImage(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "/backups")
	require.NoError(t, s.Save(ctx, types.BackupMetadata{ID: "b1"}, []byte("data")))
	require.NoError(t, fs.Remove("/backups/b1"+ImageSuffix))

	_, _, err := s.Load(ctx, "b1")
	require.ErrorIs(t, err, types.ErrBackupNotFound)
}

func TestFileStore_SkipsUnreadableSidecar(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "/backups")
	require.NoError(t, s.Save(ctx, types.BackupMetadata{ID: "good", Timestamp: time.Now()}, []byte("data")))
	require.NoError(t, afero.WriteFile(fs, "/backups/bad"+MetadataSuffix, []byte("id: [unterminated"), 0o644))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].ID)
}

func TestFileStore_RejectsPathIDs(t *testing.T) {
	s := NewFileStore(afero.NewMemMapFs(), "/backups")
	assert.Error(t, s.Save(context.Background(), types.BackupMetadata{ID: "../escape"}, nil))
	assert.Error(t, s.Save(context.Background(), types.BackupMetadata{}, nil))
}

func TestMemoryStore_CopiesImage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	image := []byte("abc")
	require.NoError(t, s.Save(ctx, types.BackupMetadata{ID: "m1"}, image))
	image[0] = 'z'

	got, _, err := s.Load(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}
