package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/ledgerkeep/internal/atomicfile"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// File name suffixes written by FileStore.
const (
	ImageSuffix    = ".db.zst"
	MetadataSuffix = ".yaml"
)

// FileStore keeps each backup as a zstd-compressed image next to a YAML
// metadata sidecar. The image is written before the sidecar, so a listed
// backup always has its bytes.
type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore returns a store writing into dir on fs.
func NewFileStore(fs afero.Fs, dir string) *FileStore {
	return &FileStore{fs: fs, dir: dir}
}

// Dir returns the backup directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) imagePath(id string) string {
	return filepath.Join(s.dir, id+ImageSuffix)
}

func (s *FileStore) metadataPath(id string) string {
	return filepath.Join(s.dir, id+MetadataSuffix)
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, meta types.BackupMetadata, image []byte) error {
	if meta.ID == "" || strings.ContainsAny(meta.ID, `/\`) {
		return fmt.Errorf("invalid backup id %q", meta.ID)
	}

	err := atomicfile.Write(s.fs, s.imagePath(meta.ID), func(w io.Writer) error {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		if _, err := enc.Write(image); err != nil {
			enc.Close()
			return fmt.Errorf("compressing image: %w", err)
		}
		return enc.Close()
	})
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return atomicfile.WriteBytes(s.fs, s.metadataPath(meta.ID), data)
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, id string) ([]byte, types.BackupMetadata, error) {
	meta, err := s.readMetadata(s.metadataPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.BackupMetadata{}, fmt.Errorf("%w: %s", types.ErrBackupNotFound, id)
	}
	if err != nil {
		return nil, types.BackupMetadata{}, err
	}

	f, err := s.fs.Open(s.imagePath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.BackupMetadata{}, fmt.Errorf("%w: image of %s", types.ErrBackupNotFound, id)
	}
	if err != nil {
		return nil, types.BackupMetadata{}, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, types.BackupMetadata{}, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	image, err := io.ReadAll(dec)
	if err != nil {
		return nil, types.BackupMetadata{}, fmt.Errorf("%w: decompressing %s: %v", types.ErrBackupInvalid, id, err)
	}
	return image, meta, nil
}

// List implements Store. Sidecars that cannot be parsed are skipped.
func (s *FileStore) List(_ context.Context) ([]types.BackupMetadata, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.dir, err)
	}

	var out []types.BackupMetadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), MetadataSuffix) {
			continue
		}
		meta, err := s.readMetadata(filepath.Join(s.dir, e.Name()))
		if err != nil {
			log.WithFields(log.Fields{"file": e.Name(), "err": err}).Warn("skipping unreadable backup metadata")
			continue
		}
		out = append(out, meta)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *FileStore) readMetadata(path string) (types.BackupMetadata, error) {
	var meta types.BackupMetadata
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return meta, err
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return meta, nil
}
