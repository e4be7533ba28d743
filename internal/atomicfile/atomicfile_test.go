package atomicfile

import (
	"errors"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBytes_CreatesParentAndReplaces(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/nested/file.yaml"

	require.NoError(t, WriteBytes(fs, path, []byte("first")))
	require.NoError(t, WriteBytes(fs, path, []byte("second")))

	got, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := afero.ReadDir(fs, "/data/nested")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWrite_ErrorLeavesOriginal(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/file.yaml"
	require.NoError(t, WriteBytes(fs, path, []byte("original")))

	boom := errors.New("boom")
	err := Write(fs, path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	entries, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
