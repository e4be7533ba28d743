//go:build unix

package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleQuota(t *testing.T) {
	u, err := SampleQuota(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, u.Total)
	assert.LessOrEqual(t, u.Free, u.Total)

	_, err = SampleQuota("/definitely/not/a/real/path")
	assert.Error(t, err)
}
