package flags

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_EmptyState(t *testing.T) {
	s := NewMemoryStore()

	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, State{}, st)

	_, ok, err := s.LastSchemaRepair()
	require.NoError(t, err)
	assert.False(t, ok)

	on, err := s.FKFailureLastSession()
	require.NoError(t, err)
	assert.False(t, on)
}

func TestStore_RoundTripsAcrossInstances(t *testing.T) {
	fs := afero.NewMemMapFs()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	s := NewStore(fs, "/data")
	require.NoError(t, s.MarkSchemaRepair(at))
	require.NoError(t, s.SetFKFailure(true))
	require.NoError(t, s.MarkRecoveryAttempt(at, "FOREIGN KEY constraint failed"))

	reopened := NewStore(fs, "/data")
	got, ok, err := reopened.LastSchemaRepair()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(got))

	on, err := reopened.FKFailureLastSession()
	require.NoError(t, err)
	assert.True(t, on)

	when, reason, ok, err := reopened.RecoveryAttempt()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(when))
	assert.Equal(t, "FOREIGN KEY constraint failed", reason)

	raw, err := afero.ReadFile(fs, "/data/"+FileName)
	require.NoError(t, err)
	for _, key := range []string{KeyLastSchemaRepair, KeyFKFailureLastSession, KeyRecoveryAttempt, KeyRecoveryReason} {
		assert.Contains(t, string(raw), key+":")
	}
}

func TestStore_ClearMarkers(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.SetFKFailure(true))
	require.NoError(t, s.MarkRecoveryAttempt(time.Now(), "reason"))

	require.NoError(t, s.SetFKFailure(false))
	require.NoError(t, s.ClearRecoveryAttempt())

	on, err := s.FKFailureLastSession()
	require.NoError(t, err)
	assert.False(t, on)
	_, _, ok, err := s.RecoveryAttempt()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/"+FileName, []byte("{not: [yaml"), 0o644))

	s := NewStore(fs, "/")
	_, err := s.Load()
	require.Error(t, err)
	assert.Error(t, s.SetFKFailure(true), "mutations must not overwrite an unreadable file")
}
