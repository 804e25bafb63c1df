package credstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alexjbarnes/authgate/internal/errors"
)

// storeContract exercises the behavior every Store implementation must
// share. Called by per-backend tests with a fresh store.
func storeContract(t *testing.T, s Store) {
	t.Helper()

	// Absent key.
	_, err := s.Get(AccessTokenKey)
	assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)

	// Round trip.
	require.NoError(t, s.Set(AccessTokenKey, "tok_abc"))
	got, err := s.Get(AccessTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok_abc", got)

	// Keys are independent.
	require.NoError(t, s.Set(RefreshTokenKey, "ref_xyz"))
	got, err = s.Get(AccessTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok_abc", got)

	// Overwrite.
	require.NoError(t, s.Set(AccessTokenKey, "tok_new"))
	got, err = s.Get(AccessTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok_new", got)

	// Remove, then remove again (no-op).
	require.NoError(t, s.Remove(AccessTokenKey))
	_, err = s.Get(AccessTokenKey)
	assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	require.NoError(t, s.Remove(AccessTokenKey))

	// The other key survives.
	got, err = s.Get(RefreshTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "ref_xyz", got)
}

func TestMemory_Contract(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	s := NewMemory()
	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := 0; i < 100; i++ {
			_ = s.Set(AccessTokenKey, "tok")
			_ = s.Remove(AccessTokenKey)
		}
	}()

	for i := 0; i < 100; i++ {
		_, _ = s.Get(AccessTokenKey)
	}
	<-done
}

func TestFixedKeys_AreDistinct(t *testing.T) {
	assert.NotEqual(t, AccessTokenKey, RefreshTokenKey)
}
