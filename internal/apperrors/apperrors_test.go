package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindChunkNotFound, "looking up chunk", cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindChunkNotFound, KindOf(err))
}

func TestIsMatchesByKind(t *testing.T) {
	err := New(KindCacheFull, "no room")
	assert.True(t, Is(err, KindCacheFull))
	assert.False(t, Is(err, KindCacheMiss))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindRemoteTransient, "timeout")))
	assert.True(t, Retryable(New(KindRemoteRateLimited, "429")))
	assert.False(t, Retryable(New(KindDecryption, "auth tag mismatch")))
	assert.False(t, Retryable(errors.New("untyped")))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}
