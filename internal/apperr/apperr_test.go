package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserError(t *testing.T) {
	err := Userf("bad value %q", "x")
	assert.True(t, IsUser(err))
	assert.True(t, IsUser(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, `bad value "x"`, err.Error())
	assert.False(t, IsUser(errors.New("plain")))
}

func TestErrorMatchesSentinelThroughWrapping(t *testing.T) {
	base := New(MissingCoverage, "zonal", "aoi-1", "no tile resolved")
	wrapped := fmt.Errorf("compute: %w", base)

	assert.ErrorIs(t, wrapped, ErrMissingCoverage)
	assert.NotErrorIs(t, wrapped, ErrRasterMismatch)
	assert.True(t, Is(wrapped, MissingCoverage))

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, MissingCoverage, kind)

	var e *Error
	require.ErrorAs(t, wrapped, &e)
	assert.Equal(t, "zonal", e.Component)
	assert.Equal(t, "aoi-1", e.Key)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(TileUnavailable, "tilecache", "treecover2000/60N_020E", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTileUnavailable)
	assert.Equal(t, "TileUnavailable [tilecache] treecover2000/60N_020E: connection refused", err.Error())
	assert.Nil(t, Wrap(TileUnavailable, "x", "y", nil))
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, Is(nil, BundleCollision))
}
