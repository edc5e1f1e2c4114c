package forge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.json")
	sup := New(path, 45500, 45600, SuperviseConfig{
		ProbeTimeout: 100 * time.Millisecond,
		StopTimeout:  time.Second,
	})

	rec, err := sup.Ensure(ctx, "demo", "", "/bin/true", 0, 0)
	require.NoError(t, err)
	assert.NotZero(t, rec.Backend)
	assert.NotZero(t, rec.Frontend)
	assert.NotEqual(t, rec.Backend, rec.Frontend)

	st, err := sup.Status(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", st.Name)
	assert.False(t, st.Up)

	list, err := sup.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// A second supervisor over the same file sees the same allocation.
	other := New(path, 45500, 45600, SuperviseConfig{ProbeTimeout: 100 * time.Millisecond})
	got, err := other.Status(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, rec.Backend, got.Backend)
	assert.Equal(t, rec.Frontend, got.Frontend)

	require.NoError(t, sup.Release(ctx, "demo"))
	_, err = sup.Status(ctx, "demo")
	require.ErrorIs(t, err, ErrUnknownSlot)
}

func TestFacadeInMemory(t *testing.T) {
	ctx := context.Background()
	sup := NewInMemory(45500, 45600, SuperviseConfig{ProbeTimeout: 100 * time.Millisecond})
	_, err := sup.Ensure(ctx, "demo", "", "", 0, 0)
	require.NoError(t, err)
	_, err = sup.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrUnknownSlot)
	assert.NotEmpty(t, sup.LastAction())
}
