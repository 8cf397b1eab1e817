package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffpub/pkg/platform/sentinel"
)

func TestKey(t *testing.T) {
	key := Key("260001", []byte("<env:envelope/>"))
	assert.True(t, strings.HasPrefix(key, "envelope/DIT260001-"))
	assert.True(t, strings.HasSuffix(key, ".xml"))

	// Different content, different key.
	assert.NotEqual(t, key, Key("260001", []byte("<env:envelope></env:envelope>")))
	// Same content, same key.
	assert.Equal(t, key, Key("260001", []byte("<env:envelope/>")))
}

func TestFilesystem_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	key := Key("260001", []byte("content"))
	require.NoError(t, fsStore.Save(ctx, key, []byte("content")))

	exists, err := fsStore.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := fsStore.Open(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "content", string(body))

	require.NoError(t, fsStore.Delete(ctx, key))
	exists, err = fsStore.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	err = fsStore.Delete(ctx, key)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = fsStore.Open(ctx, key)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestFilesystem_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, fsStore.Save(ctx, "../outside.xml", []byte("x")))
	assert.Error(t, fsStore.Save(ctx, "/etc/envelope.xml", []byte("x")))
}

func TestFilesystem_OverwriteReplacesContent(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fsStore.Save(ctx, "envelope/a.xml", []byte("one")))
	require.NoError(t, fsStore.Save(ctx, "envelope/a.xml", []byte("two")))

	rc, err := fsStore.Open(ctx, "envelope/a.xml")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "two", string(body))
}

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Save(ctx, "envelope/a.xml", []byte("content")))
	rc, err := m.Open(ctx, "envelope/a.xml")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content", string(body))

	require.NoError(t, m.Delete(ctx, "envelope/a.xml"))
	_, err = m.Open(ctx, "envelope/a.xml")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
