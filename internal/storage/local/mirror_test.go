package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "mirror")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	m, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := m.PutObject(context.Background(), "en-eval-1.pdf", "application/pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "en-eval-1.pdf"), uri)
	data, err := os.ReadFile(filepath.Join(dir, "en-eval-1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	_, err = m.PutObject(context.Background(), "replaced.pdf", "", strings.NewReader("v1"))
	require.NoError(t, err)
	_, err = m.PutObject(context.Background(), "replaced.pdf", "", strings.NewReader("v2"))
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, "replaced.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = m.PutObject(context.Background(), "../escape.pdf", "", strings.NewReader("x"))
	assert.ErrorContains(t, err, "path traversal")

	_, err = m.PutObject(context.Background(), "", "", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestDeleteObject(t *testing.T) {
	dir := t.TempDir()
	m, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = m.PutObject(context.Background(), "old.pdf", "", strings.NewReader("v1"))
	require.NoError(t, err)
	require.NoError(t, m.DeleteObject(context.Background(), "old.pdf"))
	assert.NoFileExists(t, filepath.Join(dir, "old.pdf"))

	require.NoError(t, m.DeleteObject(context.Background(), "old.pdf"))
	assert.ErrorContains(t, m.DeleteObject(context.Background(), "../escape.pdf"), "path traversal")
}
