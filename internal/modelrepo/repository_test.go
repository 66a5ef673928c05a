package modelrepo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "models_info.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCatalogParse(t *testing.T) {
	dir := t.TempDir()
	catalog := writeCatalog(t, dir, `{
		"models_info": [
			{"name": "inswapper_128", "type": "face_swapper", "file_name": "inswapper_128.onnx", "url": "https://example.com/inswapper_128.onnx"},
			{"name": "gfpgan_1.4", "type": "face_enhancer", "path": "gfpgan_1.4.onnx", "url": ""}
		]
	}`)

	repo, err := New(catalog, dir, false)
	require.NoError(t, err)

	info, err := repo.Lookup("inswapper_128")
	require.NoError(t, err)
	assert.Equal(t, "inswapper_128.onnx", info.FileName)
	assert.Equal(t, "face_swapper", repo.TypeOf("inswapper_128"))

	// Legacy "path" key falls back to file_name.
	info, err = repo.Lookup("gfpgan_1.4")
	require.NoError(t, err)
	assert.Equal(t, "gfpgan_1.4.onnx", info.FileName)

	assert.ElementsMatch(t, []string{"inswapper_128", "gfpgan_1.4"}, repo.Names())
}

func TestCatalogUnknownModel(t *testing.T) {
	dir := t.TempDir()
	catalog := writeCatalog(t, dir, `{"models_info": []}`)
	repo, err := New(catalog, dir, false)
	require.NoError(t, err)

	_, err = repo.Lookup("missing")
	assert.Error(t, err)
	_, err = repo.Resolve("missing")
	assert.Error(t, err)
}

func TestResolveExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("x"), 0o644))
	catalog := writeCatalog(t, dir, `{
		"models_info": [{"name": "m", "type": "t", "file_name": "model.onnx", "url": ""}]
	}`)

	repo, err := New(catalog, dir, false)
	require.NoError(t, err)

	path, err := repo.Resolve("m")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestResolveMissingFileNoDownload(t *testing.T) {
	dir := t.TempDir()
	catalog := writeCatalog(t, dir, `{
		"models_info": [{"name": "m", "type": "t", "file_name": "absent.onnx", "url": ""}]
	}`)

	repo, err := New(catalog, dir, false)
	require.NoError(t, err)

	_, err = repo.Resolve("m")
	assert.Error(t, err)
}

func TestCatalogRejectsIncompleteEntry(t *testing.T) {
	dir := t.TempDir()
	catalog := writeCatalog(t, dir, `{"models_info": [{"name": "", "file_name": ""}]}`)
	_, err := New(catalog, dir, false)
	assert.Error(t, err)
}

func TestCatalogMissingFile(t *testing.T) {
	_, err := New("/nonexistent/catalog.json", "/tmp", false)
	assert.Error(t, err)
}
