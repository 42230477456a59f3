package content

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionCreatesFolders(t *testing.T) {
	root := t.TempDir()
	a := NewArea(root)

	require.NoError(t, a.Provision("user-1"))

	for _, folder := range Folders {
		info, err := os.Stat(filepath.Join(root, "uploads", "user-1", filepath.FromSlash(folder)))
		require.NoError(t, err, folder)
		assert.True(t, info.IsDir())
	}
	assert.NoError(t, a.Provision("user-1"), "provisioning twice is harmless")
}

func TestProvisionRejectsBadID(t *testing.T) {
	a := NewArea(t.TempDir())
	assert.ErrorIs(t, a.Provision("../escape"), ErrInvalidAsset)
	assert.ErrorIs(t, a.Provision(""), ErrInvalidAsset)
}

func TestCreate(t *testing.T) {
	root := t.TempDir()
	a := NewArea(root)

	f, assetPath, err := a.Create("user-1", "images", "cat.png")
	require.NoError(t, err)
	_, err = f.Write([]byte("meow"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, "uploads/user-1/images/cat.png", assetPath)
	data, err := os.ReadFile(filepath.Join(root, "uploads", "user-1", "images", "cat.png"))
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))
}

func TestCreateStripsDirectories(t *testing.T) {
	a := NewArea(t.TempDir())

	f, assetPath, err := a.Create("user-1", "documents", "../../etc/passwd")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "uploads/user-1/documents/passwd", assetPath)
}

func TestCreateRejectsInvalidAssets(t *testing.T) {
	a := NewArea(t.TempDir())

	_, _, err := a.Create("user-1", "secrets", "x.txt")
	assert.ErrorIs(t, err, ErrInvalidAsset)

	_, _, err = a.Create("user-1", "images", "..")
	assert.ErrorIs(t, err, ErrInvalidAsset)

	_, _, err = a.Create("user-1", "images", "")
	assert.ErrorIs(t, err, ErrInvalidAsset)

	_, _, err = a.Create("../user-2", "images", "x.png")
	assert.ErrorIs(t, err, ErrInvalidAsset)
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	a := NewArea(root)

	got, err := a.Resolve("uploads/user-1/images/cat.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "uploads", "user-1", "images", "cat.png"), got)

	got, err = a.Resolve("/uploads/user-1/../user-1/images/cat.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "uploads", "user-1", "images", "cat.png"), got)

	for _, bad := range []string{"", "uploads", "../secret", "uploads/../../etc/passwd", "config.yaml", "uploadsx/a"} {
		_, err := a.Resolve(bad)
		assert.ErrorIs(t, err, ErrInvalidAsset, bad)
	}
}
