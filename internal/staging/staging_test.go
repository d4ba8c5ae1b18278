package staging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndCleanup(t *testing.T) {
	t.Parallel()

	d, err := New(filepath.Join(t.TempDir(), "adbfs-XXXXXX"))
	require.NoError(t, err)

	info, err := os.Stat(d.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, strings.HasPrefix(filepath.Base(d.Path()), "adbfs-"))
	assert.NotEqual(t, "adbfs-XXXXXX", filepath.Base(d.Path()))

	require.NoError(t, os.WriteFile(d.LocalPath("/sdcard/a.txt"), []byte("x"), 0o600))
	require.NoError(t, d.Cleanup())

	_, err = os.Stat(d.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestLocalPath(t *testing.T) {
	t.Parallel()

	d, err := New(filepath.Join(t.TempDir(), "adbfs-XXXXXX"))
	require.NoError(t, err)
	defer d.Cleanup()

	assert.Equal(t, d.Path()+"/-sdcard-DCIM-img.jpg", d.LocalPath("/sdcard/DCIM/img.jpg"))
	assert.Equal(t, d.Path()+"/-", d.LocalPath("/"))
}

func TestExistsAndRemove(t *testing.T) {
	t.Parallel()

	d, err := New(filepath.Join(t.TempDir(), "adbfs-XXXXXX"))
	require.NoError(t, err)
	defer d.Cleanup()

	assert.False(t, d.Exists("/data/f"))
	require.NoError(t, os.WriteFile(d.LocalPath("/data/f"), nil, 0o600))
	assert.True(t, d.Exists("/data/f"))

	require.NoError(t, d.Remove("/data/f"))
	assert.False(t, d.Exists("/data/f"))
	require.NoError(t, d.Remove("/data/f"), "removing a missing copy is not an error")
}

func TestBadTemplate(t *testing.T) {
	t.Parallel()

	_, err := New("/tmp/adbfs")
	assert.Error(t, err)
}
