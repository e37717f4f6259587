package secretkeeper

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/localghost/pkg/token"
)

func TestLoadOrCreateGeneratesFreshKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", ".secret")
	secret, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Len(t, secret, token.KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestLoadOrCreateReusesExisting(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".secret")
	first, err := LoadOrCreate(path)
	require.NoError(t, err)

	second, err := LoadOrCreate(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
