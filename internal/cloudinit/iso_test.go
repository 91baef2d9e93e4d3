package cloudinit

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kdomanski/iso9660"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmlab/vml/internal/mount"
)

func testConfig() *Config {
	return &Config{
		Name:           "lab/web-1",
		Hostname:       "web-1.lab",
		User:           "root",
		AuthorizedKeys: []string{testSSHKey},
		Shares:         []mount.Share{{Source: "/srv/www", Target: "/var/www", ReadOnly: true, Tag: "vmlshare0"}},
		Network:        &Network{Address: "10.0.0.10/24", Gateway: "10.0.0.1"},
	}
}

// readISO returns the root files of a seed image keyed by name. Names are
// normalized in case the writer stored them as d-characters.
func readISO(t *testing.T, data []byte) (string, map[string]string) {
	t.Helper()

	img, err := iso9660.OpenImage(bytes.NewReader(data))
	require.NoError(t, err)

	label, err := img.Label()
	require.NoError(t, err)

	root, err := img.RootDir()
	require.NoError(t, err)
	children, err := root.GetChildren()
	require.NoError(t, err)

	files := map[string]string{}
	for _, child := range children {
		content, err := io.ReadAll(child.Reader())
		require.NoError(t, err)
		name := strings.TrimSuffix(strings.ToLower(child.Name()), ".")
		files[strings.ReplaceAll(name, "_", "-")] = string(content)
	}
	return label, files
}

func TestGenerateISO(t *testing.T) {
	cfg := testConfig()

	data, err := GenerateISO(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	label, files := readISO(t, data)
	assert.Equal(t, VolumeLabel, label)
	assert.Len(t, files, 3)

	userData, err := GenerateUserData(cfg)
	require.NoError(t, err)
	metaData, err := GenerateMetaData(cfg)
	require.NoError(t, err)
	networkConfig, err := GenerateNetworkConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, userData, files["user-data"])
	assert.Equal(t, metaData, files["meta-data"])
	assert.Equal(t, networkConfig, files["network-config"])
}

func TestGenerateISOInvalidConfig(t *testing.T) {
	_, err := GenerateISO(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWriteISO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.iso")

	require.NoError(t, WriteISO(testConfig(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	label, _ := readISO(t, data)
	assert.Equal(t, VolumeLabel, label)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file left behind")

	t.Run("invalid config leaves nothing behind", func(t *testing.T) {
		other := filepath.Join(dir, "other.iso")
		assert.Error(t, WriteISO(nil, other))
		assert.NoFileExists(t, other)
	})
}
