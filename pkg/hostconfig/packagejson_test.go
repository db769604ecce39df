package hostconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateScripts_KeepsOrder(t *testing.T) {
	path := write(t, "package.json", `{"name": "site", "scripts": {"zed": "z", "build": "gatsby build"}, "private": true}`)

	require.NoError(t, UpdateScripts(path, []Script{{Name: "develop", Command: "gatsby develop"}, {Name: "build", Command: "gatsby build"}}))
	assert.Equal(t, `{
  "name": "site",
  "scripts": {
    "zed": "z",
    "build": "gatsby build",
    "develop": "gatsby develop"
  },
  "private": true
}
`, read(t, path))
}

func TestUpdateScripts_NoChangeNoWrite(t *testing.T) {
	content := `{"scripts": {"build": "gatsby build"}}`
	path := write(t, "package.json", content)
	require.NoError(t, UpdateScripts(path, []Script{{Name: "build", Command: "gatsby build"}}))
	assert.Equal(t, content, read(t, path))
}

func TestUpdateScripts_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "package.json")
	require.NoError(t, UpdateScripts(path, []Script{{Name: "dev", Command: "gatsby develop"}}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"scripts": {"dev": "gatsby develop"}}`, string(data))
}
