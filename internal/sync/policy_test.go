package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmplsync/template_sync/internal/manifest"
)

const conflictedPackageJSON = `{
  "name": "my-lib",
  "devDependencies": {
<<<<<<< ours
    "eslint": "^8.57.0"
=======
    "eslint": "^9.1.0",
    "plop": "^4.0.1",
    "typedoc": "^0.26.0"
>>>>>>> theirs
  }
}
`

func TestRootPolicyDropsRemovedFeatures(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(conflictedPackageJSON), 0o644))
	// typedoc is kept, the generator templates were removed downstream
	require.NoError(t, os.WriteFile(filepath.Join(root, "typedoc.config.js"), nil, 0o644))

	policies := ManifestPolicies(root, ".merge-backups", []string{"package.json"})
	for _, cfg := range policies {
		_, err := manifest.Resolve(context.Background(), cfg)
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	require.NoError(t, err)
	want := `{
  "name": "my-lib",
  "devDependencies": {
    "eslint": "^9.1.0",
    "typedoc": "^0.26.0"
  }
}
`
	assert.Equal(t, want, string(data))
	assert.FileExists(t, filepath.Join(root, ".merge-backups", "package.json"))
}

func TestNestedPolicyPrefersHighestVersion(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "packages", "shared")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	content := `{
  "peerDependencies": {
<<<<<<< ours
    "react": "^19.0.0"
=======
    "react": "^18.3.1"
>>>>>>> theirs
  }
}
`
	require.NoError(t, os.WriteFile(filepath.Join(nested, "package.json"), []byte(content), 0o644))

	var resolved []string
	for _, cfg := range ManifestPolicies(root, "", []string{"packages/shared/package.json"}) {
		report, err := manifest.Resolve(context.Background(), cfg)
		require.NoError(t, err)
		resolved = append(resolved, report.Resolved...)
	}
	assert.Equal(t, []string{"packages/shared/package.json"}, resolved)

	data, err := os.ReadFile(filepath.Join(nested, "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"react": "^19.0.0"`)
}

func TestIgnoreRemovedHonorsContext(t *testing.T) {
	root := t.TempDir()
	conflict := manifest.Conflict{
		Root:   root,
		File:   "package.json",
		Path:   []string{"devDependencies", "plop"},
		Theirs: manifest.NewString("^4.0.1"),
	}
	strategy := ignoreRemoved("scripts/templates")

	value, resolved := strategy(context.Background(), conflict)
	assert.True(t, resolved)
	assert.Nil(t, value)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	value, resolved = strategy(ctx, conflict)
	assert.False(t, resolved)
	assert.Nil(t, value)
}
