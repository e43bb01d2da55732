package decoy

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voslund/decoynet/pkg/vfs"
)

func TestNewValues(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	values := NewValues(rng)

	assert.Len(t, values["DB_PASSWORD"], 24)
	assert.Len(t, values["DB_ROOT_PASSWORD"], 32)
	assert.Len(t, values["JWT_SECRET"], 64)
	assert.Len(t, values["RANDOM_AWS_ID_16"], 16)
	assert.Len(t, values["RANDOM_AWS_SECRET_40"], 40)
	assert.True(t, strings.HasPrefix(values["GITHUB_PAT_TOKEN"], "ghp_"))
	assert.True(t, strings.HasPrefix(values["MAILGUN_API_KEY"], "key-"))
	assert.Equal(t, "SecureCorpInc", values["ORG_NAME"])
	assert.Equal(t, strings.ToUpper(values["RANDOM_AWS_ID_16"]), values["RANDOM_AWS_ID_16"])

	// same seed, same secrets
	again := NewValues(rand.New(rand.NewSource(1)))
	assert.Equal(t, values["DB_PASSWORD"], again["DB_PASSWORD"])

	// different seed, different secrets
	other := NewValues(rand.New(rand.NewSource(2)))
	assert.NotEqual(t, values["DB_PASSWORD"], other["DB_PASSWORD"])
}

func TestBuiltinRender(t *testing.T) {
	values := NewValues(rand.New(rand.NewSource(1)))
	rendered := Builtin().Render(values)

	require.NotEmpty(t, rendered)
	for _, tpl := range rendered {
		assert.NotContains(t, tpl.Content, "{{", "unresolved placeholder in %s", tpl.Path)
	}

	var env string
	for _, tpl := range rendered {
		if tpl.Path == "/root/.env" {
			env = tpl.Content
		}
	}
	require.NotEmpty(t, env)
	assert.Contains(t, env, "DB_PASSWORD="+values["DB_PASSWORD"])
	assert.Contains(t, env, "JWT_SECRET="+values["JWT_SECRET"])
}

func TestPopulate(t *testing.T) {
	fs := vfs.DefaultTree()
	values := NewValues(rand.New(rand.NewSource(1)))

	require.NoError(t, Populate(fs, Builtin(), values))

	// parent dirs are created on demand
	content, err := fs.ReadFile("/root/.aws/credentials")
	require.NoError(t, err)
	assert.Contains(t, string(content), "AKIA"+values["RANDOM_AWS_ID_16"])

	info, err := fs.Stat("/root/.env")
	require.NoError(t, err)
	assert.True(t, info.Decoy)

	paths := fs.DecoyPaths()
	assert.Contains(t, paths, "/root/backup.sh")
	assert.Contains(t, paths, "/home/user/.bash_history")
}

func TestFallback(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 10; i++ {
		tpl := Fallback(rng, "/var/www")
		assert.True(t, strings.HasPrefix(tpl.Path, "/var/www/"), "fallback escaped the target dir: %s", tpl.Path)
		assert.NotContains(t, tpl.Content, "{{", "unresolved placeholder in %s", tpl.Path)
		assert.NotEmpty(t, tpl.Content)
	}

	// same seed, same pick and same secrets
	a := Fallback(rand.New(rand.NewSource(3)), "/root")
	b := Fallback(rand.New(rand.NewSource(3)), "/root")
	assert.Equal(t, a, b)
}

func TestLoadBlueprints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blueprints.yaml")
	data := `templates:
  - path: /root/notes.txt
    content: |
      db password is {{DB_PASSWORD}}
  - path: /tmp/key.pem
    content: fake key
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	bp, err := LoadBlueprints(path)
	require.NoError(t, err)
	require.Len(t, bp.Templates, 2)
	assert.Equal(t, "/root/notes.txt", bp.Templates[0].Path)

	rendered := bp.Render(Values{"DB_PASSWORD": "hunter2"})
	assert.Contains(t, rendered[0].Content, "db password is hunter2")
}

func TestLoadBlueprintsErrors(t *testing.T) {
	_, err := LoadBlueprints("/nonexistent/blueprints.yaml")
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  - content: no path\n"), 0o644))
	_, err = LoadBlueprints(path)
	assert.Error(t, err)
}
