package buildctx

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func tarNames(t *testing.T, data []byte) []string {
	t.Helper()
	var names []string
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, h.Name)
	}
	sort.Strings(names)
	return names
}

func TestOpenRejectsFile(t *testing.T) {
	root := writeTree(t, map[string]string{"a": "x"})
	_, err := Open(filepath.Join(root, "a"))
	assert.ErrorIs(t, err, ErrContext)
}

func TestResolve(t *testing.T) {
	root := writeTree(t, map[string]string{"requirements.txt": "django\n"})
	c, err := Open(root)
	require.NoError(t, err)

	abs, err := c.Resolve("requirements.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Root(), "requirements.txt"), abs)

	abs, err = c.Resolve("/requirements.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Root(), "requirements.txt"), abs)

	_, err = c.Resolve("../etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideContext)

	_, err = c.Resolve("missing.txt")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestIgnoreFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		".dockerignore":   "*.pyc\n__pycache__\n.env\n",
		"manage.py":       "print()\n",
		"app/views.py":    "x = 1\n",
		"app/views.pyc":   "bytecode",
		"__pycache__/a.c": "bytecode",
		".env":            "SECRET=1\n",
	})
	c, err := Open(root)
	require.NoError(t, err)

	for path, want := range map[string]bool{
		"manage.py":       false,
		"app/views.py":    false,
		"views.pyc":       true,
		"__pycache__":     true,
		"__pycache__/a.c": true,
		".env":            true,
	} {
		got, err := c.Ignored(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}
}

func TestKilnignoreTakesPrecedence(t *testing.T) {
	root := writeTree(t, map[string]string{
		".kilnignore":   "secret.txt\n",
		".dockerignore": "manage.py\n",
		"manage.py":     "",
		"secret.txt":    "",
	})
	c, err := Open(root)
	require.NoError(t, err)

	ignored, err := c.Ignored("secret.txt")
	require.NoError(t, err)
	assert.True(t, ignored)

	ignored, err = c.Ignored("manage.py")
	require.NoError(t, err)
	assert.False(t, ignored)
}

func TestDigest(t *testing.T) {
	root := writeTree(t, map[string]string{
		".dockerignore":    "*.log\n",
		"requirements.txt": "django\n",
		"app/views.py":     "x = 1\n",
	})
	c, err := Open(root)
	require.NoError(t, err)

	tree, err := c.Digest(".")
	require.NoError(t, err)
	manifest, err := c.Digest("requirements.txt")
	require.NoError(t, err)

	again, err := c.Digest(".")
	require.NoError(t, err)
	assert.Equal(t, tree, again, "digest is stable")

	// Ignored files do not contribute.
	require.NoError(t, os.WriteFile(filepath.Join(root, "debug.log"), []byte("noise"), 0o644))
	again, err = c.Digest(".")
	require.NoError(t, err)
	assert.Equal(t, tree, again)

	// Editing source changes the tree digest but not the manifest digest.
	require.NoError(t, os.WriteFile(filepath.Join(root, "app/views.py"), []byte("x = 2\n"), 0o644))
	edited, err := c.Digest(".")
	require.NoError(t, err)
	assert.NotEqual(t, tree, edited)

	sameManifest, err := c.Digest("requirements.txt")
	require.NoError(t, err)
	assert.Equal(t, manifest, sameManifest)
}

func TestWriteTarFile(t *testing.T) {
	root := writeTree(t, map[string]string{"requirements.txt": "django\n"})
	c, err := Open(root)
	require.NoError(t, err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, c.WriteTar(tw, "requirements.txt", "requirements.txt"))
	require.NoError(t, tw.Close())

	assert.Equal(t, []string{"requirements.txt"}, tarNames(t, buf.Bytes()))
}

func TestWriteTarDirHonoursIgnore(t *testing.T) {
	root := writeTree(t, map[string]string{
		".dockerignore": "node_modules\n",
		"manage.py":     "",
		"app/urls.py":   "",
		"node_modules/x": "",
	})
	c, err := Open(root)
	require.NoError(t, err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, c.WriteTar(tw, ".", "."))
	require.NoError(t, tw.Close())

	assert.Equal(t, []string{".dockerignore", "app/", "app/urls.py", "manage.py"}, tarNames(t, buf.Bytes()))
}

func TestWriteTarDirPrefix(t *testing.T) {
	root := writeTree(t, map[string]string{"src/a.py": "", "src/b/c.py": ""})
	c, err := Open(root)
	require.NoError(t, err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, c.WriteTar(tw, "src", "app"))
	require.NoError(t, tw.Close())

	assert.Equal(t, []string{"app/", "app/a.py", "app/b/", "app/b/c.py"}, tarNames(t, buf.Bytes()))
}

func TestTarInjectsExtraFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"manage.py": ""})
	c, err := Open(root)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.Tar(&buf, map[string][]byte{"Dockerfile.kiln": []byte("FROM scratch\n")}))

	assert.Equal(t, []string{"Dockerfile.kiln", "manage.py"}, tarNames(t, buf.Bytes()))
}

func TestCloseKeepsLocalContext(t *testing.T) {
	root := writeTree(t, map[string]string{"manage.py": ""})
	c, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = os.Stat(root)
	assert.NoError(t, err)
}
