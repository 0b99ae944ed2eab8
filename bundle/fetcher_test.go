package bundle

import (
	"archive/tar"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTar(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf
}

func TestExtractTarMaterializesFiles(t *testing.T) {
	dest := t.TempDir() + "/bundle"
	tarball := buildTar(t, map[string]string{
		"manifest.json": `{"name":"demo","version":"1.0.0","entry":"index.html"}`,
		"index.html":    "<html></html>",
	})

	require.NoError(t, extractTar(tarball, dest, 1<<20, 10))

	manifest, finding := loadManifest(dest)
	require.Nil(t, finding)
	require.Equal(t, "demo", manifest.Name)
}

func TestExtractTarRejectsPathEscape(t *testing.T) {
	dest := t.TempDir() + "/bundle"
	tarball := buildTar(t, map[string]string{
		"../../etc/passwd": "pwned",
	})

	err := extractTar(tarball, dest, 1<<20, 10)
	require.Error(t, err)
}

func TestExtractTarEnforcesFileCountLimit(t *testing.T) {
	dest := t.TempDir() + "/bundle"
	tarball := buildTar(t, map[string]string{
		"a.txt": "1",
		"b.txt": "2",
		"c.txt": "3",
	})

	err := extractTar(tarball, dest, 1<<20, 2)
	require.Error(t, err)
}
