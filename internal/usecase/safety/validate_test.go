package safety

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

func gzipEnvelope(t *testing.T, inner []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(inner)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func zipArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, domain.AsPipelineError(err).Code)
}

func TestValidateStructure_GzipEnvelope(t *testing.T) {
	e := New()

	valid := gzipEnvelope(t, []byte(`{"metadata":{"name":"p"},"payload":{"settings":{}}}`))
	assert.NoError(t, e.ValidateStructure(valid))

	missingPayload := gzipEnvelope(t, []byte(`{"metadata":{"name":"p"}}`))
	assertCode(t, e.ValidateStructure(missingPayload), domain.CodeInvalidPackage)

	notJSON := gzipEnvelope(t, []byte("plain text"))
	assertCode(t, e.ValidateStructure(notJSON), domain.CodeInvalidPackage)
}

func TestValidateStructure_TarArchive(t *testing.T) {
	e := New()

	valid := tarArchive(t, map[string][]byte{
		MetadataEntryName: []byte(`{"name":"p"}`),
		"settings.json":   []byte(`{}`),
	})
	assert.NoError(t, e.ValidateStructure(valid))

	// Gzipped tar is also accepted.
	assert.NoError(t, e.ValidateStructure(gzipEnvelope(t, valid)))

	missing := tarArchive(t, map[string][]byte{"settings.json": []byte(`{}`)})
	assertCode(t, e.ValidateStructure(missing), domain.CodeInvalidPackage)
}

func TestValidateStructure_PathTraversal(t *testing.T) {
	e := New()

	tests := map[string][]byte{
		"../evil":        []byte("x"),
		"/abs/path":      []byte("x"),
		"~/home":         []byte("x"),
		"C:\\drive\\x":   []byte("x"),
	}
	for name, content := range tests {
		archive := tarArchive(t, map[string][]byte{
			MetadataEntryName: []byte(`{}`),
			name:              content,
		})
		assertCode(t, e.ValidateStructure(archive), domain.CodeInvalidPackage)
	}
}

func TestValidateStructure_ZipArchive(t *testing.T) {
	e := New()

	valid := zipArchive(t, map[string][]byte{
		MetadataEntryName: []byte(`{"name":"p"}`),
	})
	assert.NoError(t, e.ValidateStructure(valid))

	traversal := zipArchive(t, map[string][]byte{
		MetadataEntryName: []byte(`{}`),
		"../escape":       []byte("x"),
	})
	assertCode(t, e.ValidateStructure(traversal), domain.CodeInvalidPackage)
}

func TestValidateStructure_Unrecognized(t *testing.T) {
	e := New()
	assertCode(t, e.ValidateStructure([]byte("just some text")), domain.CodeInvalidPackage)
	assertCode(t, e.ValidateStructure(nil), domain.CodeInvalidPackage)
}

func TestValidateInput(t *testing.T) {
	e := New()

	ok := domain.PublishOptions{Version: "1.0.0", Platform: domain.PlatformCursor, Visibility: domain.VisibilityPublic}
	assert.NoError(t, e.ValidateInput("my-pack", ok))

	assertCode(t, e.ValidateInput("Bad Name", ok), domain.CodeInvalidPackage)
	assertCode(t, e.ValidateInput("my-pack", domain.PublishOptions{Version: "nope"}), domain.CodeInvalidVersion)
	assertCode(t, e.ValidateInput("my-pack", domain.PublishOptions{Platform: "emacs"}), domain.CodeInvalidPlatform)
	assertCode(t, e.ValidateInput("my-pack", domain.PublishOptions{Visibility: "hidden"}), domain.CodeInvalidPackage)
}

func TestValidateFilePath(t *testing.T) {
	e := New()

	dir := t.TempDir()
	file := filepath.Join(dir, "pkg.taptik")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))

	assert.NoError(t, e.ValidateFilePath(file))
	assertCode(t, e.ValidateFilePath(filepath.Join(dir, "missing")), domain.CodeSourceFileMissing)
	assertCode(t, e.ValidateFilePath(dir), domain.CodeInvalidPackage)
	assertCode(t, e.ValidateFilePath(""), domain.CodeSourceFileMissing)
}
