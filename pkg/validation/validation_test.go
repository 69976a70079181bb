package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePackageName(t *testing.T) {
	valid := []string{"my-pack", "pack", "a1", "my.pack_v2"}
	for _, name := range valid {
		assert.NoError(t, ValidatePackageName(name), name)
	}

	invalid := []string{"", "My-Pack", "-pack", "pack-", "a..b", "a b", "a/b"}
	for _, name := range invalid {
		assert.Error(t, ValidatePackageName(name), name)
	}
}

func TestValidateVersion(t *testing.T) {
	assert.NoError(t, ValidateVersion("1.2.3"))
	assert.NoError(t, ValidateVersion("0.1.0-beta.1"))

	assert.Error(t, ValidateVersion(""))
	assert.Error(t, ValidateVersion("1.2"))
	assert.Error(t, ValidateVersion("v1.2.3"))
	assert.Error(t, ValidateVersion("not-a-version"))
}

func TestMajorVersion(t *testing.T) {
	assert.Equal(t, 2, MajorVersion("2.1.0"))
	assert.Equal(t, -1, MajorVersion("nope"))
}

func TestValidateChecksum(t *testing.T) {
	require.NoError(t, ValidateChecksum("a3f5b8c2d1e4f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1"))
	assert.Error(t, ValidateChecksum(""))
	assert.Error(t, ValidateChecksum("abc"))
	assert.Error(t, ValidateChecksum("Z3f5b8c2d1e4f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1"))
}

func TestValidateEntryName(t *testing.T) {
	assert.NoError(t, ValidateEntryName("settings/keymap.json"))
	assert.NoError(t, ValidateEntryName("taptik.json"))

	assert.Error(t, ValidateEntryName(""))
	assert.Error(t, ValidateEntryName("../etc/passwd"))
	assert.Error(t, ValidateEntryName("/etc/passwd"))
	assert.Error(t, ValidateEntryName(`C:\windows\system32`))
	assert.Error(t, ValidateEntryName("~/secrets"))
	assert.Error(t, ValidateEntryName("a/../../b"))
}

func TestValidatePath(t *testing.T) {
	got, err := ValidatePath("a/b/./c")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", got)

	_, err = ValidatePath("../escape")
	assert.Error(t, err)
	_, err = ValidatePath("/abs")
	assert.Error(t, err)
}

func TestValidatePathWithinRoot(t *testing.T) {
	assert.NoError(t, ValidatePathWithinRoot("/data", "/data/user/pkg"))
	assert.Error(t, ValidatePathWithinRoot("/data", "/data/../etc"))
	assert.Error(t, ValidatePathWithinRoot("/data", "/elsewhere"))
}
