package safety

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/validation"
)

// MetadataEntryName is the archive entry every taptik package must carry.
const MetadataEntryName = "taptik.json"

// maxDecompressedSize bounds decompression to defend against archive bombs.
const maxDecompressedSize = 512 << 20

// ValidateStructure checks that data is a well-formed taptik package: either
// a gzip-compressed metadata+payload envelope or an archive (tar or zip)
// containing the metadata entry. Archive entry names are checked for path
// traversal.
func (e *Engine) ValidateStructure(data []byte) error {
	if len(data) == 0 {
		return domain.NewError(domain.CodeInvalidPackage, "package is empty")
	}

	switch {
	case isGzip(data):
		return validateGzip(data)
	case isZip(data):
		return validateZip(data)
	case isTar(data):
		return validateTar(data)
	default:
		return domain.NewError(domain.CodeInvalidPackage, "unrecognized package format")
	}
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func isZip(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04"))
}

func isTar(data []byte) bool {
	return len(data) > 262 && bytes.Equal(data[257:262], []byte("ustar"))
}

// validateGzip decompresses the envelope and validates the inner content:
// a tar archive or a JSON envelope with metadata and payload members.
func validateGzip(data []byte) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return domain.WrapError(domain.CodeInvalidPackage, "corrupt gzip envelope", err)
	}
	defer zr.Close()

	inner, err := io.ReadAll(io.LimitReader(zr, maxDecompressedSize))
	if err != nil {
		return domain.WrapError(domain.CodeInvalidPackage, "failed to decompress package", err)
	}

	if isTar(inner) {
		return validateTar(inner)
	}

	var envelope struct {
		Metadata json.RawMessage `json:"metadata"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(inner, &envelope); err != nil {
		return domain.WrapError(domain.CodeInvalidPackage, "package envelope is not valid JSON", err)
	}
	if len(envelope.Metadata) == 0 || len(envelope.Payload) == 0 {
		return domain.NewError(domain.CodeInvalidPackage, "package envelope missing metadata or payload")
	}
	return nil
}

func validateTar(data []byte) error {
	tr := tar.NewReader(bytes.NewReader(data))
	foundMetadata := false
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.WrapError(domain.CodeInvalidPackage, "corrupt tar archive", err)
		}
		if err := validation.ValidateEntryName(hdr.Name); err != nil {
			return domain.WrapError(domain.CodeInvalidPackage, "unsafe archive entry name", err)
		}
		if hdr.Name == MetadataEntryName {
			foundMetadata = true
		}
	}
	if !foundMetadata {
		return domain.NewError(domain.CodeInvalidPackage,
			fmt.Sprintf("archive missing required %s entry", MetadataEntryName))
	}
	return nil
}

func validateZip(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.WrapError(domain.CodeInvalidPackage, "corrupt zip archive", err)
	}
	foundMetadata := false
	for _, f := range zr.File {
		if err := validation.ValidateEntryName(f.Name); err != nil {
			return domain.WrapError(domain.CodeInvalidPackage, "unsafe archive entry name", err)
		}
		if f.Name == MetadataEntryName {
			foundMetadata = true
		}
	}
	if !foundMetadata {
		return domain.NewError(domain.CodeInvalidPackage,
			fmt.Sprintf("archive missing required %s entry", MetadataEntryName))
	}
	return nil
}

// ValidateInput checks caller-supplied publish options before any work.
func (e *Engine) ValidateInput(name string, opts domain.PublishOptions) error {
	if err := validation.ValidatePackageName(name); err != nil {
		return domain.WrapError(domain.CodeInvalidPackage, "invalid package name", err)
	}
	if opts.Version != "" {
		if err := validation.ValidateVersion(opts.Version); err != nil {
			return domain.WrapError(domain.CodeInvalidVersion, "invalid package version", err)
		}
	}
	if opts.Platform != "" && !knownPlatform(opts.Platform) {
		return domain.NewError(domain.CodeInvalidPlatform,
			fmt.Sprintf("unknown platform %q", opts.Platform))
	}
	if opts.Visibility != "" && opts.Visibility != domain.VisibilityPublic && opts.Visibility != domain.VisibilityPrivate {
		return domain.NewError(domain.CodeInvalidPackage,
			fmt.Sprintf("unknown visibility %q", opts.Visibility))
	}
	for _, tag := range opts.Tags {
		if len(tag) == 0 || len(tag) > 64 {
			return domain.NewError(domain.CodeInvalidPackage,
				fmt.Sprintf("invalid tag %q: must be 1-64 characters", tag))
		}
	}
	return nil
}

func knownPlatform(p domain.Platform) bool {
	for _, known := range domain.KnownPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// ValidateFilePath checks that path points at an existing regular file and
// carries no traversal tricks once cleaned.
func (e *Engine) ValidateFilePath(path string) error {
	if path == "" {
		return domain.NewError(domain.CodeSourceFileMissing, "package path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.WrapError(domain.CodeSourceFileMissing, "package file not found", err)
	}
	if info.IsDir() {
		return domain.NewError(domain.CodeInvalidPackage, "package path is a directory")
	}
	return nil
}
