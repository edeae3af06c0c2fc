// Package fileval implements the pre-pipeline file validation gate:
// extension allowlist, size bound, magic-byte sniffing, and the
// ZIP-central-directory member check for DOCX/HWPX.
package fileval

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// AllowedExtensions are the only extensions Submit accepts.
var AllowedExtensions = map[string]bool{
	"pdf":  true,
	"docx": true,
	"doc":  true,
	"hwp":  true,
	"hwpx": true,
}

// dangerousSegments flags double-extension smuggling, e.g. "resume.exe.pdf".
var dangerousSegments = map[string]bool{
	"exe": true, "bat": true, "js": true, "vbs": true, "php": true,
	"sh": true, "cmd": true, "ps1": true, "msi": true, "scr": true,
}

// requiredZIPMembers lists, per ZIP-based format, member path substrings of
// which at least one must appear in the central directory.
var requiredZIPMembers = map[string][]string{
	"docx": {"word/document.xml", "[Content_Types].xml"},
	"hwpx": {"Contents/content.hpf", "META-INF/container.xml"},
}

// defaultMaxFileSize bounds accepted uploads when Validate is given no
// positive limit.
const defaultMaxFileSize = 50 * 1024 * 1024

// Validate runs the full pre-pipeline gate against the given filename and
// content, returning a domain.ErrFileValidation-wrapped error describing the
// first failure found.
func Validate(filename string, data []byte, maxFileSize int64) error {
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFileSize
	}
	if err := validateExtension(filename); err != nil {
		return err
	}
	if err := validateSize(data, maxFileSize); err != nil {
		return err
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if err := validateMagicBytes(ext, data); err != nil {
		return err
	}
	if members, ok := requiredZIPMembers[ext]; ok {
		if err := validateZIPMembers(data, members); err != nil {
			return err
		}
	}
	return nil
}

func validateExtension(filename string) error {
	segments := strings.Split(filename, ".")
	if len(segments) < 2 {
		return fmt.Errorf("%w: missing extension", domain.ErrFileValidation)
	}
	final := strings.ToLower(segments[len(segments)-1])
	if !AllowedExtensions[final] {
		return fmt.Errorf("%w: unsupported extension %q", domain.ErrFileValidation, final)
	}
	// Double-extension smuggling: any intermediate segment (not the first,
	// not the final) that matches a dangerous list is rejected outright.
	for _, seg := range segments[1 : len(segments)-1] {
		if dangerousSegments[strings.ToLower(seg)] {
			return fmt.Errorf("%w: dangerous intermediate extension %q in %q", domain.ErrFileValidation, seg, filename)
		}
	}
	return nil
}

func validateSize(data []byte, maxFileSize int64) error {
	n := int64(len(data))
	if n == 0 {
		return fmt.Errorf("%w: empty file", domain.ErrFileValidation)
	}
	if n > maxFileSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", domain.ErrFileValidation, n, maxFileSize)
	}
	return nil
}

func validateMagicBytes(ext string, data []byte) error {
	switch ext {
	case "pdf":
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return fmt.Errorf("%w: pdf magic bytes mismatch", domain.ErrFileValidation)
		}
	case "docx", "hwpx":
		if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
			return fmt.Errorf("%w: zip magic bytes mismatch for %s", domain.ErrFileValidation, ext)
		}
	case "doc", "hwp":
		oleMagic := []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
		if !bytes.HasPrefix(data, oleMagic) {
			return fmt.Errorf("%w: OLE CFB magic bytes mismatch for %s", domain.ErrFileValidation, ext)
		}
	default:
		// mimetype sniffing catches anything this switch doesn't cover.
		mt := mimetype.Detect(data)
		if mt == nil {
			return fmt.Errorf("%w: could not detect content type", domain.ErrFileValidation)
		}
	}
	return nil
}

func validateZIPMembers(data []byte, required []string) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: invalid zip central directory: %v", domain.ErrFileValidation, err)
	}
	for _, f := range r.File {
		for _, req := range required {
			if strings.Contains(f.Name, req) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: zip central directory missing required member", domain.ErrFileValidation)
}
