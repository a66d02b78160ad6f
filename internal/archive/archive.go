// Package archive extracts package and library archives. Member paths
// are validated before anything is written: an entry that could escape
// the destination root aborts the extraction with no files on disk.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"
)

// ErrUnsafePath is returned when an archive member path could traverse
// outside the extraction root.
var ErrUnsafePath = errors.New("archive member path escapes the extraction root")

var unsafeFragments = []string{"../", ":/", `..\`, `:\`}

// unsafeMemberPath mirrors the checks applied to every member before
// extraction begins.
func unsafeMemberPath(name string) bool {
	if name == "" || name[0] == '/' {
		return true
	}
	if name == ".." || strings.HasPrefix(name, "../") {
		return true
	}
	for _, frag := range unsafeFragments {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}

// commonRoot returns the single top-level folder shared by every member,
// with a trailing slash, or "" when members do not share one. Archives
// produced by hosting platforms wrap everything in "repo-branch/"; the
// wrapper is stripped during extraction.
func commonRoot(names []string) string {
	root := ""
	for _, name := range names {
		top, _, found := strings.Cut(name, "/")
		if !found {
			return ""
		}
		if root == "" {
			root = top
			continue
		}
		if top != root {
			return ""
		}
	}
	if root == "" {
		return ""
	}
	return root + "/"
}

// ExtractZip extracts a zip archive into destDir, stripping a single
// shared top-level folder. It returns the set of absolute paths written.
// Every member path is validated before the first write.
func ExtractZip(data []byte, destDir string) (map[string]bool, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip archive: %w", err)
	}

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if unsafeMemberPath(f.Name) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafePath, f.Name)
		}
		names = append(names, f.Name)
	}
	root := commonRoot(names)

	extracted := make(map[string]bool)
	for _, f := range zr.File {
		rel := strings.TrimPrefix(f.Name, root)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}

		dest := filepath.Join(destDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return extracted, fmt.Errorf("creating directory for %s: %w", rel, err)
		}

		if err := writeZipMember(f, dest); err != nil {
			return extracted, err
		}
		extracted[dest] = true
	}
	return extracted, nil
}

func writeZipMember(f *zip.File, dest string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening archive member %s: %w", f.Name, err)
	}
	defer src.Close()

	mode := os.FileMode(0644)
	if f.Mode()&0100 != 0 {
		mode = 0755
	}

	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}

// ExtractTarXz extracts a .tar.xz archive into destDir with the same
// path validation and root stripping as ExtractZip.
func ExtractTarXz(data []byte, destDir string) (map[string]bool, error) {
	xzr, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening xz stream: %w", err)
	}

	// Two passes: validate all member paths first, then extract.
	var names []string
	tr := tar.NewReader(xzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar stream: %w", err)
		}
		clean := path.Clean(hdr.Name)
		if unsafeMemberPath(hdr.Name) || unsafeMemberPath(clean) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafePath, hdr.Name)
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, clean)
		}
	}
	root := commonRoot(names)

	xzr, err = xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening xz stream: %w", err)
	}
	tr = tar.NewReader(xzr)

	extracted := make(map[string]bool)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, fmt.Errorf("reading tar stream: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		rel := strings.TrimPrefix(path.Clean(hdr.Name), root)
		if rel == "" {
			continue
		}

		dest := filepath.Join(destDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return extracted, fmt.Errorf("creating directory for %s: %w", rel, err)
		}

		mode := os.FileMode(0644)
		if hdr.FileInfo().Mode()&0100 != 0 {
			mode = 0755
		}
		dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return extracted, fmt.Errorf("writing %s: %w", dest, err)
		}
		if _, err := io.Copy(dst, tr); err != nil {
			dst.Close()
			return extracted, fmt.Errorf("writing %s: %w", dest, err)
		}
		dst.Close()
		extracted[dest] = true
	}
	return extracted, nil
}

// Kind guesses the archive format from the URL or file name.
func Kind(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tar.xz") || strings.HasSuffix(lower, ".txz") {
		return "tar.xz"
	}
	return "zip"
}

// Extract dispatches on the archive kind.
func Extract(kind string, data []byte, destDir string) (map[string]bool, error) {
	switch kind {
	case "tar.xz":
		return ExtractTarXz(data, destDir)
	default:
		return ExtractZip(data, destDir)
	}
}
