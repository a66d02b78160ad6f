package library

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// distInfoDirName is the manifest directory for one installed
// library, named the way a Python wheel names its .dist-info.
func distInfoDirName(name, version string) string {
	return fmt.Sprintf("%s-%s.dist-info", name, version)
}

// writeDistInfo records an installed library under root: METADATA,
// INSTALLER, WHEEL and a RECORD with a sha256+size line per shipped
// file plus a self-referential entry for RECORD itself.
func writeDistInfo(root, name, version, summary, homepage string, files []string) error {
	dir := filepath.Join(root, distInfoDirName(name, version))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	metadata := fmt.Sprintf("Metadata-Version: 2.1\nName: %s\nVersion: %s\n", name, version)
	if summary != "" {
		metadata += "Summary: " + summary + "\n"
	}
	if homepage != "" {
		metadata += "Home-page: " + homepage + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "METADATA"), []byte(metadata), 0644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "INSTALLER"), []byte("packsmith\n"), 0644); err != nil {
		return err
	}
	wheel := "Wheel-Version: 1.0\nGenerator: packsmith\nRoot-Is-Purelib: true\nTag: py3-none-any\n"
	if err := os.WriteFile(filepath.Join(dir, "WHEEL"), []byte(wheel), 0644); err != nil {
		return err
	}

	var record strings.Builder
	for _, rel := range files {
		digest, size, err := hashFile(filepath.Join(root, rel))
		if err != nil {
			return fmt.Errorf("hashing %s: %w", rel, err)
		}
		fmt.Fprintf(&record, "%s,sha256=%s,%d\n", filepath.ToSlash(rel), digest, size)
	}
	for _, meta := range []string{"METADATA", "INSTALLER", "WHEEL"} {
		rel := filepath.ToSlash(filepath.Join(distInfoDirName(name, version), meta))
		digest, size, err := hashFile(filepath.Join(root, rel))
		if err != nil {
			return err
		}
		fmt.Fprintf(&record, "%s,sha256=%s,%d\n", rel, digest, size)
	}
	recordRel := filepath.ToSlash(filepath.Join(distInfoDirName(name, version), "RECORD"))
	fmt.Fprintf(&record, "%s,,\n", recordRel)

	return os.WriteFile(filepath.Join(root, recordRel), []byte(record.String()), 0644)
}

// readRecordPaths returns the file paths listed in a library's RECORD,
// relative to root.
func readRecordPaths(root, distInfoDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, distInfoDir, "RECORD"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, ",", 2)
		paths = append(paths, filepath.FromSlash(fields[0]))
	}
	return paths, scanner.Err()
}

func hashFile(path string) (digest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	size, err = io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), size, nil
}
