package vcs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestForDirDetectsGit(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	u := ForDir(dir)
	if u == nil || u.Name() != "git" {
		t.Fatalf("got %v, want git upgrader", u)
	}
}

func TestForDirDetectsGitWorktreeFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: /elsewhere\n"), 0644); err != nil {
		t.Fatal(err)
	}
	u := ForDir(dir)
	if u == nil || u.Name() != "git" {
		t.Fatalf("got %v, want git upgrader", u)
	}
}

func TestForDirDetectsHg(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".hg"), 0755); err != nil {
		t.Fatal(err)
	}
	u := ForDir(dir)
	if u == nil || u.Name() != "hg" {
		t.Fatalf("got %v, want hg upgrader", u)
	}
}

func TestForDirPlainDirectory(t *testing.T) {
	if u := ForDir(t.TempDir()); u != nil {
		t.Fatalf("got %v, want nil for unmanaged directory", u)
	}
}
