package testutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Epoch is the base time fixtures are moved to before a test makes edits.
// Any time.Now() afterwards is strictly later.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Project is a package tree rooted in a temporary directory.
type Project struct {
	t    testing.TB
	Root string
}

// NewProject creates an empty project. Root is symlink-evaluated so it compares
// equal to the canonical paths packages are loaded with.
func NewProject(t testing.TB) *Project {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("failed to resolve temp dir: %v", err)
	}
	return &Project{t: t, Root: root}
}

// Path joins rel (slash separated) onto the project root.
func (p *Project) Path(rel ...string) string {
	parts := append([]string{p.Root}, rel...)
	return filepath.FromSlash(filepath.Join(parts...))
}

// File writes content to rel, creating parent directories.
func (p *Project) File(rel, content string) *Project {
	p.t.Helper()
	path := p.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		p.t.Fatalf("failed to create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		p.t.Fatalf("failed to write %s: %v", rel, err)
	}
	return p
}

// Manifest writes the manifest of the package in dir ("" for the root).
func (p *Project) Manifest(dir, content string) *Project {
	p.t.Helper()
	return p.File(filepath.ToSlash(filepath.Join(dir, "leapbuild.yaml")), content)
}

// Package writes a minimal manifest plus a source file for a library package.
// deps are "name=path" path dependencies.
func (p *Project) Package(dir, name, version string, deps ...string) *Project {
	p.t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "package:\n  name: %s\n  version: %s\n", name, version)
	if len(deps) > 0 {
		b.WriteString("dependencies:\n")
		for _, d := range deps {
			depName, depPath, ok := strings.Cut(d, "=")
			if !ok {
				p.t.Fatalf("dependency %q must be name=path", d)
			}
			fmt.Fprintf(&b, "  %s: { path: %q }\n", depName, depPath)
		}
	}
	p.Manifest(dir, b.String())
	return p.File(filepath.ToSlash(filepath.Join(dir, "src", "lib.src")), "// "+name+"\n")
}

// Remove deletes rel.
func (p *Project) Remove(rel string) {
	p.t.Helper()
	if err := os.RemoveAll(p.Path(rel)); err != nil {
		p.t.Fatalf("failed to remove %s: %v", rel, err)
	}
}

// Touch sets the modification time of rel.
func (p *Project) Touch(rel string, at time.Time) {
	p.t.Helper()
	if err := os.Chtimes(p.Path(rel), at, at); err != nil {
		p.t.Fatalf("failed to touch %s: %v", rel, err)
	}
}

// Edit rewrites rel and stamps it with at.
func (p *Project) Edit(rel, content string, at time.Time) {
	p.t.Helper()
	p.File(rel, content)
	p.Touch(rel, at)
}

// MoveIntoThePast stamps every file beneath rel ("" for the whole project) with Epoch.
func (p *Project) MoveIntoThePast(rel string) {
	p.t.Helper()
	err := filepath.WalkDir(p.Path(rel), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, Epoch, Epoch)
	})
	if err != nil {
		p.t.Fatalf("failed to move %s into the past: %v", rel, err)
	}
}

// Exists reports whether rel exists.
func (p *Project) Exists(rel string) bool {
	_, err := os.Stat(p.Path(rel))
	return err == nil
}

// URL returns the file URL of rel, as printed in progress lines.
func (p *Project) URL(rel string) string {
	return "file://" + filepath.ToSlash(p.Path(rel))
}
