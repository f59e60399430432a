// Package fingerprint decides whether a unit's persisted build output is still
// valid by comparing input modification times against the recorded completion
// time, recursively through dependencies.
package fingerprint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapbuild/internal/manifest"
	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// CollectOptions controls input collection.
type CollectOptions struct {
	// TargetDir is excluded from the walk when it lies inside the package.
	TargetDir string
	// ScriptInputs are files a previous build script run reported reading.
	ScriptInputs []string
}

// CollectInputs returns the input files of pkg with their current modification
// times, sorted by path. Paths inside the package directory are relative and
// slash separated; paths outside it are absolute.
//
// Every regular file beneath the package directory is an input except hidden
// entries, directories named "target", the configured target directory and
// directories holding another package's manifest. The build script, files
// matching the package's BuildInputs globs and opts.ScriptInputs are added.
// Listed inputs that do not exist are skipped.
func CollectInputs(pkg *core.Package, opts CollectOptions) ([]core.InputStamp, error) {
	dir := pkg.Dir()
	targetDir := ""
	if opts.TargetDir != "" {
		if abs, err := filepath.Abs(opts.TargetDir); err == nil {
			targetDir = abs
		}
	}

	stamps := make(map[string]core.InputStamp)
	add := func(path string, info fs.FileInfo) {
		rel := displayPath(dir, path)
		stamps[rel] = core.InputStamp{Path: rel, ModTime: info.ModTime()}
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if name == "target" || path == targetDir || manifest.Exists(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		add(path, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect inputs of `%s`: %w", pkg.ID, err)
	}

	var extra []string
	if pkg.HasBuildScript() {
		extra = append(extra, pkg.BuildScriptPath())
	}
	for _, pattern := range pkg.BuildInputs {
		matches, err := filepath.Glob(resolvePath(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid build input pattern %q of `%s`: %w", pattern, pkg.ID, err)
		}
		extra = append(extra, matches...)
	}
	for _, p := range opts.ScriptInputs {
		extra = append(extra, resolvePath(dir, p))
	}

	for _, path := range extra {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat input `%s` of `%s`: %w", path, pkg.ID, err)
		}
		if info.IsDir() {
			continue
		}
		add(path, info)
	}

	out := make([]core.InputStamp, 0, len(stamps))
	for _, s := range stamps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func resolvePath(dir, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}

// displayPath returns path relative to dir when it lies inside dir.
func displayPath(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
