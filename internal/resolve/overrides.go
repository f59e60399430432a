package resolve

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapbuild/internal/manifest"
	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// OverrideTable holds packages that replace declared dependencies by name.
// Entries keep the order in which their paths were configured.
type OverrideTable struct {
	entries []*core.Package
	byName  map[string][]*core.Package
}

// NewOverrideTable builds a table from already loaded packages.
// The same canonical directory listed twice is kept once; two packages with
// the same name and version at different directories fail with ErrOverrideCollision.
func NewOverrideTable(pkgs []*core.Package) (*OverrideTable, error) {
	t := &OverrideTable{byName: make(map[string][]*core.Package)}
	seen := make(map[string]bool)
	for _, pkg := range pkgs {
		if seen[pkg.Dir()] {
			continue
		}
		seen[pkg.Dir()] = true

		for _, other := range t.byName[pkg.Name()] {
			if other.Version() == pkg.Version() {
				return nil, graphErrorf(ErrOverrideCollision,
					"override collision: `%s` is provided by both `%s` and `%s`",
					pkg.ID, other.Dir(), pkg.Dir())
			}
		}
		t.entries = append(t.entries, pkg)
		t.byName[pkg.Name()] = append(t.byName[pkg.Name()], pkg)
	}
	return t, nil
}

// LoadOverrides scans each path recursively for manifests and builds a table.
// Hidden directories and directories named "target" are not descended into.
func LoadOverrides(ctx context.Context, loader *manifest.Loader, paths []string, logger *slog.Logger) (*OverrideTable, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var pkgs []*core.Package
	for _, root := range paths {
		found, err := scanPackages(ctx, loader, root)
		if err != nil {
			return nil, err
		}
		logger.Debug("scanned override path", "path", root, "packages", len(found))
		pkgs = append(pkgs, found...)
	}
	return NewOverrideTable(pkgs)
}

func scanPackages(ctx context.Context, loader *manifest.Loader, root string) ([]*core.Package, error) {
	var pkgs []*core.Package
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "target") {
			return filepath.SkipDir
		}
		if !manifest.Exists(path) {
			return nil
		}
		pkg, err := loader.Load(path)
		if err != nil {
			return err
		}
		pkgs = append(pkgs, pkg)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load override path `%s`: %w", root, err)
	}
	return pkgs, nil
}

// Match returns the override for dep: the first entry with the same name whose
// version satisfies the declared requirement. A nil table matches nothing.
func (t *OverrideTable) Match(dep core.Dependency) (*core.Package, bool) {
	if t == nil {
		return nil, false
	}
	req, err := manifest.ParseVersionReq(dep.Version)
	if err != nil {
		return nil, false
	}
	for _, pkg := range t.byName[dep.Name] {
		if req.Matches(pkg.Version()) {
			return pkg, true
		}
	}
	return nil, false
}

// Len returns the number of distinct override packages.
func (t *OverrideTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns the override packages in configuration order.
func (t *OverrideTable) Entries() []*core.Package {
	if t == nil {
		return nil
	}
	return t.entries
}
