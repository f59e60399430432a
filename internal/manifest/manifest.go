// Package manifest loads package manifests (leapbuild.yaml) into core.Package values.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapbuild/pkg/core"
	"gopkg.in/yaml.v3"
)

// FileName is the manifest file looked up in every package directory.
const FileName = "leapbuild.yaml"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// rawManifest mirrors the YAML document.
type rawManifest struct {
	Package         rawPackage               `yaml:"package"`
	Dependencies    map[string]rawDependency `yaml:"dependencies"`
	DevDependencies map[string]rawDependency `yaml:"dev_dependencies"`
	Lib             *rawLib                  `yaml:"lib"`
	Bin             []rawBin                 `yaml:"bin"`
}

type rawPackage struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Authors     []string `yaml:"authors"`
	Build       string   `yaml:"build"`
	BuildInputs []string `yaml:"build_inputs"`
}

type rawDependency struct {
	Version  string `yaml:"version"`
	Path     string `yaml:"path"`
	Git      string `yaml:"git"`
	Registry string `yaml:"registry"`
}

// UnmarshalYAML accepts either a bare version string or a mapping.
func (d *rawDependency) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		d.Version = value.Value
		return nil
	}
	type plain rawDependency
	return value.Decode((*plain)(d))
}

type rawLib struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	Doctest *bool  `yaml:"doctest"`
}

type rawBin struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Parse decodes manifest bytes for the package rooted at dir.
// manifestPath is only used for error messages and the resulting Package.
func Parse(data []byte, dir, manifestPath string) (*core.Package, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Path: manifestPath, Kind: ErrInvalid, Err: err}
	}

	p := raw.Package
	if p.Name == "" {
		return nil, invalidf(manifestPath, "package.name is required")
	}
	if !namePattern.MatchString(p.Name) {
		return nil, invalidf(manifestPath, "invalid package name %q", p.Name)
	}
	if !ValidVersion(p.Version) {
		return nil, invalidf(manifestPath, "invalid version %q for package %s", p.Version, p.Name)
	}

	pkg := &core.Package{
		ID:           core.PackageID{Name: p.Name, Version: p.Version, Path: dir},
		ManifestPath: manifestPath,
		Authors:      p.Authors,
		BuildScript:  filepath.FromSlash(p.Build),
		BuildInputs:  p.BuildInputs,
	}

	normal, err := convertDependencies(manifestPath, raw.Dependencies, core.DepNormal)
	if err != nil {
		return nil, err
	}
	dev, err := convertDependencies(manifestPath, raw.DevDependencies, core.DepDev)
	if err != nil {
		return nil, err
	}
	pkg.Dependencies = append(normal, dev...)

	if raw.Lib != nil {
		lib := &core.LibTarget{Name: raw.Lib.Name, Path: raw.Lib.Path, Doctest: true}
		if lib.Name == "" {
			lib.Name = p.Name
		}
		if raw.Lib.Doctest != nil {
			lib.Doctest = *raw.Lib.Doctest
		}
		pkg.Lib = lib
	}
	for _, b := range raw.Bin {
		name := b.Name
		if name == "" {
			name = p.Name
		}
		pkg.Bins = append(pkg.Bins, core.BinTarget{Name: name, Path: b.Path})
	}
	// A package without explicit targets is a library named after itself.
	if pkg.Lib == nil && len(pkg.Bins) == 0 {
		pkg.Lib = &core.LibTarget{Name: p.Name, Doctest: true}
	}

	return pkg, nil
}

// convertDependencies turns a dependency table into declarations sorted by name.
func convertDependencies(manifestPath string, table map[string]rawDependency, kind core.DepKind) ([]core.Dependency, error) {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := make([]core.Dependency, 0, len(names))
	for _, name := range names {
		raw := table[name]
		if !namePattern.MatchString(name) {
			return nil, invalidf(manifestPath, "invalid dependency name %q", name)
		}
		if _, err := ParseVersionReq(raw.Version); err != nil {
			return nil, invalidf(manifestPath, "dependency %s: %v", name, err)
		}

		dep := core.Dependency{Name: name, Version: raw.Version, Kind: kind}
		sources := 0
		if raw.Path != "" {
			dep.Source, dep.Path = core.SourcePath, filepath.FromSlash(raw.Path)
			sources++
		}
		if raw.Git != "" {
			dep.Source, dep.Git = core.SourceGit, raw.Git
			sources++
		}
		if raw.Registry != "" {
			dep.Source, dep.Registry = core.SourceRegistry, raw.Registry
			sources++
		}
		switch {
		case sources > 1:
			return nil, invalidf(manifestPath, "dependency %s: only one of path, git or registry may be set", name)
		case sources == 0 && raw.Version == "":
			return nil, invalidf(manifestPath, "dependency %s: a version, path, git or registry source is required", name)
		case sources == 0:
			dep.Source = core.SourceRegistry
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// Loader loads manifests from directories. Results are memoized per canonical
// directory for the lifetime of the Loader, which matches one invocation.
type Loader struct {
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*core.Package
}

// NewLoader creates a Loader. A nil logger discards output.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{logger: logger, cache: make(map[string]*core.Package)}
}

// Load loads the manifest in dir.
func (l *Loader) Load(dir string) (*core.Package, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, notFound(dir, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, notFound(abs, err)
	}

	l.mu.Lock()
	if pkg, ok := l.cache[canonical]; ok {
		l.mu.Unlock()
		return pkg, nil
	}
	l.mu.Unlock()

	manifestPath := filepath.Join(canonical, FileName)
	info, err := os.Stat(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(canonical, nil)
	}
	if err != nil {
		return nil, &Error{Path: manifestPath, Kind: ErrUnreadable, Err: err}
	}
	if info.IsDir() {
		return nil, notFound(canonical, fmt.Errorf("`%s` is a directory", manifestPath))
	}

	data, err := os.ReadFile(manifestPath) //nolint:gosec // G304: path is built from a package directory
	if err != nil {
		return nil, &Error{Path: manifestPath, Kind: ErrUnreadable, Err: err}
	}

	pkg, err := Parse(data, canonical, manifestPath)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("loaded manifest", "package", pkg.ID.String(), "path", canonical, "dependencies", len(pkg.Dependencies))

	l.mu.Lock()
	l.cache[canonical] = pkg
	l.mu.Unlock()
	return pkg, nil
}

// Exists reports whether dir directly contains a manifest.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && !info.IsDir()
}

// maxFindDepth bounds the upward walk in Find.
const maxFindDepth = 32

// Find searches startDir and its ancestors for a manifest and returns the
// directory containing it.
func Find(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	dir := abs
	for i := 0; i < maxFindDepth; i++ {
		if Exists(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", notFound(abs, fmt.Errorf("no `%s` in `%s` or any parent directory", FileName, abs))
}

// FromManifestPath accepts either a manifest file path or a package directory
// and returns the package directory.
func FromManifestPath(p string) string {
	if strings.EqualFold(filepath.Base(p), FileName) {
		return filepath.Dir(p)
	}
	return p
}
