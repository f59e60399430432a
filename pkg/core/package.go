package core

import (
	"fmt"
	"path/filepath"
)

// DepKind classifies a dependency edge.
type DepKind string

// Dependency kinds.
const (
	// DepNormal edges are part of every build of the declaring package.
	DepNormal DepKind = "normal"
	// DepDev edges only participate in the declaring package's own test build.
	DepDev DepKind = "dev"
)

// SourceKind describes where a dependency comes from.
type SourceKind string

// Source kinds. Only SourcePath is resolved locally.
const (
	SourcePath     SourceKind = "path"
	SourceGit      SourceKind = "git"
	SourceRegistry SourceKind = "registry"
)

// Dependency is a single dependency declaration from a manifest.
type Dependency struct {
	// Name is the declared package name
	Name string
	// Version is an optional version requirement (e.g. "0.5.0", "=1.2.3")
	Version string
	// Source is the kind of source the dependency is fetched from
	Source SourceKind
	// Path is the declared path, relative to the declaring package directory
	Path string
	// Git is the repository URL for git dependencies
	Git string
	// Registry is the registry name for registry dependencies
	Registry string
	// Kind is the edge classification
	Kind DepKind
}

// IsPath reports whether the dependency is declared by local path.
func (d Dependency) IsPath() bool {
	return d.Source == SourcePath
}

// String returns a short description of the declaration.
func (d Dependency) String() string {
	switch d.Source {
	case SourcePath:
		return fmt.Sprintf("%s (path %s)", d.Name, d.Path)
	case SourceGit:
		return fmt.Sprintf("%s (git %s)", d.Name, d.Git)
	default:
		if d.Version != "" {
			return fmt.Sprintf("%s %s", d.Name, d.Version)
		}
		return d.Name
	}
}

// PackageID identifies a loaded package by name, version and canonical directory.
type PackageID struct {
	Name    string
	Version string
	Path    string
}

// Key returns the graph node key for the package.
func (id PackageID) Key() string {
	return id.Name + "@" + id.Version + "@" + id.Path
}

// String returns "name vX.Y.Z".
func (id PackageID) String() string {
	return id.Name + " v" + id.Version
}

// URL returns the file URL of the package directory.
func (id PackageID) URL() string {
	return "file://" + filepath.ToSlash(id.Path)
}

// TargetKind classifies what a package produces.
type TargetKind string

// Target kinds.
const (
	TargetLib  TargetKind = "lib"
	TargetBin  TargetKind = "bin"
	TargetBoth TargetKind = "lib+bin"
)

// LibTarget describes the library target of a package.
type LibTarget struct {
	Name    string
	Path    string
	Doctest bool
}

// BinTarget describes a binary target of a package.
type BinTarget struct {
	Name string
	Path string
}

// Package is a package loaded from a manifest. Packages are immutable once loaded.
type Package struct {
	ID           PackageID
	ManifestPath string
	Authors      []string
	Dependencies []Dependency
	// BuildScript is the build script path relative to the package directory
	BuildScript string
	// BuildInputs are globs (relative to the package directory) the build script reads
	BuildInputs []string
	Lib         *LibTarget
	Bins        []BinTarget
}

// Name returns the package name.
func (p *Package) Name() string { return p.ID.Name }

// Version returns the package version.
func (p *Package) Version() string { return p.ID.Version }

// Dir returns the canonical package directory.
func (p *Package) Dir() string { return p.ID.Path }

// Kind reports whether the package is a library, a binary, or both.
func (p *Package) Kind() TargetKind {
	switch {
	case p.Lib != nil && len(p.Bins) > 0:
		return TargetBoth
	case len(p.Bins) > 0:
		return TargetBin
	default:
		return TargetLib
	}
}

// Doctest reports whether documentation tests are enabled for the library target.
func (p *Package) Doctest() bool {
	return p.Lib != nil && p.Lib.Doctest
}

// HasBuildScript reports whether the package declares a build script.
func (p *Package) HasBuildScript() bool {
	return p.BuildScript != ""
}

// BuildScriptPath returns the absolute path of the build script, or "".
func (p *Package) BuildScriptPath() string {
	if p.BuildScript == "" {
		return ""
	}
	if filepath.IsAbs(p.BuildScript) {
		return p.BuildScript
	}
	return filepath.Join(p.ID.Path, p.BuildScript)
}

// DependenciesOfKind returns the declarations with the given kind, in manifest order.
func (p *Package) DependenciesOfKind(kind DepKind) []Dependency {
	var deps []Dependency
	for _, d := range p.Dependencies {
		if d.Kind == kind {
			deps = append(deps, d)
		}
	}
	return deps
}
