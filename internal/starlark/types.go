// Package starlark provides the execution environment for Starlark build
// scripts: predeclared globals describing the package and builtins for
// reading, writing and declaring the files a script depends on.
package starlark

import (
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// PackageInfo describes the package whose build script is running.
// Exposed as the "package" global.
type PackageInfo struct {
	Name    string
	Version string
	Dir     string
	Authors []string
	Profile string
}

// ToStarlark converts PackageInfo to a frozen Starlark struct.
func (p *PackageInfo) ToStarlark() starlark.Value {
	v := starlarkstruct.FromStringDict(starlark.String("package"), starlark.StringDict{
		"name":    starlark.String(p.Name),
		"version": starlark.String(p.Version),
		"dir":     starlark.String(p.Dir),
		"authors": stringList(p.Authors),
		"profile": starlark.String(p.Profile),
	})
	v.Freeze()
	return v
}

func stringList(ss []string) *starlark.List {
	elems := make([]starlark.Value, len(ss))
	for i, s := range ss {
		elems[i] = starlark.String(s)
	}
	return starlark.NewList(elems)
}
