package resolve

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// Graph error kinds.
var (
	// ErrCycle indicates the dependency declarations form a cycle.
	ErrCycle = errors.New("dependency cycle")

	// ErrOverrideCollision indicates two override packages share a name and
	// version but live at different paths.
	ErrOverrideCollision = errors.New("override collision")

	// ErrPackageCollision indicates two distinct packages in one graph share a
	// name and version.
	ErrPackageCollision = errors.New("package collision")

	// ErrUnsupportedSource indicates a dependency that can only be satisfied by
	// fetching (git or registry) and no override provides it.
	ErrUnsupportedSource = errors.New("unsupported dependency source")

	// ErrDependencyMismatch indicates the package found for a declaration has a
	// different name or a version outside the declared requirement.
	ErrDependencyMismatch = errors.New("dependency mismatch")
)

// GraphError is a structural error found while building the dependency graph.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	return e.Msg
}

// Is matches the error's kind.
func (e *GraphError) Is(target error) bool {
	return target == e.Kind
}

func graphErrorf(kind error, format string, args ...any) error {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// LoadError reports that a declared dependency could not be loaded.
// The underlying manifest error is available through Unwrap.
type LoadError struct {
	Dependency string
	Dependent  core.PackageID
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load dependency `%s` of `%s`", e.Dependency, e.Dependent)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
