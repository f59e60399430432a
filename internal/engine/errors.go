package engine

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

var (
	// ErrPackageNotFound indicates a package filter matched no package in the graph.
	ErrPackageNotFound = errors.New("package not found")

	// ErrScript indicates a build script failed.
	ErrScript = errors.New("build script failed")

	// ErrCompile indicates the compiler failed.
	ErrCompile = errors.New("compilation failed")
)

// UnitError is a failure while building one unit. It matches ErrScript or
// ErrCompile with errors.Is and unwraps to the underlying cause.
type UnitError struct {
	Kind error
	Op   string
	Unit core.Unit
	Err  error
}

func (e *UnitError) Error() string {
	if e.Kind == ErrScript {
		return fmt.Sprintf("failed to run build script for `%s`", e.Unit)
	}
	return fmt.Sprintf("failed to %s `%s`", e.Op, e.Unit)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

func (e *UnitError) Is(target error) bool {
	return target == e.Kind
}

func scriptError(u core.Unit, err error) error {
	return &UnitError{Kind: ErrScript, Op: "run build script", Unit: u, Err: err}
}

func compileError(u core.Unit, err error) error {
	return &UnitError{Kind: ErrCompile, Op: "compile", Unit: u, Err: err}
}

// specError reports a package filter that matched nothing. It matches
// ErrPackageNotFound.
type specError struct {
	spec string
}

func (e *specError) Error() string {
	return fmt.Sprintf("package ID specification `%s` did not match any packages", e.spec)
}

func (e *specError) Is(target error) bool {
	return target == ErrPackageNotFound
}

func packageNotFound(name string) error {
	return &specError{spec: name}
}
