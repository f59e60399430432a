package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no manifest exists in the directory.
	ErrNotFound = errors.New("manifest not found")

	// ErrUnreadable indicates the manifest exists but could not be read.
	ErrUnreadable = errors.New("manifest unreadable")

	// ErrInvalid indicates the manifest could not be parsed or failed validation.
	ErrInvalid = errors.New("invalid manifest")
)

// Error describes a manifest loading failure for a directory or file.
type Error struct {
	Path string // directory for ErrNotFound, manifest file otherwise
	Kind error  // one of ErrNotFound, ErrUnreadable, ErrInvalid
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return fmt.Sprintf("could not find `%s` in `%s`", FileName, e.Path)
	case ErrUnreadable:
		return fmt.Sprintf("failed to read `%s`", e.Path)
	default:
		return fmt.Sprintf("failed to parse manifest at `%s`", e.Path)
	}
}

// Unwrap returns the underlying cause so the full chain can be presented.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func notFound(dir string, cause error) error {
	return &Error{Path: dir, Kind: ErrNotFound, Err: cause}
}

func invalidf(path string, format string, args ...any) error {
	return &Error{Path: path, Kind: ErrInvalid, Err: fmt.Errorf(format, args...)}
}
