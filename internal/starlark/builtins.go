package starlark

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
)

// Predeclared returns the globals available to a build script:
// package, out_dir and the file builtins.
func Predeclared(ec *ExecutionContext) starlark.StringDict {
	return starlark.StringDict{
		"package":          ec.Package.ToStarlark(),
		"out_dir":          starlark.String(ec.OutDir),
		"read":             starlark.NewBuiltin("read", ec.builtinRead),
		"write":            starlark.NewBuiltin("write", ec.builtinWrite),
		"copy":             starlark.NewBuiltin("copy", ec.builtinCopy),
		"exists":           starlark.NewBuiltin("exists", ec.builtinExists),
		"getenv":           starlark.NewBuiltin("getenv", ec.builtinGetenv),
		"rerun_if_changed": starlark.NewBuiltin("rerun_if_changed", ec.builtinRerunIfChanged),
	}
}

// read(path) returns the contents of a file and records it as an input.
func (ec *ExecutionContext) builtinRead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	abs := ec.resolve(path)
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	ec.recordInput(abs)
	return starlark.String(data), nil
}

// write(path, content) writes a file inside the package or out directory.
func (ec *ExecutionContext) builtinWrite(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, content string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "content", &content); err != nil {
		return nil, err
	}
	abs, err := ec.destination(b.Name(), path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

// copy(src, dst) copies a file, recording src as an input.
func (ec *ExecutionContext) builtinCopy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, dst string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "src", &src, "dst", &dst); err != nil {
		return nil, err
	}
	from := ec.resolve(src)
	to, err := ec.destination(b.Name(), dst)
	if err != nil {
		return nil, err
	}
	if err := copyFile(from, to); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	ec.recordInput(from)
	return starlark.None, nil
}

// exists(path) reports whether a file or directory exists.
func (ec *ExecutionContext) builtinExists(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	_, err := os.Stat(ec.resolve(path))
	return starlark.Bool(err == nil), nil
}

// getenv(name, default=None) looks up a variable.
func (ec *ExecutionContext) builtinGetenv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := ec.getenv(name); ok {
		return starlark.String(v), nil
	}
	return def, nil
}

// rerun_if_changed(*paths) declares extra inputs without reading them.
func (ec *ExecutionContext) builtinRerunIfChanged(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	for i, arg := range args {
		s, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d: got %s, want string", b.Name(), i+1, arg.Type())
		}
		ec.recordInput(ec.resolve(s))
	}
	return starlark.None, nil
}

// destination resolves a write target and creates its parent directory.
func (ec *ExecutionContext) destination(op, path string) (string, error) {
	abs := ec.resolve(path)
	if !ec.writable(abs) {
		return "", fmt.Errorf("%s: %s is outside the package and out directories", op, path)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return abs, nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
