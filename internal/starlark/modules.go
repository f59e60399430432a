package starlark

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
)

// moduleEntry caches one loaded module. loading is set while the module's
// top level is running, so a load that reaches it again is a cycle.
type moduleEntry struct {
	exports starlark.StringDict
	err     error
	loading bool
}

// load implements the load statement. Module paths are relative to the
// package directory and must stay inside it; every loaded file becomes a
// script input, so editing a helper reruns the script.
func (ec *ExecutionContext) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	if filepath.Ext(module) != ".star" {
		return nil, fmt.Errorf("load: module %q must be a .star file", module)
	}
	abs := ec.resolve(module)
	if !within(ec.Package.Dir, abs) {
		return nil, fmt.Errorf("load: module %q is outside the package directory", module)
	}

	if e, ok := ec.modules[abs]; ok {
		if e.loading {
			return nil, fmt.Errorf("load: cycle in load graph at %q", module)
		}
		return e.exports, e.err
	}
	e := &moduleEntry{loading: true}
	ec.modules[abs] = e
	e.exports, e.err = ec.execModule(module, abs)
	e.loading = false
	return e.exports, e.err
}

func (ec *ExecutionContext) execModule(module, abs string) (starlark.StringDict, error) {
	content, err := os.ReadFile(abs) //nolint:gosec // G304: path is confined to the package directory
	if err != nil {
		return nil, fmt.Errorf("load: failed to read module %q: %w", module, err)
	}
	ec.recordInput(abs)

	globals, err := starlark.ExecFileOptions(fileOptions, ec.newThread(module), module, content, ec.Globals())
	if err != nil {
		return nil, err
	}

	// Names starting with _ stay private to the module
	exports := make(starlark.StringDict, len(globals))
	for name, value := range globals {
		if !strings.HasPrefix(name, "_") {
			exports[name] = value
		}
	}
	return exports, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
