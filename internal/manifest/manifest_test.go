package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapbuild/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestParse_FullManifest(t *testing.T) {
	data := []byte(`
package:
  name: foo
  version: 0.5.0
  authors: ["wycats@example.com"]
  build: build.star
  build_inputs: ["src/*.in"]
dependencies:
  bar: { path: bar, version: 0.5.0 }
  baz: "1.0"
dev_dependencies:
  qux: { git: "git://example.com/path/to/nowhere" }
lib:
  name: foo
  doctest: false
bin:
  - name: foo-cli
`)
	pkg, err := Parse(data, "/src/foo", "/src/foo/leapbuild.yaml")
	require.NoError(t, err)

	assert.Equal(t, core.PackageID{Name: "foo", Version: "0.5.0", Path: "/src/foo"}, pkg.ID)
	assert.Equal(t, "build.star", pkg.BuildScript)
	assert.Equal(t, []string{"src/*.in"}, pkg.BuildInputs)
	assert.Equal(t, core.TargetBoth, pkg.Kind())
	assert.False(t, pkg.Doctest())

	require.Len(t, pkg.Dependencies, 3)
	bar := pkg.Dependencies[0]
	assert.Equal(t, "bar", bar.Name)
	assert.Equal(t, core.SourcePath, bar.Source)
	assert.Equal(t, "bar", bar.Path)
	assert.Equal(t, core.DepNormal, bar.Kind)

	baz := pkg.Dependencies[1]
	assert.Equal(t, core.SourceRegistry, baz.Source)
	assert.Equal(t, "1.0", baz.Version)

	qux := pkg.Dependencies[2]
	assert.Equal(t, core.SourceGit, qux.Source)
	assert.Equal(t, core.DepDev, qux.Kind)
}

func TestParse_DefaultsToLibrary(t *testing.T) {
	pkg, err := Parse([]byte("package: {name: bar, version: 0.5.0}\n"), "/x", "/x/leapbuild.yaml")
	require.NoError(t, err)
	assert.Equal(t, core.TargetLib, pkg.Kind())
	require.NotNil(t, pkg.Lib)
	assert.Equal(t, "bar", pkg.Lib.Name)
	assert.True(t, pkg.Doctest())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errSubstr string
	}{
		{"missing name", "package: {version: 0.1.0}", "package.name is required"},
		{"bad version", "package: {name: a, version: latest}", "invalid version"},
		{"v prefix", "package: {name: a, version: v1.0.0}", "invalid version"},
		{"bad yaml", "package: [", "yaml"},
		{"two sources", "package: {name: a, version: 0.1.0}\ndependencies:\n  b: {path: b, git: x}\n", "only one of"},
		{"no source", "package: {name: a, version: 0.1.0}\ndependencies:\n  b: {}\n", "is required"},
		{"bad requirement", "package: {name: a, version: 0.1.0}\ndependencies:\n  b: {path: b, version: banana}\n", "invalid version requirement"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), "/x", "/x/leapbuild.yaml")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, errors.Unwrap(err).Error(), tt.errSubstr)
		})
	}
}

func TestLoader_NotFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-a-manifest"), nil, 0o644))

	_, err := NewLoader(nil).Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	canonical, _ := filepath.EvalSymlinks(dir)
	assert.Equal(t, "could not find `leapbuild.yaml` in `"+canonical+"`", err.Error())
}

func TestLoader_MissingDirectoryKeepsCause(t *testing.T) {
	_, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, os.ErrNotExist, "cause should be the missing directory")
}

func TestLoader_LoadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "package: {name: foo, version: 1.2.3}\n")

	l := NewLoader(nil)
	first, err := l.Load(dir)
	require.NoError(t, err)
	second, err := l.Load(filepath.Join(dir, "."))
	require.NoError(t, err)

	assert.Same(t, first, second)
	canonical, _ := filepath.EvalSymlinks(dir)
	assert.Equal(t, canonical, first.Dir())
	assert.Equal(t, filepath.Join(canonical, FileName), first.ManifestPath)
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "package: {name: foo, version: 1.0.0}\n")
	nested := filepath.Join(root, "src", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)

	_, err = Find(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFromManifestPath(t *testing.T) {
	assert.Equal(t, "a/b", FromManifestPath("a/b/leapbuild.yaml"))
	assert.Equal(t, "a/b", FromManifestPath("a/b"))
}
