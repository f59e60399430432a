package toolchain

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/leapbuild/internal/fingerprint"
	"github.com/leapstack-labs/leapbuild/internal/manifest"
	"github.com/leapstack-labs/leapbuild/internal/testutil"
	"github.com/leapstack-labs/leapbuild/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func loadUnit(t *testing.T, dir string, profile core.Profile) core.Unit {
	t.Helper()
	pkg, err := manifest.NewLoader(nil).Load(dir)
	require.NoError(t, err)
	return core.Unit{Package: pkg, Profile: profile}
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	xr, err := xz.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(xr)
	files := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(data)
	}
	return files
}

func TestArchiveCompiler(t *testing.T) {
	p := testutil.NewProject(t)
	p.Package("", "foo", "0.5.0", "bar=bar")
	p.Package("bar", "bar", "0.5.0")
	unit := loadUnit(t, p.Root, core.ProfileTest)

	inputs, err := fingerprint.CollectInputs(unit.Package, fingerprint.CollectOptions{})
	require.NoError(t, err)
	inputs = append(inputs, core.InputStamp{Path: "/elsewhere/shared.cfg"})

	outDir := p.Path("target", "test")
	art, err := NewArchiveCompiler(testutil.NewTestLogger(t)).Compile(context.Background(), CompileRequest{
		Unit:   unit,
		OutDir: outDir,
		Inputs: inputs,
		Deps: []core.Artifact{{
			Unit: core.UnitKey{Name: "bar", Version: "0.5.0", Profile: core.ProfileBuild},
			Path: "/t/build/bar-0.5.0.tar.xz",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "foo-0.5.0-test.tar.xz"), art.Path)
	assert.Equal(t, unit.Key(), art.Unit)

	files := readArchive(t, art.Path)
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"DEPS", "src/leapbuild.yaml", "src/src/lib.src"}, names)
	assert.Equal(t, "bar 0.5.0 build /t/build/bar-0.5.0.tar.xz\n", files["DEPS"])

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging files left behind")
}

func TestArchiveCompiler_MissingInputLeavesNoArtifact(t *testing.T) {
	p := testutil.NewProject(t)
	p.Package("", "foo", "0.5.0")
	unit := loadUnit(t, p.Root, core.ProfileBuild)

	outDir := p.Path("target", "build")
	_, err := NewArchiveCompiler(nil).Compile(context.Background(), CompileRequest{
		Unit:   unit,
		OutDir: outDir,
		Inputs: []core.InputStamp{{Path: "src/gone.src"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "src/gone.src")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArtifactName(t *testing.T) {
	p := testutil.NewProject(t)
	p.Package("", "foo", "0.5.0")
	assert.Equal(t, "foo-0.5.0", ArtifactName(loadUnit(t, p.Root, core.ProfileBuild)))
	assert.Equal(t, "foo-0.5.0-test", ArtifactName(loadUnit(t, p.Root, core.ProfileTest)))
}

func TestCommandCompiler(t *testing.T) {
	p := testutil.NewProject(t)
	p.Package("", "foo", "0.5.0")
	unit := loadUnit(t, p.Root, core.ProfileBuild)
	outDir := p.Path("target", "build")

	c := &CommandCompiler{Argv: []string{"sh", "-c",
		`printf '%s %s %s|%s|%s' {name} {version} {profile} "$LEAPBUILD_PKG_NAME" {deps} > {out}`}}
	art, err := c.Compile(context.Background(), CompileRequest{
		Unit:   unit,
		OutDir: outDir,
		Deps:   []core.Artifact{{Path: "/a"}, {Path: "/b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "foo-0.5.0"), art.Path)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, "foo 0.5.0 build|foo|/a"+string(os.PathListSeparator)+"/b", string(data))
}

func TestCommandCompiler_Failure(t *testing.T) {
	p := testutil.NewProject(t)
	p.Package("", "foo", "0.5.0")
	unit := loadUnit(t, p.Root, core.ProfileBuild)

	c := &CommandCompiler{Argv: []string{"sh", "-c", "echo 'syntax error' >&2; exit 3"}}
	_, err := c.Compile(context.Background(), CompileRequest{Unit: unit, OutDir: p.Path("target")})

	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 3, procErr.ExitCode)
	assert.Contains(t, procErr.Stderr, "syntax error")
	assert.Contains(t, err.Error(), "exit status: 3")
	assert.Contains(t, err.Error(), "--- stderr\nsyntax error")

	_, err = (&CommandCompiler{}).Compile(context.Background(), CompileRequest{Unit: unit, OutDir: p.Path("target")})
	assert.ErrorContains(t, err, "compiler command is empty")
}

func TestProcessRunner(t *testing.T) {
	p := testutil.NewProject(t)
	p.Manifest("", `
package:
  name: bar
  version: 0.5.0
  build: build.sh
`)
	p.File("build.sh", `
cp src/bar.rs.in "$LEAPBUILD_OUT_DIR/bar.rs"
echo "leapbuild:rerun-if-changed=src/bar.rs.in"
echo "unrelated output"
`)
	p.File("src/bar.rs.in", "fn gimme() {}")
	unit := loadUnit(t, p.Root, core.ProfileBuild)
	outDir := p.Path("target", "build", "bar-0.5.0.out")

	res, err := NewDispatcher("", testutil.NewTestLogger(t)).Run(context.Background(), Script{
		Path:    unit.Package.BuildScriptPath(),
		Dir:     unit.Package.Dir(),
		OutDir:  outDir,
		Package: unit.Package,
		Profile: unit.Profile,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/bar.rs.in"}, res.RerunIfChanged)
	assert.FileExists(t, filepath.Join(outDir, "bar.rs"))
}

func TestProcessRunner_Failure(t *testing.T) {
	p := testutil.NewProject(t)
	p.Manifest("", "package: {name: bar, version: 0.5.0, build: build.sh}\n")
	p.File("build.sh", "echo nope >&2\nexit 1\n")
	unit := loadUnit(t, p.Root, core.ProfileBuild)

	_, err := (&ProcessRunner{}).Run(context.Background(), Script{
		Path: unit.Package.BuildScriptPath(), Dir: p.Root, OutDir: p.Path("out"), Package: unit.Package,
	})
	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 1, procErr.ExitCode)
	assert.True(t, strings.HasPrefix(procErr.Command, "sh "))
}

func TestProcessRunner_Cancelled(t *testing.T) {
	p := testutil.NewProject(t)
	p.Manifest("", "package: {name: bar, version: 0.5.0, build: build.sh}\n")
	p.File("build.sh", "sleep 30\n")
	unit := loadUnit(t, p.Root, core.ProfileBuild)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := (&ProcessRunner{}).Run(ctx, Script{
		Path: unit.Package.BuildScriptPath(), Dir: p.Root, OutDir: p.Path("out"), Package: unit.Package,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestStarlarkRunner(t *testing.T) {
	p := testutil.NewProject(t)
	p.Manifest("", `
package:
  name: bar
  version: 0.5.0
  build: build.star
`)
	p.File("build.star", `
copy("src/bar.rs.in", "src/bar.rs")
write(out_dir + "/profile.txt", getenv("LEAPBUILD_PROFILE"))
`)
	p.File("src/bar.rs.in", "fn gimme() {}")
	unit := loadUnit(t, p.Root, core.ProfileTest)
	outDir := p.Path("target", "test", "bar-0.5.0.out")

	res, err := NewDispatcher("", nil).Run(context.Background(), Script{
		Path:    unit.Package.BuildScriptPath(),
		Dir:     unit.Package.Dir(),
		OutDir:  outDir,
		Package: unit.Package,
		Profile: unit.Profile,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/bar.rs.in"}, res.RerunIfChanged)

	data, err := os.ReadFile(filepath.Join(outDir, "profile.txt"))
	require.NoError(t, err)
	assert.Equal(t, "test", string(data))
	assert.FileExists(t, p.Path("src", "bar.rs"))
}
