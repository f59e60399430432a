package commands

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/leapbuild/internal/cli/config"
	clitest "github.com/leapstack-labs/leapbuild/internal/cli/testutil"
	"github.com/leapstack-labs/leapbuild/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs cmd against the project rooted at p with a captured renderer.
func execute(t *testing.T, cmd *cobra.Command, p *testutil.Project, tr *clitest.TestRenderer, args ...string) error {
	t.Helper()
	cfg := config.FromContext(context.Background())
	cfg.ManifestPath = p.Path("leapbuild.yaml")
	cmd.SetContext(clitest.CommandContext(t, cfg, tr))
	cmd.SetArgs(append([]string{}, args...))
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd.Execute()
}

func nested(t *testing.T) *testutil.Project {
	t.Helper()
	p := testutil.NewProject(t)
	p.Package("", "foo", "0.5.0", "bar=bar")
	p.Package("bar", "bar", "0.5.0", "baz=../baz")
	p.Package("baz", "baz", "0.5.0")
	p.MoveIntoThePast("")
	return p
}

func TestStatusCommand_JSON(t *testing.T) {
	p := nested(t)
	tr := clitest.NewTestRendererJSON()

	require.NoError(t, execute(t, NewStatusCommand(), p, tr))

	var rows []statusRow
	require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &rows))
	require.Len(t, rows, 3)

	var names []string
	for _, row := range rows {
		names = append(names, row.Package)
		assert.False(t, row.Fresh, row.Package)
		assert.Equal(t, "never built", row.Reason)
		assert.Nil(t, row.BuiltAt)
	}
	assert.Equal(t, []string{"baz", "bar", "foo"}, names)
}

func TestBuildThenStatus(t *testing.T) {
	p := nested(t)

	build := clitest.NewTestRendererHuman()
	require.NoError(t, execute(t, NewBuildCommand(), p, build, "-p", "bar"))
	assert.Contains(t, build.ErrorOutput(), "   Compiling bar v0.5.0")
	assert.NotContains(t, build.ErrorOutput(), "Compiling foo")
	clitest.AssertNoANSI(t, build.ErrorOutput())

	status := clitest.NewTestRendererHuman()
	require.NoError(t, execute(t, NewStatusCommand(), p, status))
	out := status.Output()
	assert.Equal(t, 2, strings.Count(out, "fresh"), out)
	assert.Contains(t, out, "never built")
	assert.Contains(t, out, "Build")
}

func TestBuildCommand_FailureError(t *testing.T) {
	p := testutil.NewProject(t)
	p.Package("", "foo", "0.5.0", "bar=bar")

	err := execute(t, NewBuildCommand(), p, clitest.NewTestRendererHuman())
	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "failed to load dependency `bar` of `foo v0.5.0`")
}

func TestTreeCommand_DevDependencies(t *testing.T) {
	p := testutil.NewProject(t)
	p.Manifest("", `
package:
  name: foo
  version: 0.5.0
dependencies:
  baz: { path: baz }
dev_dependencies:
  bar: { path: bar }
`)
	p.Package("bar", "bar", "0.5.0")
	p.Package("baz", "baz", "0.5.0")

	tests := []struct {
		name  string
		args  []string
		lines []string
	}{
		{name: "build", args: nil, lines: []string{"foo v0.5.0", "baz v0.5.0"}},
		{name: "test", args: []string{"--test"}, lines: []string{"foo v0.5.0", "baz v0.5.0", "[dev-dependencies]", "bar v0.5.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := clitest.NewTestRendererHuman()
			require.NoError(t, execute(t, NewTreeCommand(), p, tr, tt.args...))

			got := strings.Split(strings.TrimSpace(tr.Output()), "\n")
			require.Len(t, got, len(tt.lines), tr.Output())
			for i, want := range tt.lines {
				assert.Contains(t, got[i], want)
			}
		})
	}
}

func TestCleanCommand_Package(t *testing.T) {
	p := nested(t)
	require.NoError(t, execute(t, NewBuildCommand(), p, clitest.NewTestRendererHuman()))

	tr := clitest.NewTestRendererHuman()
	require.NoError(t, execute(t, NewCleanCommand(), p, tr, "-p", "baz"))
	assert.Contains(t, tr.ErrorOutput(), "     Removed ")
	assert.True(t, p.Exists("target"))

	// baz and everything above it are stale again
	tr.Reset()
	require.NoError(t, execute(t, NewBuildCommand(), p, tr))
	assert.Equal(t, 3, strings.Count(tr.ErrorOutput(), "Compiling"))
}

func TestFailure(t *testing.T) {
	assert.NoError(t, failure(nil))

	base := errors.New("boom")
	once := failure(base)
	twice := failure(once)
	assert.Same(t, once, twice)
	assert.ErrorIs(t, twice, base)
}

func TestSkipDir(t *testing.T) {
	target := filepath.Join("/w", "out")
	tests := []struct {
		path string
		want bool
	}{
		{path: "/w/foo/.git", want: true},
		{path: "/w/foo/target", want: true},
		{path: "/w/out", want: true},
		{path: "/w/out/build", want: true},
		{path: "/w/foo/src", want: false},
		{path: "/w/outside", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			path := filepath.FromSlash(tt.path)
			assert.Equal(t, tt.want, skipDir(path, filepath.Base(path), target))
		})
	}
}

func TestWatchSession_Relevant(t *testing.T) {
	s := &watchSession{target: filepath.FromSlash("/w/target")}
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{name: "write source", ev: fsnotify.Event{Name: "/w/foo/src/lib.src", Op: fsnotify.Write}, want: true},
		{name: "create source", ev: fsnotify.Event{Name: "/w/foo/src/new.src", Op: fsnotify.Create}, want: true},
		{name: "remove source", ev: fsnotify.Event{Name: "/w/foo/src/old.src", Op: fsnotify.Remove}, want: true},
		{name: "chmod only", ev: fsnotify.Event{Name: "/w/foo/src/lib.src", Op: fsnotify.Chmod}, want: false},
		{name: "inside target", ev: fsnotify.Event{Name: "/w/target/build/foo.tar.xz", Op: fsnotify.Write}, want: false},
		{name: "hidden file", ev: fsnotify.Event{Name: "/w/foo/.lib.src.swp", Op: fsnotify.Write}, want: false},
		{name: "editor backup", ev: fsnotify.Event{Name: "/w/foo/src/lib.src~", Op: fsnotify.Write}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.Name = filepath.FromSlash(tt.ev.Name)
			assert.Equal(t, tt.want, s.relevant(tt.ev))
		})
	}
}
