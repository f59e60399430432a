package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapbuild/internal/cli/output"
	clitest "github.com/leapstack-labs/leapbuild/internal/cli/testutil"
	"github.com/leapstack-labs/leapbuild/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), append([]string{"--color", "never"}, args...), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// compiled returns the package names on Compiling lines, in order.
func compiled(stderr string) []string {
	var names []string
	for _, line := range strings.Split(stderr, "\n") {
		if rest, ok := strings.CutPrefix(line, "   Compiling "); ok {
			names = append(names, strings.Fields(rest)[0])
		}
	}
	return names
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

func TestBuild_ProgressLines(t *testing.T) {
	p := nested(t)

	res := run(t, "--manifest-path", p.Path("leapbuild.yaml"), "build")
	require.Equal(t, ExitOK, res.code, res.stderr)
	clitest.AssertNoANSI(t, res.stderr)

	assert.Equal(t, []string{"baz", "bar", "foo"}, compiled(res.stderr))
	assert.Contains(t, res.stderr, "   Compiling baz v0.5.0 ("+p.URL("baz")+")\n")
	assert.Contains(t, res.stderr, "    Finished `build` profile target(s) in ")
	assert.Empty(t, res.stdout)

	again := run(t, "--manifest-path", p.Root, "build")
	require.Equal(t, ExitOK, again.code, again.stderr)
	assert.Empty(t, compiled(again.stderr))
}

func TestBuild_VerboseShowsFresh(t *testing.T) {
	p := nested(t)
	require.Equal(t, ExitOK, run(t, "--manifest-path", p.Root, "build").code)

	res := run(t, "--manifest-path", p.Root, "-v", "build")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stderr, "       Fresh baz v0.5.0 ("+p.URL("baz")+")\n")
}

func TestBuild_PackageFilter(t *testing.T) {
	p := nested(t)

	res := run(t, "--manifest-path", p.Root, "build", "-p", "bar")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, []string{"baz", "bar"}, compiled(res.stderr))

	missing := run(t, "--manifest-path", p.Root, "build", "-p", "nope")
	assert.Equal(t, ExitFailure, missing.code)
	assert.Contains(t, missing.stderr, "error: package ID specification `nope` did not match any packages")
}

func TestBuild_MissingDependencyManifest(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		p := testutil.NewProject(t)
		p.Package("", "foo", "0.5.0", "bar=bar")
		p.File("bar/README", "no manifest here")

		res := run(t, "--manifest-path", p.Root, "build")
		assert.Equal(t, ExitFailure, res.code)
		assert.Equal(t,
			"error: failed to load dependency `bar` of `foo v0.5.0`\n\nCaused by:\n"+
				"  could not find `leapbuild.yaml` in `"+p.Path("bar")+"`\n", res.stderr)
	})

	t.Run("missing directory", func(t *testing.T) {
		p := testutil.NewProject(t)
		p.Package("", "foo", "0.5.0", "bar=bar")

		res := run(t, "--manifest-path", p.Root, "build")
		assert.Equal(t, ExitFailure, res.code)
		assert.True(t, strings.HasPrefix(res.stderr,
			"error: failed to load dependency `bar` of `foo v0.5.0`\n\nCaused by:\n"+
				"  could not find `leapbuild.yaml` in `"+p.Path("bar")+"`\n"), res.stderr)
		assert.Equal(t, 1, strings.Count(res.stderr, "failed to load dependency"), res.stderr)
		assert.Contains(t, res.stderr, "no such file or directory")
	})
}

func TestBuild_LeafThenStatus(t *testing.T) {
	p := nested(t)

	res := run(t, "--manifest-path", p.Root, "build", "-p", "baz")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, []string{"baz"}, compiled(res.stderr))

	status := run(t, "--manifest-path", p.Root, "--message-format", "json", "status", "-p", "baz")
	require.Equal(t, ExitOK, status.code, status.stderr)
	var rows []struct {
		Package string `json:"package"`
		Fresh   bool   `json:"fresh"`
	}
	require.NoError(t, json.Unmarshal([]byte(status.stdout), &rows), status.stdout)
	require.Len(t, rows, 1)
	assert.Equal(t, "baz", rows[0].Package)
	assert.True(t, rows[0].Fresh)
}

func TestBuild_JSONMessages(t *testing.T) {
	p := nested(t)

	res := run(t, "--manifest-path", p.Root, "--message-format", "json", "build", "-p", "baz")
	require.Equal(t, ExitOK, res.code, res.stderr)

	var events []output.RunEvent
	for _, line := range strings.Split(strings.TrimSpace(res.stdout), "\n") {
		var ev output.RunEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "compiling", events[0].Event)
	assert.Equal(t, "baz", events[0].Package)
	assert.Equal(t, "never built", events[0].Reason)
	assert.Equal(t, "finished", events[1].Event)
}

func TestTest_CompilesTestUnit(t *testing.T) {
	p := testutil.NewProject(t)
	p.Manifest("", `
package:
  name: foo
  version: 0.5.0
dev_dependencies:
  bar: { path: bar }
`)
	p.File("src/lib.src", "foo")
	p.Package("bar", "bar", "0.5.0")
	p.MoveIntoThePast("")

	build := run(t, "--manifest-path", p.Root, "build")
	require.Equal(t, ExitOK, build.code, build.stderr)
	assert.Equal(t, []string{"foo"}, compiled(build.stderr))

	test := run(t, "--manifest-path", p.Root, "test")
	require.Equal(t, ExitOK, test.code, test.stderr)
	assert.Equal(t, []string{"bar", "foo"}, compiled(test.stderr))
	assert.Contains(t, test.stderr, "    Finished `test` profile target(s) in ")
}

func TestStatusAndClean(t *testing.T) {
	p := nested(t)

	before := run(t, "--manifest-path", p.Root, "status")
	require.Equal(t, ExitOK, before.code, before.stderr)
	assert.Contains(t, before.stdout, "never built")
	assert.NotContains(t, before.stdout, "fresh")

	require.Equal(t, ExitOK, run(t, "--manifest-path", p.Root, "build").code)

	after := run(t, "--manifest-path", p.Root, "status")
	require.Equal(t, ExitOK, after.code, after.stderr)
	assert.Equal(t, 3, strings.Count(after.stdout, "fresh"))

	clean := run(t, "--manifest-path", p.Root, "clean")
	require.Equal(t, ExitOK, clean.code, clean.stderr)
	assert.Contains(t, clean.stderr, "     Removed 1 path\n")
	assert.False(t, p.Exists("target"))

	rebuilt := run(t, "--manifest-path", p.Root, "build")
	assert.Equal(t, []string{"baz", "bar", "foo"}, compiled(rebuilt.stderr))
}

func TestTree(t *testing.T) {
	p := testutil.NewProject(t)
	p.Package("", "foo", "0.5.0", "bar=bar", "baz=baz")
	p.Package("bar", "bar", "0.5.0", "baz=../baz")
	p.Package("baz", "baz", "0.5.0")

	res := run(t, "--manifest-path", p.Root, "tree")
	require.Equal(t, ExitOK, res.code, res.stderr)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "foo v0.5.0 ("+p.URL("")+")")
	assert.Contains(t, lines[1], "bar v0.5.0")
	assert.Contains(t, lines[2], "baz v0.5.0")
	assert.Contains(t, lines[3], "baz v0.5.0 ("+p.URL("baz")+") (*)")
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{name: "unknown command", args: []string{"frobnicate"}, wantCode: ExitUsage, wantErr: "unknown command"},
		{name: "unknown flag", args: []string{"build", "--nope"}, wantCode: ExitUsage, wantErr: "unknown flag"},
		{name: "invalid config", args: []string{"--log-level", "loud", "build"}, wantCode: ExitUsage, wantErr: "invalid configuration"},
		{name: "version", args: []string{"version"}, wantCode: ExitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tt.args...)
			assert.Equal(t, tt.wantCode, res.code)
			if tt.wantErr != "" {
				assert.Contains(t, res.stderr, "error: ")
				assert.Contains(t, res.stderr, tt.wantErr)
			}
		})
	}
}

func TestCompletion(t *testing.T) {
	res := run(t, "completion", "bash")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "leapbuild")
}
