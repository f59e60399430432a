// Package testutil wires captured renderers into command contexts for tests.
package testutil

import (
	"bytes"
	"context"
	"regexp"
	"testing"

	"github.com/leapstack-labs/leapbuild/internal/cli/config"
	"github.com/leapstack-labs/leapbuild/internal/cli/output"
	coretest "github.com/leapstack-labs/leapbuild/internal/testutil"
)

// TestRenderer is a Renderer writing into buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates an uncolored test renderer with the given message format.
func NewTestRenderer(mode output.Mode, verbose bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRenderer(out, errOut, output.Options{Mode: mode, Color: output.ColorNever, Verbose: verbose}),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererHuman creates a test renderer in human mode.
func NewTestRendererHuman() *TestRenderer {
	return NewTestRenderer(output.ModeHuman, false)
}

// NewTestRendererJSON creates a test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns what was written to stderr, where progress goes.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// Reset empties the captured streams.
func (tr *TestRenderer) Reset() {
	tr.Out.Reset()
	tr.ErrOut.Reset()
}

// CommandContext returns a context carrying cfg, tr and a test logger, as
// the root command's pre-run would set up.
func CommandContext(t testing.TB, cfg *config.Config, tr *TestRenderer) context.Context {
	t.Helper()
	if cfg == nil {
		cfg = config.FromContext(context.Background())
	}
	ctx := config.WithConfig(context.Background(), cfg)
	ctx = config.WithLogger(ctx, coretest.NewTestLogger(t))
	return output.WithRenderer(ctx, tr.Renderer)
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI fails t if s carries terminal escape sequences.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}
