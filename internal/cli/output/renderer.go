// Package output renders CLI progress, tables and errors.
//
// Progress lines go to the error stream in the form
//
//	   Compiling bar v0.5.0 (file:///work/bar)
//
// with the status verb right-aligned to 12 columns. The json message format
// writes one RunEvent per line to the output stream instead.
package output

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Mode is the message format.
type Mode string

// Message formats.
const (
	ModeHuman Mode = "human"
	ModeJSON  Mode = "json"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// verbWidth is the column status verbs are right-aligned to.
const verbWidth = 12

// Styles holds the lipgloss styles used by the renderer.
type Styles struct {
	Status  lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Fresh   lipgloss.Style
	Muted   lipgloss.Style
	Header  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Status:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		Error:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Warning: r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		Fresh:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		Header:  r.NewStyle().Bold(true),
	}
}

// Renderer writes command output.
type Renderer struct {
	out     io.Writer
	errOut  io.Writer
	mode    Mode
	color   bool
	verbose bool
	styles  *Styles
}

// Options configures a Renderer.
type Options struct {
	Mode Mode
	// Color is auto, always or never.
	Color string
	// Verbose also prints Fresh lines for up-to-date units.
	Verbose bool
}

// NewRenderer creates a renderer over out and errOut.
func NewRenderer(out, errOut io.Writer, opts Options) *Renderer {
	mode := opts.Mode
	if mode == "" {
		mode = ModeHuman
	}
	color := useColor(errOut, opts.Color)

	lr := lipgloss.NewRenderer(errOut)
	if color {
		if opts.Color == ColorAlways {
			lr.SetColorProfile(termenv.ANSI256)
		}
	} else {
		lr.SetColorProfile(termenv.Ascii)
	}

	return &Renderer{
		out:     out,
		errOut:  errOut,
		mode:    mode,
		color:   color,
		verbose: opts.Verbose,
		styles:  newStyles(lr),
	}
}

// useColor decides whether w gets ANSI styling.
func useColor(w io.Writer, mode string) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Writer returns the output stream.
func (r *Renderer) Writer() io.Writer { return r.out }

// ErrWriter returns the error stream.
func (r *Renderer) ErrWriter() io.Writer { return r.errOut }

// Mode returns the message format.
func (r *Renderer) Mode() Mode { return r.mode }

// Color reports whether styling is enabled.
func (r *Renderer) Color() bool { return r.color }

// Styles returns the renderer styles.
func (r *Renderer) Styles() *Styles { return r.styles }

// Println writes a line to the output stream.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted text to the output stream.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Status writes a progress line with a right-aligned verb to the error stream.
func (r *Renderer) Status(verb, message string) {
	r.status(r.styles.Status, verb, message)
}

// Warn writes a warning line to the error stream.
func (r *Renderer) Warn(message string) {
	_, _ = fmt.Fprintf(r.errOut, "%s %s\n", r.styles.Warning.Render("warning:"), message)
}

func (r *Renderer) status(style lipgloss.Style, verb, message string) {
	_, _ = fmt.Fprintf(r.errOut, "%s %s\n", style.Render(fmt.Sprintf("%*s", verbWidth, verb)), message)
}

// rendererKey is used to store renderer in context.
type rendererKey struct{}

// WithRenderer returns a copy of ctx carrying r.
func WithRenderer(ctx context.Context, r *Renderer) context.Context {
	return context.WithValue(ctx, rendererKey{}, r)
}

// Lookup returns the renderer stored in ctx, if any.
func Lookup(ctx context.Context) (*Renderer, bool) {
	r, ok := ctx.Value(rendererKey{}).(*Renderer)
	return r, ok
}

// FromContext retrieves the renderer from the command context.
func FromContext(ctx context.Context) *Renderer {
	if r, ok := Lookup(ctx); ok {
		return r
	}
	// Return default renderer if none in context
	return NewRenderer(os.Stdout, os.Stderr, Options{})
}
