package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// RenderError writes err and its cause chain to the error stream:
//
//	error: failed to load dependency `bar` of `foo v0.5.0`
//
//	Caused by:
//	  could not find `leapbuild.yaml` in `/abs/src/bar`
//
// In json mode a single "error" event is written to the output stream.
func (r *Renderer) RenderError(err error) {
	if err == nil {
		return
	}
	chain := core.ErrorChain(err)
	if len(chain) == 0 {
		chain = []string{"unknown error"}
	}

	if r.mode == ModeJSON {
		data, _ := json.Marshal(RunEvent{
			Event:     "error",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Error:     chain[0],
			Causes:    chain[1:],
		})
		_, _ = fmt.Fprintln(r.out, string(data))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", r.styles.Error.Render("error:"), chain[0])
	if len(chain) > 1 {
		b.WriteString("\nCaused by:\n")
		for _, cause := range chain[1:] {
			for _, line := range strings.Split(cause, "\n") {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}
	_, _ = fmt.Fprint(r.errOut, b.String())
}
