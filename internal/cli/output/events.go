package output

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/leapstack-labs/leapbuild/internal/engine"
	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// RunEvent is one line of json message format output.
type RunEvent struct {
	Event      string `json:"event"`
	Timestamp  string `json:"timestamp"`
	Mode       string `json:"mode,omitempty"`
	Package    string `json:"package,omitempty"`
	Version    string `json:"version,omitempty"`
	Profile    string `json:"profile,omitempty"`
	Path       string `json:"path,omitempty"`
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	// Causes is the error cause chain below Error.
	Causes []string `json:"causes,omitempty"`
}

// Reporter renders engine progress events.
type Reporter struct {
	r   *Renderer
	now func() time.Time
	mu  sync.Mutex
}

var _ engine.Reporter = (*Reporter)(nil)

// NewReporter creates a reporter that writes through r.
func NewReporter(r *Renderer) *Reporter {
	return &Reporter{r: r, now: time.Now}
}

// Report renders one event.
func (rep *Reporter) Report(ev engine.Event) {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	if rep.r.mode == ModeJSON {
		rep.reportJSON(ev)
		return
	}
	rep.reportHuman(ev)
}

func (rep *Reporter) reportHuman(ev engine.Event) {
	r := rep.r
	switch ev.Kind {
	case engine.EventCompiling:
		r.Status("Compiling", unitLine(ev.Unit))
	case engine.EventFresh:
		if r.verbose {
			r.status(r.styles.Fresh, "Fresh", unitLine(ev.Unit))
		}
	case engine.EventFinished:
		r.Status("Finished", fmt.Sprintf("`%s` profile target(s) in %.2fs", profileName(ev.Mode), ev.Duration.Seconds()))
	case engine.EventFailed:
		// The command renders the error itself.
	}
}

func (rep *Reporter) reportJSON(ev engine.Event) {
	out := RunEvent{
		Event:     string(ev.Kind),
		Timestamp: rep.now().UTC().Format(time.RFC3339),
		Mode:      string(ev.Mode),
		Reason:    ev.Reason,
	}
	if ev.Unit.Package != nil {
		out.Package = ev.Unit.Package.Name()
		out.Version = ev.Unit.Package.Version()
		out.Profile = string(ev.Unit.Profile)
		out.Path = ev.Unit.Package.Dir()
	}
	if ev.Duration > 0 {
		out.DurationMS = ev.Duration.Milliseconds()
	}
	if ev.Err != nil {
		if chain := core.ErrorChain(ev.Err); len(chain) > 0 {
			out.Error = chain[0]
			out.Causes = chain[1:]
		}
	}
	data, _ := json.Marshal(out)
	_, _ = fmt.Fprintln(rep.r.out, string(data))
}

func unitLine(u core.Unit) string {
	return fmt.Sprintf("%s (%s)", u.Package.ID, u.Package.ID.URL())
}

func profileName(mode core.Mode) string {
	if mode == core.ModeTest {
		return string(core.ProfileTest)
	}
	return string(core.ProfileBuild)
}
