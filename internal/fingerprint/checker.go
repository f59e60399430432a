package fingerprint

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// Node is a unit to check together with the keys of the units it depends on.
type Node struct {
	Unit core.Unit
	Deps []core.UnitKey
}

// Verdict is the freshness decision for one unit.
type Verdict struct {
	Fresh  bool
	Reason string
}

func fresh() Verdict { return Verdict{Fresh: true} }

func stale(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Checker evaluates freshness against a store.
type Checker struct {
	store     core.Store
	targetDir string
	logger    *slog.Logger
}

// NewChecker creates a Checker reading records from store. targetDir is
// excluded from input collection.
func NewChecker(store core.Store, targetDir string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{store: store, targetDir: targetDir, logger: logger}
}

// Check returns a verdict for every node. Nodes must be in dependency order:
// each node's Deps appear before it.
//
// A unit is fresh when its record exists for the same source path, its
// recorded input set equals the current one with no input modified after the
// record's completion, and every dependency is fresh, unchanged as a set and
// completed no later than the unit itself.
func (c *Checker) Check(ctx context.Context, nodes []Node) (map[core.UnitKey]Verdict, error) {
	verdicts := make(map[core.UnitKey]Verdict, len(nodes))
	records := make(map[core.UnitKey]*core.BuildOutput, len(nodes))
	names := make(map[core.UnitKey]string, len(nodes))

	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := n.Unit.Key()
		names[key] = n.Unit.String()

		rec, err := c.store.GetOutput(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read build record for `%s`: %w", n.Unit, err)
		}
		records[key] = rec

		v, err := c.verdict(n, rec, verdicts, records, names)
		if err != nil {
			return nil, err
		}
		verdicts[key] = v
		c.logger.Debug("freshness", "unit", key.String(), "fresh", v.Fresh, "reason", v.Reason)
	}
	return verdicts, nil
}

func (c *Checker) verdict(n Node, rec *core.BuildOutput, verdicts map[core.UnitKey]Verdict, records map[core.UnitKey]*core.BuildOutput, names map[core.UnitKey]string) (Verdict, error) {
	pkg := n.Unit.Package
	if rec == nil {
		return stale("never built"), nil
	}
	if rec.SourcePath != pkg.Dir() {
		return stale("source moved from `%s`", rec.SourcePath), nil
	}

	// Dependencies first: a stale dependency always makes the dependent stale.
	for _, dep := range n.Deps {
		v, ok := verdicts[dep]
		if !ok {
			return Verdict{}, fmt.Errorf("dependency %s of `%s` was not checked before it", dep, n.Unit)
		}
		if !v.Fresh {
			return stale("dependency `%s` is stale", names[dep]), nil
		}
	}
	if !sameDeps(rec.Dependencies, n.Deps) {
		return stale("dependencies changed"), nil
	}
	for _, dep := range n.Deps {
		depRec := records[dep]
		if depRec == nil || depRec.CompletedAt.After(rec.CompletedAt) {
			return stale("dependency `%s` was rebuilt", names[dep]), nil
		}
	}

	inputs, err := CollectInputs(pkg, CollectOptions{TargetDir: c.targetDir, ScriptInputs: rec.ScriptInputs})
	if err != nil {
		return Verdict{}, err
	}
	if added, removed := diffInputs(rec.Inputs, inputs); added != "" {
		return stale("input `%s` added", added), nil
	} else if removed != "" {
		return stale("input `%s` removed", removed), nil
	}
	for _, in := range inputs {
		if in.ModTime.After(rec.CompletedAt) {
			return stale("input `%s` modified", in.Path), nil
		}
	}
	return fresh(), nil
}

func sameDeps(recorded []core.DepStamp, current []core.UnitKey) bool {
	if len(recorded) != len(current) {
		return false
	}
	set := make(map[core.UnitKey]bool, len(recorded))
	for _, d := range recorded {
		set[d.Key] = true
	}
	for _, k := range current {
		if !set[k] {
			return false
		}
	}
	return true
}

// diffInputs returns the first added and the first removed path, if any.
func diffInputs(recorded, current []core.InputStamp) (added, removed string) {
	was := make(map[string]bool, len(recorded))
	for _, in := range recorded {
		was[in.Path] = true
	}
	is := make(map[string]bool, len(current))
	var addedPaths, removedPaths []string
	for _, in := range current {
		is[in.Path] = true
		if !was[in.Path] {
			addedPaths = append(addedPaths, in.Path)
		}
	}
	for _, in := range recorded {
		if !is[in.Path] {
			removedPaths = append(removedPaths, in.Path)
		}
	}
	sort.Strings(addedPaths)
	sort.Strings(removedPaths)
	if len(addedPaths) > 0 {
		added = addedPaths[0]
	}
	if len(removedPaths) > 0 {
		removed = removedPaths[0]
	}
	return added, removed
}

// StaleKeys returns the keys of stale units in node order.
func StaleKeys(nodes []Node, verdicts map[core.UnitKey]Verdict) []core.UnitKey {
	var out []core.UnitKey
	for _, n := range nodes {
		if v, ok := verdicts[n.Unit.Key()]; ok && !v.Fresh {
			out = append(out, n.Unit.Key())
		}
	}
	return out
}
