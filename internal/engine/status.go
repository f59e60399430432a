package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/leapbuild/internal/fingerprint"
	"github.com/leapstack-labs/leapbuild/internal/toolchain"
	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// UnitStatus is the freshness of one planned unit.
type UnitStatus struct {
	Unit   core.Unit
	Fresh  bool
	Reason string
	// BuiltAt is the completion time of the unit's record, zero if never built.
	BuiltAt time.Time
}

// Status plans req and reports the freshness of every unit without building.
func (e *Engine) Status(ctx context.Context, req Request) ([]UnitStatus, error) {
	plan, err := e.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	store, err := e.openStore(plan.TargetDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	verdicts, err := fingerprint.NewChecker(store, plan.TargetDir, e.logger).Check(ctx, plan.Units)
	if err != nil {
		return nil, err
	}

	out := make([]UnitStatus, 0, len(plan.Units))
	for _, n := range plan.Units {
		key := n.Unit.Key()
		st := UnitStatus{Unit: n.Unit, Fresh: verdicts[key].Fresh, Reason: verdicts[key].Reason}
		rec, err := store.GetOutput(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read build record for `%s`: %w", n.Unit, err)
		}
		if rec != nil {
			st.BuiltAt = rec.CompletedAt
		}
		out = append(out, st)
	}
	return out, nil
}

// CleanRequest selects what to clean.
type CleanRequest struct {
	RootDir string
	// Packages limits cleaning to the records and artifacts of the named
	// packages. Empty removes the whole target directory.
	Packages []string
}

// Clean removes build state. It returns the paths it removed.
//
// Resolution uses build mode, so an unresolvable dev-dependency never blocks
// cleaning. Only a package name missing from that graph retries in test mode,
// where the root's dev-dependencies are present.
func (e *Engine) Clean(ctx context.Context, req CleanRequest) ([]string, error) {
	graph, err := e.Graph(ctx, Request{RootDir: req.RootDir, Mode: core.ModeBuild})
	if err != nil {
		return nil, err
	}
	targetDir := e.TargetDir(graph.Root().Dir())

	if len(req.Packages) == 0 {
		if _, err := os.Stat(targetDir); os.IsNotExist(err) {
			return nil, nil
		}
		if err := os.RemoveAll(targetDir); err != nil {
			return nil, fmt.Errorf("failed to remove `%s`: %w", targetDir, err)
		}
		e.logger.Info("removed target directory", "path", targetDir)
		return []string{targetDir}, nil
	}

	keys, err := selectPackages(graph, req.Packages)
	if errors.Is(err, ErrPackageNotFound) {
		if tg, terr := e.Graph(ctx, Request{RootDir: req.RootDir, Mode: core.ModeTest}); terr == nil {
			if tk, kerr := selectPackages(tg, req.Packages); kerr == nil {
				graph, keys, err = tg, tk, nil
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(targetDir); os.IsNotExist(err) {
		return nil, nil
	}
	store, err := e.openStore(targetDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	var removed []string
	for _, k := range keys {
		pkg := graph.Package(k)
		for _, profile := range []core.Profile{core.ProfileBuild, core.ProfileTest} {
			u := core.Unit{Package: pkg, Profile: profile}
			rec, err := store.GetOutput(u.Key())
			if err != nil {
				return removed, fmt.Errorf("failed to read build record for `%s`: %w", u, err)
			}
			paths := []string{ScriptOutDir(targetDir, u)}
			if rec != nil {
				paths = append(paths, rec.ArtifactPath)
			} else {
				paths = append(paths, filepath.Join(targetDir, string(profile), toolchain.ArtifactName(u)+".tar.xz"))
			}
			for _, p := range paths {
				if _, err := os.Stat(p); err != nil {
					continue
				}
				if err := removeIfExists(p); err != nil {
					return removed, fmt.Errorf("failed to remove `%s`: %w", p, err)
				}
				removed = append(removed, p)
			}
			if err := store.DeleteOutput(u.Key()); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}
