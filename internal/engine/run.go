package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/leapbuild/internal/fingerprint"
	"github.com/leapstack-labs/leapbuild/internal/toolchain"
	"github.com/leapstack-labs/leapbuild/pkg/core"
	"golang.org/x/sync/errgroup"
)

// BuildReport summarizes a build.
type BuildReport struct {
	RunID string
	Mode  core.Mode
	// Compiled lists the units compiled, in completion order.
	Compiled []core.UnitKey
	// Fresh lists the units that were up to date, in plan order.
	Fresh    []core.UnitKey
	Duration time.Duration
}

// build is the state of one Build call.
type build struct {
	e        *Engine
	store    core.Store
	plan     *Plan
	runID    string
	verdicts map[core.UnitKey]fingerprint.Verdict
	reporter Reporter

	mu       sync.Mutex
	records  map[core.UnitKey]*core.BuildOutput
	started  map[core.UnitKey]bool
	compiled []core.UnitKey
}

// Build compiles every stale unit of req in dependency order. Units that are
// fresh are not touched. On failure, units completed earlier keep their
// records and units not yet started are left as they were.
func (e *Engine) Build(ctx context.Context, req Request) (*BuildReport, error) {
	start := time.Now()
	reporter := &serialReporter{next: e.reporter}

	report, err := e.build(ctx, req, reporter)
	if report == nil {
		report = &BuildReport{Mode: req.Mode}
	}
	report.Duration = time.Since(start)
	if err != nil {
		reporter.Report(Event{Kind: EventFailed, Mode: report.Mode, Duration: report.Duration, Err: err})
		return report, err
	}
	reporter.Report(Event{Kind: EventFinished, Mode: report.Mode, Duration: report.Duration})
	return report, nil
}

func (e *Engine) build(ctx context.Context, req Request, reporter Reporter) (*BuildReport, error) {
	plan, err := e.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	e.logger.Info("starting build", "root", plan.Root.ID.String(), "mode", plan.Mode, "units", len(plan.Units))

	store, err := e.openStore(plan.TargetDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	verdicts, err := fingerprint.NewChecker(store, plan.TargetDir, e.logger).Check(ctx, plan.Units)
	if err != nil {
		return nil, err
	}

	run, err := store.CreateRun(plan.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	e.logger.Debug("created run", "run_id", run.ID)

	b := &build{
		e:        e,
		store:    store,
		plan:     plan,
		runID:    run.ID,
		verdicts: verdicts,
		reporter: reporter,
		records:  make(map[core.UnitKey]*core.BuildOutput),
		started:  make(map[core.UnitKey]bool),
	}
	report := &BuildReport{RunID: run.ID, Mode: plan.Mode}

	var stale []fingerprint.Node
	for _, n := range plan.Units {
		key := n.Unit.Key()
		if !verdicts[key].Fresh {
			stale = append(stale, n)
			continue
		}
		rec, err := store.GetOutput(key)
		if err != nil {
			b.completeRun(core.RunStatusFailed, err.Error())
			return report, fmt.Errorf("failed to read build record for `%s`: %w", n.Unit, err)
		}
		b.records[key] = rec
		report.Fresh = append(report.Fresh, key)
		b.recordUnit(key, core.UnitRunFresh, "", 0)
		reporter.Report(Event{Kind: EventFresh, Unit: n.Unit, Mode: plan.Mode})
	}

	jobs := req.Jobs
	if jobs <= 0 {
		jobs = e.jobs
	}
	var runErr error
	if jobs <= 1 {
		runErr = b.executeSerial(ctx, stale)
	} else {
		runErr = b.executeParallel(ctx, stale, jobs)
	}

	for _, n := range stale {
		if !b.started[n.Unit.Key()] {
			b.recordUnit(n.Unit.Key(), core.UnitRunSkipped, "not started", 0)
		}
	}
	report.Compiled = b.compiled

	switch {
	case runErr == nil:
		e.logger.Info("build completed", "run_id", run.ID, "compiled", len(b.compiled), "fresh", len(report.Fresh))
		b.completeRun(core.RunStatusCompleted, "")
	case ctx.Err() != nil:
		b.completeRun(core.RunStatusCancelled, runErr.Error())
	default:
		e.logger.Info("build failed", "run_id", run.ID, "error", runErr.Error())
		b.completeRun(core.RunStatusFailed, runErr.Error())
	}
	return report, runErr
}

func (b *build) executeSerial(ctx context.Context, stale []fingerprint.Node) error {
	for _, n := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.buildUnit(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// executeParallel runs up to jobs units at once. A unit starts only after all
// of its stale dependencies have committed their records.
func (b *build) executeParallel(ctx context.Context, stale []fingerprint.Node, jobs int) error {
	done := make(map[core.UnitKey]chan struct{}, len(stale))
	for _, n := range stale {
		done[n.Unit.Key()] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, n := range stale {
		g.Go(func() error {
			for _, dep := range n.Deps {
				ch, ok := done[dep]
				if !ok {
					continue
				}
				select {
				case <-ch:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := b.buildUnit(gctx, n); err != nil {
				return err
			}
			close(done[n.Unit.Key()])
			return nil
		})
	}
	return g.Wait()
}

// buildUnit runs the build script and compiler for one unit and commits its record.
func (b *build) buildUnit(ctx context.Context, n fingerprint.Node) error {
	key := n.Unit.Key()
	b.mu.Lock()
	b.started[key] = true
	b.mu.Unlock()

	b.reporter.Report(Event{
		Kind:   EventCompiling,
		Unit:   n.Unit,
		Reason: b.verdicts[key].Reason,
		Mode:   b.plan.Mode,
	})
	b.e.logger.Debug("compiling", "unit", key.String(), "reason", b.verdicts[key].Reason)

	start := time.Now()
	out, err := b.compileUnit(ctx, n)
	if err == nil {
		err = b.store.CommitOutput(out)
		if err != nil {
			err = fmt.Errorf("failed to record build of `%s`: %w", n.Unit, err)
		}
	}
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		b.recordUnit(key, core.UnitRunFailed, errorChain(err), elapsed)
		return err
	}

	b.mu.Lock()
	b.records[key] = out
	b.compiled = append(b.compiled, key)
	b.mu.Unlock()
	b.recordUnit(key, core.UnitRunCompiled, "", elapsed)
	return nil
}

func (b *build) compileUnit(ctx context.Context, n fingerprint.Node) (*core.BuildOutput, error) {
	u := n.Unit
	pkg := u.Package
	profileDir := filepath.Join(b.plan.TargetDir, string(u.Profile))

	var scriptInputs []string
	switch {
	case u.Profile == core.ProfileBuild && pkg.HasBuildScript():
		res, err := b.e.scripts.Run(ctx, toolchain.Script{
			Path:    pkg.BuildScriptPath(),
			Dir:     pkg.Dir(),
			OutDir:  ScriptOutDir(b.plan.TargetDir, u),
			Package: pkg,
			Profile: u.Profile,
		})
		if err != nil {
			return nil, scriptError(u, err)
		}
		scriptInputs = res.RerunIfChanged
	case u.Profile == core.ProfileTest:
		if rec := b.record(buildKey(pkg)); rec != nil {
			scriptInputs = rec.ScriptInputs
		}
	}

	opts := fingerprint.CollectOptions{TargetDir: b.plan.TargetDir, ScriptInputs: scriptInputs}
	inputs, err := fingerprint.CollectInputs(pkg, opts)
	if err != nil {
		return nil, compileError(u, err)
	}

	deps := make([]core.Artifact, 0, len(n.Deps))
	stamps := make([]core.DepStamp, 0, len(n.Deps))
	for _, dk := range n.Deps {
		rec := b.record(dk)
		if rec == nil {
			return nil, compileError(u, fmt.Errorf("dependency %s has no build record", dk))
		}
		deps = append(deps, rec.Artifact())
		stamps = append(stamps, core.DepStamp{Key: dk, CompletedAt: rec.CompletedAt})
	}

	art, err := b.e.compiler.Compile(ctx, toolchain.CompileRequest{
		Unit:   u,
		OutDir: profileDir,
		Inputs: inputs,
		Deps:   deps,
	})
	if err != nil {
		return nil, compileError(u, err)
	}

	// The compiler may have produced files inside the package.
	inputs, err = fingerprint.CollectInputs(pkg, opts)
	if err != nil {
		return nil, compileError(u, err)
	}

	return &core.BuildOutput{
		Key:          u.Key(),
		SourcePath:   pkg.Dir(),
		ArtifactPath: art.Path,
		CompletedAt:  b.e.now().UTC(),
		Inputs:       inputs,
		Dependencies: stamps,
		ScriptInputs: scriptInputs,
		RunID:        b.runID,
	}, nil
}

func (b *build) record(key core.UnitKey) *core.BuildOutput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records[key]
}

func (b *build) recordUnit(key core.UnitKey, status core.UnitRunStatus, errMsg string, durationMS int64) {
	err := b.store.RecordUnitRun(&core.UnitRun{
		RunID:      b.runID,
		Unit:       key,
		Status:     status,
		Error:      errMsg,
		DurationMS: durationMS,
	})
	if err != nil {
		b.e.logger.Warn("failed to record unit run", "unit", key.String(), "error", err)
	}
}

func (b *build) completeRun(status core.RunStatus, errMsg string) {
	if err := b.store.CompleteRun(b.runID, status, errMsg); err != nil {
		b.e.logger.Warn("failed to complete run", "run_id", b.runID, "status", string(status), "error", err)
	}
}

// ScriptOutDir returns the scratch directory of a unit's build script.
func ScriptOutDir(targetDir string, u core.Unit) string {
	return filepath.Join(targetDir, string(u.Profile), "out", toolchain.ArtifactName(u))
}

// errorChain joins the messages of err and its causes.
func errorChain(err error) string {
	return strings.Join(core.ErrorChain(err), ": ")
}

// removeIfExists deletes path, ignoring a missing file.
func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
