package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/leapbuild/internal/cli/output"
	"github.com/leapstack-labs/leapbuild/internal/engine"
	"github.com/leapstack-labs/leapbuild/pkg/core"
	"github.com/spf13/cobra"
)

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	Packages []string
	Test     bool
	Debounce time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild whenever a source file changes",
		Long: `Build once, then watch every package directory in the dependency graph and
rebuild after changes settle. Build failures are reported and watching
continues. Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}
	addPackageFlag(cmd, &opts.Packages, "Package to build (may be repeated)")
	cmd.Flags().BoolVar(&opts.Test, "test", false, "Compile the test profile")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 200*time.Millisecond, "Quiet period before rebuilding")
	return cmd
}

// watchSession tracks the watched directories of one watch run.
type watchSession struct {
	eng      *engine.Engine
	renderer *output.Renderer
	watcher  *fsnotify.Watcher
	req      engine.Request
	target   string
	watched  map[string]bool
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	e := envFrom(cmd)
	root, err := e.rootDir()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	mode := core.ModeBuild
	if opts.Test {
		mode = core.ModeTest
	}
	s := &watchSession{
		eng:      e.newEngine(output.NewReporter(e.renderer)),
		renderer: e.renderer,
		watcher:  watcher,
		req:      engine.Request{RootDir: root, Packages: opts.Packages, Mode: mode},
		watched:  make(map[string]bool),
	}

	s.rebuild(ctx)
	s.renderer.Status("Watching", fmt.Sprintf("%d directories", len(s.watched)))

	// Debounce rebuilds
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !s.relevant(event) {
				continue
			}
			e.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = s.watchDir(event.Name)
				}
			}
			pending = time.After(opts.Debounce)
		case <-pending:
			pending = nil
			s.rebuild(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.renderer.Warn(fmt.Sprintf("watcher error: %v", err))
		}
	}
}

// rebuild builds once and extends the watch set to the current graph.
func (s *watchSession) rebuild(ctx context.Context) {
	if _, err := s.eng.Build(ctx, s.req); err != nil && ctx.Err() == nil {
		s.renderer.RenderError(err)
	}
	if err := s.sync(ctx); err != nil && ctx.Err() == nil {
		s.renderer.RenderError(err)
	}
}

// sync watches every package directory of the resolved graph.
func (s *watchSession) sync(ctx context.Context) error {
	graph, err := s.eng.Graph(ctx, s.req)
	if err != nil {
		return err
	}
	s.target = s.eng.TargetDir(graph.Root().Dir())
	for _, pkg := range graph.Packages() {
		if s.watched[pkg.Dir()] {
			continue
		}
		if err := s.watchDir(pkg.Dir()); err != nil {
			return fmt.Errorf("failed to watch `%s`: %w", pkg.Dir(), err)
		}
	}
	return nil
}

// watchDir recursively adds a directory to the watcher.
func (s *watchSession) watchDir(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(path, d.Name(), s.target) {
			return filepath.SkipDir
		}
		if s.watched[path] {
			return nil
		}
		if err := s.watcher.Add(path); err != nil {
			return err
		}
		s.watched[path] = true
		return nil
	})
}

// relevant reports whether an event can change a build input.
func (s *watchSession) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if s.target != "" && within(ev.Name, s.target) {
		return false
	}
	name := filepath.Base(ev.Name)
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, "~")
}

// skipDir matches the directories input collection ignores.
func skipDir(path, name, target string) bool {
	if strings.HasPrefix(name, ".") || name == "target" {
		return true
	}
	return target != "" && within(path, target)
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
