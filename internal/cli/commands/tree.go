package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/leapstack-labs/leapbuild/internal/engine"
	"github.com/leapstack-labs/leapbuild/internal/resolve"
	"github.com/leapstack-labs/leapbuild/pkg/core"
	"github.com/spf13/cobra"
)

// NewTreeCommand creates the tree command.
func NewTreeCommand() *cobra.Command {
	var test bool

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Display the resolved dependency tree",
		Long: `Print the root package and its resolved dependencies as a tree. Overrides
are already applied. A package that appears more than once is expanded at its
first occurrence and marked (*) afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := envFrom(cmd)
			root, err := e.rootDir()
			if err != nil {
				return err
			}
			mode := core.ModeBuild
			if test {
				mode = core.ModeTest
			}
			graph, err := e.newEngine(nil).Graph(cmd.Context(), engine.Request{RootDir: root, Mode: mode})
			if err != nil {
				return failure(err)
			}
			renderTree(e.renderer.Writer(), graph)
			return nil
		},
	}
	cmd.Flags().BoolVar(&test, "test", false, "Include the root package's dev-dependencies")
	return cmd
}

func renderTree(w io.Writer, graph *resolve.Graph) {
	l := list.NewWriter()
	l.SetStyle(list.StyleConnectedLight)

	root := graph.Root()
	l.AppendItem(packageLine(root))
	seen := map[string]bool{root.ID.Key(): true}

	normal, dev := splitDeps(graph.Dependencies(root.ID.Key()))
	l.Indent()
	appendDeps(l, graph, normal, seen)
	if len(dev) > 0 {
		l.AppendItem("[dev-dependencies]")
		l.Indent()
		appendDeps(l, graph, dev, seen)
		l.UnIndent()
	}
	l.UnIndent()

	_, _ = fmt.Fprintln(w, l.Render())
}

func appendDeps(l list.Writer, graph *resolve.Graph, deps []*core.Package, seen map[string]bool) {
	for _, pkg := range deps {
		key := pkg.ID.Key()
		if seen[key] {
			l.AppendItem(packageLine(pkg) + " (*)")
			continue
		}
		seen[key] = true
		l.AppendItem(packageLine(pkg))
		// Dev edges only exist on the root.
		normal, _ := splitDeps(graph.Dependencies(key))
		if len(normal) > 0 {
			l.Indent()
			appendDeps(l, graph, normal, seen)
			l.UnIndent()
		}
	}
}

func splitDeps(edges []resolve.DepEdge) (normal, dev []*core.Package) {
	for _, edge := range edges {
		if edge.Kind == core.DepDev {
			dev = append(dev, edge.Package)
		} else {
			normal = append(normal, edge.Package)
		}
	}
	byName := func(pkgs []*core.Package) {
		sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].ID.Key() < pkgs[j].ID.Key() })
	}
	byName(normal)
	byName(dev)
	return normal, dev
}

func packageLine(pkg *core.Package) string {
	return fmt.Sprintf("%s (%s)", pkg.ID, pkg.ID.URL())
}
