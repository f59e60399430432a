package toolchain

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapbuild/pkg/core"
	"github.com/ulikunitz/xz"
)

// CompileRequest is one unit compilation.
type CompileRequest struct {
	Unit core.Unit
	// OutDir receives the artifact.
	OutDir string
	// Inputs are the unit's current inputs as collected by the fingerprint package.
	Inputs []core.InputStamp
	// Deps are the artifacts of the unit's direct dependencies.
	Deps []core.Artifact
}

// Compiler turns a unit's inputs into an artifact.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) (core.Artifact, error)
}

// ArtifactName returns the artifact file stem of a unit.
func ArtifactName(u core.Unit) string {
	name := u.Package.Name() + "-" + u.Package.Version()
	if u.Profile == core.ProfileTest {
		name += "-test"
	}
	return name
}

// ArchiveCompiler packs a unit's inputs into a .tar.xz archive together with a
// DEPS file listing its dependency artifacts.
type ArchiveCompiler struct {
	Logger *slog.Logger
}

// NewArchiveCompiler creates the default compiler.
func NewArchiveCompiler(logger *slog.Logger) *ArchiveCompiler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ArchiveCompiler{Logger: logger}
}

// Compile writes <out>/<name>-<version>[-test].tar.xz. The archive is staged
// under a temporary name and renamed into place.
func (c *ArchiveCompiler) Compile(ctx context.Context, req CompileRequest) (core.Artifact, error) {
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return core.Artifact{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	dest := filepath.Join(req.OutDir, ArtifactName(req.Unit)+".tar.xz")

	tmp, err := os.CreateTemp(req.OutDir, "."+filepath.Base(dest)+".tmp.*")
	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to stage artifact: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := c.writeArchive(ctx, tmp, req); err != nil {
		return core.Artifact{}, err
	}
	if err := tmp.Sync(); err != nil {
		return core.Artifact{}, fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return core.Artifact{}, fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return core.Artifact{}, fmt.Errorf("failed to install artifact: %w", err)
	}
	committed = true

	c.Logger.Debug("wrote artifact", slog.String("unit", req.Unit.Key().String()), slog.String("path", dest))
	return core.Artifact{Unit: req.Unit.Key(), Path: dest}, nil
}

func (c *ArchiveCompiler) writeArchive(ctx context.Context, w io.Writer, req CompileRequest) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create xz writer: %w", err)
	}
	tw := tar.NewWriter(xw)

	dir := req.Unit.Package.Dir()
	for _, in := range req.Inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Inputs outside the package are tracked for freshness but not packed.
		if path.IsAbs(in.Path) || filepath.IsAbs(in.Path) {
			continue
		}
		if err := addFile(tw, filepath.Join(dir, filepath.FromSlash(in.Path)), "src/"+in.Path); err != nil {
			return fmt.Errorf("failed to archive `%s`: %w", in.Path, err)
		}
	}

	var deps strings.Builder
	for _, d := range req.Deps {
		fmt.Fprintf(&deps, "%s %s %s %s\n", d.Unit.Name, d.Unit.Version, d.Unit.Profile, d.Path)
	}
	hdr := &tar.Header{Name: "DEPS", Mode: 0o644, Size: int64(deps.Len()), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write DEPS: %w", err)
	}
	if _, err := io.WriteString(tw, deps.String()); err != nil {
		return fmt.Errorf("failed to write DEPS: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("failed to finish xz stream: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// CommandCompiler runs an external command per unit. Argument placeholders
// {name} {version} {profile} {src} {out} and {deps} are expanded; {deps}
// joins dependency artifact paths with the OS list separator.
type CommandCompiler struct {
	Argv   []string
	Logger *slog.Logger
}

// Compile runs the command in the package directory. The artifact path is
// the expanded {out}.
func (c *CommandCompiler) Compile(ctx context.Context, req CompileRequest) (core.Artifact, error) {
	if len(c.Argv) == 0 {
		return core.Artifact{}, fmt.Errorf("compiler command is empty")
	}
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return core.Artifact{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	out := filepath.Join(req.OutDir, ArtifactName(req.Unit))
	deps := make([]string, 0, len(req.Deps))
	for _, d := range req.Deps {
		deps = append(deps, d.Path)
	}
	r := strings.NewReplacer(
		"{name}", req.Unit.Package.Name(),
		"{version}", req.Unit.Package.Version(),
		"{profile}", string(req.Unit.Profile),
		"{src}", req.Unit.Package.Dir(),
		"{out}", out,
		"{deps}", strings.Join(deps, string(os.PathListSeparator)),
	)
	argv := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		argv[i] = r.Replace(a)
	}

	env := UnitEnv(req.Unit.Package, req.Unit.Profile, req.OutDir)
	env["LEAPBUILD_ARTIFACT"] = out
	env["LEAPBUILD_DEPS"] = strings.Join(deps, string(os.PathListSeparator))

	if c.Logger != nil {
		c.Logger.Debug("running compiler", slog.String("command", strings.Join(argv, " ")))
	}
	if _, err := runProcess(ctx, processSpec{Argv: argv, Dir: req.Unit.Package.Dir(), Env: env}); err != nil {
		return core.Artifact{}, err
	}
	return core.Artifact{Unit: req.Unit.Key(), Path: out}, nil
}
