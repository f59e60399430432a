package core

import (
	"fmt"
	"time"
)

// Profile selects which flavour of a package is compiled.
type Profile string

// Build profiles.
const (
	ProfileBuild Profile = "build"
	ProfileTest  Profile = "test"
)

// Mode selects which operation a graph is resolved and planned for.
type Mode string

// Build modes.
const (
	// ModeBuild compiles the normal dependency graph.
	ModeBuild Mode = "build"
	// ModeTest additionally includes the root's dev dependencies and a test unit for the root.
	ModeTest Mode = "test"
)

// UnitKey identifies a persisted build output within a target directory.
type UnitKey struct {
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Profile Profile `json:"profile"`
}

// String returns "name@version#profile".
func (k UnitKey) String() string {
	return fmt.Sprintf("%s@%s#%s", k.Name, k.Version, k.Profile)
}

// FileStem returns a filesystem-safe stem for the key.
func (k UnitKey) FileStem() string {
	return fmt.Sprintf("%s-%s-%s", k.Name, k.Version, k.Profile)
}

// Unit is one compilation of a package under a profile.
type Unit struct {
	Package *Package
	Profile Profile
}

// Key returns the unit's persistence key.
func (u Unit) Key() UnitKey {
	return UnitKey{Name: u.Package.Name(), Version: u.Package.Version(), Profile: u.Profile}
}

// String returns "name vX.Y.Z" with a profile suffix for test units.
func (u Unit) String() string {
	if u.Profile == ProfileTest {
		return u.Package.ID.String() + " (test)"
	}
	return u.Package.ID.String()
}

// InputStamp records the modification time of one input file.
type InputStamp struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
}

// DepStamp records the completion time of a dependency when a unit was built.
type DepStamp struct {
	Key         UnitKey   `json:"key"`
	CompletedAt time.Time `json:"completed_at"`
}

// Artifact is a compiled output.
type Artifact struct {
	Unit UnitKey
	Path string
}

// BuildOutput is the persisted record of a successful unit build.
type BuildOutput struct {
	Key          UnitKey      `json:"key"`
	SourcePath   string       `json:"source_path"`
	ArtifactPath string       `json:"artifact_path"`
	CompletedAt  time.Time    `json:"completed_at"`
	Inputs       []InputStamp `json:"inputs"`
	Dependencies []DepStamp   `json:"dependencies"`
	ScriptInputs []string     `json:"script_inputs"`
	RunID        string       `json:"run_id"`
}

// Artifact returns the artifact described by the record.
func (o *BuildOutput) Artifact() Artifact {
	return Artifact{Unit: o.Key, Path: o.ArtifactPath}
}
