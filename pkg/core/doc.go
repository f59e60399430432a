// Package core defines the shared language of the leapbuild system.
//
// This package contains:
//   - Domain entities (Package, Dependency, Unit, BuildOutput)
//   - Persistence interface (Store) and run history records
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
