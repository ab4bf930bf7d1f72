// Package deploy provides the core domain model for single-flight deployments.
package deploy

import (
	"fmt"
)

// Mode selects the deploy target.
type Mode uint8

const (
	// ModeStaging deploys the newest mainline state under a URL prefix.
	ModeStaging Mode = iota
	// ModeProduction deploys the latest finished release.
	ModeProduction
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeStaging:
		return "staging"
	case ModeProduction:
		return "production"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ModeFor returns ModeProduction when release is set and ModeStaging otherwise.
func ModeFor(release bool) Mode {
	if release {
		return ModeProduction
	}
	return ModeStaging
}

// Target is the resolved, immutable description of one deploy target.
type Target struct {
	Mode Mode
	// DeployPath is the working copy the site is served from.
	DeployPath string
	// ConfigName is the supervisor config file name.
	ConfigName string
	// SocketPath is the supervisor socket for this target.
	SocketPath string
	// URLPrefix rewrites site and asset roots. Empty in production.
	URLPrefix string
	// ServiceConfig is the supervisor config inside the working copy.
	ServiceConfig string
}

// IsStaging reports whether the target is the staging target.
func (t Target) IsStaging() bool {
	return t.Mode == ModeStaging
}

// String returns a short description for logs.
func (t Target) String() string {
	return fmt.Sprintf("%s(%s)", t.Mode, t.DeployPath)
}

// Resolver derives the Target for a mode. It holds one fixed Target per
// mode and never performs I/O.
type Resolver struct {
	staging    Target
	production Target
}

// NewResolver creates a resolver from the two target descriptions.
// The Mode field of each argument is overwritten.
func NewResolver(staging, production Target) *Resolver {
	staging.Mode = ModeStaging
	production.Mode = ModeProduction
	production.URLPrefix = ""
	return &Resolver{staging: staging, production: production}
}

// Resolve returns the Target for mode. Unknown modes resolve to staging.
func (r *Resolver) Resolve(mode Mode) Target {
	if mode == ModeProduction {
		return r.production
	}
	return r.staging
}
