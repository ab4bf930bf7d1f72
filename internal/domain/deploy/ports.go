package deploy

import "context"

// SourceControl is the version-control backend of one working copy.
type SourceControl interface {
	// Sync fetches the remote and fast-forwards the tracked branch.
	Sync(ctx context.Context) error
	// Describe reports the nearest tag reachable from the tip.
	Describe(ctx context.Context) (Description, error)
	// Checkout moves the working copy and its submodules to release.
	Checkout(ctx context.Context, release Release) error
}

// Application runs the deployed application's own management tasks.
// Each call runs with the deploy path of target as working directory.
type Application interface {
	UpdateSchema(ctx context.Context, target Target) error
	PrecomputeContent(ctx context.Context, target Target) error
	CollectStatic(ctx context.Context, target Target) error
	CompileBytecode(ctx context.Context, target Target) error
}

// Lease is a held deploy lock.
type Lease interface {
	// Release gives the lock back. Calling it more than once is safe.
	Release() error
}

// Locker grants the exclusive deploy lock without blocking.
type Locker interface {
	Lock(ctx context.Context, operator string) (Lease, error)
}

// Activator adds and removes a target from the service supervisor.
type Activator interface {
	Disable(target Target) error
	Enable(ctx context.Context, target Target) error
}

// AuditLog records completed deployments.
type AuditLog interface {
	Append(entry AuditEntry) error
}
