package adapter

import (
	"context"
)

// Adapter is a protocol server managed by the nfsd process.
//
// Lifecycle:
//  1. Creation: the adapter is built with its configuration and the shared
//     dispatcher, session manager and share registry
//  2. Startup: Serve() binds the listeners and blocks until shutdown
//  3. Shutdown: Stop() or cancelling Serve's context stops the listeners
//     and waits for in-flight requests
//
// Implementations must be safe for concurrent use: Stop may be called while
// Serve is running.
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// Returns nil on graceful shutdown, or an error if startup fails or the
	// shutdown timeout was exceeded.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. It is idempotent, and ctx bounds how
	// long it waits for active connections.
	Stop(ctx context.Context) error

	// Protocol returns the protocol name for logging, e.g. "NFS".
	Protocol() string

	// Port returns the port the adapter listens on, or the configured port
	// before Serve has bound it.
	Port() int
}
