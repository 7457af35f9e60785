package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/cursor"
	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/openfile"
	"github.com/marmos91/nfsd/pkg/share"
)

// Session is the server state of one client identity.
//
// The dispatcher holds the session lock for the whole of a request, so
// everything reached through a session (tree connections, cursors and the
// open-file cache on the request path) is serialized per client.
type Session struct {
	ID       uuid.UUID
	Key      string
	Cred     Credential
	Identity *disk.Identity

	registry *share.Registry

	mu      sync.Mutex
	trees   map[uint32]*share.TreeConnection
	files   *openfile.Cache
	cursors *cursor.Table
	scope   *disk.Scope
	closed  bool

	// retired is set under the manager lock when the session leaves its
	// table. Requests that lock a retired session start over.
	retired atomic.Bool

	lastAccess atomic.Int64
}

func newSession(cred Credential, id *disk.Identity, registry *share.Registry, opts Options) *Session {
	s := &Session{
		ID:       uuid.New(),
		Key:      cred.Key(),
		Cred:     cred,
		Identity: id,
		registry: registry,
		trees:    make(map[uint32]*share.TreeConnection),
		files:    openfile.New(opts.OpenFiles),
		cursors:  cursor.NewTable(opts.MaxCursorSlots, opts.CursorLease),
	}
	if opts.Now != nil {
		s.cursors.SetClock(opts.Now)
	}
	s.Touch(opts.now())
	return s
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	s.lastAccess.Store(now.UnixNano())
}

func (s *Session) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

// Retired reports whether the session has been removed from its manager
// and is being, or has been, torn down.
func (s *Session) Retired() bool { return s.retired.Load() }

// Files returns the session's open-file cache.
func (s *Session) Files() *openfile.Cache { return s.files }

// Cursors returns the session's search table. Callers hold the lock.
func (s *Session) Cursors() *cursor.Table { return s.cursors }

// Client describes the session to the share ACL manager.
func (s *Session) Client() share.Client {
	return share.Client{
		Addr:      s.Cred.ClientIP(),
		Anonymous: s.Cred.Kind == KindNull,
		Identity:  s.Identity,
	}
}

// TreeConnection returns the session's connection to shareID, cloning it
// from the registry on first use. Callers hold the lock.
func (s *Session) TreeConnection(ctx context.Context, shareID uint32) (*share.TreeConnection, error) {
	if tc, ok := s.trees[shareID]; ok {
		return tc, nil
	}
	tc, err := s.registry.Connect(ctx, shareID, s.Client())
	if err != nil {
		return nil, err
	}
	s.trees[shareID] = tc
	logger.Debug("Tree connected: session=%s share=%s perm=%s", s, tc.Share.Name, tc.Permission)
	return tc, nil
}

// Attach installs tc as the session's connection to its share, replacing
// any earlier one. Callers hold the lock.
func (s *Session) Attach(tc *share.TreeConnection) {
	s.trees[tc.Share.ID] = tc
}

// Begin opens a transaction scope for one request and returns ctx carrying
// it and the session identity. Callers hold the lock and must call
// EndTransaction.
func (s *Session) Begin(ctx context.Context) context.Context {
	s.scope = disk.NewScope()
	return disk.WithIdentity(disk.WithScope(ctx, s.scope), s.Identity)
}

// EndTransaction commits or rolls back the scope opened by Begin.
func (s *Session) EndTransaction(commit bool) error {
	if s.scope == nil {
		return nil
	}
	scope := s.scope
	s.scope = nil
	return scope.End(commit)
}

// RunAs runs fn under the session lock in a fresh transaction that is
// committed when fn succeeds. The open-file sweeper uses it to close files
// on the session's behalf.
func (s *Session) RunAs(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope := disk.NewScope()
	err := fn(disk.WithIdentity(disk.WithScope(ctx, scope), s.Identity))
	if endErr := scope.End(err == nil); endErr != nil {
		err = errors.Join(err, endErr)
	}
	return err
}

// expireCursors closes the searches idle past their lease.
func (s *Session) expireCursors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors.Expire()
}

// close tears the session down. It never returns an error; failures are
// logged.
func (s *Session) close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// The open-file sweeper may be waiting for the session lock, so the
	// cache is closed without holding it.
	scope := disk.NewScope()
	err := s.files.Close(disk.WithIdentity(disk.WithScope(ctx, scope), s.Identity))
	if err != nil {
		logger.Warn("Session %s: closing open files: %v", s, err)
	}
	if err := scope.End(err == nil); err != nil {
		logger.Warn("Session %s: commit after close: %v", s, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors.CloseAll()
	if s.scope != nil {
		_ = s.scope.End(false)
		s.scope = nil
	}
	s.trees = make(map[uint32]*share.TreeConnection)
}

func (s *Session) String() string {
	return fmt.Sprintf("%s(%s %s)", s.ID.String()[:8], s.Cred.Kind, s.Key)
}
