// Package session tracks one long-lived Session per client identity.
//
// A session owns the per-client state the server keeps between requests:
// cloned tree connections, directory search cursors and open files. UDP
// sessions are torn down after an idle timeout and TCP sessions when their
// connection closes.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/cursor"
	"github.com/marmos91/nfsd/pkg/metrics"
	"github.com/marmos91/nfsd/pkg/openfile"
	"github.com/marmos91/nfsd/pkg/share"
)

const (
	DefaultIdleTimeout       = 10 * time.Minute
	DefaultIdleSweepInterval = time.Minute
	DefaultCursorSweep       = 15 * time.Second
)

type Options struct {
	// IdleTimeout closes UDP sessions without traffic for this long.
	IdleTimeout       time.Duration
	IdleSweepInterval time.Duration

	CursorLease    time.Duration
	CursorSweep    time.Duration
	MaxCursorSlots int

	OpenFiles openfile.Options

	Metrics metrics.CacheMetrics
	Now     func() time.Time
}

func (o *Options) applyDefaults() {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.IdleSweepInterval <= 0 {
		o.IdleSweepInterval = DefaultIdleSweepInterval
	}
	if o.CursorLease <= 0 {
		o.CursorLease = cursor.DefaultLease
	}
	if o.CursorSweep <= 0 {
		o.CursorSweep = DefaultCursorSweep
	}
	if o.MaxCursorSlots <= 0 {
		o.MaxCursorSlots = cursor.MaxSlots
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NoopCacheMetrics{}
	}
	if o.OpenFiles.Metrics == nil {
		o.OpenFiles.Metrics = o.Metrics
	}
	if o.OpenFiles.Now == nil {
		o.OpenFiles.Now = o.Now
	}
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Manager owns the session tables and their sweepers.
type Manager struct {
	registry *share.Registry
	auth     Authenticator
	opts     Options

	mu     sync.Mutex
	tables map[Kind]map[string]*Session
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager returns a manager and starts its idle and cursor sweepers.
func NewManager(registry *share.Registry, auth Authenticator, opts Options) *Manager {
	opts.applyDefaults()
	m := &Manager{
		registry: registry,
		auth:     auth,
		opts:     opts,
		tables: map[Kind]map[string]*Session{
			KindNull: {},
			KindUnix: {},
		},
		stop: make(chan struct{}),
	}

	m.wg.Add(2)
	go m.loop(opts.IdleSweepInterval, func() { m.SweepIdle(context.Background()) })
	go m.loop(opts.CursorSweep, func() { m.SweepCursors() })
	return m
}

func (m *Manager) loop(interval time.Duration, fn func()) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// FindOrCreate returns the session for cred, authenticating and
// registering a new one on a miss.
func (m *Manager) FindOrCreate(ctx context.Context, cred Credential) (*Session, error) {
	key := cred.Key()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("session manager closed")
	}
	table, ok := m.tables[cred.Kind]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("credential kind %v: %w", cred.Kind, ErrAuthFailed)
	}
	if s, ok := table[key]; ok {
		m.mu.Unlock()
		s.Touch(m.opts.now())
		return s, nil
	}
	m.mu.Unlock()

	identity, err := m.auth.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another request from the same client may have won the race.
	if s, ok := table[key]; ok {
		s.Touch(m.opts.now())
		return s, nil
	}

	s := newSession(cred, identity, m.registry, m.opts)
	table[key] = s
	m.opts.Metrics.SetSessions(cred.Kind.String(), len(table))
	logger.Info("Session created: id=%s kind=%s client=%s identity=%s", s.ID, cred.Kind, cred.Addr, identity.Name)
	return s, nil
}

// Acquire returns the session for cred with its lock held. The caller
// unlocks it when the request is done.
//
// A session can be retired by CloseConnection, the idle sweep or Close
// after it was looked up; such a session is released and the lookup is
// retried, which creates a fresh session in its place.
func (m *Manager) Acquire(ctx context.Context, cred Credential) (*Session, error) {
	for {
		s, err := m.FindOrCreate(ctx, cred)
		if err != nil {
			return nil, err
		}
		s.Lock()
		if !s.Retired() {
			return s, nil
		}
		s.Unlock()
		logger.Debug("Session %s retired before use, retrying", s)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tables {
		n += len(t)
	}
	return n
}

// removeLocked unlinks the sessions matching pred and returns them.
func (m *Manager) removeLocked(pred func(*Session) bool) []*Session {
	var out []*Session
	for kind, table := range m.tables {
		for key, s := range table {
			if pred(s) {
				s.retired.Store(true)
				delete(table, key)
				out = append(out, s)
			}
		}
		m.opts.Metrics.SetSessions(kind.String(), len(table))
	}
	return out
}

func (m *Manager) teardown(ctx context.Context, sessions []*Session, reason string) {
	for _, s := range sessions {
		s.close(ctx)
		m.opts.Metrics.RecordSessionClosed(reason)
		logger.Info("Session closed: id=%s client=%s reason=%s", s.ID, s.Cred.Addr, reason)
	}
}

// CloseConnection tears down every session created over the transport
// endpoint proto/addr. TCP calls it when a connection closes.
func (m *Manager) CloseConnection(ctx context.Context, proto, addr string) int {
	m.mu.Lock()
	closed := m.removeLocked(func(s *Session) bool {
		return s.Cred.Protocol == proto && s.Cred.Addr == addr
	})
	m.mu.Unlock()

	m.teardown(ctx, closed, "disconnect")
	return len(closed)
}

// SweepIdle tears down UDP sessions idle longer than the idle timeout.
// TCP sessions live as long as their connection.
func (m *Manager) SweepIdle(ctx context.Context) int {
	cutoff := m.opts.now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	idle := m.removeLocked(func(s *Session) bool {
		return s.Cred.Protocol == "udp" && s.LastAccess().Before(cutoff)
	})
	m.mu.Unlock()

	m.teardown(ctx, idle, "idle")
	return len(idle)
}

// SweepCursors closes expired searches in every session, locking each
// session in turn.
func (m *Manager) SweepCursors() int {
	m.mu.Lock()
	var all []*Session
	for _, table := range m.tables {
		for _, s := range table {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	total := 0
	for _, s := range all {
		total += s.expireCursors()
	}
	if total > 0 {
		logger.Debug("Cursor sweep closed %d idle searches", total)
	}
	m.opts.Metrics.RecordExpired("cursor", total)
	return total
}

// Close stops the sweepers and tears down every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	all := m.removeLocked(func(*Session) bool { return true })
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()

	m.teardown(ctx, all, "shutdown")
}
