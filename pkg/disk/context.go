package disk

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Identity is the authenticated caller a driver acts on behalf of.
type Identity struct {
	UID  uint32
	GID  uint32
	GIDs []uint32

	// Name is a display form used in log lines, e.g. "unix:1000@host".
	Name string
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// ============================================================================
// Request Transaction Scope
// ============================================================================

// Scope collects the driver transactions begun while serving one request.
// Transactional drivers call Join to obtain the transaction of the current
// request; the server ends the scope once the request has been answered.
type Scope struct {
	mu    sync.Mutex
	txns  map[any]Transaction
	order []any
	ended bool
}

// ErrScopeEnded is returned by Join after End.
var ErrScopeEnded = errors.New("transaction scope already ended")

func NewScope() *Scope {
	return &Scope{txns: make(map[any]Transaction)}
}

type scopeKey struct{}

// WithScope returns a context carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope stored in ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Join returns the transaction registered under key, beginning one through
// d on first use.
func (s *Scope) Join(ctx context.Context, key any, d TransactionalInterface) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil, ErrScopeEnded
	}
	if txn, ok := s.txns[key]; ok {
		return txn, nil
	}

	txn, err := d.BeginTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	s.txns[key] = txn
	s.order = append(s.order, key)
	return txn, nil
}

// Len returns the number of transactions joined so far.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// End commits (commit=true) or rolls back every joined transaction in the
// order they were begun. Once a commit fails the remaining transactions are
// rolled back. End is idempotent.
func (s *Scope) End(commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil
	}
	s.ended = true

	var errs []error
	for _, key := range s.order {
		txn := s.txns[key]
		if !commit {
			txn.Rollback()
			continue
		}
		if err := txn.Commit(); err != nil {
			errs = append(errs, err)
			commit = false
		}
	}
	s.txns = nil
	s.order = nil
	return errors.Join(errs...)
}
