package share

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
)

// Source discovers the shares to export. The registry asks it again
// whenever a handle names an unknown share.
type Source interface {
	Shares(ctx context.Context) ([]Definition, error)
}

// StaticSource is a fixed list of shares.
type StaticSource []Definition

func (s StaticSource) Shares(context.Context) ([]Definition, error) {
	return s, nil
}

// MountInfo records one MOUNT by a client.
type MountInfo struct {
	ClientAddr string
	ShareName  string
	MountTime  int64
}

// Registry maps share ids to template tree connections. It is safe for
// concurrent use and is read far more often than written.
type Registry struct {
	mu     sync.RWMutex
	source Source
	acl    ACLManager
	shares map[uint32]*TreeConnection
	byName map[string]uint32
	mounts map[string]*MountInfo
}

// NewRegistry returns an empty registry. A nil acl grants ReadWrite to
// everyone. Call Rescan (or rely on the rescan-on-miss) to populate it.
func NewRegistry(source Source, acl ACLManager) *Registry {
	return &Registry{
		source: source,
		acl:    acl,
		shares: make(map[uint32]*TreeConnection),
		byName: make(map[string]uint32),
		mounts: make(map[string]*MountInfo),
	}
}

// Rescan asks the source for the current share list. Shares already known
// keep their details and path cache; shares no longer listed are dropped.
func (r *Registry) Rescan(ctx context.Context) error {
	defs, err := r.source.Shares(ctx)
	if err != nil {
		return fmt.Errorf("rescan shares: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uint32]bool, len(defs))
	for _, def := range defs {
		if def.Name == "" || def.Disk == nil {
			logger.Warn("Skipping share with empty name or driver: %q", def.Name)
			continue
		}
		details := newDetails(def)
		if other, ok := r.shares[details.ID]; ok && other.Share.Name != def.Name {
			logger.Error("Share %q collides with %q (id=%08x); skipping", def.Name, other.Share.Name, details.ID)
			continue
		}
		seen[details.ID] = true
		if _, ok := r.shares[details.ID]; ok {
			continue
		}
		r.shares[details.ID] = &TreeConnection{Share: details, Disk: def.Disk, Permission: ReadWrite}
		r.byName[def.Name] = details.ID
		logger.Info("Share registered: name=%s id=%08x file_ids=%v symlinks=%v read_only=%v",
			def.Name, details.ID, details.FileIDSupport, details.SymlinkSupport, def.ReadOnly)
	}

	for id, tc := range r.shares {
		if !seen[id] {
			delete(r.shares, id)
			delete(r.byName, tc.Share.Name)
			logger.Info("Share removed: name=%s", tc.Share.Name)
		}
	}
	return nil
}

// Lookup returns the template connection for shareID, rescanning once on a
// miss. An unknown id yields ErrBadHandle.
func (r *Registry) Lookup(ctx context.Context, shareID uint32) (*TreeConnection, error) {
	r.mu.RLock()
	tc, ok := r.shares[shareID]
	r.mu.RUnlock()
	if ok {
		return tc, nil
	}

	if err := r.Rescan(ctx); err != nil {
		logger.Warn("Share rescan failed: %v", err)
	}

	r.mu.RLock()
	tc, ok = r.shares[shareID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("share %08x: %w", shareID, ErrBadHandle)
	}
	return tc, nil
}

// LookupName returns the template connection for a share name.
func (r *Registry) LookupName(ctx context.Context, name string) (*TreeConnection, error) {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		if err := r.Rescan(ctx); err != nil {
			logger.Warn("Share rescan failed: %v", err)
		}
		r.mu.RLock()
		id, ok = r.byName[name]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("share %q: %w", name, ErrShareNotFound)
		}
	}
	return r.Lookup(ctx, id)
}

// Connect clones the template of shareID with the permission the ACL
// manager grants client. A denied client gets ErrBadHandle, exactly as for
// an unknown share.
func (r *Registry) Connect(ctx context.Context, shareID uint32, client Client) (*TreeConnection, error) {
	tmpl, err := r.Lookup(ctx, shareID)
	if err != nil {
		return nil, err
	}

	perm := ReadWrite
	if r.acl != nil {
		perm = r.acl.Permission(ctx, tmpl.Share, client)
	}
	if tmpl.Share.Definition.ReadOnly && perm > ReadOnly {
		perm = ReadOnly
	}
	if perm == NoAccess {
		logger.Debug("Share access denied: share=%s client=%s", tmpl.Share.Name, client.Addr)
		return nil, fmt.Errorf("share %08x for %s: %w", shareID, client.Addr, ErrBadHandle)
	}
	return tmpl.Clone(perm), nil
}

// Permission evaluates the ACL without cloning. MOUNT uses it to refuse
// clients up front.
func (r *Registry) Permission(ctx context.Context, tc *TreeConnection, client Client) Permission {
	if r.acl == nil {
		return ReadWrite
	}
	return r.acl.Permission(ctx, tc.Share, client)
}

// List returns the details of every share sorted by name.
func (r *Registry) List() []*Details {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Details, 0, len(r.shares))
	for _, tc := range r.shares {
		out = append(out, tc.Share)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shares)
}

// ============================================================================
// Mount tracking
// ============================================================================

func (r *Registry) RecordMount(clientAddr, shareName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mounts[clientAddr+":"+shareName] = &MountInfo{
		ClientAddr: clientAddr,
		ShareName:  shareName,
		MountTime:  time.Now().Unix(),
	}
}

func (r *Registry) RemoveMount(clientAddr, shareName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := clientAddr + ":" + shareName
	if _, ok := r.mounts[key]; ok {
		delete(r.mounts, key)
		return true
	}
	return false
}

// RemoveAllMounts forgets every mount of clientAddr and returns the count.
func (r *Registry) RemoveAllMounts(clientAddr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, m := range r.mounts {
		if m.ClientAddr == clientAddr {
			delete(r.mounts, key)
			n++
		}
	}
	return n
}

// ListMounts returns a copy of the mount table ordered by client then share.
func (r *Registry) ListMounts() []*MountInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mounts := make([]*MountInfo, 0, len(r.mounts))
	for _, m := range r.mounts {
		cp := *m
		mounts = append(mounts, &cp)
	}
	sort.Slice(mounts, func(i, j int) bool {
		if mounts[i].ClientAddr != mounts[j].ClientAddr {
			return mounts[i].ClientAddr < mounts[j].ClientAddr
		}
		return mounts[i].ShareName < mounts[j].ShareName
	})
	return mounts
}
