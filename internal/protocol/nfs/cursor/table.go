package cursor

import (
	"fmt"
	"time"

	"github.com/marmos91/nfsd/pkg/disk"
)

// DefaultLease is how long an idle search keeps its slot.
const DefaultLease = 30 * time.Second

// Cursor is one open directory search owned by a session.
type Cursor struct {
	Slot     int
	Dir      string
	Search   disk.SearchContext
	Verifier uint64

	lastUsed time.Time
}

// Cookie returns the cookie of the entry at resumeID in this search.
func (c *Cursor) Cookie(resumeID uint32) uint64 {
	return MakeCookie(c.Slot, resumeID)
}

// Unread steps the search back so the entry just returned by Next is
// returned again. It is used when that entry does not fit in a reply.
func (c *Cursor) Unread() {
	if id := c.Search.ResumeID(); id > 0 {
		c.Search.RestartAt(id - 1)
	}
}

// Table is a session's array of search slots. It grows on demand up to
// its maximum; beyond that the least recently used search is recycled.
//
// Table is not safe for concurrent use; callers hold the owning session's
// lock.
type Table struct {
	slots    []*Cursor
	maxSlots int
	lease    time.Duration
	now      func() time.Time
}

// NewTable returns an empty table. maxSlots is capped at MaxSlots.
func NewTable(maxSlots int, lease time.Duration) *Table {
	if maxSlots <= 0 || maxSlots > MaxSlots {
		maxSlots = MaxSlots
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Table{maxSlots: maxSlots, lease: lease, now: time.Now}
}

// SetClock replaces the time source. Tests use it to drive expiry.
func (t *Table) SetClock(now func() time.Time) {
	t.now = now
}

// Allocate stores a new search in a free slot, growing the array or
// recycling the least recently used slot when it is full.
func (t *Table) Allocate(dir string, search disk.SearchContext, verifier uint64) *Cursor {
	c := &Cursor{Dir: dir, Search: search, Verifier: verifier, lastUsed: t.now()}

	for i, s := range t.slots {
		if s == nil {
			c.Slot = i
			t.slots[i] = c
			return c
		}
	}

	if len(t.slots) < t.maxSlots {
		c.Slot = len(t.slots)
		t.slots = append(t.slots, c)
		return c
	}

	lru := 0
	for i, s := range t.slots {
		if s.lastUsed.Before(t.slots[lru].lastUsed) {
			lru = i
		}
	}
	t.slots[lru].Search.Close()
	c.Slot = lru
	t.slots[lru] = c
	return c
}

// Get returns the search in slot and refreshes its lease, or nil when the
// slot is empty or out of range.
func (t *Table) Get(slot int) *Cursor {
	if slot < 0 || slot >= len(t.slots) {
		return nil
	}
	c := t.slots[slot]
	if c != nil {
		c.lastUsed = t.now()
	}
	return c
}

// Release closes the search in slot and frees it.
func (t *Table) Release(slot int) {
	if slot < 0 || slot >= len(t.slots) || t.slots[slot] == nil {
		return
	}
	t.slots[slot].Search.Close()
	t.slots[slot] = nil
}

// Expire closes searches idle for longer than the lease and returns how
// many were closed.
func (t *Table) Expire() int {
	deadline := t.now().Add(-t.lease)
	n := 0
	for i, c := range t.slots {
		if c != nil && c.lastUsed.Before(deadline) {
			c.Search.Close()
			t.slots[i] = nil
			n++
		}
	}
	return n
}

// CloseAll closes every search.
func (t *Table) CloseAll() {
	for i, c := range t.slots {
		if c != nil {
			c.Search.Close()
			t.slots[i] = nil
		}
	}
	t.slots = nil
}

// Len returns the number of open searches.
func (t *Table) Len() int {
	n := 0
	for _, c := range t.slots {
		if c != nil {
			n++
		}
	}
	return n
}

func (t *Table) String() string {
	return fmt.Sprintf("cursor.Table{open=%d slots=%d max=%d}", t.Len(), len(t.slots), t.maxSlots)
}
