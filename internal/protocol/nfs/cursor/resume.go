package cursor

import (
	"context"
	"fmt"

	"github.com/marmos91/nfsd/pkg/disk"
)

// Position is where a listing continues.
type Position struct {
	Cursor *Cursor

	// EmitDot and EmitDotDot are set when the synthetic entries still have
	// to be sent before the driver's entries.
	EmitDot    bool
	EmitDotDot bool

	// Verifier is the directory's current cookie verifier.
	Verifier uint64
}

// Resume positions a listing of dir for cookie and verifier.
//
// Cookie 0 starts a new search. Any other cookie must come with the
// directory's current verifier (or 0); the search in the cookie's slot is
// reused when it still lists dir, otherwise a new search is started in a
// fresh slot. Either way the search is moved to the cookie's position.
func Resume(ctx context.Context, t *Table, drv disk.Interface, dir string, dirInfo *disk.FileInfo, cookie, verifier uint64) (*Position, error) {
	current := VerifierFor(dirInfo.ModifyTime)

	if cookie == 0 {
		c, err := start(ctx, t, drv, dir, current)
		if err != nil {
			return nil, err
		}
		return &Position{Cursor: c, EmitDot: true, EmitDotDot: true, Verifier: current}, nil
	}

	if verifier != 0 && verifier != current {
		return nil, fmt.Errorf("verifier %x, directory at %x: %w", verifier, current, ErrBadCookie)
	}

	c := t.Get(SearchID(cookie))
	if c == nil || c.Dir != dir {
		var err error
		if c, err = start(ctx, t, drv, dir, current); err != nil {
			return nil, err
		}
	}

	pos := &Position{Cursor: c, Verifier: current}
	resume := ResumeID(cookie)
	switch resume {
	case DotResumeID:
		pos.EmitDotDot = true
		resume = 0
	case DotDotResumeID:
		resume = 0
	}

	if c.Search.ResumeID() != resume && !c.Search.RestartAt(resume) {
		t.Release(c.Slot)
		return nil, fmt.Errorf("resume %d past end of %s: %w", resume, dir, ErrBadCookie)
	}
	return pos, nil
}

func start(ctx context.Context, t *Table, drv disk.Interface, dir string, verifier uint64) (*Cursor, error) {
	search, err := drv.StartSearch(ctx, dir, "*")
	if err != nil {
		return nil, fmt.Errorf("start search of %s: %w", dir, err)
	}
	return t.Allocate(dir, search, verifier), nil
}
