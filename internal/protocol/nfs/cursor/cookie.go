// Package cursor implements the cookie and search-slot protocol behind
// READDIR and READDIRPLUS.
//
// A cookie carries the slot of the search that produced it in its top
// byte and the position within that search in the low 24 bits. The "."
// and ".." entries use reserved positions so a client can resume after
// them without the driver knowing about them.
package cursor

import (
	"errors"
	"time"
)

const (
	SearchMask = 0xFF000000
	ResumeMask = 0x00FFFFFF

	// DotResumeID and DotDotResumeID are the positions of the synthetic
	// "." and ".." entries.
	DotResumeID    = 0x00FFFFFF
	DotDotResumeID = 0x00FFFFFE

	// MaxSlots is the size of the 8-bit search id space.
	MaxSlots = 256
)

var (
	// ErrBadCookie reports a cookie or verifier that no longer matches the
	// directory.
	ErrBadCookie = errors.New("bad cookie")
)

// SearchID returns the slot index carried by cookie.
func SearchID(cookie uint64) int {
	return int((cookie & SearchMask) >> 24)
}

// ResumeID returns the position carried by cookie.
func ResumeID(cookie uint64) uint32 {
	return uint32(cookie & ResumeMask)
}

// MakeCookie combines a slot and a position.
func MakeCookie(slot int, resumeID uint32) uint64 {
	return uint64(slot)<<24&SearchMask | uint64(resumeID&ResumeMask)
}

// VerifierFor derives the cookie verifier of a directory from its
// modification time. A listing whose directory changed gets a new one.
func VerifierFor(mtime time.Time) uint64 {
	if mtime.IsZero() {
		return 0
	}
	return uint64(mtime.UnixMilli())
}
