package disk

import (
	"fmt"
	"path"
	"strings"
)

// Root is the path of a share's root directory.
const Root = "/"

// Clean normalizes p into the absolute share-relative form drivers expect.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// Join appends name to dir.
func Join(dir, name string) string {
	return path.Join(Clean(dir), name)
}

// Parent returns the directory containing p. The parent of the root is the root.
func Parent(p string) string {
	return path.Dir(Clean(p))
}

// Base returns the last component of p.
func Base(p string) string {
	return path.Base(Clean(p))
}

// IsWithin reports whether p equals dir or lies below it.
func IsWithin(p, dir string) bool {
	p, dir = Clean(p), Clean(dir)
	if dir == Root {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// ValidateName checks a single path component supplied by a client.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("name %q: %w", name, ErrInvalid)
	case len(name) > MaxNameLength:
		return fmt.Errorf("name of %d bytes: %w", len(name), ErrNameTooLong)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("name %q: %w", name, ErrInvalid)
	}
	return nil
}
