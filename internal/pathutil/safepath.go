// Package pathutil checks url paths before they reach the filesystem.
package pathutil

import (
	"errors"
	"strings"
)

var (
	ErrEmptyPath  = errors.New("empty path")
	ErrDotSegment = errors.New("path has dot segments")
	ErrNULByte    = errors.New("path has NUL byte")
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// Check rejects paths a file: url must never name.
func Check(p string) error {
	switch {
	case p == "":
		return ErrEmptyPath
	case strings.IndexByte(p, 0) >= 0:
		return ErrNULByte
	case HasDotSegments(p):
		return ErrDotSegment
	}
	return nil
}

// Relative strips leading slashes and collapses empty segments, giving a
// path usable under an os.Root. The result is "" for the root itself.
func Relative(p string) string {
	segs := strings.Split(p, "/")
	out := segs[:0]
	for _, s := range segs {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "/")
}
