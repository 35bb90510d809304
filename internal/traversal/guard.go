// Package traversal implements the upstream-URL escape guard described in
// SPEC_FULL.md §4.8.
package traversal

import (
	"fmt"
	"net/url"
	"strings"
)

// ErrEscapesBase is returned when a resolved URL's path does not remain
// within the configured base path.
var ErrEscapesBase = fmt.Errorf("traversal: resolved path escapes the configured base")

// Resolve joins name onto base (base must already end with '/') and verifies
// the result's path segments still begin with base's own segments. Returns
// the resolved URL, or ErrEscapesBase if name (e.g. via "..") escaped the
// jail.
func Resolve(base *url.URL, name string) (*url.URL, error) {
	ref, err := url.Parse(name)
	if err != nil {
		return nil, fmt.Errorf("traversal: parsing %q: %w", name, err)
	}
	resolved := base.ResolveReference(ref)

	baseSegments := segments(base.Path)
	resolvedSegments := segments(resolved.Path)
	if len(resolvedSegments) < len(baseSegments) {
		return nil, ErrEscapesBase
	}
	for i, seg := range baseSegments {
		if resolvedSegments[i] != seg {
			return nil, ErrEscapesBase
		}
	}
	return resolved, nil
}

// segments splits a URL path into its non-empty segments, discarding the
// trailing empty segment a directory path produces.
func segments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeBase ensures base ends with a trailing '/', as the upstream base
// URL is required to, per SPEC_FULL.md §3.
func NormalizeBase(base string) string {
	if strings.HasSuffix(base, "/") {
		return base
	}
	return base + "/"
}
