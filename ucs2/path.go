package ucs2

import "strings"

// SplitParent splits an absolute path into its parent directory and
// final path component. parent is "" to mean the root directory.
// Trailing slashes are ignored; a bare "/" returns ("", "").
func SplitParent(path string) (parent, base string) {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "", ""
	}
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// SplitComponents splits an absolute path into its non-empty
// components, e.g. "/a/b/c" -> ["a","b","c"]. Repeated slashes are
// collapsed.
func SplitComponents(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
