package inject

// PathSet is an immutable set of request paths eligible for injection.
// Matching is exact: case, trailing slashes and escaping are significant.
type PathSet struct {
	paths map[string]struct{}
}

// NewPathSet builds a PathSet from the configured paths.
func NewPathSet(paths []string) PathSet {
	m := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		m[p] = struct{}{}
	}
	return PathSet{paths: m}
}

// Eligible reports whether responses for path should be transformed.
func (s PathSet) Eligible(path string) bool {
	_, ok := s.paths[path]
	return ok
}

// Len returns the number of configured paths.
func (s PathSet) Len() int {
	return len(s.paths)
}
