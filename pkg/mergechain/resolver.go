package mergechain

import (
	"sort"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
)

// DefaultCap is the longest merge chain tolerated before the data is treated as corrupt.
const DefaultCap = 10

// Resolver maps ids through merged-into links to the id at the end of the chain.
// It is a disjoint-set forest with path compression; the hop cap is checked on every
// uncompressed walk so cycles and runaway chains surface as BoundedIterationError.
type Resolver struct {
	parent map[string]string
	cap    int
}

func New(cap int) *Resolver {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Resolver{
		parent: make(map[string]string),
		cap:    cap,
	}
}

// Link records that id was merged into target. Self links are ignored.
func (r *Resolver) Link(id, target string) {
	if id == target || target == "" {
		return
	}
	r.parent[id] = target
}

// Linked reports whether id currently has an outgoing link.
func (r *Resolver) Linked(id string) bool {
	_, ok := r.parent[id]
	return ok
}

// Find returns the final id for id. Ids without links resolve to themselves.
func (r *Resolver) Find(id string) (string, error) {
	path := []string{id}
	current := id
	for hops := 0; ; hops++ {
		next, ok := r.parent[current]
		if !ok {
			break
		}
		if hops >= r.cap {
			return "", fernerrors.NewBoundedIterationError(id, r.cap, append(path, next))
		}
		path = append(path, next)
		current = next
	}

	// compress: every id on the walk now points straight at the root
	for _, p := range path[:len(path)-1] {
		if p != current {
			r.parent[p] = current
		}
	}
	return current, nil
}

// Walk follows next from id and returns every id reached after it, nearest first.
// A walk longer than cap hops fails with BoundedIterationError.
func Walk(id string, cap int, next func(string) (string, bool)) ([]string, error) {
	if cap <= 0 {
		cap = DefaultCap
	}
	path := []string{id}
	current := id
	for hops := 0; ; hops++ {
		n, ok := next(current)
		if !ok {
			return path[1:], nil
		}
		if hops >= cap {
			return nil, fernerrors.NewBoundedIterationError(id, cap, append(path, n))
		}
		path = append(path, n)
		current = n
	}
}

// ResolveAll resolves a full link table (id -> merged-into, nil for canonical ids).
func ResolveAll(links map[string]*string, cap int) (map[string]string, error) {
	r := New(cap)
	ids := make([]string, 0, len(links))
	for id, target := range links {
		ids = append(ids, id)
		if target != nil {
			r.Link(id, *target)
		}
	}
	sort.Strings(ids)

	resolved := make(map[string]string, len(links))
	for _, id := range ids {
		final, err := r.Find(id)
		if err != nil {
			return nil, err
		}
		resolved[id] = final
	}
	return resolved, nil
}
