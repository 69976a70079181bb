package safety

import "reflect"

// visited is an identity-based set of container nodes already walked. It
// exists so traversal of cyclic object graphs terminates: each node is
// visited at most once.
type visited struct {
	seen map[uintptr]bool
}

func newVisited() *visited {
	return &visited{seen: make(map[uintptr]bool)}
}

// enter marks node as visited and reports whether this is the first visit.
// Only maps and slices have identity; anything else is always entered.
func (v *visited) enter(node any) bool {
	rv := reflect.ValueOf(node)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer:
		if rv.IsNil() {
			return true
		}
		ptr := rv.Pointer()
		if v.seen[ptr] {
			return false
		}
		v.seen[ptr] = true
		return true
	default:
		return true
	}
}
