// Package signal keeps ordered handler subscriptions grouped by kind.
//
// Handlers are delivered in registration order on the caller's goroutine.
// Every subscription gets a non-zero id that is unique across all kinds of
// one Registry, so a single Remove call is enough to drop it.
package signal

// Registry holds handlers of type F grouped by kind K.
type Registry[K comparable, F any] struct {
	lastID uint64
	kinds  map[K][]entry[F]
	index  map[uint64]K
}

type entry[F any] struct {
	id uint64
	fn F
}

// Add registers fn for kind and returns its removal id.
func (r *Registry[K, F]) Add(kind K, fn F) uint64 {
	if r.kinds == nil {
		r.kinds = make(map[K][]entry[F])
		r.index = make(map[uint64]K)
	}
	r.lastID++
	id := r.lastID
	r.kinds[kind] = append(r.kinds[kind], entry[F]{id: id, fn: fn})
	r.index[id] = kind
	return id
}

// Remove drops the subscription with the given id. Unknown ids are ignored.
func (r *Registry[K, F]) Remove(id uint64) bool {
	kind, ok := r.index[id]
	if !ok {
		return false
	}
	delete(r.index, id)
	list := r.kinds[kind]
	for i := range list {
		if list[i].id == id {
			// Copy so that an Each in progress keeps its snapshot
			next := make([]entry[F], 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(r.kinds, kind)
			} else {
				r.kinds[kind] = next
			}
			break
		}
	}
	return true
}

// Each calls visit for every handler of kind in registration order.
// Handlers removed during the walk are skipped.
func (r *Registry[K, F]) Each(kind K, visit func(F)) {
	for _, e := range r.kinds[kind] {
		if _, live := r.index[e.id]; live {
			visit(e.fn)
		}
	}
}

// Count returns the number of handlers subscribed to kind.
func (r *Registry[K, F]) Count(kind K) int {
	return len(r.kinds[kind])
}

// Len returns the total number of subscriptions.
func (r *Registry[K, F]) Len() int {
	return len(r.index)
}

// Clear drops every subscription. Ids are not reused afterwards.
func (r *Registry[K, F]) Clear() {
	r.kinds = nil
	r.index = nil
}
