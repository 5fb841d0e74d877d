package memory

import "container/list"

// recencyList is an insertion-ordered map with O(1) lookup, promotion, and
// oldest-first removal. The list front holds the oldest entry, the back the
// most recently used.
type recencyList[V any] struct {
	items map[string]*list.Element
	order *list.List
}

type listEntry[V any] struct {
	key   string
	value V
}

func newRecencyList[V any]() *recencyList[V] {
	return &recencyList[V]{
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

func (r *recencyList[V]) len() int { return r.order.Len() }

func (r *recencyList[V]) get(key string) (V, bool) {
	if el, ok := r.items[key]; ok {
		return el.Value.(*listEntry[V]).value, true
	}
	var zero V
	return zero, false
}

// set inserts or overwrites key and makes it the most recently used entry.
func (r *recencyList[V]) set(key string, value V) {
	if el, ok := r.items[key]; ok {
		el.Value.(*listEntry[V]).value = value
		r.order.MoveToBack(el)
		return
	}
	r.items[key] = r.order.PushBack(&listEntry[V]{key: key, value: value})
}

// promote marks key as the most recently used entry.
func (r *recencyList[V]) promote(key string) {
	if el, ok := r.items[key]; ok {
		r.order.MoveToBack(el)
	}
}

func (r *recencyList[V]) remove(key string) {
	if el, ok := r.items[key]; ok {
		r.order.Remove(el)
		delete(r.items, key)
	}
}

// removeOldest removes and returns the least recently used entry.
func (r *recencyList[V]) removeOldest() (string, V, bool) {
	el := r.order.Front()
	if el == nil {
		var zero V
		return "", zero, false
	}
	ent := el.Value.(*listEntry[V])
	r.order.Remove(el)
	delete(r.items, ent.key)
	return ent.key, ent.value, true
}

// each walks entries from oldest to newest. fn must not mutate the list;
// returning false stops the walk.
func (r *recencyList[V]) each(fn func(key string, value V) bool) {
	for el := r.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*listEntry[V])
		if !fn(ent.key, ent.value) {
			return
		}
	}
}

func (r *recencyList[V]) clear() {
	r.items = make(map[string]*list.Element)
	r.order.Init()
}
