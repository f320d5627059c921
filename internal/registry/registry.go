// Package registry is a concurrent name-keyed lookup table.
package registry

import (
	"slices"

	"github.com/alphadose/haxmap"
)

type Registry[K ~string, V any] interface {
	Get(name K) (V, bool)
	Add(name K, value V)
	GetOrAdd(name K, value func() V) (V, bool)
	Del(name K)
	Keys() []K
	Len() int
}

type registry[K ~string, V any] struct {
	values *haxmap.Map[K, V]
}

func New[K ~string, V any]() Registry[K, V] {
	return &registry[K, V]{
		values: haxmap.New[K, V](),
	}
}

func (r *registry[K, V]) Get(name K) (V, bool) {
	return r.values.Get(name)
}

func (r *registry[K, V]) Add(name K, value V) {
	r.values.Set(name, value)
}

func (r *registry[K, V]) GetOrAdd(name K, valueFn func() V) (V, bool) {
	return r.values.GetOrCompute(name, valueFn)
}

func (r *registry[K, V]) Del(name K) {
	r.values.Del(name)
}

// Keys returns the registered names in sorted order.
func (r *registry[K, V]) Keys() []K {
	keys := make([]K, 0, r.values.Len())
	r.values.ForEach(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	slices.Sort(keys)
	return keys
}

func (r *registry[K, V]) Len() int {
	return int(r.values.Len())
}
