// Package stdx holds small generic helpers missing from the standard library.
package stdx

// Must1 returns v, or panics when err is not nil. Use it for values built from
// static input, such as package-level tool definitions.
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// Coalesce returns the first argument that is not the zero value of T.
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}
