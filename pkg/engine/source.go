package engine

// Source is a configuration value that is either fixed or computed from the running
// Context. Sources are resolved once per iteration.
type Source[T any] struct {
	value T
	fn    func(*Context) (T, error)
}

// Static returns a Source that always resolves to v.
func Static[T any](v T) Source[T] {
	return Source[T]{value: v}
}

// Computed returns a Source resolved by calling fn with the current Context.
func Computed[T any](fn func(*Context) (T, error)) Source[T] {
	return Source[T]{fn: fn}
}

// Resolve returns the value of s for c. The zero Source resolves to the zero value.
func (s Source[T]) Resolve(c *Context) (T, error) {
	if s.fn == nil {
		return s.value, nil
	}
	return s.fn(c)
}

// IsComputed reports whether s depends on the Context.
func (s Source[T]) IsComputed() bool {
	return s.fn != nil
}
