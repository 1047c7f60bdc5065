package appointment

// Patch is an optional field update. The zero value leaves the field unchanged;
// Set(nil) on a pointer type clears it.
type Patch[T any] struct {
	Set   bool
	Value T
}

func SetTo[T any](v T) Patch[T] {
	return Patch[T]{Set: true, Value: v}
}

// Or returns the patched value, or current when the patch is unset.
func (p Patch[T]) Or(current T) T {
	if p.Set {
		return p.Value
	}
	return current
}
