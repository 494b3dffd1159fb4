package vm

// AccessorSlot intercepts reads and writes of a single index. Either
// function may be nil. The receiver is the object the access started on,
// not necessarily the object the slot was defined on.
type AccessorSlot struct {
	Get func(receiver *Object) (Value, error)
	Set func(receiver *Object, v Value) error
}

// Delegate is one link of a delegate ("prototype") chain. The engine only
// reads through it; installing or removing accessors is the owner's job.
//
// Implementations other than *Object must call Realm.InvalidateInterception
// after changing their accessors so that dependent containers re-check.
type Delegate interface {
	HasAccessor(index uint32) bool
	Accessor(index uint32) (*AccessorSlot, bool)
	// HasIndexedAccessors reports whether any index has an accessor.
	HasIndexedAccessors() bool
	// OwnIndex returns a plain stored value at index.
	OwnIndex(index uint32) (Value, bool)
	// Prototype returns the next link, or nil.
	Prototype() Delegate
}

// NamedDelegate is implemented by delegates that also carry named
// properties. Named lookups skip links that do not implement it.
type NamedDelegate interface {
	OwnNamed(name string) (Value, bool)
}

// normalizeDelegate turns a typed nil *Object into an untyped nil.
func normalizeDelegate(d Delegate) Delegate {
	if o, ok := d.(*Object); ok && o == nil {
		return nil
	}
	return d
}
