package vm

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nooga/arrayify/pkg/errors"
)

// Object is an indexed container: an array or a plain object. It owns one
// ElementStore tagged with one StorageKind, and links to a delegate chain
// consulted for indices it does not hold itself.
type Object struct {
	realm   *Realm
	isArray bool

	kind     StorageKind
	elements ElementStore
	length   uint32 // authoritative for arrays only

	proto Delegate

	// Own indexed accessors; accessorIdx mirrors the key set.
	accessors   map[uint32]*AccessorSlot
	accessorIdx *roaring.Bitmap

	// Named properties (e.g. "ok" on a match-result style array).
	properties map[string]Value

	// Cached answer of refreshInterception, valid while interceptEpoch
	// equals the process-wide epoch.
	interceptEpoch uint64
	intercepts     bool
}

// Realm returns the realm that created o.
func (o *Object) Realm() *Realm { return o.realm }

// IsArray reports whether o is an array (and so has a length).
func (o *Object) IsArray() bool { return o.isArray }

// Value wraps o as a Value.
func (o *Object) Value() Value { return NewObjectValue(o) }

// --- Delegate implementation ---

func (o *Object) HasAccessor(index uint32) bool {
	return o.accessorIdx != nil && o.accessorIdx.Contains(index)
}

func (o *Object) Accessor(index uint32) (*AccessorSlot, bool) {
	slot, ok := o.accessors[index]
	return slot, ok
}

func (o *Object) HasIndexedAccessors() bool {
	return o.accessorIdx != nil && !o.accessorIdx.IsEmpty()
}

func (o *Object) OwnIndex(index uint32) (Value, bool) {
	return o.elements.Get(index)
}

func (o *Object) Prototype() Delegate { return o.proto }

// --- Delegate chain ---

// SetPrototype retargets o's delegate link. A link that would make the chain
// cyclic, or longer than the configured depth, is rejected with a
// RangeError. When the new chain carries indexed accessors o moves to
// SparseSlowPut immediately.
func (o *Object) SetPrototype(proto Delegate) error {
	proto = normalizeDelegate(proto)
	limit := o.realm.limits.MaxChainDepth
	depth := 0
	for d := proto; d != nil; d = d.Prototype() {
		if self, ok := d.(*Object); ok && self == o {
			return errors.NewRangeError(uint64(depth), uint64(limit), "cyclic delegate chain")
		}
		depth++
		if depth > limit {
			return o.chainTooDeep()
		}
	}
	o.proto = proto
	o.realm.InvalidateInterception()
	_, err := o.refreshInterception()
	return err
}

// --- Accessors ---

// DefineAccessor installs slot at index on o, replacing any plain value
// stored there. o moves to SparseSlowPut; other objects whose chains run
// through o pick the change up on their next access.
func (o *Object) DefineAccessor(index uint64, slot *AccessorSlot) error {
	if err := o.checkIndex(index); err != nil {
		return err
	}
	i := uint32(index)
	if o.accessors == nil {
		o.accessors = make(map[uint32]*AccessorSlot)
		o.accessorIdx = roaring.New()
	}
	o.accessors[i] = slot
	o.accessorIdx.Add(i)
	o.realm.InvalidateInterception()
	if _, err := o.refreshInterception(); err != nil {
		return err
	}
	if _, ok := o.elements.Get(i); ok {
		if err := o.elements.Delete(i); err != nil {
			return err
		}
	}
	if o.isArray && i >= o.length {
		o.length = i + 1
	}
	return nil
}

// RemoveAccessor deletes the accessor at index, if any. The kind does not
// move back.
func (o *Object) RemoveAccessor(index uint64) {
	if index > uint64(^uint32(0)) || !o.HasAccessor(uint32(index)) {
		return
	}
	i := uint32(index)
	delete(o.accessors, i)
	o.accessorIdx.Remove(i)
	o.realm.InvalidateInterception()
}

// --- Named properties ---

// OwnNamed returns an own named property.
func (o *Object) OwnNamed(name string) (Value, bool) {
	v, ok := o.properties[name]
	return v, ok
}

// GetNamed looks name up on o and then along the delegate chain.
func (o *Object) GetNamed(name string) Value {
	if v, ok := o.properties[name]; ok {
		return v
	}
	depth := 0
	for d := o.proto; d != nil && depth < o.realm.limits.MaxChainDepth; d = d.Prototype() {
		depth++
		if nd, ok := d.(NamedDelegate); ok {
			if v, ok := nd.OwnNamed(name); ok {
				return v
			}
		}
	}
	return Undefined
}

// SetNamed stores an own named property.
func (o *Object) SetNamed(name string, v Value) {
	if o.properties == nil {
		o.properties = make(map[string]Value)
	}
	o.properties[name] = v
}

// NamedKeys returns the own named property names, sorted.
func (o *Object) NamedKeys() []string {
	keys := make([]string, 0, len(o.properties))
	for k := range o.properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Introspection ---

// HasIndex reports whether o itself holds a value or an accessor at index.
func (o *Object) HasIndex(index uint64) bool {
	if index > uint64(^uint32(0)) {
		return false
	}
	i := uint32(index)
	if o.HasAccessor(i) {
		return true
	}
	_, ok := o.elements.Get(i)
	return ok
}

// OwnIndices returns every own index holding a value or an accessor, in
// ascending order.
func (o *Object) OwnIndices() []uint32 {
	set := roaring.New()
	o.elements.ForEach(func(index uint32, _ Value) bool {
		set.Add(index)
		return true
	})
	if o.accessorIdx != nil {
		set.Or(o.accessorIdx)
	}
	return set.ToArray()
}

func (o *Object) checkIndex(index uint64) error {
	limit := o.realm.limits.MaxLength
	if index >= limit {
		return errors.NewRangeError(index, limit, "index %d is not below the length ceiling %d", index, limit)
	}
	return nil
}
