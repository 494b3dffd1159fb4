package vm

import (
	stderrors "errors"

	"github.com/nooga/arrayify/pkg/errors"
)

// Get reads index. Resolution order:
//
//  1. for a SparseSlowPut object, the first accessor for index on o or its
//     delegate chain (accessors win over own storage);
//  2. o's own store;
//  3. on a hole, the first chain link holding an accessor or a plain value.
//
// Indices at or above the length ceiling are never stored and read as
// Undefined. A getter failure is returned as an InterceptorError wrapping
// the getter's error.
func (o *Object) Get(index uint64) (Value, error) {
	if index >= o.realm.limits.MaxLength {
		return Undefined, nil
	}
	i := uint32(index)

	if _, err := o.refreshInterception(); err != nil {
		return Undefined, err
	}
	if o.kind == SparseSlowPut {
		slot, ok, err := o.findAccessor(i)
		if err != nil {
			return Undefined, err
		}
		if ok {
			return o.callGetter(slot, i)
		}
	}
	if v, ok := o.elements.Get(i); ok {
		return v, nil
	}
	return o.lookupChain(i)
}

// Set writes v at index. The storage kind is made sufficient for the shape
// of the write first; then, if an accessor for index exists on o or its
// chain, its setter runs instead of a store. Exactly one of the two happens.
func (o *Object) Set(index uint64, v Value) error {
	if err := o.checkIndex(index); err != nil {
		return err
	}
	if v.IsHole() {
		return o.Delete(index)
	}
	i := uint32(index)

	intercepted, err := o.refreshInterception()
	if err != nil {
		return err
	}
	o.ensure(o.classifyWrite(i, v, intercepted))

	if o.kind == SparseSlowPut {
		slot, ok, err := o.findAccessor(i)
		if err != nil {
			return err
		}
		if ok {
			return o.callSetter(slot, i, v)
		}
	}

	if err := o.elements.Set(i, v); err != nil {
		if !stderrors.Is(err, errNotDense) {
			return err
		}
		// The classification was too optimistic for this store; fall back
		// to a kind that accepts any index.
		o.ensure(OpWriteWithHole)
		if err := o.elements.Set(i, v); err != nil {
			return err
		}
	}
	if o.isArray && i >= o.length {
		o.length = i + 1
	}
	return nil
}

// classifyWrite maps a write to a lattice operation from its structural
// shape: interception first, then holes, then the value type for dense
// writes.
func (o *Object) classifyWrite(i uint32, v Value, intercepted bool) Operation {
	if intercepted || o.kind == SparseSlowPut {
		return OpWriteIntercepted
	}
	if o.kind >= SparseFast {
		return OpWriteWithHole
	}
	n := uint32(o.elements.Count())
	dense := i < n || (i == n && (!o.isArray || o.length <= n))
	if !dense {
		return OpWriteWithHole
	}
	if v.IsNumber() {
		return OpWriteDenseNumeric
	}
	return OpWriteDenseMixed
}

// Length returns the array length as a number, or Undefined for plain
// objects without a "length" property. It never changes the storage kind.
func (o *Object) Length() Value {
	if o.isArray {
		return lengthValue(o.length)
	}
	if v, ok := o.properties["length"]; ok {
		return v
	}
	return Undefined
}

// ArrayLength returns the raw array length; ok is false for plain objects.
func (o *Object) ArrayLength() (uint32, bool) {
	return o.length, o.isArray
}

// SetLength changes an array's length. Growing adds trailing holes, so a
// packed array becomes SparseFast; shrinking drops the slots beyond n and
// keeps the kind. On a plain object it stores a named "length" property.
func (o *Object) SetLength(n uint64) error {
	limit := o.realm.limits.MaxLength
	if n > limit {
		return errors.NewRangeError(n, limit, "invalid array length %d", n)
	}
	if !o.isArray {
		o.SetNamed("length", numberFromFloat(float64(n)))
		return nil
	}
	newLen := uint32(n)
	switch {
	case newLen > o.length:
		if uint64(newLen) > uint64(o.elements.Count()) {
			o.ensure(OpWriteWithHole)
		}
	case newLen < o.length:
		o.elements.Truncate(newLen)
		if o.accessorIdx != nil {
			for _, i := range o.accessorIdx.ToArray() {
				if i >= newLen {
					o.RemoveAccessor(uint64(i))
				}
			}
		}
	}
	o.length = newLen
	return nil
}

// Delete removes the own value at index, leaving a hole. Packed objects move
// to SparseFast first. Accessors are removed with RemoveAccessor.
func (o *Object) Delete(index uint64) error {
	if index >= o.realm.limits.MaxLength {
		return nil
	}
	i := uint32(index)
	if _, ok := o.elements.Get(i); !ok {
		return nil
	}
	o.ensure(OpWriteWithHole)
	return o.elements.Delete(i)
}

// findAccessor returns the first accessor for i on o or its chain.
func (o *Object) findAccessor(i uint32) (*AccessorSlot, bool, error) {
	if slot, ok := o.accessors[i]; ok {
		return slot, true, nil
	}
	depth := 0
	for d := o.proto; d != nil; d = d.Prototype() {
		depth++
		if depth > o.realm.limits.MaxChainDepth {
			return nil, false, o.chainTooDeep()
		}
		if d.HasAccessor(i) {
			if slot, ok := d.Accessor(i); ok {
				return slot, true, nil
			}
		}
	}
	return nil, false, nil
}

// lookupChain resolves a hole at i through the delegate chain.
func (o *Object) lookupChain(i uint32) (Value, error) {
	depth := 0
	for d := o.proto; d != nil; d = d.Prototype() {
		depth++
		if depth > o.realm.limits.MaxChainDepth {
			return Undefined, o.chainTooDeep()
		}
		if d.HasAccessor(i) {
			if slot, ok := d.Accessor(i); ok {
				return o.callGetter(slot, i)
			}
		}
		if v, ok := d.OwnIndex(i); ok {
			return v, nil
		}
	}
	return Undefined, nil
}

// callGetter runs slot.Get with o as receiver. The getter may re-enter o;
// nothing about o is cached across the call.
func (o *Object) callGetter(slot *AccessorSlot, i uint32) (Value, error) {
	if slot.Get == nil {
		return Undefined, nil
	}
	v, err := slot.Get(o)
	if err != nil {
		return Undefined, interceptorFailure(i, "getter failed", err)
	}
	if v.IsHole() {
		return Undefined, nil
	}
	return v, nil
}

// callSetter runs slot.Set with o as receiver. A slot without a setter
// rejects the write.
func (o *Object) callSetter(slot *AccessorSlot, i uint32, v Value) error {
	if slot.Set == nil {
		return &errors.InterceptorError{Msg: "accessor has no setter", Index: i}
	}
	if err := slot.Set(o, v); err != nil {
		return interceptorFailure(i, "setter failed", err)
	}
	return nil
}

// interceptorFailure wraps err once; failures from nested accessors pass
// through as they are.
func interceptorFailure(i uint32, msg string, err error) error {
	var ie *errors.InterceptorError
	if stderrors.As(err, &ie) {
		return err
	}
	return (&errors.InterceptorError{Msg: msg, Index: i}).CausedBy(err)
}
