package vm

import (
	"fmt"

	"github.com/nooga/arrayify/pkg/errors"
)

// ensure upgrades o so that its kind can serve op. It allocates nothing when
// the current kind already suffices.
func (o *Object) ensure(op Operation) {
	if CanSatisfy(o.kind, op) {
		return
	}
	o.arrayify(NextKind(o.kind, op))
}

// arrayify moves o to target, copying every populated slot into a fresh store
// and swapping store and kind together. It is the only code that changes an
// object's kind. A target at or below the current kind is a no-op.
//
// No user code runs between the copy and the swap, so no access can observe
// the new kind with the old store or a half-copied store.
func (o *Object) arrayify(target StorageKind) bool {
	r := o.realm
	if target <= o.kind {
		r.stats.Noops++
		return false
	}

	from := o.kind
	next := newStore(target, o.elements.Count())
	r.stats.StoreAllocations++

	copied := 0
	var copyErr error
	o.elements.ForEach(func(index uint32, v Value) bool {
		if err := next.Set(index, v); err != nil {
			copyErr = err
			return false
		}
		copied++
		return true
	})
	if copyErr != nil {
		// Kinds only move towards more general stores, which accept every
		// value a less general one holds.
		panic(fmt.Sprintf("arrayify: copying %s into %s: %v", from, target, copyErr))
	}

	o.elements, o.kind = next, target

	r.stats.Edges[from][target]++
	r.stats.SlotsCopied += uint64(copied)
	r.observer.OnTransition(from, target, copied)
	r.logger.Debug("arrayify", "from", from.String(), "to", target.String(), "slots", copied, "array", o.isArray)
	return true
}

// EnsureKind forces o to at least kind ahead of time. It exists for test
// harnesses that need SparseFast or SparseSlowPut preconditions; production
// paths rely on the access protocol to upgrade on demand. Kinds beyond
// SparseSlowPut are clamped to it.
func (o *Object) EnsureKind(kind StorageKind) {
	o.arrayify(min(kind, SparseSlowPut))
}

// Kind reports the current storage kind, for assertions only.
func (o *Object) Kind() StorageKind { return o.kind }

// refreshInterception re-examines the delegate chain when the process-wide
// interception epoch moved since the last check. When o itself or any link
// defines an indexed accessor, o is moved to SparseSlowPut. The result tells
// whether such an accessor currently exists.
func (o *Object) refreshInterception() (bool, error) {
	epoch := interceptEpoch.Load()
	if o.interceptEpoch == epoch {
		return o.intercepts, nil
	}

	found := o.HasIndexedAccessors()
	if !found {
		depth := 0
		for d := o.proto; d != nil; d = d.Prototype() {
			depth++
			if depth > o.realm.limits.MaxChainDepth {
				return false, o.chainTooDeep()
			}
			if d.HasIndexedAccessors() {
				found = true
				break
			}
		}
	}

	o.intercepts = found
	o.interceptEpoch = epoch
	if found && o.kind < SparseSlowPut {
		o.arrayify(SparseSlowPut)
	}
	return found, nil
}

func (o *Object) chainTooDeep() error {
	limit := uint64(o.realm.limits.MaxChainDepth)
	return errors.NewRangeError(limit+1, limit, "delegate chain longer than %d links", limit)
}
