package vm

import (
	stderrors "errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooga/arrayify/pkg/config"
	"github.com/nooga/arrayify/pkg/errors"
)

func ints(ns ...int32) []Value {
	out := make([]Value, len(ns))
	for i, n := range ns {
		out[i] = IntegerValue(n)
	}
	return out
}

func mustGet(t *testing.T, o *Object, i uint64) Value {
	t.Helper()
	v, err := o.Get(i)
	require.NoError(t, err)
	return v
}

func TestNewArrayInitialKind(t *testing.T) {
	r := NewRealm()
	assert.Equal(t, Undecided, r.NewArray().Kind())
	assert.Equal(t, PackedNumeric, r.NewArray(ints(1, 2)...).Kind())
	assert.Equal(t, PackedGeneric, r.NewArray(IntegerValue(1), NewString("a")).Kind())
	assert.Equal(t, SparseFast, r.NewArray(IntegerValue(1), Hole, IntegerValue(3)).Kind())
}

func TestPackedNumericWritesStayPacked(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(ints(1, 2, 3)...)

	require.NoError(t, a.Set(1, IntegerValue(20)))
	require.NoError(t, a.Set(3, NumberValue(4.5)))
	require.NoError(t, a.Set(4, IntegerValue(5)))

	assert.Equal(t, PackedNumeric, a.Kind())
	assert.Zero(t, r.TransitionStats().Transitions())
	assert.Equal(t, int32(5), a.Length().AsInteger())
	assert.Equal(t, 4.5, mustGet(t, a, 3).ToFloat())
}

func TestFirstWriteDecidesKind(t *testing.T) {
	r := NewRealm()
	a := r.NewArray()
	require.NoError(t, a.Set(0, IntegerValue(1)))
	assert.Equal(t, PackedNumeric, a.Kind())

	b := r.NewArray()
	require.NoError(t, b.Set(0, NewString("s")))
	assert.Equal(t, PackedGeneric, b.Kind())

	c := r.NewArray()
	require.NoError(t, c.Set(3, IntegerValue(1)))
	assert.Equal(t, SparseFast, c.Kind())
	assert.Equal(t, int32(4), c.Length().AsInteger())
}

func TestMixedWritePreservesValues(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(ints(1, 2, 3)...)

	require.NoError(t, a.Set(1, NewString("x")))

	assert.Equal(t, PackedGeneric, a.Kind())
	assert.Equal(t, int32(1), mustGet(t, a, 0).AsInteger())
	assert.Equal(t, "x", mustGet(t, a, 1).AsString())
	assert.Equal(t, int32(3), mustGet(t, a, 2).AsInteger())
	assert.Equal(t, uint64(1), r.TransitionStats().Edges[PackedNumeric][PackedGeneric])
	assert.Equal(t, uint64(3), r.TransitionStats().SlotsCopied)
}

func TestWriteBeyondEndMakesSparse(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(ints(1, 2)...)
	require.NoError(t, a.Set(5, IntegerValue(6)))

	assert.Equal(t, SparseFast, a.Kind())
	assert.Equal(t, int32(6), a.Length().AsInteger())
	assert.True(t, mustGet(t, a, 3).IsUndefined())
	assert.Equal(t, []uint32{0, 1, 5}, a.OwnIndices())
}

func TestForcedSparseKeepsLengthAndValues(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(NumberValue(0.1), NewString("x"), NumberValue(0.3))
	a.EnsureKind(SparseFast)

	assert.Equal(t, SparseFast, a.Kind())
	assert.Equal(t, int32(3), a.Length().AsInteger())
	assert.Equal(t, 0.1, mustGet(t, a, 0).ToFloat())
	assert.Equal(t, "x", mustGet(t, a, 1).AsString())
	assert.Equal(t, 0.3, mustGet(t, a, 2).ToFloat())
}

func TestEnsureKindIsIdempotent(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(ints(1, 2)...)
	a.EnsureKind(SparseFast)
	before := r.TransitionStats()

	a.EnsureKind(SparseFast)
	a.EnsureKind(PackedGeneric)

	after := r.TransitionStats()
	assert.Equal(t, SparseFast, a.Kind())
	assert.Equal(t, before.StoreAllocations, after.StoreAllocations)
	assert.Equal(t, before.Noops+2, after.Noops)
}

func TestEnsureKindClampsUnknownKinds(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(ints(1, 2)...)

	a.EnsureKind(StorageKind(9))
	assert.Equal(t, SparseSlowPut, a.Kind())
	assert.Equal(t, int32(2), mustGet(t, a, 1).AsInteger())
	assert.Equal(t, uint64(1), r.TransitionStats().Edges[PackedNumeric][SparseSlowPut])

	a.EnsureKind(StorageKind(200))
	assert.Equal(t, uint64(1), r.TransitionStats().Noops)
}

func TestKindNeverMovesBackwards(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(ints(1, 2, 3)...)
	require.NoError(t, a.Delete(1))
	require.Equal(t, SparseFast, a.Kind())

	require.NoError(t, a.Set(1, IntegerValue(2)))
	require.NoError(t, a.SetLength(1))
	assert.Equal(t, SparseFast, a.Kind())
}

func TestPlainObjectHasNoLength(t *testing.T) {
	r := NewRealm()
	o := r.NewObject()
	require.NoError(t, o.Set(0, IntegerValue(1)))
	require.NoError(t, o.Set(1, IntegerValue(2)))

	assert.True(t, o.Length().IsUndefined())
	_, isArray := o.ArrayLength()
	assert.False(t, isArray)

	require.NoError(t, o.SetLength(7))
	assert.Equal(t, int32(7), o.Length().AsInteger())
	assert.Equal(t, int32(2), mustGet(t, o, 1).AsInteger())
}

func TestSetLength(t *testing.T) {
	r := NewRealm()

	a := r.NewArray(ints(1, 2, 3)...)
	require.NoError(t, a.SetLength(1))
	assert.Equal(t, PackedNumeric, a.Kind(), "shrinking keeps a packed kind")
	assert.True(t, mustGet(t, a, 1).IsUndefined())

	b := r.NewArray(ints(1, 2, 3)...)
	require.NoError(t, b.SetLength(5))
	assert.Equal(t, SparseFast, b.Kind(), "growing adds holes")
	assert.Equal(t, int32(5), b.Length().AsInteger())

	err := b.SetLength(config.PlatformMaxLength + 1)
	var rangeErr *errors.RangeError
	assert.ErrorAs(t, err, &rangeErr)
}

func TestIndexOutOfRange(t *testing.T) {
	r := NewRealm(WithLimits(config.Limits{MaxLength: 10, MaxByteLength: 10, MaxChainDepth: 8}))
	a := r.NewArray(ints(1)...)

	err := a.Set(10, IntegerValue(1))
	var rangeErr *errors.RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, uint64(10), rangeErr.Index)

	v, err := a.Get(10)
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())

	assert.Error(t, a.Set(config.PlatformMaxLength, IntegerValue(1)))
	assert.Equal(t, PackedNumeric, a.Kind(), "rejected writes do not transition")
}

func TestHoleResolvesThroughChain(t *testing.T) {
	r := NewRealm()
	require.NoError(t, r.ArrayPrototype.Set(1, NewString("from proto")))

	a := r.NewArray(IntegerValue(1), Hole, IntegerValue(3))
	assert.Equal(t, "from proto", mustGet(t, a, 1).AsString())
	assert.True(t, mustGet(t, a, 7).IsUndefined())
}

func TestDelegateAccessorSetterRuns(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(ints(1, 2, 3)...)

	var got []Value
	require.NoError(t, r.ArrayPrototype.DefineAccessor(5, &AccessorSlot{
		Set: func(receiver *Object, v Value) error {
			assert.Same(t, a, receiver)
			got = append(got, v)
			return nil
		},
	}))

	require.NoError(t, a.Set(5, IntegerValue(42)))

	assert.Equal(t, SparseSlowPut, a.Kind())
	require.Len(t, got, 1)
	assert.Equal(t, int32(42), got[0].AsInteger())
	assert.False(t, a.HasIndex(5), "the setter replaced the store")
}

func TestLateAccessorWinsOverOwnValue(t *testing.T) {
	r := NewRealm()
	proto := r.NewObject()
	a := r.NewArray(ints(10, 20, 30)...)
	require.NoError(t, a.SetPrototype(proto))
	assert.Equal(t, int32(20), mustGet(t, a, 1).AsInteger())

	gets, sets := 0, 0
	require.NoError(t, proto.DefineAccessor(1, &AccessorSlot{
		Get: func(*Object) (Value, error) {
			gets++
			return NewString("intercepted"), nil
		},
		Set: func(*Object, Value) error {
			sets++
			return nil
		},
	}))

	assert.Equal(t, "intercepted", mustGet(t, a, 1).AsString())
	require.NoError(t, a.Set(1, IntegerValue(99)))
	assert.Equal(t, 1, gets)
	assert.Equal(t, 1, sets)
	v, ok := a.OwnIndex(1)
	require.True(t, ok)
	assert.Equal(t, int32(20), v.AsInteger(), "own slot untouched")
}

func TestSetPrototypeWithAccessorsTransitionsEagerly(t *testing.T) {
	r := NewRealm()
	proto := r.NewObject()
	require.NoError(t, proto.DefineAccessor(0, &AccessorSlot{}))

	a := r.NewArray(ints(1)...)
	require.NoError(t, a.SetPrototype(proto))
	assert.Equal(t, SparseSlowPut, a.Kind())
}

func TestRemoveAccessorKeepsKind(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(ints(1, 2)...)
	require.NoError(t, a.DefineAccessor(0, &AccessorSlot{Get: func(*Object) (Value, error) { return True, nil }}))
	a.RemoveAccessor(0)

	assert.Equal(t, SparseSlowPut, a.Kind())
	assert.True(t, mustGet(t, a, 0).IsUndefined(), "defining the accessor replaced the value")
	require.NoError(t, a.Set(0, IntegerValue(5)))
	assert.Equal(t, int32(5), mustGet(t, a, 0).AsInteger())
}

func TestAccessorWithoutSetter(t *testing.T) {
	r := NewRealm()
	a := r.NewArray()
	require.NoError(t, a.DefineAccessor(2, &AccessorSlot{Get: func(*Object) (Value, error) { return Null, nil }}))
	assert.Equal(t, int32(3), a.Length().AsInteger())

	err := a.Set(2, True)
	var ie *errors.InterceptorError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, uint32(2), ie.Index)
	assert.True(t, mustGet(t, a, 2).IsNull())
}

func TestInterceptorErrorsPropagate(t *testing.T) {
	r := NewRealm()
	boom := fmt.Errorf("boom")
	a := r.NewArray(ints(1)...)
	require.NoError(t, a.DefineAccessor(0, &AccessorSlot{
		Get: func(*Object) (Value, error) { return Undefined, boom },
		Set: func(*Object, Value) error { return boom },
	}))

	_, err := a.Get(0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Interceptor", errors.KindOf(err))

	err = a.Set(0, True)
	assert.ErrorIs(t, err, boom)
	var ie *errors.InterceptorError
	require.ErrorAs(t, err, &ie)
	assert.Same(t, boom, stderrors.Unwrap(ie))
}

func TestNestedInterceptorErrorWrappedOnce(t *testing.T) {
	r := NewRealm()
	boom := fmt.Errorf("inner")
	inner := r.NewArray()
	require.NoError(t, inner.DefineAccessor(0, &AccessorSlot{Get: func(*Object) (Value, error) { return Undefined, boom }}))
	outer := r.NewArray()
	require.NoError(t, outer.DefineAccessor(0, &AccessorSlot{Get: func(*Object) (Value, error) { return inner.Get(0) }}))

	_, err := outer.Get(0)
	var ie *errors.InterceptorError
	require.ErrorAs(t, err, &ie)
	assert.Same(t, boom, ie.Cause)
}

func TestAccessorReentrancy(t *testing.T) {
	r := NewRealm()
	a := r.NewArray(ints(1, 2)...)
	require.NoError(t, a.DefineAccessor(0, &AccessorSlot{
		Get: func(receiver *Object) (Value, error) {
			if err := receiver.Set(10, NewString("side effect")); err != nil {
				return Undefined, err
			}
			return receiver.Get(1)
		},
		Set: func(receiver *Object, v Value) error {
			return receiver.SetLength(1)
		},
	}))

	assert.Equal(t, int32(2), mustGet(t, a, 0).AsInteger())
	assert.Equal(t, "side effect", mustGet(t, a, 10).AsString())
	assert.Equal(t, int32(11), a.Length().AsInteger())

	require.NoError(t, a.Set(0, True))
	assert.Equal(t, int32(1), a.Length().AsInteger())
	assert.True(t, a.HasIndex(0), "the accessor below the new length survives")
}

func TestAccessorRetargetsChainMidAccess(t *testing.T) {
	r := NewRealm()
	recv := r.NewArray(ints(1, 2)...)
	other := r.NewObject()
	trigger := r.NewObject()

	setterCalls := 0
	var written Value
	require.NoError(t, trigger.DefineAccessor(0, &AccessorSlot{
		Get: func(*Object) (Value, error) {
			err := other.DefineAccessor(1, &AccessorSlot{
				Set: func(_ *Object, v Value) error {
					setterCalls++
					written = v
					return nil
				},
			})
			if err != nil {
				return Undefined, err
			}
			return True, recv.SetPrototype(other)
		},
	}))
	require.Equal(t, PackedNumeric, recv.Kind())

	assert.True(t, mustGet(t, trigger, 0).AsBoolean())
	require.NoError(t, recv.Set(1, IntegerValue(42)))

	assert.Equal(t, 1, setterCalls)
	assert.Equal(t, int32(42), written.AsInteger())
	assert.Equal(t, SparseSlowPut, recv.Kind())
	own, ok := recv.OwnIndex(1)
	require.True(t, ok)
	assert.Equal(t, int32(2), own.AsInteger(), "the setter ran instead of a plain store")
}

func TestDelegateCycleRejected(t *testing.T) {
	r := NewRealm()
	a := r.NewObject()
	b := r.NewObject()
	require.NoError(t, a.SetPrototype(b))

	err := b.SetPrototype(a)
	var rangeErr *errors.RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Same(t, r.ObjectPrototype, b.Prototype(), "rejected link leaves the chain unchanged")

	assert.Error(t, a.SetPrototype(a))
}

func TestDelegateChainDepthBounded(t *testing.T) {
	r := NewRealm(WithLimits(config.Limits{MaxLength: config.PlatformMaxLength, MaxChainDepth: 3}))
	o1 := r.NewObject()
	o2 := r.NewObject()
	o3 := r.NewObject()
	o4 := r.NewObject()
	require.NoError(t, o2.SetPrototype(o1))
	require.NoError(t, o3.SetPrototype(o2))

	err := o4.SetPrototype(o3)
	var rangeErr *errors.RangeError
	require.ErrorAs(t, err, &rangeErr)

	require.NoError(t, o4.SetPrototype(nil))
	assert.Nil(t, o4.Prototype())
	assert.True(t, mustGet(t, o4, 0).IsUndefined())
}

// chainLink is a Delegate that is not an *Object.
type chainLink struct {
	realm *Realm
	slots map[uint32]*AccessorSlot
	next  Delegate
}

func (c *chainLink) HasAccessor(i uint32) bool {
	_, ok := c.slots[i]
	return ok
}

func (c *chainLink) Accessor(i uint32) (*AccessorSlot, bool) {
	s, ok := c.slots[i]
	return s, ok
}

func (c *chainLink) HasIndexedAccessors() bool     { return len(c.slots) > 0 }
func (c *chainLink) OwnIndex(uint32) (Value, bool) { return Undefined, false }
func (c *chainLink) Prototype() Delegate           { return c.next }

func (c *chainLink) define(i uint32, s *AccessorSlot) {
	c.slots[i] = s
	c.realm.InvalidateInterception()
}

func TestForeignDelegate(t *testing.T) {
	r := NewRealm()
	link := &chainLink{realm: r, slots: map[uint32]*AccessorSlot{}}
	a := r.NewArray(ints(1, 2)...)
	require.NoError(t, a.SetPrototype(link))
	require.NoError(t, a.Set(2, IntegerValue(3)))
	assert.Equal(t, PackedNumeric, a.Kind())

	link.define(2, &AccessorSlot{Get: func(*Object) (Value, error) { return NewString("link"), nil }})

	assert.Equal(t, "link", mustGet(t, a, 2).AsString())
	assert.Equal(t, SparseSlowPut, a.Kind())
}

func TestCrossRealmDelegateAccessor(t *testing.T) {
	r1, r2 := NewRealm(), NewRealm()
	proto := r2.NewObject()
	c := r1.NewArray(ints(1)...)
	require.NoError(t, c.SetPrototype(proto))
	assert.Equal(t, int32(1), mustGet(t, c, 0).AsInteger())
	require.Equal(t, PackedNumeric, c.Kind())

	var seen []Value
	require.NoError(t, proto.DefineAccessor(0, &AccessorSlot{
		Get: func(*Object) (Value, error) { return NewString("from r2"), nil },
		Set: func(_ *Object, v Value) error {
			seen = append(seen, v)
			return nil
		},
	}))

	require.NoError(t, c.Set(0, IntegerValue(9)))
	assert.Equal(t, SparseSlowPut, c.Kind())
	require.Len(t, seen, 1)
	assert.Equal(t, int32(9), seen[0].AsInteger())
	assert.Equal(t, "from r2", mustGet(t, c, 0).AsString())
}

func TestNamedLookupFollowsChain(t *testing.T) {
	r := NewRealm()
	r.ObjectPrototype.SetNamed("maxByteLength", IntegerValue(8))
	o := r.NewObject()
	o.SetNamed("ok", True)

	assert.Equal(t, int32(8), o.GetNamed("maxByteLength").AsInteger())
	assert.True(t, o.GetNamed("ok").AsBoolean())
	assert.True(t, o.GetNamed("missing").IsUndefined())
	assert.Equal(t, []string{"ok"}, o.NamedKeys())
}

// TestRandomReplay drives one array through a random mix of writes, deletes
// and length changes and checks every read against a plain map.
func TestRandomReplay(t *testing.T) {
	r := NewRealm()
	a := r.NewArray()
	ref := map[uint32]Value{}
	var length uint32
	rng := rand.New(rand.NewSource(7))
	last := Undecided

	for step := 0; step < 5000; step++ {
		i := uint32(rng.Intn(64))
		switch op := rng.Intn(10); {
		case op < 6:
			v := IntegerValue(int32(step))
			if op == 5 {
				v = NewString(fmt.Sprint(step))
			}
			require.NoError(t, a.Set(uint64(i), v))
			ref[i] = v
			if i >= length {
				length = i + 1
			}
		case op < 8:
			require.NoError(t, a.Delete(uint64(i)))
			delete(ref, i)
		case op == 8:
			n := uint32(rng.Intn(64))
			require.NoError(t, a.SetLength(uint64(n)))
			for k := range ref {
				if k >= n {
					delete(ref, k)
				}
			}
			length = n
		default:
			got := mustGet(t, a, uint64(i))
			want, ok := ref[i]
			if !ok {
				want = Undefined
			}
			require.True(t, want.StrictlyEquals(got), "step %d index %d: want %s got %s", step, i, want, got)
		}
		require.False(t, Supersedes(last, a.Kind()), "step %d: kind moved back", step)
		last = a.Kind()
		n, _ := a.ArrayLength()
		require.Equal(t, length, n, "step %d", step)
	}
	for i := uint32(0); i < 64; i++ {
		want, ok := ref[i]
		if !ok {
			want = Undefined
		}
		assert.True(t, want.StrictlyEquals(mustGet(t, a, uint64(i))), "index %d", i)
	}
}
