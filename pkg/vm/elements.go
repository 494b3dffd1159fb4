package vm

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

type storeError string

func (e storeError) Error() string { return string(e) }

// errNotDense is returned by a store asked to do something its kind cannot
// represent. The transition engine answers it with an upgrade; it never
// reaches callers of the access protocol.
const errNotDense storeError = "element store: write needs a more general storage kind"

// ElementStore is the backing container for one StorageKind.
type ElementStore interface {
	Kind() StorageKind
	// Get returns the value at index; false means hole.
	Get(index uint32) (Value, bool)
	Set(index uint32, v Value) error
	Delete(index uint32) error
	// Count is the number of physically populated slots.
	Count() int
	// Truncate drops every slot at or above n.
	Truncate(n uint32)
	// ForEach visits populated slots in ascending index order until fn
	// returns false.
	ForEach(fn func(index uint32, v Value) bool)
}

func newStore(kind StorageKind, capacity int) ElementStore {
	switch kind {
	case Undecided:
		return undecidedStore{}
	case PackedNumeric:
		return &packedNumericStore{values: make([]float64, 0, capacity)}
	case PackedGeneric:
		return &packedGenericStore{values: make([]Value, 0, capacity)}
	default:
		return &sparseStore{kind: kind, values: make(map[uint32]Value, capacity), present: roaring.New()}
	}
}

// --- Undecided ---

type undecidedStore struct{}

func (undecidedStore) Kind() StorageKind                        { return Undecided }
func (undecidedStore) Get(uint32) (Value, bool)                 { return Undefined, false }
func (undecidedStore) Set(uint32, Value) error                  { return errNotDense }
func (undecidedStore) Delete(uint32) error                      { return nil }
func (undecidedStore) Count() int                               { return 0 }
func (undecidedStore) Truncate(uint32)                          {}
func (undecidedStore) ForEach(func(index uint32, v Value) bool) {}

// --- PackedNumeric ---

type packedNumericStore struct {
	values []float64
}

func (s *packedNumericStore) Kind() StorageKind { return PackedNumeric }

func (s *packedNumericStore) Get(index uint32) (Value, bool) {
	if uint64(index) >= uint64(len(s.values)) {
		return Undefined, false
	}
	return numberFromFloat(s.values[index]), true
}

func (s *packedNumericStore) Set(index uint32, v Value) error {
	if !v.IsNumber() {
		return errNotDense
	}
	f := v.ToFloat()
	switch {
	case uint64(index) < uint64(len(s.values)):
		s.values[index] = f
	case uint64(index) == uint64(len(s.values)):
		s.values = append(s.values, f)
	default:
		return errNotDense
	}
	return nil
}

func (s *packedNumericStore) Delete(index uint32) error {
	if uint64(index) >= uint64(len(s.values)) {
		return nil
	}
	return errNotDense
}

func (s *packedNumericStore) Count() int { return len(s.values) }

func (s *packedNumericStore) Truncate(n uint32) {
	if uint64(n) < uint64(len(s.values)) {
		s.values = s.values[:n]
	}
}

func (s *packedNumericStore) ForEach(fn func(index uint32, v Value) bool) {
	for i, f := range s.values {
		if !fn(uint32(i), numberFromFloat(f)) {
			return
		}
	}
}

// --- PackedGeneric ---

type packedGenericStore struct {
	values []Value
}

func (s *packedGenericStore) Kind() StorageKind { return PackedGeneric }

func (s *packedGenericStore) Get(index uint32) (Value, bool) {
	if uint64(index) >= uint64(len(s.values)) {
		return Undefined, false
	}
	return s.values[index], true
}

func (s *packedGenericStore) Set(index uint32, v Value) error {
	if v.IsHole() {
		return errNotDense
	}
	switch {
	case uint64(index) < uint64(len(s.values)):
		s.values[index] = v
	case uint64(index) == uint64(len(s.values)):
		s.values = append(s.values, v)
	default:
		return errNotDense
	}
	return nil
}

func (s *packedGenericStore) Delete(index uint32) error {
	if uint64(index) >= uint64(len(s.values)) {
		return nil
	}
	return errNotDense
}

func (s *packedGenericStore) Count() int { return len(s.values) }

func (s *packedGenericStore) Truncate(n uint32) {
	if uint64(n) < uint64(len(s.values)) {
		clear(s.values[n:])
		s.values = s.values[:n]
	}
}

func (s *packedGenericStore) ForEach(fn func(index uint32, v Value) bool) {
	for i, v := range s.values {
		if !fn(uint32(i), v) {
			return
		}
	}
}

// --- SparseFast / SparseSlowPut ---

// sparseStore keeps values keyed by index; present mirrors the key set so
// iteration is ordered without sorting.
type sparseStore struct {
	kind    StorageKind
	values  map[uint32]Value
	present *roaring.Bitmap
}

func (s *sparseStore) Kind() StorageKind { return s.kind }

func (s *sparseStore) Get(index uint32) (Value, bool) {
	v, ok := s.values[index]
	return v, ok
}

func (s *sparseStore) Set(index uint32, v Value) error {
	if v.IsHole() {
		return s.Delete(index)
	}
	s.values[index] = v
	s.present.Add(index)
	return nil
}

func (s *sparseStore) Delete(index uint32) error {
	delete(s.values, index)
	s.present.Remove(index)
	return nil
}

func (s *sparseStore) Count() int { return len(s.values) }

func (s *sparseStore) Truncate(n uint32) {
	if s.present.IsEmpty() || s.present.Maximum() < n {
		return
	}
	it := s.present.Iterator()
	it.AdvanceIfNeeded(n)
	for it.HasNext() {
		delete(s.values, it.Next())
	}
	s.present.RemoveRange(uint64(n), math.MaxUint32+1)
}

func (s *sparseStore) ForEach(fn func(index uint32, v Value) bool) {
	it := s.present.Iterator()
	for it.HasNext() {
		i := it.Next()
		if !fn(i, s.values[i]) {
			return
		}
	}
}
