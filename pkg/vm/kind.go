package vm

import "fmt"

// StorageKind tags the physical layout of an object's indexed properties.
// Kinds are totally ordered; a later kind can serve every operation an
// earlier one can, and an object only ever moves forward.
type StorageKind uint8

const (
	Undecided     StorageKind = iota // no elements materialized yet
	PackedNumeric                    // dense, numbers only
	PackedGeneric                    // dense, any value
	SparseFast                       // holes allowed
	SparseSlowPut                    // holes allowed, writes consult accessors first
)

var kindNames = [...]string{
	Undecided:     "Undecided",
	PackedNumeric: "PackedNumeric",
	PackedGeneric: "PackedGeneric",
	SparseFast:    "SparseFast",
	SparseSlowPut: "SparseSlowPut",
}

func (k StorageKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("StorageKind(%d)", k)
}

// AllKinds lists the kinds in lattice order.
func AllKinds() []StorageKind {
	return []StorageKind{Undecided, PackedNumeric, PackedGeneric, SparseFast, SparseSlowPut}
}

// ParseStorageKind resolves a kind by name.
func ParseStorageKind(name string) (StorageKind, error) {
	for i, n := range kindNames {
		if n == name {
			return StorageKind(i), nil
		}
	}
	return Undecided, fmt.Errorf("unknown storage kind %q", name)
}

// Operation is the shape of an access as seen by the lattice.
type Operation uint8

const (
	OpRead Operation = iota
	OpWriteDenseNumeric
	OpWriteDenseMixed
	OpWriteWithHole
	OpWriteIntercepted
)

var opNames = [...]string{
	OpRead:              "read",
	OpWriteDenseNumeric: "write-dense-numeric",
	OpWriteDenseMixed:   "write-dense-mixed",
	OpWriteWithHole:     "write-with-hole",
	OpWriteIntercepted:  "write-requires-interceptor-check",
}

func (op Operation) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Operation(%d)", op)
}

// AllOperations lists the operations in increasing order of demand.
func AllOperations() []Operation {
	return []Operation{OpRead, OpWriteDenseNumeric, OpWriteDenseMixed, OpWriteWithHole, OpWriteIntercepted}
}

// minimumKind is the least kind able to serve op.
func minimumKind(op Operation) StorageKind {
	switch op {
	case OpWriteDenseNumeric:
		return PackedNumeric
	case OpWriteDenseMixed:
		return PackedGeneric
	case OpWriteWithHole:
		return SparseFast
	case OpWriteIntercepted:
		return SparseSlowPut
	default:
		return Undecided
	}
}

// CanSatisfy reports whether kind serves op without an upgrade.
func CanSatisfy(kind StorageKind, op Operation) bool {
	return kind >= minimumKind(op)
}

// NextKind returns the least kind >= kind that satisfies op. It returns kind
// itself when no upgrade is needed.
func NextKind(kind StorageKind, op Operation) StorageKind {
	if m := minimumKind(op); m > kind {
		return m
	}
	return kind
}

// Supersedes reports whether a is strictly more general than b.
func Supersedes(a, b StorageKind) bool { return a > b }
