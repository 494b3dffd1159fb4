package vm

import (
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/nooga/arrayify/pkg/config"
)

var realmCounter atomic.Int64

// interceptEpoch is bumped whenever an indexed accessor is defined or
// removed, or a delegate link changes, in any realm. Delegate chains may
// cross realms, so the counter is process-wide. Objects compare it to their
// cached epoch to decide whether the chain must be re-examined; it starts at
// 1 so a fresh object (epoch 0) always checks once.
var interceptEpoch atomic.Uint64

func init() { interceptEpoch.Store(1) }

// Realm is an isolated execution environment: the intrinsic prototypes, the
// limits every container and buffer is checked against, and the
// instrumentation shared by the objects it creates.
//
// A realm and its objects are driven by one goroutine at a time.
type Realm struct {
	// Identity
	id int

	limits   config.Limits
	logger   *slog.Logger
	observer Observer
	stats    TransitionStats

	// Built-in prototypes
	ObjectPrototype *Object
	ArrayPrototype  *Object
}

// RealmOption configures a Realm.
type RealmOption func(*Realm)

// WithLimits sets the length, byte-length and chain-depth ceilings.
func WithLimits(l config.Limits) RealmOption {
	return func(r *Realm) { r.limits = l }
}

// WithLogger sets the logger used for transition and allocation events.
func WithLogger(l *slog.Logger) RealmOption {
	return func(r *Realm) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver attaches an Observer, e.g. a metrics recorder.
func WithObserver(o Observer) RealmOption {
	return func(r *Realm) {
		if o != nil {
			r.observer = o
		}
	}
}

// NewRealm creates a realm with fresh intrinsics.
func NewRealm(opts ...RealmOption) *Realm {
	r := &Realm{
		id:       int(realmCounter.Add(1)),
		limits:   config.Default().Limits,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ObjectPrototype = r.newContainer(false, nil)
	r.ArrayPrototype = r.newContainer(false, r.ObjectPrototype)
	return r
}

// ID returns the realm's unique identifier.
func (r *Realm) ID() int { return r.id }

// Limits returns the ceilings in effect.
func (r *Realm) Limits() config.Limits { return r.limits }

// Logger returns the realm's logger.
func (r *Realm) Logger() *slog.Logger { return r.logger }

// InvalidateInterception forces every container, in this realm or any other
// whose chain runs through it, to re-examine its delegate chain for indexed
// accessors on its next access.
func (r *Realm) InvalidateInterception() {
	interceptEpoch.Add(1)
}

func (r *Realm) newContainer(isArray bool, proto Delegate) *Object {
	return &Object{
		realm:    r,
		isArray:  isArray,
		kind:     Undecided,
		elements: undecidedStore{},
		proto:    normalizeDelegate(proto),
	}
}

// NewObject creates a plain (non-array) object whose prototype is
// ObjectPrototype. Plain objects store indices like arrays but have no
// length.
func (r *Realm) NewObject() *Object {
	return r.newContainer(false, r.ObjectPrototype)
}

// NewArray creates an array from literal initializers. The initial kind is
// derived from the values: Undecided when empty, PackedNumeric when all are
// numbers, PackedGeneric when mixed and SparseFast when the literal has holes.
func (r *Realm) NewArray(values ...Value) *Object {
	a := r.newContainer(true, r.ArrayPrototype)
	if len(values) == 0 {
		return a
	}
	kind := PackedNumeric
	for _, v := range values {
		if v.IsHole() {
			kind = SparseFast
			break
		}
		if !v.IsNumber() {
			kind = PackedGeneric
		}
	}
	store := newStore(kind, len(values))
	for i, v := range values {
		if v.IsHole() {
			continue
		}
		if err := store.Set(uint32(i), v); err != nil {
			panic("arrayify: literal does not fit its classified kind: " + err.Error())
		}
	}
	a.kind = kind
	a.elements = store
	a.length = uint32(len(values))
	return a
}
