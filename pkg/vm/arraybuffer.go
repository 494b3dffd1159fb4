package vm

import (
	"math"
	"sync"

	"github.com/nooga/arrayify/pkg/errors"
)

// maxSafeInteger is 2^53 - 1, the upper bound of ECMAScript ToIndex.
const maxSafeInteger = 1<<53 - 1

// BufferOptions is the options bag of the ArrayBuffer and SharedArrayBuffer
// constructors. A nil MaxByteLength means a fixed-length buffer.
type BufferOptions struct {
	MaxByteLength *uint64
}

// WithMaxByteLength returns options for a growable buffer.
func WithMaxByteLength(n uint64) *BufferOptions {
	return &BufferOptions{MaxByteLength: &n}
}

// BufferOptionsFromValue reads {maxByteLength} from an options value.
// Non-object values and an absent key yield nil (fixed length).
func BufferOptionsFromValue(v Value) (*BufferOptions, error) {
	obj := v.AsObject()
	if obj == nil {
		return nil, nil
	}
	m := obj.GetNamed("maxByteLength")
	if m.IsUndefined() {
		return nil, nil
	}
	n, err := ToIndex(m)
	if err != nil {
		return nil, err
	}
	return WithMaxByteLength(n), nil
}

// ToIndex implements ECMAScript ToIndex: NaN becomes 0, fractions are
// truncated, negative values and values above 2^53-1 are a RangeError.
func ToIndex(v Value) (uint64, error) {
	if v.IsUndefined() {
		return 0, nil
	}
	f := v.ToFloat()
	if math.IsNaN(f) {
		return 0, nil
	}
	f = math.Trunc(f)
	if f < 0 || f > maxSafeInteger {
		return 0, errors.NewRangeError(0, maxSafeInteger, "%s is not a valid index", formatNumber(f))
	}
	return uint64(f), nil
}

// bufferCapacity is the validated shape of a buffer.
type bufferCapacity struct {
	initialLength uint64
	maxByteLength uint64 // meaningful when growable
	growable      bool
}

// checkCapacity validates a creation request against the realm's ceiling
// before anything is allocated.
func (r *Realm) checkCapacity(length uint64, opts *BufferOptions) (bufferCapacity, error) {
	ceiling := r.limits.MaxByteLength
	if ceiling > uint64(math.MaxInt) {
		ceiling = uint64(math.MaxInt)
	}
	c := bufferCapacity{initialLength: length}
	if opts != nil && opts.MaxByteLength != nil {
		limit := *opts.MaxByteLength
		if limit > ceiling {
			return c, errors.NewCapacityError(limit, ceiling, "maxByteLength exceeds the byte-length ceiling")
		}
		if length > limit {
			return c, errors.NewCapacityError(length, limit, "byte length exceeds maxByteLength")
		}
		c.maxByteLength = limit
		c.growable = true
	}
	if length > ceiling {
		return c, errors.NewCapacityError(length, ceiling, "byte length exceeds the byte-length ceiling")
	}
	return c, nil
}

// ArrayBufferObject represents a raw binary data buffer, optionally
// resizable up to a maxByteLength fixed at creation.
type ArrayBufferObject struct {
	data     []byte
	capacity bufferCapacity
	detached bool
}

// NewArrayBuffer allocates a zeroed buffer of length bytes. With a
// maxByteLength option the buffer is resizable. Every limit is checked
// first; on failure nothing is allocated and a CapacityError is returned.
func (r *Realm) NewArrayBuffer(length uint64, opts *BufferOptions) (*ArrayBufferObject, error) {
	c, err := r.checkCapacity(length, opts)
	if err != nil {
		r.rejectBuffer("ArrayBuffer", err)
		return nil, err
	}
	ab := &ArrayBufferObject{data: make([]byte, length), capacity: c}
	r.acceptBuffer("ArrayBuffer", length)
	return ab, nil
}

// NewArrayBufferFromValues is the constructor entry point taking script
// values: new ArrayBuffer(length, options).
func (r *Realm) NewArrayBufferFromValues(length, options Value) (*ArrayBufferObject, error) {
	n, opts, err := bufferArgs(length, options)
	if err != nil {
		r.rejectBuffer("ArrayBuffer", err)
		return nil, err
	}
	return r.NewArrayBuffer(n, opts)
}

// GetData returns the underlying byte slice
func (ab *ArrayBufferObject) GetData() []byte { return ab.data }

// ByteLength returns the current length in bytes.
func (ab *ArrayBufferObject) ByteLength() uint64 { return uint64(len(ab.data)) }

// MaxByteLength returns the ceiling of a resizable buffer, or the byte
// length of a fixed one.
func (ab *ArrayBufferObject) MaxByteLength() uint64 {
	if ab.capacity.growable {
		return ab.capacity.maxByteLength
	}
	return ab.ByteLength()
}

// Resizable reports whether the buffer was created with maxByteLength.
func (ab *ArrayBufferObject) Resizable() bool { return ab.capacity.growable }

// IsDetached returns whether the buffer has been detached
func (ab *ArrayBufferObject) IsDetached() bool { return ab.detached }

// Detach detaches the ArrayBuffer, making it unusable
func (ab *ArrayBufferObject) Detach() {
	ab.detached = true
	ab.data = nil
}

// Resize changes the byte length of a resizable buffer to n, zero-filling
// any new bytes. Fixed buffers always fail.
func (ab *ArrayBufferObject) Resize(n uint64) error {
	if ab.detached {
		return errors.NewCapacityError(n, 0, "buffer is detached")
	}
	if !ab.capacity.growable {
		return errors.NewCapacityError(n, ab.ByteLength(), "buffer is not resizable")
	}
	if n > ab.capacity.maxByteLength {
		return errors.NewCapacityError(n, ab.capacity.maxByteLength, "new length exceeds maxByteLength")
	}
	ab.data = resizeBytes(ab.data, int(n))
	return nil
}

// Slice copies bytes [start, end) into a new fixed-length buffer. Negative
// offsets count from the end; offsets are clamped to the buffer.
func (ab *ArrayBufferObject) Slice(start, end int64) (*ArrayBufferObject, error) {
	if ab.detached {
		return nil, errors.NewCapacityError(0, 0, "buffer is detached")
	}
	from, to := clampRange(int64(len(ab.data)), start, end)
	data := make([]byte, to-from)
	copy(data, ab.data[from:to])
	return &ArrayBufferObject{data: data, capacity: bufferCapacity{initialLength: uint64(len(data))}}, nil
}

// SharedArrayBufferObject represents a shared binary data buffer. It cannot
// be detached; a growable one only ever grows. Growth may race with other
// goroutines holding the buffer, so it is serialized by mu.
type SharedArrayBufferObject struct {
	mu       sync.Mutex
	data     []byte
	capacity bufferCapacity
}

// NewSharedArrayBuffer allocates a zeroed shared buffer; validation is the
// same as NewArrayBuffer.
func (r *Realm) NewSharedArrayBuffer(length uint64, opts *BufferOptions) (*SharedArrayBufferObject, error) {
	c, err := r.checkCapacity(length, opts)
	if err != nil {
		r.rejectBuffer("SharedArrayBuffer", err)
		return nil, err
	}
	sab := &SharedArrayBufferObject{data: make([]byte, length), capacity: c}
	r.acceptBuffer("SharedArrayBuffer", length)
	return sab, nil
}

// NewSharedArrayBufferFromValues is the constructor entry point taking
// script values: new SharedArrayBuffer(length, options).
func (r *Realm) NewSharedArrayBufferFromValues(length, options Value) (*SharedArrayBufferObject, error) {
	n, opts, err := bufferArgs(length, options)
	if err != nil {
		r.rejectBuffer("SharedArrayBuffer", err)
		return nil, err
	}
	return r.NewSharedArrayBuffer(n, opts)
}

// IsDetached always returns false for SharedArrayBuffer (cannot be detached)
func (sab *SharedArrayBufferObject) IsDetached() bool { return false }

// GetData returns the underlying byte slice
func (sab *SharedArrayBufferObject) GetData() []byte {
	sab.mu.Lock()
	defer sab.mu.Unlock()
	return sab.data
}

// ByteLength returns the length in bytes
func (sab *SharedArrayBufferObject) ByteLength() uint64 {
	sab.mu.Lock()
	defer sab.mu.Unlock()
	return uint64(len(sab.data))
}

// MaxByteLength returns the ceiling of a growable buffer, or the byte length
// of a fixed one.
func (sab *SharedArrayBufferObject) MaxByteLength() uint64 {
	if sab.capacity.growable {
		return sab.capacity.maxByteLength
	}
	return sab.ByteLength()
}

// Growable reports whether the buffer was created with maxByteLength.
func (sab *SharedArrayBufferObject) Growable() bool { return sab.capacity.growable }

// Grow extends the buffer to n bytes. Shrinking is a RangeError; exceeding
// maxByteLength, or growing a fixed buffer, is a CapacityError.
func (sab *SharedArrayBufferObject) Grow(n uint64) error {
	sab.mu.Lock()
	defer sab.mu.Unlock()
	if !sab.capacity.growable {
		return errors.NewCapacityError(n, uint64(len(sab.data)), "buffer is not growable")
	}
	if n > sab.capacity.maxByteLength {
		return errors.NewCapacityError(n, sab.capacity.maxByteLength, "new length exceeds maxByteLength")
	}
	if n < uint64(len(sab.data)) {
		return errors.NewRangeError(n, uint64(len(sab.data)), "shared buffer cannot shrink")
	}
	sab.data = resizeBytes(sab.data, int(n))
	return nil
}

// Slice copies bytes [start, end) into a new fixed-length shared buffer.
func (sab *SharedArrayBufferObject) Slice(start, end int64) *SharedArrayBufferObject {
	sab.mu.Lock()
	defer sab.mu.Unlock()
	from, to := clampRange(int64(len(sab.data)), start, end)
	data := make([]byte, to-from)
	copy(data, sab.data[from:to])
	return &SharedArrayBufferObject{data: data, capacity: bufferCapacity{initialLength: uint64(len(data))}}
}

func bufferArgs(length, options Value) (uint64, *BufferOptions, error) {
	n, err := ToIndex(length)
	if err != nil {
		return 0, nil, err
	}
	opts, err := BufferOptionsFromValue(options)
	if err != nil {
		return 0, nil, err
	}
	return n, opts, nil
}

func (r *Realm) acceptBuffer(kind string, length uint64) {
	r.stats.BuffersAllocated++
	r.observer.OnBufferAllocated(kind, length)
	r.logger.Debug("buffer allocated", "kind", kind, "bytes", length)
}

func (r *Realm) rejectBuffer(kind string, err error) {
	r.stats.BuffersRejected++
	r.observer.OnBufferRejected(kind, err)
	r.logger.Debug("buffer rejected", "kind", kind, "err", err)
}

// resizeBytes returns data resized to n bytes with any new bytes zeroed.
func resizeBytes(data []byte, n int) []byte {
	old := len(data)
	if n <= old {
		return data[:n]
	}
	if n <= cap(data) {
		data = data[:n]
		clear(data[old:])
		return data
	}
	grown := make([]byte, n)
	copy(grown, data)
	return grown
}

func clampRange(length, start, end int64) (int64, int64) {
	clamp := func(x int64) int64 {
		if x < 0 {
			x += length
		}
		if x < 0 {
			return 0
		}
		if x > length {
			return length
		}
		return x
	}
	from, to := clamp(start), clamp(end)
	if from > to {
		from = to
	}
	return from, to
}
