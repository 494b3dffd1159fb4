package metrics

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooga/arrayify/pkg/vm"
)

func TestRecorderCountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	r := vm.NewRealm(vm.WithObserver(rec))

	a := r.NewArray(vm.IntegerValue(1), vm.IntegerValue(2))
	require.NoError(t, a.Set(0, vm.NewString("x")))
	a.EnsureKind(vm.SparseSlowPut)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.transitions.WithLabelValues("PackedNumeric", "PackedGeneric")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.transitions.WithLabelValues("PackedGeneric", "SparseSlowPut")))
	assert.Equal(t, 4.0, testutil.ToFloat64(rec.slotsCopied))
}

func TestRecorderCountsBuffers(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	r := vm.NewRealm(vm.WithObserver(rec))

	_, err := r.NewArrayBuffer(16, nil)
	require.NoError(t, err)
	_, err = r.NewSharedArrayBuffer(4, vm.WithMaxByteLength(1<<32+1))
	require.Error(t, err)
	_, err = r.NewSharedArrayBufferFromValues(vm.IntegerValue(-1), vm.Undefined)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.allocations.WithLabelValues("ArrayBuffer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.rejections.WithLabelValues("SharedArrayBuffer", "capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.rejections.WithLabelValues("SharedArrayBuffer", "range")))

	rec.OnBufferRejected("ArrayBuffer", fmt.Errorf("plain"))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.rejections.WithLabelValues("ArrayBuffer", "other")))

	expected := `
# HELP arrayify_buffer_allocations_total Buffers created
# TYPE arrayify_buffer_allocations_total counter
arrayify_buffer_allocations_total{kind="ArrayBuffer"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "arrayify_buffer_allocations_total"))
}

func TestRecordersAreIsolatedPerRegistry(t *testing.T) {
	first := NewRecorder(prometheus.NewRegistry())
	second := NewRecorder(prometheus.NewRegistry())
	first.OnTransition(vm.Undecided, vm.PackedNumeric, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(first.transitions.WithLabelValues("Undecided", "PackedNumeric")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.transitions.WithLabelValues("Undecided", "PackedNumeric")))
}
