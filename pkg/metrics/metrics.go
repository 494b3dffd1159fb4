// Package metrics exports storage-kind transitions and buffer allocations as
// Prometheus collectors.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nooga/arrayify/pkg/errors"
	"github.com/nooga/arrayify/pkg/vm"
)

const namespace = "arrayify"

// Recorder implements vm.Observer. One Recorder may be shared by many realms
// running on different goroutines.
type Recorder struct {
	// transitions counts completed kind transitions.
	// Labels: from, to (StorageKind names)
	transitions *prometheus.CounterVec

	// slotsCopied counts populated slots moved between stores.
	slotsCopied prometheus.Counter

	// allocations counts successfully created buffers.
	// Labels: kind (ArrayBuffer, SharedArrayBuffer)
	allocations *prometheus.CounterVec

	// bufferBytes is the distribution of initial byte lengths.
	bufferBytes prometheus.Histogram

	// rejections counts refused creation requests.
	// Labels: kind, reason (range, capacity, interceptor, other)
	rejections *prometheus.CounterVec
}

var _ vm.Observer = (*Recorder)(nil)

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Storage-kind transitions by source and target kind",
		}, []string{"from", "to"}),
		slotsCopied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_copied_total",
			Help:      "Populated element slots copied during transitions",
		}),
		allocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_allocations_total",
			Help:      "Buffers created",
		}, []string{"kind"}),
		bufferBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "buffer_bytes",
			Help:      "Initial byte length of created buffers",
			Buckets:   prometheus.ExponentialBuckets(1, 16, 8),
		}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_rejections_total",
			Help:      "Buffer creation requests refused before allocation",
		}, []string{"kind", "reason"}),
	}
}

func (r *Recorder) OnTransition(from, to vm.StorageKind, copied int) {
	r.transitions.WithLabelValues(from.String(), to.String()).Inc()
	r.slotsCopied.Add(float64(copied))
}

func (r *Recorder) OnBufferAllocated(kind string, byteLength uint64) {
	r.allocations.WithLabelValues(kind).Inc()
	r.bufferBytes.Observe(float64(byteLength))
}

func (r *Recorder) OnBufferRejected(kind string, err error) {
	reason := strings.ToLower(errors.KindOf(err))
	if reason == "" {
		reason = "other"
	}
	r.rejections.WithLabelValues(kind, reason).Inc()
}
