// Package harness replays YAML scenarios against a fresh realm and checks
// per-step expectations.
//
// A scenario is a flat list of steps acting on named objects and buffers.
// Each step produces one trace event; the trace is deterministic and is
// compared against golden files in tests.
package harness

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/sync/errgroup"

	"github.com/nooga/arrayify/pkg/config"
	"github.com/nooga/arrayify/pkg/errors"
	"github.com/nooga/arrayify/pkg/vm"
)

// Options configures scenario execution.
type Options struct {
	// LoopCount is the repetition count of repeat_loop steps when the
	// scenario does not set its own.
	LoopCount int
	Limits    config.Limits
	Logger    *slog.Logger
	// Observer, if set, receives the realm's events (e.g. a metrics
	// recorder shared by parallel runs).
	Observer vm.Observer
}

// DefaultOptions derives Options from a configuration.
func DefaultOptions(cfg *config.Config) Options {
	return Options{
		LoopCount: cfg.Harness.LoopCount,
		Limits:    cfg.Limits,
	}
}

// TraceEvent records the outcome of one step (of its last repetition when
// repeated).
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Op      string `json:"op"`
	Target  string `json:"target"`
	Args    string `json:"args,omitempty"`
	Repeat  int    `json:"repeat,omitempty"`
	Outcome string `json:"outcome"`
	// Kind is the target's storage kind after the step; empty for buffers.
	Kind string `json:"kind,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	Name string `json:"name"`
	// Pass is true when every expectation held.
	Pass   bool         `json:"pass"`
	Errors []string     `json:"errors,omitempty"`
	Trace  []TraceEvent `json:"trace"`
	// Stats is the realm's transition counters at the end of the run.
	Stats vm.TransitionStats `json:"-"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{Name: name, Pass: true, Errors: []string{}, Trace: []TraceEvent{}}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Harness holds the state of one scenario run.
type Harness struct {
	realm     *vm.Realm
	objects   map[string]*vm.Object
	buffers   map[string]buffer
	loopCount int
	logger    *slog.Logger
}

// buffer is the part of ArrayBufferObject and SharedArrayBufferObject the
// harness drives.
type buffer interface {
	ByteLength() uint64
	MaxByteLength() uint64
}

// Run executes a scenario in a fresh realm. Expectation failures are
// reported in the Result; the error return is for scenarios that cannot be
// executed (references to unknown targets, cancellation).
func Run(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limits := opts.Limits
	if limits == (config.Limits{}) {
		limits = config.Default().Limits
	}
	loopCount := opts.LoopCount
	if scenario.LoopCount > 0 {
		loopCount = scenario.LoopCount
	}

	h := &Harness{
		realm:     vm.NewRealm(vm.WithLimits(limits), vm.WithLogger(logger), vm.WithObserver(opts.Observer)),
		objects:   make(map[string]*vm.Object),
		buffers:   make(map[string]buffer),
		loopCount: loopCount,
		logger:    logger.With("scenario", scenario.Name),
	}

	result := NewResult(scenario.Name)
	for i, step := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		event, err := h.runStep(i, step, result)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		result.Trace = append(result.Trace, event)
	}
	result.Stats = h.realm.TransitionStats()

	h.logger.Debug("scenario finished", "pass", result.Pass, "steps", len(scenario.Steps), "transitions", result.Stats.Transitions())
	return result, nil
}

// RunAll executes scenarios concurrently, at most parallel at a time. Each
// scenario gets its own realm. Results are returned in input order.
func RunAll(ctx context.Context, scenarios []*Scenario, opts Options, parallel int) ([]*Result, error) {
	results := make([]*Result, len(scenarios))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, s := range scenarios {
		i, s := i, s
		g.Go(func() error {
			res, err := Run(ctx, s, opts)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", s.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (h *Harness) repetitions(st Step) int {
	switch {
	case st.RepeatLoop:
		return max(h.loopCount, 1)
	case st.Repeat > 0:
		return st.Repeat
	default:
		return 1
	}
}

// runStep executes st the requested number of times, checking expectations
// on every repetition. The first failing repetition ends the step.
func (h *Harness) runStep(i int, st Step, result *Result) (TraceEvent, error) {
	event := TraceEvent{Seq: i + 1, Op: st.Op, Target: st.Target}
	n := h.repetitions(st)
	if n > 1 {
		event.Repeat = n
	}

	for rep := 0; rep < n; rep++ {
		args, value, opErr, err := h.apply(st)
		if err != nil {
			return event, err
		}
		event.Args = args
		event.Outcome = outcome(value, opErr)
		if o := h.objects[st.Target]; o != nil {
			event.Kind = o.Kind().String()
		}

		if msg := h.check(st, value, opErr); msg != "" {
			if n > 1 {
				result.AddError("step %d (%s %s) iteration %d: %s", i+1, st.Op, st.Target, rep, msg)
			} else {
				result.AddError("step %d (%s %s): %s", i+1, st.Op, st.Target, msg)
			}
			break
		}
	}
	return event, nil
}

func outcome(value *vm.Value, err error) string {
	switch {
	case err != nil:
		if kind := errors.KindOf(err); kind != "" {
			return kind + "Error"
		}
		return "Error"
	case value != nil:
		return value.Inspect()
	default:
		return "ok"
	}
}

// check compares the outcome of one repetition with the step's expectations
// and returns a failure message, or "" when everything held.
func (h *Harness) check(st Step, value *vm.Value, opErr error) string {
	if opErr != nil {
		if st.ExpectError == "" && st.ExpectErrorMatches == "" {
			return fmt.Sprintf("unexpected error: %v", opErr)
		}
		if st.ExpectError != "" && strings.ToLower(errors.KindOf(opErr)) != st.ExpectError {
			return fmt.Sprintf("expected %s error, got %v", st.ExpectError, opErr)
		}
		if st.ExpectErrorMatches != "" {
			re := regexp2.MustCompile(st.ExpectErrorMatches, regexp2.ECMAScript)
			ok, err := re.MatchString(opErr.Error())
			if err != nil {
				return fmt.Sprintf("expect_error_matches: %v", err)
			}
			if !ok {
				return fmt.Sprintf("error %q does not match /%s/", opErr.Error(), st.ExpectErrorMatches)
			}
		}
		return h.checkKind(st)
	}
	if st.ExpectError != "" || st.ExpectErrorMatches != "" {
		return "expected an error, got none"
	}

	if st.ExpectUndefined || st.Expect != nil {
		if value == nil {
			return fmt.Sprintf("%s produces no value to compare", st.Op)
		}
		want := vm.Undefined
		if !st.ExpectUndefined {
			var err error
			if want, err = toValue(st.Expect); err != nil {
				return fmt.Sprintf("expect: %v", err)
			}
		}
		if !want.StrictlyEquals(*value) {
			return fmt.Sprintf("bad value: expected %s, got %s", want.Inspect(), value.Inspect())
		}
	}
	return h.checkKind(st)
}

func (h *Harness) checkKind(st Step) string {
	if st.ExpectKind == "" {
		return ""
	}
	o := h.objects[st.Target]
	if o == nil {
		return fmt.Sprintf("expect_kind on %q, which is not an object", st.Target)
	}
	if got := o.Kind().String(); got != st.ExpectKind {
		return fmt.Sprintf("expected kind %s, got %s", st.ExpectKind, got)
	}
	return ""
}

// apply performs one repetition of st. It returns a rendering of the step's
// arguments for the trace, the produced value (nil for steps without one),
// the error raised by the engine, and a non-nil err for unrunnable steps.
func (h *Harness) apply(st Step) (args string, value *vm.Value, opErr, err error) {
	r := h.realm
	switch st.Op {
	case OpNewArray:
		values := make([]vm.Value, len(st.Values))
		for i, raw := range st.Values {
			if values[i], err = toValue(raw); err != nil {
				return "", nil, nil, err
			}
		}
		for _, i := range st.Holes {
			if i < 0 || i >= len(values) {
				return "", nil, nil, fmt.Errorf("hole %d outside the literal", i)
			}
			values[i] = vm.Hole
		}
		h.objects[st.Target] = r.NewArray(values...)
		return inspectAll(values), nil, nil, nil

	case OpNewObject:
		o := r.NewObject()
		h.objects[st.Target] = o
		if st.Proto != "" {
			proto, err := h.delegate(st.Proto)
			if err != nil {
				return "", nil, nil, err
			}
			return "proto=" + st.Proto, nil, o.SetPrototype(proto), nil
		}
		return "", nil, nil, nil
	}

	if st.Op == OpNewBuffer {
		return h.newBuffer(st)
	}
	if st.Op == OpGrow {
		return h.grow(st)
	}

	o, ok := h.objects[st.Target]
	if !ok {
		return "", nil, nil, fmt.Errorf("unknown object %q", st.Target)
	}
	switch st.Op {
	case OpSetNamed:
		v, err := toValue(st.Value)
		if err != nil {
			return "", nil, nil, err
		}
		o.SetNamed(st.Name, v)
		return st.Name + "=" + v.Inspect(), nil, nil, nil

	case OpDefineAccessor:
		return fmt.Sprintf("[%d] %s", *st.Index, accessorArgs(st)), nil, o.DefineAccessor(*st.Index, h.accessor(st)), nil

	case OpSetPrototype:
		proto, err := h.delegate(st.Proto)
		if err != nil {
			return "", nil, nil, err
		}
		return "proto=" + st.Proto, nil, o.SetPrototype(proto), nil

	case OpEnsureKind:
		kind, err := vm.ParseStorageKind(st.Kind)
		if err != nil {
			return "", nil, nil, err
		}
		o.EnsureKind(kind)
		return kind.String(), nil, nil, nil

	case OpWrite:
		v, err := toValue(st.Value)
		if err != nil {
			return "", nil, nil, err
		}
		return fmt.Sprintf("[%d]=%s", *st.Index, v.Inspect()), nil, o.Set(*st.Index, v), nil

	case OpRead:
		v, opErr := o.Get(*st.Index)
		if opErr != nil {
			return fmt.Sprintf("[%d]", *st.Index), nil, opErr, nil
		}
		return fmt.Sprintf("[%d]", *st.Index), &v, nil, nil

	case OpDelete:
		return fmt.Sprintf("[%d]", *st.Index), nil, o.Delete(*st.Index), nil

	case OpLength:
		v := o.Length()
		return "", &v, nil, nil

	case OpSetLength:
		return fmt.Sprint(*st.Length), nil, o.SetLength(*st.Length), nil

	case OpKind:
		v := vm.NewString(o.Kind().String())
		return "", &v, nil, nil
	}
	return "", nil, nil, fmt.Errorf("unknown op %q", st.Op)
}

func (h *Harness) newBuffer(st Step) (args string, value *vm.Value, opErr, err error) {
	var opts *vm.BufferOptions
	args = fmt.Sprintf("length=%d", *st.Length)
	if st.MaxByteLength != nil {
		opts = vm.WithMaxByteLength(*st.MaxByteLength)
		args += fmt.Sprintf(" max=%d", *st.MaxByteLength)
	}
	if st.Shared {
		args += " shared"
		sab, err := h.realm.NewSharedArrayBuffer(*st.Length, opts)
		if err != nil {
			return args, nil, err, nil
		}
		h.buffers[st.Target] = sab
		return args, byteLength(sab), nil, nil
	}
	ab, err := h.realm.NewArrayBuffer(*st.Length, opts)
	if err != nil {
		return args, nil, err, nil
	}
	h.buffers[st.Target] = ab
	return args, byteLength(ab), nil, nil
}

func (h *Harness) grow(st Step) (args string, value *vm.Value, opErr, err error) {
	args = fmt.Sprintf("length=%d", *st.Length)
	switch b := h.buffers[st.Target].(type) {
	case *vm.SharedArrayBufferObject:
		opErr = b.Grow(*st.Length)
	case *vm.ArrayBufferObject:
		opErr = b.Resize(*st.Length)
	default:
		return "", nil, nil, fmt.Errorf("unknown buffer %q", st.Target)
	}
	if opErr != nil {
		return args, nil, opErr, nil
	}
	return args, byteLength(h.buffers[st.Target]), nil, nil
}

func byteLength(b buffer) *vm.Value {
	v := vm.NumberValue(float64(b.ByteLength()))
	return &v
}

// delegate resolves a proto reference: an object name, "null", or one of the
// realm intrinsics.
func (h *Harness) delegate(name string) (vm.Delegate, error) {
	switch name {
	case "null":
		return nil, nil
	case "Object.prototype":
		return h.realm.ObjectPrototype, nil
	case "Array.prototype":
		return h.realm.ArrayPrototype, nil
	}
	o, ok := h.objects[name]
	if !ok {
		return nil, fmt.Errorf("unknown object %q", name)
	}
	return o, nil
}

// accessor builds a slot whose getter reads and whose setter writes a named
// property of the receiver, so writes through the accessor are observable.
func (h *Harness) accessor(st Step) *vm.AccessorSlot {
	slot := &vm.AccessorSlot{}
	if st.Fail != "" {
		failure := stderrors.New(st.Fail)
		slot.Get = func(*vm.Object) (vm.Value, error) { return vm.Undefined, failure }
		slot.Set = func(*vm.Object, vm.Value) error { return failure }
		return slot
	}
	if name := st.Getter; name != "" {
		slot.Get = func(receiver *vm.Object) (vm.Value, error) {
			return receiver.GetNamed(name), nil
		}
	}
	if name := st.Setter; name != "" {
		slot.Set = func(receiver *vm.Object, v vm.Value) error {
			receiver.SetNamed(name, v)
			return nil
		}
	}
	return slot
}

func accessorArgs(st Step) string {
	if st.Fail != "" {
		return "fail=" + st.Fail
	}
	var parts []string
	if st.Getter != "" {
		parts = append(parts, "get="+st.Getter)
	}
	if st.Setter != "" {
		parts = append(parts, "set="+st.Setter)
	}
	return strings.Join(parts, " ")
}

func inspectAll(values []vm.Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v.IsHole() {
			parts[i] = ""
			continue
		}
		parts[i] = v.Inspect()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// toValue converts a decoded YAML scalar to a Value. A null (or absent)
// scalar is undefined.
func toValue(raw any) (vm.Value, error) {
	switch x := raw.(type) {
	case nil:
		return vm.Undefined, nil
	case bool:
		return vm.BooleanValue(x), nil
	case string:
		return vm.NewString(x), nil
	case int:
		return intValue(int64(x)), nil
	case int64:
		return intValue(x), nil
	case uint64:
		return vm.NumberValue(float64(x)), nil
	case float64:
		return vm.NumberValue(x), nil
	}
	return vm.Undefined, fmt.Errorf("unsupported value %v (%T)", raw, raw)
}

func intValue(n int64) vm.Value {
	if n >= -1<<31 && n < 1<<31 {
		return vm.IntegerValue(int32(n))
	}
	return vm.NumberValue(float64(n))
}
