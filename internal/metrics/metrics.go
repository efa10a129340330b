// Package metrics counts instantiations, invocations and traps in a prometheus namespace named "wazi".
package metrics

import (
	"errors"
	"time"

	gometrics "github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tetratelabs/wazi/internal/wasmruntime"
)

const (
	resultOK    = "ok"
	resultError = "error"
	resultTrap  = "trap"

	// trapKindHost is the kind of a failure that wasn't raised by the interpreter, such as a host function panic.
	trapKindHost = "host"
)

// Recorder records runtime events. A nil *Recorder is valid and records nothing.
type Recorder struct {
	ns             *gometrics.Namespace
	instantiations gometrics.LabeledCounter
	invocations    gometrics.LabeledCounter
	traps          gometrics.LabeledCounter
	durations      gometrics.LabeledTimer
}

// New creates the wazi metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	ns := gometrics.NewNamespace("wazi", "", nil)
	r := &Recorder{
		ns:             ns,
		instantiations: ns.NewLabeledCounter("instantiations", "The number of module instantiations by result", "result"),
		invocations:    ns.NewLabeledCounter("invocations", "The number of exported function calls by result", "function", "result"),
		traps:          ns.NewLabeledCounter("traps", "The number of calls that ended in a trap by kind", "kind"),
		durations:      ns.NewLabeledTimer("invocation_duration", "The number of seconds an exported function call takes", "function"),
	}
	if err := reg.Register(ns); err != nil {
		return nil, err
	}
	return r, nil
}

// Instantiated records the outcome of Store.Instantiate.
func (r *Recorder) Instantiated(err error) {
	if r == nil {
		return
	}
	result := resultOK
	if err != nil {
		result = resultError
	}
	r.instantiations.WithValues(result).Inc()
}

// Invoked records a call of the named function which began at start.
func (r *Recorder) Invoked(function string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.durations.WithValues(function).UpdateSince(start)

	result := resultOK
	if err != nil {
		result = resultTrap
		r.traps.WithValues(TrapKind(err)).Inc()
	}
	r.invocations.WithValues(function, result).Inc()
}

// TrapKind returns the message of the trap wrapped by err, ex. "integer divide by zero", or "host" if err wasn't
// raised by the interpreter.
func TrapKind(err error) string {
	var trap *wasmruntime.Error
	if errors.As(err, &trap) {
		return trap.Error()
	}
	return trapKindHost
}
