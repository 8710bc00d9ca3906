// Package endpoint implements the asynchronous connection endpoint:
// one TCP link to one Gearman-style job server, multiplexing client
// task submissions and worker job assignments over it. See
// SPEC_FULL.md for the full component breakdown (C1-C9, D1-D11).
package endpoint

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gearman-go/gasync/internal/gearman/protocol"
	"github.com/gearman-go/gasync/internal/gearman/timing"
)

// WorkerFunc handles one assigned job (§4.4).
type WorkerFunc func(job *Job)

// Job is the value handed to a worker function on job_assign.
type Job struct {
	Function string
	Payload  []byte
	Handle   string
	Endpoint *Endpoint
}

// Endpoint owns one TCP connection to one job server and everything
// needed to multiplex client and worker traffic over it (§3).
type Endpoint struct {
	mu sync.Mutex

	hostSpec HostSpec
	observer Observer

	state      State
	deadUntil  time.Time
	generation uint64 // bumped on every Connect/failure to void stale async results

	scheduler *timing.Scheduler

	conn   net.Conn
	framer *protocol.Framer

	onReady []func()
	onError []func()

	options     map[string]bool
	optionOrder []string // insertion order, for deterministic resubmission
	requests    []string // FIFO of option names awaiting ack

	needHandle  []weakTask
	waiting     map[string][]Task
	task2handle map[Task]string

	workerFuncs map[string]WorkerFunc
	funcOrder   []string // insertion order, for deterministic re-registration
	isWorker    bool

	offline bool  // test-only: t_set_offline
	lastErr error // most recent connect/read failure, for diagnostics
}

// New creates a Disconnected endpoint for hostSpec. observer may be
// nil, in which case a NopObserver is used.
func New(hostSpec HostSpec, observer Observer) *Endpoint {
	if observer == nil {
		observer = NopObserver{}
	}
	e := &Endpoint{
		hostSpec:    hostSpec,
		observer:    observer,
		state:       Disconnected,
		scheduler:   timing.NewScheduler(),
		options:     make(map[string]bool),
		waiting:     make(map[string][]Task),
		task2handle: make(map[Task]string),
		workerFuncs: make(map[string]WorkerFunc),
	}
	go e.scheduler.Run()
	return e
}

// HostSpec returns the job server this endpoint connects to.
func (e *Endpoint) HostSpec() HostSpec {
	return e.hostSpec
}

// Alive reports whether the endpoint is not within its dead interval
// (now >= dead_until), whatever its current state.
func (e *Endpoint) Alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !time.Now().Before(e.deadUntil)
}

// DeadUntil returns the time before which Alive reports false, or the
// zero Time if the endpoint was never marked dead. An elapsed mark is
// returned as is, so the result may lie in the past. Exposed so a collaborator
// like healthcache can mirror the same deadline externally with a
// matching TTL (§4.12).
func (e *Endpoint) DeadUntil() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deadUntil
}

// IsWorker reports whether RegisterFunction has ever been called.
func (e *Endpoint) IsWorker() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isWorker
}

// StuffOutstanding reports whether any task is currently in flight
// (submitted but not yet terminated) — used by the connection state
// machine to decide whether a mid-session failure needs to mark the
// endpoint dead (§4.1 "if any work was in flight").
func (e *Endpoint) StuffOutstanding() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stuffOutstandingLocked()
}

func (e *Endpoint) stuffOutstandingLocked() bool {
	if len(e.needHandle) > 0 {
		return true
	}
	for _, tasks := range e.waiting {
		if len(tasks) > 0 {
			return true
		}
	}
	return false
}

// State returns the current connection state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// String renders "host:port(Nwaiting, Mneed_handle, Krequests)"
// (§6.4 as_string).
func (e *Endpoint) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	nWaiting := 0
	for _, tasks := range e.waiting {
		nWaiting += len(tasks)
	}
	return fmt.Sprintf("%s(%dwaiting, %dneed_handle, %drequests)",
		e.hostSpec.String(), nWaiting, len(e.needHandle), len(e.requests))
}

// TSetOffline is a test hook (§3 t_offline): when true, Connect arms
// the connect-deadline timer and the readiness-gate bookkeeping but
// never actually dials, guaranteeing the 250ms timeout path fires.
func (e *Endpoint) TSetOffline(offline bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offline = offline
}

// SetOption enables or disables a named server option (§3 options).
// Persists across reconnects; takes effect on the next transition to
// Ready (§4.3).
func (e *Endpoint) SetOption(name string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enabled {
		listed := false
		for _, n := range e.optionOrder {
			if n == name {
				listed = true
				break
			}
		}
		if !listed {
			e.optionOrder = append(e.optionOrder, name)
		}
		e.options[name] = true
	} else {
		delete(e.options, name)
	}
}

// LastError returns the most recent connect or read failure, or nil.
// Diagnostic only; never required to interpret the observer hooks.
func (e *Endpoint) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Shutdown permanently stops the endpoint's internal scheduler. Not
// part of the source's interface (which never tears down a process),
// but necessary in a long-running Go program that creates and
// discards many endpoints.
func (e *Endpoint) Shutdown() {
	e.scheduler.Stop()
}
