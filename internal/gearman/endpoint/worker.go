package endpoint

import (
	"strconv"

	"github.com/gearman-go/gasync/internal/gearman/protocol"
)

// RegisterFunction enables worker mode (§4.4): stores the handler,
// sends can_do(name), and — on the very first registration — flips
// is_worker and issues grab_job. Registrations are re-sent on every
// reconnect (resubmitWorkerLocked) since worker_funcs/is_worker
// survive across the socket but the server does not remember them.
func (e *Endpoint) RegisterFunction(name string, handler WorkerFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	first := !e.isWorker
	if _, existed := e.workerFuncs[name]; !existed {
		e.funcOrder = append(e.funcOrder, name)
	}
	e.workerFuncs[name] = handler
	e.isWorker = true

	if e.state != Ready {
		return nil
	}
	if err := e.writeLocked(protocol.Encode(protocol.VerbCanDo, []byte(name))); err != nil {
		return err
	}
	if first {
		return e.writeLocked(protocol.Encode(protocol.VerbGrabJob))
	}
	return nil
}

// resubmitWorkerLocked re-announces every registered function and
// resumes polling on transition to Ready. Must be called with mu
// held and conn already set.
func (e *Endpoint) resubmitWorkerLocked() {
	for _, name := range e.funcOrder {
		e.writeLocked(protocol.Encode(protocol.VerbCanDo, []byte(name)))
	}
	if e.isWorker {
		e.writeLocked(protocol.Encode(protocol.VerbGrabJob))
	}
}

// handleNoJob responds to no_job by announcing the worker is going to
// sleep (§4.4); the server wakes it with noop.
func (e *Endpoint) handleNoJob() {
	e.mu.Lock()
	e.writeLocked(protocol.Encode(protocol.VerbPreSleep))
	e.mu.Unlock()
}

// handleNoop resumes polling (§4.4).
func (e *Endpoint) handleNoop() {
	e.mu.Lock()
	e.writeLocked(protocol.Encode(protocol.VerbGrabJob))
	e.mu.Unlock()
}

// handleJobAssign dispatches to the registered handler, or replies
// work_fail if none is registered, then immediately polls for the
// next job (§4.4). The handler runs on its own goroutine so that
// grab_job goes out without waiting for it — "concurrent execution
// across jobs is expected".
func (e *Endpoint) handleJobAssign(handle, function string, payload []byte) {
	e.mu.Lock()
	handler, ok := e.workerFuncs[function]
	e.mu.Unlock()

	if ok {
		job := &Job{Function: function, Payload: payload, Handle: handle, Endpoint: e}
		go handler(job)
	} else {
		e.mu.Lock()
		e.writeLocked(protocol.Encode(protocol.VerbWorkFail, []byte(handle)))
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.writeLocked(protocol.Encode(protocol.VerbGrabJob))
	e.mu.Unlock()
}

// Complete reports successful completion of job to the server (§6.2
// work_complete).
func (j *Job) Complete(payload []byte) error {
	return j.Endpoint.sendWork(protocol.VerbWorkComplete, j.Handle, payload)
}

// Fail reports that job could not be completed (§6.2 work_fail).
func (j *Job) Fail() error {
	return j.Endpoint.sendWork(protocol.VerbWorkFail, j.Handle)
}

// Status reports partial progress (§6.2 work_status).
func (j *Job) Status(num, den int) error {
	return j.Endpoint.sendWork(protocol.VerbWorkStatus, j.Handle,
		[]byte(strconv.Itoa(num)), []byte(strconv.Itoa(den)))
}

func (e *Endpoint) sendWork(verb protocol.Verb, handle string, extra ...[]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return ErrNotReady
	}
	fields := append([][]byte{[]byte(handle)}, extra...)
	return e.writeLocked(protocol.Encode(verb, fields...))
}
