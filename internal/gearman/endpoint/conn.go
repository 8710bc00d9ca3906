package endpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/gearman-go/gasync/internal/gearman/protocol"
)

// ErrNotReady is returned by operations that require state==Ready
// (invariant 2).
var ErrNotReady = errors.New("endpoint: not ready")

// Connect drives Disconnected→Connecting (§4.1). A no-op if the
// endpoint is already Connecting or Ready. Asynchronous: success or
// failure is reported via the readiness gate's callbacks (§4.6), not
// a return value, per §7's propagation policy.
func (e *Endpoint) Connect() {
	e.mu.Lock()
	if e.state != Disconnected {
		e.mu.Unlock()
		return
	}
	prevState := e.state
	e.state = Connecting
	e.generation++
	gen := e.generation
	offline := e.offline
	hostSpec := e.hostSpec
	deadlineID := connectDeadlineID(gen)
	e.scheduler.Schedule(deadlineID, time.Now().Add(connectDeadline), func() {
		e.onConnectTimeout(gen)
	})
	e.mu.Unlock()

	e.observer.OnStateChange(e, prevState, Connecting)

	if offline {
		return
	}
	go e.dialAndTransition(gen, deadlineID, hostSpec)
}

func connectDeadlineID(gen uint64) string {
	return fmt.Sprintf("connect-deadline-%d", gen)
}

func (e *Endpoint) dialAndTransition(gen uint64, deadlineID string, hostSpec HostSpec) {
	conn, err := hostSpec.d.dial(connectDeadline)

	e.mu.Lock()
	if e.generation != gen {
		// A timeout or a racing Close already moved us on; discard.
		e.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		e.mu.Unlock()
		e.failConnect(gen, deadlineID, err)
		return
	}

	e.scheduler.Cancel(deadlineID)
	prevState := e.state
	e.state = Ready
	e.conn = conn
	e.framer = protocol.NewFramer(conn)
	readyCbs := e.onReady
	e.onReady = nil
	e.onError = nil
	e.resubmitOptionsLocked()
	e.resubmitWorkerLocked()
	readGen := e.generation
	e.mu.Unlock()

	go e.readLoop(readGen)
	e.observer.OnStateChange(e, prevState, Ready)
	for _, cb := range readyCbs {
		cb()
	}
}

func (e *Endpoint) onConnectTimeout(gen uint64) {
	e.mu.Lock()
	if e.generation != gen || e.state != Connecting {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.failConnect(gen, "", fmt.Errorf("endpoint: connect to %s timed out after %s", e.hostSpec, connectDeadline))
}

// failConnect handles every Connecting→Disconnected path in §4.1:
// immediate dial failure, nonzero SO_ERROR equivalent (dial error),
// and connect-deadline expiry.
func (e *Endpoint) failConnect(gen uint64, deadlineID string, cause error) {
	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	if deadlineID != "" {
		e.scheduler.Cancel(deadlineID)
	}
	prevState := e.state
	e.state = Disconnected
	e.deadUntil = time.Now().Add(deadInterval)
	e.generation++
	e.lastErr = cause
	errCbs := e.onError
	e.onReady = nil
	e.onError = nil
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.framer = nil
	e.mu.Unlock()

	e.observer.OnStateChange(e, prevState, Disconnected)
	for _, cb := range errCbs {
		cb()
	}
}

// readLoop is the read half of Ready: it owns the socket's read side
// until a read error, EOF, or protocol violation ends it. gen pins
// this goroutine to the connection generation it was started for, so
// a stale reader from a since-replaced connection can never mutate
// current state.
func (e *Endpoint) readLoop(gen uint64) {
	for {
		e.mu.Lock()
		framer := e.framer
		curGen := e.generation
		e.mu.Unlock()
		if framer == nil || curGen != gen {
			return
		}

		pkt, err := framer.Next()
		if err != nil {
			e.handleConnectionLoss(gen, err)
			return
		}

		if err := e.dispatch(gen, pkt); err != nil {
			e.handleProtocolViolation(gen, err)
			return
		}
	}
}

// handleConnectionLoss implements Ready→Disconnected on read EOF or
// socket error (§4.1): dead_until is only set when work was in
// flight, matching "if any work was in flight, mark dead".
func (e *Endpoint) handleConnectionLoss(gen uint64, cause error) {
	e.mu.Lock()
	if e.generation != gen || e.state != Ready {
		e.mu.Unlock()
		return
	}
	prevState := e.state
	outstanding := e.stuffOutstandingLocked()
	e.state = Disconnected
	if outstanding {
		e.deadUntil = time.Now().Add(deadInterval)
	}
	e.generation++
	e.lastErr = cause
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.framer = nil
	needSnap, waitSnap := e.snapshotAndClearInFlightLocked()
	e.mu.Unlock()

	e.observer.OnStateChange(e, prevState, Disconnected)
	e.notifyFailSnapshot(needSnap, waitSnap)
}

// handleProtocolViolation implements the fatal path of §7: an
// unclassified packet, a job_created with nothing in need_handle, or
// a malformed multi-field payload. Always marks the endpoint dead,
// unlike a clean EOF with nothing outstanding.
func (e *Endpoint) handleProtocolViolation(gen uint64, err error) {
	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	prevState := e.state
	e.state = Disconnected
	e.deadUntil = time.Now().Add(deadInterval)
	e.generation++
	e.lastErr = err
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.framer = nil
	needSnap, waitSnap := e.snapshotAndClearInFlightLocked()
	e.mu.Unlock()

	e.observer.OnProtocolViolation(e, err)
	e.observer.OnStateChange(e, prevState, Disconnected)
	e.notifyFailSnapshot(needSnap, waitSnap)
}

// Close tears down the connection (or pending connect attempt) from
// any non-Disconnected state and fails all in-flight work (§4.7).
// Unlike a transport failure, a caller-initiated Close does not mark
// the endpoint dead — the caller presumably knows why it closed.
// reason is recorded as LastError for diagnostics; it may be nil.
func (e *Endpoint) Close(reason error) {
	e.mu.Lock()
	prevState := e.state
	if prevState == Disconnected {
		e.mu.Unlock()
		return
	}
	e.state = Disconnected
	e.generation++
	if reason != nil {
		e.lastErr = reason
	}
	errCbs := e.onError
	e.onReady = nil
	e.onError = nil
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.framer = nil
	needSnap, waitSnap := e.snapshotAndClearInFlightLocked()
	e.mu.Unlock()

	e.observer.OnStateChange(e, prevState, Disconnected)
	if prevState == Connecting {
		for _, cb := range errCbs {
			cb()
		}
	}
	e.notifyFailSnapshot(needSnap, waitSnap)
}

// snapshotAndClearInFlightLocked implements the reentrancy-safe
// discipline of §4.7: reset before notify, so a task's fail handler
// resubmitting immediately never observes half-cleared state. Must be
// called with mu held.
func (e *Endpoint) snapshotAndClearInFlightLocked() ([]weakTask, map[string][]Task) {
	needSnap := e.needHandle
	e.needHandle = nil

	waitSnap := e.waiting
	e.waiting = make(map[string][]Task)
	e.task2handle = make(map[Task]string)

	return needSnap, waitSnap
}

func (e *Endpoint) notifyFailSnapshot(needSnap []weakTask, waitSnap map[string][]Task) {
	for _, wt := range needSnap {
		if t := wt.Get(); t != nil {
			t.Fail()
			e.observer.OnTaskOutcome(e, "", OutcomeFail)
		}
	}
	for handle, tasks := range waitSnap {
		for _, t := range tasks {
			t.Fail()
			e.observer.OnTaskOutcome(e, handle, OutcomeFail)
		}
	}
}

// writeLocked writes a fully-framed command to the socket. Must be
// called with mu held and state==Ready.
func (e *Endpoint) writeLocked(data []byte) error {
	if e.conn == nil {
		return ErrNotReady
	}
	_, err := e.conn.Write(data)
	return err
}
