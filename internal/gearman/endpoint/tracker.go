package endpoint

import "fmt"

// AddTask submits task for execution (§4.2). task is held only
// weakly in need_handle until the server assigns it a handle — if the
// caller drops every strong reference to task before job_created
// arrives, the assignment is silently dropped (invariant 4).
//
// AddTask is a free function rather than a method because Go methods
// cannot carry their own type parameters; U is the task's pointee
// type, inferred from the *U argument.
func AddTask[U any, PU TaskPtr[U]](e *Endpoint, task PU) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Ready {
		return ErrNotReady
	}
	if err := e.writeLocked(task.SubmitPacketBytes()); err != nil {
		return err
	}
	e.needHandle = append(e.needHandle, newWeakTask[U, PU](task))
	return nil
}

// GiveUpOn cancels task (§5 Cancellation): it is removed from
// waiting/task2handle best-effort and the server is never told. Any
// later reply for its handle is silently discarded (§4.2 tie-breaks).
// No effect if task was never handle-assigned (still in need_handle,
// or already terminated).
func (e *Endpoint) GiveUpOn(task Task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handle, ok := e.task2handle[task]
	if !ok {
		return
	}
	delete(e.task2handle, task)

	tasks := e.waiting[handle]
	for i, t := range tasks {
		if t == task {
			tasks = append(tasks[:i], tasks[i+1:]...)
			break
		}
	}
	if len(tasks) == 0 {
		delete(e.waiting, handle)
	} else {
		e.waiting[handle] = tasks
	}
}

// handleJobCreated pops the head of need_handle and records the
// handle assignment (§4.2). Called from dispatch with mu held; never
// invokes a task callback, so it needs no unlock/relock dance.
// Returns a fatal error if need_handle was empty (protocol violation
// per §4.2/§7).
func (e *Endpoint) handleJobCreated(handle string) error {
	if len(e.needHandle) == 0 {
		return fmt.Errorf("endpoint: job_created %q with empty need_handle", handle)
	}
	entry := e.needHandle[0]
	e.needHandle = e.needHandle[1:]

	task := entry.Get()
	if task == nil {
		// Reclaimed: the assignment is dropped, the handle leaks
		// server-side. Acceptable per §4.2.
		return nil
	}
	e.task2handle[task] = handle
	e.waiting[handle] = append(e.waiting[handle], task)
	return nil
}

// handleWorkComplete consumes the head task of handle and notifies
// completion (§4.2). Acquires mu itself — callers must not hold it,
// since Complete runs outside the lock so a reentrant AddTask from
// inside it cannot deadlock.
func (e *Endpoint) handleWorkComplete(handle string, payload []byte) {
	e.mu.Lock()
	task, ok := e.popHeadLocked(handle)
	e.mu.Unlock()
	if !ok {
		return // unknown handle: a race with GiveUpOn, silently ignored
	}
	task.Complete(payload)
	e.observer.OnTaskOutcome(e, handle, OutcomeComplete)
}

// handleWorkFail consumes the head task of handle and notifies
// failure (§4.2). Same unlocked-notify discipline as handleWorkComplete.
func (e *Endpoint) handleWorkFail(handle string) {
	e.mu.Lock()
	task, ok := e.popHeadLocked(handle)
	e.mu.Unlock()
	if !ok {
		return
	}
	task.Fail()
	e.observer.OnTaskOutcome(e, handle, OutcomeFail)
}

// handleWorkException notifies only the head task of handle, without
// removing it — a terminal work_complete/work_fail follows (§4.2).
func (e *Endpoint) handleWorkException(handle string, payload []byte) {
	e.mu.Lock()
	tasks, ok := e.waiting[handle]
	var head Task
	if ok && len(tasks) > 0 {
		head = tasks[0]
	} else {
		ok = false
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	head.Exception(payload)
	e.observer.OnTaskOutcome(e, handle, OutcomeException)
}

// handleWorkStatus broadcasts to every task under handle without
// consuming any of them (§4.2).
func (e *Endpoint) handleWorkStatus(handle string, num, den int) {
	e.mu.Lock()
	tasks := append([]Task(nil), e.waiting[handle]...)
	e.mu.Unlock()
	for _, task := range tasks {
		task.Status(num, den)
	}
}

// popHeadLocked removes and returns the head task of handle, cleaning
// up both maps if the sequence empties (invariant 3). Must be called
// with mu held.
func (e *Endpoint) popHeadLocked(handle string) (Task, bool) {
	tasks, ok := e.waiting[handle]
	if !ok || len(tasks) == 0 {
		return nil, false
	}
	head := tasks[0]
	tasks = tasks[1:]
	delete(e.task2handle, head)
	if len(tasks) == 0 {
		delete(e.waiting, handle)
	} else {
		e.waiting[handle] = tasks
	}
	return head, true
}
