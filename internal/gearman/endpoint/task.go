package endpoint

import "weak"

// Task is the external collaborator contract (§6.5). A Task is
// produced by the higher-level client façade, submitted once, and
// notified exactly once of its terminal outcome (Complete, Fail, or
// — rarely — left to a server that never replies at all, which the
// endpoint cannot detect on its own per §9's open questions).
//
// Implementations are expected to use pointer receivers: AddTask
// below takes the pointee type as its own type parameter specifically
// so it can hold a weak.Pointer to the task, per the source's
// weaken()'d need_handle entries (§9 "Weak references to tasks").
type Task interface {
	// SubmitPacketBytes returns the verbatim submit_job* packet bytes
	// to write to the wire; the endpoint never interprets them.
	SubmitPacketBytes() []byte
	Complete(payload []byte)
	Fail()
	Status(num, den int)
	Exception(payload []byte)
}

// TaskPtr constrains a generic pointer-to-U parameter to also
// implement Task, letting AddTask accept any *U satisfying the
// contract while still being able to construct a weak.Pointer[U].
type TaskPtr[U any] interface {
	*U
	Task
}

// weakTask type-erases a weak.Pointer[U] behind a Task-shaped
// accessor, so the endpoint's need_handle FIFO can hold entries for
// whatever concrete task types its callers use without becoming
// generic itself.
type weakTask struct {
	strengthen func() Task
}

func newWeakTask[U any, PU TaskPtr[U]](task PU) weakTask {
	wp := weak.Make((*U)(task))
	return weakTask{
		strengthen: func() Task {
			p := wp.Value()
			if p == nil {
				return nil
			}
			return PU(p)
		},
	}
}

// Get returns the live task, or nil if its referent has been
// reclaimed (invariant 4).
func (w weakTask) Get() Task {
	if w.strengthen == nil {
		return nil
	}
	return w.strengthen()
}
