package endpoint

// Outcome identifies how a handle's task terminated, for the
// OnTaskOutcome hook consumed by the audit/stats collaborators
// (SPEC_FULL §4.2, D5/D9).
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeFail
	OutcomeException
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeFail:
		return "fail"
	case OutcomeException:
		return "exception"
	default:
		return "unknown"
	}
}

// Observer is the narrow, synchronous hook surface an Endpoint calls
// from its own call path so that optional collaborators (the event
// bus, the audit sink, the health cache mirror, the stats roller, the
// alerting notifier — SPEC_FULL §4.9-§4.14) can watch it without the
// endpoint importing any of their transports. Every method must
// return promptly: it runs inline, under the same reentrancy
// discipline as a Task notification (§5).
type Observer interface {
	// OnStateChange fires on every state transition, including the
	// terminal ones caused by failure.
	OnStateChange(ep *Endpoint, from, to State)
	// OnProtocolViolation fires for a fatal protocol error (§7), after
	// the endpoint has closed the connection and before the matching
	// OnStateChange into Disconnected.
	OnProtocolViolation(ep *Endpoint, err error)
	// OnTaskOutcome fires once per task Complete, Fail or Exception
	// notification, after the task itself has been notified. An
	// Exception is not terminal; the task's Complete or Fail follows.
	OnTaskOutcome(ep *Endpoint, handle string, outcome Outcome)
}

// NopObserver implements Observer with no-ops, so an Endpoint created
// without one has nothing to nil-check.
type NopObserver struct{}

func (NopObserver) OnStateChange(*Endpoint, State, State)    {}
func (NopObserver) OnProtocolViolation(*Endpoint, error)     {}
func (NopObserver) OnTaskOutcome(*Endpoint, string, Outcome) {}

// MultiObserver fans one Endpoint's calls out to several collaborators
// in order, since New only ever takes a single Observer. A nil entry
// is skipped rather than panicking, so a caller can wire optional
// collaborators (e.g. an alerting Notifier only when SMTP is
// configured) without conditionally resizing the slice.
type MultiObserver []Observer

func (m MultiObserver) OnStateChange(ep *Endpoint, from, to State) {
	for _, o := range m {
		if o != nil {
			o.OnStateChange(ep, from, to)
		}
	}
}

func (m MultiObserver) OnProtocolViolation(ep *Endpoint, err error) {
	for _, o := range m {
		if o != nil {
			o.OnProtocolViolation(ep, err)
		}
	}
}

func (m MultiObserver) OnTaskOutcome(ep *Endpoint, handle string, outcome Outcome) {
	for _, o := range m {
		if o != nil {
			o.OnTaskOutcome(ep, handle, outcome)
		}
	}
}
