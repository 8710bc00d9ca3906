package endpoint

import "github.com/gearman-go/gasync/internal/gearman/protocol"

// resubmitOptionsLocked issues option_req for every enabled option in
// insertion order on entry to Ready (§4.3). Must be called with mu
// held and conn already set.
func (e *Endpoint) resubmitOptionsLocked() {
	e.requests = e.requests[:0]
	for _, name := range e.optionOrder {
		if !e.options[name] {
			continue
		}
		e.writeLocked(protocol.Encode(protocol.VerbOptionReq, []byte(name)))
		e.requests = append(e.requests, name)
	}
}

// handleOptionRes pops the head of requests on a successful
// acknowledgment (§4.3).
func (e *Endpoint) handleOptionRes() {
	if len(e.requests) == 0 {
		return
	}
	e.requests = e.requests[1:]
}

// handleOptionError pops the head of requests and removes that option
// — the server refused it and §4.3 says not to retry. Returns false
// if requests was empty, meaning this "error" packet is not a
// refusal and falls through to the router's own handling (§4.5).
func (e *Endpoint) handleOptionError() bool {
	if len(e.requests) == 0 {
		return false
	}
	name := e.requests[0]
	e.requests = e.requests[1:]
	delete(e.options, name)
	return true
}
