package endpoint

// GetInReadyState is the readiness-callback gate (§4.6): onReady fires
// synchronously if already Ready, otherwise both callbacks are queued
// and drained exactly once per connect attempt — onReady on a
// successful transition to Ready, onError on any failure out of
// Connecting. Either callback may be nil.
func (e *Endpoint) GetInReadyState(onReady, onError func()) {
	e.mu.Lock()
	if e.state == Ready {
		e.mu.Unlock()
		if onReady != nil {
			onReady()
		}
		return
	}

	needConnect := e.state == Disconnected
	if onReady != nil {
		e.onReady = append(e.onReady, onReady)
	}
	if onError != nil {
		e.onError = append(e.onError, onError)
	}
	e.mu.Unlock()

	if needConnect {
		e.Connect()
	}
}
