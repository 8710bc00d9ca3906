package endpoint

import (
	"fmt"
	"strconv"

	"github.com/gearman-go/gasync/internal/gearman/protocol"
)

// dispatch classifies one inbound packet and routes it to C5/C6/C7,
// in the order specified by §4.5. An unclassified packet is fatal
// (§7); the returned error is what readLoop treats as a protocol
// violation.
func (e *Endpoint) dispatch(gen uint64, pkt protocol.Packet) error {
	switch pkt.Verb {
	case protocol.VerbJobCreated:
		handle := string(pkt.Payload)
		e.mu.Lock()
		err := e.handleJobCreated(handle)
		e.mu.Unlock()
		return err

	case protocol.VerbWorkFail:
		e.handleWorkFail(string(pkt.Payload))
		return nil

	case protocol.VerbWorkComplete:
		fields := pkt.Fields(2)
		if len(fields) != 2 {
			return fmt.Errorf("endpoint: malformed work_complete payload %q", pkt.Payload)
		}
		e.handleWorkComplete(string(fields[0]), fields[1])
		return nil

	case protocol.VerbWorkStatus:
		fields := pkt.Fields(3)
		if len(fields) != 3 {
			return fmt.Errorf("endpoint: malformed work_status payload %q", pkt.Payload)
		}
		num, errNum := strconv.Atoi(string(fields[1]))
		den, errDen := strconv.Atoi(string(fields[2]))
		if errNum != nil || errDen != nil {
			return fmt.Errorf("endpoint: malformed work_status numbers %q", pkt.Payload)
		}
		e.handleWorkStatus(string(fields[0]), num, den)
		return nil

	case protocol.VerbWorkException:
		fields := pkt.Fields(2)
		if len(fields) != 2 {
			return fmt.Errorf("endpoint: malformed work_exception payload %q", pkt.Payload)
		}
		e.handleWorkException(string(fields[0]), fields[1])
		return nil

	case protocol.VerbError:
		e.mu.Lock()
		consumed := e.handleOptionError()
		e.mu.Unlock()
		if consumed {
			return nil
		}
		// §9 open question: an error packet is taken as an option
		// refusal whenever an option ack is pending. With none pending
		// it cannot be attributed to anything, so it is fatal here.
		return fmt.Errorf("endpoint: unattributed error packet %q", pkt.Payload)

	case protocol.VerbOptionRes:
		e.mu.Lock()
		e.handleOptionRes()
		e.mu.Unlock()
		return nil
	}

	e.mu.Lock()
	isWorker := e.isWorker
	e.mu.Unlock()

	if isWorker {
		switch pkt.Verb {
		case protocol.VerbNoJob:
			e.handleNoJob()
			return nil

		case protocol.VerbJobAssign:
			fields := pkt.Fields(3)
			if len(fields) != 3 {
				return fmt.Errorf("endpoint: malformed job_assign payload %q", pkt.Payload)
			}
			e.handleJobAssign(string(fields[0]), string(fields[1]), fields[2])
			return nil

		case protocol.VerbNoop:
			e.handleNoop()
			return nil
		}
	}

	return fmt.Errorf("endpoint: unclassified packet %s", pkt.Verb.Name())
}
