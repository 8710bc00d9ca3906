// Package protocol implements the Gearman wire framing: the packet
// header layout, the verb catalog, and the incremental reader/encoder
// pair used by the endpoint core.
package protocol

import "fmt"

// Verb identifies a Gearman packet type. The numeric values match the
// reference protocol so a gasync endpoint interoperates with a real
// Gearman job server.
type Verb uint32

const (
	VerbCanDo          Verb = 1
	VerbCantDo         Verb = 2
	VerbResetAbilities Verb = 3
	VerbPreSleep       Verb = 4
	VerbNoop           Verb = 6
	VerbSubmitJob      Verb = 7
	VerbJobCreated     Verb = 8
	VerbGrabJob        Verb = 9
	VerbNoJob          Verb = 10
	VerbJobAssign      Verb = 11
	VerbWorkStatus     Verb = 12
	VerbWorkComplete   Verb = 13
	VerbWorkFail       Verb = 14
	VerbEchoReq        Verb = 16
	VerbEchoRes        Verb = 17
	VerbSubmitJobBg    Verb = 18
	VerbError          Verb = 19
	VerbSubmitJobHigh  Verb = 21
	VerbWorkException  Verb = 25
	VerbOptionReq      Verb = 26
	VerbOptionRes      Verb = 27
	VerbSubmitJobLow   Verb = 33
)

var verbNames = map[Verb]string{
	VerbCanDo:          "can_do",
	VerbCantDo:         "cant_do",
	VerbResetAbilities: "reset_abilities",
	VerbPreSleep:       "pre_sleep",
	VerbNoop:           "noop",
	VerbSubmitJob:      "submit_job",
	VerbJobCreated:     "job_created",
	VerbGrabJob:        "grab_job",
	VerbNoJob:          "no_job",
	VerbJobAssign:      "job_assign",
	VerbWorkStatus:     "work_status",
	VerbWorkComplete:   "work_complete",
	VerbWorkFail:       "work_fail",
	VerbEchoReq:        "echo_req",
	VerbEchoRes:        "echo_res",
	VerbSubmitJobBg:    "submit_job_bg",
	VerbError:          "error",
	VerbSubmitJobHigh:  "submit_job_high",
	VerbWorkException:  "work_exception",
	VerbOptionReq:      "option_req",
	VerbOptionRes:      "option_res",
	VerbSubmitJobLow:   "submit_job_low",
}

// Name returns the lower_snake verb name used in error messages and
// event payloads. Unknown verbs render as "verb(<n>)".
func (v Verb) Name() string {
	if name, ok := verbNames[v]; ok {
		return name
	}
	return fmt.Sprintf("verb(%d)", uint32(v))
}

// IsSubmit reports whether v is one of the submit_job* priority
// variants a Task may use to enqueue work (§6.2 "task-supplied").
func (v Verb) IsSubmit() bool {
	switch v {
	case VerbSubmitJob, VerbSubmitJobBg, VerbSubmitJobHigh, VerbSubmitJobLow:
		return true
	default:
		return false
	}
}
