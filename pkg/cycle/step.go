package cycle

// Step is a phase of a request cycle. Steps run in increasing order except
// for the two rewinds described on Cycle.
type Step int

const (
	NotStarted Step = iota
	Prepare
	DecodeParameters
	ResolveTarget
	CheckAccess
	ProcessEvents
	Respond
	HandleException
	Cleanup
	Done
)

var stepNames = [...]string{
	NotStarted:       "not_started",
	Prepare:          "prepare",
	DecodeParameters: "decode_parameters",
	ResolveTarget:    "resolve_target",
	CheckAccess:      "check_access",
	ProcessEvents:    "process_events",
	Respond:          "respond",
	HandleException:  "handle_exception",
	Cleanup:          "cleanup",
	Done:             "done",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return "unknown"
	}
	return stepNames[s]
}
