package output

// Event is a lifecycle record for NDJSON streaming output.
//
// In NDJSON mode, sinks emit one Event per line:
// - run.started
// - project.verdict
// - run.failed
// - run.finished
//
// JSON file output remains an aggregate of project.verdict events.
type Event struct {
	Type string `json:"type"`

	Project string `json:"project,omitempty"`
	Passed  *bool  `json:"passed,omitempty"`
	// Message is the human-readable line for a verdict or the error of a failed run.
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`

	Branch   string `json:"branch,omitempty"`
	Commit   string `json:"commit,omitempty"`
	Projects int    `json:"projects,omitempty"`

	// Aborted marks a run.finished that follows run.failed.
	Aborted  bool `json:"aborted,omitempty"`
	ExitCode int  `json:"exit_code,omitempty"`
}

const (
	EventRunStarted     = "run.started"
	EventProjectVerdict = "project.verdict"
	EventRunFailed      = "run.failed"
	EventRunFinished    = "run.finished"
)

// VerdictEvent builds a project.verdict event.
func VerdictEvent(project string, passed bool, message, reason string) Event {
	return Event{
		Type:    EventProjectVerdict,
		Project: project,
		Passed:  &passed,
		Message: message,
		Reason:  reason,
	}
}

func (e Event) passed() bool {
	return e.Passed != nil && *e.Passed
}
