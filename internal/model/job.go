package model

// JobState is the lifecycle state of a server-side job
type JobState int

const (
	JobStateUnknown JobState = iota
	JobStateQueued
	JobStateWaiting
	JobStateRunning
	JobStateError
	JobStateSuccess
)

func (s JobState) String() string {
	switch s {
	case JobStateQueued:
		return "QUEUED"
	case JobStateWaiting:
		return "WAITING"
	case JobStateRunning:
		return "RUNNING"
	case JobStateError:
		return "ERROR"
	case JobStateSuccess:
		return "SUCCESS"
	default:
		return "UNKNOWN"
	}
}

// JobStateEvent reports a job state transition
type JobStateEvent struct {
	Previous JobState `json:"previous"`
	Current  JobState `json:"current"`
}

// JobOpenEvent is sent once when the stream is attached to a job
type JobOpenEvent struct{}

// JobTerminalEvent carries job output lines
type JobTerminalEvent struct {
	Lines []string `json:"lines,omitempty"`
}

// JobCompleteEvent is sent when the job finished, successfully or not
type JobCompleteEvent struct {
	Error string `json:"error,omitempty"`
}

// JobErrorEvent reports a job failure
type JobErrorEvent struct {
	Message string `json:"message"`
}

// JobStreamEvent is one event pushed over a job stream. Exactly one of the
// pointer fields is set.
type JobStreamEvent struct {
	Open     *JobOpenEvent     `json:"open,omitempty"`
	State    *JobStateEvent    `json:"state,omitempty"`
	Terminal *JobTerminalEvent `json:"terminal,omitempty"`
	Complete *JobCompleteEvent `json:"complete,omitempty"`
	Error    *JobErrorEvent    `json:"error,omitempty"`
}

// EventCase names the populated case of the event
func (e JobStreamEvent) EventCase() string {
	switch {
	case e.Open != nil:
		return "open"
	case e.State != nil:
		return "state"
	case e.Terminal != nil:
		return "terminal"
	case e.Complete != nil:
		return "complete"
	case e.Error != nil:
		return "error"
	default:
		return "unknown"
	}
}

// IsDone reports whether the event is a state event for a successfully finished job
func (e JobStreamEvent) IsDone() bool {
	return e.State != nil && e.State.Current == JobStateSuccess
}
