package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	RunStarted Type = iota + 1
	RunInterrupted
	DirStarted
	DirCompleted
	DirSkipped
	DirFailed
	VerifyStarted
	VerifyOK
	VerifyFailed
	Discrepancy
	RetryStarted
	RetryCopied
	RetrySkipped
	RetryFailed
)

var typeNames = [...]string{
	RunStarted:     "RunStarted",
	RunInterrupted: "RunInterrupted",
	DirStarted:     "DirStarted",
	DirCompleted:   "DirCompleted",
	DirSkipped:     "DirSkipped",
	DirFailed:      "DirFailed",
	VerifyStarted:  "VerifyStarted",
	VerifyOK:       "VerifyOK",
	VerifyFailed:   "VerifyFailed",
	Discrepancy:    "Discrepancy",
	RetryStarted:   "RetryStarted",
	RetryCopied:    "RetryCopied",
	RetrySkipped:   "RetrySkipped",
	RetryFailed:    "RetryFailed",
}

func (t Type) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the orchestrator, the
// verifier or the retry copier.
type Event struct {
	Type       Type
	Timestamp  time.Time
	Name       string // mapping display name
	Path       string // source path, or a relative path for file-level events
	Detail     string // discrepancy line or skip reason
	Index      int    // 1-based position in the working set
	Total      int    // size of the working set
	Count      int64  // discrepancies, files copied
	ExitStatus int
	Duration   time.Duration
	Error      error
}

// Emit sends ev on ch, stamping it with the current time. A nil channel
// discards the event.
func Emit(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ch <- ev
}
