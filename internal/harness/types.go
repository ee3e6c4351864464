package harness

import "fmt"

// Event types recorded in a trace.
const (
	EventStep = "step"
	EventCall = "call"
)

// TraceEvent is one entry of a scenario trace: either a scenario step or a
// remote write issued by the engine while executing it.
type TraceEvent struct {
	Seq     int               `json:"seq"`
	Type    string            `json:"type"`
	Action  string            `json:"action"`
	Args    map[string]string `json:"args"`
	Outcome string            `json:"outcome"`
}

// Label renders the event the way trace_order assertions name it:
// `create "Title"` for creations, `<action> <subject>` otherwise.
func (e TraceEvent) Label() string {
	switch {
	case e.Args["title"] != "":
		return fmt.Sprintf("%s %q", e.Action, e.Args["title"])
	case e.Args["remote_id"] != "":
		return e.Action + " " + e.Args["remote_id"]
	case e.Args["root"] != "":
		return e.Action + " " + e.Args["root"]
	case e.Args["item"] != "":
		return e.Action + " " + e.Args["item"]
	}
	return e.Action
}

// ItemState is the observed end state of one work item.
type ItemState struct {
	WorkItemID            string
	LocalStatus           string
	Notes                 []string
	Linked                bool
	RemoteID              string
	RemoteNumber          string
	RemoteParentID        string
	LastKnownRemoteStatus string
	RemoteExists          bool
	RemoteStatus          string
	Resolutions           []string
}

// Result is the outcome of running a scenario.
type Result struct {
	Pass          bool
	Trace         []TraceEvent
	Errors        []string
	Items         map[string]ItemState
	RemoteObjects int
	Writes        int
}

// NewResult creates a passing Result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []TraceEvent{},
		Items: make(map[string]ItemState),
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
