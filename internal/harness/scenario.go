package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/workitems"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// RunID is the fixed run ID used for every engine run.
	// Defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Container is the tracker container ID (default "C1").
	Container string `yaml:"container,omitempty"`

	// WorkItems is the initial task file content.
	WorkItems []workitems.Task `yaml:"work_items"`

	// Remote lists objects that exist in the tracker before the first step.
	Remote []RemoteSeed `yaml:"remote,omitempty"`

	// Faults are injected into the tracker before the first step.
	Faults *Faults `yaml:"faults,omitempty"`

	// Recovery overrides the engine's recovery budget.
	Recovery *RecoveryOverride `yaml:"recovery,omitempty"`

	// Steps run in order. Each step carries exactly one action.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// RemoteSeed is a tracker object present before the scenario starts.
// Parent is the remote ID of another seed.
type RemoteSeed struct {
	ID        string             `yaml:"id,omitempty"`
	Number    string             `yaml:"number,omitempty"`
	Title     string             `yaml:"title"`
	Status    model.RemoteStatus `yaml:"status,omitempty"`
	Parent    string             `yaml:"parent,omitempty"`
	Container string             `yaml:"container,omitempty"`
}

// Faults configures tracker fault injection.
// DropCreates counts every CreateObject call, 1-based.
type Faults struct {
	RateLimitCreates int      `yaml:"rate_limit_creates,omitempty"`
	DropCreates      []int    `yaml:"drop_creates,omitempty"`
	FailTitles       []string `yaml:"fail_titles,omitempty"`
}

// RecoveryOverride replaces fields of the default recovery config.
type RecoveryOverride struct {
	MaxPasses *int          `yaml:"max_passes,omitempty"`
	IndexWait time.Duration `yaml:"index_wait,omitempty"`
}

// ItemStatus names a work item and a local status.
type ItemStatus struct {
	Item   string       `yaml:"item"`
	Status model.Status `yaml:"status"`
}

// Renumber moves a linked item's remote object to a new display number.
type Renumber struct {
	Item   string `yaml:"item"`
	Number string `yaml:"number"`
}

// Step is one scenario action plus its optional expectation.
type Step struct {
	Reconcile      string      `yaml:"reconcile,omitempty"`
	SyncStatus     *ItemStatus `yaml:"sync_status,omitempty"`
	Validate       string      `yaml:"validate,omitempty"`
	SetStatus      *ItemStatus `yaml:"set_status,omitempty"`
	DeleteRemote   string      `yaml:"delete_remote,omitempty"`
	RenumberRemote *Renumber   `yaml:"renumber_remote,omitempty"`
	ClearFaults    bool        `yaml:"clear_faults,omitempty"`

	Expect *StepExpect `yaml:"expect,omitempty"`
}

// Step action names, as recorded in the trace.
const (
	StepReconcile      = "reconcile"
	StepSyncStatus     = "sync_status"
	StepValidate       = "validate"
	StepSetStatus      = "set_status"
	StepDeleteRemote   = "delete_remote"
	StepRenumberRemote = "renumber_remote"
	StepClearFaults    = "clear_faults"
)

// Action returns the name of the step's action, or "" when the step
// carries none.
func (s Step) Action() string {
	names := s.actions()
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

func (s Step) actions() []string {
	var names []string
	if s.Reconcile != "" {
		names = append(names, StepReconcile)
	}
	if s.SyncStatus != nil {
		names = append(names, StepSyncStatus)
	}
	if s.Validate != "" {
		names = append(names, StepValidate)
	}
	if s.SetStatus != nil {
		names = append(names, StepSetStatus)
	}
	if s.DeleteRemote != "" {
		names = append(names, StepDeleteRemote)
	}
	if s.RenumberRemote != nil {
		names = append(names, StepRenumberRemote)
	}
	if s.ClearFaults {
		names = append(names, StepClearFaults)
	}
	return names
}

// StepExpect checks the result of one step. Unset fields are not checked.
//
// OK, RecoveryPasses, HardFailures and Failed apply to reconcile steps;
// Outcome to sync_status; InSync and OK to validate. Error is a substring
// the step's error must contain; without it any error fails the step.
type StepExpect struct {
	OK             *bool    `yaml:"ok,omitempty"`
	RecoveryPasses *int     `yaml:"recovery_passes,omitempty"`
	HardFailures   []string `yaml:"hard_failures,omitempty"`
	Failed         []string `yaml:"failed,omitempty"`
	Outcome        string   `yaml:"outcome,omitempty"`
	InSync         *bool    `yaml:"in_sync,omitempty"`
	Error          string   `yaml:"error,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is the recorded action (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args is a subset the matching event's args must contain (trace_contains).
	Args map[string]string `yaml:"args,omitempty"`

	// Actions lists event labels that must appear in order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of matches (trace_count, remote_objects,
	// writes).
	Count int `yaml:"count,omitempty"`

	// Item is the work item the assertion is about (final_state,
	// duplicate_event, note_contains).
	Item string `yaml:"item,omitempty"`

	// Expect is the expected item state (final_state).
	Expect *StateExpect `yaml:"expect,omitempty"`

	// Resolution is the expected audit resolution (duplicate_event).
	Resolution model.Resolution `yaml:"resolution,omitempty"`

	// Text must be a substring of one of the item's notes (note_contains).
	Text string `yaml:"text,omitempty"`
}

// StateExpect is the expected end state of a work item. Unset fields are
// not checked.
type StateExpect struct {
	Linked                *bool  `yaml:"linked,omitempty"`
	RemoteID              string `yaml:"remote_id,omitempty"`
	RemoteNumber          string `yaml:"remote_number,omitempty"`
	RemoteParentID        string `yaml:"remote_parent_id,omitempty"`
	LastKnownRemoteStatus string `yaml:"last_known_remote_status,omitempty"`
	RemoteExists          *bool  `yaml:"remote_exists,omitempty"`
	RemoteStatus          string `yaml:"remote_status,omitempty"`
	LocalStatus           string `yaml:"local_status,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertFinalState     = "final_state"
	AssertRemoteObjects  = "remote_objects"
	AssertDuplicateEvent = "duplicate_event"
	AssertNoteContains   = "note_contains"
	AssertWrites         = "writes"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.WorkItems) == 0 {
		return fmt.Errorf("work_items list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, seed := range s.Remote {
		if seed.Title == "" {
			return fmt.Errorf("remote[%d]: title is required", i)
		}
		if seed.Status != "" && !seed.Status.Valid() {
			return fmt.Errorf("remote[%d]: invalid status %q", i, seed.Status)
		}
	}

	if s.Recovery != nil && s.Recovery.MaxPasses != nil && *s.Recovery.MaxPasses < 0 {
		return fmt.Errorf("recovery.max_passes must be non-negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	names := step.actions()
	switch len(names) {
	case 0:
		return fmt.Errorf("steps[%d]: an action is required", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: exactly one action allowed, got %v", index, names)
	}

	for _, is := range []*ItemStatus{step.SyncStatus, step.SetStatus} {
		if is == nil {
			continue
		}
		if is.Item == "" {
			return fmt.Errorf("steps[%d]: item is required", index)
		}
		if !is.Status.Valid() {
			return fmt.Errorf("steps[%d]: invalid status %q", index, is.Status)
		}
	}
	if r := step.RenumberRemote; r != nil && (r.Item == "" || r.Number == "") {
		return fmt.Errorf("steps[%d]: renumber_remote needs item and number", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Item == "" {
			return fmt.Errorf("assertions[%d]: item is required for final_state", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRemoteObjects, AssertWrites:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertDuplicateEvent:
		if a.Item == "" || a.Resolution == "" {
			return fmt.Errorf("assertions[%d]: item and resolution are required for duplicate_event", index)
		}
	case AssertNoteContains:
		if a.Item == "" || a.Text == "" {
			return fmt.Errorf("assertions[%d]: item and text are required for note_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
