package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
work_items:
  - id: T1
    title: "Launch billing service"
    subtasks:
      - title: "Provision database"
remote:
  - id: legacy-1
    number: OPS-1
    title: "Old billing epic"
    status: in_progress
faults:
  rate_limit_creates: 1
  drop_creates: [2, 3]
recovery:
  max_passes: 1
  index_wait: 5s
steps:
  - reconcile: T1
    expect:
      ok: true
  - sync_status:
      item: T1.1
      status: done
assertions:
  - type: trace_contains
    action: create
    args:
      title: "Provision database"
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	require.Len(t, scenario.WorkItems, 1)
	assert.Equal(t, "Provision database", scenario.WorkItems[0].Subtasks[0].Title)
	require.Len(t, scenario.Remote, 1)
	assert.Equal(t, "OPS-1", scenario.Remote[0].Number)
	assert.Equal(t, []int{2, 3}, scenario.Faults.DropCreates)
	assert.Equal(t, 1, *scenario.Recovery.MaxPasses)
	assert.Equal(t, 5*time.Second, scenario.Recovery.IndexWait)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, StepReconcile, scenario.Steps[0].Action())
	assert.True(t, *scenario.Steps[0].Expect.OK)
	assert.Equal(t, StepSyncStatus, scenario.Steps[1].Action())
	assert.Equal(t, "done", string(scenario.Steps[1].SyncStatus.Status))
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown field",
			content: "name: x\ndescription: d\nwork_item: []\n",
			want:    "failed to parse YAML",
		},
		{
			name:    "missing name",
			content: "description: d\nwork_items: [{id: T1, title: a}]\nsteps: [{reconcile: T1}]\nassertions: [{type: writes}]\n",
			want:    "name is required",
		},
		{
			name:    "missing description",
			content: "name: x\nwork_items: [{id: T1, title: a}]\nsteps: [{reconcile: T1}]\nassertions: [{type: writes}]\n",
			want:    "description is required",
		},
		{
			name:    "no work items",
			content: "name: x\ndescription: d\nsteps: [{reconcile: T1}]\nassertions: [{type: writes}]\n",
			want:    "work_items",
		},
		{
			name:    "no steps",
			content: "name: x\ndescription: d\nwork_items: [{id: T1, title: a}]\nassertions: [{type: writes}]\n",
			want:    "steps list is required",
		},
		{
			name:    "no assertions",
			content: "name: x\ndescription: d\nwork_items: [{id: T1, title: a}]\nsteps: [{reconcile: T1}]\n",
			want:    "assertions list is required",
		},
		{
			name:    "empty step",
			content: "name: x\ndescription: d\nwork_items: [{id: T1, title: a}]\nsteps: [{expect: {ok: true}}]\nassertions: [{type: writes}]\n",
			want:    "steps[0]: an action is required",
		},
		{
			name:    "two actions in one step",
			content: "name: x\ndescription: d\nwork_items: [{id: T1, title: a}]\nsteps: [{reconcile: T1, validate: T1}]\nassertions: [{type: writes}]\n",
			want:    "exactly one action allowed",
		},
		{
			name:    "bad status",
			content: "name: x\ndescription: d\nwork_items: [{id: T1, title: a}]\nsteps: [{sync_status: {item: T1, status: finished}}]\nassertions: [{type: writes}]\n",
			want:    `invalid status "finished"`,
		},
		{
			name:    "bad seed status",
			content: "name: x\ndescription: d\nwork_items: [{id: T1, title: a}]\nremote: [{title: a, status: todo}]\nsteps: [{reconcile: T1}]\nassertions: [{type: writes}]\n",
			want:    "remote[0]: invalid status",
		},
		{
			name:    "unknown assertion",
			content: "name: x\ndescription: d\nwork_items: [{id: T1, title: a}]\nsteps: [{reconcile: T1}]\nassertions: [{type: trace_length}]\n",
			want:    `unknown assertion type "trace_length"`,
		},
		{
			name:    "final_state without item",
			content: "name: x\ndescription: d\nwork_items: [{id: T1, title: a}]\nsteps: [{reconcile: T1}]\nassertions: [{type: final_state, expect: {linked: true}}]\n",
			want:    "item is required for final_state",
		},
		{
			name:    "duplicate_event without resolution",
			content: "name: x\ndescription: d\nwork_items: [{id: T1, title: a}]\nsteps: [{reconcile: T1}]\nassertions: [{type: duplicate_event, item: T1}]\n",
			want:    "item and resolution are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	files, err := FindScenarioFiles("testdata", "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		_, err := LoadScenario(f)
		assert.NoError(t, err, f)
	}
}
