package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_Testdata(t *testing.T) {
	for _, name := range []string{"basic_sync", "dropped_creation_recovered", "rate_limited_create"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestTraceSnapshot_MarshalCanonical(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "s",
		RunID:        "r",
		Trace: []TraceEvent{
			{Seq: 1, Type: EventStep, Action: "clear_faults", Outcome: "ok"},
			{Seq: 2, Type: EventCall, Action: "comment", Args: map[string]string{"text": "<b>&", "remote_id": "obj-1"}, Outcome: "ok"},
		},
	}

	data, err := snapshot.MarshalCanonical()
	require.NoError(t, err)

	want := `{"run_id":"r","scenario_name":"s","trace":[` +
		`{"action":"clear_faults","args":{},"outcome":"ok","seq":1,"type":"step"},` +
		`{"action":"comment","args":{"remote_id":"obj-1","text":"<b>&"},"outcome":"ok","seq":2,"type":"call"}]}`
	assert.Equal(t, want, string(data))
}

func TestNewTraceSnapshot_DefaultRunID(t *testing.T) {
	snapshot := NewTraceSnapshot(&Scenario{Name: "s"}, NewResult())
	assert.Equal(t, DefaultRunID, snapshot.RunID)
	assert.Empty(t, snapshot.Trace)
}
