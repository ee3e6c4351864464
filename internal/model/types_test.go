package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubtaskID_RoundTrip(t *testing.T) {
	id := SubtaskID("3", 2)
	assert.Equal(t, "3.2", id)

	parent, idx, ok := SplitSubtaskID(id)
	require.True(t, ok)
	assert.Equal(t, "3", parent)
	assert.Equal(t, 2, idx)
}

func TestSplitSubtaskID_Invalid(t *testing.T) {
	for _, id := range []string{"3", ".2", "3.", "3.x", "3.0", ""} {
		_, _, ok := SplitSubtaskID(id)
		assert.False(t, ok, "id %q", id)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" In-Review ")
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, s)

	_, err = ParseStatus("finished")
	assert.Error(t, err)
}

func TestValidateHierarchy(t *testing.T) {
	valid := []WorkItem{
		{ID: "1", Title: "Parent"},
		{ID: "1.1", Title: "Child", ParentID: "1"},
		{ID: "1.2", Title: "Child 2", ParentID: "1"},
	}
	require.NoError(t, ValidateHierarchy(valid))

	tests := []struct {
		name  string
		items []WorkItem
	}{
		{"missing parent", []WorkItem{{ID: "2.1", ParentID: "2"}}},
		{"nested subtask", []WorkItem{
			{ID: "1"},
			{ID: "1.1", ParentID: "1"},
			{ID: "1.1.1", ParentID: "1.1"},
		}},
		{"id not composed from parent", []WorkItem{
			{ID: "1"},
			{ID: "7", ParentID: "1"},
		}},
		{"duplicate id", []WorkItem{{ID: "1"}, {ID: "1"}}},
		{"empty id", []WorkItem{{Title: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateHierarchy(tt.items))
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, s.Valid())
	}
	for _, s := range RemoteStatuses {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("todo").Valid())
	assert.False(t, RemoteStatus("open").Valid())
}
