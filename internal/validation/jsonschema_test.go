package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validGraphDoc = `{
	"id": "wf-1",
	"name": "Linear",
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "planner", "type": "agent", "config": {"agent_id": "agent-planner"}},
		{"id": "end", "type": "end"}
	],
	"edges": [
		{"id": "e1", "source": "start", "target": "planner"},
		{"id": "e2", "source": "planner", "target": "end"}
	]
}`

func TestGraphValidator_ValidDocument(t *testing.T) {
	v, err := NewGraphValidator()
	require.NoError(t, err)

	result, err := v.ValidateDocument([]byte(validGraphDoc))
	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
}

func TestGraphValidator_MissingNodes(t *testing.T) {
	v, err := NewGraphValidator()
	require.NoError(t, err)

	result, err := v.ValidateDocument([]byte(`{"id": "wf-1", "edges": []}`))
	require.NoError(t, err)
	assert.False(t, result.Valid())
}

func TestGraphValidator_UnknownNodeType(t *testing.T) {
	v, err := NewGraphValidator()
	require.NoError(t, err)

	doc := `{
		"id": "wf-1",
		"nodes": [{"id": "n1", "type": "teleport"}],
		"edges": []
	}`
	result, err := v.ValidateDocument([]byte(doc))
	require.NoError(t, err)
	assert.False(t, result.Valid())
}

func TestGraphValidator_AgentRequiresAgentID(t *testing.T) {
	v, err := NewGraphValidator()
	require.NoError(t, err)

	doc := `{
		"id": "wf-1",
		"nodes": [
			{"id": "start", "type": "start"},
			{"id": "worker", "type": "agent", "config": {}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "worker"}]
	}`
	result, err := v.ValidateDocument([]byte(doc))
	require.NoError(t, err)
	assert.False(t, result.Valid())
}

func TestGraphValidator_DuplicateNodeIDs(t *testing.T) {
	v, err := NewGraphValidator()
	require.NoError(t, err)

	doc := `{
		"id": "wf-1",
		"nodes": [
			{"id": "start", "type": "start"},
			{"id": "start", "type": "end"}
		],
		"edges": []
	}`
	result, err := v.ValidateDocument([]byte(doc))
	require.NoError(t, err)
	assert.False(t, result.Valid())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "duplicate node id")
}

func TestGraphValidator_DanglingEdgeIsWarning(t *testing.T) {
	v, err := NewGraphValidator()
	require.NoError(t, err)

	doc := `{
		"id": "wf-1",
		"nodes": [{"id": "start", "type": "start"}],
		"edges": [{"id": "e1", "source": "start", "target": "ghost"}]
	}`
	result, err := v.ValidateDocument([]byte(doc))
	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.NotEmpty(t, result.Warnings)
}

func TestGraphValidator_MalformedJSON(t *testing.T) {
	v, err := NewGraphValidator()
	require.NoError(t, err)

	_, err = v.ValidateDocument([]byte(`{not json`))
	require.Error(t, err)
}
