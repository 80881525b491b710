package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowDefinitionLookups(t *testing.T) {
	flow := &FlowDefinition{
		ID: "f1",
		Nodes: []Node{
			{ID: "s1", Type: NodeStart},
			{ID: "c1", Type: NodeConditional},
			{ID: "a", Type: NodeEnd},
			{ID: "b", Type: NodeEnd},
			{ID: "idle", Type: NodeInactivity},
		},
		Edges: []Edge{
			{Source: "s1", Target: "c1"},
			{Source: "c1", SourceHandle: "yes", Target: "a"},
			{Source: "c1", SourceHandle: "no", Target: "b"},
		},
	}

	require.NotNil(t, flow.StartNode())
	assert.Equal(t, "s1", flow.StartNode().ID)
	require.NotNil(t, flow.InactivityNode())
	assert.Equal(t, "idle", flow.InactivityNode().ID)
	assert.Nil(t, flow.Node("ghost"))

	assert.Equal(t, "c1", flow.NextNode("s1"))
	// no unhandled edge: the first handled edge is the fallback
	assert.Equal(t, "a", flow.NextNode("c1"))
	assert.Equal(t, "b", flow.NextFromHandle("c1", "no"))
	assert.Equal(t, "", flow.NextFromHandle("c1", "maybe"))
	assert.Equal(t, "", flow.NextNode("a"))
}

func TestNodeDataAccessors(t *testing.T) {
	raw := `{
		"id": "n1",
		"type": "menu",
		"data": {
			"text": "pick one",
			"queueId": 4,
			"enabled": true,
			"mediaTypes": ["image", "video"],
			"options": [{"value": "1", "label": "Sales"}],
			"rule": {"kind": "number"}
		}
	}`
	var node Node
	require.NoError(t, json.Unmarshal([]byte(raw), &node))

	assert.Equal(t, "pick one", node.String("text"))
	assert.Equal(t, int64(4), node.Int("queueId"))
	assert.True(t, node.Bool("enabled"))
	assert.Equal(t, []string{"image", "video"}, node.Strings("mediaTypes"))

	opts := node.Maps("options")
	require.Len(t, opts, 1)
	assert.Equal(t, "Sales", opts[0]["label"])

	rule := node.Map("rule")
	require.NotNil(t, rule)
	assert.Equal(t, "number", rule["kind"])

	// missing keys and nil receivers are safe
	assert.Equal(t, "", node.String("missing"))
	assert.Equal(t, int64(0), node.Int("missing"))
	var nilNode *Node
	assert.Equal(t, "", nilNode.String("text"))
}
