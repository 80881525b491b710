package flowreg

import (
	"testing"

	"botflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(nil, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestParseAcceptsWellFormedDefinition(t *testing.T) {
	r := testRegistry(t)

	flow, err := r.Parse([]byte(`{
		"nodes": [
			{"id": "s1", "type": "start"},
			{"id": "m1", "type": "message", "data": {"text": "hello"}},
			{"id": "e1", "type": "end"}
		],
		"edges": [
			{"source": "s1", "target": "m1"},
			{"source": "m1", "target": "e1"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, flow.Nodes, 3)
	assert.Equal(t, model.NodeMessage, flow.Nodes[1].Type)
	assert.Equal(t, "hello", flow.Nodes[1].String("text"))
}

func TestParseRejectsUnknownNodeType(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Parse([]byte(`{
		"nodes": [{"id": "x1", "type": "teleport"}],
		"edges": []
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected by schema")
}

func TestParseRejectsMissingFields(t *testing.T) {
	r := testRegistry(t)

	// node without a type
	_, err := r.Parse([]byte(`{"nodes": [{"id": "x1"}], "edges": []}`))
	assert.Error(t, err)

	// edge without a target
	_, err = r.Parse([]byte(`{"nodes": [], "edges": [{"source": "a"}]}`))
	assert.Error(t, err)

	// top level must carry nodes and edges
	_, err = r.Parse([]byte(`{"nodes": []}`))
	assert.Error(t, err)

	_, err = r.Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseRejectsMultipleStartNodes(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Parse([]byte(`{
		"nodes": [
			{"id": "s1", "type": "start"},
			{"id": "s2", "type": "start"}
		],
		"edges": []
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start nodes")
}
