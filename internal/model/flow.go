package model

// NodeType is the closed set of step types a flow graph may contain
type NodeType string

const (
	NodeStart       NodeType = "start"
	NodeMessage     NodeType = "message"
	NodeQuestion    NodeType = "question"
	NodeMenu        NodeType = "menu"
	NodeConditional NodeType = "conditional"
	NodeWebhook     NodeType = "webhook"
	NodeTag         NodeType = "tag"
	NodeAttendant   NodeType = "attendant"
	NodeAssistant   NodeType = "openai"
	NodeSwitchFlow  NodeType = "switchFlow"
	NodeInactivity  NodeType = "inactivity"
	NodeEnd         NodeType = "end"
)

// Node is one typed step of a flow graph. Data holds the type-specific
// configuration payload as authored by the flow builder.
type Node struct {
	ID   string         `json:"id"`
	Type NodeType       `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Edge connects two nodes. SourceHandle distinguishes branches of
// conditional and menu nodes.
type Edge struct {
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
}

// FlowDefinition is an immutable directed graph of typed nodes authored
// externally. The engine only reads it; loops through menu/conditional
// nodes are valid.
type FlowDefinition struct {
	ID        string `json:"id"`
	CompanyID int64  `json:"companyId"`
	Name      string `json:"name"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
}

// Node returns the node with the given id, or nil
func (f *FlowDefinition) Node(id string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// StartNode returns the flow's single start node, or nil
func (f *FlowDefinition) StartNode() *Node {
	for i := range f.Nodes {
		if f.Nodes[i].Type == NodeStart {
			return &f.Nodes[i]
		}
	}
	return nil
}

// InactivityNode returns the flow's inactivity configuration node, or nil
func (f *FlowDefinition) InactivityNode() *Node {
	for i := range f.Nodes {
		if f.Nodes[i].Type == NodeInactivity {
			return &f.Nodes[i]
		}
	}
	return nil
}

// NextNode returns the target of the first unhandled outgoing edge of
// source; edges without a handle win over handled ones.
func (f *FlowDefinition) NextNode(source string) string {
	fallback := ""
	for _, e := range f.Edges {
		if e.Source != source {
			continue
		}
		if e.SourceHandle == "" {
			return e.Target
		}
		if fallback == "" {
			fallback = e.Target
		}
	}
	return fallback
}

// NextFromHandle returns the target of the outgoing edge of source with
// the given handle, or "" when no such edge exists.
func (f *FlowDefinition) NextFromHandle(source, handle string) string {
	for _, e := range f.Edges {
		if e.Source == source && e.SourceHandle == handle {
			return e.Target
		}
	}
	return ""
}

// String reads a string entry from the node's data payload
func (n *Node) String(key string) string {
	if n == nil || n.Data == nil {
		return ""
	}
	s, _ := n.Data[key].(string)
	return s
}

// Int reads a numeric entry from the node's data payload. JSON decoding
// yields float64, so both shapes are accepted.
func (n *Node) Int(key string) int64 {
	if n == nil || n.Data == nil {
		return 0
	}
	switch v := n.Data[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

// Bool reads a boolean entry from the node's data payload
func (n *Node) Bool(key string) bool {
	if n == nil || n.Data == nil {
		return false
	}
	b, _ := n.Data[key].(bool)
	return b
}

// Strings reads a string-list entry from the node's data payload
func (n *Node) Strings(key string) []string {
	if n == nil || n.Data == nil {
		return nil
	}
	raw, _ := n.Data[key].([]any)
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Maps reads a list of object entries from the node's data payload
func (n *Node) Maps(key string) []map[string]any {
	if n == nil || n.Data == nil {
		return nil
	}
	raw, _ := n.Data[key].([]any)
	var out []map[string]any
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Map reads an object entry from the node's data payload
func (n *Node) Map(key string) map[string]any {
	if n == nil || n.Data == nil {
		return nil
	}
	m, _ := n.Data[key].(map[string]any)
	return m
}
