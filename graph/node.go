package graph

// Node names a step of the execution graph.
type Node string

const (
	NodeStart        Node = "__start__"
	NodeCheck        Node = "check"
	NodeAgent        Node = "agent"
	NodeConfirmTools Node = "confirm_tools"
	NodeTools        Node = "tools"
	NodeSummarize    Node = "summarize"
	NodeEnd          Node = "__end__"
)

// edges lists the permitted successors of each node.
var edges = map[Node][]Node{
	NodeStart:        {NodeCheck},
	NodeCheck:        {NodeSummarize, NodeAgent},
	NodeAgent:        {NodeTools, NodeConfirmTools, NodeEnd},
	NodeConfirmTools: {NodeTools, NodeAgent},
	NodeTools:        {NodeCheck},
	NodeSummarize:    {NodeAgent},
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to Node) bool {
	for _, n := range edges[from] {
		if n == to {
			return true
		}
	}
	return false
}

// ParseNode returns the node named s, or false.
func ParseNode(s string) (Node, bool) {
	switch n := Node(s); n {
	case NodeCheck, NodeAgent, NodeConfirmTools, NodeTools, NodeSummarize:
		return n, true
	}
	return "", false
}
