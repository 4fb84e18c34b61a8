package ninjago

// CommandCollector collects the transitive set of edges that lead to
// a set of targets, in order (an edge is always after the edges
// producing its inputs).  Used by the commands and compdb tools.
type CommandCollector struct {
	visitedNodes map[*Node]bool
	visitedEdges map[*Edge]bool

	// InEdges are the edges that lead to the collected targets, in an
	// order that satisfies dependencies.
	InEdges []*Edge
}

func NewCommandCollector() *CommandCollector {
	return &CommandCollector{
		visitedNodes: make(map[*Node]bool),
		visitedEdges: make(map[*Edge]bool),
	}
}

func (c *CommandCollector) CollectFrom(node *Node) {
	if c.visitedNodes[node] {
		return
	}
	c.visitedNodes[node] = true

	edge := node.InEdge()
	if edge == nil || c.visitedEdges[edge] {
		return
	}
	c.visitedEdges[edge] = true

	for _, in := range edge.Inputs() {
		c.CollectFrom(in)
	}

	if !edge.IsPhony() {
		c.InEdges = append(c.InEdges, edge)
	}
}
