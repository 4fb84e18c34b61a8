package ninjago

import (
	"fmt"
	"strings"

	"github.com/segmentio/fasthash/fnv1a"
)

// GraphViz runs the process of generating a graphviz .dot file of the
// graph.
type GraphViz struct {
	dyndepLoader *DyndepLoader
	visitedNodes map[*Node]bool
	visitedEdges map[*Edge]bool
}

func NewGraphViz(state *State, di DiskInterface) *GraphViz {
	return &GraphViz{
		dyndepLoader: NewDyndepLoader(state, di),
		visitedNodes: make(map[*Node]bool),
		visitedEdges: make(map[*Edge]bool),
	}
}

// nodeID is a stable identifier for a node in the .dot output, so
// repeated runs over the same graph diff cleanly.
func nodeID(node *Node) string {
	return fmt.Sprintf("\"n%016x\"", fnv1a.HashString64(node.Path()))
}

func edgeID(edge *Edge) string {
	return fmt.Sprintf("\"e%d\"", edge.ID())
}

func (g *GraphViz) Start() {
	fmt.Printf("digraph ninja {\n")
	fmt.Printf("rankdir=\"LR\"\n")
	fmt.Printf("node [fontsize=10, shape=box, height=0.25]\n")
	fmt.Printf("edge [fontsize=10]\n")
}

func (g *GraphViz) AddTarget(node *Node) {
	if g.visitedNodes[node] {
		return
	}

	pathstr := strings.ReplaceAll(node.Path(), ":", " ")
	fmt.Printf("%s [label=\"%s\"]\n", nodeID(node), pathstr)
	g.visitedNodes[node] = true

	edge := node.InEdge()
	if edge == nil {
		// Leaf node.  Draw as a rect?
		return
	}

	if g.visitedEdges[edge] {
		return
	}
	g.visitedEdges[edge] = true

	if edge.Dyndep() != nil && edge.Dyndep().DyndepPending() {
		if err := g.dyndepLoader.LoadDyndeps(edge.Dyndep(), DyndepFile{}); err != nil {
			Warning("%s\n", err)
		}
	}

	if len(edge.Inputs()) == 1 && len(edge.Outputs()) == 1 {
		// Can draw simply.  Note extra space before label text -- this is
		// cosmetic and feels like a graphviz bug.
		fmt.Printf("%s -> %s [label=\" %s\"]\n",
			nodeID(edge.Inputs()[0]), nodeID(edge.Outputs()[0]), edge.Rule().Name())
	} else {
		fmt.Printf("%s [label=\"%s\", shape=ellipse]\n", edgeID(edge), edge.Rule().Name())
		for _, out := range edge.Outputs() {
			fmt.Printf("%s -> %s\n", edgeID(edge), nodeID(out))
		}
		for i, in := range edge.Inputs() {
			orderOnly := ""
			if edge.IsOrderOnly(i) {
				orderOnly = " style=dotted"
			}
			fmt.Printf("%s -> %s [arrowhead=none%s]\n", nodeID(in), edgeID(edge), orderOnly)
		}
	}

	for _, in := range edge.Inputs() {
		g.AddTarget(in)
	}
}

func (g *GraphViz) Finish() {
	fmt.Printf("}\n")
}
