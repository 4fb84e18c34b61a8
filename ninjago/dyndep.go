package ninjago

import "fmt"

// Dyndeps stores dynamically-discovered dependency information for one
// edge.
type Dyndeps struct {
	usedRestat      bool
	restat          bool
	implicitInputs  []*Node
	implicitOutputs []*Node
}

func (d *Dyndeps) ImplicitInputs() []*Node  { return d.implicitInputs }
func (d *Dyndeps) ImplicitOutputs() []*Node { return d.implicitOutputs }

// DyndepFile stores data loaded from one dyndep file, mapping each edge
// to its newly-discovered information.
type DyndepFile map[*Edge]*Dyndeps

// DyndepLoader loads dynamically-discovered dependencies into the graph.
type DyndepLoader struct {
	state         *State
	diskInterface DiskInterface
	explanations  *Explanations
}

func NewDyndepLoader(state *State, di DiskInterface) *DyndepLoader {
	return &DyndepLoader{state: state, diskInterface: di}
}

// LoadDyndeps loads a dyndep file from the given node's path and updates
// the build graph with the new information.  ddf receives the loaded
// information.
func (l *DyndepLoader) LoadDyndeps(node *Node, ddf DyndepFile) error {
	// We are loading the dyndep file now so it is no longer pending.
	node.SetDyndepPending(false)

	// Load the dyndep information from the file.
	if err := l.loadDyndepFile(node, ddf); err != nil {
		return err
	}

	// Update each edge that specified this node as its dyndep binding.
	for _, oe := range node.OutEdges() {
		if oe.Dyndep() != node {
			continue
		}
		info, ok := ddf[oe]
		if !ok {
			return fmt.Errorf("'%s' not mentioned in its dyndep file '%s'",
				oe.Outputs()[0].Path(), node.Path())
		}
		if err := l.updateEdge(oe, info); err != nil {
			return err
		}
	}

	return nil
}

func (l *DyndepLoader) loadDyndepFile(node *Node, ddf DyndepFile) error {
	parser := NewDyndepParser(l.state, l.diskInterface, ddf)
	return parser.Load(node.Path(), nil)
}

func (l *DyndepLoader) updateEdge(edge *Edge, dyndeps *Dyndeps) error {
	// Add dyndep-discovered bindings to the edge.  We know the edge
	// already has its own binding scope because it has a "dyndep" binding.
	if dyndeps.restat {
		edge.env.AddBinding("restat", "1")
	}

	// Add the dyndep-discovered outputs to the edge.
	edge.outputs = append(edge.outputs, dyndeps.implicitOutputs...)
	edge.implicitOuts += len(dyndeps.implicitOutputs)

	// Add this edge as incoming to each new output.
	for _, out := range dyndeps.implicitOutputs {
		if out.InEdge() != nil {
			return fmt.Errorf("multiple rules generate %s", out.Path())
		}
		out.SetInEdge(edge)
	}

	// Add the dyndep-discovered inputs to the edge, just before the
	// order-only region.
	offset := len(edge.inputs) - edge.orderOnlyDeps
	tail := append(append([]*Node{}, dyndeps.implicitInputs...), edge.inputs[offset:]...)
	edge.inputs = append(edge.inputs[:offset:offset], tail...)
	edge.implicitDeps += len(dyndeps.implicitInputs)

	// Add this edge as outgoing from each new input.
	for _, in := range dyndeps.implicitInputs {
		in.AddOutEdge(edge)
	}

	return nil
}
