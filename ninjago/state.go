package ninjago

import (
	"fmt"
	"sort"
)

// Pool is a resource group with a max depth, used to limit how many edges
// that share the group may run concurrently.
type Pool struct {
	name  string
	depth int

	currentUse int

	// Edges that would like to run but are waiting for admission, kept
	// ordered by weight and then by insertion (edge id) order.
	delayed []*Edge
}

func NewPool(name string, depth int) *Pool {
	return &Pool{name: name, depth: depth}
}

// IsValid reports whether the pool's depth is legal (non-negative); a
// depth of 0 is unlimited and skips all accounting.
func (p *Pool) IsValid() bool { return p.depth >= 0 }

func (p *Pool) Name() string          { return p.name }
func (p *Pool) Depth() int            { return p.depth }
func (p *Pool) CurrentUse() int       { return p.currentUse }
func (p *Pool) ShouldDelayEdge() bool { return p.depth != 0 }

// EdgeScheduled informs this pool that the given edge is committed to run.
func (p *Pool) EdgeScheduled(edge *Edge) {
	if p.depth != 0 {
		p.currentUse += edge.Weight()
	}
}

// EdgeFinished informs this pool that the given edge is no longer runnable.
func (p *Pool) EdgeFinished(edge *Edge) {
	if p.depth != 0 {
		p.currentUse -= edge.Weight()
	}
}

// DelayEdge adds the given edge to this pool to be delayed until the pool
// has enough capacity.  The caller must check ShouldDelayEdge first.
func (p *Pool) DelayEdge(edge *Edge) {
	if p.depth == 0 {
		panic("DelayEdge on unlimited pool")
	}
	i := sort.Search(len(p.delayed), func(i int) bool {
		d := p.delayed[i]
		if d.Weight() != edge.Weight() {
			return d.Weight() > edge.Weight()
		}
		return d.id > edge.id
	})
	p.delayed = append(p.delayed, nil)
	copy(p.delayed[i+1:], p.delayed[i:])
	p.delayed[i] = edge
}

// RetrieveReadyEdges moves into ready every delayed edge the pool can now
// admit, in queue order.
func (p *Pool) RetrieveReadyEdges(ready EdgePriorityQueue) {
	for len(p.delayed) > 0 {
		edge := p.delayed[0]
		if p.currentUse+edge.Weight() > p.depth {
			break
		}
		p.delayed = p.delayed[1:]
		ready.Add(edge)
		p.EdgeScheduled(edge)
	}
}

// Dump writes the pool state to stdout, for debugging.
func (p *Pool) Dump() {
	fmt.Printf("%s (%d/%d) ->\n", p.name, p.currentUse, p.depth)
	for _, e := range p.delayed {
		fmt.Printf("\t")
		e.Dump("")
	}
}

// The two distinguished pools.  Every State knows them: the default pool
// never delays, the console pool runs one edge at a time and hands it the
// terminal.
var (
	DefaultPool = NewPool("", 0)
	ConsolePool = NewPool("console", 1)
	PhonyRule   = NewRule("phony")
)

// State is the global state (file status and loaded rules) for a single
// run of ninja.
type State struct {
	// Mapping of canonical path -> Node.
	paths map[string]*Node

	pools map[string]*Pool

	// All the edges of the graph, owned here.
	edges []*Edge

	bindings *BindingEnv
	defaults []*Node
}

func NewState() *State {
	s := &State{
		paths:    make(map[string]*Node),
		pools:    make(map[string]*Pool),
		bindings: NewBindingEnv(nil),
	}
	s.bindings.AddRule(PhonyRule)
	s.AddPool(DefaultPool)
	s.AddPool(ConsolePool)
	return s
}

func (s *State) Bindings() *BindingEnv   { return s.bindings }
func (s *State) Edges() []*Edge          { return s.edges }
func (s *State) Paths() map[string]*Node { return s.paths }

func (s *State) AddPool(pool *Pool) {
	if s.LookupPool(pool.Name()) != nil {
		panic("duplicate pool: " + pool.Name())
	}
	s.pools[pool.Name()] = pool
}

func (s *State) LookupPool(name string) *Pool {
	return s.pools[name]
}

func (s *State) AddEdge(rule *Rule) *Edge {
	edge := &Edge{
		rule: rule,
		pool: DefaultPool,
		env:  s.bindings,
		id:   len(s.edges),
	}
	s.edges = append(s.edges, edge)
	return edge
}

// GetNode interns the node for path, creating it on first reference.
func (s *State) GetNode(path string, slashBits uint64) *Node {
	if node := s.LookupNode(path); node != nil {
		return node
	}
	node := NewNode(path, slashBits)
	s.paths[path] = node
	return node
}

func (s *State) LookupNode(path string) *Node {
	return s.paths[path]
}

// SpellcheckNode returns the node closest in spelling to path, if any is
// close enough to suggest.
func (s *State) SpellcheckNode(path string) *Node {
	words := make([]string, 0, len(s.paths))
	for p := range s.paths {
		words = append(words, p)
	}
	best := SpellcheckString(path, words...)
	if best == "" {
		return nil
	}
	return s.paths[best]
}

func (s *State) AddIn(edge *Edge, path string, slashBits uint64) {
	node := s.GetNode(path, slashBits)
	node.AddOutEdge(edge)
	edge.inputs = append(edge.inputs, node)
}

// AddOut makes node an output of edge; it returns false if the node is
// already produced by another edge.
func (s *State) AddOut(edge *Edge, path string, slashBits uint64) bool {
	node := s.GetNode(path, slashBits)
	if node.InEdge() != nil {
		return false
	}
	edge.outputs = append(edge.outputs, node)
	node.SetInEdge(edge)
	return true
}

func (s *State) AddValidation(edge *Edge, path string, slashBits uint64) {
	node := s.GetNode(path, slashBits)
	edge.validations = append(edge.validations, node)
	node.AddValidationOutEdge(edge)
}

func (s *State) AddDefault(path string) error {
	node := s.LookupNode(path)
	if node == nil {
		return fmt.Errorf("unknown target '%s'", path)
	}
	s.defaults = append(s.defaults, node)
	return nil
}

// RootNodes returns every output that is not an input to any edge; it is
// an error for a manifest with edges to have no roots (it is all cycles).
func (s *State) RootNodes() ([]*Node, error) {
	var roots []*Node
	// Search for nodes with no output.
	for _, e := range s.edges {
		for _, out := range e.outputs {
			if len(out.OutEdges()) == 0 {
				roots = append(roots, out)
			}
		}
	}
	if len(s.edges) != 0 && len(roots) == 0 {
		return nil, fmt.Errorf("could not determine root nodes of build graph")
	}
	return roots, nil
}

func (s *State) DefaultNodes() ([]*Node, error) {
	if len(s.defaults) != 0 {
		return s.defaults, nil
	}
	return s.RootNodes()
}

// Reset state.  Keeps all nodes and edges, but restores them to the
// state where we haven't yet examined the disk for dirty state.
func (s *State) Reset() {
	for _, node := range s.paths {
		node.ResetState()
	}
	for _, edge := range s.edges {
		edge.outputsReady = false
		edge.depsLoaded = false
	}
}

// Dump the nodes and pools (useful for debugging).
func (s *State) Dump() {
	for _, node := range s.paths {
		state := "unknown"
		if node.StatusKnown() {
			if node.Dirty() {
				state = "dirty"
			} else {
				state = "clean"
			}
		}
		fmt.Printf("%s %s [id:%d]\n", node.Path(), state, node.ID())
	}
	if len(s.pools) > 0 {
		fmt.Printf("resource_pools:\n")
		for _, p := range s.pools {
			if p.Name() != "" {
				p.Dump()
			}
		}
	}
}
