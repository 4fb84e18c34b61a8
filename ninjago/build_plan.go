package ninjago

import "fmt"

// Want enumerates the possible steps we want for an edge.
type Want int8

const (
	// WantNothing means we do not want to build the edge, but we might
	// want to build one of its dependents.
	WantNothing Want = iota
	// WantToStart means we want to build the edge, but have not yet
	// scheduled it.
	WantToStart
	// WantToFinish means we want to build the edge, have scheduled it,
	// and are waiting for it to complete.
	WantToFinish
)

// Plan stores the state of a build plan: what we intend to build, which
// steps we're ready to execute.
type Plan struct {
	// Keep track of which edges we want to build in this plan.  If this
	// map does not contain an entry for an edge, we do not want to build
	// the entry or its dependents.  If it does contain an entry, the
	// enumeration indicates what we want for the edge.
	want map[*Edge]Want

	ready EdgePriorityQueue

	builder *Builder

	// Targets in build order; earlier ones have higher priority.
	targets []*Node

	// Total number of edges that have commands (not phony).
	commandEdges int

	// Total remaining number of wanted edges.
	wantedEdges int
}

func NewPlan(builder *Builder) *Plan {
	return &Plan{
		builder: builder,
		want:    make(map[*Edge]Want),
		ready:   NewEdgePriorityQueue(),
	}
}

// AddTarget adds a target to the plan, including all its dependencies.
// The bool result is false when the target is already up to date.
func (p *Plan) AddTarget(target *Node) (bool, error) {
	p.targets = append(p.targets, target)
	return p.addSubTarget(target, nil, nil)
}

func (p *Plan) addSubTarget(node, dependent *Node, dyndepWalk map[*Edge]bool) (bool, error) {
	edge := node.InEdge()
	if edge == nil {
		// Leaf node, this can be either a regular input from the manifest
		// (e.g. a source file), or an implicit input from a depfile or
		// dyndep file.  In the first case, a dirty flag means the file is
		// missing, and the build should stop.  In the second, do not do
		// anything here since there is no producing edge to add to the
		// plan.
		if node.Dirty() && !node.GeneratedByDepLoader() {
			referenced := ""
			if dependent != nil {
				referenced = ", needed by '" + dependent.Path() + "',"
			}
			return false, fmt.Errorf("'%s'%s missing and no known rule to make it",
				node.Path(), referenced)
		}
		return false, nil
	}

	if edge.OutputsReady() {
		return false, nil // Don't need to do anything.
	}

	// If an entry in want does not already exist for edge, create an entry
	// which indicates we do not want to build this entry.
	want, exists := p.want[edge]
	if !exists {
		p.want[edge] = WantNothing
	} else if dyndepWalk != nil && want == WantToFinish {
		return false, nil // Don't need to do anything with already-scheduled edge.
	}

	if node.Dirty() && want == WantNothing {
		p.want[edge] = WantToStart
		p.edgeWanted(edge)
	}

	if dyndepWalk != nil {
		dyndepWalk[edge] = true
	}

	if exists {
		return true, nil // We've already processed the inputs.
	}

	for _, in := range edge.Inputs() {
		if _, err := p.addSubTarget(in, node, dyndepWalk); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (p *Plan) edgeWanted(edge *Edge) {
	p.wantedEdges++
	if !edge.IsPhony() {
		p.commandEdges++
		if p.builder != nil {
			p.builder.status.EdgeAddedToPlan(edge)
		}
	}
}

// FindWork pops a ready edge off the queue of edges to build, or nil if
// there's no work to do.
func (p *Plan) FindWork() *Edge {
	if p.ready.IsEmpty() {
		return nil
	}
	return p.ready.Poll().(*Edge)
}

// MoreToDo reports whether there's more work to be done.
func (p *Plan) MoreToDo() bool {
	return p.wantedEdges > 0 && p.commandEdges > 0
}

// Dump the current state of the plan.
func (p *Plan) Dump() {
	fmt.Printf("pending: %d\n", len(p.want))
	for edge, want := range p.want {
		if want != WantNothing {
			fmt.Printf("want ")
		}
		edge.Dump("")
	}
	fmt.Printf("ready: %d\n", p.ready.Size())
}

type EdgeResult int8

const (
	EdgeFailed EdgeResult = iota
	EdgeSucceeded
	// EdgeRestat is a success whose restat check left outputs untouched;
	// the plan treats it like a success, the builder has already pulled
	// the downstream clean.
	EdgeRestat
)

// EdgeFinished marks an edge as done building (whether it succeeded or
// failed).  If any of the edge's outputs are dyndep bindings of their
// dependents, this loads dynamic dependencies from the nodes' paths.
func (p *Plan) EdgeFinished(edge *Edge, result EdgeResult) error {
	want, ok := p.want[edge]
	if !ok {
		panic("finished edge not in plan")
	}
	directlyWanted := want != WantNothing

	// See if this job frees up any delayed jobs.
	if directlyWanted {
		edge.Pool().EdgeFinished(edge)
	}
	edge.Pool().RetrieveReadyEdges(p.ready)

	// The rest of this function only applies to successful commands.
	if result == EdgeFailed {
		return nil
	}

	if directlyWanted {
		p.wantedEdges--
	}
	delete(p.want, edge)
	edge.outputsReady = true

	// Check off any nodes we were waiting for with this edge.
	for _, out := range edge.Outputs() {
		if err := p.NodeFinished(out); err != nil {
			return err
		}
	}
	return nil
}

// NodeFinished updates the plan with the knowledge that the given node is
// up to date.  If the node is a dyndep binding on any of its dependents,
// this loads dynamic dependencies from the node's path.
func (p *Plan) NodeFinished(node *Node) error {
	// If this node provides dyndep info, load it now.
	if node.DyndepPending() {
		if p.builder == nil {
			panic("dyndep requires Plan to have a Builder")
		}
		// Load the now-clean dyndep file.  This will also update the
		// build plan and schedule any new work that is ready.
		return p.builder.LoadDyndeps(node)
	}

	// See if we we want any edges from this node.
	for _, oe := range node.OutEdges() {
		if _, ok := p.want[oe]; !ok {
			continue
		}

		// See if the edge is now ready.
		if err := p.edgeMaybeReady(oe); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) edgeMaybeReady(edge *Edge) error {
	if edge.AllInputsReady() {
		if p.want[edge] != WantNothing {
			p.ScheduleWork(edge)
		} else {
			// We do not need to build this edge, but we might need to
			// build one of its dependents.
			if err := p.EdgeFinished(edge, EdgeSucceeded); err != nil {
				return err
			}
		}
	}
	return nil
}

// ScheduleWork submits a ready edge as a candidate for execution.
//
// The edge may be delayed from running, for example if it's a member of a
// currently-full pool.
func (p *Plan) ScheduleWork(edge *Edge) {
	if p.want[edge] == WantToFinish {
		// This edge has already been scheduled.  We can get here again if
		// an edge and one of its dependencies share an order-only input,
		// or if a node duplicates an output edge (see
		// https://github.com/ninja-build/ninja/pull/519).  Avoid
		// scheduling the work again.
		return
	}
	if p.want[edge] != WantToStart {
		panic("unexpected want state")
	}
	p.want[edge] = WantToFinish

	pool := edge.Pool()
	if pool.ShouldDelayEdge() {
		pool.DelayEdge(edge)
		pool.RetrieveReadyEdges(p.ready)
	} else {
		pool.EdgeScheduled(edge)
		p.ready.Add(edge)
	}
}

// CleanNode cleans the given node during the build.  Called when a restat
// edge's command left the node unchanged: dependent edges re-evaluate
// whether they still have to run, and a chain that became clean is pulled
// out of the plan without executing.
func (p *Plan) CleanNode(scan *DependencyScan, node *Node) error {
	node.SetDirty(false)

	for _, oe := range node.OutEdges() {
		// Don't process edges that we don't actually want.
		want, ok := p.want[oe]
		if !ok || want == WantNothing {
			continue
		}

		// Don't attempt to clean an edge if it failed to load deps.
		if oe.depsMissing {
			continue
		}

		// If all non-order-only inputs for this edge are now clean,
		// we might have changed the dirty state of the outputs.
		end := len(oe.Inputs()) - oe.orderOnlyDeps
		anyDirty := false
		for i := 0; i < end; i++ {
			if oe.Inputs()[i].Dirty() {
				anyDirty = true
				break
			}
		}
		if anyDirty {
			continue
		}

		// Recompute most_recent_input.
		var mostRecentInput *Node
		for i := 0; i < end; i++ {
			in := oe.Inputs()[i]
			if mostRecentInput == nil || in.MTime() > mostRecentInput.MTime() {
				mostRecentInput = in
			}
		}

		// Now, this edge is dirty if any of the outputs are dirty.
		// If the edge isn't dirty, clean the outputs and mark the edge as
		// not wanted.
		outputsDirty, err := scan.RecomputeOutputsDirty(oe, mostRecentInput)
		if err != nil {
			return err
		}
		if !outputsDirty {
			for _, out := range oe.Outputs() {
				if err := p.CleanNode(scan, out); err != nil {
					return err
				}
			}

			p.want[oe] = WantNothing
			p.wantedEdges--
			if !oe.IsPhony() {
				p.commandEdges--
				if p.builder != nil {
					p.builder.status.EdgeRemovedFromPlan(oe)
				}
			}
		}
	}
	return nil
}

// CommandEdgeCount is the number of edges with commands to run.
func (p *Plan) CommandEdgeCount() int { return p.commandEdges }

// Reset state.  Clears want and ready sets.
func (p *Plan) Reset() {
	p.commandEdges = 0
	p.wantedEdges = 0
	p.ready.Clear()
	p.want = make(map[*Edge]Want)
}

// PrepareQueue prepares the ready queue for FindWork; called after all
// targets have been added.
func (p *Plan) PrepareQueue() {
	p.computeCriticalPath()
	p.scheduleInitialEdges()
}

func edgeWeightHeuristic(edge *Edge) int64 {
	if edge.IsPhony() {
		return 0
	}
	return 1
}

// topoSort performs a topological sort of all edges reachable from a set
// of unique targets: each edge in the result appears after the edges
// producing its inputs.
type topoSort struct {
	// Since the graph cannot have any cycles at this point, temporary
	// marks are not necessary and a simple set records which edges have
	// already been visited.
	visited     map[*Edge]bool
	sortedEdges []*Edge
}

func (t *topoSort) VisitTarget(target *Node) {
	if producer := target.InEdge(); producer != nil {
		t.visit(producer)
	}
}

func (t *topoSort) visit(edge *Edge) {
	if t.visited[edge] {
		return
	}
	t.visited[edge] = true
	for _, in := range edge.Inputs() {
		if producer := in.InEdge(); producer != nil {
			t.visit(producer)
		}
	}
	t.sortedEdges = append(t.sortedEdges, edge)
}

// computeCriticalPath propagates runtime weights up from leaves so edges
// on long chains are scheduled first.
func (p *Plan) computeCriticalPath() {
	defer MetricRecord("ComputeCriticalPath")()

	ts := topoSort{visited: make(map[*Edge]bool)}
	for _, target := range p.targets {
		ts.VisitTarget(target)
	}

	sortedEdges := ts.sortedEdges

	// First, reset all weights.
	for _, edge := range sortedEdges {
		edge.SetCriticalPathWeight(edgeWeightHeuristic(edge))
	}

	// Second, propagate weights from children to parents.  Scan the list
	// in reverse order to do so.
	for i := len(sortedEdges) - 1; i >= 0; i-- {
		edge := sortedEdges[i]
		edgeWeight := edge.CriticalPathWeight()

		for _, in := range edge.Inputs() {
			producer := in.InEdge()
			if producer == nil {
				continue
			}
			candidate := edgeWeight + edgeWeightHeuristic(producer)
			if candidate > producer.CriticalPathWeight() {
				producer.SetCriticalPathWeight(candidate)
			}
		}
	}
}

// scheduleInitialEdges adds WantToStart edges to the ready queue.  Must
// be called after computeCriticalPath and before FindWork.
func (p *Plan) scheduleInitialEdges() {
	if !p.ready.IsEmpty() {
		panic("ready queue not empty")
	}

	pools := make(map[*Pool]bool)

	for edge, want := range p.want {
		if want == WantToStart && edge.AllInputsReady() {
			pool := edge.Pool()
			if pool.ShouldDelayEdge() {
				// Mark the edge as scheduled, so it is not scheduled again
				// when its inputs finish one by one.
				p.want[edge] = WantToFinish
				pool.DelayEdge(edge)
				pools[pool] = true
			} else {
				p.ScheduleWork(edge)
			}
		}
	}

	// Call RetrieveReadyEdges only once at the end so higher priority
	// edges are retrieved first, not the ones that happen to be first in
	// the want map.
	for pool := range pools {
		pool.RetrieveReadyEdges(p.ready)
	}
}

// DyndepsLoaded updates the build plan to account for modifications made
// to the graph by information loaded from a dyndep file.
func (p *Plan) DyndepsLoaded(scan *DependencyScan, node *Node, ddf DyndepFile) error {
	// Recompute the dirty state of all our direct and indirect dependents
	// now that our dyndep information has been loaded.
	if err := p.refreshDyndepDependents(scan, node); err != nil {
		return err
	}

	// We loaded dyndep information for those outEdges of the dyndep node
	// that specify the node in a dyndep binding.  We should schedule any
	// edges that become buildable as a result.

	// Find edges in the the build plan for which we have new dyndep info.
	var dyndepRoots []*Dyndeps
	for edge, info := range ddf {
		// If the edge outputs are ready we do not need to consider it here.
		if edge.OutputsReady() {
			continue
		}
		// If the edge has not been encountered before then nothing already
		// in the plan depends on it so we do not need to consider the edge
		// yet either.
		if _, ok := p.want[edge]; !ok {
			continue
		}
		dyndepRoots = append(dyndepRoots, info)
	}

	// Walk dyndep-discovered portion of the graph to add it to the build
	// plan.
	dyndepWalk := make(map[*Edge]bool)
	for _, info := range dyndepRoots {
		for _, in := range info.implicitInputs {
			if _, err := p.addSubTarget(in, node, dyndepWalk); err != nil {
				return err
			}
		}
	}

	// Add out edges from this node that are in the plan (just as
	// NodeFinished would have without taking the dyndep code path).
	for _, oe := range node.OutEdges() {
		if _, ok := p.want[oe]; !ok {
			continue
		}
		dyndepWalk[oe] = true
	}

	// See if any encountered edges are now ready.
	for edge := range dyndepWalk {
		if _, ok := p.want[edge]; !ok {
			continue
		}
		if err := p.edgeMaybeReady(edge); err != nil {
			return err
		}
	}

	return nil
}

func (p *Plan) refreshDyndepDependents(scan *DependencyScan, node *Node) error {
	// Collect the transitive closure of dependents and mark their edges
	// as not yet visited by RecomputeDirty.
	dependents := make(map[*Node]bool)
	p.unmarkDependents(scan, node, dependents)

	// Update the dirty state of all dependents and check if their edges
	// have become wanted.
	for n := range dependents {
		// Check if this dependent node is now dirty.  Also checks for new
		// cycles.
		var validationNodes []*Node
		if err := scan.RecomputeDirty(n, &validationNodes); err != nil {
			return err
		}

		// Add any validation nodes found during RecomputeDirty as new top
		// level targets.
		for _, v := range validationNodes {
			if inEdge := v.InEdge(); inEdge != nil {
				if !inEdge.OutputsReady() {
					if _, err := p.AddTarget(v); err != nil {
						return err
					}
				}
			}
		}

		if !n.Dirty() {
			continue
		}

		// This edge was encountered before.  However, we may not have
		// wanted to build it if the outputs were not known to be dirty.
		// With dyndep information an output is now known to be dirty, so
		// we want the edge.
		edge := n.InEdge()
		if edge == nil || edge.OutputsReady() {
			panic("dependent node with no dirty edge")
		}
		want, ok := p.want[edge]
		if !ok {
			panic("dependent edge not in plan")
		}
		if want == WantNothing {
			p.want[edge] = WantToStart
			p.edgeWanted(edge)
		}
	}
	return nil
}

func (p *Plan) unmarkDependents(scan *DependencyScan, node *Node, dependents map[*Node]bool) {
	for _, edge := range node.OutEdges() {
		if _, ok := p.want[edge]; !ok {
			continue
		}

		if scan.mark(edge) != VisitNone {
			scan.Unmark(edge)
			for _, out := range edge.Outputs() {
				if !dependents[out] {
					dependents[out] = true
					p.unmarkDependents(scan, out, dependents)
				}
			}
		}
	}
}
