package ninjago

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/ahrtr/gocontainer/queue/priorityqueue"
	"github.com/edwingeng/deque"
)

// TimeStamp is a file modification time.  0 means the file does not exist,
// -1 means the mtime is unknown or stat failed.
type TimeStamp int64

type ExistenceStatus int8

const (
	// The file hasn't been examined.
	ExistenceStatusUnknown ExistenceStatus = iota
	// The file doesn't exist. mtime will be the latest mtime of its dependencies.
	ExistenceStatusMissing
	// The path is an actual file. mtime will be the file's mtime.
	ExistenceStatusExists
)

// Node is information about a single path in the build graph.
type Node struct {
	path string

	// Set bits starting from lowest for backslashes that were normalized to
	// forward slashes by CanonicalizePath. See |PathDecanonicalized|.
	slashBits uint64

	mtime  TimeStamp
	exists ExistenceStatus

	// Dirty is true when the underlying file is out-of-date.
	// But note that Edge.outputsReady is also used in judging which
	// edges to build.
	dirty bool

	// Store whether dyndep information is expected from this node but
	// has not yet been loaded.
	dyndepPending bool

	// Set to true when this node comes from a depfile, a deps log or the
	// deps log of another node, instead of the manifest.
	generatedByDepLoader bool

	// The Edge that produces this Node, or nil when there is no known
	// edge to produce it.
	inEdge *Edge

	// All Edges that use this Node as an input.
	outEdges []*Edge

	// All Edges that use this Node as a validation.
	validationOutEdges []*Edge

	// A dense integer id for the node, assigned and used by DepsLog.
	id int
}

func NewNode(path string, slashBits uint64) *Node {
	return &Node{path: path, slashBits: slashBits, mtime: -1, id: -1}
}

// Stat stats the node path, storing the result.
func (n *Node) Stat(di DiskInterface) error {
	mtime, err := di.Stat(n.path)
	n.mtime = mtime
	if err != nil {
		n.exists = ExistenceStatusUnknown
		return err
	}
	if mtime != 0 {
		n.exists = ExistenceStatusExists
	} else {
		n.exists = ExistenceStatusMissing
	}
	return nil
}

// StatIfNecessary stats the node if it hasn't been seen in this build pass.
func (n *Node) StatIfNecessary(di DiskInterface) error {
	if n.StatusKnown() {
		return nil
	}
	return n.Stat(di)
}

// UpdatePhonyMtime gives phony output nodes the mtime of their newest
// input, so dependents comparing against the fake node see it.
func (n *Node) UpdatePhonyMtime(mtime TimeStamp) {
	if !n.Exists() {
		if mtime > n.mtime {
			n.mtime = mtime
		}
	}
}

// ResetState marks the node as not-yet-stat()ed and not dirty.
func (n *Node) ResetState() {
	n.mtime = -1
	n.exists = ExistenceStatusUnknown
	n.dirty = false
}

// MarkMissing marks the node as already-stat()ed and missing.
func (n *Node) MarkMissing() {
	if n.mtime == -1 {
		n.mtime = 0
	}
	n.exists = ExistenceStatusMissing
}

func (n *Node) Exists() bool      { return n.exists == ExistenceStatusExists }
func (n *Node) StatusKnown() bool { return n.exists != ExistenceStatusUnknown }

func (n *Node) Path() string      { return n.path }
func (n *Node) SlashBits() uint64 { return n.slashBits }
func (n *Node) MTime() TimeStamp  { return n.mtime }

// PathDecanonicalized is Path() with slashBits used to convert back to the
// original backslash styles.
func (n *Node) PathDecanonicalized() string {
	return PathDecanonicalized(n.path, n.slashBits)
}

func PathDecanonicalized(path string, slashBits uint64) string {
	if runtime.GOOS != "windows" {
		return path
	}
	result := []byte(path)
	mask := uint64(1)
	for i := 0; i < len(result); i++ {
		if result[i] == '/' {
			if slashBits&mask != 0 {
				result[i] = '\\'
			}
			mask <<= 1
		}
	}
	return string(result)
}

func (n *Node) Dirty() bool         { return n.dirty }
func (n *Node) SetDirty(dirty bool) { n.dirty = dirty }
func (n *Node) MarkDirty()          { n.dirty = true }

func (n *Node) DyndepPending() bool           { return n.dyndepPending }
func (n *Node) SetDyndepPending(pending bool) { n.dyndepPending = pending }

func (n *Node) GeneratedByDepLoader() bool     { return n.generatedByDepLoader }
func (n *Node) SetGeneratedByDepLoader(v bool) { n.generatedByDepLoader = v }

func (n *Node) InEdge() *Edge        { return n.inEdge }
func (n *Node) SetInEdge(edge *Edge) { n.inEdge = edge }

func (n *Node) ID() int      { return n.id }
func (n *Node) SetID(id int) { n.id = id }

func (n *Node) OutEdges() []*Edge           { return n.outEdges }
func (n *Node) ValidationOutEdges() []*Edge { return n.validationOutEdges }
func (n *Node) AddOutEdge(edge *Edge)       { n.outEdges = append(n.outEdges, edge) }
func (n *Node) AddValidationOutEdge(edge *Edge) {
	n.validationOutEdges = append(n.validationOutEdges, edge)
}

func (n *Node) Dump(prefix string) {
	state := "clean"
	if n.Dirty() {
		state = "dirty"
	}
	mtimeNote := ""
	if !n.Exists() {
		mtimeNote = " (:missing)"
	}
	fmt.Printf("%s <%s 0x%p> mtime: %d%s, (:%s), ", prefix, n.Path(), n, n.MTime(), mtimeNote, state)
	if n.InEdge() != nil {
		n.InEdge().Dump("in-edge: ")
	} else {
		fmt.Printf("no in-edge\n")
	}
	fmt.Printf(" out edges:\n")
	for _, e := range n.OutEdges() {
		e.Dump(" +- ")
	}
	if len(n.ValidationOutEdges()) > 0 {
		fmt.Printf(" validation out edges:\n")
		for _, e := range n.ValidationOutEdges() {
			e.Dump(" +- ")
		}
	}
}

// VisitMark is the edge visit state used for cycle detection during a
// dependency scan.
type VisitMark int8

const (
	VisitNone VisitMark = iota
	VisitInStack
	VisitDone
)

// Edge is an edge in the dependency graph; both inputs and outputs belong
// to it.
type Edge struct {
	rule *Rule
	pool *Pool

	// Inputs are laid out as [explicit | implicit | order-only], with the
	// two counts recording the sizes of the trailing regions.
	inputs        []*Node
	implicitDeps  int
	orderOnlyDeps int

	// Outputs are [explicit | implicit].
	outputs      []*Node
	implicitOuts int

	validations []*Node

	// The dyndep file specified on the edge, if any.
	dyndep *Node

	env *BindingEnv

	outputsReady bool
	depsLoaded   bool
	depsMissing  bool

	id                 int
	criticalPathWeight int64
}

func (e *Edge) Rule() *Rule { return e.rule }
func (e *Edge) Pool() *Pool { return e.pool }

// Weight is the relative cost of running this edge against a pool's depth.
func (e *Edge) Weight() int { return 1 }

func (e *Edge) ID() int { return e.id }

func (e *Edge) CriticalPathWeight() int64     { return e.criticalPathWeight }
func (e *Edge) SetCriticalPathWeight(w int64) { e.criticalPathWeight = w }

func (e *Edge) Inputs() []*Node      { return e.inputs }
func (e *Edge) Outputs() []*Node     { return e.outputs }
func (e *Edge) Validations() []*Node { return e.validations }
func (e *Edge) Dyndep() *Node        { return e.dyndep }
func (e *Edge) Env() *BindingEnv     { return e.env }

func (e *Edge) OutputsReady() bool { return e.outputsReady }

func (e *Edge) IsImplicit(index int) bool {
	return index >= len(e.inputs)-e.implicitDeps-e.orderOnlyDeps && !e.IsOrderOnly(index)
}

func (e *Edge) IsOrderOnly(index int) bool {
	return index >= len(e.inputs)-e.orderOnlyDeps
}

func (e *Edge) IsImplicitOut(index int) bool {
	return index >= len(e.outputs)-e.implicitOuts
}

func (e *Edge) IsPhony() bool { return e.rule == PhonyRule }

func (e *Edge) UseConsole() bool { return e.pool == ConsolePool }

// MaybePhonycycleDiagnostic restricts the "phonycycle" diagnostic option to
// the form it used: CMake 2.8.12.x and 3.0.x produced self-referencing
// phony rules of the form "build a: phony ... a ...".
func (e *Edge) MaybePhonycycleDiagnostic() bool {
	return e.IsPhony() && len(e.outputs) == 1 && e.implicitOuts == 0 && e.implicitDeps == 0
}

// AllInputsReady reports whether all inputs' in-edges, if any, have their
// outputs ready.
func (e *Edge) AllInputsReady() bool {
	for _, in := range e.inputs {
		if in.InEdge() != nil && !in.InEdge().OutputsReady() {
			return false
		}
	}
	return true
}

type escapeKind int8

const (
	shellEscape escapeKind = iota
	doNotEscape
)

// edgeEnv is an Env for an Edge, providing $in and $out.
type edgeEnv struct {
	edge        *Edge
	escapeInOut escapeKind
	lookups     []string
	recursive   bool
}

func (env *edgeEnv) LookupVariable(name string) string {
	edge := env.edge
	switch name {
	case "in":
		explicit := len(edge.inputs) - edge.implicitDeps - edge.orderOnlyDeps
		return env.makePathList(edge.inputs[:explicit], ' ')
	case "in_newline":
		explicit := len(edge.inputs) - edge.implicitDeps - edge.orderOnlyDeps
		return env.makePathList(edge.inputs[:explicit], '\n')
	case "out":
		explicit := len(edge.outputs) - edge.implicitOuts
		return env.makePathList(edge.outputs[:explicit], ' ')
	}

	// Technical note about the lookups vector.
	//
	// This is used to detect cyclical references during expansion, e.g. a
	// rule with "command = $description" and "description = $command".
	// The first lookup of a non-in/out variable sets recursive; every
	// binding name seen on the way down is recorded while its value is
	// expanded, and revisiting one of them is fatal.
	if env.recursive {
		for _, l := range env.lookups {
			if l == name {
				cycle := strings.Join(append(env.lookups, name), " -> ")
				Fatal("cycle in rule variables: %s", cycle)
			}
		}
	}

	// See notes on BindingEnv.LookupWithFallback.
	eval := edge.rule.GetBinding(name)
	recordName := env.recursive && eval != nil
	if recordName {
		env.lookups = append(env.lookups, name)
	}

	// In practice, variables defined on rules never use another rule
	// variable.
	env.recursive = true
	result := edge.env.LookupWithFallback(name, eval, env)
	if recordName {
		env.lookups = env.lookups[:len(env.lookups)-1]
	}
	return result
}

// makePathList gives a shell-escaped string of the given node paths joined
// by sep.
func (env *edgeEnv) makePathList(paths []*Node, sep byte) string {
	result := ""
	for _, n := range paths {
		if len(result) > 0 {
			result += string(sep)
		}
		path := n.PathDecanonicalized()
		if env.escapeInOut == shellEscape {
			if runtime.GOOS == "windows" {
				GetWin32EscapedString(path, &result)
			} else {
				GetShellEscapedString(path, &result)
			}
		} else {
			result += path
		}
	}
	return result
}

// EvaluateCommand expands all variables in the command and returns it as a
// string.  If inclRspFile is enabled, the string includes the response
// file contents, for building the command hash.
func (e *Edge) EvaluateCommand(inclRspFile bool) string {
	command := e.GetBinding("command")
	if inclRspFile {
		rspfileContent := e.GetBinding("rspfile_content")
		if rspfileContent != "" {
			command += ";rspfile=" + rspfileContent
		}
	}
	return command
}

// GetBinding returns the shell-escaped value of the given binding on this
// edge.
func (e *Edge) GetBinding(key string) string {
	env := edgeEnv{edge: e, escapeInOut: shellEscape}
	return env.LookupVariable(key)
}

func (e *Edge) GetBindingBool(key string) bool {
	return e.GetBinding(key) != ""
}

// GetUnescapedDepfile is like GetBinding("depfile"), but without shell
// escaping.
func (e *Edge) GetUnescapedDepfile() string {
	env := edgeEnv{edge: e, escapeInOut: doNotEscape}
	return env.LookupVariable("depfile")
}

// GetUnescapedDyndep is like GetBinding("dyndep"), but without shell
// escaping.
func (e *Edge) GetUnescapedDyndep() string {
	env := edgeEnv{edge: e, escapeInOut: doNotEscape}
	return env.LookupVariable("dyndep")
}

// GetUnescapedRspfile is like GetBinding("rspfile"), but without shell
// escaping.
func (e *Edge) GetUnescapedRspfile() string {
	env := edgeEnv{edge: e, escapeInOut: doNotEscape}
	return env.LookupVariable("rspfile")
}

func (e *Edge) Dump(prefix string) {
	fmt.Printf("%s[ ", prefix)
	for _, in := range e.inputs {
		if in != nil {
			fmt.Printf("%s ", in.Path())
		}
	}
	fmt.Printf("--%s-> ", e.rule.Name())
	for _, out := range e.outputs {
		fmt.Printf("%s ", out.Path())
	}
	if len(e.validations) > 0 {
		fmt.Printf(" validations: ")
		for _, v := range e.validations {
			fmt.Printf("%s ", v.Path())
		}
	}
	if e.pool != nil {
		if e.pool.Name() != "" {
			fmt.Printf("(in pool '%s')", e.pool.Name())
		}
	} else {
		fmt.Printf("(null pool?)")
	}
	fmt.Printf("] 0x%p\n", e)
}

// EdgePriorityQueue is the interface of the plan's ready queue: a priority
// queue of edges, highest critical-path weight first.
type EdgePriorityQueue = priorityqueue.Interface

// EdgeCmp orders edges by decreasing critical-path weight, breaking ties
// with the edge id so the order is stable.
type EdgeCmp struct{}

func (EdgeCmp) Compare(v1, v2 interface{}) (int, error) {
	a, b := v1.(*Edge), v2.(*Edge)
	if a.criticalPathWeight != b.criticalPathWeight {
		if a.criticalPathWeight > b.criticalPathWeight {
			return -1, nil
		}
		return 1, nil
	}
	if a.id != b.id {
		if a.id < b.id {
			return -1, nil
		}
		return 1, nil
	}
	return 0, nil
}

func NewEdgePriorityQueue() EdgePriorityQueue {
	return priorityqueue.New().WithComparator(EdgeCmp{})
}

// DependencyScan manages the process of scanning the files in a graph and
// updating the dirty/outputsReady state of all the nodes and edges.
type DependencyScan struct {
	buildLog      *BuildLog
	diskInterface DiskInterface
	depLoader     *ImplicitDepLoader
	dyndepLoader  *DyndepLoader
	explanations  *Explanations

	// Visit marks are scoped to one scan rather than stored on the edges,
	// so State.Reset does not have to sweep the whole graph.
	marks map[*Edge]VisitMark
}

func NewDependencyScan(state *State, buildLog *BuildLog, depsLog *DepsLog,
	di DiskInterface, opts *DepfileParserOptions, explanations *Explanations) *DependencyScan {
	return &DependencyScan{
		buildLog:      buildLog,
		diskInterface: di,
		depLoader:     NewImplicitDepLoader(state, depsLog, di, opts, explanations),
		dyndepLoader:  NewDyndepLoader(state, di),
		explanations:  explanations,
		marks:         make(map[*Edge]VisitMark),
	}
}

func (s *DependencyScan) BuildLog() *BuildLog       { return s.buildLog }
func (s *DependencyScan) SetBuildLog(log *BuildLog) { s.buildLog = log }
func (s *DependencyScan) DepsLog() *DepsLog         { return s.depLoader.DepsLog() }

func (s *DependencyScan) mark(e *Edge) VisitMark       { return s.marks[e] }
func (s *DependencyScan) setMark(e *Edge, m VisitMark) { s.marks[e] = m }

// Unmark clears the visit mark of the edge so a later RecomputeDirty
// revisits it (used when dyndep information changes the graph mid-build).
func (s *DependencyScan) Unmark(e *Edge) { delete(s.marks, e) }

func (s *DependencyScan) explain(format string, args ...interface{}) {
	if s.explanations != nil {
		s.explanations.Record(nil, format, args...)
	}
}

// RecomputeDirty updates the dirty state of the given node by transitively
// inspecting its input edges.  Validation nodes found during the walk are
// appended to validationNodes and scanned as well.
func (s *DependencyScan) RecomputeDirty(initialNode *Node, validationNodes *[]*Node) error {
	nodes := deque.NewDeque()
	nodes.PushBack(initialNode)

	// RecomputeNodeDirty might return new validation nodes that need to be
	// checked for dirty state, keep a queue of nodes to visit.
	for nodes.Len() != 0 {
		node := nodes.Front().(*Node)
		nodes.PopFront()

		var stack, newValidationNodes []*Node
		if err := s.recomputeNodeDirty(node, &stack, &newValidationNodes); err != nil {
			return err
		}
		for _, n := range newValidationNodes {
			nodes.PushBack(n)
		}
		if len(newValidationNodes) != 0 {
			if validationNodes == nil {
				panic("validations require RecomputeDirty to be called with validation_nodes")
			}
			*validationNodes = append(*validationNodes, newValidationNodes...)
		}
	}
	return nil
}

func (s *DependencyScan) recomputeNodeDirty(node *Node, stack *[]*Node, validationNodes *[]*Node) error {
	edge := node.InEdge()
	if edge == nil {
		// If we already visited this leaf node then we are done.
		if node.StatusKnown() {
			return nil
		}
		// This node has no in-edge; it is dirty if it is missing.
		if err := node.StatIfNecessary(s.diskInterface); err != nil {
			return err
		}
		if !node.Exists() {
			s.explain("%s has no in-edge and is missing", node.Path())
		}
		node.SetDirty(!node.Exists())
		return nil
	}

	// If we already finished this edge then we are done.
	if s.mark(edge) == VisitDone {
		return nil
	}

	// If we encountered this edge earlier in the call stack we have a cycle.
	if err := s.verifyDAG(node, *stack); err != nil {
		return err
	}

	// Mark the edge temporarily while in the call stack.
	s.setMark(edge, VisitInStack)
	*stack = append(*stack, node)

	dirty := false
	edge.outputsReady = true
	edge.depsMissing = false

	{
		// If there is a pending dyndep file, visit it now:
		// * If the dyndep file is ready then load it now to get any
		//   additional inputs and outputs for this and other edges.
		//   Once the dyndep file is loaded it will no longer be pending
		//   if any other edges encounter it, but they will already have
		//   been updated.
		// * If the dyndep file is not ready then since is known to be an
		//   input to this edge, its source must be dirty. In this case
		//   we need to scan the edge anyway to make sure we mark it dirty.
		if edge.dyndep != nil && edge.dyndep.DyndepPending() {
			if err := s.recomputeNodeDirty(edge.dyndep, stack, validationNodes); err != nil {
				return err
			}
			if edge.dyndep.InEdge() == nil || edge.dyndep.InEdge().OutputsReady() {
				// The dyndep file is ready, so load it now.
				if err := s.LoadDyndeps(edge.dyndep, DyndepFile{}); err != nil {
					return err
				}
			}
		}
	}

	// Load output mtimes so we can compare them to the most recent input
	// below.
	for _, o := range edge.outputs {
		if err := o.StatIfNecessary(s.diskInterface); err != nil {
			return err
		}
	}

	if !edge.depsLoaded {
		// This is our first encounter with this edge.  Load discovered deps.
		edge.depsLoaded = true
		found, err := s.depLoader.LoadDeps(edge)
		if err != nil {
			return err
		}
		if !found {
			// Failed to load dependency info: rebuild to regenerate it.
			// LoadDeps() did explanations already, no need to do it here.
			dirty = true
			edge.depsMissing = true
		}
	}

	// Visit all inputs; we're dirty if any of the inputs are dirty.
	var mostRecentInput *Node
	for j, in := range edge.inputs {
		// Visit this input.
		if err := s.recomputeNodeDirty(in, stack, validationNodes); err != nil {
			return err
		}

		// If an input is not ready, neither are our outputs.
		if inEdge := in.InEdge(); inEdge != nil {
			if !inEdge.OutputsReady() {
				edge.outputsReady = false
			}
		}

		if !edge.IsOrderOnly(j) {
			// If a regular input is dirty (or missing), we're dirty.
			// Otherwise consider mtime.
			if in.Dirty() {
				s.explain("%s is dirty", in.Path())
				dirty = true
			} else {
				if mostRecentInput == nil || in.MTime() > mostRecentInput.MTime() {
					mostRecentInput = in
				}
			}
		}
	}

	// Record validation nodes.
	*validationNodes = append(*validationNodes, edge.validations...)

	// We may also be dirty due to output state: missing outputs, out of
	// date outputs, etc.  Visit all outputs and determine whether they're
	// dirty.
	if !dirty {
		var err error
		dirty, err = s.RecomputeOutputsDirty(edge, mostRecentInput)
		if err != nil {
			return err
		}
	}

	// Finally, visit each output and update their dirty state if necessary.
	for _, o := range edge.outputs {
		if dirty {
			o.MarkDirty()
		}
	}

	// If an edge is dirty, its outputs are normally not ready.  (It's
	// possible to be clean but still not be ready in the presence of
	// order-only inputs.)
	// But phony edges with no inputs have nothing to do, so are ready.
	if dirty && !(edge.IsPhony() && len(edge.inputs) == 0) {
		edge.outputsReady = false
	}

	// Mark the edge as finished during this walk now that it will no longer
	// be in the call stack.
	s.setMark(edge, VisitDone)
	if len(*stack) == 0 || (*stack)[len(*stack)-1] != node {
		panic("stack mismatch in RecomputeDirty")
	}
	*stack = (*stack)[:len(*stack)-1]

	return nil
}

func (s *DependencyScan) verifyDAG(node *Node, stack []*Node) error {
	edge := node.InEdge()

	// If we have no temporary mark on the edge then we do not yet have a
	// cycle.
	if s.mark(edge) != VisitInStack {
		return nil
	}

	// We have this edge earlier in the call stack.  Find it.
	start := 0
	for start < len(stack) && stack[start].InEdge() != edge {
		start++
	}
	if start == len(stack) {
		panic("edge in stack not found")
	}

	// Make the cycle clearer by reporting its start as the node at its
	// head.
	stack[start] = node
	sb := strings.Builder{}
	sb.WriteString("dependency cycle: ")
	for _, n := range stack[start:] {
		sb.WriteString(n.Path())
		sb.WriteString(" -> ")
	}
	sb.WriteString(stack[start].Path())

	if len(stack[start:]) == 1 && edge.MaybePhonycycleDiagnostic() {
		// The manifest parser would have filtered out the self-referencing
		// input if it were not configured to allow the error.
		sb.WriteString(" [-w phonycycle=err]")
	}

	return fmt.Errorf("%s", sb.String())
}

// RecomputeOutputsDirty recomputes whether any output of the edge is
// dirty.
func (s *DependencyScan) RecomputeOutputsDirty(edge *Edge, mostRecentInput *Node) (bool, error) {
	command := edge.EvaluateCommand(true /*inclRspFile*/)
	for _, o := range edge.outputs {
		if err := o.StatIfNecessary(s.diskInterface); err != nil {
			return false, err
		}
		if s.recomputeOutputDirty(edge, mostRecentInput, command, o) {
			return true, nil
		}
	}
	return false, nil
}

// recomputeOutputDirty recomputes whether a given single output should be
// marked dirty, given the state of its inputs.
func (s *DependencyScan) recomputeOutputDirty(edge *Edge, mostRecentInput *Node, command string, output *Node) bool {
	if edge.IsPhony() {
		// Phony edges don't write any output.  Outputs are only dirty if
		// there are no inputs and we're missing the output.
		if len(edge.inputs) == 0 && !output.Exists() {
			s.explain("output %s of phony edge with no inputs doesn't exist", output.Path())
			return true
		}

		// Update the mtime with the newest input.  Dependents can thus
		// call MTime() on the fake node and get the latest mtime of the
		// dependencies.
		if mostRecentInput != nil {
			output.UpdatePhonyMtime(mostRecentInput.MTime())
		}

		// Phony edges are clean, nothing to do.
		return false
	}

	// Dirty if we're missing the output.
	if !output.Exists() {
		s.explain("output %s doesn't exist", output.Path())
		return true
	}

	outputMtime := output.MTime()

	// If this is a restat rule, we may have cleaned the output in a
	// previous run and stored the most recent input mtime in the build
	// log.  Use that mtime instead, so that the file will only be
	// considered dirty if an input was modified since the previous run.
	usedRestat := false
	var entry *LogEntry
	if edge.GetBindingBool("restat") && s.buildLog != nil {
		if entry = s.buildLog.LookupByOutput(output.Path()); entry != nil {
			outputMtime = entry.mtime
			usedRestat = true
		}
	}

	// Dirty if the output is older than the input.
	if mostRecentInput != nil && outputMtime < mostRecentInput.MTime() {
		// If this is a restat rule, explain the restat mtime instead of the
		// file's mtime in the message.
		if usedRestat {
			s.explain("restat of output %s older than most recent input %s (%d vs %d)",
				output.Path(), mostRecentInput.Path(), outputMtime, mostRecentInput.MTime())
		} else {
			s.explain("output %s older than most recent input %s (%d vs %d)",
				output.Path(), mostRecentInput.Path(), outputMtime, mostRecentInput.MTime())
		}
		return true
	}

	if s.buildLog != nil {
		generator := edge.GetBindingBool("generator")
		if entry == nil {
			entry = s.buildLog.LookupByOutput(output.Path())
		}
		if entry != nil {
			if !generator && HashCommand(command) != entry.commandHash {
				// May also be dirty due to the command changing since the
				// last build.  But if this is a generator rule, the command
				// changing does not make us dirty.
				s.explain("command line changed for %s", output.Path())
				return true
			}
			if mostRecentInput != nil && entry.mtime < mostRecentInput.MTime() {
				// May also be dirty due to the mtime in the log being older
				// than the mtime of the most recent input.  This can occur
				// even when the mtime on disk is newer if a previous run
				// wrote to the output file but exited with an error or was
				// interrupted.
				s.explain("recorded mtime of %s older than most recent input %s (%d vs %d)",
					output.Path(), mostRecentInput.Path(), entry.mtime, mostRecentInput.MTime())
				return true
			}
		}
		if entry == nil && !generator {
			s.explain("command line not found in log for %s", output.Path())
			return true
		}
	}

	return false
}

// LoadDyndeps loads a dyndep file from the given node's path and updates
// the build graph with the new information.  The caller-owned DyndepFile
// receives the information loaded from the dyndep file.
func (s *DependencyScan) LoadDyndeps(node *Node, ddf DyndepFile) error {
	return s.dyndepLoader.LoadDyndeps(node, ddf)
}

// ImplicitDepLoader loads implicit dependencies, as referenced via the
// "depfile" attribute in build files, or stored in the deps log.
type ImplicitDepLoader struct {
	state         *State
	diskInterface DiskInterface
	depsLog       *DepsLog
	options       *DepfileParserOptions
	explanations  *Explanations
}

func NewImplicitDepLoader(state *State, depsLog *DepsLog, di DiskInterface,
	opts *DepfileParserOptions, explanations *Explanations) *ImplicitDepLoader {
	return &ImplicitDepLoader{
		state:         state,
		diskInterface: di,
		depsLog:       depsLog,
		options:       opts,
		explanations:  explanations,
	}
}

func (l *ImplicitDepLoader) DepsLog() *DepsLog { return l.depsLog }

func (l *ImplicitDepLoader) explain(format string, args ...interface{}) {
	if l.explanations != nil {
		l.explanations.Record(nil, format, args...)
	}
}

// LoadDeps loads implicit dependencies for edge.  The bool result is false
// without an error when info is just missing, which makes the edge dirty
// and forces rediscovery.
func (l *ImplicitDepLoader) LoadDeps(edge *Edge) (bool, error) {
	depsType := edge.GetBinding("deps")
	if depsType != "" {
		return l.loadDepsFromLog(edge), nil
	}

	depfile := edge.GetUnescapedDepfile()
	if depfile != "" {
		return l.loadDepFile(edge, depfile)
	}

	// No deps to load.
	return true, nil
}

// loadDepsFromLog loads the discovered inputs for edge's first output from
// the deps log, splicing them into the edge's implicit input region.
func (l *ImplicitDepLoader) loadDepsFromLog(edge *Edge) bool {
	// NOTE: deps are only supported for single-output edges.
	output := edge.outputs[0]
	var deps *Deps
	if l.depsLog != nil {
		deps = l.depsLog.GetDeps(output)
	}
	if deps == nil {
		l.explain("deps for '%s' are missing", output.Path())
		return false
	}

	// Deps are invalid if the output changed since they were recorded: a
	// newer output was touched by something else, an older one was rolled
	// back.  Either way the record no longer describes this file.
	if output.MTime() != deps.MTime {
		l.explain("stale deps for '%s' (output %d, deps recorded %d)",
			output.Path(), output.MTime(), deps.MTime)
		return false
	}

	slot := l.preallocateSpace(edge, len(deps.Nodes))
	for _, node := range deps.Nodes {
		node.SetGeneratedByDepLoader(true)
		edge.inputs[slot] = node
		node.AddOutEdge(edge)
		slot++
	}
	return true
}

// loadDepFile loads a depfile from the given path and updates edge's
// implicit inputs.
func (l *ImplicitDepLoader) loadDepFile(edge *Edge, path string) (bool, error) {
	content, status, err := l.diskInterface.ReadFile(path)
	switch status {
	case DiskNotFound:
		// Treat a missing depfile as a missing dep.
	case DiskOtherError:
		return false, err
	}
	if len(content) == 0 {
		l.explain("depfile '%s' is missing", path)
		return false, nil
	}

	parser := NewDepfileParser(l.options)
	if err := parser.Parse(content); err != nil {
		return false, fmt.Errorf("%s: %s", path, err)
	}

	if len(parser.Outs) == 0 {
		return false, fmt.Errorf("%s: no outputs declared", path)
	}

	primaryOut, _ := CanonicalizePath(parser.Outs[0])

	// Check that this depfile matches the edge's output, if not return
	// false to mark the edge as dirty.
	firstOutput := edge.outputs[0]
	if firstOutput.Path() != primaryOut {
		l.explain("expected depfile '%s' to mention '%s', got '%s'",
			path, firstOutput.Path(), primaryOut)
		return false, nil
	}

	// Ignore additional outputs.
	return true, l.processDepfileDeps(edge, parser.Ins)
}

func (l *ImplicitDepLoader) processDepfileDeps(edge *Edge, depfileIns []string) error {
	// Preallocate space in edge.inputs to be filled in below.
	slot := l.preallocateSpace(edge, len(depfileIns))

	// Add all its in-edges.
	for _, in := range depfileIns {
		path, slashBits := CanonicalizePath(in)
		node := l.state.GetNode(path, slashBits)
		if node.InEdge() == nil {
			node.SetGeneratedByDepLoader(true)
		}
		edge.inputs[slot] = node
		node.AddOutEdge(edge)
		slot++
	}
	return nil
}

// preallocateSpace inserts count slots into the edge's inputs just before
// the order-only region and grows the implicit region to cover them,
// returning the index of the first slot.
func (l *ImplicitDepLoader) preallocateSpace(edge *Edge, count int) int {
	offset := len(edge.inputs) - edge.orderOnlyDeps
	tail := append(make([]*Node, count), edge.inputs[offset:]...)
	edge.inputs = append(edge.inputs[:offset:offset], tail...)
	edge.implicitDeps += count
	return offset
}
