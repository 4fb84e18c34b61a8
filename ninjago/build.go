package ninjago

import (
	"fmt"
	"os"

	"github.com/edwingeng/deque"
)

type ExitStatus int8

const (
	ExitSuccess     ExitStatus = 0
	ExitFailure     ExitStatus = 1
	ExitInterrupted ExitStatus = 2
)

type Verbosity int8

const (
	VerbosityQuiet          Verbosity = iota // No output -- used when testing.
	VerbosityNoStatusUpdate                  // just regular output but suppress status update
	VerbosityNormal                          // regular output and status update
	VerbosityVerbose
)

// DebugFlags carries the -d toggles.  It is threaded explicitly through
// the scanner, plan and builder rather than living in process globals.
type DebugFlags struct {
	// Print statistics about the internal workings of the build.
	Stats bool
	// Explain what caused a command to execute.
	Explain bool
	// Don't delete depfiles after they're read by ninja.
	KeepDepfile bool
	// Don't delete @response files on success.
	KeepRsp bool
	// Batch stat calls per directory and cache them while the requested
	// targets are scanned; on unless -d nostatcache is given.
	ExperimentalStatcache bool
}

// BuildConfig are the options (e.g. verbosity, parallelism) passed to a
// build.
type BuildConfig struct {
	Verbosity       Verbosity
	DryRun          bool
	Parallelism     int
	FailuresAllowed int
	// The maximum load average we must not exceed.  A negative value
	// means that we do not have any limit.
	MaxLoadAverage       float64
	DepfileParserOptions DepfileParserOptions

	Debug *DebugFlags
}

func NewBuildConfig() *BuildConfig {
	return &BuildConfig{
		Verbosity:       VerbosityNormal,
		Parallelism:     1,
		FailuresAllowed: 1,
		MaxLoadAverage:  -0.0,
		Debug:           &DebugFlags{ExperimentalStatcache: true},
	}
}

// Result is the result of waiting for a command.
type Result struct {
	Edge   *Edge
	Status ExitStatus
	Output string
}

func (r *Result) Success() bool { return r.Status == ExitSuccess }

// CommandRunner is an interface that wraps running the build steps of a
// build.
type CommandRunner interface {
	// CanRunMore returns how many more commands can be started right now,
	// given the parallelism cap and the load average cap.
	CanRunMore() int

	// StartCommand starts a command non-blocking; it fails only on a
	// system error.
	StartCommand(edge *Edge) bool

	// WaitForCommand waits for a command to complete, reporting at most
	// one completion per call; the bool result is false on interruption.
	WaitForCommand(result *Result) bool

	GetActiveEdges() []*Edge
	Abort()
}

// DryRunCommandRunner synthesizes an instant success for every command.
type DryRunCommandRunner struct {
	finished deque.Deque
}

func NewDryRunCommandRunner() *DryRunCommandRunner {
	return &DryRunCommandRunner{finished: deque.NewDeque()}
}

func (d *DryRunCommandRunner) CanRunMore() int { return 1 }

func (d *DryRunCommandRunner) StartCommand(edge *Edge) bool {
	d.finished.PushBack(edge)
	return true
}

func (d *DryRunCommandRunner) WaitForCommand(result *Result) bool {
	if d.finished.Empty() {
		return false
	}
	result.Status = ExitSuccess
	result.Edge = d.finished.Front().(*Edge)
	d.finished.PopFront()
	result.Output = ""
	return true
}

func (d *DryRunCommandRunner) GetActiveEdges() []*Edge { return nil }

func (d *DryRunCommandRunner) Abort() {}

// Builder wraps the build process: starting commands, updating status.
type Builder struct {
	state         *State
	config        *BuildConfig
	plan          *Plan
	commandRunner CommandRunner
	status        Status

	// Map of running edge to the time the edge started running.
	runningEdges map[*Edge]int

	// Time the build started.
	startTimeMillis int64

	lockFilePath  string
	diskInterface DiskInterface

	// Only created when -d explain is used.
	explanations *Explanations

	scan *DependencyScan
}

func NewBuilder(state *State, config *BuildConfig, buildLog *BuildLog,
	depsLog *DepsLog, di DiskInterface, status Status, startTimeMillis int64) *Builder {
	b := &Builder{
		state:           state,
		config:          config,
		status:          status,
		startTimeMillis: startTimeMillis,
		diskInterface:   di,
		runningEdges:    make(map[*Edge]int),
	}
	b.plan = NewPlan(b)
	if config.Debug != nil && config.Debug.Explain {
		b.explanations = NewExplanations()
	}
	b.scan = NewDependencyScan(state, buildLog, depsLog, di,
		&config.DepfileParserOptions, b.explanations)
	b.lockFilePath = ".ninja_lock"
	if buildDir := state.Bindings().LookupVariable("builddir"); buildDir != "" {
		b.lockFilePath = buildDir + "/" + b.lockFilePath
	}
	return b
}

// Cleanup cleans up after interrupted commands by deleting output files.
func (b *Builder) Cleanup() {
	if b.commandRunner != nil {
		activeEdges := b.commandRunner.GetActiveEdges()
		b.commandRunner.Abort()

		for _, e := range activeEdges {
			depfile := e.GetUnescapedDepfile()
			for _, o := range e.Outputs() {
				// Only delete this output if it was actually modified.
				// This is important for things like the generator where we
				// don't want to delete the manifest file if we can avoid
				// it.  But if the rule uses a depfile, always delete.
				// (Consider the case where we need to rebuild an output
				// because of a modified header file mentioned in a
				// depfile, and the command touches its depfile but is
				// interrupted before it touches its output file.)
				newMtime, err := b.diskInterface.Stat(o.Path())
				if err != nil {
					// Log and ignore Stat() errors.
					b.status.Error("%s", err)
				}
				if depfile != "" || o.MTime() != newMtime {
					b.diskInterface.RemoveFile(o.Path())
				}
			}
			if depfile != "" {
				b.diskInterface.RemoveFile(depfile)
			}
		}
	}

	if mtime, _ := b.diskInterface.Stat(b.lockFilePath); mtime > 0 {
		b.diskInterface.RemoveFile(b.lockFilePath)
	}
}

// AddTargetName adds a target to the build by name, scanning
// dependencies; reports unknown targets.
func (b *Builder) AddTargetName(name string) (*Node, error) {
	node := b.state.LookupNode(name)
	if node == nil {
		return nil, fmt.Errorf("unknown target: '%s'", name)
	}
	if err := b.AddTarget(node); err != nil {
		return nil, err
	}
	return node, nil
}

// AddTarget adds a target to the build, scanning dependencies.
func (b *Builder) AddTarget(target *Node) error {
	var validationNodes []*Node
	if err := b.scan.RecomputeDirty(target, &validationNodes); err != nil {
		return err
	}

	inEdge := target.InEdge()
	if inEdge == nil || !inEdge.OutputsReady() {
		if _, err := b.plan.AddTarget(target); err != nil {
			return err
		}
	}

	// Also add any validation nodes found during RecomputeDirty as top
	// level targets.
	for _, n := range validationNodes {
		if validationInEdge := n.InEdge(); validationInEdge != nil {
			if !validationInEdge.OutputsReady() {
				if _, err := b.plan.AddTarget(n); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// AlreadyUpToDate reports whether the build targets are already up to
// date.
func (b *Builder) AlreadyUpToDate() bool {
	return !b.plan.MoreToDo()
}

// Build runs the build.  It is an error to call this function when
// AlreadyUpToDate() is true.
func (b *Builder) Build() error {
	if b.AlreadyUpToDate() {
		panic("build called when already up to date")
	}
	b.plan.PrepareQueue()

	pendingCommands := 0
	failuresAllowed := b.config.FailuresAllowed

	// Set up the command runner if we haven't done so already.
	if b.commandRunner == nil {
		if b.config.DryRun {
			b.commandRunner = NewDryRunCommandRunner()
		} else {
			b.commandRunner = NewRealCommandRunner(b.config)
		}
	}

	// We are about to start the build process.
	b.status.BuildStarted()

	// This main loop runs the entire build process.  It is structured
	// like this:
	// First, we attempt to start as many commands as allowed by the
	// command runner.
	// Second, we attempt to wait for / reap the next finished command.
	for b.plan.MoreToDo() {
		// See if we can start any more commands.
		if failuresAllowed != 0 {
			capacity := b.commandRunner.CanRunMore()
			for capacity > 0 {
				edge := b.plan.FindWork()
				if edge == nil {
					break
				}

				if edge.GetBindingBool("generator") {
					if buildLog := b.scan.BuildLog(); buildLog != nil {
						buildLog.Close()
					}
				}

				if err := b.startEdge(edge); err != nil {
					b.Cleanup()
					b.status.BuildFinished()
					return err
				}

				if edge.IsPhony() {
					if err := b.plan.EdgeFinished(edge, EdgeSucceeded); err != nil {
						b.Cleanup()
						b.status.BuildFinished()
						return err
					}
				} else {
					pendingCommands++

					capacity--

					// Re-evaluate capacity.
					currentCapacity := b.commandRunner.CanRunMore()
					if currentCapacity < capacity {
						capacity = currentCapacity
					}
				}
			}

			// We are finished with all work items and have no pending
			// commands.  Therefore, break out of the main loop.
			if pendingCommands == 0 && !b.plan.MoreToDo() {
				break
			}
		}

		// See if we can reap any finished commands.
		if pendingCommands != 0 {
			var result Result
			if !b.commandRunner.WaitForCommand(&result) ||
				result.Status == ExitInterrupted {
				b.Cleanup()
				b.status.BuildFinished()
				return fmt.Errorf("interrupted by user")
			}

			pendingCommands--
			if err := b.FinishCommand(&result); err != nil {
				b.Cleanup()
				b.status.BuildFinished()
				return err
			}

			if !result.Success() {
				if failuresAllowed != 0 {
					failuresAllowed--
				}
			}

			// We made some progress; start the main loop over.
			continue
		}

		// If we get here, we cannot make any more progress.
		b.status.BuildFinished()
		if failuresAllowed == 0 {
			if b.config.FailuresAllowed > 1 {
				return fmt.Errorf("subcommands failed")
			}
			return fmt.Errorf("subcommand failed")
		}
		if failuresAllowed < b.config.FailuresAllowed {
			return fmt.Errorf("cannot make progress due to previous errors")
		}
		return fmt.Errorf("stuck [this is a bug]")
	}

	b.status.BuildFinished()
	return nil
}

func (b *Builder) startEdge(edge *Edge) error {
	defer MetricRecord("StartEdge")()
	if edge.IsPhony() {
		return nil
	}

	startTimeMillis := GetTimeMillis() - b.startTimeMillis
	b.runningEdges[edge] = int(startTimeMillis)

	b.status.BuildEdgeStarted(edge, startTimeMillis)

	// Create directories necessary for outputs.
	// XXX: this will block; do we care?
	for _, o := range edge.Outputs() {
		if err := b.diskInterface.MakeDirs(o.Path()); err != nil {
			return err
		}
	}

	// Create depfile directory if needed.
	// XXX: this may also block; do we care?
	if depfile := edge.GetUnescapedDepfile(); depfile != "" {
		if err := b.diskInterface.MakeDirs(depfile); err != nil {
			return err
		}
	}

	// Create response file, if needed.
	// XXX: this may also block; do we care?
	if rspfile := edge.GetUnescapedRspfile(); rspfile != "" {
		content := edge.GetBinding("rspfile_content")
		if err := b.diskInterface.WriteFile(rspfile, content); err != nil {
			return err
		}
	}

	// Start command computing and run it.
	if !b.commandRunner.StartCommand(edge) {
		return fmt.Errorf("command '%s' failed.", edge.EvaluateCommand(false))
	}

	return nil
}

// FinishCommand updates status and the ninja logs following a command
// termination.  It returns an error if the build can not proceed further
// due to a fatal error.
func (b *Builder) FinishCommand(result *Result) error {
	defer MetricRecord("FinishCommand")()

	edge := result.Edge

	// First try to extract dependencies from the result, if any.  This
	// must happen first as it filters the command output (we want to
	// filter /showIncludes output, even on compile failure) and
	// extraction itself can fail, which makes the command fail from a
	// build perspective.
	var depsNodes []*Node
	depsType := edge.GetBinding("deps")
	depsPrefix := edge.GetBinding("msvc_deps_prefix")
	if depsType != "" {
		var extractErr error
		depsNodes, extractErr = b.extractDeps(result, depsType, depsPrefix)
		if extractErr != nil && result.Success() {
			if result.Output != "" {
				result.Output += "\n"
			}
			result.Output += extractErr.Error()
			result.Status = ExitFailure
		}
	}

	var startTimeMillis, endTimeMillis int64
	startTimeMillis = int64(b.runningEdges[edge])
	endTimeMillis = GetTimeMillis() - b.startTimeMillis
	delete(b.runningEdges, edge)

	b.status.BuildEdgeFinished(edge, startTimeMillis, endTimeMillis,
		result.Success(), result.Output)

	// The rest of this function only applies to successful commands.
	if !result.Success() {
		return b.plan.EdgeFinished(edge, EdgeFailed)
	}

	// Restat the edge outputs.
	var recordMtime TimeStamp
	if !b.config.DryRun {
		restat := edge.GetBindingBool("restat")

		// Restat rules must restat the outputs after the build has
		// finished; everything else records the outputs' current mtime in
		// the log.
		for _, o := range edge.Outputs() {
			newMtime, err := b.diskInterface.Stat(o.Path())
			if err != nil {
				return err
			}
			if newMtime > recordMtime {
				recordMtime = newMtime
			}
			if o.MTime() == newMtime && restat {
				// The rule command did not change the output.  Propagate
				// the clean state through the build graph.  Note that this
				// also applies to nonexistent outputs (mtime == 0).
				if err := b.plan.CleanNode(b.scan, o); err != nil {
					return err
				}
				result.Status = ExitSuccess
			}
		}
	}

	if err := b.plan.EdgeFinished(edge, EdgeSucceeded); err != nil {
		return err
	}

	// Delete any left over response file.
	keepRsp := b.config.Debug != nil && b.config.Debug.KeepRsp
	if rspfile := edge.GetUnescapedRspfile(); rspfile != "" && !keepRsp {
		b.diskInterface.RemoveFile(rspfile)
	}

	if b.scan.BuildLog() != nil {
		if err := b.scan.BuildLog().RecordCommand(edge,
			int(startTimeMillis), int(endTimeMillis), recordMtime); err != nil {
			return fmt.Errorf("Error writing to build log: %s", err)
		}
	}

	if depsType != "" && !b.config.DryRun {
		if len(edge.Outputs()) == 0 {
			panic("should have been rejected by parser")
		}
		for _, o := range edge.Outputs() {
			depsMtime, err := b.diskInterface.Stat(o.Path())
			if err != nil {
				return err
			}
			if err := b.scan.DepsLog().RecordDeps(o, depsMtime, depsNodes); err != nil {
				return fmt.Errorf("Error writing to deps log: %s", err)
			}
		}
	}
	return nil
}

// SetBuildLog is used by tests.
func (b *Builder) SetBuildLog(log *BuildLog) {
	b.scan.SetBuildLog(log)
}

func (b *Builder) extractDeps(result *Result, depsType, depsPrefix string) ([]*Node, error) {
	switch depsType {
	case "msvc":
		parser := NewCLParser()
		result.Output = parser.Parse(result.Output, depsPrefix)
		depsNodes := make([]*Node, 0, len(parser.Includes))
		for _, include := range parser.Includes {
			// ~0 is assuming that with MSVC-parsed headers, it's ok to
			// always make all backslashes (as some of the slashes will
			// certainly be backslashes anyway).
			depsNodes = append(depsNodes, b.state.GetNode(include, ^uint64(0)))
		}
		return depsNodes, nil

	case "gcc":
		depfile := result.Edge.GetUnescapedDepfile()
		if depfile == "" {
			return nil, fmt.Errorf("edge with deps=gcc but no depfile makes no sense")
		}

		// Read depfile content.  Treat a missing depfile as empty.
		content, status, err := b.diskInterface.ReadFile(depfile)
		switch status {
		case DiskNotFound:
		case DiskOtherError:
			return nil, err
		}
		if len(content) == 0 {
			return nil, nil
		}

		deps := NewDepfileParser(&b.config.DepfileParserOptions)
		if err := deps.Parse(content); err != nil {
			return nil, err
		}

		// XXX check depfile matches expected output.
		depsNodes := make([]*Node, 0, len(deps.Ins))
		for _, in := range deps.Ins {
			path, slashBits := CanonicalizePath(in)
			depsNodes = append(depsNodes, b.state.GetNode(path, slashBits))
		}

		keepDepfile := b.config.Debug != nil && b.config.Debug.KeepDepfile
		if !keepDepfile {
			if _, err := b.diskInterface.RemoveFile(depfile); err != nil {
				return nil, fmt.Errorf("deleting depfile: %s", err)
			}
		}
		return depsNodes, nil
	}

	fmt.Fprintf(os.Stderr, "ninja: fatal: unknown deps type '%s'\n", depsType)
	os.Exit(1)
	return nil, nil
}

// LoadDyndeps loads the dyndep information provided by the given node.
func (b *Builder) LoadDyndeps(node *Node) error {
	// Load the dyndep information provided by this node.
	ddf := DyndepFile{}
	if err := b.scan.LoadDyndeps(node, ddf); err != nil {
		return err
	}

	// Update the build plan to account for dyndep modifications to the
	// graph.
	return b.plan.DyndepsLoaded(b.scan, node, ddf)
}
