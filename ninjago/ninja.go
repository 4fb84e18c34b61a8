package ninjago

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"git.sr.ht/~sircmpwn/getopt"
)

// Options are the command-line options.
type Options struct {
	// Build file to load.
	InputFile string

	// Directory to change into before running.
	WorkingDir string

	// Tool to run rather than building.
	Tool *Tool

	// Whether duplicate rules for one target should warn or print an
	// error.
	DupeEdgesShouldErr bool

	// Whether phony cycles should warn or print an error.
	PhonyCycleShouldErr bool
}

// When indicates when a tool runs.
type When int8

const (
	// RunAfterFlags: run after parsing the command-line flags and
	// potentially changing the current working directory (as early as
	// possible).
	RunAfterFlags When = iota

	// RunAfterLoad: run after loading build.ninja.
	RunAfterLoad

	// RunAfterLogs: run after loading the build/deps logs.
	RunAfterLogs
)

// ToolFunc is the entry point of a subtool.
type ToolFunc func(n *NinjaMain, options *Options, args []string) int

// Tool is a subtool, accessible via "-t foo".
type Tool struct {
	// Short name of the tool.
	Name string

	// Description (shown in "-t list").
	Desc string

	// When to run the tool.
	When When

	// Implementation of the tool.
	Func ToolFunc
}

// NinjaMain carries the state needed for one load of a manifest and the
// associated logs; it is also the BuildLogUser answering liveness
// questions at recompaction time.
type NinjaMain struct {
	// Command line used to run ninja.
	ninjaCommand string

	// Build configuration set from flags (e.g. parallelism).
	config *BuildConfig

	// Loaded state (rules, nodes).
	state *State

	// Functions for accessing the disk.
	diskInterface *RealDiskInterface

	// The build directory, used for storing the build log etc.
	buildDir string

	buildLog *BuildLog
	depsLog  *DepsLog

	status Status

	// The time main() was started, for timing the overall build.
	startTimeMillis int64
}

func NewNinjaMain(ninjaCommand string, config *BuildConfig, status Status, startTimeMillis int64) *NinjaMain {
	return &NinjaMain{
		ninjaCommand:    ninjaCommand,
		config:          config,
		state:           NewState(),
		diskInterface:   NewRealDiskInterface(),
		buildLog:        NewBuildLog(),
		depsLog:         NewDepsLog(),
		status:          status,
		startTimeMillis: startTimeMillis,
	}
}

func (n *NinjaMain) State() *State       { return n.state }
func (n *NinjaMain) BuildLog() *BuildLog { return n.buildLog }
func (n *NinjaMain) DepsLog() *DepsLog   { return n.depsLog }

// IsPathDead reports whether the log entry for the path can be dropped at
// recompaction.
func (n *NinjaMain) IsPathDead(path string) bool {
	node := n.state.LookupNode(path)
	if node != nil && node.InEdge() != nil {
		return false
	}
	// Just checking the node isn't enough: if an old output is both in
	// the build log and in the deps log, it will have a Node object in
	// the state.  (It will also have an in edge if one of its inputs is
	// another output.)
	mtime, err := n.diskInterface.Stat(path)
	if mtime == -1 {
		Error("%s", err) // Log and ignore Stat() errors.
	}
	return mtime == 0
}

// CollectTarget turns a command-line argument into a node.
//
// Rejects unknown targets with a spelling suggestion; the special "path^"
// syntax means "the first output that uses path as an input".
func (n *NinjaMain) CollectTarget(cpath string) (*Node, error) {
	path := cpath
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	firstDependent := false
	if strings.HasSuffix(path, "^") {
		path = path[:len(path)-1]
		firstDependent = true
	}
	path, _ = CanonicalizePath(path)

	// Special syntax: "cat^" means "the first thing built using cat".
	node := n.state.LookupNode(path)
	if node == nil {
		suggestion := ""
		if path == "clean" {
			suggestion = ", did you mean 'ninja -t clean'?"
		} else if path == "help" {
			suggestion = ", did you mean 'ninja -h'?"
		} else if suggested := n.state.SpellcheckNode(path); suggested != nil {
			suggestion = fmt.Sprintf(", did you mean '%s'?", suggested.Path())
		}
		return nil, fmt.Errorf("unknown target '%s'%s", path, suggestion)
	}

	if firstDependent {
		if len(node.OutEdges()) == 0 {
			revDep := n.depsLog.GetFirstReverseDepsNode(node)
			if revDep == nil {
				return nil, fmt.Errorf("'%s' has no out edge", path)
			}
			return revDep, nil
		}
		edge := node.OutEdges()[0]
		if len(edge.Outputs()) == 0 {
			edge.Dump("")
			return nil, fmt.Errorf("edge has no outputs")
		}
		return edge.Outputs()[0], nil
	}
	return node, nil
}

// CollectTargetsFromArgs resolves the command-line targets, or the
// manifest defaults when none were named.
func (n *NinjaMain) CollectTargetsFromArgs(args []string) ([]*Node, error) {
	if len(args) == 0 {
		return n.state.DefaultNodes()
	}

	targets := make([]*Node, 0, len(args))
	for _, arg := range args {
		node, err := n.CollectTarget(arg)
		if err != nil {
			return nil, err
		}
		targets = append(targets, node)
	}
	return targets, nil
}

// OpenBuildLog opens the build log; on recompactOnly it just recompacts
// it and does not prepare it for writing.
func (n *NinjaMain) OpenBuildLog(recompactOnly bool) bool {
	logPath := ".ninja_log"
	if n.buildDir != "" {
		logPath = n.buildDir + "/" + logPath
	}

	status, err := n.buildLog.Load(logPath)
	if status == LoadError {
		n.status.Error("loading build log %s: %s", logPath, err)
		return false
	}
	if err != nil {
		// Best-effort; the log will be rebuilt.
		n.status.Warning("%s", err)
	}

	if recompactOnly {
		if err := n.buildLog.Recompact(logPath, n); err != nil {
			n.status.Error("failed recompaction: %s", err)
			return false
		}
		return true
	}

	if !n.config.DryRun {
		if err := n.buildLog.OpenForWrite(logPath, n); err != nil {
			n.status.Error("opening build log: %s", err)
			return false
		}
	}

	return true
}

// OpenDepsLog opens the deps log; on recompactOnly it just recompacts it
// and does not prepare it for writing.
func (n *NinjaMain) OpenDepsLog(recompactOnly bool) bool {
	path := ".ninja_deps"
	if n.buildDir != "" {
		path = n.buildDir + "/" + path
	}

	status, warn, err := n.depsLog.Load(path, n.state)
	if status == LoadError {
		n.status.Error("loading deps log %s: %s", path, err)
		return false
	}
	if warn != "" {
		n.status.Warning("%s", warn)
	}

	if recompactOnly {
		if err := n.depsLog.Recompact(path); err != nil {
			n.status.Error("failed recompaction: %s", err)
			return false
		}
		return true
	}

	if !n.config.DryRun {
		if err := n.depsLog.OpenForWrite(path); err != nil {
			n.status.Error("opening deps log: %s", err)
			return false
		}
	}

	return true
}

// EnsureBuildDirExists rebuilds the store directory for the logs if the
// manifest declared a builddir.
func (n *NinjaMain) EnsureBuildDirExists() bool {
	n.buildDir = n.state.Bindings().LookupVariable("builddir")
	if n.buildDir != "" && !n.config.DryRun {
		if err := n.diskInterface.MakeDirs(n.buildDir + "/."); err != nil {
			n.status.Error("creating build directory %s: %s", n.buildDir, err)
			return false
		}
	}
	return true
}

// RebuildManifest rebuilds the manifest, returning true if it was
// rebuilt and the whole state should be discarded and reloaded.
func (n *NinjaMain) RebuildManifest(inputFile string) (bool, error) {
	path := inputFile
	if path == "" {
		return false, fmt.Errorf("empty path")
	}
	path, _ = CanonicalizePath(path)
	node := n.state.LookupNode(path)
	if node == nil {
		return false, nil
	}

	builder := NewBuilder(n.state, n.config, n.buildLog, n.depsLog,
		n.diskInterface, n.status, n.startTimeMillis)
	if err := builder.AddTarget(node); err != nil {
		return false, err
	}

	if builder.AlreadyUpToDate() {
		return false, nil // Not an error, but we didn't rebuild.
	}

	if err := builder.Build(); err != nil {
		return false, err
	}

	// The manifest was only rebuilt if it is now dirty (it may have been
	// cleaned by a restat).
	if !node.Dirty() {
		// Reset the state to prevent problems like duplicate outputs
		// during subsequent manifest reloads.
		n.state.Reset()
		return false, nil
	}

	return true, nil
}

// RunBuild builds the targets listed on the command line.
func (n *NinjaMain) RunBuild(args []string) int {
	targets, err := n.CollectTargetsFromArgs(args)
	if err != nil {
		n.status.Error("%s", err)
		return 1
	}

	n.diskInterface.AllowStatCache(n.config.Debug.ExperimentalStatcache)

	builder := NewBuilder(n.state, n.config, n.buildLog, n.depsLog,
		n.diskInterface, n.status, n.startTimeMillis)
	for _, target := range targets {
		if err := builder.AddTarget(target); err != nil {
			n.status.Error("%s", err)
			return 1
		}
	}

	// Make sure restat rules do not see stale timestamps.
	n.diskInterface.AllowStatCache(false)

	if builder.AlreadyUpToDate() {
		if n.config.Verbosity != VerbosityNoStatusUpdate {
			n.status.Info("no work to do.")
		}
		return 0
	}

	if err := builder.Build(); err != nil {
		n.status.Info("build stopped: %s.", err)
		if strings.Contains(err.Error(), "interrupted by user") {
			return 2
		}
		return 1
	}

	return 0
}

// The subtools.

func toolGraph(n *NinjaMain, options *Options, args []string) int {
	nodes, err := n.CollectTargetsFromArgs(args)
	if err != nil {
		Error("%s", err)
		return 1
	}

	graph := NewGraphViz(n.state, n.diskInterface)
	graph.Start()
	for _, node := range nodes {
		graph.AddTarget(node)
	}
	graph.Finish()
	return 0
}

func toolQuery(n *NinjaMain, options *Options, args []string) int {
	if len(args) == 0 {
		Error("expected a target to query")
		return 1
	}

	dyndepLoader := NewDyndepLoader(n.state, n.diskInterface)

	for _, arg := range args {
		node, err := n.CollectTarget(arg)
		if err != nil {
			Error("%s", err)
			return 1
		}

		fmt.Printf("%s:\n", node.Path())
		if edge := node.InEdge(); edge != nil {
			if edge.Dyndep() != nil && edge.Dyndep().DyndepPending() {
				if err := dyndepLoader.LoadDyndeps(edge.Dyndep(), DyndepFile{}); err != nil {
					Warning("%s\n", err)
				}
			}
			fmt.Printf("  input: %s\n", edge.Rule().Name())
			for i, in := range edge.Inputs() {
				label := ""
				if edge.IsImplicit(i) {
					label = "| "
				} else if edge.IsOrderOnly(i) {
					label = "|| "
				}
				fmt.Printf("    %s%s\n", label, in.Path())
			}
			if len(edge.Validations()) > 0 {
				fmt.Printf("  validations:\n")
				for _, validation := range edge.Validations() {
					fmt.Printf("    %s\n", validation.Path())
				}
			}
		}
		fmt.Printf("  outputs:\n")
		for _, edge := range node.OutEdges() {
			for _, out := range edge.Outputs() {
				fmt.Printf("    %s\n", out.Path())
			}
		}
		if validationEdges := node.ValidationOutEdges(); len(validationEdges) > 0 {
			fmt.Printf("  validation for:\n")
			for _, edge := range validationEdges {
				for _, out := range edge.Outputs() {
					fmt.Printf("    %s\n", out.Path())
				}
			}
		}
	}
	return 0
}

func toolDeps(n *NinjaMain, options *Options, args []string) int {
	var nodes []*Node
	if len(args) == 0 {
		for _, node := range n.depsLog.Nodes() {
			if IsDepsEntryLiveFor(node) {
				nodes = append(nodes, node)
			}
		}
	} else {
		var err error
		nodes, err = n.CollectTargetsFromArgs(args)
		if err != nil {
			Error("%s", err)
			return 1
		}
	}

	di := NewRealDiskInterface()
	for _, node := range nodes {
		deps := n.depsLog.GetDeps(node)
		if deps == nil {
			fmt.Printf("%s: deps not found\n", node.Path())
			continue
		}

		mtime, err := di.Stat(node.Path())
		if err != nil {
			Error("%s", err) // Log and ignore Stat() errors.
		}
		liveness := "VALID"
		if mtime == 0 || mtime != deps.MTime {
			liveness = "STALE"
		}
		fmt.Printf("%s: #deps %d, deps mtime %d (%s)\n",
			node.Path(), len(deps.Nodes), deps.MTime, liveness)
		for _, in := range deps.Nodes {
			fmt.Printf("    %s\n", in.Path())
		}
		fmt.Printf("\n")
	}

	return 0
}

func toolTargetsListNodes(nodes []*Node, depth, indent int) int {
	for _, node := range nodes {
		for i := 0; i < indent; i++ {
			fmt.Printf("  ")
		}
		target := node.Path()
		if node.InEdge() != nil {
			fmt.Printf("%s: %s\n", target, node.InEdge().Rule().Name())
			if depth > 1 || depth <= 0 {
				toolTargetsListNodes(node.InEdge().Inputs(), depth-1, indent+1)
			}
		} else {
			fmt.Printf("%s\n", target)
		}
	}
	return 0
}

func toolTargetsSourceList(state *State) int {
	for _, edge := range state.Edges() {
		for i, in := range edge.Inputs() {
			if in.InEdge() == nil && !edge.IsOrderOnly(i) {
				fmt.Printf("%s\n", in.Path())
			}
		}
	}
	return 0
}

func toolTargetsListRule(state *State, ruleName string) int {
	rules := make(map[string]bool)

	// Gather the outputs.
	for _, edge := range state.Edges() {
		if edge.Rule().Name() == ruleName {
			for _, out := range edge.Outputs() {
				rules[out.Path()] = true
			}
		}
	}

	// Print them.
	for _, path := range SortedFileNames(rules) {
		fmt.Printf("%s\n", path)
	}

	return 0
}

func toolTargetsListAll(state *State) int {
	for _, edge := range state.Edges() {
		for _, out := range edge.Outputs() {
			fmt.Printf("%s: %s\n", out.Path(), edge.Rule().Name())
		}
	}
	return 0
}

func toolTargets(n *NinjaMain, options *Options, args []string) int {
	depth := 1
	if len(args) >= 1 {
		mode := args[0]
		switch mode {
		case "rule":
			if len(args) > 1 {
				return toolTargetsListRule(n.state, args[1])
			}
			return toolTargetsSourceList(n.state)
		case "depth":
			if len(args) > 1 {
				depth, _ = strconv.Atoi(args[1])
			}
		case "all":
			return toolTargetsListAll(n.state)
		default:
			suggestion := SpellcheckString(mode, "rule", "depth", "all")
			if suggestion != "" {
				Error("unknown target tool mode '%s', did you mean '%s'?", mode, suggestion)
			} else {
				Error("unknown target tool mode '%s'", mode)
			}
			return 1
		}
	}

	rootNodes, err := n.state.RootNodes()
	if err != nil {
		Error("%s", err)
		return 1
	}
	return toolTargetsListNodes(rootNodes, depth, 0)
}

func toolRules(n *NinjaMain, options *Options, args []string) int {
	printDescription := len(args) > 0 && args[0] == "-d"

	rules := n.state.Bindings().Rules()
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s", name)
		if printDescription {
			rule := rules[name]
			if description := rule.GetBinding("description"); description != nil {
				fmt.Printf(": %s", description.Unparse())
			}
		}
		fmt.Printf("\n")
	}
	return 0
}

func toolCommands(n *NinjaMain, options *Options, args []string) int {
	nodes, err := n.CollectTargetsFromArgs(args)
	if err != nil {
		Error("%s", err)
		return 1
	}

	collector := NewCommandCollector()
	for _, in := range nodes {
		collector.CollectFrom(in)
	}
	for _, edge := range collector.InEdges {
		fmt.Printf("%s\n", edge.EvaluateCommand(false))
	}

	return 0
}

func toolCompilationDatabase(n *NinjaMain, options *Options, args []string) int {
	cwd, err := os.Getwd()
	if err != nil {
		Error("cannot determine working directory: %s", err)
		return 1
	}

	first := true
	fmt.Printf("[")
	for _, edge := range n.state.Edges() {
		if edge.IsPhony() || len(edge.Inputs()) == 0 {
			continue
		}
		if len(args) != 0 {
			found := false
			for _, arg := range args {
				if edge.Rule().Name() == arg {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if !first {
			fmt.Printf(",")
		}
		fmt.Printf("\n  {\n    \"directory\": \"%s\",\n    \"command\": \"%s\",\n    \"file\": \"%s\",\n    \"output\": \"%s\"\n  }",
			EncodeJSONString(cwd),
			EncodeJSONString(edge.EvaluateCommand(false)),
			EncodeJSONString(edge.Inputs()[0].Path()),
			EncodeJSONString(edge.Outputs()[0].Path()))
		first = false
	}

	fmt.Printf("\n]\n")
	return 0
}

func toolClean(n *NinjaMain, options *Options, args []string) int {
	generator := false
	cleanRules := false
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-g":
			generator = true
		case "-r":
			cleanRules = true
		default:
			Error("unknown clean option %s", args[0])
			fmt.Fprintf(os.Stderr,
				"usage: ninja -t clean [options] [targets]\n\noptions:\n"+
					"  -g     also clean files mentioned in generator rules\n"+
					"  -r     interpret targets as a list of rules to clean instead\n")
			return 1
		}
		args = args[1:]
	}

	if cleanRules && len(args) == 0 {
		Error("expected a rule to clean")
		return 1
	}

	cleaner := NewCleaner(n.state, n.config, n.diskInterface)
	if len(args) >= 1 {
		if cleanRules {
			rules := make([]*Rule, 0, len(args))
			for _, arg := range args {
				rule := n.state.Bindings().LookupRule(arg)
				if rule == nil {
					Error("unknown rule '%s'", arg)
					return 1
				}
				rules = append(rules, rule)
			}
			return cleaner.CleanRules(rules)
		}
		targets := make([]*Node, 0, len(args))
		for _, arg := range args {
			node, err := n.CollectTarget(arg)
			if err != nil {
				Error("%s", err)
				return 1
			}
			targets = append(targets, node)
		}
		return cleaner.CleanTargets(targets)
	}
	return cleaner.CleanAll(generator)
}

func toolRecompact(n *NinjaMain, options *Options, args []string) int {
	if !n.EnsureBuildDirExists() {
		return 1
	}

	if !n.OpenBuildLog(true /*recompactOnly*/) ||
		!n.OpenDepsLog(true /*recompactOnly*/) {
		return 1
	}

	return 0
}

func toolRestat(n *NinjaMain, options *Options, args []string) int {
	if !n.EnsureBuildDirExists() {
		return 1
	}

	logPath := ".ninja_log"
	if n.buildDir != "" {
		logPath = n.buildDir + "/" + logPath
	}

	status, err := n.buildLog.Load(logPath)
	if status == LoadError {
		n.status.Error("loading build log %s: %s", logPath, err)
		return 1
	}
	if status == LoadNotFound {
		// Nothing to restat, ignore this
		return 0
	}
	if err != nil {
		// Best effort.
		n.status.Warning("%s", err)
	}

	if err := n.buildLog.Restat(logPath, n.diskInterface, args); err != nil {
		n.status.Error("failed recompaction: %s", err)
		return 1
	}

	return 0
}

func toolBrowse(n *NinjaMain, options *Options, args []string) int {
	port := 8000
	initialTarget := ""
	for len(args) > 0 {
		if args[0] == "-p" && len(args) > 1 {
			port, _ = strconv.Atoi(args[1])
			args = args[2:]
			continue
		}
		initialTarget = args[0]
		args = args[1:]
	}
	if initialTarget == "" {
		defaults, err := n.state.DefaultNodes()
		if err != nil || len(defaults) == 0 {
			Error("no targets to browse")
			return 1
		}
		initialTarget = defaults[0].Path()
	}
	if err := RunBrowse(n.state, initialTarget, port); err != nil {
		Error("%s", err)
		return 1
	}
	return 0
}

func toolUrtle(n *NinjaMain, options *Options, args []string) int {
	// RLE encoded.
	const urtle = " 13 ,3;2!2;\n8 ,;<11!;\n5 `'<10!(2`'2!\n11 ,6;, `\\. `\\9 .,c13$ec,.\n6 " +
		",2;11!>; `. ,;!2> .e8$2\".2 \"?7$e.\n <:<8!'` 2.3,.2` ,3!' ;,(?7\";2!2'<" +
		"; `?6$PF ,;,\n2 `'4!8;<!3'`2 3! ;,`'2`2'3!;4!`2.`!;2 3,2 .<!2'`).\n5 3`5" +
		"'2`9 `!2 `4!><3;5! J2$b,`!>;2!:2!`,d?b`!>\n26 `'-;,(<9!> $F3 )3.:!.2 d\"" +
		"2 ) !>\n30 7`2'<3!- \"=-='5 .2 `2-=\",!>\n25 3`)3!:2`. `\\\n7 3a-(2'[];2!a" +
		"b!2 `) `4!;2`'?\n28 2_'^!, `\\3f-;2 `)`*\n28 2` =;2!c2 `)`!\n14 3 of the" +
		" `.?6\\\n"
	count := 0
	for i := 0; i < len(urtle); i++ {
		c := urtle[i]
		if '0' <= c && c <= '9' {
			count = count*10 + int(c-'0')
		} else {
			for j := 0; j < max(count, 1); j++ {
				fmt.Printf("%c", c)
			}
			count = 0
		}
	}
	return 0
}

var tools = []*Tool{
	{"browse", "browse dependency graph in a web browser", RunAfterLoad, toolBrowse},
	{"clean", "clean built files", RunAfterLoad, toolClean},
	{"commands", "list all commands required to rebuild given targets", RunAfterLoad, toolCommands},
	{"compdb", "dump JSON compilation database to stdout", RunAfterLoad, toolCompilationDatabase},
	{"deps", "show dependencies stored in the deps log", RunAfterLogs, toolDeps},
	{"graph", "output graphviz dot file for targets", RunAfterLoad, toolGraph},
	{"query", "show inputs/outputs for a path", RunAfterLogs, toolQuery},
	{"recompact", "recompacts ninja-internal data structures", RunAfterLoad, toolRecompact},
	{"restat", "restats all outputs in the build log", RunAfterFlags, toolRestat},
	{"rules", "list all rules", RunAfterLoad, toolRules},
	{"targets", "list targets by their rule or depth in the DAG", RunAfterLoad, toolTargets},
	{"urtle", "", RunAfterFlags, toolUrtle},
}

// ChooseTool returns the tool to run.  On "list" it prints the tools and
// returns nil; an unknown name is fatal.
func ChooseTool(toolName string) *Tool {
	if toolName == "list" {
		fmt.Printf("ninja subtools:\n")
		for _, tool := range tools {
			if tool.Desc != "" {
				fmt.Printf("%11s  %s\n", tool.Name, tool.Desc)
			}
		}
		return nil
	}

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == toolName {
			return tool
		}
		names = append(names, tool.Name)
	}

	if suggestion := SpellcheckString(toolName, names...); suggestion != "" {
		Fatal("unknown tool '%s', did you mean '%s'?", toolName, suggestion)
	} else {
		Fatal("unknown tool '%s'", toolName)
	}
	return nil // not reached
}

// DebugEnable enables a debugging mode from -d; returns false on bad
// name.
func DebugEnable(name string, flags *DebugFlags) bool {
	switch name {
	case "list":
		fmt.Printf("debugging modes:\n" +
			"  stats        print operation counts/timing info\n" +
			"  explain      explain what caused a command to execute\n" +
			"  keepdepfile  don't delete depfiles after they're read by ninja\n" +
			"  keeprsp      don't delete @response files on success\n" +
			"  nostatcache  don't batch stat() calls per directory and cache them\n" +
			"multiple modes can be enabled via -d FOO -d BAR\n")
		return false
	case "stats":
		flags.Stats = true
		GlobalMetrics = NewMetrics(nil)
		return true
	case "explain":
		flags.Explain = true
		return true
	case "keepdepfile":
		flags.KeepDepfile = true
		return true
	case "keeprsp":
		flags.KeepRsp = true
		return true
	case "nostatcache":
		flags.ExperimentalStatcache = false
		return true
	}

	suggestion := SpellcheckString(name,
		"stats", "explain", "keepdepfile", "keeprsp", "nostatcache")
	if suggestion != "" {
		Error("unknown debug setting '%s', did you mean '%s'?", name, suggestion)
	} else {
		Error("unknown debug setting '%s'", name)
	}
	return false
}

// WarningEnable sets a warning flag from -w; returns false on bad name.
func WarningEnable(name string, options *Options) bool {
	switch name {
	case "list":
		fmt.Printf("warning flags:\n" +
			"  dupbuild={err,warn}  multiple build lines for one target\n" +
			"  phonycycle={err,warn}  phony build statement references itself\n")
		return false
	case "dupbuild=err":
		options.DupeEdgesShouldErr = true
		return true
	case "dupbuild=warn":
		options.DupeEdgesShouldErr = false
		return true
	case "phonycycle=err":
		options.PhonyCycleShouldErr = true
		return true
	case "phonycycle=warn":
		options.PhonyCycleShouldErr = false
		return true
	}

	suggestion := SpellcheckString(name,
		"dupbuild=err", "dupbuild=warn", "phonycycle=err", "phonycycle=warn")
	if suggestion != "" {
		Error("unknown warning flag '%s', did you mean '%s'?", name, suggestion)
	} else {
		Error("unknown warning flag '%s'", name)
	}
	return false
}

// Usage prints usage information.
func Usage(config *BuildConfig) {
	fmt.Fprintf(os.Stderr,
		"usage: ninja [options] [targets...]\n"+
			"\n"+
			"if targets are unspecified, builds the 'default' target (see manual).\n"+
			"\n"+
			"options:\n"+
			"  -V       print ninja version (\"%s\")\n"+
			"  -v       show all command lines while building\n"+
			"\n"+
			"  -C DIR   change to DIR before doing anything else\n"+
			"  -f FILE  specify input build file [default=build.ninja]\n"+
			"\n"+
			"  -j N     run N jobs in parallel (0 means infinity) [default=%d on this system]\n"+
			"  -k N     keep going until N jobs fail (0 means infinity) [default=1]\n"+
			"  -l N     do not start new jobs if the load average is greater than N\n"+
			"  -n       dry run (don't run commands but act like they succeeded)\n"+
			"\n"+
			"  -d MODE  enable debugging (use '-d list' to list modes)\n"+
			"  -t TOOL  run a subtool (use '-t list' to list subtools)\n"+
			"    terminates toplevel options; further flags are passed to the tool\n"+
			"  -w FLAG  adjust warnings (use '-w list' to list warnings)\n",
		NinjaVersion, config.Parallelism)
}

// ReadFlags parses the command line into options and config.  Returns -1
// when the caller should continue, or an exit code to return
// immediately.
func ReadFlags(args *[]string, options *Options, config *BuildConfig) int {
	// Duplicate edges are an error unless -w dupbuild=warn says otherwise.
	options.DupeEdgesShouldErr = true
	config.Parallelism = GuessParallelism()

	opts, optind, err := getopt.Getopts(*args, "d:f:j:k:l:nt:vw:C:hV")
	if err != nil {
		Error("%s", err)
		return 1
	}
	*args = (*args)[optind:]

	for _, opt := range opts {
		switch opt.Option {
		case 'd':
			if !DebugEnable(opt.Value, config.Debug) {
				return 1
			}
		case 'f':
			options.InputFile = opt.Value
		case 'j':
			value, err := strconv.Atoi(opt.Value)
			if err != nil || value < 0 {
				Fatal("invalid -j parameter")
			}
			// We want to run N jobs in parallel.  For N = 0, MaxInt is
			// close enough to infinite for most sane builds.
			if value > 0 {
				config.Parallelism = value
			} else {
				config.Parallelism = math.MaxInt
			}
		case 'k':
			value, err := strconv.Atoi(opt.Value)
			if err != nil {
				Fatal("-k parameter not numeric; did you mean -k 0?")
			}
			// We want to go until N jobs fail, which means we should
			// allow N failures and then stop.  For N <= 0, MaxInt is
			// close enough to infinite for most sane builds.
			if value > 0 {
				config.FailuresAllowed = value
			} else {
				config.FailuresAllowed = math.MaxInt
			}
		case 'l':
			value, err := strconv.ParseFloat(opt.Value, 64)
			if err != nil {
				Fatal("-l parameter not numeric: did you mean -l 0.0?")
			}
			config.MaxLoadAverage = value
		case 'n':
			config.DryRun = true
		case 't':
			options.Tool = ChooseTool(opt.Value)
			if options.Tool == nil {
				return 0
			}
		case 'v':
			config.Verbosity = VerbosityVerbose
		case 'w':
			if !WarningEnable(opt.Value, options) {
				return 1
			}
		case 'C':
			options.WorkingDir = opt.Value
		case 'V':
			fmt.Printf("%s\n", NinjaVersion)
			return 0
		default: // 'h'
			Usage(config)
			return 1
		}
	}

	return -1
}

// rebuildCycleLimit guards against a manifest that keeps regenerating
// itself forever (e.g. when the system time is wrong).
const rebuildCycleLimit = 100

// RealMain is the program entry point; it returns the process exit code.
func RealMain(args []string) int {
	config := NewBuildConfig()
	options := Options{InputFile: "build.ninja"}

	startTimeMillis := GetTimeMillis()
	ninjaCommand := args0(args)

	exitCode := ReadFlags(&args, &options, config)
	if exitCode >= 0 {
		return exitCode
	}

	status := NewStatusPrinter(config)

	if options.WorkingDir != "" {
		// The formatting of this string, complete with funny quotes, is
		// so Emacs can match it against the output of `make -C`.
		if options.Tool == nil && config.Verbosity != VerbosityNoStatusUpdate {
			status.Info("Entering directory `%s'", options.WorkingDir)
		}
		if err := os.Chdir(options.WorkingDir); err != nil {
			Fatal("chdir to '%s' - %s", options.WorkingDir, err)
		}
	}

	if options.Tool != nil && options.Tool.When == RunAfterFlags {
		// None of the RunAfterFlags tools read the manifest, so we can
		// run them before loading anything.
		n := NewNinjaMain(ninjaCommand, config, status, startTimeMillis)
		return options.Tool.Func(n, &options, args)
	}

	// The build can take up to 2 passes: one to rebuild the manifest,
	// then another to build the desired target.
	for cycle := 0; cycle < rebuildCycleLimit; cycle++ {
		n := NewNinjaMain(ninjaCommand, config, status, startTimeMillis)

		parserOpts := ManifestParserOptions{}
		if options.DupeEdgesShouldErr {
			parserOpts.DupeEdgeAction = DupeEdgeActionError
		}
		if options.PhonyCycleShouldErr {
			parserOpts.PhonyCycleAction = PhonyCycleActionError
		}
		parser := NewManifestParser(n.state, n.diskInterface, parserOpts)
		if err := parser.Load(options.InputFile, nil); err != nil {
			status.Error("%s", err)
			return 1
		}

		if options.Tool != nil && options.Tool.When == RunAfterLoad {
			return options.Tool.Func(n, &options, args)
		}

		if !n.EnsureBuildDirExists() {
			return 1
		}

		if !n.OpenBuildLog(false) || !n.OpenDepsLog(false) {
			return 1
		}

		if options.Tool != nil && options.Tool.When == RunAfterLogs {
			return options.Tool.Func(n, &options, args)
		}

		// Attempt to rebuild the manifest before building anything else.
		if rebuilt, err := n.RebuildManifest(options.InputFile); rebuilt {
			// In dryRun mode the regeneration will succeed without
			// changing the manifest forever.  Better to return
			// immediately.
			if config.DryRun {
				return 0
			}
			// Start the build over with the new manifest.
			continue
		} else if err != nil {
			status.Error("rebuilding '%s': %s", options.InputFile, err)
			return 1
		}

		result := n.RunBuild(args)
		if GlobalMetrics != nil {
			GlobalMetrics.Report()
		}
		return result
	}

	status.Error("manifest '%s' still dirty after %d tries, perhaps system time is not set",
		options.InputFile, rebuildCycleLimit)
	return 1
}

func args0(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "ninja"
}
