package ninjago

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanBasic(t *testing.T) {
	state := newStateWithBuiltinRules(t)
	assertParse(t, state,
		"build out: cat mid\n"+
			"build mid: cat in\n")
	state.GetNode("mid", 0).MarkDirty()
	state.GetNode("out", 0).MarkDirty()

	plan := NewPlan(nil)
	wanted, err := plan.AddTarget(state.GetNode("out", 0))
	require.NoError(t, err)
	require.True(t, wanted)
	require.True(t, plan.MoreToDo())
	plan.PrepareQueue()

	edge := plan.FindWork()
	require.NotNil(t, edge)
	require.Equal(t, "in", edge.Inputs()[0].Path())
	require.Equal(t, "mid", edge.Outputs()[0].Path())

	require.Nil(t, plan.FindWork())

	require.NoError(t, plan.EdgeFinished(edge, EdgeSucceeded))

	edge = plan.FindWork()
	require.NotNil(t, edge)
	require.Equal(t, "mid", edge.Inputs()[0].Path())
	require.Equal(t, "out", edge.Outputs()[0].Path())

	require.NoError(t, plan.EdgeFinished(edge, EdgeSucceeded))

	require.False(t, plan.MoreToDo())
	require.Nil(t, plan.FindWork())
}

func TestPlanTargetAlreadyUpToDate(t *testing.T) {
	state := newStateWithBuiltinRules(t)
	assertParse(t, state, "build out: cat in\n")

	fs := NewVirtualFileSystem()
	fs.Create("in", "")
	fs.Tick()
	fs.Create("out", "")

	scan := NewDependencyScan(state, nil, nil, fs, &DepfileParserOptions{}, nil)
	var validations []*Node
	require.NoError(t, scan.RecomputeDirty(state.GetNode("out", 0), &validations))

	// Nothing dirty: adding the target enqueues no edges.
	plan := NewPlan(nil)
	wanted, err := plan.AddTarget(state.GetNode("out", 0))
	require.NoError(t, err)
	require.False(t, wanted)
	require.False(t, plan.MoreToDo())
}

func TestPlanMissingInputError(t *testing.T) {
	state := newStateWithBuiltinRules(t)
	assertParse(t, state, "build out: cat in\n")
	state.GetNode("out", 0).MarkDirty()
	state.GetNode("in", 0).MarkDirty() // missing, and nothing builds it

	plan := NewPlan(nil)
	_, err := plan.AddTarget(state.GetNode("out", 0))
	require.Error(t, err)
	require.Contains(t, err.Error(),
		"'in', needed by 'out', missing and no known rule to make it")
}

func TestBuildTwoStep(t *testing.T) {
	f := newBuildTestFixture(t,
		"build mid: cat in\n"+
			"build out: cat mid\n")
	f.fs.Create("in", "")

	buildLog := NewBuildLog()
	builder := f.newBuilder(buildLog, nil)
	_, err := builder.AddTargetName("out")
	require.NoError(t, err)
	require.False(t, builder.AlreadyUpToDate())

	require.NoError(t, builder.Build())

	// Both edges ran, leaves first.
	require.Equal(t, []string{"cat in > mid", "cat mid > out"}, f.commandRunner.commandsRan)

	// Both outputs exist now.
	require.True(t, f.fs.filesCreated["mid"])
	require.True(t, f.fs.filesCreated["out"])

	// One build-log entry per output, with the evaluated command's hash.
	midEntry := buildLog.LookupByOutput("mid")
	require.NotNil(t, midEntry)
	require.Equal(t, HashCommand("cat in > mid"), midEntry.CommandHash())
	outEntry := buildLog.LookupByOutput("out")
	require.NotNil(t, outEntry)
	require.Equal(t, HashCommand("cat mid > out"), outEntry.CommandHash())
}

func TestBuildNoWorkToDo(t *testing.T) {
	f := newBuildTestFixture(t, "build out: cat in\n")
	f.fs.Create("in", "")
	f.fs.Tick()
	f.fs.Create("out", "")

	builder := f.newBuilder(nil, nil)
	_, err := builder.AddTargetName("out")
	require.NoError(t, err)
	require.True(t, builder.AlreadyUpToDate())
}

func TestBuildUnknownTarget(t *testing.T) {
	f := newBuildTestFixture(t, "build out: cat in\n")
	_, err := f.builder.AddTargetName("nonexistent")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown target: 'nonexistent'")
}

func TestBuildParallelismCap(t *testing.T) {
	manifest := ""
	for _, c := range "abcdefghij" {
		manifest += "build out_" + string(c) + ": cat in\n"
		manifest += "build final_" + string(c) + ": cat out_" + string(c) + "\n"
	}
	f := newBuildTestFixture(t, manifest)
	f.fs.Create("in", "")

	f.commandRunner.maxActiveEdges = 2

	builder := f.newBuilder(nil, nil)
	for _, c := range "abcdefghij" {
		_, err := builder.AddTargetName("final_" + string(c))
		require.NoError(t, err)
	}

	require.NoError(t, builder.Build())

	require.Len(t, f.commandRunner.commandsRan, 20)
	require.LessOrEqual(t, f.commandRunner.peakActiveEdges, 2)
	require.Equal(t, 2, f.commandRunner.peakActiveEdges)
}

func TestBuildConsolePoolSerializes(t *testing.T) {
	f := newBuildTestFixture(t,
		"rule console\n"+
			"  command = console\n"+
			"  pool = console\n"+
			"build out1: console in\n"+
			"build out2: console in\n")
	f.fs.Create("in", "")

	f.commandRunner.maxActiveEdges = 2

	builder := f.newBuilder(nil, nil)
	_, err := builder.AddTargetName("out1")
	require.NoError(t, err)
	_, err = builder.AddTargetName("out2")
	require.NoError(t, err)

	require.NoError(t, builder.Build())

	// Both ran, but never together: the console pool admits one edge at
	// a time even though the runner had capacity for two.
	require.Len(t, f.commandRunner.commandsRan, 2)
	require.Equal(t, 1, f.commandRunner.peakActiveEdges)
	require.Equal(t, 0, ConsolePool.CurrentUse())
}

func TestBuildCustomPoolDepth(t *testing.T) {
	f := newBuildTestFixture(t,
		"pool two\n"+
			"  depth = 2\n"+
			"rule pcat\n"+
			"  command = cat $in > $out\n"+
			"  pool = two\n"+
			"build o1: pcat in\n"+
			"build o2: pcat in\n"+
			"build o3: pcat in\n"+
			"build o4: pcat in\n")
	f.fs.Create("in", "")

	f.commandRunner.maxActiveEdges = 4

	builder := f.newBuilder(nil, nil)
	for _, target := range []string{"o1", "o2", "o3", "o4"} {
		_, err := builder.AddTargetName(target)
		require.NoError(t, err)
	}

	require.NoError(t, builder.Build())

	require.Len(t, f.commandRunner.commandsRan, 4)
	// Pools restrict concurrency below the runner's -j capacity.
	require.LessOrEqual(t, f.commandRunner.peakActiveEdges, 2)
	require.Equal(t, 0, f.state.LookupPool("two").CurrentUse())
}

func TestBuildOneFailureStops(t *testing.T) {
	f := newBuildTestFixture(t,
		"rule fail\n"+
			"  command = fail\n"+
			"build out1: fail in\n")
	f.fs.Create("in", "")

	builder := f.newBuilder(nil, nil)
	_, err := builder.AddTargetName("out1")
	require.NoError(t, err)

	err = builder.Build()
	require.Error(t, err)
	require.Equal(t, "subcommand failed", err.Error())
	require.Len(t, f.commandRunner.commandsRan, 1)
}

func TestBuildKeepGoingRunsIndependentEdges(t *testing.T) {
	f := newBuildTestFixture(t,
		"rule fail\n"+
			"  command = fail\n"+
			"build out1: fail in\n"+
			"build out2: fail in\n")
	f.fs.Create("in", "")

	f.config.FailuresAllowed = 3 // -k 3

	builder := f.newBuilder(nil, nil)
	_, err := builder.AddTargetName("out1")
	require.NoError(t, err)
	_, err = builder.AddTargetName("out2")
	require.NoError(t, err)

	err = builder.Build()
	require.Error(t, err)
	require.Equal(t, "cannot make progress due to previous errors", err.Error())
	// Both independent edges were attempted despite the first failure.
	require.Len(t, f.commandRunner.commandsRan, 2)
}

func TestBuildInterrupted(t *testing.T) {
	f := newBuildTestFixture(t,
		"rule interrupt\n"+
			"  command = interrupt\n"+
			"build out1: interrupt in\n")
	f.fs.Create("in", "")

	builder := f.newBuilder(nil, nil)
	_, err := builder.AddTargetName("out1")
	require.NoError(t, err)

	err = builder.Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "interrupted by user")
}

func TestBuildPhonyRunsSynchronously(t *testing.T) {
	f := newBuildTestFixture(t,
		"build out: cat in\n"+
			"build alias: phony out\n")
	f.fs.Create("in", "")

	builder := f.newBuilder(nil, nil)
	_, err := builder.AddTargetName("alias")
	require.NoError(t, err)

	require.NoError(t, builder.Build())

	// Only the cat edge spawned a command; the phony edge contributed no
	// subprocess.
	require.Equal(t, []string{"cat in > out"}, f.commandRunner.commandsRan)
}

func TestBuildRestatCleansDownstream(t *testing.T) {
	f := newBuildTestFixture(t,
		"rule restat\n"+
			"  command = restat\n"+
			"  restat = 1\n"+
			"build mid: restat in\n"+
			"build out: cat mid\n")
	f.fs.Create("in", "")
	f.fs.Create("mid", "")
	f.fs.Create("out", "")

	// Seed the build log as if a previous build succeeded with the same
	// commands.
	buildLog := NewBuildLog()
	var midEdge, outEdge *Edge
	for _, edge := range f.state.Edges() {
		switch edge.Outputs()[0].Path() {
		case "mid":
			midEdge = edge
		case "out":
			outEdge = edge
		}
	}
	require.NoError(t, buildLog.RecordCommand(midEdge, 0, 0, 1))
	require.NoError(t, buildLog.RecordCommand(outEdge, 0, 0, 1))

	// Touch "in".
	f.fs.Tick()
	f.fs.Create("in", "")

	builder := f.newBuilder(buildLog, nil)
	_, err := builder.AddTargetName("out")
	require.NoError(t, err)
	require.False(t, builder.AlreadyUpToDate())

	require.NoError(t, builder.Build())

	// The restat command ran, left "mid" untouched, and "out" was
	// recomputed clean without executing: exactly one subprocess.
	require.Equal(t, []string{"restat"}, f.commandRunner.commandsRan)

	// The log entry for mid was refreshed.
	require.NotNil(t, buildLog.LookupByOutput("mid"))
	require.Equal(t, TimeStamp(1), buildLog.LookupByOutput("mid").MTime())
}

func TestBuildValidationsBuiltAlongside(t *testing.T) {
	f := newBuildTestFixture(t,
		"build out: cat in |@ check\n"+
			"build check: cat in2\n")
	f.fs.Create("in", "")
	f.fs.Create("in2", "")

	builder := f.newBuilder(nil, nil)
	_, err := builder.AddTargetName("out")
	require.NoError(t, err)

	require.NoError(t, builder.Build())

	require.Contains(t, f.commandRunner.commandsRan, "cat in > out")
	require.Contains(t, f.commandRunner.commandsRan, "cat in2 > check")
}

func TestBuildDryRun(t *testing.T) {
	f := newBuildTestFixture(t,
		"build mid: cat in\n"+
			"build out: cat mid\n")
	f.fs.Create("in", "")

	f.config.DryRun = true
	f.state.Reset()
	builder := NewBuilder(f.state, f.config, nil, nil, f.fs, f.status, 0)
	_, err := builder.AddTargetName("out")
	require.NoError(t, err)
	require.False(t, builder.AlreadyUpToDate())

	require.NoError(t, builder.Build())

	// Nothing was written by commands; the outputs are still absent.
	require.False(t, f.fs.filesCreated["mid"])
	require.False(t, f.fs.filesCreated["out"])
}

func TestBuildDiscoveredDepsWrittenToDepsLog(t *testing.T) {
	f := newBuildTestFixture(t,
		"rule cc\n"+
			"  command = cc $in\n"+
			"  deps = gcc\n"+
			"  depfile = $out.d\n"+
			"build out: cc in\n")
	f.fs.Create("in", "")
	f.fs.Create("header.h", "")
	f.fs.Create("out.d", "out: header.h\n")

	depsLog := NewDepsLog()
	builder := f.newBuilder(nil, depsLog)
	_, err := builder.AddTargetName("out")
	require.NoError(t, err)

	require.NoError(t, builder.Build())

	// The depfile was parsed and the discovered dep recorded.
	out := f.state.LookupNode("out")
	deps := depsLog.GetDeps(out)
	require.NotNil(t, deps)
	require.Len(t, deps.Nodes, 1)
	require.Equal(t, "header.h", deps.Nodes[0].Path())

	// The depfile itself was deleted after extraction.
	require.True(t, f.fs.filesRemoved["out.d"])
}
