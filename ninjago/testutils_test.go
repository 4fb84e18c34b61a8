package ninjago

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// A base test fixture that includes a State object with a few
// builtin rules.
func newStateWithBuiltinRules(t *testing.T) *State {
	t.Helper()
	state := NewState()
	addCatRule(t, state)
	return state
}

// addCatRule adds a "cat" rule to the state.  Used by some tests; it's
// here because it's used by multiple tests.
func addCatRule(t *testing.T, state *State) {
	t.Helper()
	assertParse(t, state, "rule cat\n  command = cat $in > $out\n")
}

// assertParse parses input into the state, failing the test on error.
func assertParse(t *testing.T, state *State, input string) {
	t.Helper()
	parser := NewManifestParser(state, nil, ManifestParserOptions{})
	err := parser.Parse("input", []byte(input))
	require.NoError(t, err)
	verifyGraph(t, state)
}

// assertParseWithOptions is assertParse with explicit parser options.
func assertParseWithOptions(t *testing.T, state *State, input string, options ManifestParserOptions) error {
	t.Helper()
	parser := NewManifestParser(state, nil, options)
	return parser.Parse("input", []byte(input))
}

// verifyGraph checks the node/edge cross-reference invariants.
func verifyGraph(t *testing.T, state *State) {
	t.Helper()
	for _, edge := range state.Edges() {
		require.NotEmpty(t, edge.Outputs(), "all edges need at least one output")
		for _, in := range edge.Inputs() {
			found := false
			for _, oe := range in.OutEdges() {
				if oe == edge {
					found = true
				}
			}
			require.True(t, found, "each edge's inputs must have the edge as out-edge")
		}
		for _, out := range edge.Outputs() {
			require.Equal(t, edge, out.InEdge(), "each edge's output must have the edge as in-edge")
		}
	}

	// The union of all in- and out-edges of each nodes should be exactly
	// the edge list of the state.
	nodeEdges := make(map[*Edge]bool)
	for _, node := range state.Paths() {
		if node.InEdge() != nil {
			nodeEdges[node.InEdge()] = true
		}
		for _, oe := range node.OutEdges() {
			nodeEdges[oe] = true
		}
	}
	require.LessOrEqual(t, len(nodeEdges), len(state.Edges()))
}

type vfsEntry struct {
	mtime     TimeStamp
	statError error
	contents  string
}

// VirtualFileSystem is an implementation of DiskInterface that uses an
// in-memory representation of disk state.  It also logs file accesses
// and directory creations, and provides a simple scheme for timestamps.
type VirtualFileSystem struct {
	directoriesMade []string
	filesRead       []string
	files           map[string]*vfsEntry
	filesRemoved    map[string]bool
	filesCreated    map[string]bool

	// A simple fake timestamp for file operations.
	now TimeStamp
}

func NewVirtualFileSystem() *VirtualFileSystem {
	return &VirtualFileSystem{
		files:        make(map[string]*vfsEntry),
		filesRemoved: make(map[string]bool),
		filesCreated: make(map[string]bool),
		now:          1,
	}
}

// Tick advances the current time and returns it.
func (fs *VirtualFileSystem) Tick() TimeStamp {
	fs.now++
	return fs.now
}

// Create a file with a specific mtime in the file system.
func (fs *VirtualFileSystem) Create(path, contents string) {
	fs.files[path] = &vfsEntry{mtime: fs.now, contents: contents}
	fs.filesCreated[path] = true
}

func (fs *VirtualFileSystem) Stat(path string) (TimeStamp, error) {
	if entry, ok := fs.files[path]; ok {
		if entry.statError != nil {
			return -1, entry.statError
		}
		return entry.mtime, nil
	}
	return 0, nil
}

func (fs *VirtualFileSystem) WriteFile(path, contents string) error {
	fs.Create(path, contents)
	return nil
}

func (fs *VirtualFileSystem) MakeDir(path string) error {
	fs.directoriesMade = append(fs.directoriesMade, path)
	return nil // success
}

func (fs *VirtualFileSystem) MakeDirs(path string) error {
	return makeDirs(fs, path)
}

func (fs *VirtualFileSystem) ReadFile(path string) ([]byte, DiskStatus, error) {
	fs.filesRead = append(fs.filesRead, path)
	if entry, ok := fs.files[path]; ok {
		return []byte(entry.contents), DiskOkay, nil
	}
	return nil, DiskNotFound, fmt.Errorf("%s: no such file", path)
}

func (fs *VirtualFileSystem) RemoveFile(path string) (bool, error) {
	if _, ok := fs.files[path]; ok {
		delete(fs.files, path)
		fs.filesRemoved[path] = true
		return true, nil
	}
	return false, nil
}

// FakeStatus records plan callbacks but prints nothing.
type FakeStatus struct {
	totalEdges int
}

func (s *FakeStatus) EdgeAddedToPlan(edge *Edge)                         { s.totalEdges++ }
func (s *FakeStatus) EdgeRemovedFromPlan(edge *Edge)                     { s.totalEdges-- }
func (s *FakeStatus) BuildEdgeStarted(edge *Edge, startTimeMillis int64) {}
func (s *FakeStatus) BuildEdgeFinished(edge *Edge, startTimeMillis, endTimeMillis int64, success bool, output string) {
}
func (s *FakeStatus) BuildStarted()                              {}
func (s *FakeStatus) BuildFinished()                             {}
func (s *FakeStatus) SetExplanations(*Explanations)              {}
func (s *FakeStatus) Info(format string, args ...interface{})    {}
func (s *FakeStatus) Warning(format string, args ...interface{}) {}
func (s *FakeStatus) Error(format string, args ...interface{})   {}

// FakeCommandRunner is a CommandRunner that reports all edges as
// completing immediately, while interpreting a few rule names
// ("cat", "touch", "fail", ...) against the virtual file system.
type FakeCommandRunner struct {
	fs *VirtualFileSystem

	commandsRan []string
	activeEdges []*Edge

	maxActiveEdges int

	// Observed peak of concurrently active edges, for parallelism tests.
	peakActiveEdges int
}

func NewFakeCommandRunner(fs *VirtualFileSystem) *FakeCommandRunner {
	return &FakeCommandRunner{fs: fs, maxActiveEdges: 1}
}

func (f *FakeCommandRunner) CanRunMore() int {
	return f.maxActiveEdges - len(f.activeEdges)
}

func (f *FakeCommandRunner) StartCommand(edge *Edge) bool {
	if len(f.activeEdges) >= f.maxActiveEdges {
		panic("too many active edges")
	}
	f.commandsRan = append(f.commandsRan, edge.EvaluateCommand(false))
	f.activeEdges = append(f.activeEdges, edge)
	if len(f.activeEdges) > f.peakActiveEdges {
		f.peakActiveEdges = len(f.activeEdges)
	}

	// Allow tests to control the order by which edges are started.
	return true
}

func (f *FakeCommandRunner) WaitForCommand(result *Result) bool {
	if len(f.activeEdges) == 0 {
		return false
	}

	// All active edges were treated as duration 0, hence they are in
	// first-come first-serve order.
	edge := f.activeEdges[0]
	result.Edge = edge

	switch edge.Rule().Name() {
	case "fail":
		result.Status = ExitFailure
	case "interrupt":
		result.Status = ExitInterrupted
	case "cat", "cat_rsp", "cc", "pcat", "touch", "touch-implicit", "touch-out-implicit", "generator", "console", "restat":
		// Touch all the edge's declared outputs.
		for _, out := range edge.Outputs() {
			if edge.Rule().Name() == "restat" && f.fs.files[out.Path()] != nil {
				// Leave the output untouched: same mtime as before.
				continue
			}
			f.fs.Create(out.Path(), "")
		}
		result.Status = ExitSuccess
	default:
		fmt.Printf("unknown command\n")
		return false
	}

	f.activeEdges = f.activeEdges[1:]
	result.Output = ""
	return true
}

func (f *FakeCommandRunner) GetActiveEdges() []*Edge {
	return append([]*Edge{}, f.activeEdges...)
}

func (f *FakeCommandRunner) Abort() {
	f.activeEdges = nil
}

// buildTestFixture bundles the fixtures the builder tests need.
type buildTestFixture struct {
	state         *State
	fs            *VirtualFileSystem
	config        *BuildConfig
	commandRunner *FakeCommandRunner
	status        *FakeStatus
	builder       *Builder
}

func newBuildTestFixture(t *testing.T, manifest string) *buildTestFixture {
	t.Helper()
	f := &buildTestFixture{
		state:  newStateWithBuiltinRules(t),
		fs:     NewVirtualFileSystem(),
		config: NewBuildConfig(),
		status: &FakeStatus{},
	}
	f.config.Verbosity = VerbosityQuiet
	f.commandRunner = NewFakeCommandRunner(f.fs)
	if manifest != "" {
		assertParse(t, f.state, manifest)
	}
	f.builder = NewBuilder(f.state, f.config, nil, nil, f.fs, f.status, 0)
	f.builder.commandRunner = f.commandRunner
	return f
}

// newBuilder makes a fresh builder over the same state/fs,
// simulating a second run of ninja.
func (f *buildTestFixture) newBuilder(buildLog *BuildLog, depsLog *DepsLog) *Builder {
	f.state.Reset()
	f.builder = NewBuilder(f.state, f.config, buildLog, depsLog, f.fs, f.status, 0)
	f.builder.commandRunner = f.commandRunner
	return f.builder
}

func splitLines(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '\n' })
}
