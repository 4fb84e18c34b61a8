package ninjago

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestNinjaMain(t *testing.T, manifest string) *NinjaMain {
	t.Helper()
	config := NewBuildConfig()
	config.Verbosity = VerbosityQuiet
	n := NewNinjaMain("ninja", config, &FakeStatus{}, 0)
	parser := NewManifestParser(n.state, nil, ManifestParserOptions{})
	require.NoError(t, parser.Parse("input", []byte(manifest)))
	return n
}

func TestCollectTarget(t *testing.T) {
	n := newTestNinjaMain(t, "build out: phony in\n")

	node, err := n.CollectTarget("out")
	require.NoError(t, err)
	require.Equal(t, "out", node.Path())

	// Paths are canonicalised before lookup.
	node, err = n.CollectTarget("./out")
	require.NoError(t, err)
	require.Equal(t, "out", node.Path())
}

func TestCollectTargetUnknownSuggests(t *testing.T) {
	n := newTestNinjaMain(t, "build output: phony in\n")

	_, err := n.CollectTarget("outptu")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown target 'outptu'")
	require.Contains(t, err.Error(), "did you mean 'output'?")

	_, err = n.CollectTarget("clean")
	require.Error(t, err)
	require.Contains(t, err.Error(), "did you mean 'ninja -t clean'?")
}

func TestCollectTargetFirstDependent(t *testing.T) {
	n := newTestNinjaMain(t,
		"rule cc\n"+
			"  command = cc $in\n"+
			"build foo.o: cc foo.c\n")

	node, err := n.CollectTarget("foo.c^")
	require.NoError(t, err)
	require.Equal(t, "foo.o", node.Path())
}

func TestCollectTargetsFromArgsDefaults(t *testing.T) {
	n := newTestNinjaMain(t,
		"build out1: phony in\n"+
			"build out2: phony in\n"+
			"default out2\n")

	targets, err := n.CollectTargetsFromArgs(nil)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "out2", targets[0].Path())
}

func TestDebugEnable(t *testing.T) {
	flags := &DebugFlags{}
	require.True(t, DebugEnable("explain", flags))
	require.True(t, flags.Explain)
	require.True(t, DebugEnable("keeprsp", flags))
	require.True(t, flags.KeepRsp)
	require.False(t, DebugEnable("no-such-mode", flags))
}

func TestWarningEnable(t *testing.T) {
	options := &Options{}
	require.True(t, WarningEnable("dupbuild=err", options))
	require.True(t, options.DupeEdgesShouldErr)
	require.True(t, WarningEnable("dupbuild=warn", options))
	require.False(t, options.DupeEdgesShouldErr)
	require.True(t, WarningEnable("phonycycle=err", options))
	require.True(t, options.PhonyCycleShouldErr)
	require.False(t, WarningEnable("dupbuildx=warn", options))
}

func TestIsPathDead(t *testing.T) {
	n := newTestNinjaMain(t, "build out: phony in\n")

	// "out" is produced by an edge: alive.
	require.False(t, n.IsPathDead("out"))
	// An unknown path that is not on disk: dead.
	require.True(t, n.IsPathDead("long-gone-output"))
}
