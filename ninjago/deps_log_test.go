package ninjago

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDepsLogWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ninja_deps")

	state1 := NewState()
	log1 := NewDepsLog()
	require.NoError(t, log1.OpenForWrite(path))

	{
		var deps []*Node
		deps = append(deps, state1.GetNode("foo.h", 0))
		deps = append(deps, state1.GetNode("bar.h", 0))
		require.NoError(t, log1.RecordDeps(state1.GetNode("out.o", 0), 1, deps))

		deps = nil
		deps = append(deps, state1.GetNode("foo.h", 0))
		deps = append(deps, state1.GetNode("bar2.h", 0))
		require.NoError(t, log1.RecordDeps(state1.GetNode("out2.o", 0), 2, deps))
	}

	log1.Close()

	state2 := NewState()
	log2 := NewDepsLog()
	status, warn, err := log2.Load(path, state2)
	require.NoError(t, err)
	require.Empty(t, warn)
	require.Equal(t, LoadSuccess, status)

	// Node ids are dense and were replayed in order.
	require.Len(t, log2.Nodes(), len(log1.Nodes()))
	for i, node := range log1.Nodes() {
		require.Equal(t, i, node.ID())
		require.Equal(t, node.Path(), log2.Nodes()[i].Path())
	}

	// Spot-check the entries.
	deps := log2.GetDeps(state2.GetNode("out.o", 0))
	require.NotNil(t, deps)
	require.Equal(t, TimeStamp(1), deps.MTime)
	require.Equal(t, "foo.h", deps.Nodes[0].Path())
	require.Equal(t, "bar.h", deps.Nodes[1].Path())
}

func TestDepsLogLatestRecordWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ninja_deps")

	state := NewState()
	log := NewDepsLog()
	require.NoError(t, log.OpenForWrite(path))

	out := state.GetNode("out.o", 0)
	require.NoError(t, log.RecordDeps(out, 1, []*Node{state.GetNode("a.h", 0)}))
	require.NoError(t, log.RecordDeps(out, 2, []*Node{state.GetNode("b.h", 0)}))
	log.Close()

	state2 := NewState()
	log2 := NewDepsLog()
	_, _, err := log2.Load(path, state2)
	require.NoError(t, err)

	deps := log2.GetDeps(state2.GetNode("out.o", 0))
	require.NotNil(t, deps)
	require.Equal(t, TimeStamp(2), deps.MTime)
	require.Len(t, deps.Nodes, 1)
	require.Equal(t, "b.h", deps.Nodes[0].Path())
}

func TestDepsLogIdenticalRecordNotRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ninja_deps")

	state := NewState()
	log := NewDepsLog()
	require.NoError(t, log.OpenForWrite(path))
	require.NoError(t, log.RecordDeps(state.GetNode("out.o", 0), 1,
		[]*Node{state.GetNode("a.h", 0)}))
	log.Close()

	info1, err := os.Stat(path)
	require.NoError(t, err)

	// Re-record identical deps: nothing should be appended.
	log2 := NewDepsLog()
	state2 := NewState()
	_, _, err = log2.Load(path, state2)
	require.NoError(t, err)
	require.NoError(t, log2.OpenForWrite(path))
	require.NoError(t, log2.RecordDeps(state2.GetNode("out.o", 0), 1,
		[]*Node{state2.GetNode("a.h", 0)}))
	log2.Close()

	info2, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, info1.Size(), info2.Size())
}

func TestDepsLogTruncatedRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ninja_deps")

	state := NewState()
	log := NewDepsLog()
	require.NoError(t, log.OpenForWrite(path))
	require.NoError(t, log.RecordDeps(state.GetNode("out.o", 0), 1,
		[]*Node{state.GetNode("a.h", 0), state.GetNode("b.h", 0)}))
	log.Close()

	// Tear the final record.
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, contents[:len(contents)-2], 0666))

	state2 := NewState()
	log2 := NewDepsLog()
	status, warn, err := log2.Load(path, state2)
	require.NoError(t, err)
	require.Equal(t, LoadSuccess, status)
	require.Contains(t, warn, "premature end of file")

	// The deps record was dropped, but the path records survived.
	require.Nil(t, log2.GetDeps(state2.GetNode("out.o", 0)))
	require.Len(t, log2.Nodes(), 3)

	// The file was truncated back to the last good record, so a reload
	// is clean.
	state3 := NewState()
	log3 := NewDepsLog()
	_, warn, err = log3.Load(path, state3)
	require.NoError(t, err)
	require.Empty(t, warn)
}

func TestDepsLogBadSignatureStartsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ninja_deps")
	require.NoError(t, os.WriteFile(path, []byte("garbage garbage garbage"), 0666))

	state := NewState()
	log := NewDepsLog()
	status, warn, err := log.Load(path, state)
	require.NoError(t, err)
	require.Equal(t, LoadSuccess, status)
	require.Contains(t, warn, "bad deps log signature")

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestDepsLogPathRecordChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ninja_deps")

	state := NewState()
	log := NewDepsLog()
	require.NoError(t, log.OpenForWrite(path))
	require.NoError(t, log.RecordDeps(state.GetNode("out.o", 0), 1,
		[]*Node{state.GetNode("a.h", 0)}))
	log.Close()

	// Corrupt the checksum of the first path record; replay must stop
	// there and salvage nothing.
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	headerLen := len(depsLogFileSignature) + 4
	recordSize := int(binary.LittleEndian.Uint32(contents[headerLen:]))
	checksumOffset := headerLen + 4 + recordSize - 4
	contents[checksumOffset] ^= 0xff
	require.NoError(t, os.WriteFile(path, contents, 0666))

	state2 := NewState()
	log2 := NewDepsLog()
	status, warn, err := log2.Load(path, state2)
	require.NoError(t, err)
	require.Equal(t, LoadSuccess, status)
	require.Contains(t, warn, "premature end of file")
	require.Empty(t, log2.Nodes())
}

func TestDepsLogRecompact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_deps")

	// A state in which "live.o" is built by an edge with deps, and
	// "dead.o" is not part of the build any more.
	state := newStateWithBuiltinRules(t)
	assertParse(t, state,
		"rule cc\n"+
			"  command = cc $in\n"+
			"  deps = gcc\n"+
			"  depfile = $out.d\n"+
			"build live.o: cc live.c\n")

	log := NewDepsLog()
	require.NoError(t, log.OpenForWrite(path))
	require.NoError(t, log.RecordDeps(state.GetNode("live.o", 0), 1,
		[]*Node{state.GetNode("live.h", 0)}))
	require.NoError(t, log.RecordDeps(state.GetNode("dead.o", 0), 1,
		[]*Node{state.GetNode("dead.h", 0)}))
	// Churn the live entry so there is something to compact away.
	require.NoError(t, log.RecordDeps(state.GetNode("live.o", 0), 2,
		[]*Node{state.GetNode("live.h", 0)}))
	log.Close()

	sizeBefore, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, log.Recompact(path))

	// Only the live entry remains, with a densely reassigned id.
	require.NotNil(t, log.GetDeps(state.GetNode("live.o", 0)))
	require.Nil(t, log.GetDeps(state.GetNode("dead.o", 0)))
	require.Equal(t, 0, state.GetNode("live.o", 0).ID())

	sizeAfter, err := os.Stat(path)
	require.NoError(t, err)
	require.Less(t, sizeAfter.Size(), sizeBefore.Size())

	// The recompacted log replays cleanly.
	state2 := NewState()
	log2 := NewDepsLog()
	_, warn, err := log2.Load(path, state2)
	require.NoError(t, err)
	require.Empty(t, warn)
	deps := log2.GetDeps(state2.GetNode("live.o", 0))
	require.NotNil(t, deps)
	require.Equal(t, TimeStamp(2), deps.MTime)
}
