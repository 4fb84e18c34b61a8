package ninjago

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	depsLogFileSignature  = "# ninjadeps\n"
	depsLogCurrentVersion = 4

	// Record size is currently limited to less than the full 32 bit range
	// of the size field to help catch buggy writes.
	depsLogMaxRecordSize = (1 << 19) - 1
)

// Deps is the in-memory representation of one output's discovered inputs.
type Deps struct {
	MTime TimeStamp
	Nodes []*Node
}

// DepsLog stores a deps graph discovered from previous builds, as a
// single append-only file with two record types:
//
// Path records, which specify a path with its dense node id.  An id is
// the index of the record in the log, so they are implicit in the
// ordering and not stored; a checksum of ~id detects concurrent writers.
//
// Dep records, which specify all the inputs of a given output id, along
// with the output's mtime at record time.  The latest record for an
// output id wins on replay.
type DepsLog struct {
	needsRecompaction bool
	file              *os.File
	filePath          string

	// Maps id -> Node.
	nodes []*Node
	// Maps id -> deps of that id.
	deps []*Deps
}

func NewDepsLog() *DepsLog {
	return &DepsLog{}
}

func (d *DepsLog) Nodes() []*Node { return d.nodes }
func (d *DepsLog) Deps() []*Deps  { return d.deps }

// OpenForWrite prepares the on-disk log for appending; the file itself is
// opened lazily, on the first write.
func (d *DepsLog) OpenForWrite(path string) error {
	if d.needsRecompaction {
		if err := d.Recompact(path); err != nil {
			return err
		}
	}

	if d.file != nil {
		panic("deps log already open")
	}
	d.filePath = path
	return nil
}

func (d *DepsLog) openForWriteIfNeeded() error {
	if d.file != nil || d.filePath == "" {
		return nil
	}
	f, err := os.OpenFile(d.filePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	d.file = f

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if offset == 0 {
		if _, err := f.WriteString(depsLogFileSignature); err != nil {
			return err
		}
		var version [4]byte
		binary.LittleEndian.PutUint32(version[:], depsLogCurrentVersion)
		if _, err := f.Write(version[:]); err != nil {
			return err
		}
	}
	return nil
}

// RecordDeps writes a dep record for the given output node, unless the
// log already holds identical data.
func (d *DepsLog) RecordDeps(node *Node, mtime TimeStamp, nodes []*Node) error {
	// Track whether there's any new data to be recorded.
	madeChange := false

	// Assign ids to all nodes that are missing one.
	if node.ID() < 0 {
		if err := d.recordID(node); err != nil {
			return err
		}
		madeChange = true
	}
	for _, n := range nodes {
		if n.ID() < 0 {
			if err := d.recordID(n); err != nil {
				return err
			}
			madeChange = true
		}
	}

	// See if the new data is different than the existing data, if any.
	if !madeChange {
		existing := d.GetDeps(node)
		if existing == nil || existing.MTime != mtime || len(existing.Nodes) != len(nodes) {
			madeChange = true
		} else {
			for i := range nodes {
				if existing.Nodes[i] != nodes[i] {
					madeChange = true
					break
				}
			}
		}
	}

	// Don't write anything if there's no new info.
	if !madeChange {
		return nil
	}

	// Update on-disk representation.
	size := uint32(4 * (1 + 2 + len(nodes)))
	if size > depsLogMaxRecordSize {
		return fmt.Errorf("too many dependencies")
	}
	if err := d.openForWriteIfNeeded(); err != nil {
		return err
	}
	if d.file != nil {
		buf := make([]byte, 0, 4+size)
		buf = binary.LittleEndian.AppendUint32(buf, size|0x80000000)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(node.ID()))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(uint64(mtime)&0xffffffff))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(uint64(mtime)>>32))
		for _, n := range nodes {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(n.ID()))
		}
		if _, err := d.file.Write(buf); err != nil {
			return err
		}
	}

	// Update in-memory representation.
	deps := &Deps{MTime: mtime, Nodes: append([]*Node{}, nodes...)}
	d.updateDeps(node.ID(), deps)

	return nil
}

// recordID writes a path record and assigns the node the next dense id.
func (d *DepsLog) recordID(node *Node) error {
	pathSize := len(node.Path())
	if pathSize == 0 {
		return fmt.Errorf("empty path")
	}
	padding := (4 - pathSize%4) % 4
	size := uint32(pathSize + padding + 4)
	if size > depsLogMaxRecordSize {
		return fmt.Errorf("path too long")
	}

	if err := d.openForWriteIfNeeded(); err != nil {
		return err
	}

	id := len(d.nodes)

	if d.file != nil {
		buf := make([]byte, 0, 4+size)
		buf = binary.LittleEndian.AppendUint32(buf, size)
		buf = append(buf, node.Path()...)
		for i := 0; i < padding; i++ {
			buf = append(buf, 0)
		}
		// The unary complement of the id makes the checksum look less
		// like a dependency record entry.
		buf = binary.LittleEndian.AppendUint32(buf, ^uint32(id))
		if _, err := d.file.Write(buf); err != nil {
			return err
		}
	}

	node.SetID(id)
	d.nodes = append(d.nodes, node)
	return nil
}

func (d *DepsLog) Close() {
	d.openForWriteIfNeeded() // create the file even if nothing has been recorded
	if d.file != nil {
		d.file.Close()
	}
	d.file = nil
}

// Load replays the on-disk log.  The warn result carries a non-fatal
// problem (version change, truncated file) that the caller should report
// while continuing with whatever was salvaged.
func (d *DepsLog) Load(path string, state *State) (LoadStatus, string, error) {
	defer MetricRecord(".ninja_deps load")()

	contents, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadNotFound, "", nil
		}
		return LoadError, "", err
	}

	// Validate header.
	validHeader := len(contents) >= len(depsLogFileSignature)+4 &&
		string(contents[:len(depsLogFileSignature)]) == depsLogFileSignature
	version := uint32(0)
	if validHeader {
		version = binary.LittleEndian.Uint32(contents[len(depsLogFileSignature):])
	}
	if !validHeader || version != depsLogCurrentVersion {
		os.Remove(path)
		// Don't report this as a failure.  An empty deps log will cause
		// us to rebuild the outputs anyway.
		if version == 1 {
			return LoadSuccess, "deps log version change; rebuilding", nil
		}
		return LoadSuccess, "bad deps log signature or version; starting over", nil
	}

	offset := len(depsLogFileSignature) + 4
	readFailed := false
	uniqueDepRecordCount := 0
	totalDepRecordCount := 0

	for offset < len(contents) {
		recordStart := offset
		if offset+4 > len(contents) {
			readFailed = true
			offset = recordStart
			break
		}
		size := binary.LittleEndian.Uint32(contents[offset:])
		offset += 4
		isDeps := size&0x80000000 != 0
		size &= 0x7fffffff
		if size > depsLogMaxRecordSize || offset+int(size) > len(contents) {
			readFailed = true
			offset = recordStart
			break
		}
		record := contents[offset : offset+int(size)]
		offset += int(size)

		if isDeps {
			if size%4 != 0 || size < 12 {
				readFailed = true
				offset = recordStart
				break
			}
			outID := int(int32(binary.LittleEndian.Uint32(record)))
			mtime := TimeStamp(int64(uint64(binary.LittleEndian.Uint32(record[4:])) |
				uint64(binary.LittleEndian.Uint32(record[8:]))<<32))
			if outID < 0 || outID >= len(d.nodes) {
				readFailed = true
				offset = recordStart
				break
			}
			deps := &Deps{MTime: mtime}
			ok := true
			for i := 12; i < int(size); i += 4 {
				depID := int(int32(binary.LittleEndian.Uint32(record[i:])))
				if depID < 0 || depID >= len(d.nodes) {
					ok = false
					break
				}
				deps.Nodes = append(deps.Nodes, d.nodes[depID])
			}
			if !ok {
				readFailed = true
				offset = recordStart
				break
			}

			totalDepRecordCount++
			if !d.updateDeps(outID, deps) {
				uniqueDepRecordCount++
			}
		} else {
			if size < 4 {
				readFailed = true
				offset = recordStart
				break
			}
			pathSize := int(size) - 4
			for pathSize > 0 && record[pathSize-1] == 0 {
				pathSize--
			}
			subpath := string(record[:pathSize])
			// It is not necessary to pass in a correct slash_bits here.
			// It will be overwritten by a (better) value later on.
			node := state.GetNode(subpath, 0)

			// Check that the expected index matches the actual index.
			// This can only happen if two ninja processes write to the
			// same deps log concurrently.  (This uses unary complement to
			// make the checksum look less like a dependency record entry.)
			checksum := binary.LittleEndian.Uint32(record[int(size)-4:])
			expectedID := ^checksum
			id := len(d.nodes)
			if uint32(id) != expectedID || node.ID() >= 0 {
				readFailed = true
				offset = recordStart
				break
			}

			node.SetID(id)
			d.nodes = append(d.nodes, node)
		}
	}

	if readFailed {
		// An error occurred while loading; try to recover by truncating
		// the file to the last fully-read record.
		if err := os.Truncate(path, int64(offset)); err != nil {
			return LoadError, "", err
		}
		return LoadSuccess, "premature end of file; recovering", nil
	}

	// Rebuild the log if there are too many dead records.
	const minCompactionEntryCount = 1000
	const compactionRatio = 3
	if totalDepRecordCount > minCompactionEntryCount &&
		totalDepRecordCount > uniqueDepRecordCount*compactionRatio {
		d.needsRecompaction = true
	}

	return LoadSuccess, "", nil
}

// GetDeps returns the stored deps for the node, or nil when none (or when
// the node has no id, meaning it has never touched the log).
func (d *DepsLog) GetDeps(node *Node) *Deps {
	if node.ID() < 0 || node.ID() >= len(d.deps) {
		return nil
	}
	return d.deps[node.ID()]
}

// GetFirstReverseDepsNode returns some output whose recorded deps include
// node.
func (d *DepsLog) GetFirstReverseDepsNode(node *Node) *Node {
	for id := 0; id < len(d.deps); id++ {
		deps := d.deps[id]
		if deps == nil {
			continue
		}
		for _, n := range deps.Nodes {
			if n == node {
				return d.nodes[id]
			}
		}
	}
	return nil
}

// IsDepsEntryLiveFor reports whether a deps entry for the node is still
// worth keeping at recompaction.
//
// Skip entries that don't have in-edges or whose edges don't have a
// "deps" attribute.  They were in the deps log from previous builds, but
// the files they were for were removed from the build and their deps
// entries are no longer needed.
func IsDepsEntryLiveFor(node *Node) bool {
	return node.InEdge() != nil && node.InEdge().GetBinding("deps") != ""
}

// Recompact rewrites the known log entries, throwing away old data, and
// reassigns ids densely.
func (d *DepsLog) Recompact(path string) error {
	defer MetricRecord(".ninja_deps recompact")()

	d.Close()
	tempPath := path + ".recompact"

	// OpenForWrite() opens for append.  Make sure it's not appending to a
	// stale file.
	os.Remove(tempPath)

	newLog := NewDepsLog()
	if err := newLog.OpenForWrite(tempPath); err != nil {
		return err
	}

	// Clear all known ids so that new ones can be reassigned.  The new
	// indices will refer to the ordering in newLog, not in the current
	// log.
	for _, n := range d.nodes {
		n.SetID(-1)
	}

	// Write out all deps again.
	for oldID := 0; oldID < len(d.deps); oldID++ {
		deps := d.deps[oldID]
		if deps == nil { // If nodes[oldID] is a leaf, it has no deps.
			continue
		}
		if !IsDepsEntryLiveFor(d.nodes[oldID]) {
			continue
		}
		if err := newLog.RecordDeps(d.nodes[oldID], deps.MTime, deps.Nodes); err != nil {
			newLog.Close()
			return err
		}
	}

	newLog.Close()

	// All nodes now have ids that refer to newLog, so steal its data.
	d.deps = newLog.deps
	d.nodes = newLog.nodes
	d.needsRecompaction = false

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tempPath, path)
}

func (d *DepsLog) updateDeps(outID int, deps *Deps) bool {
	for len(d.deps) <= outID {
		d.deps = append(d.deps, nil)
	}
	existed := d.deps[outID] != nil
	d.deps[outID] = deps
	return existed
}
