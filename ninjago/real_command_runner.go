package ninjago

import (
	loadavg "github.com/mikoim/go-loadavg"
)

// GetLoadAverage returns the 1-minute load average, or 0 when it cannot be
// read.
func GetLoadAverage() float64 {
	la, err := loadavg.Parse()
	if err != nil {
		return -0.0
	}
	return la.LoadAverage1
}

// RealCommandRunner runs build edges as subprocesses.
type RealCommandRunner struct {
	config        *BuildConfig
	subprocs      *SubprocessSet
	subprocToEdge map[*Subprocess]*Edge
}

func NewRealCommandRunner(config *BuildConfig) *RealCommandRunner {
	return &RealCommandRunner{
		config:        config,
		subprocs:      NewSubprocessSet(),
		subprocToEdge: make(map[*Subprocess]*Edge),
	}
}

func (r *RealCommandRunner) CanRunMore() int {
	subprocNumber := r.subprocs.Running() + r.subprocs.Finished()

	capacity := float64(r.config.Parallelism - subprocNumber)

	if r.config.MaxLoadAverage > 0.0 {
		loadCapacity := r.config.MaxLoadAverage - GetLoadAverage()
		if loadCapacity < capacity {
			capacity = loadCapacity
		}
	}

	if capacity < 1 {
		capacity = 0
	}

	if capacity == 0 && r.subprocs.Running() == 0 {
		// Ensure that we make progress.
		capacity = 1
	}

	return int(capacity)
}

func (r *RealCommandRunner) StartCommand(edge *Edge) bool {
	command := edge.EvaluateCommand(false /*inclRspFile*/)
	subproc := r.subprocs.Add(command, edge.UseConsole())
	if subproc == nil {
		return false
	}
	r.subprocToEdge[subproc] = edge
	return true
}

func (r *RealCommandRunner) WaitForCommand(result *Result) bool {
	var subproc *Subprocess
	for {
		subproc = r.subprocs.NextFinished()
		if subproc != nil {
			break
		}
		if interrupted := r.subprocs.DoWork(); interrupted {
			return false
		}
	}

	result.Status = subproc.Finish()
	result.Output = subproc.GetOutput()

	result.Edge = r.subprocToEdge[subproc]
	delete(r.subprocToEdge, subproc)

	return true
}

func (r *RealCommandRunner) GetActiveEdges() []*Edge {
	var edges []*Edge
	for _, edge := range r.subprocToEdge {
		edges = append(edges, edge)
	}
	return edges
}

func (r *RealCommandRunner) Abort() {
	r.subprocs.Clear()
}
