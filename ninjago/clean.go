package ninjago

import "fmt"

// Cleaner removes build artifacts: outputs of edges, plus their depfiles
// and response files.
type Cleaner struct {
	state         *State
	config        *BuildConfig
	dyndepLoader  *DyndepLoader
	removed       map[string]bool
	cleaned       map[*Node]bool
	cleanedFiles  int
	diskInterface DiskInterface
	status        int
}

func NewCleaner(state *State, config *BuildConfig, di DiskInterface) *Cleaner {
	return &Cleaner{
		state:         state,
		config:        config,
		dyndepLoader:  NewDyndepLoader(state, di),
		diskInterface: di,
	}
}

// Status returns 0 if the cleaning was successful.
func (c *Cleaner) Status() int { return c.status }

func (c *Cleaner) reset() {
	c.status = 0
	c.cleanedFiles = 0
	c.removed = make(map[string]bool)
	c.cleaned = make(map[*Node]bool)
}

func (c *Cleaner) isVerbose() bool {
	return c.config.Verbosity != VerbosityQuiet &&
		(c.config.Verbosity == VerbosityVerbose || c.config.DryRun)
}

func (c *Cleaner) report(path string) {
	c.cleanedFiles++
	if c.isVerbose() {
		fmt.Printf("Remove %s\n", path)
	}
}

// remove removes the given path, reporting and counting it.
func (c *Cleaner) remove(path string) {
	if c.removed[path] {
		return
	}
	c.removed[path] = true

	if c.config.DryRun {
		if c.fileExists(path) {
			c.report(path)
		}
		return
	}
	removed, err := c.diskInterface.RemoveFile(path)
	if err != nil {
		Error("remove(%s): %s", path, err)
		c.status = 1
		return
	}
	if removed {
		c.report(path)
	}
}

func (c *Cleaner) fileExists(path string) bool {
	mtime, err := c.diskInterface.Stat(path)
	if err != nil {
		Error("%s", err)
		c.status = 1
	}
	return mtime > 0
}

func (c *Cleaner) printHeader() {
	if c.config.Verbosity == VerbosityQuiet {
		return
	}
	fmt.Printf("Cleaning...")
	if c.isVerbose() {
		fmt.Printf("\n")
	} else {
		fmt.Printf(" ")
	}
}

func (c *Cleaner) printFooter() {
	if c.config.Verbosity == VerbosityQuiet {
		return
	}
	fmt.Printf("%d files.\n", c.cleanedFiles)
}

// removeEdgeFiles removes the depfile and rspfile generated by an edge.
func (c *Cleaner) removeEdgeFiles(edge *Edge) {
	if depfile := edge.GetUnescapedDepfile(); depfile != "" {
		c.remove(depfile)
	}
	if rspfile := edge.GetUnescapedRspfile(); rspfile != "" {
		c.remove(rspfile)
	}
}

// loadDyndeps loads dyndep files so cleaning can see dyndep-discovered
// outputs.
func (c *Cleaner) loadDyndeps() {
	// Load dyndep files that exist, before they are cleaned.
	for _, edge := range c.state.Edges() {
		if dyndep := edge.Dyndep(); dyndep != nil && dyndep.DyndepPending() {
			// Capture and ignore errors loading the dyndep file: a missing
			// or broken file means nothing extra to clean.
			c.dyndepLoader.LoadDyndeps(dyndep, DyndepFile{})
		}
	}
}

// CleanAll cleans all built files, except for files created by generator
// rules when generator is false.
func (c *Cleaner) CleanAll(generator bool) int {
	c.reset()
	c.printHeader()
	c.loadDyndeps()
	for _, edge := range c.state.Edges() {
		// Do not try to remove phony targets.
		if edge.IsPhony() {
			continue
		}
		// Do not remove generator outputs unless told so.
		if !generator && edge.GetBindingBool("generator") {
			continue
		}
		for _, out := range edge.Outputs() {
			c.remove(out.Path())
		}
		c.removeEdgeFiles(edge)
	}
	c.printFooter()
	return c.status
}

// CleanTargets cleans the given target nodes and anything they depend
// on.
func (c *Cleaner) CleanTargets(targets []*Node) int {
	c.reset()
	c.printHeader()
	c.loadDyndeps()
	for _, target := range targets {
		if c.config.Verbosity == VerbosityVerbose {
			fmt.Printf("Target %s\n", target.Path())
		}
		c.doCleanTarget(target)
	}
	c.printFooter()
	return c.status
}

func (c *Cleaner) doCleanTarget(target *Node) {
	if edge := target.InEdge(); edge != nil {
		// Do not try to remove phony targets.
		if !edge.IsPhony() {
			c.remove(target.Path())
			c.removeEdgeFiles(edge)
		}
		for _, next := range edge.Inputs() {
			// Call doCleanTarget on them if they have a parent edge.
			if !c.cleaned[next] {
				c.cleaned[next] = true
				if next.InEdge() != nil {
					c.doCleanTarget(next)
				}
			}
		}
	}
}

// CleanRules cleans the files produced by the given rules.
func (c *Cleaner) CleanRules(rules []*Rule) int {
	c.reset()
	c.printHeader()
	c.loadDyndeps()
	for _, rule := range rules {
		if c.config.Verbosity == VerbosityVerbose {
			fmt.Printf("Rule %s\n", rule.Name())
		}
		for _, edge := range c.state.Edges() {
			if edge.Rule().Name() != rule.Name() {
				continue
			}
			for _, out := range edge.Outputs() {
				c.remove(out.Path())
			}
			c.removeEdgeFiles(edge)
		}
	}
	c.printFooter()
	return c.status
}
