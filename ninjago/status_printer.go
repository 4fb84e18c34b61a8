package ninjago

import (
	"fmt"
	"os"
	"strings"
)

// SlidingRateInfo computes the build rate over the last N completions.
type SlidingRateInfo struct {
	rate       float64
	n          int
	times      []float64
	lastUpdate int
}

func NewSlidingRateInfo(n int) *SlidingRateInfo {
	return &SlidingRateInfo{rate: -1, n: n, lastUpdate: -1}
}

func (s *SlidingRateInfo) Rate() float64 { return s.rate }

func (s *SlidingRateInfo) UpdateRate(updateHint int, timeMillis int64) {
	if updateHint == s.lastUpdate {
		return
	}
	s.lastUpdate = updateHint

	if len(s.times) == s.n {
		s.times = s.times[1:]
	}
	s.times = append(s.times, float64(timeMillis)/1e3)
	back := s.times[len(s.times)-1]
	front := s.times[0]
	if back != front {
		s.rate = float64(len(s.times)) / (back - front)
	}
}

// StatusPrinter prints the progress line and surfaces command output.
type StatusPrinter struct {
	config *BuildConfig

	startedEdges  int
	finishedEdges int
	totalEdges    int
	runningEdges  int

	// How much wall clock elapsed so far?
	timeMillis int64

	// Prints progress output.
	printer *LinePrinter

	// An optional Explanations pointer, used to implement -d explain.
	explanations *Explanations

	// The custom progress status format to use.
	progressStatusFormat string

	currentRate *SlidingRateInfo
}

func NewStatusPrinter(config *BuildConfig) *StatusPrinter {
	s := &StatusPrinter{
		config:      config,
		printer:     NewLinePrinter(),
		currentRate: NewSlidingRateInfo(config.Parallelism),
	}

	// Don't do anything fancy in verbose mode.
	if s.config.Verbosity != VerbosityNormal {
		s.printer.SetSmartTerminal(false)
	}

	s.progressStatusFormat = os.Getenv("NINJA_STATUS")
	if s.progressStatusFormat == "" {
		s.progressStatusFormat = "[%f/%t] "
	}
	return s
}

func (s *StatusPrinter) EdgeAddedToPlan(edge *Edge)     { s.totalEdges++ }
func (s *StatusPrinter) EdgeRemovedFromPlan(edge *Edge) { s.totalEdges-- }

func (s *StatusPrinter) BuildEdgeStarted(edge *Edge, startTimeMillis int64) {
	s.startedEdges++
	s.runningEdges++
	s.timeMillis = startTimeMillis

	if edge.UseConsole() || s.printer.IsSmartTerminal() {
		s.PrintStatus(edge, startTimeMillis)
	}

	if edge.UseConsole() {
		s.printer.SetConsoleLocked(true)
	}
}

func (s *StatusPrinter) BuildEdgeFinished(edge *Edge, startTimeMillis, endTimeMillis int64, success bool, output string) {
	s.timeMillis = endTimeMillis
	s.finishedEdges++

	if edge.UseConsole() {
		s.printer.SetConsoleLocked(false)
	}

	if s.config.Verbosity == VerbosityQuiet {
		return
	}

	if !edge.UseConsole() {
		s.PrintStatus(edge, endTimeMillis)
	}

	s.runningEdges--

	// Print the command that is spewing before printing its output.
	if !success {
		outputs := ""
		for _, o := range edge.Outputs() {
			outputs += o.Path() + " "
		}

		if s.printer.SupportsColor() {
			s.printer.PrintOnNewLine("\x1B[31mFAILED: \x1B[0m" + outputs + "\n")
		} else {
			s.printer.PrintOnNewLine("FAILED: " + outputs + "\n")
		}
		s.printer.PrintOnNewLine(edge.EvaluateCommand(false) + "\n")
	}

	if output != "" {
		// ninja sets stdout and stderr of subprocesses to a pipe, to be
		// able to check if the output is empty.  Some compilers, e.g.
		// clang, check isatty(stderr) to decide if they should print
		// colored output.  To make it possible to use colored output with
		// ninja, subprocesses should be run with a flag that forces them
		// to always print color escape codes.  To make sure these escape
		// codes don't show up in a file if ninja's output is piped to a
		// file, ninja strips ansi escape codes again if it's not writing
		// to a smart terminal.
		if s.printer.SupportsColor() || !strings.ContainsRune(output, '\x1b') {
			s.printer.PrintOnNewLine(output)
		} else {
			s.printer.PrintOnNewLine(StripAnsiEscapeCodes(output))
		}
	}
}

func (s *StatusPrinter) BuildStarted() {
	s.startedEdges = 0
	s.finishedEdges = 0
	s.runningEdges = 0
}

func (s *StatusPrinter) BuildFinished() {
	s.printer.SetConsoleLocked(false)
	s.printer.PrintOnNewLine("")
}

func (s *StatusPrinter) SetExplanations(explanations *Explanations) {
	s.explanations = explanations
}

func (s *StatusPrinter) Info(format string, args ...interface{})    { Info(format, args...) }
func (s *StatusPrinter) Warning(format string, args ...interface{}) { Warning(format, args...) }
func (s *StatusPrinter) Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ninja: error: "+format+"\n", args...)
}

func snprintfRate(rate float64, format string) string {
	if rate == -1 {
		return "?"
	}
	return fmt.Sprintf(format, rate)
}

// FormatProgressStatus formats the progress status string by replacing
// the placeholders; see the manual for the available placeholders.
func (s *StatusPrinter) FormatProgressStatus(progressStatusFormat string, timeMillis int64) string {
	out := strings.Builder{}
	for i := 0; i < len(progressStatusFormat); i++ {
		c := progressStatusFormat[i]
		if c != '%' {
			out.WriteByte(c)
			continue
		}

		i++
		if i == len(progressStatusFormat) {
			Fatal("unknown placeholder '%%' in $NINJA_STATUS")
		}
		switch progressStatusFormat[i] {
		case '%':
			out.WriteByte('%')

		// Started edges.
		case 's':
			fmt.Fprintf(&out, "%d", s.startedEdges)

		// Total edges.
		case 't':
			fmt.Fprintf(&out, "%d", s.totalEdges)

		// Running edges.
		case 'r':
			fmt.Fprintf(&out, "%d", s.runningEdges)

		// Unstarted edges.
		case 'u':
			fmt.Fprintf(&out, "%d", s.totalEdges-s.startedEdges)

		// Finished edges.
		case 'f':
			fmt.Fprintf(&out, "%d", s.finishedEdges)

		// Overall finished edges per second.
		case 'o':
			rate := -1.0
			if s.timeMillis > 0 {
				rate = float64(s.finishedEdges) / (float64(s.timeMillis) / 1e3)
			}
			out.WriteString(snprintfRate(rate, "%.1f"))

		// Current rate, average over the last '-j' jobs.
		case 'c':
			s.currentRate.UpdateRate(s.finishedEdges, s.timeMillis)
			out.WriteString(snprintfRate(s.currentRate.Rate(), "%.1f"))

		// Percentage of edges completed.
		case 'p':
			percent := 0
			if s.finishedEdges != 0 && s.totalEdges != 0 {
				percent = (100 * s.finishedEdges) / s.totalEdges
			}
			fmt.Fprintf(&out, "%3d%%", percent)

		// Elapsed time, seconds.
		case 'e':
			fmt.Fprintf(&out, "%.3f", float64(timeMillis)/1e3)

		default:
			Fatal("unknown placeholder '%%%c' in $NINJA_STATUS", progressStatusFormat[i])
		}
	}

	return out.String()
}

// PrintStatus prints the progress line for the edge.
func (s *StatusPrinter) PrintStatus(edge *Edge, timeMillis int64) {
	if s.config.Verbosity == VerbosityQuiet ||
		s.config.Verbosity == VerbosityNoStatusUpdate {
		return
	}

	forceFullCommand := s.config.Verbosity == VerbosityVerbose

	toPrint := edge.GetBinding("description")
	if toPrint == "" || forceFullCommand {
		toPrint = edge.GetBinding("command")
	}

	toPrint = s.FormatProgressStatus(s.progressStatusFormat, timeMillis) + toPrint

	lineType := LineFull
	if !forceFullCommand {
		lineType = LineElide
	}
	s.printer.Print(toPrint, lineType)
}
