package ninjago

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

type LineType int8

const (
	LineFull LineType = iota
	LineElide
)

// LinePrinter prints lines of text, possibly overprinting previously
// printed lines if the terminal supports it.
type LinePrinter struct {
	// Whether we can do fancy terminal control codes.
	smartTerminal bool

	// Whether we can use ISO 6429 (ANSI) color sequences.
	supportsColor bool

	// Whether the caret is at the beginning of a blank line.
	haveBlankLine bool

	// Whether console is locked.
	consoleLocked bool

	// Buffered current line while console is locked.
	lineBuffer string

	// Buffered line type while console is locked.
	lineType LineType

	// Buffered console output while console is locked.
	outputBuffer string
}

func NewLinePrinter() *LinePrinter {
	p := &LinePrinter{haveBlankLine: true}
	term := os.Getenv("TERM")
	p.smartTerminal = isatty.IsTerminal(os.Stdout.Fd()) && term != "" && term != "dumb"
	p.supportsColor = p.smartTerminal
	if !p.supportsColor {
		clicolorForce := os.Getenv("CLICOLOR_FORCE")
		p.supportsColor = clicolorForce != "" && clicolorForce != "0"
	}
	return p
}

func (p *LinePrinter) IsSmartTerminal() bool       { return p.smartTerminal }
func (p *LinePrinter) SetSmartTerminal(smart bool) { p.smartTerminal = smart }
func (p *LinePrinter) SupportsColor() bool         { return p.supportsColor }

// Print overprints the current line.  If type is LineElide, elides
// toPrint to fit on one line.
func (p *LinePrinter) Print(toPrint string, lineType LineType) {
	if p.consoleLocked {
		p.lineBuffer = toPrint
		p.lineType = lineType
		return
	}

	if p.smartTerminal {
		fmt.Printf("\r") // Print over previous line, if any.
	}

	if p.smartTerminal && lineType == LineElide {
		if size, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ); err == nil && size.Col > 0 {
			toPrint = ElideMiddle(toPrint, int(size.Col))
		}
		// Clear to end of line.
		fmt.Printf("%s\x1B[K", toPrint)
		p.haveBlankLine = false
	} else {
		fmt.Printf("%s\n", toPrint)
	}
}

// printOrBuffer prints the string on stdout directly, or buffers it if
// the console is locked.
func (p *LinePrinter) printOrBuffer(data string) {
	if p.consoleLocked {
		p.outputBuffer += data
	} else {
		// Avoid printf and C strings, since the actual output might
		// contain null bytes.
		os.Stdout.WriteString(data)
	}
}

// PrintOnNewLine prints the given data to the console, or buffers it if
// it is locked.
func (p *LinePrinter) PrintOnNewLine(toPrint string) {
	if p.consoleLocked && p.lineBuffer != "" {
		p.outputBuffer += p.lineBuffer + "\n"
		p.lineBuffer = ""
	}
	if !p.haveBlankLine {
		p.printOrBuffer("\n")
	}
	if toPrint != "" {
		p.printOrBuffer(toPrint)
	}
	p.haveBlankLine = toPrint == "" || strings.HasSuffix(toPrint, "\n")
}

// SetConsoleLocked locks or unlocks the console.  Any output sent to the
// LinePrinter while the console is locked will not be printed until it is
// unlocked.
func (p *LinePrinter) SetConsoleLocked(locked bool) {
	if locked == p.consoleLocked {
		return
	}

	if locked {
		p.PrintOnNewLine("")
	}

	p.consoleLocked = locked

	if !locked {
		p.PrintOnNewLine(p.outputBuffer)
		if p.lineBuffer != "" {
			p.Print(p.lineBuffer, p.lineType)
		}
		p.outputBuffer = ""
		p.lineBuffer = ""
	}
}
