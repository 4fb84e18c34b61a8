package ninjago

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/agext/levenshtein"
)

// Fatal reports an unrecoverable error and exits the process.
func Fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ninja: fatal: "+format+"\n", args...)
	os.Exit(1)
}

// Warning reports a non-fatal problem to stderr.
func Warning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ninja: warning: "+format+"\n", args...)
}

// Error reports an error to stderr.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ninja: error: "+format+"\n", args...)
}

// Info reports a message to stdout.
func Info(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "ninja: "+format+"\n", args...)
}

func isPathSeparator(c byte) bool { return c == '/' }

const maxPathComponents = 60

// CanonicalizePath canonicalizes a path in place: runs of separators
// collapse to one, "." components are eliminated and ".." components pop
// the preceding component.  A ".." with nothing left to pop is kept, so
// "../foo" and "/.." stay as they are.  A leading "/" is kept unless a ".."
// pops the component after it: "/foo/.." canonicalizes to "".  A non-empty
// relative path whose components all cancel out (such as "./." or "a/..")
// canonicalizes to "."; the empty path stays empty.
//
// The returned slash bits record which separators were originally
// backslashes so Windows callers can map the canonical path back; on POSIX
// the mask is always zero.  The function is purely lexical and never
// touches the file system.
func CanonicalizePath(path string) (string, uint64) {
	if len(path) == 0 {
		return path, 0
	}

	var components [maxPathComponents]int
	componentCount := 0

	// The trailing sentinel stands in for the C string terminator: each
	// component copy below carries its following separator (or the
	// sentinel) along, and the final length drops it again.
	buf := append([]byte(path), 0)
	end := len(path)
	src, dst := 0, 0

	if isPathSeparator(buf[src]) {
		src++
		dst++
	}

	for src < end {
		if buf[src] == '.' {
			if src+1 == end || isPathSeparator(buf[src+1]) {
				// "." component; eliminate.
				src += 2
				continue
			} else if buf[src+1] == '.' && (src+2 == end || isPathSeparator(buf[src+2])) {
				// ".." component.  Back up if possible.
				if componentCount > 0 {
					dst = components[componentCount-1]
					src += 3
					componentCount--
				} else {
					for i := 0; i < 3; i++ {
						buf[dst] = buf[src]
						dst++
						src++
					}
				}
				continue
			}
		}

		if isPathSeparator(buf[src]) {
			src++
			continue
		}

		if componentCount == maxPathComponents {
			Fatal("path has too many components : %s", path)
		}
		components[componentCount] = dst
		componentCount++

		for src < end && !isPathSeparator(buf[src]) {
			buf[dst] = buf[src]
			dst++
			src++
		}
		// Copy the '/' (or the sentinel) as well.
		buf[dst] = buf[src]
		dst++
		src++
	}

	if dst == 0 {
		return ".", 0
	}
	return string(buf[:dst-1]), 0
}

func isKnownShellSafeChar(ch byte) bool {
	switch {
	case 'A' <= ch && ch <= 'Z', 'a' <= ch && ch <= 'z', '0' <= ch && ch <= '9':
		return true
	}
	switch ch {
	case '_', '+', '-', '.', '/':
		return true
	}
	return false
}

// GetShellEscapedString appends the single-quote shell escaping of input
// to result.
func GetShellEscapedString(input string, result *string) {
	safe := true
	for i := 0; i < len(input); i++ {
		if !isKnownShellSafeChar(input[i]) {
			safe = false
			break
		}
	}
	if safe {
		*result += input
		return
	}

	const quote = '\''
	sb := strings.Builder{}
	sb.WriteByte(quote)
	for i := 0; i < len(input); i++ {
		if input[i] == quote {
			sb.WriteString(`'\''`)
		} else {
			sb.WriteByte(input[i])
		}
	}
	sb.WriteByte(quote)
	*result += sb.String()
}

// GetWin32EscapedString appends the cmd.exe double-quote escaping of input
// to result.
func GetWin32EscapedString(input string, result *string) {
	safe := true
	for i := 0; i < len(input); i++ {
		if input[i] == ' ' || input[i] == '"' {
			safe = false
			break
		}
	}
	if safe {
		*result += input
		return
	}

	sb := strings.Builder{}
	sb.WriteByte('"')
	consecutiveBackslashes := 0
	for i := 0; i < len(input); i++ {
		switch input[i] {
		case '\\':
			consecutiveBackslashes++
		case '"':
			for j := 0; j < consecutiveBackslashes+1; j++ {
				sb.WriteByte('\\')
			}
			consecutiveBackslashes = 0
		default:
			consecutiveBackslashes = 0
		}
		sb.WriteByte(input[i])
	}
	for j := 0; j < consecutiveBackslashes; j++ {
		sb.WriteByte('\\')
	}
	sb.WriteByte('"')
	*result += sb.String()
}

const maxSpellcheckDistance = 3

// SpellcheckString returns the closest of words to text within the edit
// distance bound, or "" if nothing is close enough.
func SpellcheckString(text string, words ...string) string {
	params := levenshtein.NewParams()
	best := ""
	bestDistance := maxSpellcheckDistance + 1
	for _, word := range words {
		distance := levenshtein.Distance(text, word, params)
		if distance < bestDistance {
			bestDistance = distance
			best = word
		}
	}
	return best
}

// ElideMiddle elides the middle of the string if it is longer than width.
func ElideMiddle(str string, width int) string {
	const margin = 3 // Space for "...".
	if len(str) <= width {
		return str
	}
	if width <= margin {
		return str[:width]
	}
	elideSize := (width - margin) / 2
	return str[:elideSize] + "..." + str[len(str)-elideSize-(width-margin)%2:]
}

// StripAnsiEscapeCodes removes ISO 6429 sequences so captured command
// output stays readable when stdout is not a terminal.
func StripAnsiEscapeCodes(in string) string {
	sb := strings.Builder{}
	sb.Grow(len(in))
	for i := 0; i < len(in); i++ {
		if in[i] != '\033' {
			// Not an escape code.
			sb.WriteByte(in[i])
			continue
		}
		if i+1 == len(in) || in[i+1] != '[' {
			// Not an escape code.
			continue
		}
		// CSI: skip past parameter and intermediate bytes up to the final
		// latin letter.
		i += 2
		for i < len(in) && !islatinalpha(in[i]) {
			i++
		}
	}
	return sb.String()
}

func islatinalpha(c byte) bool {
	// isalpha() is locale-dependent.
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// GetTimeMillis returns the wall time in milliseconds; only differences
// between calls are meaningful.
func GetTimeMillis() int64 {
	return time.Now().UnixMilli()
}

// GetProcessorCount returns the number of logical CPUs.
func GetProcessorCount() int {
	return runtime.NumCPU()
}

// GuessParallelism picks a default -j value from the processor count.
func GuessParallelism() int {
	switch processors := GetProcessorCount(); processors {
	case 0, 1:
		return 2
	case 2:
		return 3
	default:
		return processors + 2
	}
}
