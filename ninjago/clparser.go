package ninjago

import (
	"strings"

	"github.com/ahrtr/gocontainer/set"
)

// CLParser parses the output of the MS compiler, extracting the
// /showIncludes dependency information.
type CLParser struct {
	// Includes keeps the discovered headers in first-seen order; seen
	// backs it for dedup.
	Includes []string
	seen     set.Interface
}

func NewCLParser() *CLParser {
	return &CLParser{seen: set.New()}
}

const depsPrefixEnglish = "Note: including file: "

// FilterShowIncludes parses a line of cl.exe output and returns the
// include path it mentions, or "" if the line is something else.
func FilterShowIncludes(line string, depsPrefix string) string {
	prefix := depsPrefix
	if prefix == "" {
		prefix = depsPrefixEnglish
	}
	if !strings.HasPrefix(line, prefix) {
		return ""
	}
	line = line[len(prefix):]
	return strings.TrimLeft(line, " ")
}

// IsSystemInclude reports whether the mentioned include file is a system
// path.  Filtering these out reduces dependency information considerably.
func IsSystemInclude(path string) bool {
	path = strings.ToLower(path)
	// TODO: this is a heuristic, perhaps there's a better way?
	return strings.Contains(path, "program files") ||
		strings.Contains(path, "microsoft visual studio")
}

// FilterInputFilename reports whether the line is a compiler-echoed input
// filename ("foo.cpp" on a line by itself).
func FilterInputFilename(line string) bool {
	line = strings.ToLower(line)
	return strings.HasSuffix(line, ".c") ||
		strings.HasSuffix(line, ".cc") ||
		strings.HasSuffix(line, ".cxx") ||
		strings.HasSuffix(line, ".cpp") ||
		strings.HasSuffix(line, ".c++")
}

// Parse filters the compiler output, collecting the showIncludes deps and
// returning everything else for the user.
func (p *CLParser) Parse(output, depsPrefix string) string {
	defer MetricRecord("CLParser::Parse")()

	filtered := strings.Builder{}

	// Loop over all lines in the output to process them.
	start := 0
	seenInputFilename := false
	for start < len(output) {
		end := strings.IndexAny(output[start:], "\r\n")
		if end < 0 {
			end = len(output)
		} else {
			end += start
		}
		line := output[start:end]

		include := FilterShowIncludes(line, depsPrefix)
		if include != "" {
			normalized, _ := CanonicalizePath(include)
			if !IsSystemInclude(normalized) && !p.seen.Contains(normalized) {
				p.seen.Add(normalized)
				p.Includes = append(p.Includes, normalized)
			}
		} else if !seenInputFilename && FilterInputFilename(line) {
			// Drop it.
			// TODO: if we support compiling multiple output files in a
			// single process, the input filename is not unique and we
			// should leave it in.
			seenInputFilename = true
		} else {
			filtered.WriteString(line)
			filtered.WriteString("\n")
		}

		if end < len(output) && output[end] == '\r' {
			end++
		}
		if end < len(output) && output[end] == '\n' {
			end++
		}
		start = end
	}

	return filtered.String()
}
