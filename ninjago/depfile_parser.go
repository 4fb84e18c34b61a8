package ninjago

import "fmt"

type DepfileParserOptions struct{}

// DepfileParser parses the makefile-syntax dependency files emitted by
// "gcc -MD" and friends.
type DepfileParser struct {
	Outs []string
	Ins  []string

	options *DepfileParserOptions
}

func NewDepfileParser(options *DepfileParserOptions) *DepfileParser {
	return &DepfileParser{options: options}
}

// Parse parses the given depfile content.
//
// A note on backslashes: a backslash only escapes the characters make
// itself treats specially (spaces, '#', '*', '[', ']') and '|'.  Anything else,
// e.g. "a\b", keeps the backslash so Windows-style paths survive.  "$$"
// is a literal dollar sign.
func (p *DepfileParser) Parse(content []byte) error {
	in := 0
	end := len(content)

	// Targets seen on the current rule before its colon.
	var pending []string
	parsedColon := false

	flushRule := func() {
		pending = pending[:0]
		parsedColon = false
	}

	for in < end {
		c := content[in]

		// Whitespace and rule separators.
		switch c {
		case ' ', '\t':
			in++
			continue
		case '\r':
			in++
			continue
		case '\n':
			if parsedColon {
				flushRule()
			}
			in++
			continue
		}

		// A lone colon separating targets from dependencies.
		if c == ':' && p.colonEndsTargets(content, in) {
			p.Outs = append(p.Outs, pending...)
			pending = pending[:0]
			parsedColon = true
			in++
			continue
		}

		// A filename token.
		var token []byte
		for in < end {
			c := content[in]
			if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
				break
			}
			if c == ':' && p.colonEndsTargets(content, in) {
				break
			}
			if c == '\\' && in+1 < end {
				next := content[in+1]
				switch next {
				case '\n':
					// Line continuation acts as a token separator.
					in += 2
					goto tokenDone
				case '\r':
					if in+2 < end && content[in+2] == '\n' {
						in += 3
						goto tokenDone
					}
					token = append(token, c)
					in++
					continue
				case ' ', '#', '*', '[', ']', '|':
					token = append(token, next)
					in += 2
					continue
				}
				token = append(token, c)
				in++
				continue
			}
			if c == '$' && in+1 < end && content[in+1] == '$' {
				token = append(token, '$')
				in += 2
				continue
			}
			token = append(token, c)
			in++
		}
	tokenDone:
		if len(token) == 0 {
			continue
		}
		if parsedColon {
			p.Ins = append(p.Ins, string(token))
		} else {
			pending = append(pending, string(token))
		}
	}

	if len(pending) > 0 && !parsedColon {
		return fmt.Errorf("expected ':' in depfile")
	}
	return nil
}

// colonEndsTargets reports whether the colon at content[i] terminates the
// target list, as opposed to being part of a path like "c:\foo".
func (p *DepfileParser) colonEndsTargets(content []byte, i int) bool {
	if i+1 >= len(content) {
		return true
	}
	switch content[i+1] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
