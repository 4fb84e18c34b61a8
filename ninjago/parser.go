package ninjago

import "fmt"

// parser is base functionality shared by the manifest and dyndep parsers.
type parser struct {
	state      *State
	fileReader FileReader
	lexer      Lexer
}

// load reads filename through the file reader and hands it to parse.
// parent is the including lexer, if any, used for error context.
func (p *parser) load(filename string, parent *Lexer, parse func(filename string, input []byte) error) error {
	defer MetricRecord(".ninja parse")()
	contents, _, err := p.fileReader.ReadFile(filename)
	if err != nil {
		msg := fmt.Sprintf("loading '%s': %s", filename, err)
		if parent != nil {
			return parent.Error(msg)
		}
		return fmt.Errorf("%s", msg)
	}
	return parse(filename, contents)
}

// expectToken reads a token and produces an error if it is not the
// expected one.
func (p *parser) expectToken(expected Token) error {
	token := p.lexer.ReadToken()
	if token != expected {
		message := "expected " + TokenName(expected) + ", got " + TokenName(token)
		message += TokenErrorHint(expected)
		return p.lexer.Error(message)
	}
	return nil
}
