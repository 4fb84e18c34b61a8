package ninjago

import "fmt"

// DyndepParser parses dyndep files.
type DyndepParser struct {
	parser
	dyndepFile DyndepFile
	env        *BindingEnv
}

func NewDyndepParser(state *State, fileReader FileReader, ddf DyndepFile) *DyndepParser {
	p := &DyndepParser{dyndepFile: ddf, env: NewBindingEnv(nil)}
	p.state = state
	p.fileReader = fileReader
	return p
}

// Load loads and parses a dyndep file.
func (p *DyndepParser) Load(filename string, parent *Lexer) error {
	return p.load(filename, parent, p.Parse)
}

// Parse parses a dyndep file, given its contents as a string.
func (p *DyndepParser) Parse(filename string, input []byte) error {
	p.lexer.Start(filename, input)

	// Require a supported ninja_dyndep_version value immediately so we can
	// exit before encountering any syntactic surprises.
	haveDyndepVersion := false

	for {
		token := p.lexer.ReadToken()
		switch token {
		case TokenBuild:
			if !haveDyndepVersion {
				return p.lexer.Error("expected 'ninja_dyndep_version = ...'")
			}
			if err := p.parseEdge(); err != nil {
				return err
			}
		case TokenIdent:
			p.lexer.UnreadToken()
			if haveDyndepVersion {
				return p.lexer.Error("unexpected " + TokenName(token))
			}
			if err := p.parseDyndepVersion(); err != nil {
				return err
			}
			haveDyndepVersion = true
		case TokenError:
			return p.lexer.Error("lexing error")
		case TokenTEOF:
			if !haveDyndepVersion {
				return p.lexer.Error("expected 'ninja_dyndep_version = ...'")
			}
			return nil
		case TokenNewline:
		default:
			return p.lexer.Error("unexpected " + TokenName(token))
		}
	}
}

func (p *DyndepParser) parseDyndepVersion() error {
	name, letValue, err := p.parseLet()
	if err != nil {
		return err
	}
	if name != "ninja_dyndep_version" {
		return p.lexer.Error("expected 'ninja_dyndep_version = ...'")
	}
	version := letValue.Evaluate(p.env)
	major, minor := ParseVersion(version)
	if major != 1 || minor != 0 {
		return p.lexer.Error(fmt.Sprintf("unsupported 'ninja_dyndep_version = %s'", version))
	}
	return nil
}

func (p *DyndepParser) parseLet() (string, EvalString, error) {
	var value EvalString
	key, ok := p.lexer.ReadIdent()
	if !ok {
		return "", value, p.lexer.Error("expected variable name")
	}
	if err := p.expectToken(TokenEquals); err != nil {
		return "", value, err
	}
	if err := p.lexer.ReadVarValue(&value); err != nil {
		return "", value, err
	}
	return key, value, nil
}

func (p *DyndepParser) parseEdge() error {
	// Parse one explicit output.  We expect it to already have an edge.
	// We will record its dynamically-discovered dependency information.
	var dyndeps *Dyndeps
	{
		var out0 EvalString
		if err := p.lexer.ReadPath(&out0); err != nil {
			return err
		}
		if out0.Empty() {
			return p.lexer.Error("expected path")
		}

		path := out0.Evaluate(p.env)
		if len(path) == 0 {
			return p.lexer.Error("empty path")
		}
		canonical, _ := CanonicalizePath(path)
		node := p.state.LookupNode(canonical)
		if node == nil || node.InEdge() == nil {
			return p.lexer.Error("no build statement exists for '" + canonical + "'")
		}
		edge := node.InEdge()
		if _, exists := p.dyndepFile[edge]; exists {
			return p.lexer.Error("multiple statements for '" + canonical + "'")
		}
		dyndeps = &Dyndeps{}
		p.dyndepFile[edge] = dyndeps
	}

	// Disallow explicit outputs.
	{
		var out EvalString
		if err := p.lexer.ReadPath(&out); err != nil {
			return err
		}
		if !out.Empty() {
			return p.lexer.Error("explicit outputs not supported")
		}
	}

	// Parse implicit outputs, if any.
	var outs []EvalString
	if p.lexer.PeekToken(TokenPipe) {
		for {
			var out EvalString
			if err := p.lexer.ReadPath(&out); err != nil {
				return err
			}
			if out.Empty() {
				break
			}
			outs = append(outs, out)
		}
	}

	if err := p.expectToken(TokenColon); err != nil {
		return err
	}

	ruleName, ok := p.lexer.ReadIdent()
	if !ok || ruleName != "dyndep" {
		return p.lexer.Error("expected build command name 'dyndep'")
	}

	// Disallow explicit inputs.
	{
		var in EvalString
		if err := p.lexer.ReadPath(&in); err != nil {
			return err
		}
		if !in.Empty() {
			return p.lexer.Error("explicit inputs not supported")
		}
	}

	// Parse implicit inputs, if any.
	var ins []EvalString
	if p.lexer.PeekToken(TokenPipe) {
		for {
			var in EvalString
			if err := p.lexer.ReadPath(&in); err != nil {
				return err
			}
			if in.Empty() {
				break
			}
			ins = append(ins, in)
		}
	}

	// Disallow order-only inputs.
	if p.lexer.PeekToken(TokenPipe2) {
		return p.lexer.Error("order-only inputs not supported")
	}

	if err := p.expectToken(TokenNewline); err != nil {
		return err
	}

	if p.lexer.PeekToken(TokenIndent) {
		key, val, err := p.parseLet()
		if err != nil {
			return err
		}
		if key != "restat" {
			return p.lexer.Error("binding is not 'restat'")
		}
		value := val.Evaluate(p.env)
		dyndeps.restat = value != ""
	}

	for i := range outs {
		path := outs[i].Evaluate(p.env)
		if len(path) == 0 {
			return p.lexer.Error("empty path")
		}
		canonical, slashBits := CanonicalizePath(path)
		node := p.state.GetNode(canonical, slashBits)
		dyndeps.implicitOutputs = append(dyndeps.implicitOutputs, node)
	}

	for i := range ins {
		path := ins[i].Evaluate(p.env)
		if len(path) == 0 {
			return p.lexer.Error("empty path")
		}
		canonical, slashBits := CanonicalizePath(path)
		node := p.state.GetNode(canonical, slashBits)
		dyndeps.implicitInputs = append(dyndeps.implicitInputs, node)
	}

	return nil
}
