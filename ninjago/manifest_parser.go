package ninjago

import (
	"strconv"
)

type DupeEdgeAction int8

const (
	DupeEdgeActionWarn DupeEdgeAction = iota
	DupeEdgeActionError
)

type PhonyCycleAction int8

const (
	PhonyCycleActionWarn PhonyCycleAction = iota
	PhonyCycleActionError
)

type ManifestParserOptions struct {
	DupeEdgeAction   DupeEdgeAction
	PhonyCycleAction PhonyCycleAction
}

// ManifestParser parses .ninja files.
type ManifestParser struct {
	parser
	env     *BindingEnv
	options ManifestParserOptions
}

func NewManifestParser(state *State, fileReader FileReader, options ManifestParserOptions) *ManifestParser {
	p := &ManifestParser{options: options}
	p.state = state
	p.fileReader = fileReader
	p.env = state.Bindings()
	return p
}

// Load loads and parses a file, using parent for error context when this
// is an include.
func (p *ManifestParser) Load(filename string, parent *Lexer) error {
	return p.load(filename, parent, p.Parse)
}

// Parse parses a file, given its contents as a string.
func (p *ManifestParser) Parse(filename string, input []byte) error {
	p.lexer.Start(filename, input)

	for {
		token := p.lexer.ReadToken()
		switch token {
		case TokenPool:
			if err := p.parsePool(); err != nil {
				return err
			}
		case TokenBuild:
			if err := p.parseEdge(); err != nil {
				return err
			}
		case TokenRule:
			if err := p.parseRule(); err != nil {
				return err
			}
		case TokenDefault:
			if err := p.parseDefault(); err != nil {
				return err
			}
		case TokenIdent:
			p.lexer.UnreadToken()
			name, letValue, err := p.parseLet()
			if err != nil {
				return err
			}
			value := letValue.Evaluate(p.env)
			// Check ninja_required_version immediately, upon encountering
			// it.  During import of a manifest, it is the first thing
			// checked.
			if name == "ninja_required_version" {
				CheckNinjaVersion(value)
			}
			p.env.AddBinding(name, value)
		case TokenInclude:
			if err := p.parseFileInclude(false); err != nil {
				return err
			}
		case TokenSubninja:
			if err := p.parseFileInclude(true); err != nil {
				return err
			}
		case TokenError:
			return p.lexer.Error("lexing error")
		case TokenTEOF:
			return nil
		case TokenNewline:
		default:
			return p.lexer.Error("unexpected " + TokenName(token))
		}
	}
}

func (p *ManifestParser) parsePool() error {
	name, ok := p.lexer.ReadIdent()
	if !ok {
		return p.lexer.Error("expected pool name")
	}

	if err := p.expectToken(TokenNewline); err != nil {
		return err
	}

	if p.state.LookupPool(name) != nil {
		return p.lexer.Error("duplicate pool '" + name + "'")
	}

	depth := -1

	for p.lexer.PeekToken(TokenIndent) {
		key, value, err := p.parseLet()
		if err != nil {
			return err
		}
		if key != "depth" {
			return p.lexer.Error("unexpected variable '" + key + "'")
		}
		var convErr error
		depth, convErr = strconv.Atoi(value.Evaluate(p.env))
		if convErr != nil || depth < 0 {
			return p.lexer.Error("invalid pool depth")
		}
	}

	if depth < 0 {
		return p.lexer.Error("expected 'depth =' line")
	}

	p.state.AddPool(NewPool(name, depth))
	return nil
}

func (p *ManifestParser) parseRule() error {
	name, ok := p.lexer.ReadIdent()
	if !ok {
		return p.lexer.Error("expected rule name")
	}

	if err := p.expectToken(TokenNewline); err != nil {
		return err
	}

	if p.env.LookupRuleCurrentScope(name) != nil {
		return p.lexer.Error("duplicate rule '" + name + "'")
	}

	rule := NewRule(name)

	for p.lexer.PeekToken(TokenIndent) {
		key, value, err := p.parseLet()
		if err != nil {
			return err
		}
		if !IsReservedBinding(key) {
			// Die on other keyvals for now; revisit if we want to add a
			// scope here.
			return p.lexer.Error("unexpected variable '" + key + "'")
		}
		v := value
		rule.AddBinding(key, &v)
	}

	if (rule.GetBinding("rspfile") == nil) != (rule.GetBinding("rspfile_content") == nil) {
		return p.lexer.Error("rspfile and rspfile_content need to be both specified")
	}

	if rule.GetBinding("command") == nil {
		return p.lexer.Error("expected 'command =' line")
	}

	p.env.AddRule(rule)
	return nil
}

func (p *ManifestParser) parseLet() (string, EvalString, error) {
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

func (p *ManifestParser) parseDefault() error {
	var eval EvalString
	if err := p.lexer.ReadPath(&eval); err != nil {
		return err
	}
	if eval.Empty() {
		return p.lexer.Error("expected target name")
	}

	for {
		path := eval.Evaluate(p.env)
		if len(path) == 0 {
			return p.lexer.Error("empty path")
		}
		canonical, _ := CanonicalizePath(path)
		if err := p.state.AddDefault(canonical); err != nil {
			return p.lexer.Error(err.Error())
		}

		eval.Clear()
		if err := p.lexer.ReadPath(&eval); err != nil {
			return err
		}
		if eval.Empty() {
			break
		}
	}

	return p.expectToken(TokenNewline)
}

func (p *ManifestParser) parseEdge() error {
	var ins, outs, validations []EvalString

	{
		var out EvalString
		if err := p.lexer.ReadPath(&out); err != nil {
			return err
		}
		for !out.Empty() {
			outs = append(outs, out)
			out = EvalString{}
			if err := p.lexer.ReadPath(&out); err != nil {
				return err
			}
		}
	}

	// Add all implicit outs, counting how many as we go.
	implicitOuts := 0
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
			implicitOuts++
		}
	}

	if len(outs) == 0 {
		return p.lexer.Error("expected path")
	}

	if err := p.expectToken(TokenColon); err != nil {
		return err
	}

	ruleName, ok := p.lexer.ReadIdent()
	if !ok {
		return p.lexer.Error("expected build command name")
	}

	rule := p.env.LookupRule(ruleName)
	if rule == nil {
		return p.lexer.Error("unknown build rule '" + ruleName + "'")
	}

	for {
		// XXX should we require one path here?
		var in EvalString
		if err := p.lexer.ReadPath(&in); err != nil {
			return err
		}
		if in.Empty() {
			break
		}
		ins = append(ins, in)
	}

	// Add all implicit deps, counting how many as we go.
	implicit := 0
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
			implicit++
		}
	}

	// Add all order-only deps, counting how many as we go.
	orderOnly := 0
	if p.lexer.PeekToken(TokenPipe2) {
		for {
			var in EvalString
			if err := p.lexer.ReadPath(&in); err != nil {
				return err
			}
			if in.Empty() {
				break
			}
			ins = append(ins, in)
			orderOnly++
		}
	}

	// Add all validations.
	if p.lexer.PeekToken(TokenPipeAt) {
		for {
			var validation EvalString
			if err := p.lexer.ReadPath(&validation); err != nil {
				return err
			}
			if validation.Empty() {
				break
			}
			validations = append(validations, validation)
		}
	}

	if err := p.expectToken(TokenNewline); err != nil {
		return err
	}

	// Bindings on edges are rare, so allocate per-edge envs only when
	// needed.
	hasIndentToken := p.lexer.PeekToken(TokenIndent)
	env := p.env
	if hasIndentToken {
		env = NewBindingEnv(p.env)
	}
	for hasIndentToken {
		key, val, err := p.parseLet()
		if err != nil {
			return err
		}
		env.AddBinding(key, val.Evaluate(p.env))
		hasIndentToken = p.lexer.PeekToken(TokenIndent)
	}

	edge := p.state.AddEdge(rule)
	edge.env = env

	poolName := edge.GetBinding("pool")
	if poolName != "" {
		pool := p.state.LookupPool(poolName)
		if pool == nil {
			return p.lexer.Error("unknown pool name '" + poolName + "'")
		}
		edge.pool = pool
	}

	for i := range outs {
		path := outs[i].Evaluate(env)
		if len(path) == 0 {
			return p.lexer.Error("empty path")
		}
		canonical, slashBits := CanonicalizePath(path)
		if !p.state.AddOut(edge, canonical, slashBits) {
			if p.options.DupeEdgeAction == DupeEdgeActionError {
				return p.lexer.Error("multiple rules generate " + canonical)
			}
			Warning("multiple rules generate %s. builds involving this target will not be correct; continuing anyway [-w dupbuild=err]", canonical)
			if len(outs)-i <= implicitOuts {
				implicitOuts--
			}
		}
	}
	if len(edge.outputs) == 0 {
		// All outputs of the edge are already created by other edges.
		// Don't add this edge.  Do this check before input nodes are
		// connected to the edge.
		p.state.edges = p.state.edges[:len(p.state.edges)-1]
		return nil
	}
	edge.implicitOuts = implicitOuts

	for i := range ins {
		path := ins[i].Evaluate(env)
		if len(path) == 0 {
			return p.lexer.Error("empty path")
		}
		canonical, slashBits := CanonicalizePath(path)
		p.state.AddIn(edge, canonical, slashBits)
	}
	edge.implicitDeps = implicit
	edge.orderOnlyDeps = orderOnly

	for i := range validations {
		path := validations[i].Evaluate(env)
		if len(path) == 0 {
			return p.lexer.Error("empty path")
		}
		canonical, slashBits := CanonicalizePath(path)
		p.state.AddValidation(edge, canonical, slashBits)
	}

	if p.options.PhonyCycleAction == PhonyCycleActionWarn && edge.MaybePhonycycleDiagnostic() {
		// CMake 2.8.12.x and 3.0.x incorrectly write phony build statements
		// that reference themselves.  Ninja used to tolerate these in the
		// build graph but that has since been fixed.  Filter them out to
		// support users of those old CMake versions.
		out := edge.outputs[0]
		removed := false
		kept := edge.inputs[:0]
		for _, in := range edge.inputs {
			if in == out {
				removed = true
				continue
			}
			kept = append(kept, in)
		}
		edge.inputs = kept
		if removed {
			Warning("phony target '%s' names itself as an input; ignoring [-w phonycycle=warn]", out.Path())
		}
	}

	// Lookup, validate, and save any dyndep binding.  It will be used
	// later to load generated dependency information dynamically, but it
	// must be one of our manifest-specified inputs.
	dyndep := edge.GetUnescapedDyndep()
	if len(dyndep) != 0 {
		canonical, slashBits := CanonicalizePath(dyndep)
		edge.dyndep = p.state.GetNode(canonical, slashBits)
		edge.dyndep.SetDyndepPending(true)
		found := false
		for _, in := range edge.inputs {
			if in == edge.dyndep {
				found = true
				break
			}
		}
		if !found {
			return p.lexer.Error("dyndep '" + canonical + "' is not an input")
		}
	}

	return nil
}

// parseFileInclude parses either a 'subninja' (into a new scope) or
// 'include' (in the current scope) line.
func (p *ManifestParser) parseFileInclude(newScope bool) error {
	var eval EvalString
	if err := p.lexer.ReadPath(&eval); err != nil {
		return err
	}
	path := eval.Evaluate(p.env)

	subparser := NewManifestParser(p.state, p.fileReader, p.options)
	if newScope {
		subparser.env = NewBindingEnv(p.env)
	} else {
		subparser.env = p.env
	}

	if err := subparser.Load(path, &p.lexer); err != nil {
		return err
	}

	return p.expectToken(TokenNewline)
}
