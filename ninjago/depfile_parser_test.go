package ninjago

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func parseDepfile(t *testing.T, content string) *DepfileParser {
	t.Helper()
	parser := NewDepfileParser(&DepfileParserOptions{})
	require.NoError(t, parser.Parse([]byte(content)))
	return parser
}

func TestDepfileParserBasic(t *testing.T) {
	p := parseDepfile(t, "build/ninja.o: ninja.cc ninja.h eval_env.h manifest_parser.h\n")
	require.Equal(t, []string{"build/ninja.o"}, p.Outs)
	require.Equal(t, []string{"ninja.cc", "ninja.h", "eval_env.h", "manifest_parser.h"}, p.Ins)
}

func TestDepfileParserEarlyNewlineAndWhitespace(t *testing.T) {
	p := parseDepfile(t, " \\\n  out: in\n")
	require.Equal(t, []string{"out"}, p.Outs)
	require.Equal(t, []string{"in"}, p.Ins)
}

func TestDepfileParserContinuation(t *testing.T) {
	p := parseDepfile(t, "foo.o: \\\n  bar.h baz.h\n")
	require.Equal(t, []string{"foo.o"}, p.Outs)
	require.Equal(t, []string{"bar.h", "baz.h"}, p.Ins)
}

func TestDepfileParserCarriageReturnContinuation(t *testing.T) {
	p := parseDepfile(t, "foo.o: \\\r\n  bar.h baz.h\r\n")
	require.Equal(t, []string{"foo.o"}, p.Outs)
	require.Equal(t, []string{"bar.h", "baz.h"}, p.Ins)
}

func TestDepfileParserBackslashes(t *testing.T) {
	p := parseDepfile(t,
		"Project\\Dir\\Build\\Release8\\Foo\\Fox.obj: \\\n"+
			"  Dir\\Library\\Foo.rc \\\n"+
			"  Dir\\Library\\Version\\Bar.h \\\n"+
			"  Dir\\Library\\Foo.ico \\\n"+
			"  Project\\Thing\\Bar.tlb\n")
	require.Equal(t, "Project\\Dir\\Build\\Release8\\Foo\\Fox.obj", p.Outs[0])
	require.Len(t, p.Ins, 4)
}

func TestDepfileParserEscapedSpaces(t *testing.T) {
	p := parseDepfile(t, "a\\ b: dep\\ one dep2\n")
	require.Equal(t, []string{"a b"}, p.Outs)
	require.Equal(t, []string{"dep one", "dep2"}, p.Ins)
}

func TestDepfileParserDollars(t *testing.T) {
	p := parseDepfile(t, "foo: x$$y\n")
	require.Equal(t, []string{"x$y"}, p.Ins)
}

func TestDepfileParserMultipleOutputs(t *testing.T) {
	p := parseDepfile(t, "foo.o foo.d: in.c\n")
	require.Equal(t, []string{"foo.o", "foo.d"}, p.Outs)
	require.Equal(t, []string{"in.c"}, p.Ins)
}

func TestDepfileParserMultipleRules(t *testing.T) {
	// -MP style phony stubs: extra targets with no deps.
	p := parseDepfile(t, "foo.o: a.h b.h\na.h:\nb.h:\n")
	require.Contains(t, p.Outs, "foo.o")
	require.Contains(t, p.Outs, "a.h")
	require.Contains(t, p.Outs, "b.h")
	require.Equal(t, []string{"a.h", "b.h"}, p.Ins)
}

func TestDepfileParserWindowsPaths(t *testing.T) {
	p := parseDepfile(t, "out.o: c:\\windows\\path.h\n")
	require.Equal(t, []string{"c:\\windows\\path.h"}, p.Ins)
}

func TestDepfileParserMissingColon(t *testing.T) {
	parser := NewDepfileParser(&DepfileParserOptions{})
	err := parser.Parse([]byte("foo.o bar.o\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected ':' in depfile")
}
