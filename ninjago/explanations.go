package ninjago

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Explanations is the -d explain trace stream: it reports the reason each
// dirtiness decision was made, as it is made, and keeps the messages for
// later lookup by the status printer.
type Explanations struct {
	w        io.Writer
	style    *color.Color
	recorded map[interface{}][]string
}

// NewExplanations returns an explanation sink writing to stderr.
func NewExplanations() *Explanations {
	return &Explanations{
		w:        color.Error,
		style:    color.New(color.FgMagenta),
		recorded: make(map[interface{}][]string),
	}
}

// Record stores and immediately prints an explanation attributed to item
// (an edge or node, may be nil).
func (e *Explanations) Record(item interface{}, format string, args ...interface{}) {
	if e == nil {
		return
	}
	message := fmt.Sprintf(format, args...)
	e.style.Fprintf(e.w, "ninja explain: %s\n", message)
	if item != nil {
		e.recorded[item] = append(e.recorded[item], message)
	}
}

// LookupAndAppend appends the explanations recorded for item to out.
func (e *Explanations) LookupAndAppend(item interface{}, out *[]string) {
	if e == nil {
		return
	}
	*out = append(*out, e.recorded[item]...)
}
