package ninjago

import (
	"fmt"
	"html"
	"strings"

	"github.com/valyala/fasthttp"
)

// browseServer serves a hyperlinked view of the build graph over HTTP,
// backing the browse tool.
type browseServer struct {
	state         *State
	initialTarget string
}

// RunBrowse serves the graph of state on 127.0.0.1:port until the
// process is interrupted.
func RunBrowse(state *State, initialTarget string, port int) error {
	s := &browseServer{state: state, initialTarget: initialTarget}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	Info("web browser running at http://%s, ctl-C to abort...", addr)
	return fasthttp.ListenAndServe(addr, s.handle)
}

func (s *browseServer) handle(ctx *fasthttp.RequestCtx) {
	target := string(ctx.QueryArgs().Peek("target"))
	if target == "" {
		target = s.initialTarget
	}

	ctx.SetContentType("text/html; charset=utf-8")

	node := s.state.LookupNode(target)
	if node == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		fmt.Fprintf(ctx, "<h1>unknown target %s</h1>", html.EscapeString(target))
		return
	}

	fmt.Fprintf(ctx, "<html><head><title>ninja: %s</title></head><body>",
		html.EscapeString(node.Path()))
	fmt.Fprintf(ctx, "<h1><tt>%s</tt></h1>", html.EscapeString(node.Path()))

	if edge := node.InEdge(); edge != nil {
		fmt.Fprintf(ctx, "<h2>target is built using rule <tt>%s</tt> of</h2>",
			html.EscapeString(edge.Rule().Name()))
		s.printEdgeCommand(ctx, edge)
		fmt.Fprintf(ctx, "<h2>dependent node(s):</h2><ul>")
		for i, in := range edge.Inputs() {
			note := ""
			if edge.IsImplicit(i) {
				note = " (implicit)"
			} else if edge.IsOrderOnly(i) {
				note = " (order-only)"
			}
			s.printNodeLink(ctx, in, note)
		}
		fmt.Fprintf(ctx, "</ul>")
	} else {
		fmt.Fprintf(ctx, "<h2>leaf node (no rule builds it)</h2>")
	}

	if outEdges := node.OutEdges(); len(outEdges) > 0 {
		fmt.Fprintf(ctx, "<h2>target is used by:</h2><ul>")
		for _, oe := range outEdges {
			for _, out := range oe.Outputs() {
				s.printNodeLink(ctx, out, "")
			}
		}
		fmt.Fprintf(ctx, "</ul>")
	}

	fmt.Fprintf(ctx, "</body></html>")
}

func (s *browseServer) printNodeLink(ctx *fasthttp.RequestCtx, node *Node, note string) {
	fmt.Fprintf(ctx, "<li><a href=\"?target=%s\"><tt>%s</tt></a>%s</li>",
		escapeQuery(node.Path()), html.EscapeString(node.Path()), note)
}

func (s *browseServer) printEdgeCommand(ctx *fasthttp.RequestCtx, edge *Edge) {
	fmt.Fprintf(ctx, "<pre>%s</pre>", html.EscapeString(edge.EvaluateCommand(false)))
}

func escapeQuery(s string) string {
	replacer := strings.NewReplacer("&", "%26", "?", "%3F", "#", "%23", " ", "%20")
	return replacer.Replace(s)
}
