package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/fatih/color"

	"github.com/rickgao/kb-realtime/internal/connection"
)

// framePrinter writes one line per frame, or the highlighted JSON body
// when verbose.
type framePrinter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool

	label *color.Color
	event *color.Color

	lexer     chroma.Lexer
	formatter chroma.Formatter
	style     *chroma.Style
}

func newFramePrinter(out io.Writer, verbose bool, formatterName string) *framePrinter {
	formatter := formatters.Get(formatterName)
	if formatter == nil {
		formatter = formatters.Fallback
	}
	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}

	return &framePrinter{
		out:       out,
		verbose:   verbose,
		label:     color.New(color.FgCyan, color.Bold),
		event:     color.New(color.FgYellow),
		lexer:     chroma.Coalesce(lexers.Get("json")),
		formatter: formatter,
		style:     style,
	}
}

// Print writes fr as received on id.
func (p *framePrinter) Print(id string, fr connection.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	event := fr.Event
	if event == "" {
		event = "-"
	}

	if !p.verbose {
		fmt.Fprintf(p.out, "%s event=%s bytes=%d\n", p.label.Sprintf("[%s]", id), p.event.Sprint(event), len(fr.Body))
		return
	}

	fmt.Fprintf(p.out, "%s %s\n", p.label.Sprintf("[%s]", id), p.event.Sprint(event))
	if err := p.highlight(fr.Body); err != nil {
		fmt.Fprintf(p.out, "%s\n", fr.Body)
	}
}

func (p *framePrinter) highlight(body []byte) error {
	var indented bytes.Buffer
	if err := json.Indent(&indented, body, "", "  "); err != nil {
		return err
	}
	indented.WriteByte('\n')

	iterator, err := p.lexer.Tokenise(nil, indented.String())
	if err != nil {
		return err
	}
	return p.formatter.Format(p.out, p.style, iterator)
}
