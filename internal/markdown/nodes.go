package markdown

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// Class strings applied to rendered tables.
const (
	tableOpen  = `<div class="md-table-wrapper overflow-x-auto my-4"><table class="w-full table-auto border-collapse">`
	tableClose = "</table></div>\n"
	theadOpen  = `<thead class="bg-slate-50 dark:bg-slate-800">`
	tbodyOpen  = `<tbody class="[&>tr:nth-child(odd)>td]:bg-slate-50 dark:[&>tr:nth-child(odd)>td]:bg-slate-900/40">`
	thClass    = "border border-slate-200 dark:border-slate-700 px-3 py-2 text-slate-700 dark:text-slate-200 font-semibold"
	tdClass    = "border border-slate-200 dark:border-slate-700 px-3 py-2 align-top"
)

// nodeRenderer overrides fenced code blocks and tables.
type nodeRenderer struct {
	formatter *chromahtml.Formatter
	style     *chroma.Style
}

func (r *nodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
	reg.Register(east.KindTable, r.renderTable)
	reg.Register(east.KindTableHeader, r.renderTableHeader)
	reg.Register(east.KindTableRow, r.renderTableRow)
	reg.Register(east.KindTableCell, r.renderTableCell)
}

func (r *nodeRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	n := node.(*ast.FencedCodeBlock)

	var code bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		code.Write(line.Value(source))
	}

	lang := n.Language(source)
	_, _ = w.WriteString(`<pre class="chroma"><code class="hljs`)
	if len(lang) > 0 {
		_, _ = w.WriteString(" language-")
		_, _ = w.Write(util.EscapeHTML(lang))
	}
	_, _ = w.WriteString(`">`)
	if !r.highlight(w, string(lang), code.String()) {
		_, _ = w.Write(util.EscapeHTML(code.Bytes()))
	}
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

// highlight writes chroma output for known languages and reports whether it
// wrote anything.
func (r *nodeRenderer) highlight(w util.BufWriter, lang, code string) bool {
	if lang == "" {
		return false
	}
	lexer := lexers.Get(lang)
	if lexer == nil {
		return false
	}
	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, code)
	if err != nil {
		slog.Debug("Highlight tokenise failed", "lang", lang, "error", err)
		return false
	}
	var out bytes.Buffer
	if err := r.formatter.Format(&out, r.style, iterator); err != nil {
		slog.Debug("Highlight format failed", "lang", lang, "error", err)
		return false
	}
	_, _ = w.Write(out.Bytes())
	return true
}

func (r *nodeRenderer) renderTable(w util.BufWriter, _ []byte, _ ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(tableOpen + "\n")
	} else {
		_, _ = w.WriteString(tableClose)
	}
	return ast.WalkContinue, nil
}

func (r *nodeRenderer) renderTableHeader(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(theadOpen + "\n<tr>\n")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("</tr>\n</thead>\n")
	if node.NextSibling() != nil {
		_, _ = w.WriteString(tbodyOpen + "\n")
	}
	return ast.WalkContinue, nil
}

func (r *nodeRenderer) renderTableRow(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString("<tr>\n")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("</tr>\n")
	if node.Parent().LastChild() == node {
		_, _ = w.WriteString("</tbody>\n")
	}
	return ast.WalkContinue, nil
}

func (r *nodeRenderer) renderTableCell(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*east.TableCell)
	tag, class := "td", tdClass
	if node.Parent().Kind() == east.KindTableHeader {
		tag, class = "th", thClass
	}
	if !entering {
		_, _ = fmt.Fprintf(w, "</%s>\n", tag)
		return ast.WalkContinue, nil
	}
	_, _ = fmt.Fprintf(w, `<%s class="%s"`, tag, class)
	if n.Alignment != east.AlignNone {
		_, _ = fmt.Fprintf(w, ` style="text-align:%s"`, n.Alignment.String())
	}
	_ = w.WriteByte('>')
	return ast.WalkContinue, nil
}
