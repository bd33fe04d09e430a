package pages

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Pretty parses page as an HTML document and renders it again with one block element per line, indented by two
// spaces.  Elements that only hold text and inline elements stay on one line, and the content of pre, textarea, script
// and style elements is left alone.
func Pretty(page []byte) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err = pretty(&buf, doc, 0)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pretty(buf *bytes.Buffer, n *html.Node, depth int) error {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			err := pretty(buf, c, depth)
			if err != nil {
				return err
			}
		}
		return nil

	case html.TextNode:
		text := strings.Join(strings.Fields(n.Data), ` `)
		if text != `` {
			indent(buf, depth)
			buf.WriteString(html.EscapeString(text))
			buf.WriteByte('\n')
		}
		return nil

	case html.ElementNode:
		if verbatim[n.DataAtom] || inlineOnly(n) {
			break
		}
		indent(buf, depth)
		startTag(buf, n)
		buf.WriteByte('\n')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			err := pretty(buf, c, depth+1)
			if err != nil {
				return err
			}
		}
		indent(buf, depth)
		buf.WriteString(`</`)
		buf.WriteString(n.Data)
		buf.WriteString(">\n")
		return nil
	}

	indent(buf, depth)
	err := html.Render(buf, n)
	buf.WriteByte('\n')
	return err
}

func indent(buf *bytes.Buffer, depth int) {
	for range depth {
		buf.WriteString(`  `)
	}
}

func startTag(buf *bytes.Buffer, n *html.Node) {
	buf.WriteByte('<')
	buf.WriteString(n.Data)
	for _, a := range n.Attr {
		buf.WriteByte(' ')
		if a.Namespace != `` {
			buf.WriteString(a.Namespace)
			buf.WriteByte(':')
		}
		buf.WriteString(a.Key)
		buf.WriteString(`="`)
		buf.WriteString(html.EscapeString(a.Val))
		buf.WriteByte('"')
	}
	buf.WriteByte('>')
}

// inlineOnly is true if every descendant of n is text, a comment or an inline element.
func inlineOnly(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode, html.CommentNode:
		case html.ElementNode:
			if !inline[c.DataAtom] || !inlineOnly(c) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

var verbatim = map[atom.Atom]bool{
	atom.Pre: true, atom.Textarea: true, atom.Script: true, atom.Style: true,
}

var inline = map[atom.Atom]bool{
	atom.A: true, atom.Abbr: true, atom.B: true, atom.Bdi: true, atom.Bdo: true, atom.Br: true, atom.Cite: true,
	atom.Code: true, atom.Data: true, atom.Dfn: true, atom.Em: true, atom.I: true, atom.Img: true, atom.Input: true,
	atom.Kbd: true, atom.Label: true, atom.Mark: true, atom.Q: true, atom.S: true, atom.Samp: true, atom.Small: true,
	atom.Span: true, atom.Strong: true, atom.Sub: true, atom.Sup: true, atom.Time: true, atom.U: true, atom.Var: true,
	atom.Wbr: true,
}
