package page

import (
	"strings"

	"golang.org/x/net/html"
)

// Query returns all elements under root (root excluded) matching sel, in
// document order. Supported syntax is the subset the linker needs:
//   - tag: "bard-avatar", "svg"
//   - .class, #id, and compounds: "div.avatar", "a#main.link"
//   - attributes: "[attr]", "[attr=val]", "[attr*=val]" (quotes optional)
//   - descendant combinator: "model-response img"
//   - alternatives: ".conversation-title, [data-test-id=conversation-title]"
func Query(root *html.Node, sel string) []*html.Node {
	groups := parseSelector(sel)
	if len(groups) == 0 || root == nil {
		return nil
	}
	var out []*html.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walk(c, func(n *html.Node) bool {
			for _, g := range groups {
				if g.matches(n) {
					out = append(out, n)
					break
				}
			}
			return true
		})
	}
	return out
}

// QueryFirst returns the first match of sel under root, or nil.
func QueryFirst(root *html.Node, sel string) *html.Node {
	groups := parseSelector(sel)
	if len(groups) == 0 || root == nil {
		return nil
	}
	var found *html.Node
	for c := root.FirstChild; c != nil && found == nil; c = c.NextSibling {
		walk(c, func(n *html.Node) bool {
			for _, g := range groups {
				if g.matches(n) {
					found = n
					return false
				}
			}
			return true
		})
	}
	return found
}

// Matches reports whether n itself matches sel.
func Matches(n *html.Node, sel string) bool {
	for _, g := range parseSelector(sel) {
		if g.matches(n) {
			return true
		}
	}
	return false
}

// complexSelector is a chain of compounds joined by descendant combinators.
type complexSelector []compound

type attrSel struct {
	key string
	op  string // "", "=", "*="
	val string
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrSel
}

// matches checks right to left: the last compound must match n, each
// earlier one some ancestor.
func (cs complexSelector) matches(n *html.Node) bool {
	if len(cs) == 0 || !cs[len(cs)-1].matches(n) {
		return false
	}
	cur := n.Parent
	for i := len(cs) - 2; i >= 0; i-- {
		for cur != nil && !cs[i].matches(cur) {
			cur = cur.Parent
		}
		if cur == nil {
			return false
		}
		cur = cur.Parent
	}
	return true
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && !strings.EqualFold(n.Data, c.tag) {
		return false
	}
	if c.id != "" {
		if v, _ := Attr(n, "id"); v != c.id {
			return false
		}
	}
	if len(c.classes) > 0 {
		have, _ := Attr(n, "class")
		fields := strings.Fields(have)
		for _, want := range c.classes {
			if !contains(fields, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		v, ok := Attr(n, a.key)
		if !ok {
			return false
		}
		switch a.op {
		case "=":
			if v != a.val {
				return false
			}
		case "*=":
			if !strings.Contains(v, a.val) {
				return false
			}
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// parseSelector splits a selector list on top-level commas.
func parseSelector(sel string) []complexSelector {
	var out []complexSelector
	for _, part := range splitOutsideBrackets(sel, func(r rune) bool { return r == ',' }) {
		var cs complexSelector
		for _, tok := range splitOutsideBrackets(part, isSpace) {
			cs = append(cs, parseCompound(tok))
		}
		if len(cs) > 0 {
			out = append(out, cs)
		}
	}
	return out
}

// parseCompound parses "tag.class#id[attr=val]" style tokens.
func parseCompound(tok string) compound {
	var c compound
	i := 0
	readIdent := func() string {
		start := i
		for i < len(tok) && !strings.ContainsRune(".#[", rune(tok[i])) {
			i++
		}
		return tok[start:i]
	}

	c.tag = strings.ToLower(readIdent())
	for i < len(tok) {
		switch tok[i] {
		case '.':
			i++
			c.classes = append(c.classes, readIdent())
		case '#':
			i++
			c.id = readIdent()
		case '[':
			end := strings.IndexByte(tok[i:], ']')
			if end < 0 {
				end = len(tok) - i
			}
			c.attrs = append(c.attrs, parseAttr(tok[i+1:i+end]))
			i += end + 1
		default:
			i++
		}
	}
	return c
}

func parseAttr(s string) attrSel {
	for _, op := range []string{"*=", "="} {
		if idx := strings.Index(s, op); idx >= 0 {
			return attrSel{
				key: strings.TrimSpace(s[:idx]),
				op:  op,
				val: strings.Trim(strings.TrimSpace(s[idx+len(op):]), `"'`),
			}
		}
	}
	return attrSel{key: strings.TrimSpace(s)}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// splitOutsideBrackets splits s at runes matching sep, ignoring separators
// inside [...] so attribute values may contain spaces and commas.
func splitOutsideBrackets(s string, sep func(rune) bool) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			out = append(out, t)
		}
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case depth == 0 && sep(r):
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return out
}
