// Package page holds the owned document tree the linker works on.
//
// A Document is a parsed HTML tree plus its location URL. Every node gets a
// stable NodeID for the lifetime of the Document, so components that need to
// remember "already processed" nodes can key on the ID instead of writing
// marker attributes into the tree.
package page

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NodeID identifies a node within one Document. Zero is never assigned.
type NodeID uint64

// Document is an HTML tree together with the URL it was observed at.
type Document struct {
	URL  string
	Root *html.Node

	mu   sync.Mutex
	ids  map[*html.Node]NodeID
	byID map[NodeID]*html.Node
	next NodeID
}

// New wraps an existing tree. IDs are assigned lazily on first use unless
// the caller binds them explicitly with Bind.
func New(pageURL string, root *html.Node) *Document {
	return &Document{
		URL:  pageURL,
		Root: root,
		ids:  make(map[*html.Node]NodeID),
		byID: make(map[NodeID]*html.Node),
	}
}

// Parse reads HTML from r. Every node present after parsing receives an ID
// in document order.
func Parse(pageURL string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("page: parse %s: %w", pageURL, err)
	}
	d := New(pageURL, root)
	walk(root, func(n *html.Node) bool {
		d.ID(n)
		return true
	})
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(pageURL, src string) (*Document, error) {
	return Parse(pageURL, strings.NewReader(src))
}

// ID returns the node's identity, assigning the next free one if the node
// has not been seen before.
func (d *Document) ID(n *html.Node) NodeID {
	if n == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[n]; ok {
		return id
	}
	d.next++
	for d.byID[d.next] != nil {
		d.next++
	}
	d.ids[n] = d.next
	d.byID[d.next] = n
	return d.next
}

// Bind pins n to an externally assigned identity, such as a backend node id
// reported by the browser. Lazily assigned IDs never collide with bound ones.
func (d *Document) Bind(n *html.Node, id NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.ids[n]; ok {
		delete(d.byID, old)
	}
	d.ids[n] = id
	d.byID[id] = n
	if id > d.next {
		d.next = id
	}
}

// Clone returns a deep copy of the document. Each copied node is bound to
// the ID of its original, so IDs from either document name the same node.
// The caller must keep the tree from changing while it is copied.
func (d *Document) Clone() *Document {
	c := New(d.URL, nil)
	c.Root = d.cloneNode(c, d.Root)
	return c
}

func (d *Document) cloneNode(c *Document, n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	cp := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	c.Bind(cp, d.ID(n))
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		cp.AppendChild(d.cloneNode(c, ch))
	}
	return cp
}

// Node returns the node bound to id, or nil.
func (d *Document) Node(id NodeID) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byID[id]
}

// Title returns the trimmed text of the first <title> element.
func (d *Document) Title() string {
	var title string
	walk(d.Root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			title = strings.TrimSpace(Text(n))
			return false
		}
		return true
	})
	return title
}

// Query returns every element under the document root matching sel.
func (d *Document) Query(sel string) []*html.Node {
	return Query(d.Root, sel)
}

// QueryFirst returns the first element matching sel, or nil.
func (d *Document) QueryFirst(sel string) *html.Node {
	return QueryFirst(d.Root, sel)
}

// Text returns the concatenated text content of n and its descendants.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(Text(c))
	}
	return b.String()
}

// Attr returns the value of the named attribute.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// SetStyle sets one inline style property, keeping the others.
func SetStyle(n *html.Node, prop, val string) {
	style, _ := Attr(n, "style")
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		name, _, _ := strings.Cut(decl, ":")
		if strings.EqualFold(strings.TrimSpace(name), prop) {
			continue
		}
		kept = append(kept, decl)
	}
	kept = append(kept, prop+": "+val)
	SetAttr(n, "style", strings.Join(kept, "; "))
}

// RemoveChildren detaches every child of n.
func RemoveChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// Render serialises n to HTML.
func Render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// RenderChildren serialises the children of n, i.e. its inner HTML.
func RenderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}

// XPath returns a positional path such as /html[1]/body[1]/div[2].
func XPath(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		idx := 1
		for s := cur.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode && s.Data == cur.Data {
				idx++
			}
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", cur.Data, idx))
	}
	if len(parts) == 0 {
		return "/"
	}
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	return b.String()
}

// walk visits n and its descendants depth-first in document order. Returning
// false from fn stops the walk.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}
