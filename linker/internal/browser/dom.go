package browser

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hiroroworks/gemini-super-linker/page"
)

// CDP node types.
const (
	nodeElement  = 1
	nodeText     = 3
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
	nodeFragment = 11
)

// fromCDP converts a DOM.getDocument snapshot into a Document. Every node
// is bound to its backend node id, which Chrome keeps for the lifetime of
// the live node, so identities carry over between snapshots.
func fromCDP(root *proto.DOMNode) *page.Document {
	doc := page.New(root.DocumentURL, nil)
	doc.Root = convertNode(doc, root)
	if doc.Root != nil && doc.Root.Type != html.DocumentNode {
		wrapper := &html.Node{Type: html.DocumentNode}
		wrapper.AppendChild(doc.Root)
		doc.Root = wrapper
	}
	return doc
}

func convertNode(doc *page.Document, n *proto.DOMNode) *html.Node {
	var out *html.Node
	switch n.NodeType {
	case nodeDocument, nodeFragment:
		out = &html.Node{Type: html.DocumentNode}
	case nodeElement:
		name := strings.ToLower(n.LocalName)
		if name == "" {
			name = strings.ToLower(n.NodeName)
		}
		out = &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
		if n.IsSVG {
			out.Namespace = "svg"
		}
		for i := 0; i+1 < len(n.Attributes); i += 2 {
			out.Attr = append(out.Attr, html.Attribute{Key: n.Attributes[i], Val: n.Attributes[i+1]})
		}
	case nodeText:
		out = &html.Node{Type: html.TextNode, Data: n.NodeValue}
	case nodeComment:
		out = &html.Node{Type: html.CommentNode, Data: n.NodeValue}
	case nodeDoctype:
		out = &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(n.NodeName)}
	default:
		return nil
	}
	if n.BackendNodeID != 0 {
		doc.Bind(out, page.NodeID(n.BackendNodeID))
	}

	// Shadow content is flattened into the host element.
	for _, sr := range n.ShadowRoots {
		appendChildren(doc, out, sr.Children)
	}
	appendChildren(doc, out, n.Children)
	return out
}

func appendChildren(doc *page.Document, parent *html.Node, children []*proto.DOMNode) {
	for _, c := range children {
		if child := convertNode(doc, c); child != nil {
			if child.Type == html.DocumentNode {
				continue
			}
			parent.AppendChild(child)
		}
	}
}
