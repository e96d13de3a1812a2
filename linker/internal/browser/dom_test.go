package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hiroroworks/gemini-super-linker/page"
)

func elem(id int, name string, attrs []string, children ...*proto.DOMNode) *proto.DOMNode {
	return &proto.DOMNode{
		NodeType:      nodeElement,
		NodeName:      name,
		LocalName:     name,
		BackendNodeID: proto.DOMBackendNodeID(id),
		Attributes:    attrs,
		Children:      children,
	}
}

func text(id int, s string) *proto.DOMNode {
	return &proto.DOMNode{NodeType: nodeText, NodeName: "#text", NodeValue: s, BackendNodeID: proto.DOMBackendNodeID(id)}
}

func snapshot() *proto.DOMNode {
	return &proto.DOMNode{
		NodeType:      nodeDocument,
		NodeName:      "#document",
		BackendNodeID: 1,
		DocumentURL:   "https://gemini.google.com/app/abc123",
		Children: []*proto.DOMNode{
			{NodeType: nodeDoctype, NodeName: "html", BackendNodeID: 2},
			elem(3, "html", nil,
				elem(4, "head", nil, elem(5, "title", nil, text(6, "Trip plan - Gemini"))),
				elem(7, "body", nil,
					elem(8, "div", []string{"class", "bot-logo-text", "data-x", "1"}, text(9, "T")),
					&proto.DOMNode{
						NodeType:      nodeElement,
						NodeName:      "GEM-HOST",
						LocalName:     "gem-host",
						BackendNodeID: 10,
						ShadowRoots: []*proto.DOMNode{{
							NodeType:      nodeFragment,
							NodeName:      "#document-fragment",
							BackendNodeID: 11,
							Children:      []*proto.DOMNode{elem(12, "span", []string{"id", "inner"})},
						}},
					},
				),
			),
		},
	}
}

func TestFromCDP_Tree(t *testing.T) {
	doc := fromCDP(snapshot())

	if doc.URL != "https://gemini.google.com/app/abc123" {
		t.Errorf("URL = %q", doc.URL)
	}
	if doc.Root.Type != html.DocumentNode {
		t.Fatalf("root type = %v, want DocumentNode", doc.Root.Type)
	}
	if got := doc.Title(); got != "Trip plan - Gemini" {
		t.Errorf("Title = %q", got)
	}

	div := doc.QueryFirst(".bot-logo-text")
	if div == nil {
		t.Fatal("expected .bot-logo-text element")
	}
	if v, _ := page.Attr(div, "data-x"); v != "1" {
		t.Errorf("data-x = %q, want 1", v)
	}
	if got := page.Text(div); got != "T" {
		t.Errorf("text = %q, want T", got)
	}
}

func TestFromCDP_BindsBackendIDs(t *testing.T) {
	doc := fromCDP(snapshot())

	div := doc.QueryFirst(".bot-logo-text")
	if got := doc.ID(div); got != 8 {
		t.Errorf("ID = %d, want 8", got)
	}
	if doc.Node(8) != div {
		t.Error("Node(8) does not return the bound element")
	}

	// A second snapshot of the same live page keeps the identity.
	again := fromCDP(snapshot())
	if got := again.ID(again.QueryFirst(".bot-logo-text")); got != 8 {
		t.Errorf("second snapshot ID = %d, want 8", got)
	}

	// Nodes created locally never reuse a backend id.
	img := &html.Node{Type: html.ElementNode, Data: "img"}
	div.AppendChild(img)
	if id := doc.ID(img); id <= 12 {
		t.Errorf("local node ID = %d, want > 12", id)
	}
}

func TestFromCDP_FlattensShadowRoots(t *testing.T) {
	doc := fromCDP(snapshot())

	inner := doc.QueryFirst("#inner")
	if inner == nil {
		t.Fatal("shadow content not reachable")
	}
	if inner.Parent == nil || inner.Parent.Data != "gem-host" {
		t.Errorf("parent = %v, want gem-host", inner.Parent)
	}
}

func TestFromCDP_WrapsElementRoot(t *testing.T) {
	doc := fromCDP(elem(1, "div", []string{"id", "solo"}))
	if doc.Root.Type != html.DocumentNode {
		t.Fatalf("root type = %v, want DocumentNode", doc.Root.Type)
	}
	if doc.QueryFirst("#solo") == nil {
		t.Error("wrapped element not found")
	}
}

func TestParseStealth(t *testing.T) {
	tests := []struct {
		in   string
		want StealthLevel
	}{
		{"headful", LevelHeadful},
		{" HEADFUL ", LevelHeadful},
		{"headless", LevelHeadless},
		{"", LevelHeadless},
		{"bogus", LevelHeadless},
	}
	for _, tt := range tests {
		if got := ParseStealth(tt.in); got != tt.want {
			t.Errorf("ParseStealth(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResourceType(t *testing.T) {
	tests := []struct {
		in   string
		want proto.NetworkResourceType
		ok   bool
	}{
		{"fonts", proto.NetworkResourceTypeFont, true},
		{"Stylesheet", proto.NetworkResourceTypeStylesheet, true},
		{"media", proto.NetworkResourceTypeMedia, true},
		{"images", "", false},
	}
	for _, tt := range tests {
		got, ok := resourceType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("resourceType(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
