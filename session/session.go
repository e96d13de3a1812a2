// Package session derives the identity of the conversation shown in a page:
// the URL that keys the history record, the display title, and for gem
// pages the gem id that keys the custom icon.
//
// Everything here is a pure function of the Document.
package session

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/hiroroworks/gemini-super-linker/page"
)

// ProductName is the suffix the host appends to document titles.
const ProductName = "Gemini"

// TitleSelector matches the dedicated conversation title element.
const TitleSelector = `.conversation-title, [data-test-id="conversation-title"]`

// DefaultGemName is used when a gem page title carries no name.
const DefaultGemName = "Unknown Gem"

var (
	placeholders = map[string]bool{"Gemini": true, "Google Gemini": true}

	titleSuffix = regexp.MustCompile(` - Gemini$`)
	gemPath     = regexp.MustCompile(`/gem/([^/?#]+)`)
	gemName     = regexp.MustCompile(`^(.+?)\s*[-–—]\s*Gemini`)
)

// Identity is what the history store is fed on every sync tick.
type Identity struct {
	URL   string
	Title string
}

// GemInfo identifies a custom gem page.
type GemInfo struct {
	ID   string `json:"gemId"`
	Name string `json:"gemName"`
}

// Qualifies reports whether rawURL is a trackable conversation: an app chat
// or a gem chat.
func Qualifies(rawURL string) bool {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	return strings.Contains(path, "/app/") || strings.Contains(path, "/gem/")
}

// Resolve returns the identity for doc, or false when the page is not a
// trackable conversation or no usable title can be derived.
func Resolve(doc *page.Document) (Identity, bool) {
	if doc == nil || !Qualifies(doc.URL) {
		return Identity{}, false
	}
	title, ok := Title(doc)
	if !ok {
		return Identity{}, false
	}
	return Identity{URL: doc.URL, Title: title}, true
}

// Title derives the conversation title: the dedicated title element when it
// has text, otherwise the document title without the product suffix.
//
// Both sources are trimmed before the suffix and placeholder checks, and the
// placeholder list applies to the title element too. This is deliberately
// stricter than matching the raw document title: a padded " - Gemini"
// suffix is still stripped and a title element reading "Gemini" never
// becomes a history entry.
func Title(doc *page.Document) (string, bool) {
	if doc == nil {
		return "", false
	}
	for _, n := range doc.Query(TitleSelector) {
		if t := strings.TrimSpace(page.Text(n)); t != "" {
			return accept(t)
		}
	}
	pageTitle := doc.Title()
	if pageTitle == "" || placeholders[pageTitle] {
		return "", false
	}
	return accept(strings.TrimSpace(titleSuffix.ReplaceAllString(pageTitle, "")))
}

func accept(t string) (string, bool) {
	if t == "" || placeholders[t] {
		return "", false
	}
	return t, true
}

// GemID extracts the gem id from a /gem/<id> URL.
func GemID(rawURL string) (string, bool) {
	m := gemPath.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Gem returns the gem shown in doc, or false for non-gem pages.
func Gem(doc *page.Document) (GemInfo, bool) {
	if doc == nil {
		return GemInfo{}, false
	}
	id, ok := GemID(doc.URL)
	if !ok {
		return GemInfo{}, false
	}
	info := GemInfo{ID: id, Name: DefaultGemName}
	if m := gemName.FindStringSubmatch(doc.Title()); m != nil {
		info.Name = strings.TrimSpace(m[1])
	}
	return info, true
}
