// Package transcript renders the conversation currently shown in a page as a
// markdown document for download.
package transcript

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hiroroworks/gemini-super-linker/page"
	"github.com/hiroroworks/gemini-super-linker/session"
)

// ErrNoMessages is returned when the page shows no conversation.
var ErrNoMessages = errors.New("transcript: no messages found")

// DefaultTitle is used when the page has no usable title.
const DefaultTitle = "Gemini_Chat"

const (
	userTag      = "user-query"
	modelTag     = "model-response"
	userSpeaker  = "👤 User"
	modelSpeaker = "💎 Gemini"
	imageNote    = "(画像あり)"
)

var unsafeFilename = regexp.MustCompile(`[\\/:*?"<>|]`)

// Transcript is a rendered conversation.
type Transcript struct {
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Markdown string `json:"markdown"`
	Messages int    `json:"messages"`
}

// Builder converts page content to markdown. Model responses are sanitized
// and converted from HTML; user queries are taken as plain text.
type Builder struct {
	conv   *converter.Converter
	policy *bluemonday.Policy
}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Build renders doc as of now.
func (b *Builder) Build(doc *page.Document, now time.Time) (*Transcript, error) {
	msgs := doc.Query(userTag + ", " + modelTag)
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}

	title, ok := session.Title(doc)
	if !ok {
		title = DefaultTitle
	}
	date := now.Format("2006-01-02")

	var md strings.Builder
	fmt.Fprintf(&md, "# %s\nURL: %s\nDate: %s\n\n---\n\n", title, doc.URL, date)
	for _, msg := range msgs {
		speaker, text := userSpeaker, strings.TrimSpace(page.Text(msg))
		if msg.Data == modelTag {
			speaker, text = modelSpeaker, b.markdown(msg, doc.URL)
		}
		if page.QueryFirst(msg, "img") != nil {
			text += "\n\n" + imageNote
		}
		fmt.Fprintf(&md, "## %s\n%s\n\n", speaker, text)
	}

	return &Transcript{
		Title:    title,
		Filename: Filename(title, now),
		Markdown: md.String(),
		Messages: len(msgs),
	}, nil
}

func (b *Builder) markdown(n *html.Node, domain string) string {
	clean := b.policy.Sanitize(page.RenderChildren(n))
	out, err := b.conv.ConvertString(clean, converter.WithDomain(domain))
	if err != nil {
		return strings.TrimSpace(page.Text(n))
	}
	return strings.TrimSpace(out)
}

// Filename returns the download name for a transcript of title made at now.
func Filename(title string, now time.Time) string {
	if title == "" {
		title = DefaultTitle
	}
	return now.Format("2006-01-02") + "_" + unsafeFilename.ReplaceAllString(title, "-") + ".md"
}
