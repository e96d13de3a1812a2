package linker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hiroroworks/gemini-super-linker/history"
	"github.com/hiroroworks/gemini-super-linker/overlay"
	"github.com/hiroroworks/gemini-super-linker/session"
	"github.com/hiroroworks/gemini-super-linker/transcript"
)

// ErrBadRequest marks payloads that could not be decoded.
var ErrBadRequest = errors.New("linker: bad request")

// Action names accepted by the router.
const (
	ActionUpdateIcon       = "updateIcon"
	ActionGetGemInfo       = "getGemInfo"
	ActionDownloadMarkdown = "downloadMarkdown"
	ActionRenameChat       = "renameChat"
	ActionDeleteChat       = "deleteChat"
	ActionListChats        = "listChats"
	ActionExportChats      = "exportChats"
	ActionImportChats      = "importChats"
	ActionSaveIcon         = "saveIcon"
	ActionResetIcon        = "resetIcon"
)

// RenameRequest is the payload of renameChat.
type RenameRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// IconRequest is the payload of saveIcon and resetIcon. Data is base64 in
// JSON.
type IconRequest struct {
	GemID       string `json:"gemId"`
	ContentType string `json:"contentType,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// ExportResult is the response of exportChats.
type ExportResult struct {
	Filename string `json:"filename"`
	Count    int    `json:"count"`
	Data     string `json:"data"`
}

// Result is the generic acknowledgement.
type Result struct {
	Success bool `json:"success"`
	Count   int  `json:"count,omitempty"`
}

func (l *Linker) registerActions() {
	l.router.RegisterLocal(ActionUpdateIcon, l.handleUpdateIcon)
	l.router.RegisterLocal(ActionGetGemInfo, l.handleGetGemInfo)
	l.router.RegisterLocal(ActionDownloadMarkdown, l.handleDownloadMarkdown)
	l.router.RegisterLocal(ActionRenameChat, l.handleRenameChat)
	l.router.RegisterLocal(ActionDeleteChat, l.handleDeleteChat)
	l.router.RegisterLocal(ActionListChats, l.handleListChats)
	l.router.RegisterLocal(ActionExportChats, l.handleExportChats)
	l.router.RegisterLocal(ActionImportChats, l.handleImportChats)
	l.router.RegisterLocal(ActionSaveIcon, l.handleSaveIcon)
	l.router.RegisterLocal(ActionResetIcon, l.handleResetIcon)
}

// Call dispatches an action with a JSON-encodable request and decodes the
// JSON response into resp, which may be nil.
func (l *Linker) Call(ctx context.Context, action string, req, resp any) error {
	var payload []byte
	if req != nil {
		var err error
		if payload, err = json.Marshal(req); err != nil {
			return fmt.Errorf("linker: encode %s: %w", action, err)
		}
	}
	out, err := l.router.Call(ctx, action, payload)
	if err != nil {
		return err
	}
	if resp == nil || out == nil {
		return nil
	}
	return json.Unmarshal(out, resp)
}

// --- typed operations ---

// Chats lists the history, filtered by a case-insensitive title keyword.
func (l *Linker) Chats(ctx context.Context, query string) ([]history.Record, error) {
	return l.store.Search(ctx, query)
}

// Rename renames a chat and protects the title from later overwrites.
func (l *Linker) Rename(ctx context.Context, url, title string) error {
	return l.store.Rename(ctx, url, title)
}

// Delete removes a chat from the history.
func (l *Linker) Delete(ctx context.Context, url string) error {
	return l.store.Delete(ctx, url)
}

// Export returns the history as an indented JSON file.
func (l *Linker) Export(ctx context.Context) (ExportResult, error) {
	var buf bytes.Buffer
	n, err := l.store.Export(ctx, &buf)
	if err != nil {
		return ExportResult{}, err
	}
	return ExportResult{
		Filename: history.ExportFilename(l.clock.Now()),
		Count:    n,
		Data:     buf.String(),
	}, nil
}

// Import merges an exported file into the history.
func (l *Linker) Import(ctx context.Context, r io.Reader) (int, error) {
	return l.store.Import(ctx, r)
}

// GemInfo reports the gem shown by the page. A non-gem page returns a zero
// GemInfo.
func (l *Linker) GemInfo(ctx context.Context) (gem session.GemInfo, err error) {
	err = l.sched.Do(ctx, func(ctx context.Context) error {
		doc, err := l.host.Document(ctx)
		if err != nil {
			return err
		}
		gem, _ = session.Gem(doc)
		return nil
	})
	return gem, err
}

// SaveIcon stores a custom icon for gemID and re-applies the overlay.
func (l *Linker) SaveIcon(ctx context.Context, gemID, contentType string, data []byte) (overlay.IconAsset, error) {
	asset, err := l.assets.Save(ctx, gemID, contentType, data, l.clock.Now())
	if err != nil {
		return overlay.IconAsset{}, err
	}
	l.refreshAfterIconChange(ctx)
	return asset, nil
}

// ResetIcon removes the custom icon for gemID. Icons already drawn in the
// live page stay until it reloads.
func (l *Linker) ResetIcon(ctx context.Context, gemID string) error {
	if err := l.assets.Reset(ctx, gemID); err != nil {
		return err
	}
	l.engine.Forget()
	return nil
}

// Transcript renders the conversation shown by the page as markdown.
func (l *Linker) Transcript(ctx context.Context) (tr *transcript.Transcript, err error) {
	err = l.sched.Do(ctx, func(ctx context.Context) error {
		doc, err := l.host.Document(ctx)
		if err != nil {
			return err
		}
		tr, err = l.builder.Build(doc, l.clock.Now())
		return err
	})
	return tr, err
}

func (l *Linker) refreshAfterIconChange(ctx context.Context) {
	if _, err := l.RefreshOverlay(ctx); err != nil {
		l.logger.WarnContext(ctx, "linker: overlay refresh after icon change failed", "error", err)
	}
}

// --- router handlers ---

func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func (l *Linker) handleUpdateIcon(ctx context.Context, _ []byte) ([]byte, error) {
	n, err := l.RefreshOverlay(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Result{Success: true, Count: n})
}

func (l *Linker) handleGetGemInfo(ctx context.Context, _ []byte) ([]byte, error) {
	gem, err := l.GemInfo(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(gem)
}

func (l *Linker) handleDownloadMarkdown(ctx context.Context, _ []byte) ([]byte, error) {
	tr, err := l.Transcript(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tr)
}

func (l *Linker) handleRenameChat(ctx context.Context, payload []byte) ([]byte, error) {
	var req RenameRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := l.Rename(ctx, req.URL, req.Title); err != nil {
		return nil, err
	}
	return json.Marshal(Result{Success: true})
}

func (l *Linker) handleDeleteChat(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := l.Delete(ctx, req.URL); err != nil {
		return nil, err
	}
	return json.Marshal(Result{Success: true})
}

func (l *Linker) handleListChats(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	recs, err := l.Chats(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recs)
}

func (l *Linker) handleExportChats(ctx context.Context, _ []byte) ([]byte, error) {
	res, err := l.Export(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (l *Linker) handleImportChats(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Data string `json:"data"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	n, err := l.Import(ctx, bytes.NewReader([]byte(req.Data)))
	if err != nil {
		return nil, err
	}
	return json.Marshal(Result{Success: true, Count: n})
}

func (l *Linker) handleSaveIcon(ctx context.Context, payload []byte) ([]byte, error) {
	var req IconRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	asset, err := l.SaveIcon(ctx, req.GemID, req.ContentType, req.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(asset)
}

func (l *Linker) handleResetIcon(ctx context.Context, payload []byte) ([]byte, error) {
	var req IconRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := l.ResetIcon(ctx, req.GemID); err != nil {
		return nil, err
	}
	return json.Marshal(Result{Success: true})
}
