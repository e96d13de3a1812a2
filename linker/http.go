package linker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hiroroworks/gemini-super-linker/connectivity"
	"github.com/hiroroworks/gemini-super-linker/history"
	"github.com/hiroroworks/gemini-super-linker/kit"
	"github.com/hiroroworks/gemini-super-linker/overlay"
	"github.com/hiroroworks/gemini-super-linker/session"
	"github.com/hiroroworks/gemini-super-linker/transcript"
)

// maxImportBytes caps an uploaded history file.
const maxImportBytes = 10 << 20

// Handler returns the HTTP API.
func (l *Linker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(requestContext)
	l.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the API routes on r. Every route dispatches through
// the action router.
func (l *Linker) RegisterHTTP(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/actions", l.handleListActions)
		r.Get("/actions/{action}", l.handleInspectAction)
		r.Post("/actions/{action}", l.handleAction)
		r.Post("/actions/{action}/enable", l.handleSwitchAction(true))
		r.Post("/actions/{action}/disable", l.handleSwitchAction(false))

		r.Get("/chats", l.httpListChats)
		r.Delete("/chats", l.httpDeleteChat)
		r.Patch("/chats/title", l.httpRenameChat)
		r.Get("/chats/export", l.httpExport)
		r.Post("/chats/import", l.httpImport)

		r.Get("/gem", l.httpGemInfo)
		r.Put("/gem/{gemID}/icon", l.httpSaveIcon)
		r.Delete("/gem/{gemID}/icon", l.httpResetIcon)

		r.Post("/overlay/refresh", l.httpRefreshOverlay)
		r.Get("/transcript", l.httpTranscript)
	})
}

func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// securityHeaders locks responses down: the API serves JSON and file
// downloads only, never pages to render or frame.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func (l *Linker) handleListActions(w http.ResponseWriter, _ *http.Request) {
	var infos []connectivity.ServiceInfo
	for info := range l.router.ListServices() {
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (l *Linker) handleInspectAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")
	info, ok := l.router.Inspect(name)
	if !ok {
		writeError(w, http.StatusNotFound, &connectivity.ErrServiceNotFound{Service: name})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (l *Linker) handleSwitchAction(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := l.SetActionEnabled(chi.URLParam(r, "action"), on)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// handleAction is the raw message bus: the body is the action payload and
// the action's JSON response is written back unchanged.
func (l *Linker) handleAction(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := l.router.Call(r.Context(), chi.URLParam(r, "action"), payload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if out == nil {
		out = []byte("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (l *Linker) httpListChats(w http.ResponseWriter, r *http.Request) {
	var recs []history.Record
	req := map[string]string{"query": r.URL.Query().Get("q")}
	if err := l.Call(r.Context(), ActionListChats, req, &recs); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (l *Linker) httpDeleteChat(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	l.reply(w, r, ActionDeleteChat, map[string]string{"url": url})
}

func (l *Linker) httpRenameChat(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l.reply(w, r, ActionRenameChat, req)
}

func (l *Linker) httpExport(w http.ResponseWriter, r *http.Request) {
	var res ExportResult
	if err := l.Call(r.Context(), ActionExportChats, nil, &res); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, res.Data)
}

func (l *Linker) httpImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l.reply(w, r, ActionImportChats, map[string]string{"data": string(data)})
}

func (l *Linker) httpGemInfo(w http.ResponseWriter, r *http.Request) {
	var gem session.GemInfo
	if err := l.Call(r.Context(), ActionGetGemInfo, nil, &gem); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, gem)
}

func (l *Linker) httpSaveIcon(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, overlay.MaxIconBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l.reply(w, r, ActionSaveIcon, IconRequest{
		GemID:       chi.URLParam(r, "gemID"),
		ContentType: r.Header.Get("Content-Type"),
		Data:        data,
	})
}

func (l *Linker) httpResetIcon(w http.ResponseWriter, r *http.Request) {
	l.reply(w, r, ActionResetIcon, IconRequest{GemID: chi.URLParam(r, "gemID")})
}

func (l *Linker) httpRefreshOverlay(w http.ResponseWriter, r *http.Request) {
	l.reply(w, r, ActionUpdateIcon, nil)
}

func (l *Linker) httpTranscript(w http.ResponseWriter, r *http.Request) {
	var tr transcript.Transcript
	if err := l.Call(r.Context(), ActionDownloadMarkdown, nil, &tr); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+tr.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, tr.Markdown)
}

// reply dispatches an action and writes its decoded JSON response.
func (l *Linker) reply(w http.ResponseWriter, r *http.Request, action string, req any) {
	var resp json.RawMessage
	if err := l.Call(r.Context(), action, req, &resp); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	var notFound *connectivity.ErrServiceNotFound
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, history.ErrMalformed),
		errors.Is(err, overlay.ErrNotImage),
		errors.Is(err, overlay.ErrNoGem):
		return http.StatusBadRequest
	case errors.Is(err, overlay.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, transcript.ErrNoMessages), errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoDocument):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
