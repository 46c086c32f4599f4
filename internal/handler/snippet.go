package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/codeshelf/internal/apperror"
	"github.com/sakif/codeshelf/internal/auth"
	"github.com/sakif/codeshelf/internal/model"
	"github.com/sakif/codeshelf/internal/query"
	"github.com/sakif/codeshelf/internal/service"
)

// heartbeatInterval keeps idle SSE connections from being reaped by proxies.
const heartbeatInterval = 25 * time.Second

// SnippetHandler serves the snippet REST endpoints and the SSE live list.
// It only parses requests and renders results; all rules live in
// service.SnippetService.
type SnippetHandler struct {
	svc    *service.SnippetService
	logger *slog.Logger
}

// NewSnippetHandler creates a new SnippetHandler.
func NewSnippetHandler(svc *service.SnippetService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{svc: svc, logger: logger}
}

// listParams reads ?language=&framework=&tag=&sort= from the URL.
func listParams(r *http.Request) (query.Descriptor, query.SortKey) {
	q := r.URL.Query()
	d := query.Compose(query.Criteria{
		Language:  strings.TrimSpace(q.Get("language")),
		Framework: strings.TrimSpace(q.Get("framework")),
		Tag:       strings.TrimSpace(q.Get("tag")),
	})
	return d, query.ParseSortKey(q.Get("sort"))
}

// HandleList returns one snapshot of a filtered list.
//
// HTTP: GET /api/snippets?language=Go&tag=cli&sort=titleAZ
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	d, key := listParams(r)

	snippets, err := h.svc.Snapshot(r.Context(), d)
	if err != nil {
		writeError(w, err)
		return
	}
	if snippets == nil {
		snippets = []model.Snippet{}
	}
	query.Sort(snippets, key)
	writeJSON(w, http.StatusOK, snippets)
}

// HandleStream serves a live list as Server-Sent Events. Every event named
// "snippets" carries the full, sorted result set:
//
//	event: snippets
//	data: [{"id":"...","title":"..."}, ...]
//
// HTTP: GET /api/snippets/stream?language=Go&sort=newest
func (h *SnippetHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	d, key := listParams(r)
	ctx := r.Context()

	updates := make(chan []model.Snippet)
	sub, err := h.svc.List(ctx, d, func(snippets []model.Snippet) {
		select {
		case updates <- snippets:
		case <-ctx.Done():
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Cancel()

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			// Broker closed during shutdown.
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case snippets := <-updates:
			if snippets == nil {
				snippets = []model.Snippet{}
			}
			query.Sort(snippets, key)
			buf.Reset()
			buf.WriteString("event: snippets\ndata: ")
			if err := json.NewEncoder(&buf).Encode(snippets); err != nil {
				h.logger.Error("failed to encode live list", slog.String("error", err.Error()))
				return
			}
			// Encode ends with a newline; one more ends the event.
			buf.WriteByte('\n')
			if _, err := w.Write(buf.Bytes()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleGetByID returns a single snippet.
//
// HTTP: GET /api/snippets/{id}
func (h *SnippetHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	snippet, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleCreate stores a new snippet owned by the caller.
//
// HTTP: POST /api/snippets → 201 {"id": "..."}
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var draft model.SnippetDraft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, err)
		return
	}

	id, _ := auth.IdentityFromContext(r.Context())
	snippetID, err := h.svc.Create(r.Context(), id, draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": snippetID})
}

// updateRequest mirrors model.SnippetPatch. framework stays raw so that an
// explicit null (clear it) can be told apart from an absent key (keep it).
type updateRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Code        *string         `json:"code"`
	Language    *string         `json:"language"`
	Framework   json.RawMessage `json:"framework"`
	Tags        *[]string       `json:"tags"`
	IsPublic    *bool           `json:"isPublic"`
}

func (u updateRequest) patch() (model.SnippetPatch, error) {
	p := model.SnippetPatch{
		Title:       u.Title,
		Description: u.Description,
		Code:        u.Code,
		Language:    u.Language,
		Tags:        u.Tags,
		IsPublic:    u.IsPublic,
	}
	if u.Framework != nil {
		var f *string
		if err := json.Unmarshal(u.Framework, &f); err != nil {
			return p, apperror.ValidationFailed("framework", "framework must be a string or null")
		}
		p.Framework = &f
	}
	return p, nil
}

// HandleUpdate applies a partial update. Only the owner may call it.
//
// HTTP: PATCH /api/snippets/{id}
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(w, err)
		return
	}

	id, _ := auth.IdentityFromContext(r.Context())
	updated, err := h.svc.Update(r.Context(), id, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// HandleDelete removes a snippet. Deleting a missing id still answers 204.
//
// HTTP: DELETE /api/snippets/{id}
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLanguages, HandleFrameworks and HandleTags serve the facet lists
// that populate the filter dropdowns.
//
// HTTP: GET /api/languages, /api/frameworks, /api/tags
func (h *SnippetHandler) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	h.writeFacets(w, r, h.svc.DistinctLanguages)
}

func (h *SnippetHandler) HandleFrameworks(w http.ResponseWriter, r *http.Request) {
	h.writeFacets(w, r, h.svc.DistinctFrameworks)
}

func (h *SnippetHandler) HandleTags(w http.ResponseWriter, r *http.Request) {
	h.writeFacets(w, r, h.svc.DistinctTags)
}

func (h *SnippetHandler) writeFacets(w http.ResponseWriter, r *http.Request, read func(ctx context.Context) ([]string, error)) {
	values, err := read(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if values == nil {
		values = []string{}
	}
	writeJSON(w, http.StatusOK, values)
}
