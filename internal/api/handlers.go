package api

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/noteservice"
)

const maxImageBytes = 20 << 20

// Handler holds API route handlers.
type Handler struct {
	svc    *noteservice.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /api/auth/register.
//
//	@Summary	Create an account and start a session
//	@Tags		auth
//	@Success	201	{object}	UserResponse
//	@Failure	409	{object}	errResponse
//	@Router		/auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.svc.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUser(u))
}

// Login handles POST /api/auth/login.
//
//	@Summary	Start a session
//	@Tags		auth
//	@Success	200	{object}	UserResponse
//	@Failure	401	{object}	errResponse
//	@Router		/auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(u))
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session handles GET /api/session.
//
//	@Summary	Describe the active session
//	@Tags		auth
//	@Success	200	{object}	SessionResponse
//	@Failure	401	{object}	errResponse
//	@Router		/session [get]
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.CurrentUser(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSession(info))
}

// ListNotes handles GET /api/notes.
//
//	@Summary	List notes, newest first
//	@Tags		notes
//	@Param		q	query		string	false	"Case-insensitive title/content filter"
//	@Success	200	{object}	NoteListResponse
//	@Router		/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.ListNotes(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items := make([]NoteListItem, len(notes))
	for i, n := range notes {
		items[i] = toListItem(n)
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: len(items)})
}

// CreateNote handles POST /api/notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CreateNote(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNote(n))
}

// ImportNote handles POST /api/notes/import with a raw Markdown body or a
// multipart "file" field.
func (h *Handler) ImportNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var src io.Reader = r.Body
	if isMultipart(r) {
		f, _, err := r.FormFile("file")
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: missing 'file' field", apperr.ErrInvalidInput))
			return
		}
		defer f.Close()
		src = f
	}
	data, err := io.ReadAll(src)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: read body: %v", apperr.ErrInvalidInput, err))
		return
	}
	n, err := h.svc.ImportMarkdown(r.Context(), data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNote(n))
}

// GetNote handles GET /api/notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNote(n))
}

// ExportNote handles GET /api/notes/{id}/export.
func (h *Handler) ExportNote(w http.ResponseWriter, r *http.Request) {
	n, data, err := h.svc.ExportMarkdown(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": exportName(n.Title, n.ID)}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// UpdateNote handles PATCH /api/notes/{id}.
//
//	@Summary	Edit title and/or content
//	@Tags		notes
//	@Param		body	body		UpdateNoteRequest	true	"Fields to change"
//	@Success	200		{object}	NoteResponse
//	@Failure	404		{object}	errResponse
//	@Failure	422		{object}	errResponse
//	@Router		/notes/{id} [patch]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var req UpdateNoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.svc.UpdateNote(r.Context(), chi.URLParam(r, "id"), req.Title, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNote(n))
}

// DeleteNote handles DELETE /api/notes/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteNote(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectNote handles POST /api/notes/{id}/select.
func (h *Handler) SelectNote(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.SelectNote(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExtractText handles POST /api/notes/{id}/ocr. The image arrives either as
// a multipart "image" field or as JSON {data, mimeType}.
//
//	@Summary	Transcribe an image into the note
//	@Tags		study
//	@Success	200	{object}	NoteResponse
//	@Failure	502	{object}	errResponse
//	@Router		/notes/{id}/ocr [post]
func (h *Handler) ExtractText(w http.ResponseWriter, r *http.Request) {
	var req OCRRequest
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
		f, hdr, err := r.FormFile("image")
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: missing 'image' field", apperr.ErrInvalidInput))
			return
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: read image: %v", apperr.ErrInvalidInput, err))
			return
		}
		req.Data = base64.StdEncoding.EncodeToString(raw)
		req.MimeType = hdr.Header.Get("Content-Type")
		if req.MimeType == "" || req.MimeType == "application/octet-stream" {
			req.MimeType = http.DetectContentType(raw)
		}
		if err := req.Validate(); err != nil {
			h.fail(w, r, err)
			return
		}
	} else if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.svc.ExtractText(r.Context(), chi.URLParam(r, "id"), req.Data, req.MimeType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNote(n))
}

// AnalyzeNote handles POST /api/notes/{id}/analyze.
func (h *Handler) AnalyzeNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.AnalyzeNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNote(n))
}

// SetAnswer handles PUT /api/notes/{id}/questions/{qid}/answer.
func (h *Handler) SetAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.svc.SetAnswer(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "qid"), req.Answer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNote(n))
}

// GradeQuiz handles POST /api/notes/{id}/grade.
func (h *Handler) GradeQuiz(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GradeQuiz(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNote(n))
}

// Chat handles POST /api/notes/{id}/chat. Tutor failures come back as an
// apology turn in the transcript, not as an error status.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.svc.SendChat(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNote(n))
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// exportName derives a download file name from the note title.
func exportName(title, id string) string {
	name := strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(title), "-"), "-.")
	if name == "" {
		name = id
	}
	return name + ".md"
}

