package api

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/scholia/internal/models"
	"github.com/starford/scholia/internal/noteservice"
	"github.com/starford/scholia/internal/quiz"
)

// Supported OCR image types.
var imageTypes = []any{"image/png", "image/jpeg", "image/webp", "image/heic", "image/heif"}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username" example:"alice"`
	Password string `json:"password" example:"secret"`
}

// Validate implements validation.Validatable.
func (r *CredentialsRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Password, validation.Required),
	)
}

// UpdateNoteRequest edits title and/or content. Omitted fields are kept.
type UpdateNoteRequest struct {
	Title   *string `json:"title,omitempty" example:"Photosynthesis"`
	Content *string `json:"content,omitempty" example:"Plants convert light..."`
}

// Validate requires at least one field.
func (r *UpdateNoteRequest) Validate() error {
	if r.Title == nil && r.Content == nil {
		return validation.Errors{"title": validation.NewError("validation_required", "title or content is required")}
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Length(0, 200)),
	)
}

// OCRRequest carries a base64 image when not uploaded as multipart.
type OCRRequest struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType" example:"image/png"`
}

// Validate implements validation.Validatable.
func (r *OCRRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Data, validation.Required),
		validation.Field(&r.MimeType, validation.Required, validation.In(imageTypes...)),
	)
}

// AnswerRequest records the student's answer. An empty answer clears it.
type AnswerRequest struct {
	Answer string `json:"answer" example:"Chlorophyll"`
}

// Validate implements validation.Validatable.
func (r *AnswerRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Answer, validation.Length(0, 4000)),
	)
}

// ChatRequest is one message to the tutor.
type ChatRequest struct {
	Message string `json:"message" example:"Can you explain this with a diagram?"`
}

// Validate implements validation.Validatable.
func (r *ChatRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Message, validation.Required, validation.Length(1, 4000)),
	)
}

// UserResponse never includes the password.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func toUser(u models.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username}
}

// SessionResponse describes the active session.
type SessionResponse struct {
	User       UserResponse `json:"user"`
	SelectedID string       `json:"selectedId,omitempty"`
	Warning    string       `json:"warning,omitempty"`
}

func toSession(info noteservice.SessionInfo) SessionResponse {
	return SessionResponse{User: toUser(info.User), SelectedID: info.SelectedID, Warning: info.Warning}
}

// NoteListItem is a lightweight entry in the note list.
type NoteListItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Analyzed  bool      `json:"analyzed"`
	Messages  int       `json:"messages"`
}

// NoteListResponse wraps the note list.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes"`
	Total int            `json:"total"`
}

const previewRunes = 120

func toListItem(n models.Note) NoteListItem {
	preview := strings.Join(strings.Fields(n.Content), " ")
	if r := []rune(preview); len(r) > previewRunes {
		preview = string(r[:previewRunes]) + "…"
	}
	return NoteListItem{
		ID:        n.ID,
		Title:     n.Title,
		Preview:   preview,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
		Analyzed:  n.Analysis != nil,
		Messages:  len(n.ChatHistory),
	}
}

// Score summarises quiz progress.
type Score struct {
	Correct int `json:"correct"`
	Graded  int `json:"graded"`
	Total   int `json:"total"`
}

// NoteResponse is a full note plus its quiz score when analyzed.
type NoteResponse struct {
	models.Note
	Score *Score `json:"score,omitempty"`
}

func toNote(n models.Note) NoteResponse {
	out := NoteResponse{Note: n}
	if n.Analysis != nil {
		c, g, t := quiz.Score(n)
		out.Score = &Score{Correct: c, Graded: g, Total: t}
	}
	return out
}
