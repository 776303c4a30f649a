// Package chat maintains a note's append-only tutor transcript.
package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/scholia/internal/analysis"
	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/models"
)

// Apology is the model turn appended when the tutor cannot be reached.
const Apology = "Sorry, I couldn't reach the tutor right now. Please try again."

// Session appends transcript turns. Appends leave UpdatedAt untouched.
type Session struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithIDs overrides the message id generator.
func WithIDs(newID func() string) Option {
	return func(s *Session) { s.newID = newID }
}

// New returns a Session using wall-clock time and random UUIDs.
func New(opts ...Option) *Session {
	s := &Session{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckSendable validates a message before anything is appended.
func CheckSendable(note models.Note, text string) error {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(note.Content) == "" {
		return apperr.ErrEmptyMessage
	}
	return nil
}

// AppendUserMessage is the optimistic local append done before the provider call.
func (s *Session) AppendUserMessage(note models.Note, text string) (models.Note, error) {
	if err := CheckSendable(note, text); err != nil {
		return note, err
	}
	return s.append(note, models.RoleUser, text, nil), nil
}

// AppendModelReply appends the tutor's reply. note must already carry the
// user's message.
func (s *Session) AppendModelReply(note models.Note, reply analysis.Reply) models.Note {
	var att *models.Attachment
	if reply.Attachment != nil {
		a := *reply.Attachment
		att = &a
	}
	return s.append(note, models.RoleModel, reply.Text, att)
}

// AppendApology appends the fixed failure turn in place of a reply.
func (s *Session) AppendApology(note models.Note) models.Note {
	return s.append(note, models.RoleModel, Apology, nil)
}

func (s *Session) append(note models.Note, role models.Role, text string, att *models.Attachment) models.Note {
	out := note.Clone()
	out.ChatHistory = append(out.ChatHistory, models.ChatMessage{
		ID:         s.newID(),
		Role:       role,
		Content:    text,
		Attachment: att,
		Timestamp:  s.now(),
	})
	return out
}

// Turns converts a transcript into provider context: role and text only.
func Turns(history []models.ChatMessage) []analysis.Turn {
	turns := make([]analysis.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, analysis.Turn{Role: m.Role, Text: m.Content})
	}
	return turns
}
