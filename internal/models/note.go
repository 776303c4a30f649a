// Package models defines the domain types for Scholia.
package models

import "time"

// User is a registered account. Password is stored as entered.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Note is a user-authored document with optional study material and tutor transcript.
type Note struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Content     string        `json:"content"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Analysis    *Analysis     `json:"analysis,omitempty"`
	ChatHistory []ChatMessage `json:"chatHistory,omitempty"`
}

// Analysis holds the generated summary points and quiz for a note.
type Analysis struct {
	Summary   []string   `json:"summary"`
	Questions []QuizItem `json:"questions"`
}

// QuizItem is one question plus the student's answer and optional grade.
// IsCorrect and Feedback are either both set (graded) or both nil.
type QuizItem struct {
	ID         string  `json:"id"`
	Question   string  `json:"question"`
	UserAnswer string  `json:"userAnswer"`
	IsCorrect  *bool   `json:"isCorrect,omitempty"`
	Feedback   *string `json:"feedback,omitempty"`
}

// Graded reports whether the item carries an evaluation result.
func (q QuizItem) Graded() bool {
	return q.IsCorrect != nil && q.Feedback != nil
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatMessage is one turn of the tutor transcript.
type ChatMessage struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// AttachmentType is the kind of payload a model reply may carry.
type AttachmentType string

const (
	AttachmentCode  AttachmentType = "code"
	AttachmentImage AttachmentType = "image"
)

// Attachment is a code snippet or diagram returned alongside a reply.
type Attachment struct {
	Type     AttachmentType `json:"type"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Language string         `json:"language,omitempty"`
}

// Clone returns a deep copy so transforms never alias the caller's slices.
func (n Note) Clone() Note {
	out := n
	if n.Analysis != nil {
		a := Analysis{
			Summary:   append([]string(nil), n.Analysis.Summary...),
			Questions: make([]QuizItem, len(n.Analysis.Questions)),
		}
		for i, q := range n.Analysis.Questions {
			a.Questions[i] = q.clone()
		}
		out.Analysis = &a
	}
	if n.ChatHistory != nil {
		out.ChatHistory = make([]ChatMessage, len(n.ChatHistory))
		for i, m := range n.ChatHistory {
			if m.Attachment != nil {
				att := *m.Attachment
				m.Attachment = &att
			}
			out.ChatHistory[i] = m
		}
	}
	return out
}

func (q QuizItem) clone() QuizItem {
	if q.IsCorrect != nil {
		v := *q.IsCorrect
		q.IsCorrect = &v
	}
	if q.Feedback != nil {
		v := *q.Feedback
		q.Feedback = &v
	}
	return q
}
