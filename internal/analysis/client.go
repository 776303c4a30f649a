// Package analysis is the boundary to the generative AI provider that
// extracts text from images, builds study material, grades answers and
// answers tutor questions.
package analysis

import (
	"context"

	"github.com/starford/scholia/internal/models"
)

// Result is the provider's study material for a note.
type Result struct {
	Summary   []string `json:"summary"`
	Questions []string `json:"questions"`
}

// GradeItem is one answered question submitted for evaluation.
type GradeItem struct {
	ID         string `json:"id"`
	Question   string `json:"question"`
	AnswerText string `json:"answerText"`
}

// Evaluation is the provider's judgment for one submitted question.
type Evaluation struct {
	QuestionID string `json:"questionId"`
	IsCorrect  bool   `json:"isCorrect"`
	Feedback   string `json:"feedback"`
}

// Turn is one prior transcript entry replayed as conversation context.
// Attachments are never replayed.
type Turn struct {
	Role models.Role `json:"role"`
	Text string      `json:"text"`
}

// Reply is the tutor's answer with an optional code or diagram attachment.
type Reply struct {
	Text       string             `json:"text"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
}

// Client is the provider contract. Implementations are stateless request/response
// wrappers; failures are reported wrapped in the matching apperr sentinel.
type Client interface {
	// ExtractText runs OCR over a base64 encoded image.
	ExtractText(ctx context.Context, imageBase64, mimeType string) (string, error)
	// Analyze produces summary points and quiz questions for content.
	Analyze(ctx context.Context, content string) (Result, error)
	// Evaluate grades items against reference text. No items means no call.
	Evaluate(ctx context.Context, reference string, items []GradeItem) ([]Evaluation, error)
	// Chat answers message given the note content and prior turns.
	Chat(ctx context.Context, noteContent string, prior []Turn, message string) (Reply, error)
}
