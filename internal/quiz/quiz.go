// Package quiz reconciles provider results into a note's study material
// without losing answers or grades that the result does not cover.
package quiz

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/scholia/internal/analysis"
	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/models"
)

// Engine applies quiz transitions. The zero value is not usable; use New.
type Engine struct {
	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs overrides the id generator for new quiz items.
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// New returns an Engine using wall-clock time and random UUIDs.
func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAnalyzable must pass before the provider is asked to analyze note.
func CheckAnalyzable(note models.Note) error {
	if strings.TrimSpace(note.Content) == "" {
		return apperr.ErrEmptyContent
	}
	return nil
}

// ApplyAnalysis replaces the note's summary and questions wholesale.
// Every previous answer and grade is discarded.
func (e *Engine) ApplyAnalysis(note models.Note, res analysis.Result) (models.Note, error) {
	if err := CheckAnalyzable(note); err != nil {
		return note, err
	}
	out := note.Clone()
	questions := make([]models.QuizItem, 0, len(res.Questions))
	for _, q := range res.Questions {
		questions = append(questions, models.QuizItem{ID: e.newID(), Question: q})
	}
	out.Analysis = &models.Analysis{
		Summary:   append([]string{}, res.Summary...),
		Questions: questions,
	}
	out.UpdatedAt = e.now()
	return out, nil
}

// SetAnswer records answer for questionID and returns the item to ungraded,
// even when the text is unchanged. Unknown ids leave the note as is.
func (e *Engine) SetAnswer(note models.Note, questionID, answer string) models.Note {
	if note.Analysis == nil {
		return note
	}
	out := note.Clone()
	for i := range out.Analysis.Questions {
		q := &out.Analysis.Questions[i]
		if q.ID != questionID {
			continue
		}
		q.UserAnswer = answer
		q.IsCorrect = nil
		q.Feedback = nil
		out.UpdatedAt = e.now()
		return out
	}
	return note
}

// SubmitForGrading selects the items with a non-blank answer.
func SubmitForGrading(note models.Note) ([]analysis.GradeItem, error) {
	if note.Analysis == nil {
		return nil, apperr.ErrNothingToGrade
	}
	var items []analysis.GradeItem
	for _, q := range note.Analysis.Questions {
		if strings.TrimSpace(q.UserAnswer) == "" {
			continue
		}
		items = append(items, analysis.GradeItem{
			ID:         q.ID,
			Question:   q.Question,
			AnswerText: strings.TrimSpace(q.UserAnswer),
		})
	}
	if len(items) == 0 {
		return nil, apperr.ErrNothingToGrade
	}
	return items, nil
}

// ReferenceText is what answers are graded against: the summary points,
// not the raw note content.
func ReferenceText(note models.Note) string {
	if note.Analysis == nil {
		return ""
	}
	return strings.Join(note.Analysis.Summary, "\n")
}

// ApplyEvaluation sets isCorrect and feedback together on every item whose
// id appears in results. Other items are untouched.
func (e *Engine) ApplyEvaluation(note models.Note, results []analysis.Evaluation) models.Note {
	if note.Analysis == nil || len(results) == 0 {
		return note
	}
	byID := make(map[string]analysis.Evaluation, len(results))
	for _, r := range results {
		byID[r.QuestionID] = r
	}

	out := note.Clone()
	changed := false
	for i := range out.Analysis.Questions {
		q := &out.Analysis.Questions[i]
		r, ok := byID[q.ID]
		if !ok {
			continue
		}
		correct, feedback := r.IsCorrect, r.Feedback
		q.IsCorrect = &correct
		q.Feedback = &feedback
		changed = true
	}
	if !changed {
		return note
	}
	out.UpdatedAt = e.now()
	return out
}

// Score counts graded and correct items.
func Score(note models.Note) (correct, graded, total int) {
	if note.Analysis == nil {
		return 0, 0, 0
	}
	for _, q := range note.Analysis.Questions {
		total++
		if !q.Graded() {
			continue
		}
		graded++
		if *q.IsCorrect {
			correct++
		}
	}
	return correct, graded, total
}
