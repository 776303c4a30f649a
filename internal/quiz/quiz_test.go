package quiz

import (
	"errors"
	"testing"

	"github.com/starford/scholia/internal/analysis"
	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/models"
	"github.com/starford/scholia/internal/testutil"
)

func testEngine() *Engine {
	return New(WithClock(testutil.Clock()), WithIDs(testutil.IDs("q")))
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func gradedNote() models.Note {
	return models.Note{
		ID:      "n1",
		Content: "Photosynthesis converts light to energy.",
		Analysis: &models.Analysis{
			Summary: []string{"Plants use light.", "Chlorophyll absorbs it."},
			Questions: []models.QuizItem{
				{ID: "a", Question: "Q1", UserAnswer: "light", IsCorrect: boolPtr(true), Feedback: strPtr("Yes")},
				{ID: "b", Question: "Q2", UserAnswer: ""},
				{ID: "c", Question: "Q3", UserAnswer: "  "},
				{ID: "d", Question: "Q4", UserAnswer: "chlorophyll"},
			},
		},
	}
}

func TestApplyAnalysis_Scenario(t *testing.T) {
	e := testEngine()
	note := models.Note{ID: "n1", Content: "Photosynthesis converts light to energy."}
	res := analysis.Result{
		Summary:   []string{"Plants use light to make food."},
		Questions: []string{"What converts light to energy?"},
	}

	out, err := e.ApplyAnalysis(note, res)
	if err != nil {
		t.Fatalf("ApplyAnalysis: %v", err)
	}
	if len(out.Analysis.Summary) != 1 || out.Analysis.Summary[0] != "Plants use light to make food." {
		t.Errorf("summary = %v", out.Analysis.Summary)
	}
	if len(out.Analysis.Questions) != 1 {
		t.Fatalf("questions = %+v", out.Analysis.Questions)
	}
	q := out.Analysis.Questions[0]
	if q.Question != "What converts light to energy?" || q.UserAnswer != "" || q.IsCorrect != nil || q.Feedback != nil {
		t.Errorf("question = %+v", q)
	}
	if !out.UpdatedAt.After(note.UpdatedAt) {
		t.Error("updatedAt not bumped")
	}
}

func TestApplyAnalysis_DiscardsPriorQuiz(t *testing.T) {
	e := testEngine()
	note := gradedNote()
	out, err := e.ApplyAnalysis(note, analysis.Result{Summary: []string{"new"}, Questions: []string{"N1", "N2"}})
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range out.Analysis.Questions {
		if q.UserAnswer != "" || q.Graded() {
			t.Errorf("stale state survived: %+v", q)
		}
		for _, old := range note.Analysis.Questions {
			if q.ID == old.ID {
				t.Errorf("id %q reused from previous generation", q.ID)
			}
		}
	}
	if note.Analysis.Questions[0].UserAnswer != "light" {
		t.Error("input note was mutated")
	}
}

func TestApplyAnalysis_EmptyContent(t *testing.T) {
	e := testEngine()
	for _, content := range []string{"", "   \n\t"} {
		note := models.Note{ID: "n1", Content: content}
		out, err := e.ApplyAnalysis(note, analysis.Result{Summary: []string{"s"}})
		if !errors.Is(err, apperr.ErrEmptyContent) {
			t.Errorf("content %q: err = %v, want ErrEmptyContent", content, err)
		}
		if out.Analysis != nil {
			t.Errorf("content %q: analysis written on failure", content)
		}
	}
}

func TestSetAnswer_AlwaysUngrades(t *testing.T) {
	e := testEngine()
	note := gradedNote()

	// Same text as before still clears the grade.
	out := e.SetAnswer(note, "a", "light")
	q := out.Analysis.Questions[0]
	if q.IsCorrect != nil || q.Feedback != nil {
		t.Errorf("grade not cleared: %+v", q)
	}
	if q.UserAnswer != "light" {
		t.Errorf("answer = %q", q.UserAnswer)
	}

	out = e.SetAnswer(out, "b", "new answer")
	if out.Analysis.Questions[1].UserAnswer != "new answer" || out.Analysis.Questions[1].Graded() {
		t.Errorf("item b = %+v", out.Analysis.Questions[1])
	}
	if !note.Analysis.Questions[0].Graded() {
		t.Error("input note was mutated")
	}
}

func TestSetAnswer_UnknownID(t *testing.T) {
	e := testEngine()
	note := gradedNote()
	out := e.SetAnswer(note, "zzz", "x")
	if !out.UpdatedAt.Equal(note.UpdatedAt) || !out.Analysis.Questions[0].Graded() {
		t.Error("unknown id changed the note")
	}
	bare := models.Note{ID: "n2"}
	if got := e.SetAnswer(bare, "a", "x"); got.Analysis != nil {
		t.Error("SetAnswer created analysis on a bare note")
	}
}

func TestSubmitForGrading_SelectsNonBlank(t *testing.T) {
	items, err := SubmitForGrading(gradedNote())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != "a" || items[1].ID != "d" {
		t.Errorf("items = %+v, want a and d", items)
	}
	if items[1].AnswerText != "chlorophyll" || items[1].Question != "Q4" {
		t.Errorf("item = %+v", items[1])
	}
}

func TestSubmitForGrading_NothingToGrade(t *testing.T) {
	note := gradedNote()
	for i := range note.Analysis.Questions {
		note.Analysis.Questions[i].UserAnswer = " "
	}
	if _, err := SubmitForGrading(note); !errors.Is(err, apperr.ErrNothingToGrade) {
		t.Errorf("err = %v, want ErrNothingToGrade", err)
	}
	if _, err := SubmitForGrading(models.Note{}); !errors.Is(err, apperr.ErrNothingToGrade) {
		t.Errorf("no analysis: err = %v", err)
	}
}

func TestApplyEvaluation_OnlyMatchedItems(t *testing.T) {
	e := testEngine()
	note := gradedNote()
	out := e.ApplyEvaluation(note, []analysis.Evaluation{
		{QuestionID: "d", IsCorrect: false, Feedback: "It is chlorophyll, but explain why."},
		{QuestionID: "unknown", IsCorrect: true, Feedback: "ignored"},
	})

	if q := out.Analysis.Questions[0]; !q.Graded() || !*q.IsCorrect || *q.Feedback != "Yes" {
		t.Errorf("unrelated graded item changed: %+v", q)
	}
	if q := out.Analysis.Questions[1]; q.IsCorrect != nil || q.Feedback != nil {
		t.Errorf("unsubmitted item changed: %+v", q)
	}
	q := out.Analysis.Questions[3]
	if !q.Graded() || *q.IsCorrect || *q.Feedback != "It is chlorophyll, but explain why." {
		t.Errorf("matched item = %+v", q)
	}
	if len(out.Analysis.Questions) != 4 {
		t.Errorf("item count changed")
	}
}

func TestApplyEvaluation_NoMatchesIsNoop(t *testing.T) {
	e := testEngine()
	note := gradedNote()
	out := e.ApplyEvaluation(note, []analysis.Evaluation{{QuestionID: "x", IsCorrect: true}})
	if !out.UpdatedAt.Equal(note.UpdatedAt) {
		t.Error("updatedAt bumped without any match")
	}
}

func TestReferenceTextIsSummary(t *testing.T) {
	got := ReferenceText(gradedNote())
	if got != "Plants use light.\nChlorophyll absorbs it." {
		t.Errorf("reference = %q", got)
	}
	if ReferenceText(models.Note{Content: "raw"}) != "" {
		t.Error("reference must not fall back to content")
	}
}

func TestScore(t *testing.T) {
	correct, graded, total := Score(gradedNote())
	if correct != 1 || graded != 1 || total != 4 {
		t.Errorf("score = %d/%d/%d", correct, graded, total)
	}
}

func TestSubmitForGrading_TrimsAnswer(t *testing.T) {
	note := gradedNote()
	note.Analysis.Questions[0].UserAnswer = "  light  \n"
	items, err := SubmitForGrading(note)
	if err != nil {
		t.Fatal(err)
	}
	if items[0].ID != "a" || items[0].AnswerText != "light" {
		t.Errorf("item = %+v, want trimmed answer", items[0])
	}
}
