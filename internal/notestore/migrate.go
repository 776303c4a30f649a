package notestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/models"
)

// storedNote mirrors models.Note but keeps questions raw so the legacy
// shape (a list of bare strings) can be detected before decoding.
type storedNote struct {
	models.Note
	Analysis *storedAnalysis `json:"analysis,omitempty"`
}

type storedAnalysis struct {
	Summary   []string        `json:"summary"`
	Questions json.RawMessage `json:"questions"`
}

// Report describes what Decode changed.
type Report struct {
	// Migrated counts notes whose legacy question list was upgraded.
	Migrated int
	// Damaged lists notes whose question list could not be read; they are
	// kept without their analysis.
	Damaged []string
}

// Err returns apperr.ErrCorruptStore naming the damaged notes, or nil.
func (r Report) Err() error {
	if len(r.Damaged) == 0 {
		return nil
	}
	return fmt.Errorf("%w: analysis dropped for notes %s", apperr.ErrCorruptStore, strings.Join(r.Damaged, ", "))
}

// Decode parses a persisted collection, upgrading legacy question lists.
// A blob that does not parse yields apperr.ErrCorruptStore. A single note
// with an unreadable question list only loses its analysis.
func Decode(data []byte, newID func() string) ([]models.Note, Report, error) {
	var rep Report
	var raw []storedNote
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, rep, fmt.Errorf("%w: %v", apperr.ErrCorruptStore, err)
	}

	notes := make([]models.Note, 0, len(raw))
	for _, sn := range raw {
		n := sn.Note
		n.Analysis = nil
		if sn.Analysis != nil {
			questions, legacy, err := decodeQuestions(sn.Analysis.Questions, newID)
			if err != nil {
				rep.Damaged = append(rep.Damaged, n.ID)
				notes = append(notes, n)
				continue
			}
			if legacy {
				rep.Migrated++
			}
			n.Analysis = &models.Analysis{
				Summary:   sn.Analysis.Summary,
				Questions: questions,
			}
		}
		notes = append(notes, n)
	}
	return notes, rep, nil
}

// decodeQuestions reports legacy=true when the first element is a bare
// string, in which case every element becomes a fresh unanswered QuizItem.
func decodeQuestions(raw json.RawMessage, newID func() string) ([]models.QuizItem, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, false, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, false, err
	}
	if len(elems) == 0 {
		return []models.QuizItem{}, false, nil
	}

	if first := bytes.TrimSpace(elems[0]); len(first) == 0 || first[0] != '"' {
		var items []models.QuizItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, false, err
		}
		return items, false, nil
	}

	items := make([]models.QuizItem, 0, len(elems))
	for i, e := range elems {
		var text string
		if err := json.Unmarshal(e, &text); err != nil {
			return nil, false, fmt.Errorf("legacy question %d is not a string", i)
		}
		items = append(items, models.QuizItem{ID: newID(), Question: text})
	}
	return items, true, nil
}
