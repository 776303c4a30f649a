// Package notestore holds the active user's notes in memory and persists
// the whole collection as one blob after every change.
package notestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/blob"
	"github.com/starford/scholia/internal/models"
)

// Key returns the blob key holding userID's notes.
func Key(userID string) string {
	return "notes/" + userID
}

// corruptKey preserves an unreadable blob before it is overwritten.
func corruptKey(userID string, at time.Time) string {
	return fmt.Sprintf("notes/%s/corrupt-%d", userID, at.UnixNano())
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the id generator.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the authoritative note collection for one user, newest first.
// It is not safe for concurrent use; callers serialise access.
type Store struct {
	blob     blob.Store
	userID   string
	notes    []models.Note
	selected string
	warning  error

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Load reads userID's collection. An absent blob yields an empty store.
// A corrupt blob is logged, copied aside, and also yields an empty store;
// Warning reports it. Only blob read failures are returned as errors.
func Load(b blob.Store, userID string, opts ...Option) (*Store, error) {
	s := &Store{
		blob:   b,
		userID: userID,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, ok, err := b.Get(Key(userID))
	if err != nil {
		return nil, fmt.Errorf("notestore: load %s: %w", userID, err)
	}
	if !ok {
		return s, nil
	}

	notes, rep, err := Decode(data, s.newID)
	if err != nil {
		s.warning = err
		s.logger.Warn("notestore: corrupt blob, starting empty",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		s.preserve(data)
		return s, nil
	}
	if err := rep.Err(); err != nil {
		s.warning = err
		s.logger.Warn("notestore: unreadable questions, analysis dropped",
			slog.String("user_id", userID),
			slog.Any("note_ids", rep.Damaged))
		s.preserve(data)
	}

	s.notes = notes
	if len(notes) > 0 {
		s.selected = notes[0].ID
	}
	if rep.Migrated > 0 {
		s.logger.Info("notestore: migrated legacy questions",
			slog.String("user_id", userID),
			slog.Int("notes", rep.Migrated))
		if err := s.persist(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// preserve copies an unreadable blob aside before it can be overwritten.
func (s *Store) preserve(data []byte) {
	if err := s.blob.Set(corruptKey(s.userID, s.now()), data); err != nil {
		s.logger.Error("notestore: preserve corrupt blob failed",
			slog.String("user_id", s.userID),
			slog.String("error", err.Error()))
	}
}

// UserID returns the owner of the collection.
func (s *Store) UserID() string { return s.userID }

// Warning returns the load-time corruption error, if any.
func (s *Store) Warning() error { return s.warning }

// Notes returns a copy of the collection in order.
func (s *Store) Notes() []models.Note {
	out := make([]models.Note, len(s.notes))
	for i, n := range s.notes {
		out[i] = n.Clone()
	}
	return out
}

// Search returns notes whose title or content contains query, case-insensitively.
// An empty query returns every note.
func (s *Store) Search(query string) []models.Note {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.Notes()
	}
	var out []models.Note
	for _, n := range s.notes {
		if strings.Contains(strings.ToLower(n.Title), q) || strings.Contains(strings.ToLower(n.Content), q) {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Get returns the note with id.
func (s *Store) Get(id string) (models.Note, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return models.Note{}, false
	}
	return s.notes[i].Clone(), true
}

// Selected returns the selected note, if any.
func (s *Store) Selected() (models.Note, bool) {
	if s.selected == "" {
		return models.Note{}, false
	}
	return s.Get(s.selected)
}

// Select marks id as the selected note.
func (s *Store) Select(id string) error {
	if s.indexOf(id) < 0 {
		return fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
	}
	s.selected = id
	return nil
}

// Add prepends a blank note, selects it and persists.
func (s *Store) Add() (models.Note, error) {
	now := s.now()
	n := models.Note{
		ID:        s.newID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return n, s.insert(n)
}

// Insert prepends a fully formed note (used by imports), selects it and persists.
func (s *Store) Insert(n models.Note) error {
	if n.ID == "" {
		n.ID = s.newID()
	}
	return s.insert(n)
}

func (s *Store) insert(n models.Note) error {
	s.notes = append([]models.Note{n.Clone()}, s.notes...)
	s.selected = n.ID
	return s.persist()
}

// Update replaces the note with the same id in place. Unknown ids are ignored.
func (s *Store) Update(n models.Note) error {
	i := s.indexOf(n.ID)
	if i < 0 {
		return nil
	}
	s.notes[i] = n.Clone()
	return s.persist()
}

// Apply looks up id, runs fn on its current value and stores the result.
// fn errors abort without any change.
func (s *Store) Apply(id string, fn func(models.Note) (models.Note, error)) (models.Note, error) {
	i := s.indexOf(id)
	if i < 0 {
		return models.Note{}, fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
	}
	next, err := fn(s.notes[i].Clone())
	if err != nil {
		return models.Note{}, err
	}
	next.ID = id
	s.notes[i] = next.Clone()
	return next, s.persist()
}

// Remove deletes id. If it was selected, selection moves to the first
// remaining note or to none.
func (s *Store) Remove(id string) error {
	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	s.notes = append(s.notes[:i], s.notes[i+1:]...)
	if s.selected == id {
		s.selected = ""
		if len(s.notes) > 0 {
			s.selected = s.notes[0].ID
		}
	}
	return s.persist()
}

func (s *Store) indexOf(id string) int {
	for i := range s.notes {
		if s.notes[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persist() error {
	notes := s.notes
	if notes == nil {
		notes = []models.Note{}
	}
	data, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("notestore: encode: %w", err)
	}
	if err := s.blob.Set(Key(s.userID), data); err != nil {
		return fmt.Errorf("notestore: persist %s: %w", s.userID, err)
	}
	return nil
}
