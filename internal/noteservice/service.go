// Package noteservice is the single entry point the REST and MCP surfaces use
// to drive sessions, notes and the AI-backed study workflow.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/scholia/internal/analysis"
	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/chat"
	"github.com/starford/scholia/internal/markdown"
	"github.com/starford/scholia/internal/models"
	"github.com/starford/scholia/internal/notestore"
	"github.com/starford/scholia/internal/quiz"
	"github.com/starford/scholia/internal/session"
)

// Event kinds published after committed changes.
const (
	EventNoteCreated    = "note.created"
	EventNoteUpdated    = "note.updated"
	EventNoteDeleted    = "note.deleted"
	EventAnalysisReady  = "analysis.ready"
	EventQuizGraded     = "quiz.graded"
	EventChatMessage    = "chat.message"
	EventSessionChanged = "session.changed"
)

// Publisher receives change notifications. noteID is empty for session events.
type Publisher interface {
	PublishNoteEvent(kind, noteID string)
}

type nopPublisher struct{}

func (nopPublisher) PublishNoteEvent(string, string) {}

// Publishers fans one event out to several sinks in order.
type Publishers []Publisher

// PublishNoteEvent implements Publisher.
func (ps Publishers) PublishNoteEvent(kind, noteID string) {
	for _, p := range ps {
		p.PublishNoteEvent(kind, noteID)
	}
}

// SessionInfo describes the active session.
type SessionInfo struct {
	User       models.User
	SelectedID string
	// Warning is set when the user's stored notes could not be read at login.
	Warning string
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source for edits and imports.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithQuiz overrides the quiz engine.
func WithQuiz(e *quiz.Engine) Option {
	return func(s *Service) { s.quiz = e }
}

// WithChat overrides the chat session.
func WithChat(c *chat.Session) Option {
	return func(s *Service) { s.chat = c }
}

// Service serialises state changes behind one mutex. The mutex is never held
// while waiting on the analysis client.
type Service struct {
	mu       sync.Mutex
	sessions *session.Manager
	client   analysis.Client
	quiz     *quiz.Engine
	chat     *chat.Session
	pub      Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a note service over sessions and client.
func NewService(sessions *session.Manager, client analysis.Client, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		client:   client,
		quiz:     quiz.New(),
		chat:     chat.New(),
		pub:      nopPublisher{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- session ---

// Register creates an account and makes it the active session.
func (s *Service) Register(_ context.Context, username, password string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.sessions.Register(username, password)
	if err != nil {
		return models.User{}, err
	}
	s.pub.PublishNoteEvent(EventSessionChanged, "")
	return u, nil
}

// Login authenticates and replaces the active session.
func (s *Service) Login(_ context.Context, username, password string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.sessions.Authenticate(username, password)
	if err != nil {
		return models.User{}, err
	}
	if err := s.sessions.Login(u); err != nil {
		return models.User{}, err
	}
	s.logger.Info("noteservice: logged in", slog.String("username", u.Username))
	s.pub.PublishNoteEvent(EventSessionChanged, "")
	return u, nil
}

// Logout ends the active session.
func (s *Service) Logout(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sessions.Logout(); err != nil {
		return err
	}
	s.pub.PublishNoteEvent(EventSessionChanged, "")
	return nil
}

// CurrentUser returns the active session.
func (s *Service) CurrentUser(_ context.Context) (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.sessions.Active()
	if !ok {
		return SessionInfo{}, apperr.ErrNoSession
	}
	store, err := s.sessions.Notes()
	if err != nil {
		return SessionInfo{}, err
	}
	info := SessionInfo{User: u}
	if n, ok := store.Selected(); ok {
		info.SelectedID = n.ID
	}
	if w := store.Warning(); w != nil {
		info.Warning = w.Error()
	}
	return info, nil
}

// --- notes ---

// ListNotes returns the active user's notes, newest first, filtered by query.
func (s *Service) ListNotes(_ context.Context, query string) ([]models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.sessions.Notes()
	if err != nil {
		return nil, err
	}
	return store.Search(query), nil
}

// GetNote returns one note.
func (s *Service) GetNote(_ context.Context, id string) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, n, err := s.lookup(id)
	return n, err
}

// CreateNote adds a blank note at the top of the list and selects it.
func (s *Service) CreateNote(_ context.Context) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.sessions.Notes()
	if err != nil {
		return models.Note{}, err
	}
	n, err := store.Add()
	if err != nil {
		return models.Note{}, err
	}
	s.pub.PublishNoteEvent(EventNoteCreated, n.ID)
	return n, nil
}

// ImportMarkdown creates a note from a Markdown document.
func (s *Service) ImportMarkdown(_ context.Context, data []byte) (models.Note, error) {
	doc := markdown.Parse(data)
	if strings.TrimSpace(doc.Body) == "" && doc.Title == "" {
		return models.Note{}, fmt.Errorf("%w: document is empty", apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.sessions.Notes()
	if err != nil {
		return models.Note{}, err
	}
	now := s.now()
	n := models.Note{
		Title:     doc.Title,
		Content:   doc.Body,
		CreatedAt: orNow(doc.Created, now),
		UpdatedAt: orNow(doc.Updated, now),
	}
	if err := store.Insert(n); err != nil {
		return models.Note{}, err
	}
	n, _ = store.Selected()
	s.pub.PublishNoteEvent(EventNoteCreated, n.ID)
	return n, nil
}

// ExportMarkdown renders a note as Markdown.
func (s *Service) ExportMarkdown(_ context.Context, id string) (models.Note, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, n, err := s.lookup(id)
	if err != nil {
		return models.Note{}, nil, err
	}
	data, err := markdown.Render(n)
	return n, data, err
}

// UpdateNote edits title and/or content. Nil fields are left unchanged.
func (s *Service) UpdateNote(_ context.Context, id string, title, content *string) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.sessions.Notes()
	if err != nil {
		return models.Note{}, err
	}
	n, err := store.Apply(id, func(n models.Note) (models.Note, error) {
		if title != nil {
			n.Title = *title
		}
		if content != nil {
			n.Content = *content
		}
		n.UpdatedAt = s.now()
		return n, nil
	})
	if err != nil {
		return models.Note{}, err
	}
	s.pub.PublishNoteEvent(EventNoteUpdated, id)
	return n, nil
}

// DeleteNote removes a note.
func (s *Service) DeleteNote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, _, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := store.Remove(id); err != nil {
		return err
	}
	s.pub.PublishNoteEvent(EventNoteDeleted, id)
	return nil
}

// SelectNote marks id as the selected note.
func (s *Service) SelectNote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.sessions.Notes()
	if err != nil {
		return err
	}
	return store.Select(id)
}

// --- study workflow ---

// ExtractText transcribes an image and appends the text to the note content.
func (s *Service) ExtractText(ctx context.Context, id, imageBase64, mimeType string) (models.Note, error) {
	store, _, err := s.snapshot(id)
	if err != nil {
		return models.Note{}, err
	}
	text, err := s.client.ExtractText(context.WithoutCancel(ctx), imageBase64, mimeType)
	if err != nil {
		s.logger.Error("noteservice: extraction failed", slog.String("note_id", id), slog.String("error", err.Error()))
		return models.Note{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stillActive(store); err != nil {
		return models.Note{}, err
	}
	n, err := store.Apply(id, func(n models.Note) (models.Note, error) {
		if strings.TrimSpace(n.Content) == "" {
			n.Content = text
		} else {
			n.Content = strings.TrimRight(n.Content, "\n") + "\n\n" + text
		}
		n.UpdatedAt = s.now()
		return n, nil
	})
	if err != nil {
		return models.Note{}, err
	}
	s.pub.PublishNoteEvent(EventNoteUpdated, id)
	return n, nil
}

// AnalyzeNote generates a summary and quiz, replacing any previous analysis.
// Provider failures leave the note untouched.
func (s *Service) AnalyzeNote(ctx context.Context, id string) (models.Note, error) {
	store, n, err := s.snapshot(id)
	if err != nil {
		return models.Note{}, err
	}
	if err := quiz.CheckAnalyzable(n); err != nil {
		return models.Note{}, err
	}
	res, err := s.client.Analyze(context.WithoutCancel(ctx), n.Content)
	if err != nil {
		s.logger.Error("noteservice: analysis failed", slog.String("note_id", id), slog.String("error", err.Error()))
		return models.Note{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stillActive(store); err != nil {
		return models.Note{}, err
	}
	out, err := store.Apply(id, func(cur models.Note) (models.Note, error) {
		return s.quiz.ApplyAnalysis(cur, res)
	})
	if err != nil {
		return models.Note{}, err
	}
	s.pub.PublishNoteEvent(EventAnalysisReady, id)
	return out, nil
}

// SetAnswer records an answer for one question and clears its grade.
// Unknown question ids leave the note unchanged.
func (s *Service) SetAnswer(_ context.Context, id, questionID, answer string) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.sessions.Notes()
	if err != nil {
		return models.Note{}, err
	}
	n, err := store.Apply(id, func(cur models.Note) (models.Note, error) {
		return s.quiz.SetAnswer(cur, questionID, answer), nil
	})
	if err != nil {
		return models.Note{}, err
	}
	s.pub.PublishNoteEvent(EventNoteUpdated, id)
	return n, nil
}

// GradeQuiz evaluates every answered question against the summary.
func (s *Service) GradeQuiz(ctx context.Context, id string) (models.Note, error) {
	store, n, err := s.snapshot(id)
	if err != nil {
		return models.Note{}, err
	}
	items, err := quiz.SubmitForGrading(n)
	if err != nil {
		return models.Note{}, err
	}
	results, err := s.client.Evaluate(context.WithoutCancel(ctx), quiz.ReferenceText(n), items)
	if err != nil {
		s.logger.Error("noteservice: evaluation failed", slog.String("note_id", id), slog.String("error", err.Error()))
		return models.Note{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stillActive(store); err != nil {
		return models.Note{}, err
	}
	out, err := store.Apply(id, func(cur models.Note) (models.Note, error) {
		return s.quiz.ApplyEvaluation(cur, results), nil
	})
	if err != nil {
		return models.Note{}, err
	}
	s.pub.PublishNoteEvent(EventQuizGraded, id)
	return out, nil
}

// SendChat appends the user's message, asks the tutor and appends the reply.
// A failed tutor call appends an apology instead of returning an error.
func (s *Service) SendChat(ctx context.Context, id, text string) (models.Note, error) {
	s.mu.Lock()
	store, n, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return models.Note{}, err
	}
	if err := chat.CheckSendable(n, text); err != nil {
		s.mu.Unlock()
		return models.Note{}, err
	}
	prior := chat.Turns(n.ChatHistory)
	n, err = store.Apply(id, func(cur models.Note) (models.Note, error) {
		return s.chat.AppendUserMessage(cur, text)
	})
	s.mu.Unlock()
	if err != nil {
		return models.Note{}, err
	}
	s.pub.PublishNoteEvent(EventChatMessage, id)

	reply, chatErr := s.client.Chat(context.WithoutCancel(ctx), n.Content, prior, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stillActive(store); err != nil {
		s.logger.Warn("noteservice: dropping tutor reply, session changed", slog.String("note_id", id))
		return n, nil
	}
	out, err := store.Apply(id, func(cur models.Note) (models.Note, error) {
		if chatErr != nil {
			return s.chat.AppendApology(cur), nil
		}
		return s.chat.AppendModelReply(cur, reply), nil
	})
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("noteservice: dropping tutor reply, note deleted", slog.String("note_id", id))
		return n, nil
	}
	if err != nil {
		return models.Note{}, err
	}
	if chatErr != nil {
		s.logger.Warn("noteservice: tutor call failed", slog.String("note_id", id), slog.String("error", chatErr.Error()))
	}
	s.pub.PublishNoteEvent(EventChatMessage, id)
	return out, nil
}

// lookup returns the active store and a copy of note id. Callers hold mu.
func (s *Service) lookup(id string) (*notestore.Store, models.Note, error) {
	store, err := s.sessions.Notes()
	if err != nil {
		return nil, models.Note{}, err
	}
	n, ok := store.Get(id)
	if !ok {
		return nil, models.Note{}, fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
	}
	return store, n, nil
}

// snapshot is lookup under the lock, for operations that then call out.
func (s *Service) snapshot(id string) (*notestore.Store, models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(id)
}

// stillActive reports ErrNoSession if the session that started a provider
// call has since ended or been replaced. Callers hold mu.
func (s *Service) stillActive(store *notestore.Store) error {
	cur, err := s.sessions.Notes()
	if err != nil || cur != store {
		return apperr.ErrNoSession
	}
	return nil
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
