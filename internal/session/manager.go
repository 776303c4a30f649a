// Package session owns the active user and the lifetime of that user's
// note collection.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/blob"
	"github.com/starford/scholia/internal/models"
	"github.com/starford/scholia/internal/notestore"
)

// KeyActive holds the active-session marker used to resume after restart.
const KeyActive = "session/active"

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithIDs overrides the user id generator.
func WithIDs(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// WithStoreOptions passes options to every note store the manager loads.
func WithStoreOptions(opts ...notestore.Option) Option {
	return func(m *Manager) { m.storeOpts = append(m.storeOpts, opts...) }
}

// Manager holds at most one active user. It is not safe for concurrent use.
type Manager struct {
	blob      blob.Store
	creds     *Credentials
	logger    *slog.Logger
	newID     func() string
	storeOpts []notestore.Option

	user  *models.User
	notes *notestore.Store
}

// NewManager returns a Manager with no active session.
func NewManager(b blob.Store, opts ...Option) *Manager {
	m := &Manager{
		blob:   b,
		creds:  NewCredentials(b),
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.storeOpts = append([]notestore.Option{notestore.WithLogger(m.logger)}, m.storeOpts...)
	return m
}

// Resume restores the session recorded by the active-session marker.
// It reports whether a session was resumed.
func (m *Manager) Resume() (bool, error) {
	data, ok, err := m.blob.Get(KeyActive)
	if err != nil {
		return false, fmt.Errorf("session: read marker: %w", err)
	}
	if !ok {
		return false, nil
	}
	var u models.User
	if err := json.Unmarshal(data, &u); err != nil || u.ID == "" {
		m.logger.Warn("session: discarding unreadable marker")
		if err := m.blob.Delete(KeyActive); err != nil {
			return false, fmt.Errorf("session: clear marker: %w", err)
		}
		return false, nil
	}
	if err := m.Login(u); err != nil {
		return false, err
	}
	m.logger.Info("session: resumed", slog.String("username", u.Username))
	return true, nil
}

// Register creates a user and logs it in.
func (m *Manager) Register(username, password string) (models.User, error) {
	if err := validateCredentials(username, password); err != nil {
		return models.User{}, err
	}
	_, exists, err := m.creds.Lookup(username)
	if err != nil {
		return models.User{}, err
	}
	if exists {
		return models.User{}, apperr.ErrDuplicateUsername
	}
	u := models.User{ID: m.newID(), Username: username, Password: password}
	if err := m.creds.Insert(u); err != nil {
		return models.User{}, err
	}
	m.logger.Info("session: registered", slog.String("username", username))
	return u, m.Login(u)
}

// Authenticate returns the user matching username and password exactly.
func (m *Manager) Authenticate(username, password string) (models.User, error) {
	u, ok, err := m.creds.Lookup(username)
	if err != nil {
		return models.User{}, err
	}
	if !ok || u.Password != password {
		return models.User{}, apperr.ErrInvalidCredentials
	}
	return u, nil
}

// Login makes u the active user, loads its notes and records the marker.
// Any previous session is replaced.
func (m *Manager) Login(u models.User) error {
	store, err := notestore.Load(m.blob, u.ID, m.storeOpts...)
	if err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("session: encode marker: %w", err)
	}
	if err := m.blob.Set(KeyActive, data); err != nil {
		return fmt.Errorf("session: write marker: %w", err)
	}
	m.user = &u
	m.notes = store
	return nil
}

// Logout clears the active user and marker. Stored notes are kept.
func (m *Manager) Logout() error {
	if err := m.blob.Delete(KeyActive); err != nil {
		return fmt.Errorf("session: clear marker: %w", err)
	}
	if m.user != nil {
		m.logger.Info("session: logged out", slog.String("username", m.user.Username))
	}
	m.user = nil
	m.notes = nil
	return nil
}

// Active returns the active user.
func (m *Manager) Active() (models.User, bool) {
	if m.user == nil {
		return models.User{}, false
	}
	return *m.user, true
}

// Notes returns the active user's note store.
func (m *Manager) Notes() (*notestore.Store, error) {
	if m.notes == nil {
		return nil, apperr.ErrNoSession
	}
	return m.notes, nil
}

func validateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", apperr.ErrInvalidInput)
	}
	return nil
}
