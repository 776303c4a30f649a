package session

import (
	"encoding/json"
	"fmt"

	"github.com/starford/scholia/internal/blob"
	"github.com/starford/scholia/internal/models"
)

// KeyUsers holds every registered credential as one JSON array.
// Passwords are kept as entered to stay compatible with existing data.
const KeyUsers = "users"

// Credentials is a lookup/insert view over the shared users blob.
type Credentials struct {
	blob blob.Store
}

// NewCredentials returns a credential store backed by b.
func NewCredentials(b blob.Store) *Credentials {
	return &Credentials{blob: b}
}

// All returns every stored user.
func (c *Credentials) All() ([]models.User, error) {
	data, ok, err := c.blob.Get(KeyUsers)
	if err != nil {
		return nil, fmt.Errorf("session: read users: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var users []models.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("session: decode users: %w", err)
	}
	return users, nil
}

// Lookup finds username with an exact, case-sensitive match.
func (c *Credentials) Lookup(username string) (models.User, bool, error) {
	users, err := c.All()
	if err != nil {
		return models.User{}, false, err
	}
	for _, u := range users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return models.User{}, false, nil
}

// Insert appends u and rewrites the users blob.
func (c *Credentials) Insert(u models.User) error {
	users, err := c.All()
	if err != nil {
		return err
	}
	users = append(users, u)
	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("session: encode users: %w", err)
	}
	if err := c.blob.Set(KeyUsers, data); err != nil {
		return fmt.Errorf("session: write users: %w", err)
	}
	return nil
}
