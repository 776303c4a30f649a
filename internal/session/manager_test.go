package session

import (
	"errors"
	"testing"

	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/blob"
	"github.com/starford/scholia/internal/testutil"
)

func testManager(b blob.Store) *Manager {
	return NewManager(b, WithIDs(testutil.IDs("u")))
}

func TestRegister_DuplicateKeepsOriginal(t *testing.T) {
	b := blob.NewMemory()
	m := testManager(b)

	if _, err := m.Register("alice", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := m.Register("alice", "pw2"); !errors.Is(err, apperr.ErrDuplicateUsername) {
		t.Fatalf("second Register err = %v, want ErrDuplicateUsername", err)
	}

	users, err := NewCredentials(b).All()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, u := range users {
		if u.Username == "alice" {
			count++
			if u.Password != "pw1" {
				t.Errorf("password = %q, want pw1", u.Password)
			}
		}
	}
	if count != 1 {
		t.Errorf("alice records = %d, want 1", count)
	}
}

func TestRegister_LogsIn(t *testing.T) {
	m := testManager(blob.NewMemory())
	u, err := m.Register("bob", "secret")
	if err != nil {
		t.Fatal(err)
	}
	active, ok := m.Active()
	if !ok || active.ID != u.ID {
		t.Errorf("active = %+v, %v", active, ok)
	}
	if _, err := m.Notes(); err != nil {
		t.Errorf("Notes after register: %v", err)
	}
}

func TestRegister_CaseSensitive(t *testing.T) {
	m := testManager(blob.NewMemory())
	_, _ = m.Register("alice", "pw")
	if _, err := m.Register("Alice", "pw"); err != nil {
		t.Errorf("usernames differing in case should both register: %v", err)
	}
}

func TestRegister_BlankInput(t *testing.T) {
	m := testManager(blob.NewMemory())
	if _, err := m.Register(" ", "pw"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("blank username err = %v", err)
	}
	if _, err := m.Register("carol", ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("blank password err = %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	b := blob.NewMemory()
	m := testManager(b)
	reg, _ := m.Register("alice", "pw1")

	u, err := m.Authenticate("alice", "pw1")
	if err != nil || u.ID != reg.ID {
		t.Errorf("Authenticate = %+v, %v", u, err)
	}
	for _, c := range [][2]string{{"alice", "PW1"}, {"alice", ""}, {"nobody", "pw1"}, {"Alice", "pw1"}} {
		if _, err := m.Authenticate(c[0], c[1]); !errors.Is(err, apperr.ErrInvalidCredentials) {
			t.Errorf("Authenticate(%q,%q) err = %v", c[0], c[1], err)
		}
	}
}

func TestLogoutAndResume(t *testing.T) {
	b := blob.NewMemory()
	m := testManager(b)
	u, _ := m.Register("alice", "pw")
	store, _ := m.Notes()
	_, _ = store.Add()

	// A new process resumes from the marker.
	restarted := testManager(b)
	ok, err := restarted.Resume()
	if err != nil || !ok {
		t.Fatalf("Resume = %v, %v", ok, err)
	}
	active, _ := restarted.Active()
	if active.ID != u.ID {
		t.Errorf("resumed user = %q, want %q", active.ID, u.ID)
	}
	rs, _ := restarted.Notes()
	if len(rs.Notes()) != 1 {
		t.Errorf("resumed notes = %d, want 1", len(rs.Notes()))
	}

	if err := restarted.Logout(); err != nil {
		t.Fatal(err)
	}
	if _, ok := restarted.Active(); ok {
		t.Error("still active after logout")
	}
	if _, err := restarted.Notes(); !errors.Is(err, apperr.ErrNoSession) {
		t.Errorf("Notes after logout err = %v", err)
	}

	fresh := testManager(b)
	if ok, _ := fresh.Resume(); ok {
		t.Error("resumed after logout")
	}

	// Notes survive logout.
	_ = fresh.Login(u)
	fs, _ := fresh.Notes()
	if len(fs.Notes()) != 1 {
		t.Errorf("notes after re-login = %d, want 1", len(fs.Notes()))
	}
}

func TestResume_BadMarkerCleared(t *testing.T) {
	b := blob.NewMemory()
	_ = b.Set(KeyActive, []byte("garbage"))
	m := testManager(b)
	ok, err := m.Resume()
	if err != nil || ok {
		t.Fatalf("Resume = %v, %v", ok, err)
	}
	if _, present, _ := b.Get(KeyActive); present {
		t.Error("bad marker not removed")
	}
}

func TestLogin_UsersIsolated(t *testing.T) {
	b := testutil.TestSQLite(t)
	m := testManager(b)
	alice, _ := m.Register("alice", "pw")
	s, _ := m.Notes()
	_, _ = s.Add()

	_, _ = m.Register("bob", "pw")
	bs, _ := m.Notes()
	if len(bs.Notes()) != 0 {
		t.Errorf("bob sees %d notes", len(bs.Notes()))
	}

	_ = m.Login(alice)
	as, _ := m.Notes()
	if len(as.Notes()) != 1 {
		t.Errorf("alice has %d notes, want 1", len(as.Notes()))
	}
}
