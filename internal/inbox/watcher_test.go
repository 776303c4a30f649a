package inbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/blob"
	"github.com/starford/scholia/internal/models"
	"github.com/starford/scholia/internal/noteservice"
	"github.com/starford/scholia/internal/session"
	"github.com/starford/scholia/internal/testutil"
)

type fakeImporter struct {
	mu   sync.Mutex
	docs []string
	err  error
}

func (f *fakeImporter) ImportMarkdown(_ context.Context, data []byte) (models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Note{}, f.err
	}
	f.docs = append(f.docs, string(data))
	return models.Note{ID: "n1"}, nil
}

func (f *fakeImporter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeImporter) imported() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.docs...)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startWatcher runs a watcher on a fresh directory and waits until its
// subdirectories exist, which happens before events are consumed.
func startWatcher(t *testing.T, dir string, imp Importer) *Watcher {
	t.Helper()
	w := New(dir, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx, imp, quietLogger()); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		_, err := os.Stat(filepath.Join(dir, RejectedDir))
		return err == nil
	}, "watcher did not start")
	time.Sleep(50 * time.Millisecond)
	return w
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func TestWatcher_ImportsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.md"), []byte("# Old"), 0o644); err != nil {
		t.Fatal(err)
	}
	imp := &fakeImporter{}
	startWatcher(t, dir, imp)

	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return len(imp.imported()) == 1
	}, "existing file not imported")
	if _, err := os.Stat(filepath.Join(dir, "old.md")); !os.IsNotExist(err) {
		t.Errorf("old.md still in inbox: %v", err)
	}
	if n := countFiles(t, filepath.Join(dir, ImportedDir)); n != 1 {
		t.Errorf("imported dir has %d files, want 1", n)
	}
}

func TestWatcher_ImportsNewFile(t *testing.T) {
	dir := t.TempDir()
	imp := &fakeImporter{}
	startWatcher(t, dir, imp)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("plain"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".swap.md"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.md"), []byte("# New\n\nBody"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		docs := imp.imported()
		return len(docs) == 1 && docs[0] == "# New\n\nBody"
	}, "new file not imported")

	time.Sleep(100 * time.Millisecond)
	if docs := imp.imported(); len(docs) != 1 {
		t.Errorf("imported %d docs, want 1", len(docs))
	}
	for _, name := range []string{"notes.txt", ".swap.md"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should be left alone: %v", name, err)
		}
	}
}

func TestWatcher_RejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	imp := &fakeImporter{err: apperr.ErrInvalidInput}
	startWatcher(t, dir, imp)

	if err := os.WriteFile(filepath.Join(dir, "empty.md"), []byte("   "), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return countFiles(t, filepath.Join(dir, RejectedDir)) == 1
	}, "invalid file not moved to rejected")
}

func TestWatcher_DeferredUntilSessionChanges(t *testing.T) {
	dir := t.TempDir()
	imp := &fakeImporter{err: apperr.ErrNoSession}
	w := startWatcher(t, dir, imp)

	path := filepath.Join(dir, "later.md")
	if err := os.WriteFile(path, []byte("# Later"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("deferred file should stay in place: %v", err)
	}

	imp.setErr(nil)
	w.PublishNoteEvent(noteservice.EventNoteUpdated, "x")
	time.Sleep(100 * time.Millisecond)
	if len(imp.imported()) != 0 {
		t.Fatal("non-session event triggered a rescan")
	}

	w.PublishNoteEvent(noteservice.EventSessionChanged, "")
	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return len(imp.imported()) == 1
	}, "deferred file not imported after session change")
}

func TestWatcher_WithNoteService(t *testing.T) {
	dir := t.TempDir()
	sessions := session.NewManager(blob.NewMemory(), session.WithIDs(testutil.IDs("u")))
	svc := noteservice.NewService(sessions, &testutil.FakeAnalysis{})
	if _, err := svc.Register(context.Background(), "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	startWatcher(t, dir, svc)

	doc := "---\ntitle: Mitosis\n---\n\nCells divide."
	if err := os.WriteFile(filepath.Join(dir, "mitosis.md"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		notes, err := svc.ListNotes(context.Background(), "")
		return err == nil && len(notes) == 1 && notes[0].Title == "Mitosis"
	}, "note not created from inbox file")
}

func TestIsMarkdown(t *testing.T) {
	cases := map[string]bool{
		"a.md":       true,
		"A.MD":       true,
		"/x/y/b.md":  true,
		".hidden.md": false,
		"notes.txt":  false,
		"md":         false,
		"a.md.swp":   false,
		"/x/.tmp.md": false,
	}
	for name, want := range cases {
		if got := isMarkdown(name); got != want {
			t.Errorf("isMarkdown(%q) = %v, want %v", name, got, want)
		}
	}
}
