package noteservice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/starford/scholia/internal/analysis"
	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/blob"
	"github.com/starford/scholia/internal/chat"
	"github.com/starford/scholia/internal/models"
	"github.com/starford/scholia/internal/notestore"
	"github.com/starford/scholia/internal/quiz"
	"github.com/starford/scholia/internal/session"
	"github.com/starford/scholia/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishNoteEvent(kind, noteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+noteID)
}

func (r *recorder) has(kind, noteID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == kind+":"+noteID {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T, fake *testutil.FakeAnalysis) (*Service, *recorder) {
	t.Helper()
	clock := testutil.Clock()
	sessions := session.NewManager(blob.NewMemory(),
		session.WithIDs(testutil.IDs("u")),
		session.WithStoreOptions(notestore.WithClock(clock), notestore.WithIDs(testutil.IDs("n"))),
	)
	rec := &recorder{}
	svc := NewService(sessions, fake,
		WithPublisher(rec),
		WithClock(clock),
		WithQuiz(quiz.New(quiz.WithClock(clock), quiz.WithIDs(testutil.IDs("q")))),
		WithChat(chat.New(chat.WithClock(clock), chat.WithIDs(testutil.IDs("m")))),
	)
	if _, err := svc.Register(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return svc, rec
}

func createWithContent(t *testing.T, svc *Service, content string) models.Note {
	t.Helper()
	ctx := context.Background()
	n, err := svc.CreateNote(ctx)
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	title := "Note"
	n, err = svc.UpdateNote(ctx, n.ID, &title, &content)
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	return n
}

func TestNoSession(t *testing.T) {
	svc, _ := newTestService(t, &testutil.FakeAnalysis{})
	ctx := context.Background()
	if err := svc.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ListNotes(ctx, ""); !errors.Is(err, apperr.ErrNoSession) {
		t.Errorf("ListNotes err = %v, want ErrNoSession", err)
	}
	if _, err := svc.CurrentUser(ctx); !errors.Is(err, apperr.ErrNoSession) {
		t.Errorf("CurrentUser err = %v, want ErrNoSession", err)
	}
}

func TestLogin_RestoresNotes(t *testing.T) {
	svc, rec := newTestService(t, &testutil.FakeAnalysis{})
	ctx := context.Background()
	n := createWithContent(t, svc, "kept")
	if err := svc.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("bad password err = %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	got, err := svc.GetNote(ctx, n.ID)
	if err != nil || got.Content != "kept" {
		t.Errorf("GetNote = %+v, %v", got, err)
	}
	info, err := svc.CurrentUser(ctx)
	if err != nil || info.User.Username != "alice" || info.SelectedID != n.ID {
		t.Errorf("CurrentUser = %+v, %v", info, err)
	}
	if !rec.has(EventSessionChanged, "") {
		t.Error("session.changed not published")
	}
}

func TestCreateNote_NewestFirst(t *testing.T) {
	svc, rec := newTestService(t, &testutil.FakeAnalysis{})
	ctx := context.Background()
	a, _ := svc.CreateNote(ctx)
	b, _ := svc.CreateNote(ctx)

	notes, err := svc.ListNotes(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 || notes[0].ID != b.ID || notes[1].ID != a.ID {
		t.Errorf("order = %v", notes)
	}
	if !rec.has(EventNoteCreated, b.ID) {
		t.Error("note.created not published")
	}
}

func TestUpdateNote_PartialAndBumps(t *testing.T) {
	svc, _ := newTestService(t, &testutil.FakeAnalysis{})
	ctx := context.Background()
	n := createWithContent(t, svc, "body")

	title := "Renamed"
	got, err := svc.UpdateNote(ctx, n.ID, &title, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Renamed" || got.Content != "body" {
		t.Errorf("note = %+v", got)
	}
	if !got.UpdatedAt.After(n.UpdatedAt) {
		t.Error("updatedAt not bumped")
	}
	if _, err := svc.UpdateNote(ctx, "missing", &title, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
}

func TestDeleteNote(t *testing.T) {
	svc, rec := newTestService(t, &testutil.FakeAnalysis{})
	ctx := context.Background()
	n, _ := svc.CreateNote(ctx)
	if err := svc.DeleteNote(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetNote(ctx, n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetNote after delete err = %v", err)
	}
	if err := svc.DeleteNote(ctx, n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
	if !rec.has(EventNoteDeleted, n.ID) {
		t.Error("note.deleted not published")
	}
}

func TestAnalyzeNote_EmptyContentSkipsProvider(t *testing.T) {
	fake := &testutil.FakeAnalysis{}
	svc, _ := newTestService(t, fake)
	n, _ := svc.CreateNote(context.Background())

	if _, err := svc.AnalyzeNote(context.Background(), n.ID); !errors.Is(err, apperr.ErrEmptyContent) {
		t.Errorf("err = %v, want ErrEmptyContent", err)
	}
	if fake.Calls("analyze") != 0 {
		t.Error("provider called for empty content")
	}
}

func TestAnalyzeNote_FailureLeavesNoteUntouched(t *testing.T) {
	fake := &testutil.FakeAnalysis{
		AnalyzeFunc: func(context.Context, string) (analysis.Result, error) {
			return analysis.Result{}, apperr.ErrAnalysisFailed
		},
	}
	svc, _ := newTestService(t, fake)
	n := createWithContent(t, svc, "Photosynthesis")

	if _, err := svc.AnalyzeNote(context.Background(), n.ID); !errors.Is(err, apperr.ErrAnalysisFailed) {
		t.Fatalf("err = %v", err)
	}
	got, _ := svc.GetNote(context.Background(), n.ID)
	if got.Analysis != nil || !got.UpdatedAt.Equal(n.UpdatedAt) {
		t.Errorf("note changed after failure: %+v", got)
	}
}

func TestAnalyzeNote_AppliedByIDAfterConcurrentEdit(t *testing.T) {
	var svc *Service
	var noteID string
	fake := &testutil.FakeAnalysis{
		AnalyzeFunc: func(ctx context.Context, content string) (analysis.Result, error) {
			title := "Edited meanwhile"
			if _, err := svc.UpdateNote(ctx, noteID, &title, nil); err != nil {
				t.Errorf("UpdateNote during analysis: %v", err)
			}
			return analysis.Result{Summary: []string{"S"}, Questions: []string{"Q1", "Q2"}}, nil
		},
	}
	svc, rec := newTestService(t, fake)
	noteID = createWithContent(t, svc, "Photosynthesis").ID

	got, err := svc.AnalyzeNote(context.Background(), noteID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Edited meanwhile" {
		t.Errorf("concurrent edit lost: title = %q", got.Title)
	}
	if got.Analysis == nil || len(got.Analysis.Questions) != 2 {
		t.Fatalf("analysis = %+v", got.Analysis)
	}
	if !rec.has(EventAnalysisReady, noteID) {
		t.Error("analysis.ready not published")
	}
}

func TestGradeQuiz_Flow(t *testing.T) {
	fake := &testutil.FakeAnalysis{
		AnalyzeFunc: func(context.Context, string) (analysis.Result, error) {
			return analysis.Result{Summary: []string{"A", "B"}, Questions: []string{"Q1", "Q2"}}, nil
		},
	}
	svc, rec := newTestService(t, fake)
	ctx := context.Background()
	n := createWithContent(t, svc, "content")

	if _, err := svc.GradeQuiz(ctx, n.ID); !errors.Is(err, apperr.ErrNothingToGrade) {
		t.Errorf("grade before analysis err = %v", err)
	}
	n, err := svc.AnalyzeNote(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GradeQuiz(ctx, n.ID); !errors.Is(err, apperr.ErrNothingToGrade) {
		t.Errorf("grade unanswered err = %v", err)
	}
	if fake.Calls("evaluate") != 0 {
		t.Fatal("provider called with nothing to grade")
	}

	q1 := n.Analysis.Questions[0].ID
	if _, err := svc.SetAnswer(ctx, n.ID, q1, "  answer  "); err != nil {
		t.Fatal(err)
	}
	got, err := svc.GradeQuiz(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fake.LastReference != "A\nB" {
		t.Errorf("reference = %q", fake.LastReference)
	}
	if len(fake.LastItems) != 1 || fake.LastItems[0].ID != q1 || fake.LastItems[0].AnswerText != "answer" {
		t.Errorf("items = %+v", fake.LastItems)
	}
	qs := got.Analysis.Questions
	if !qs[0].Graded() || !*qs[0].IsCorrect {
		t.Errorf("q1 = %+v", qs[0])
	}
	if qs[1].Graded() {
		t.Errorf("unanswered q2 graded: %+v", qs[1])
	}
	if !rec.has(EventQuizGraded, n.ID) {
		t.Error("quiz.graded not published")
	}

	got, err = svc.SetAnswer(ctx, n.ID, q1, "answer")
	if err != nil {
		t.Fatal(err)
	}
	if got.Analysis.Questions[0].Graded() {
		t.Error("answer change kept the old grade")
	}
}

func TestGradeQuiz_FailureKeepsAnswers(t *testing.T) {
	fake := &testutil.FakeAnalysis{
		EvaluateFunc: func(context.Context, string, []analysis.GradeItem) ([]analysis.Evaluation, error) {
			return nil, apperr.ErrEvaluationFailed
		},
	}
	svc, _ := newTestService(t, fake)
	ctx := context.Background()
	n := createWithContent(t, svc, "content")
	n, _ = svc.AnalyzeNote(ctx, n.ID)
	qid := n.Analysis.Questions[0].ID
	before, _ := svc.SetAnswer(ctx, n.ID, qid, "mine")

	if _, err := svc.GradeQuiz(ctx, n.ID); !errors.Is(err, apperr.ErrEvaluationFailed) {
		t.Fatalf("err = %v", err)
	}
	got, _ := svc.GetNote(ctx, n.ID)
	q := got.Analysis.Questions[0]
	if q.UserAnswer != "mine" || q.Graded() || !got.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("note changed after failure: %+v", got)
	}
}

func TestSendChat_Reply(t *testing.T) {
	fake := &testutil.FakeAnalysis{}
	svc, rec := newTestService(t, fake)
	ctx := context.Background()
	n := createWithContent(t, svc, "Grounding text")

	got, err := svc.SendChat(ctx, n.ID, "first")
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.LastPrior) != 0 || fake.LastGrounding != "Grounding text" || fake.LastMessage != "first" {
		t.Errorf("chat args prior=%v grounding=%q message=%q", fake.LastPrior, fake.LastGrounding, fake.LastMessage)
	}
	got, err = svc.SendChat(ctx, n.ID, "second")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ChatHistory) != 4 {
		t.Fatalf("history = %d, want 4", len(got.ChatHistory))
	}
	if len(fake.LastPrior) != 2 {
		t.Errorf("prior turns = %d, want 2", len(fake.LastPrior))
	}
	if got.ChatHistory[3].Role != models.RoleModel || got.ChatHistory[3].Content != "You asked: second" {
		t.Errorf("reply = %+v", got.ChatHistory[3])
	}
	if !rec.has(EventChatMessage, n.ID) {
		t.Error("chat.message not published")
	}
}

func TestSendChat_FailureAppendsApology(t *testing.T) {
	fake := &testutil.FakeAnalysis{
		ChatFunc: func(context.Context, string, []analysis.Turn, string) (analysis.Reply, error) {
			return analysis.Reply{}, apperr.ErrChatFailed
		},
	}
	svc, _ := newTestService(t, fake)
	n := createWithContent(t, svc, "content")

	got, err := svc.SendChat(context.Background(), n.ID, "hello")
	if err != nil {
		t.Fatalf("chat failure surfaced as error: %v", err)
	}
	if len(got.ChatHistory) != 2 {
		t.Fatalf("history = %d, want 2", len(got.ChatHistory))
	}
	if got.ChatHistory[0].Content != "hello" || got.ChatHistory[1].Content != chat.Apology {
		t.Errorf("history = %+v", got.ChatHistory)
	}
}

func TestSendChat_EmptyMessageRejected(t *testing.T) {
	fake := &testutil.FakeAnalysis{}
	svc, _ := newTestService(t, fake)
	ctx := context.Background()
	n := createWithContent(t, svc, "content")
	blank, _ := svc.CreateNote(ctx)

	if _, err := svc.SendChat(ctx, n.ID, "   "); !errors.Is(err, apperr.ErrEmptyMessage) {
		t.Errorf("blank text err = %v", err)
	}
	if _, err := svc.SendChat(ctx, blank.ID, "hi"); !errors.Is(err, apperr.ErrEmptyMessage) {
		t.Errorf("blank content err = %v", err)
	}
	if fake.Calls("chat") != 0 {
		t.Error("provider called for rejected message")
	}
	got, _ := svc.GetNote(ctx, n.ID)
	if len(got.ChatHistory) != 0 {
		t.Error("rejected message was appended")
	}
}

func TestSendChat_ReplyKeepsConcurrentEdit(t *testing.T) {
	var svc *Service
	var noteID string
	fake := &testutil.FakeAnalysis{
		ChatFunc: func(ctx context.Context, _ string, _ []analysis.Turn, _ string) (analysis.Reply, error) {
			content := "edited while waiting"
			if _, err := svc.UpdateNote(ctx, noteID, nil, &content); err != nil {
				t.Errorf("UpdateNote: %v", err)
			}
			return analysis.Reply{Text: "reply"}, nil
		},
	}
	svc, _ = newTestService(t, fake)
	noteID = createWithContent(t, svc, "content").ID

	got, err := svc.SendChat(context.Background(), noteID, "q")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "edited while waiting" || len(got.ChatHistory) != 2 {
		t.Errorf("note = %+v", got)
	}
}

func TestSendChat_NoteDeletedMeanwhile(t *testing.T) {
	var svc *Service
	var noteID string
	fake := &testutil.FakeAnalysis{
		ChatFunc: func(ctx context.Context, _ string, _ []analysis.Turn, _ string) (analysis.Reply, error) {
			if err := svc.DeleteNote(ctx, noteID); err != nil {
				t.Errorf("DeleteNote: %v", err)
			}
			return analysis.Reply{Text: "late"}, nil
		},
	}
	svc, _ = newTestService(t, fake)
	noteID = createWithContent(t, svc, "content").ID

	if _, err := svc.SendChat(context.Background(), noteID, "q"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	notes, _ := svc.ListNotes(context.Background(), "")
	if len(notes) != 0 {
		t.Errorf("deleted note resurrected: %v", notes)
	}
}

func TestExtractText_Appends(t *testing.T) {
	fake := &testutil.FakeAnalysis{
		ExtractFunc: func(_ context.Context, img, mime string) (string, error) {
			if img != "aGk=" || mime != "image/png" {
				t.Errorf("args = %q %q", img, mime)
			}
			return "From the board", nil
		},
	}
	svc, _ := newTestService(t, fake)
	ctx := context.Background()
	n := createWithContent(t, svc, "Typed\n")

	got, err := svc.ExtractText(ctx, n.ID, "aGk=", "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "Typed\n\nFrom the board" {
		t.Errorf("content = %q", got.Content)
	}

	empty, _ := svc.CreateNote(ctx)
	got, err = svc.ExtractText(ctx, empty.ID, "aGk=", "image/png")
	if err != nil || got.Content != "From the board" {
		t.Errorf("empty note content = %q, %v", got.Content, err)
	}
}

func TestExtractText_FailureLeavesNote(t *testing.T) {
	fake := &testutil.FakeAnalysis{
		ExtractFunc: func(context.Context, string, string) (string, error) {
			return "", apperr.ErrExtractionFailed
		},
	}
	svc, _ := newTestService(t, fake)
	n := createWithContent(t, svc, "Typed")
	if _, err := svc.ExtractText(context.Background(), n.ID, "aGk=", "image/png"); !errors.Is(err, apperr.ErrExtractionFailed) {
		t.Fatalf("err = %v", err)
	}
	got, _ := svc.GetNote(context.Background(), n.ID)
	if got.Content != "Typed" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestImportExportMarkdown(t *testing.T) {
	svc, _ := newTestService(t, &testutil.FakeAnalysis{})
	ctx := context.Background()

	n, err := svc.ImportMarkdown(ctx, []byte("---\ntitle: Imported\n---\nLine one.\n"))
	if err != nil {
		t.Fatal(err)
	}
	if n.Title != "Imported" || n.Content != "Line one." || n.ID == "" {
		t.Errorf("imported = %+v", n)
	}
	if _, err := svc.ImportMarkdown(ctx, []byte("  \n")); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty import err = %v", err)
	}

	_, data, err := svc.ExportMarkdown(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "title: Imported") || !strings.Contains(string(data), "Line one.") {
		t.Errorf("export = %s", data)
	}
}

func TestSelectNote(t *testing.T) {
	svc, _ := newTestService(t, &testutil.FakeAnalysis{})
	ctx := context.Background()
	a, _ := svc.CreateNote(ctx)
	_, _ = svc.CreateNote(ctx)

	if err := svc.SelectNote(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	info, _ := svc.CurrentUser(ctx)
	if info.SelectedID != a.ID {
		t.Errorf("selected = %q, want %q", info.SelectedID, a.ID)
	}
	if err := svc.SelectNote(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown select err = %v", err)
	}
}
