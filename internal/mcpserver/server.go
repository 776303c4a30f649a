// Package mcpserver exposes the study workflow as MCP tools over stdio so
// an LLM client can read notes, run quizzes and talk to the tutor.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/models"
	"github.com/starford/scholia/internal/noteservice"
	"github.com/starford/scholia/internal/quiz"
)

const guideURI = "scholia://guide"

// Guide describes the tool workflow to MCP clients.
const Guide = `# Scholia study workflow

1. Call list_notes to find a note id (or create_note to add one).
2. Call analyze_note to generate summary points and quiz questions.
   Re-analyzing replaces the previous quiz and discards answers.
3. Call answer_question once per question using the ids from analyze_note.
4. Call grade_quiz. Only answered questions are graded.
5. Use ask_tutor for follow-up questions grounded in the note content.

extract_text accepts a base64 data URI or an http(s) image URL and appends
the transcribed text to the note.
`

// Server wraps the MCP server with Scholia tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates an MCP server with every tool registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Scholia",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("login",
		mcp.WithDescription("Start a session as an existing user. Not needed when a session is already active."),
		mcp.WithString("username", mcp.Required()),
		mcp.WithString("password", mcp.Required()),
	), s.login)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the active user's notes, newest first."),
		mcp.WithString("query", mcp.Description("Optional case-insensitive filter on title and content")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note as Markdown, including its summary and quiz when analyzed."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note with a title and content."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("content", mcp.Required(), mcp.Description("Plain text or Markdown body")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("analyze_note",
		mcp.WithDescription("Generate summary points and quiz questions for a note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.analyzeNote)

	s.mcp.AddTool(mcp.NewTool("answer_question",
		mcp.WithDescription("Record an answer to one quiz question. Changing an answer clears its grade."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("question_id", mcp.Required()),
		mcp.WithString("answer", mcp.Required()),
	), s.answerQuestion)

	s.mcp.AddTool(mcp.NewTool("grade_quiz",
		mcp.WithDescription("Grade every answered question against the note summary."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.gradeQuiz)

	s.mcp.AddTool(mcp.NewTool("ask_tutor",
		mcp.WithDescription("Ask the tutor a question about a note. The exchange is kept in the note's transcript."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("message", mcp.Required()),
	), s.askTutor)

	s.mcp.AddTool(mcp.NewTool("extract_text",
		mcp.WithDescription("Transcribe an image of notes and append the text to the note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("image", mcp.Required(), mcp.Description("data:image/...;base64,... URI or http(s) URL")),
	), s.extractText)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Study workflow",
			mcp.WithResourceDescription("How to use the Scholia tools together."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuide,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type noteItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updatedAt"`
	Analyzed  bool   `json:"analyzed"`
}

type quizView struct {
	NoteID    string            `json:"noteId"`
	Summary   []string          `json:"summary"`
	Questions []models.QuizItem `json:"questions"`
	Correct   int               `json:"correct"`
	Graded    int               `json:"graded"`
	Total     int               `json:"total"`
}

func toQuizView(n models.Note) quizView {
	v := quizView{NoteID: n.ID, Summary: []string{}, Questions: []models.QuizItem{}}
	if n.Analysis != nil {
		v.Summary = n.Analysis.Summary
		v.Questions = n.Analysis.Questions
	}
	v.Correct, v.Graded, v.Total = quiz.Score(n)
	return v
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNoSession) {
		return mcp.NewToolResultError("no active session: call login first")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) login(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := req.RequireString("username")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	password, err := req.RequireString("password")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	u, err := s.svc.Login(ctx, username, password)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("logged in as %s", u.Username)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.svc.ListNotes(ctx, req.GetString("query", ""))
	if err != nil {
		return errorResult(err), nil
	}
	items := make([]noteItem, len(notes))
	for i, n := range notes {
		items[i] = noteItem{
			ID:        n.ID,
			Title:     n.Title,
			UpdatedAt: n.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Analyzed:  n.Analysis != nil,
		}
	}
	return jsonResult(items)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_, data, err := s.svc.ExportMarkdown(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.CreateNote(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	n, err = s.svc.UpdateNote(ctx, n.ID, &title, &content)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(noteItem{ID: n.ID, Title: n.Title, UpdatedAt: n.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")})
}

func (s *Server) analyzeNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.AnalyzeNote(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(toQuizView(n))
}

func (s *Server) answerQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	qid, err := req.RequireString("question_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, err := req.RequireString("answer")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.SetAnswer(ctx, id, qid, answer)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(toQuizView(n))
}

func (s *Server) gradeQuiz(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.GradeQuiz(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(toQuizView(n))
}

func (s *Server) askTutor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.SendChat(ctx, id, message)
	if err != nil {
		return errorResult(err), nil
	}
	last := n.ChatHistory[len(n.ChatHistory)-1]
	if last.Role != models.RoleModel {
		return mcp.NewToolResultError("tutor reply was not recorded"), nil
	}
	if last.Attachment == nil {
		return mcp.NewToolResultText(last.Content), nil
	}
	return jsonResult(last)
}

func (s *Server) extractText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	src, err := req.RequireString("image")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, mimeType, err := loadImage(ctx, src)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.ExtractText(ctx, id, data, mimeType)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(n.Content), nil
}

func (s *Server) readGuide(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     Guide,
		},
	}, nil
}
