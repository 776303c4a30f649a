// Package testutil provides shared test helpers: deterministic clocks and
// ids, blob stores, and a programmable analysis client.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/scholia/internal/analysis"
	"github.com/starford/scholia/internal/blob"
)

// Epoch is the first instant returned by a Clock.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Clock returns a time source that advances one second per call.
func Clock() func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return Epoch.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

// IDs returns a generator yielding prefix-1, prefix-2, ...
func IDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// TestSQLite opens a SQLite blob store in a temp dir, closed on cleanup.
func TestSQLite(t *testing.T) blob.Store {
	t.Helper()
	s, err := blob.OpenSQLite(filepath.Join(t.TempDir(), "scholia-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// FakeAnalysis is an analysis.Client whose behaviour is set per test.
// Nil funcs fall back to simple deterministic answers.
type FakeAnalysis struct {
	ExtractFunc  func(ctx context.Context, imageBase64, mimeType string) (string, error)
	AnalyzeFunc  func(ctx context.Context, content string) (analysis.Result, error)
	EvaluateFunc func(ctx context.Context, reference string, items []analysis.GradeItem) ([]analysis.Evaluation, error)
	ChatFunc     func(ctx context.Context, noteContent string, prior []analysis.Turn, message string) (analysis.Reply, error)

	mu    sync.Mutex
	calls map[string]int

	// Last arguments seen, for assertions.
	LastReference string
	LastItems     []analysis.GradeItem
	LastPrior     []analysis.Turn
	LastMessage   string
	LastGrounding string
}

var _ analysis.Client = (*FakeAnalysis)(nil)

// Calls returns how many times op was invoked.
func (f *FakeAnalysis) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeAnalysis) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *FakeAnalysis) ExtractText(ctx context.Context, imageBase64, mimeType string) (string, error) {
	f.record("extract")
	if f.ExtractFunc != nil {
		return f.ExtractFunc(ctx, imageBase64, mimeType)
	}
	return "extracted text", nil
}

func (f *FakeAnalysis) Analyze(ctx context.Context, content string) (analysis.Result, error) {
	f.record("analyze")
	if f.AnalyzeFunc != nil {
		return f.AnalyzeFunc(ctx, content)
	}
	return analysis.Result{Summary: []string{"Key point."}, Questions: []string{"What is the key point?"}}, nil
}

func (f *FakeAnalysis) Evaluate(ctx context.Context, reference string, items []analysis.GradeItem) ([]analysis.Evaluation, error) {
	f.record("evaluate")
	f.mu.Lock()
	f.LastReference = reference
	f.LastItems = items
	f.mu.Unlock()
	if f.EvaluateFunc != nil {
		return f.EvaluateFunc(ctx, reference, items)
	}
	out := make([]analysis.Evaluation, 0, len(items))
	for _, it := range items {
		out = append(out, analysis.Evaluation{QuestionID: it.ID, IsCorrect: true, Feedback: "Well done."})
	}
	return out, nil
}

func (f *FakeAnalysis) Chat(ctx context.Context, noteContent string, prior []analysis.Turn, message string) (analysis.Reply, error) {
	f.record("chat")
	f.mu.Lock()
	f.LastGrounding = noteContent
	f.LastPrior = prior
	f.LastMessage = message
	f.mu.Unlock()
	if f.ChatFunc != nil {
		return f.ChatFunc(ctx, noteContent, prior, message)
	}
	return analysis.Reply{Text: "You asked: " + message}, nil
}
