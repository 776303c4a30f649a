// Package markdown converts notes to and from Markdown files with YAML
// frontmatter.
package markdown

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/scholia/internal/models"
)

// studyMarker separates authored content from generated study material in
// exported files. Parse drops everything after it.
const studyMarker = "<!-- scholia:study -->"

type frontmatter struct {
	Title   string    `yaml:"title,omitempty"`
	Created time.Time `yaml:"created,omitempty"`
	Updated time.Time `yaml:"updated,omitempty"`
}

// Document is the result of parsing a Markdown file.
type Document struct {
	Title   string
	Body    string
	Created time.Time
	Updated time.Time
}

// Parse splits optional frontmatter from the body. The title comes from the
// frontmatter "title" key, otherwise the first H1 heading.
func Parse(data []byte) Document {
	fm, body := splitFrontmatter(data)
	if i := strings.Index(body, studyMarker); i >= 0 {
		body = body[:i]
	}
	body = strings.TrimRight(body, "\n\r\t ")
	doc := Document{Body: body, Created: fm.Created, Updated: fm.Updated}
	doc.Title = strings.TrimSpace(fm.Title)
	if doc.Title == "" {
		doc.Title = firstHeading(body)
	}
	return doc
}

// splitFrontmatter separates a leading --- block. Missing delimiters or
// invalid YAML leave the whole input as body.
func splitFrontmatter(data []byte) (frontmatter, string) {
	const delim = "---"
	var fm frontmatter
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return fm, string(data)
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return fm, string(data)
	}
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
		return frontmatter{}, string(data)
	}
	body := rest[idx+1+len(delim):]
	return fm, strings.TrimLeft(string(body), "\n\r")
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// Render writes n as Markdown: frontmatter, content, then the summary and
// quiz when the note has been analyzed.
func Render(n models.Note) ([]byte, error) {
	var buf bytes.Buffer
	head, err := yaml.Marshal(frontmatter{
		Title:   n.Title,
		Created: n.CreatedAt.UTC(),
		Updated: n.UpdatedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("markdown: encode frontmatter: %w", err)
	}
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n\n")
	if c := strings.TrimRight(n.Content, "\n"); c != "" {
		buf.WriteString(c)
		buf.WriteString("\n")
	}

	a := n.Analysis
	if a == nil || (len(a.Summary) == 0 && len(a.Questions) == 0) {
		return buf.Bytes(), nil
	}
	buf.WriteString("\n" + studyMarker + "\n")
	if len(a.Summary) > 0 {
		buf.WriteString("## Summary\n\n")
		for _, p := range a.Summary {
			fmt.Fprintf(&buf, "- %s\n", p)
		}
	}
	if len(a.Questions) > 0 {
		if len(a.Summary) > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString("## Quiz\n\n")
		for i, q := range a.Questions {
			fmt.Fprintf(&buf, "%d. %s\n", i+1, q.Question)
			if q.UserAnswer != "" {
				fmt.Fprintf(&buf, "   - Answer: %s\n", q.UserAnswer)
			}
			if q.Graded() {
				verdict := "incorrect"
				if *q.IsCorrect {
					verdict = "correct"
				}
				fmt.Fprintf(&buf, "   - Result: %s. %s\n", verdict, *q.Feedback)
			}
		}
	}
	return buf.Bytes(), nil
}
