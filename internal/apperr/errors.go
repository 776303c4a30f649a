// Package apperr holds the error taxonomy shared by every layer.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNoSession    = errors.New("no active session")

	ErrDuplicateUsername  = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCorruptStore       = errors.New("corrupt store")

	ErrEmptyContent   = errors.New("note content is empty")
	ErrNothingToGrade = errors.New("no answered questions to grade")
	ErrEmptyMessage   = errors.New("message is empty")

	ErrExtractionFailed = errors.New("text extraction failed")
	ErrAnalysisFailed   = errors.New("analysis failed")
	ErrEvaluationFailed = errors.New("evaluation failed")
	ErrChatFailed       = errors.New("chat failed")
)

// IsValidation reports whether err is a user-correctable validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrNothingToGrade) ||
		errors.Is(err, ErrEmptyMessage)
}

// IsProvider reports whether err came from the analysis provider.
func IsProvider(err error) bool {
	return errors.Is(err, ErrExtractionFailed) ||
		errors.Is(err, ErrAnalysisFailed) ||
		errors.Is(err, ErrEvaluationFailed) ||
		errors.Is(err, ErrChatFailed)
}
