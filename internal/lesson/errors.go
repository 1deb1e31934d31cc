package lesson

import "errors"

var (
	ErrEmptyDocument  = errors.New("document text is empty")
	ErrMissingContent = errors.New("lesson has no analyzed content")
	ErrLessonNotFound = errors.New("lesson not found")
)
