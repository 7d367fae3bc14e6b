package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why a run failed.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindMissingMedia Kind = "missing_media"
	KindFetch        Kind = "fetch"
	KindRender       Kind = "render"
	KindUpload       Kind = "upload"
	KindRecord       Kind = "record"
	KindInternal     Kind = "internal"
)

var (
	ErrNotFound     = errors.New("story not found")
	ErrMissingMedia = errors.New("story has no media file")
)

// StageError wraps the error that ended a run with the stage it came from.
// Its message is what gets written to the publication log.
type StageError struct {
	Kind Kind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a run error, or "" for nil and unclassified errors.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
