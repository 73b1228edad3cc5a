package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity does not exist or is soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when a conditional update lost a race.
	ErrStaleState = errors.New("stale state")
	// ErrIllegalTransition is returned for transitions the tables or upstream preconditions reject.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrValidation is returned for malformed boundary input.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateSlug is returned when a page slug is already taken.
	ErrDuplicateSlug = errors.New("duplicate slug")
	// ErrPageExists is returned when a keyword already owns a page.
	ErrPageExists = errors.New("keyword already has a page")
	// ErrCrawlFailed marks crawl failures.
	ErrCrawlFailed = errors.New("crawl failed")
)

// CrawlError describes a failed fetch. StatusCode is zero for transport errors.
type CrawlError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *CrawlError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("crawl %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("crawl %s: %v", e.URL, e.Err)
}

func (e *CrawlError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCrawlFailed) match any *CrawlError.
func (e *CrawlError) Is(target error) bool { return target == ErrCrawlFailed }

// TransitionError is returned when a requested state change is rejected.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: %s -> %s: %s", e.Entity, e.ID, e.From, e.To, e.Reason)
}

// Is lets errors.Is(err, ErrIllegalTransition) match any *TransitionError.
func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any *ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
