package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrDuplicateDocument = errors.New("duplicate document")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrIngestionFailed   = errors.New("ingestion failed")
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsRejection reports whether err is a synchronous submission rejection.
func IsRejection(err error) bool {
	return IsKind(err, ErrInvalidInput) || IsKind(err, ErrLimitExceeded) || IsKind(err, ErrDuplicateDocument)
}

var kinds = []error{
	ErrInvalidInput,
	ErrLimitExceeded,
	ErrDuplicateDocument,
	ErrDocumentNotFound,
	ErrJobNotFound,
	ErrExtractionFailed,
	ErrIngestionFailed,
	ErrTemporary,
}

// KindOf names the first semantic kind err carries, "internal" when none.
func KindOf(err error) string {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal"
}
