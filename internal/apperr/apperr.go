package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on it.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindStorageWrite Kind = "storage_write"
	KindEngine       Kind = "engine"
	KindNotFound     Kind = "not_found"
	KindStore        Kind = "store"
	KindConflict     Kind = "conflict"
)

// Validation codes.
const (
	CodeNoPages             = "NoPages"
	CodeMissingOwner        = "MissingOwner"
	CodeDisallowedExtension = "DisallowedExtension"
	CodeTooManyPages        = "TooManyPages"
	CodeInvalidMetadata     = "InvalidMetadata"
	CodeInvalidDocumentID   = "InvalidDocumentID"
	CodeInvalidPageID       = "InvalidPageID"
	CodeDuplicatePage       = "DuplicatePage"
	CodePageTooLarge        = "PageTooLarge"
	CodeInvalidPDF          = "InvalidPDF"
	CodeWriteFailed         = "WriteFailed"
)

// AppError carries a kind and an optional machine-readable code.
type AppError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	prefix := string(e.Kind)
	if e.Code != "" {
		prefix = e.Code
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(kind Kind, code, message string, cause error) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Cause: cause}
}

func Validation(code, message string) *AppError {
	return New(KindValidation, code, message, nil)
}

func NotFound(message string) *AppError {
	return New(KindNotFound, "", message, nil)
}

func Store(message string, cause error) *AppError {
	return New(KindStore, "", message, cause)
}

func Conflict(message string, cause error) *AppError {
	return New(KindConflict, "", message, cause)
}

func Engine(message string, cause error) *AppError {
	return New(KindEngine, "", message, cause)
}

func StorageWrite(message string, cause error) *AppError {
	return New(KindStorageWrite, CodeWriteFailed, message, cause)
}

// KindOf returns the kind of the first AppError in err's chain, or "".
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
