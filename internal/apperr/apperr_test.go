package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("ingest: %w", StorageWrite("write page", cause))

	if !Is(err, KindStorageWrite) {
		t.Fatalf("expected storage_write kind, got %q", KindOf(err))
	}
	if CodeOf(err) != CodeWriteFailed {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause should be reachable through Unwrap")
	}
}

func TestErrorStringPrefersCode(t *testing.T) {
	err := Validation(CodeNoPages, "no files provided")
	if got := err.Error(); got != "NoPages: no files provided" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := NotFound("document abc").Error(); got != "not_found: document abc" {
		t.Fatalf("unexpected message %q", got)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no kind")
	}
}
