package models

import (
	"testing"
	"time"
)

func ts(offset time.Duration) *time.Time {
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	return &t
}

func TestDeriveStatusIndependentPages(t *testing.T) {
	fields := &StructuredFields{Name: "John Doe"}
	cases := []struct {
		name string
		doc  DocumentRecord
		want Status
	}{
		{
			name: "fresh upload",
			doc:  DocumentRecord{Pages: []PageAsset{{PageNumber: 1}, {PageNumber: 2}}},
			want: StatusUploaded,
		},
		{
			name: "run in flight",
			doc: DocumentRecord{
				Pages:               []PageAsset{{PageNumber: 1, Processed: true, Extracted: fields}, {PageNumber: 2}},
				ProcessingStartedAt: ts(0),
			},
			want: StatusProcessing,
		},
		{
			name: "some pages failed",
			doc: DocumentRecord{
				Pages:                []PageAsset{{PageNumber: 1, Processed: true, Extracted: fields}, {PageNumber: 2}},
				ProcessingStartedAt:  ts(0),
				ProcessingFinishedAt: ts(time.Second),
				ExtractionError:      "page 2: timeout",
			},
			want: StatusPartiallyProcessed,
		},
		{
			name: "every page failed",
			doc: DocumentRecord{
				Pages:                []PageAsset{{PageNumber: 1}, {PageNumber: 2}},
				ProcessingStartedAt:  ts(0),
				ProcessingFinishedAt: ts(time.Second),
				ExtractionError:      "engine unavailable",
			},
			want: StatusFailed,
		},
		{
			name: "all processed",
			doc: DocumentRecord{
				Pages: []PageAsset{{PageNumber: 1, Processed: true}, {PageNumber: 2, Processed: true}},
			},
			want: StatusProcessed,
		},
		{
			name: "retry started after previous finish",
			doc: DocumentRecord{
				Pages:                []PageAsset{{PageNumber: 1}},
				ProcessingStartedAt:  ts(time.Minute),
				ProcessingFinishedAt: ts(time.Second),
				ExtractionError:      "old failure",
			},
			want: StatusProcessing,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(&tc.doc); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDeriveStatusMergedPages(t *testing.T) {
	doc := DocumentRecord{IsMultiPage: true, Pages: []PageAsset{{PageNumber: 1}, {PageNumber: 2}}}
	if got := DeriveStatus(&doc); got != StatusUploaded {
		t.Fatalf("expected Uploaded, got %s", got)
	}

	doc.ProcessingStartedAt = ts(0)
	doc.ProcessingFinishedAt = ts(time.Second)
	doc.ExtractionError = "merged call failed"
	if got := DeriveStatus(&doc); got != StatusFailed {
		t.Fatalf("expected Failed, got %s", got)
	}

	doc.DocumentExtracted = &StructuredFields{Certificate: "Birth Certificate"}
	if got := DeriveStatus(&doc); got != StatusProcessed {
		t.Fatalf("expected Processed, got %s", got)
	}
}

func TestSummarizeUsesFirstProcessedPage(t *testing.T) {
	doc := DocumentRecord{
		ID:   "doc-1",
		Name: "Birth",
		Pages: []PageAsset{
			{PageNumber: 3, Processed: true, Extracted: &StructuredFields{Name: "third"}},
			{PageNumber: 1},
			{PageNumber: 2, Processed: true, Extracted: &StructuredFields{Name: "second"}},
		},
	}
	s := Summarize(&doc)
	if s.PageCount != 3 {
		t.Fatalf("unexpected page count %d", s.PageCount)
	}
	if s.Extracted == nil || s.Extracted.Name != "second" {
		t.Fatalf("expected snapshot from page 2, got %+v", s.Extracted)
	}
	if s.Status != StatusPartiallyProcessed {
		t.Fatalf("unexpected status %s", s.Status)
	}
}
