package models

import "time"

// PageAsset is a single uploaded page and its provenance.
type PageAsset struct {
	ID               string            `json:"id" firestore:"id"`
	PageNumber       int               `json:"pageNumber" firestore:"pageNumber"`
	Filename         string            `json:"filename" firestore:"filename"`
	OriginalFilename string            `json:"originalFilename" firestore:"originalFilename"`
	FilePath         string            `json:"filePath" firestore:"filePath"`
	Extension        string            `json:"extension" firestore:"extension"`
	MIMEType         string            `json:"mimeType" firestore:"mimeType"`
	Source           string            `json:"source" firestore:"source"`
	Timestamp        time.Time         `json:"timestamp" firestore:"timestamp"`
	Processed        bool              `json:"processed" firestore:"processed"`
	ProcessedAt      *time.Time        `json:"processedAt,omitempty" firestore:"processedAt"`
	Extracted        *StructuredFields `json:"extracted,omitempty" firestore:"extracted"`
}

// DocumentRecord aggregates the pages of one document with its extraction state.
// PageCount in JSON payloads is the number of accepted pages; DeclaredPageCount is
// what the uploader claimed.
type DocumentRecord struct {
	ID                   string            `json:"documentId"`
	OwnerKey             string            `json:"ownerKey"`
	Name                 string            `json:"name"`
	IsMultiPage          bool              `json:"isMultiPage"`
	DeclaredPageCount    int               `json:"declaredPageCount"`
	UploadedAt           time.Time         `json:"uploadedAt"`
	Pages                []PageAsset       `json:"pages"`
	DocumentExtracted    *StructuredFields `json:"documentExtracted,omitempty"`
	ExtractedAt          *time.Time        `json:"extractedAt,omitempty"`
	ProcessingStartedAt  *time.Time        `json:"processingStartedAt,omitempty"`
	ProcessingFinishedAt *time.Time        `json:"processingFinishedAt,omitempty"`
	ExtractionError      string            `json:"extractionError,omitempty"`
}

// PageCount returns the number of accepted pages.
func (d *DocumentRecord) PageCount() int {
	return len(d.Pages)
}

// PendingPages returns the unprocessed pages in ascending page number order.
func (d *DocumentRecord) PendingPages() []PageAsset {
	var out []PageAsset
	for _, p := range SortedPages(d.Pages) {
		if !p.Processed {
			out = append(out, p)
		}
	}
	return out
}

// DocumentSummary is the list view projection of a DocumentRecord.
type DocumentSummary struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	PageCount   int               `json:"pageCount"`
	IsMultiPage bool              `json:"isMultiPage"`
	UploadedAt  time.Time         `json:"uploadDate"`
	Status      Status            `json:"status"`
	Extracted   *StructuredFields `json:"extracted,omitempty"`
}

// Summarize projects a record into its summary. The snapshot is the merged
// result for multi-page documents, otherwise the first processed page.
func Summarize(d *DocumentRecord) DocumentSummary {
	s := DocumentSummary{
		ID:          d.ID,
		Name:        d.Name,
		PageCount:   d.PageCount(),
		IsMultiPage: d.IsMultiPage,
		UploadedAt:  d.UploadedAt,
		Status:      DeriveStatus(d),
	}
	if d.IsMultiPage {
		s.Extracted = d.DocumentExtracted
		return s
	}
	for _, p := range SortedPages(d.Pages) {
		if p.Processed && p.Extracted != nil {
			s.Extracted = p.Extracted
			break
		}
	}
	return s
}
