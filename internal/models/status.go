package models

import (
	"sort"
	"time"
)

// Status is derived from a record at read time and never stored.
type Status string

const (
	StatusUploaded           Status = "Uploaded"
	StatusProcessing         Status = "Processing"
	StatusPartiallyProcessed Status = "PartiallyProcessed"
	StatusProcessed          Status = "Processed"
	StatusFailed             Status = "Failed"
)

// Terminal reports whether no further progress is expected without a retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusProcessed, StatusPartiallyProcessed, StatusFailed:
		return true
	}
	return false
}

// DeriveStatus computes the lifecycle status of d.
func DeriveStatus(d *DocumentRecord) Status {
	running := isRunning(d.ProcessingStartedAt, d.ProcessingFinishedAt)

	if d.IsMultiPage {
		switch {
		case d.DocumentExtracted != nil:
			return StatusProcessed
		case running:
			return StatusProcessing
		case d.ExtractionError != "":
			return StatusFailed
		}
		return StatusUploaded
	}

	processed := 0
	for _, p := range d.Pages {
		if p.Processed {
			processed++
		}
	}
	switch {
	case len(d.Pages) > 0 && processed == len(d.Pages):
		return StatusProcessed
	case running:
		return StatusProcessing
	case d.ExtractionError != "" && processed == 0:
		return StatusFailed
	case processed > 0:
		return StatusPartiallyProcessed
	}
	return StatusUploaded
}

func isRunning(started, finished *time.Time) bool {
	if started == nil {
		return false
	}
	return finished == nil || finished.Before(*started)
}

// SortedPages returns a copy of pages ordered by page number.
func SortedPages(pages []PageAsset) []PageAsset {
	out := append([]PageAsset(nil), pages...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PageNumber < out[j].PageNumber
	})
	return out
}
