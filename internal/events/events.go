package events

import (
	"context"
	"time"

	"docdigitizer/internal/models"
)

type Type string

const (
	// PageExtracted fires after one page result is persisted.
	PageExtracted Type = "page"
	// StatusChanged fires when a run starts or finishes.
	StatusChanged Type = "status"
)

// Event describes progress on one document.
type Event struct {
	Type       Type          `json:"type"`
	DocumentID string        `json:"documentId"`
	PageID     string        `json:"pageId,omitempty"`
	PageNumber int           `json:"pageNumber,omitempty"`
	Status     models.Status `json:"status"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

// Notifier fans document events out to subscribers. Delivery is best effort;
// slow subscribers miss events rather than stalling publishers.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns events for documentID until ctx is done or cancel is
	// called. The subscription is live once Subscribe returns.
	Subscribe(ctx context.Context, documentID string) (<-chan Event, func(), error)
}
