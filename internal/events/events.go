package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
)

// EventQueueName is the broker queue downstream consumers (shop dashboards,
// notification hooks) bind to for import lifecycle events.
const EventQueueName = "etsy.import.events"

// ImportEvent is published once per import job reaching a terminal state.
type ImportEvent struct {
	JobID      string           `json:"jobId"`
	OwnerID    string           `json:"ownerId,omitempty"`
	Status     domain.JobStatus `json:"status"`
	Total      int              `json:"total"`
	Created    int              `json:"created"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

func (e ImportEvent) Validate() error {
	if strings.TrimSpace(e.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid job status %q", e.Status)
	}
	if !e.Status.IsTerminal() {
		return fmt.Errorf("import events are only published for terminal states, got %q", e.Status)
	}
	return nil
}

// Publisher publishes import lifecycle events. Publishing is best-effort:
// callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, event ImportEvent) error
	Close() error
}

var _ Publisher = (*NopPublisher)(nil)

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ImportEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
