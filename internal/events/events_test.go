package events

import (
	"context"
	"testing"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
)

func validEvent() ImportEvent {
	return ImportEvent{
		JobID:      "job-1",
		OwnerID:    "user-1",
		Status:     domain.JobStatusCompleted,
		Total:      3,
		Created:    2,
		Skipped:    1,
		OccurredAt: time.Now(),
	}
}

func TestImportEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*ImportEvent)
		wantErr bool
	}{
		{
			name:   "valid completed event",
			mutate: func(*ImportEvent) {},
		},
		{
			name:   "valid cancelled event",
			mutate: func(e *ImportEvent) { e.Status = domain.JobStatusCancelled },
		},
		{
			name:    "missing job id",
			mutate:  func(e *ImportEvent) { e.JobID = "  " },
			wantErr: true,
		},
		{
			name:    "unknown status",
			mutate:  func(e *ImportEvent) { e.Status = "archived" },
			wantErr: true,
		},
		{
			name:    "non-terminal status",
			mutate:  func(e *ImportEvent) { e.Status = domain.JobStatusProcessing },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			event := validEvent()
			tt.mutate(&event)

			err := event.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var p NopPublisher
	if err := p.Publish(context.Background(), validEvent()); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

func TestNewRabbitMQRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRabbitMQ("   "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestNewRabbitMQPublisherRequiresBroker(t *testing.T) {
	t.Parallel()

	if _, err := NewRabbitMQPublisher(nil); err == nil {
		t.Fatal("expected error for nil broker")
	}
}
