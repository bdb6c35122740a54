package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
)

func TestInMemoryJobStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	store := NewInMemoryJobStore(nil)

	job := store.Create("user-1")
	if job.ID == "" {
		t.Fatal("Create() should assign a job id")
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	if job.Progress != 0 {
		t.Fatalf("progress = %d, want 0", job.Progress)
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() unexpected error = %v", err)
	}
	if got.OwnerID != "user-1" {
		t.Fatalf("owner = %q, want user-1", got.OwnerID)
	}

	_, err = store.Get("missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryJobStoreUpdateMergesPartialFields(t *testing.T) {
	t.Parallel()

	store := NewInMemoryJobStore(nil)
	job := store.Create("user-1")

	store.Update(job.ID, JobUpdate{
		Status:   StatusOf(domain.JobStatusProcessing),
		Progress: ProgressOf(42),
		Message:  MessageOf("processing row 3/10"),
	})
	store.Update(job.ID, JobUpdate{Progress: ProgressOf(55)})

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() unexpected error = %v", err)
	}
	if got.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}
	if got.Progress != 55 {
		t.Fatalf("progress = %d, want 55", got.Progress)
	}
	if got.Message != "processing row 3/10" {
		t.Fatalf("message = %q, want unchanged", got.Message)
	}

	// Missing jobs are a silent no-op.
	store.Update("missing", JobUpdate{Progress: ProgressOf(10)})
}

func TestInMemoryJobStoreProgressClamped(t *testing.T) {
	t.Parallel()

	store := NewInMemoryJobStore(nil)
	job := store.Create("user-1")

	store.Update(job.ID, JobUpdate{Progress: ProgressOf(150)})
	got, _ := store.Get(job.ID)
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want clamped to 100", got.Progress)
	}

	store.Update(job.ID, JobUpdate{Progress: ProgressOf(-5)})
	got, _ = store.Get(job.ID)
	if got.Progress != 0 {
		t.Fatalf("progress = %d, want clamped to 0", got.Progress)
	}
}

func TestInMemoryJobStoreRequestCancel(t *testing.T) {
	t.Parallel()

	store := NewInMemoryJobStore(nil)
	job := store.Create("user-1")

	if !store.RequestCancel(job.ID, "operator stop") {
		t.Fatal("RequestCancel() on pending job should succeed")
	}
	if !store.IsCancelRequested(job.ID) {
		t.Fatal("IsCancelRequested() = false after successful request")
	}

	got, _ := store.Get(job.ID)
	if got.CancelReason != "operator stop" {
		t.Fatalf("cancel reason = %q, want operator stop", got.CancelReason)
	}

	store.Update(job.ID, JobUpdate{Status: StatusOf(domain.JobStatusCompleted)})
	if store.RequestCancel(job.ID, "too late") {
		t.Fatal("RequestCancel() on terminal job should fail")
	}

	if store.RequestCancel("missing", "") {
		t.Fatal("RequestCancel() on unknown job should fail")
	}
}

func TestInMemoryJobStoreMarkCancelled(t *testing.T) {
	t.Parallel()

	store := NewInMemoryJobStore(nil)
	job := store.Create("user-1")

	store.Update(job.ID, JobUpdate{
		Status:   StatusOf(domain.JobStatusProcessing),
		Progress: ProgressOf(37),
		Message:  MessageOf("processing row 4/12"),
		Error:    ErrorOf("transient glitch"),
	})
	store.RequestCancel(job.ID, "operator stop")

	store.MarkCancelled(job.ID, JobUpdate{Message: MessageOf("import cancelled at row 4")})

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() unexpected error = %v", err)
	}
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.CancelRequested {
		t.Fatal("cancel flag should be cleared after MarkCancelled")
	}
	if got.Error != "" {
		t.Fatalf("error = %q, want cleared", got.Error)
	}
	if got.Progress != 37 {
		t.Fatalf("progress = %d, want preserved 37", got.Progress)
	}
	if got.Message != "import cancelled at row 4" {
		t.Fatalf("message = %q, want override applied", got.Message)
	}
}

func TestInMemoryJobStoreScheduleCleanup(t *testing.T) {
	t.Parallel()

	store := NewInMemoryJobStore(nil)
	job := store.Create("user-1")

	store.ScheduleCleanup(job.ID, 20*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.Get(job.ID); errors.Is(err, domain.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job was not reclaimed before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Updates after cleanup stay no-ops.
	store.Update(job.ID, JobUpdate{Progress: ProgressOf(10)})
}

func TestInMemoryJobStoreDeleteStopsCleanupTimer(t *testing.T) {
	t.Parallel()

	store := NewInMemoryJobStore(nil)
	job := store.Create("user-1")

	store.ScheduleCleanup(job.ID, time.Hour)
	store.Delete(job.ID)

	if _, err := store.Get(job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryJobStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := NewInMemoryJobStore(nil)
	job := store.Create("user-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				switch worker % 4 {
				case 0:
					store.Update(job.ID, JobUpdate{Progress: ProgressOf(n % 101)})
				case 1:
					_, _ = store.Get(job.ID)
				case 2:
					store.IsCancelRequested(job.ID)
				case 3:
					store.Update(job.ID, JobUpdate{Message: MessageOf("tick")})
				}
			}
		}(i)
	}
	wg.Wait()

	if _, err := store.Get(job.ID); err != nil {
		t.Fatalf("Get() after concurrent access error = %v", err)
	}
}
