package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCleanupAfter is how long a terminal job stays queryable before the
// registry reclaims it.
const DefaultCleanupAfter = 24 * time.Hour

// JobUpdate is a partial, whole-record merge applied to a registry job. Nil
// fields keep the current value.
type JobUpdate struct {
	Status   *domain.JobStatus
	Progress *int
	Message  *string
	Result   *domain.ImportResult
	Error    *string
}

// JobStore is the shared job-state port consumed by the batch loop and by
// status-polling callers. Implementations must be safe for concurrent use.
type JobStore interface {
	Create(ownerID string) *domain.Job
	Get(id string) (*domain.Job, error)
	Update(id string, update JobUpdate)
	RequestCancel(id string, reason string) bool
	IsCancelRequested(id string) bool
	MarkCancelled(id string, update JobUpdate)
	ScheduleCleanup(id string, after time.Duration)
	Delete(id string)
}

var _ JobStore = (*InMemoryJobStore)(nil)

// InMemoryJobStore keeps jobs in a mutex-guarded map. Updates are produced by
// a single owning batch goroutine per job, so whole-record merges under the
// map lock are sufficient.
type InMemoryJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	timers map[string]*time.Timer
	logger *zap.Logger
	now    func() time.Time
}

func NewInMemoryJobStore(logger *zap.Logger) *InMemoryJobStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryJobStore{
		jobs:   make(map[string]*domain.Job),
		timers: make(map[string]*time.Timer),
		logger: logger,
		now:    time.Now,
	}
}

func (s *InMemoryJobStore) Create(ownerID string) *domain.Job {
	now := s.now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		OwnerID:   strings.TrimSpace(ownerID),
		Status:    domain.JobStatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	snapshot := *job
	return &snapshot
}

// Get returns a copy of the job so callers never observe a partially merged
// record.
func (s *InMemoryJobStore) Get(id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %q", domain.ErrNotFound, id)
	}

	snapshot := *job
	return &snapshot, nil
}

// Update merges the partial update into the job. A missing job is a no-op:
// the job may already have been cleaned up while its batch was finishing.
func (s *InMemoryJobStore) Update(id string, update JobUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}

	s.applyLocked(job, update)
}

// RequestCancel flags a pending or processing job for cooperative
// cancellation. It returns false for jobs already in a terminal state.
func (s *InMemoryJobStore) RequestCancel(id string, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	if job.Status.IsTerminal() {
		return false
	}

	job.CancelRequested = true
	job.CancelReason = strings.TrimSpace(reason)
	job.UpdatedAt = s.now().UTC()
	return true
}

func (s *InMemoryJobStore) IsCancelRequested(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	return job.CancelRequested
}

// MarkCancelled forces the terminal cancelled state. The cancel flag and any
// previous error are cleared; progress and message survive unless the update
// overrides them.
func (s *InMemoryJobStore) MarkCancelled(id string, update JobUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}

	job.CancelRequested = false
	job.Error = ""
	s.applyLocked(job, update)
	job.Status = domain.JobStatusCancelled
}

// ScheduleCleanup arranges best-effort removal of the job after the given
// delay. A non-positive delay falls back to DefaultCleanupAfter. Rescheduling
// replaces the previous timer.
func (s *InMemoryJobStore) ScheduleCleanup(id string, after time.Duration) {
	if after <= 0 {
		after = DefaultCleanupAfter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return
	}
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
	}

	s.timers[id] = time.AfterFunc(after, func() {
		s.Delete(id)
		s.logger.Debug("job reclaimed from registry", zap.String("jobId", id))
	})
}

func (s *InMemoryJobStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	delete(s.jobs, id)
}

func (s *InMemoryJobStore) applyLocked(job *domain.Job, update JobUpdate) {
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Progress != nil {
		progress := *update.Progress
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		job.Progress = progress
	}
	if update.Message != nil {
		job.Message = *update.Message
	}
	if update.Result != nil {
		job.Result = update.Result
	}
	if update.Error != nil {
		job.Error = *update.Error
	}
	job.UpdatedAt = s.now().UTC()
}

// Helpers for building partial updates without local temporaries.

func StatusOf(status domain.JobStatus) *domain.JobStatus { return &status }

func ProgressOf(progress int) *int { return &progress }

func MessageOf(message string) *string { return &message }

func ErrorOf(message string) *string { return &message }
