package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/events"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/observability"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/registry"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/spreadsheet"
	"go.uber.org/zap"
)

// ImportService runs the asynchronous batch pipeline: one job per uploaded
// spreadsheet, rows processed strictly sequentially so progress and the
// cancellation checkpoint stay deterministic.
type ImportService struct {
	jobs      registry.JobStore
	stamps    StampGenerator
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	retention time.Duration
	now       func() time.Time
}

func NewImportService(
	jobs registry.JobStore,
	stamps StampGenerator,
	publisher events.Publisher,
	retention time.Duration,
	logger *zap.Logger,
) (*ImportService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if stamps == nil {
		return nil, fmt.Errorf("stamp generator is required")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if retention <= 0 {
		retention = registry.DefaultCleanupAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ImportService{
		jobs:      jobs,
		stamps:    stamps,
		publisher: publisher,
		logger:    logger,
		retention: retention,
		now:       time.Now,
	}, nil
}

func (s *ImportService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit reads the uploaded workbook, creates a job and starts the batch in
// the background. The returned job is a pending snapshot the caller can poll.
func (s *ImportService) Submit(ctx context.Context, file io.Reader, ownerID string) (*domain.Job, error) {
	rows, err := spreadsheet.ReadOrderRows(file)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: spreadsheet contains no order rows", domain.ErrValidation)
	}

	job := s.jobs.Create(ownerID)
	s.logger.Info("import job accepted",
		zap.String("jobId", job.ID),
		zap.String("ownerId", job.OwnerID),
		zap.Int("rows", len(rows)),
	)

	// The request context dies with the upload response; the batch owns its
	// own lifetime.
	go s.processBatch(context.Background(), job.ID, job.OwnerID, rows)

	return job, nil
}

// GetJob returns the job snapshot, enforcing ownership: only the job's owner
// or an elevated caller may read it.
func (s *ImportService) GetJob(id, callerID string, elevated bool) (*domain.Job, error) {
	job, err := s.jobs.Get(id)
	if err != nil {
		return nil, err
	}
	if !elevated && job.OwnerID != "" && job.OwnerID != strings.TrimSpace(callerID) {
		return nil, fmt.Errorf("%w: job %q belongs to another owner", domain.ErrForbidden, id)
	}
	return job, nil
}

// Cancel requests cooperative cancellation. It returns false when the job is
// already terminal; the batch notices the flag at its next row boundary.
func (s *ImportService) Cancel(id, callerID string, elevated bool, reason string) (bool, error) {
	if _, err := s.GetJob(id, callerID, elevated); err != nil {
		return false, err
	}
	return s.jobs.RequestCancel(id, reason), nil
}

func (s *ImportService) processBatch(ctx context.Context, jobID, ownerID string, rows []domain.RawOrderRow) {
	if s.metrics != nil {
		s.metrics.IncImportsInFlight()
		defer s.metrics.DecImportsInFlight()
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("import batch panicked",
				zap.String("jobId", jobID),
				zap.Any("panic", r),
			)
			s.finishJob(jobID, ownerID, domain.JobStatusFailed, nil,
				fmt.Sprintf("internal error: %v", r))
		}
	}()

	total := len(rows)
	s.jobs.Update(jobID, registry.JobUpdate{
		Status:   registry.StatusOf(domain.JobStatusProcessing),
		Progress: registry.ProgressOf(10),
		Message:  registry.MessageOf(fmt.Sprintf("processing %d rows", total)),
	})

	result := &domain.ImportResult{Total: total}

	for i, row := range rows {
		if s.jobs.IsCancelRequested(jobID) {
			s.logger.Info("import cancelled at row boundary",
				zap.String("jobId", jobID),
				zap.Int("rowIndex", row.RowIndex),
			)
			s.cancelJob(jobID, ownerID, row.RowIndex, result)
			return
		}

		s.jobs.Update(jobID, registry.JobUpdate{
			Progress: registry.ProgressOf(10 + 85*i/total),
			Message:  registry.MessageOf(fmt.Sprintf("processing row %d of %d", i+1, total)),
		})

		rowResult, outcome := s.processRow(ctx, jobID, ownerID, row)
		if rowResult == nil {
			// Cancellation surfaced from inside the row.
			s.cancelJob(jobID, ownerID, row.RowIndex, result)
			return
		}
		s.accumulate(result, *rowResult, outcome)
	}

	s.finishJob(jobID, ownerID, domain.JobStatusCompleted, result, "")
}

// processRow classifies one row's outcome. A nil row result means the row hit
// the cancellation signal and the batch must stop.
func (s *ImportService) processRow(ctx context.Context, jobID, ownerID string, row domain.RawOrderRow) (*domain.RowResult, *StampOutcome) {
	rowResult := domain.RowResult{
		RowIndex:      row.RowIndex,
		OrderID:       row.OrderID,
		TransactionID: row.TransactionID,
		OriginalRow:   row.Raw,
	}

	if err := row.Validate(); err != nil {
		rowResult.Status = domain.RowStatusSkipped
		rowResult.Reason = err.Error()
		return &rowResult, nil
	}

	outcome, err := s.stamps.GenerateForRow(ctx, jobID, ownerID, row)
	switch {
	case err == nil:
		rowResult.Status = domain.RowStatusSuccess
		rowResult.StampCount = len(outcome.StampImageURLs)
		return &rowResult, outcome

	case errors.Is(err, domain.ErrJobCancelled):
		return nil, nil

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrTemplateResolution),
		errors.Is(err, domain.ErrParsing),
		errors.Is(err, domain.ErrNoStampsGenerated):
		rowResult.Status = domain.RowStatusSkipped
		rowResult.Reason = err.Error()

	default:
		s.logger.Error("row failed with unclassified error",
			zap.String("jobId", jobID),
			zap.Int("rowIndex", row.RowIndex),
			zap.Error(err),
		)
		rowResult.Status = domain.RowStatusFailed
		rowResult.Reason = err.Error()
	}

	return &rowResult, nil
}

func (s *ImportService) accumulate(result *domain.ImportResult, row domain.RowResult, outcome *StampOutcome) {
	result.Rows = append(result.Rows, row)
	if outcome != nil {
		result.Stamps = append(result.Stamps, outcome.StampImageURLs...)
		result.OrderDetailIDs = append(result.OrderDetailIDs, outcome.OrderDetailID)
	}

	switch row.Status {
	case domain.RowStatusSuccess:
		// Created counts successful personalization groups, not rows: a row
		// with two groups where both render contributes two.
		result.Created += row.StampCount
	case domain.RowStatusSkipped:
		result.Skipped++
		if row.Reason != "" {
			result.SkippedReasons = append(result.SkippedReasons, row.Reason)
		}
	case domain.RowStatusFailed:
		result.Failed++
	}

	if s.metrics != nil {
		s.metrics.IncRowProcessed(row.Status.String())
	}
}

func (s *ImportService) cancelJob(jobID, ownerID string, rowIndex int, result *domain.ImportResult) {
	s.jobs.MarkCancelled(jobID, registry.JobUpdate{
		Message: registry.MessageOf(fmt.Sprintf("cancelled at row %d", rowIndex)),
		Result:  result,
	})
	s.afterTerminal(jobID, ownerID, domain.JobStatusCancelled, result, "")
}

func (s *ImportService) finishJob(jobID, ownerID string, status domain.JobStatus, result *domain.ImportResult, errMessage string) {
	update := registry.JobUpdate{
		Status: registry.StatusOf(status),
	}
	if status == domain.JobStatusCompleted {
		update.Progress = registry.ProgressOf(100)
		update.Message = registry.MessageOf("import completed")
		update.Result = result
	}
	if errMessage != "" {
		update.Error = registry.ErrorOf(errMessage)
	}
	s.jobs.Update(jobID, update)
	s.afterTerminal(jobID, ownerID, status, result, errMessage)
}

func (s *ImportService) afterTerminal(jobID, ownerID string, status domain.JobStatus, result *domain.ImportResult, errMessage string) {
	if s.metrics != nil {
		s.metrics.IncJobFinished(status.String())
	}
	s.jobs.ScheduleCleanup(jobID, s.retention)

	event := events.ImportEvent{
		JobID:      jobID,
		OwnerID:    ownerID,
		Status:     status,
		Error:      errMessage,
		OccurredAt: s.now().UTC(),
	}
	if result != nil {
		event.Total = result.Total
		event.Created = result.Created
		event.Skipped = result.Skipped
		event.Failed = result.Failed
	}

	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(publishCtx, event); err != nil {
		s.logger.Warn("failed to publish import event",
			zap.String("jobId", jobID),
			zap.Error(err),
		)
	}
}
