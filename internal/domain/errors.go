package domain

import "errors"

// Sentinel errors used across the pipeline. Row-level errors are classified
// with errors.Is at the batch loop; only ErrJobCancelled aborts a whole batch.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrDuplicate marks an order row whose (transactionId, sku) pair already
	// resolved past the not_generated state.
	ErrDuplicate = errors.New("order already generated")

	// ErrTemplateResolution marks a SKU with no template alias above the
	// matching threshold.
	ErrTemplateResolution = errors.New("no matching template for SKU")

	// ErrParsing marks a failure of the text-understanding collaborator.
	ErrParsing = errors.New("variation parsing failed")

	// ErrNoStampsGenerated marks a row where every personalization group
	// failed to render.
	ErrNoStampsGenerated = errors.New("no stamps generated")

	// ErrJobCancelled is the cooperative cancellation signal. It forces the
	// terminal cancelled state instead of failed.
	ErrJobCancelled = errors.New("job cancelled")
)
