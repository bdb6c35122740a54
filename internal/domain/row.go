package domain

import (
	"fmt"
	"strings"
)

// RawOrderRow is one line of an imported order spreadsheet, mapped from the
// sheet's human-readable columns at ingestion so the rest of the pipeline
// never touches raw cell maps.
type RawOrderRow struct {
	RowIndex      int
	OrderID       string
	TransactionID string
	SKU           string
	Variations    string
	Buyer         string
	Quantity      int
	Raw           map[string]string
}

// Validate checks the fields the pipeline cannot proceed without. A missing
// field skips the row, never the batch.
func (r RawOrderRow) Validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return fmt.Errorf("%w: missing orderId", ErrValidation)
	}
	if strings.TrimSpace(r.TransactionID) == "" {
		return fmt.Errorf("%w: missing transactionId", ErrValidation)
	}
	return nil
}
