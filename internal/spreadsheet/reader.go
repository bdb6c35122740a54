package spreadsheet

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Recognized header aliases, normalized to lowercase with whitespace and
// underscores collapsed. Etsy exports use "Order ID" style headers; older
// exports use snake_case.
var (
	orderIDHeaders       = []string{"order id", "orderid"}
	transactionIDHeaders = []string{"transaction id", "transactionid"}
	skuHeaders           = []string{"sku"}
	variationsHeaders    = []string{"variations", "variation"}
	buyerHeaders         = []string{"buyer", "buyer name", "ship name"}
	quantityHeaders      = []string{"quantity", "qty", "number of items"}
)

// ReadOrderRows reads the first sheet of an XLSX workbook and maps each data
// row to a typed RawOrderRow. The first row is the header row; rows keep
// their original sheet order. RowIndex is 1-based over data rows, matching
// what a user sees when they open the file minus the header.
func ReadOrderRows(r io.Reader) ([]domain.RawOrderRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook: %v", domain.ErrValidation, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrValidation)
	}

	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %q: %v", domain.ErrValidation, sheets[0], err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", domain.ErrValidation, sheets[0])
	}

	headers := make([]string, len(cells[0]))
	for i, h := range cells[0] {
		headers[i] = strings.TrimSpace(h)
	}

	rows := make([]domain.RawOrderRow, 0, len(cells)-1)
	for i, line := range cells[1:] {
		raw := make(map[string]string, len(headers))
		empty := true
		for col, header := range headers {
			if header == "" {
				continue
			}
			var value string
			if col < len(line) {
				value = strings.TrimSpace(line[col])
			}
			raw[header] = value
			if value != "" {
				empty = false
			}
		}
		if empty {
			continue
		}

		rows = append(rows, domain.RawOrderRow{
			RowIndex:      i + 1,
			OrderID:       lookup(raw, orderIDHeaders),
			TransactionID: lookup(raw, transactionIDHeaders),
			SKU:           lookup(raw, skuHeaders),
			Variations:    lookup(raw, variationsHeaders),
			Buyer:         lookup(raw, buyerHeaders),
			Quantity:      parseQuantity(lookup(raw, quantityHeaders)),
			Raw:           raw,
		})
	}

	return rows, nil
}

func lookup(raw map[string]string, aliases []string) string {
	for header, value := range raw {
		normalized := normalizeHeader(header)
		for _, alias := range aliases {
			if normalized == alias {
				return value
			}
		}
	}
	return ""
}

func normalizeHeader(header string) string {
	fields := strings.FieldsFunc(strings.ToLower(header), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '_' || r == '-'
	})
	return strings.Join(fields, " ")
}

func parseQuantity(value string) int {
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
