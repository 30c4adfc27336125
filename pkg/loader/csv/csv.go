package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
)

// ParseTickets parses a CSV ticket export with a header row into records.
// Headers are matched case-insensitively, so both the public dataset
// ("Ticket ID", "Product Purchased", ...) and snake_case exports load.
// Unknown columns are ignored, blank rows are skipped and a row that
// cannot be read is skipped as well.
func ParseTickets(content []byte) ([]common.TicketRecord, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("CSV file is empty or contains no valid data")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	keys := make([]string, len(header))
	hasID := false
	for i, h := range header {
		keys[i] = common.ColumnKey(h)
		if keys[i] == "ticket_id" || keys[i] == "id" {
			hasID = true
		}
	}
	if !hasID {
		return nil, fmt.Errorf("CSV header has no ticket id column")
	}

	records := make([]common.TicketRecord, 0)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		if isEmpty(row) {
			continue
		}

		var rec common.TicketRecord
		for i, value := range row {
			if i < len(keys) {
				rec.SetColumn(keys[i], value)
			}
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty or contains no valid data")
	}
	return records, nil
}

func isEmpty(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
