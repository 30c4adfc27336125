package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
)

// ParseJSON parses a JSON array of ticket objects, such as the output of
// the field extractor. Keys follow the same rules as CSV headers, numbers
// such as numeric ticket ids keep their literal text and null means
// absent.
func ParseJSON(content []byte) ([]common.TicketRecord, error) {
	var rows []map[string]any
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("invalid ticket JSON: %w", err)
	}

	records := make([]common.TicketRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromMap(row))
	}
	return records, nil
}

// ParseJSONLines parses one ticket object per line. Blank lines are
// skipped; a malformed line fails the whole file with its line number.
func ParseJSONLines(content []byte) ([]common.TicketRecord, error) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	records := make([]common.TicketRecord, 0)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var row map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("invalid ticket JSON on line %d: %w", line, err)
		}
		records = append(records, recordFromMap(row))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func recordFromMap(row map[string]any) common.TicketRecord {
	var rec common.TicketRecord
	for k, v := range row {
		value, ok := stringify(v)
		if !ok {
			continue
		}
		rec.SetColumn(common.ColumnKey(k), value)
	}
	return rec
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
