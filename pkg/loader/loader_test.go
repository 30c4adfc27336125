package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/loader/io"
)

const datasetCSV = `Ticket ID,Customer Name,Customer Email,Customer Age,Product Purchased,Ticket Subject,Ticket Description,Ticket Status,Ticket Priority
1,Marisa Obrien,carrollallison@example.com,32,GoPro Hero,Product setup,"I'm having an issue with the {product_purchased}, it won't turn on.",Pending Customer Response,Critical
2,Jessica Rios,clarkeashley@example.com,42,LG Smart TV,Peripheral compatibility,,Closed,Low
,,,,,,,,
`

type mapLoader map[string][]byte

func (m mapLoader) GetFile(_ context.Context, path string) ([]byte, error) {
	b, ok := m[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want Format
		err  bool
	}{
		{"tickets.csv", FormatCSV, false},
		{"out/TICKETS.JSON", FormatJSON, false},
		{"stream.jsonl", FormatJSONL, false},
		{"stream.ndjson", FormatJSONL, false},
		{"tickets.xlsx", "", true},
		{"noext", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			got, err := DetectFormat(tc.path)
			if (err != nil) != tc.err {
				t.Fatalf("expected error=%v, got %v", tc.err, err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRecords_DatasetCSV(t *testing.T) {
	file, err := NewTicketFile("tickets.csv", mapLoader{"tickets.csv": []byte(datasetCSV)})
	if err != nil {
		t.Fatal(err)
	}
	records, err := file.Records(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	r := records[0]
	if r.TicketID != "1" || r.CustomerEmail != "carrollallison@example.com" {
		t.Fatalf("unexpected identity %+v", r)
	}
	if common.Deref(r.ProductName) != "GoPro Hero" || common.Deref(r.Priority) != "Critical" || common.Deref(r.Status) != "Pending Customer Response" {
		t.Fatalf("unexpected fields %+v", r)
	}
	if records[1].Description != nil {
		t.Fatalf("expected blank description to be absent, got %q", *records[1].Description)
	}
	if r.RootCause != nil || r.Sentiment != nil {
		t.Fatal("expected derived fields to be absent")
	}
}

func TestRecords_MaskPII(t *testing.T) {
	file := TicketFile{Path: "t.csv", Format: FormatCSV, Loader: mapLoader{"t.csv": []byte(datasetCSV)}}
	records, err := file.Records(context.Background(), Options{MaskPII: true})
	if err != nil {
		t.Fatal(err)
	}
	if records[0].CustomerEmail != "c***@example.com" {
		t.Fatalf("expected masked email, got %q", records[0].CustomerEmail)
	}
}

func TestParseJSON_ExtractorOutput(t *testing.T) {
	content := `[
		{"Ticket ID": 17, "Customer Email": "a@x.com", "Product Purchased": "Kindle",
		 "Ticket Description": "Screen flickers", "root_cause": "Hardware", "sentiment": null,
		 "Customer Satisfaction Rating": 4.0},
		{"ticket_id": "T-2", "customer_email": "b@x.com", "issue_summary": "Cannot log in"}
	]`
	records, err := Parse([]byte(content), FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].TicketID != "17" || common.Deref(records[0].RootCause) != "Hardware" || records[0].Sentiment != nil {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if records[1].TicketID != "T-2" || common.Deref(records[1].IssueSummary) != "Cannot log in" {
		t.Fatalf("unexpected second record %+v", records[1])
	}
}

func TestParseJSONLines(t *testing.T) {
	content := "{\"ticket_id\":\"1\",\"customer_email\":\"a@x.com\"}\n\n{\"ticket_id\":\"2\",\"customer_email\":\"b@x.com\"}\n"
	records, err := Parse([]byte(content), FormatJSONL)
	if err != nil || len(records) != 2 || records[1].TicketID != "2" {
		t.Fatalf("expected 2 records, got %+v (%v)", records, err)
	}

	if _, err := ParseJSONLines([]byte("{\"ticket_id\":\"1\"}\n{broken")); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestRecords_LocalFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tickets.csv")
	if err := os.WriteFile(p, []byte("ticket_id,customer_email,product_name\nT1,a@x.com,Router\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	file, err := NewTicketFile(p, io.NewIOFileLoader())
	if err != nil {
		t.Fatal(err)
	}
	records, err := file.Records(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(records) != 1 || common.Deref(records[0].ProductName) != "Router" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestRecords_MissingFile(t *testing.T) {
	file := TicketFile{Path: "nope.csv", Format: FormatCSV, Loader: mapLoader{}}
	if _, err := file.Records(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
