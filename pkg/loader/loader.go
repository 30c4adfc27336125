// Package loader turns ticket export files into TicketRecords. Files are
// read through a FileLoader (local disk or S3) and parsed by format.
package loader

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/loader/csv"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// FileLoader reads the raw contents of a file. Implementations may load
// files from disk, cloud storage, or other sources.
type FileLoader interface {
	GetFile(ctx context.Context, path string) ([]byte, error)
}

// TicketFile is a ticket export together with the loader that reads it.
type TicketFile struct {
	Path   string
	Format Format
	Loader FileLoader
}

// Options control how records are post-processed after parsing.
type Options struct {
	// MaskPII replaces customer emails with their masked form.
	MaskPII bool
}

// NewTicketFile creates a TicketFile, detecting the format from the file
// extension.
func NewTicketFile(filePath string, l FileLoader) (TicketFile, error) {
	format, err := DetectFormat(filePath)
	if err != nil {
		return TicketFile{}, err
	}
	return TicketFile{Path: filePath, Format: format, Loader: l}, nil
}

func DetectFormat(filePath string) (Format, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(path.Ext(filePath), ".")); ext {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unsupported ticket file type %q", ext)
	}
}

// Records loads and parses the file.
//
// Example:
//
//	file, err := loader.NewTicketFile("data/tickets.csv", io.NewIOFileLoader())
//	if err != nil {
//		log.Fatal(err)
//	}
//	records, err := file.Records(ctx, loader.Options{MaskPII: true})
func (f TicketFile) Records(ctx context.Context, opts Options) ([]common.TicketRecord, error) {
	content, err := f.Loader.GetFile(ctx, f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	records, err := Parse(content, f.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.Path, err)
	}
	if opts.MaskPII {
		MaskEmails(records)
	}
	return records, nil
}

// MaskEmails replaces every customer email in records with its masked
// form.
func MaskEmails(records []common.TicketRecord) {
	for i := range records {
		records[i].CustomerEmail = common.MaskEmail(records[i].CustomerEmail)
	}
}

// Parse parses content in the given format.
func Parse(content []byte, format Format) ([]common.TicketRecord, error) {
	switch format {
	case FormatCSV:
		return csv.ParseTickets(content)
	case FormatJSON:
		return ParseJSON(content)
	case FormatJSONL:
		return ParseJSONLines(content)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}
