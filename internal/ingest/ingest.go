// Package ingest parses uploaded CSV and XLSX spreadsheets into rows for
// the mapping and processing stages.
package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Format identifies the spreadsheet file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat infers the format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
}

// Row is one spreadsheet row with its 1-based position in the source file.
// When the file has a header row, the header is row 1 and data starts at 2.
type Row struct {
	Number int
	Cells  []string
}

// Options configures streaming ingestion.
type Options struct {
	// HasHeaderRow skips the first file row as data; it is still delivered
	// via HeaderCh when set.
	HasHeaderRow bool

	// HeaderCh, when set and HasHeaderRow is true, receives the header row
	// before any data rows. Buffer it.
	HeaderCh chan<- []string

	// StartRow skips data rows whose number is below it, for resuming a
	// partially processed file. Zero means start from the beginning.
	StartRow int
}

// Stream reads the file and delivers data rows on the returned channel.
// The caller must drain the row channel; both channels close when done.
// At most one error is sent.
func Stream(ctx context.Context, path string, opts Options) (<-chan Row, <-chan error) {
	format, err := DetectFormat(path)
	if err != nil {
		rowCh := make(chan Row)
		errCh := make(chan error, 1)
		errCh <- err
		close(rowCh)
		close(errCh)
		return rowCh, errCh
	}

	if format == FormatXLSX {
		return streamXLSX(ctx, path, opts)
	}
	return streamCSVFile(ctx, path, opts)
}

// Preview holds the head of a file for building a mapping proposal.
type Preview struct {
	Header    []string   // raw header row, or empty when HasHeaderRow is false
	Samples   [][]string // up to the requested number of data rows
	TotalRows int        // data rows in the whole file
}

// Column returns the values sample rows carry at the given column index.
func (p *Preview) Column(idx int) []string {
	var vals []string
	for _, row := range p.Samples {
		if idx < len(row) {
			vals = append(vals, row[idx])
		}
	}
	return vals
}

// ReadPreview scans the whole file, retaining the header and the first
// sampleRows data rows, and counts the total data rows.
func ReadPreview(ctx context.Context, path string, hasHeader bool, sampleRows int) (*Preview, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := Stream(ctx, path, Options{
		HasHeaderRow: hasHeader,
		HeaderCh:     headerCh,
	})

	p := &Preview{}
	for row := range rowCh {
		p.TotalRows++
		if len(p.Samples) < sampleRows {
			p.Samples = append(p.Samples, row.Cells)
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if hasHeader {
		select {
		case p.Header = <-headerCh:
		default:
			return nil, eris.New("ingest: file has no header row")
		}
	}
	return p, nil
}
