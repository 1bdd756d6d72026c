package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collectRows(t *testing.T, rowCh <-chan Row, errCh <-chan error) ([]Row, error) {
	t.Helper()
	var rows []Row
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"leads.csv", FormatCSV, false},
		{"leads.CSV", FormatCSV, false},
		{"leads.txt", FormatCSV, false},
		{"leads.xlsx", FormatXLSX, false},
		{"leads.pdf", "", true},
		{"leads", "", true},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if tt.wantErr {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestStream_CSVWithHeader(t *testing.T) {
	path := writeTempCSV(t, "Name,Street\nAlice,12 Oak St\nBob,9 Elm Ave\n")
	headerCh := make(chan []string, 1)

	rowCh, errCh := Stream(context.Background(), path, Options{
		HasHeaderRow: true,
		HeaderCh:     headerCh,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, []string{"Alice", "12 Oak St"}, rows[0].Cells)
	assert.Equal(t, 3, rows[1].Number)

	assert.Equal(t, []string{"Name", "Street"}, <-headerCh)
}

func TestStream_CSVWithoutHeader(t *testing.T) {
	path := writeTempCSV(t, "Alice,12 Oak St\nBob,9 Elm Ave\n")

	rowCh, errCh := Stream(context.Background(), path, Options{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Number)
	assert.Equal(t, 2, rows[1].Number)
}

func TestStream_TrimsWhitespace(t *testing.T) {
	path := writeTempCSV(t, " Alice , 12 Oak St \n")

	rowCh, errCh := Stream(context.Background(), path, Options{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"Alice", "12 Oak St"}, rows[0].Cells)
}

func TestStream_StartRowSkipsProcessedRows(t *testing.T) {
	path := writeTempCSV(t, "h1,h2\nr2,x\nr3,x\nr4,x\n")

	rowCh, errCh := Stream(context.Background(), path, Options{
		HasHeaderRow: true,
		StartRow:     4,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].Number)
	assert.Equal(t, "r4", rows[0].Cells[0])
}

func TestStream_RaggedRowsDelivered(t *testing.T) {
	// Variable field counts are passed through; the mapping layer decides
	// whether they are an error.
	path := writeTempCSV(t, "a,b,c\n1,2\n1,2,3,4\n")

	rowCh, errCh := Stream(context.Background(), path, Options{HasHeaderRow: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0].Cells, 2)
	assert.Len(t, rows[1].Cells, 4)
}

func TestStream_UnsupportedExtension(t *testing.T) {
	rowCh, errCh := Stream(context.Background(), "upload.pdf", Options{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestStream_MissingFile(t *testing.T) {
	rowCh, errCh := Stream(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), Options{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
}

func TestStream_ContextCancellation(t *testing.T) {
	var content string
	for range 5000 {
		content += "a,b,c\n"
	}
	path := writeTempCSV(t, content)

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := Stream(ctx, path, Options{})

	// Read a few rows then cancel.
	for range 3 {
		<-rowCh
	}
	cancel()

	_, err := collectRows(t, rowCh, errCh)
	// Either the stream finished before cancellation took effect or it
	// reports a cancellation error; it must not hang.
	if err != nil {
		assert.Contains(t, err.Error(), "cancelled")
	}
}

func TestReadPreview(t *testing.T) {
	path := writeTempCSV(t, "Name,Street\nAlice,12 Oak St\nBob,9 Elm Ave\nCara,3 Pine Rd\n")

	p, err := ReadPreview(context.Background(), path, true, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Street"}, p.Header)
	assert.Equal(t, 3, p.TotalRows)
	require.Len(t, p.Samples, 2)
	assert.Equal(t, []string{"Alice", "Bob"}, p.Column(0))
}

func TestReadPreview_NoHeader(t *testing.T) {
	path := writeTempCSV(t, "Alice,12 Oak St\n")

	p, err := ReadPreview(context.Background(), path, false, 3)
	require.NoError(t, err)
	assert.Empty(t, p.Header)
	assert.Equal(t, 1, p.TotalRows)
	require.Len(t, p.Samples, 1)
}

func TestReadPreview_EmptyFileWithHeaderFlag(t *testing.T) {
	path := writeTempCSV(t, "")

	_, err := ReadPreview(context.Background(), path, true, 3)
	require.Error(t, err)
}
