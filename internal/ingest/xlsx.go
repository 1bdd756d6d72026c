package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

func streamXLSX(ctx context.Context, path string, opts Options) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "xlsx: open file")
			return
		}
		if len(f.Sheets) == 0 {
			errCh <- eris.New("xlsx: file has no sheets")
			return
		}
		sheet := f.Sheets[0]

		for i, row := range sheet.Rows {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xlsx: cancelled")
				return
			}

			rowNum := i + 1
			cells := make([]string, len(row.Cells))
			for j, cell := range row.Cells {
				cells[j] = cell.String()
			}

			if rowNum == 1 && opts.HasHeaderRow {
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- cells:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "xlsx: cancelled sending header")
						return
					}
				}
				continue
			}

			if rowNum < opts.StartRow {
				continue
			}

			select {
			case rowCh <- Row{Number: rowNum, Cells: cells}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xlsx: cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
