package litigator

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/propflow/skiptrace-cli/internal/ingest"
	"github.com/propflow/skiptrace-cli/internal/model"
	"github.com/propflow/skiptrace-cli/internal/normalize"
)

// LoadResult summarizes a blocklist file load.
type LoadResult struct {
	Records []model.LitigatorRecord
	// Skipped counts rows with no usable name+address fingerprint.
	Skipped int
}

// LoadCSV reads a blocklist maintenance file into LitigatorRecords.
// The file must have a header row naming at least a name column and a
// street column; city/state/zip are optional but recommended, since
// they are part of the match key.
func LoadCSV(ctx context.Context, path string) (*LoadResult, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := ingest.Stream(ctx, path, ingest.Options{
		HasHeaderRow: true,
		HeaderCh:     headerCh,
	})

	// Blocklists are small enough to buffer; drain before reading the
	// header so channel ordering never matters.
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row.Cells)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "litigator: read blocklist")
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
		return nil, eris.New("litigator: blocklist file is empty")
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	res := &LoadResult{}
	now := time.Now().UTC()
	for _, cells := range rows {
		rec, ok := recordFromRow(cols, cells, now)
		if !ok {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	if len(res.Records) == 0 {
		return nil, eris.New("litigator: blocklist file has no usable rows")
	}
	return res, nil
}

// columnIndexes locates the blocklist columns by header text. -1 means
// the column is absent.
type columnIndexes struct {
	firstName int
	lastName  int
	fullName  int
	street    int
	city      int
	state     int
	zip       int
}

func mapColumns(header []string) (columnIndexes, error) {
	cols := columnIndexes{firstName: -1, lastName: -1, fullName: -1, street: -1, city: -1, state: -1, zip: -1}
	for i, h := range header {
		switch normalizeHeader(h) {
		case "first name", "first":
			cols.firstName = i
		case "last name", "last":
			cols.lastName = i
		case "name", "full name", "litigator name", "litigator":
			cols.fullName = i
		case "street", "address", "street address", "property address":
			cols.street = i
		case "city":
			cols.city = i
		case "state", "st":
			cols.state = i
		case "zip", "zip code", "zipcode", "postal code":
			cols.zip = i
		}
	}
	if cols.fullName < 0 && cols.lastName < 0 {
		return cols, eris.New("litigator: blocklist header has no name column")
	}
	if cols.street < 0 {
		return cols, eris.New("litigator: blocklist header has no street column")
	}
	return cols, nil
}

func recordFromRow(cols columnIndexes, cells []string, now time.Time) (model.LitigatorRecord, bool) {
	cell := func(idx int) string {
		if idx < 0 || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	first := cell(cols.firstName)
	last := cell(cols.lastName)
	full := cell(cols.fullName)
	if last == "" && full != "" {
		// "First Last" or a single-word name.
		if f, l, found := strings.Cut(full, " "); found {
			first, last = f, strings.TrimSpace(l)
		} else {
			last = full
		}
	}
	if full == "" {
		full = strings.TrimSpace(first + " " + last)
	}

	addr := model.Address{
		Street: cell(cols.street),
		City:   cell(cols.city),
		State:  cell(cols.state),
		Zip:    cell(cols.zip),
	}
	fp := normalize.NameAddressFingerprint(first, last, addr)
	if fp == "" {
		return model.LitigatorRecord{}, false
	}

	return model.LitigatorRecord{
		Fingerprint: fp,
		FullName:    full,
		Street:      addr.Street,
		City:        addr.City,
		State:       addr.State,
		Zip:         addr.Zip,
		AddedAt:     now,
	}, true
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	for _, sep := range []string{"_", "-", ".", "/"} {
		h = strings.ReplaceAll(h, sep, " ")
	}
	return strings.Join(strings.Fields(h), " ")
}
