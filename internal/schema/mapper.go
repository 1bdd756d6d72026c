// Package schema builds and validates the column mapping that binds an
// uploaded file's columns to the canonical record fields.
package schema

import (
	"fmt"
	"strings"

	"github.com/propflow/skiptrace-cli/internal/model"
)

// Mapper proposes column mappings from file headers.
type Mapper struct {
	aliases map[string]model.CanonicalField
}

// NewMapper creates a mapper using the built-in header aliases.
func NewMapper() *Mapper {
	return &Mapper{aliases: defaultAliases}
}

// NewMapperWithAliases creates a mapper with a merged alias table, e.g.
// from LoadAliases.
func NewMapperWithAliases(aliases map[string]model.CanonicalField) *Mapper {
	return &Mapper{aliases: aliases}
}

// Propose builds a mapping proposal for the given header and sample rows.
// Each header is matched case-insensitively against the canonical field
// names first, then against the alias table. When two columns resolve to
// the same field beyond its column cap, the earlier column keeps the field
// and later ones fall back to skip. Unmatched columns are left as skip for
// the user to assign.
//
// A sample row wider than the header is a SchemaError: the extra cells
// have no column to bind to, and accepting them would silently misalign
// the mapping. With an empty header (headerless files), the widest
// sample row sets the column count and every column is proposed as skip,
// named by position.
func (m *Mapper) Propose(header []string, samples [][]string) (model.ColumnMapping, error) {
	width := len(header)
	for i, row := range samples {
		if len(row) > width {
			if len(header) > 0 {
				// Data rows start at 2; row 1 is the header.
				return nil, &SchemaError{Row: i + 2, Expected: len(header), Got: len(row)}
			}
			width = len(row)
		}
	}

	used := make(map[model.CanonicalField]int)
	mapping := make(model.ColumnMapping, 0, width)
	for i := 0; i < width; i++ {
		a := model.ColumnAssignment{Index: i, Field: model.FieldSkip}
		if i < len(header) {
			a.Header = header[i]
		} else {
			a.Header = fmt.Sprintf("column %d", i+1)
		}
		for _, row := range samples {
			if i < len(row) && len(a.Samples) < 3 {
				a.Samples = append(a.Samples, row[i])
			}
		}

		if i < len(header) {
			if field, ok := m.match(header[i]); ok && used[field] < field.MaxColumns() {
				a.Field = field
				a.AutoMatched = true
				used[field]++
			}
		}
		mapping = append(mapping, a)
	}
	return mapping, nil
}

// match resolves one header to a canonical field.
func (m *Mapper) match(header string) (model.CanonicalField, bool) {
	h := normalizeHeader(header)
	if h == "" {
		return model.FieldSkip, false
	}

	// Exact match against the field names themselves ("property_street",
	// "Property Street").
	for _, f := range model.CanonicalFields {
		if h == normalizeHeader(string(f)) {
			return f, true
		}
	}

	if f, ok := m.aliases[h]; ok {
		return f, true
	}

	// Numbered variants: "phone 2", "phone3" match the base alias.
	if base, ok := stripTrailingNumber(h); ok {
		if f, ok := m.aliases[base]; ok {
			return f, true
		}
	}

	return model.FieldSkip, false
}

func stripTrailingNumber(h string) (string, bool) {
	trimmed := strings.TrimRight(h, "0123456789")
	if trimmed == h {
		return "", false
	}
	return strings.TrimSpace(trimmed), true
}

// Assign sets the field for the column at index, returning a
// FieldConflictError when the assignment would exceed the field's column
// cap. Assigning FieldSkip always succeeds.
func Assign(mapping model.ColumnMapping, index int, field model.CanonicalField) (model.ColumnMapping, error) {
	out := make(model.ColumnMapping, len(mapping))
	copy(out, mapping)

	for i := range out {
		if out[i].Index != index {
			continue
		}
		if field != model.FieldSkip {
			cols := append(out.Assigned(field), index)
			if out[i].Field != field && len(cols) > field.MaxColumns() {
				return nil, &FieldConflictError{Field: field, Limit: field.MaxColumns(), Columns: cols}
			}
		}
		out[i].Field = field
		out[i].AutoMatched = false
		return out, nil
	}
	return nil, &SchemaError{Msg: fmt.Sprintf("no column at index %d", index)}
}

// Validate checks the whole mapping for column-cap violations.
func Validate(mapping model.ColumnMapping) error {
	if len(mapping) == 0 {
		return &SchemaError{Msg: "mapping has no columns"}
	}
	for _, f := range model.CanonicalFields {
		cols := mapping.Assigned(f)
		if len(cols) > f.MaxColumns() {
			return &FieldConflictError{Field: f, Limit: f.MaxColumns(), Columns: cols}
		}
	}
	return nil
}

// CheckRowWidth rejects a data row whose column count exceeds the mapped
// width. Short rows are tolerated; trailing mapped columns read as empty.
func CheckRowWidth(mapping model.ColumnMapping, rowNum int, cells []string) error {
	if len(cells) > len(mapping) {
		return &SchemaError{Row: rowNum, Expected: len(mapping), Got: len(cells)}
	}
	return nil
}
