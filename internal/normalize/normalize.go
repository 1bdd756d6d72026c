// Package normalize converts mapped spreadsheet rows into canonical
// records: field validation, name reconciliation, phone cleaning, and
// address normalization.
package normalize

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/propflow/skiptrace-cli/internal/model"
	"github.com/propflow/skiptrace-cli/internal/schema"
)

// ValidationError reports a field value that fails validation, carrying
// the 1-based file row and column for user-facing messages.
type ValidationError struct {
	Row    int
	Column int // 1-based
	Field  model.CanonicalField
	Length int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Length > 0 {
		return fmt.Sprintf("row %d, column %d (%s): value is %d characters, limit %d",
			e.Row, e.Column, e.Field, e.Length, model.MaxFieldLen)
	}
	return fmt.Sprintf("row %d, column %d (%s): %s", e.Row, e.Column, e.Field, e.Reason)
}

// Normalizer converts raw rows to canonical records under one mapping.
type Normalizer struct {
	mapping model.ColumnMapping
	title   cases.Caser
}

// NewNormalizer creates a normalizer for the given confirmed mapping.
func NewNormalizer(mapping model.ColumnMapping) *Normalizer {
	return &Normalizer{
		mapping: mapping,
		title:   cases.Title(language.English, cases.NoLower),
	}
}

// Record converts one data row. It returns a SchemaError for rows wider
// than the mapping and a ValidationError for oversized field values.
func (n *Normalizer) Record(batchID string, rowNum int, cells []string) (model.CanonicalRecord, error) {
	rec := model.CanonicalRecord{BatchID: batchID, RowNumber: rowNum}

	if err := schema.CheckRowWidth(n.mapping, rowNum, cells); err != nil {
		return rec, err
	}

	for _, a := range n.mapping {
		if a.Field == model.FieldSkip || a.Index >= len(cells) {
			continue
		}
		val := strings.TrimSpace(cells[a.Index])
		if val == "" {
			continue
		}
		if len([]rune(val)) > model.MaxFieldLen {
			return rec, &ValidationError{
				Row:    rowNum,
				Column: a.Index + 1,
				Field:  a.Field,
				Length: len([]rune(val)),
			}
		}
		n.apply(&rec, a.Field, val)
	}

	reconcileNames(&rec, n.title)
	return rec, nil
}

func (n *Normalizer) apply(rec *model.CanonicalRecord, field model.CanonicalField, val string) {
	switch field {
	case model.FieldFullName:
		rec.FullName = collapseSpaces(val)
	case model.FieldFirstName:
		rec.FirstName = collapseSpaces(val)
	case model.FieldLastName:
		rec.LastName = collapseSpaces(val)
	case model.FieldPropertyStreet:
		rec.Property.Street = collapseSpaces(val)
	case model.FieldPropertyCity:
		rec.Property.City = collapseSpaces(val)
	case model.FieldPropertyState:
		rec.Property.State = normalizeState(val)
	case model.FieldPropertyZip:
		rec.Property.Zip = normalizeZip(val)
	case model.FieldMailingStreet:
		rec.Mailing.Street = collapseSpaces(val)
	case model.FieldMailingCity:
		rec.Mailing.City = collapseSpaces(val)
	case model.FieldMailingState:
		rec.Mailing.State = normalizeState(val)
	case model.FieldMailingZip:
		rec.Mailing.Zip = normalizeZip(val)
	case model.FieldEmail:
		rec.Email = strings.ToLower(val)
	case model.FieldPhone:
		if phone, ok := CleanPhone(val); ok && len(rec.Phones) < model.MaxPhoneColumns {
			rec.Phones = append(rec.Phones, phone)
		}
	case model.FieldCustom1, model.FieldCustom2, model.FieldCustom3:
		rec.Custom = append(rec.Custom, val)
	}
}

// reconcileNames fills whichever of full name and first/last the file did
// not carry. A bare full name splits on the first space: first token is
// the first name, the remainder the last name.
func reconcileNames(rec *model.CanonicalRecord, title cases.Caser) {
	switch {
	case rec.FullName == "" && (rec.FirstName != "" || rec.LastName != ""):
		rec.FullName = strings.TrimSpace(rec.FirstName + " " + rec.LastName)
	case rec.FullName != "" && rec.FirstName == "" && rec.LastName == "":
		first, last, found := strings.Cut(rec.FullName, " ")
		rec.FirstName = first
		if found {
			rec.LastName = last
		}
	}
	rec.FirstName = title.String(strings.ToLower(rec.FirstName))
	rec.LastName = title.String(strings.ToLower(rec.LastName))
	if rec.FullName != "" {
		rec.FullName = title.String(strings.ToLower(rec.FullName))
	}
}

// Validate reports why a record cannot be enriched, or "" when it can.
// Enrichment needs a street plus either a city/state pair or a zip.
func Validate(rec model.CanonicalRecord) string {
	if rec.Property.Street == "" {
		return "missing property street"
	}
	if rec.Property.Zip == "" && (rec.Property.City == "" || rec.Property.State == "") {
		return "property address needs a zip or a city and state"
	}
	return ""
}

// CleanPhone strips formatting from a phone number and reports whether a
// valid 10-digit number remains. An 11-digit number with a leading 1 has
// the country code dropped.
func CleanPhone(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return "", false
	}
	return d, true
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizeState(s string) string {
	return strings.ToUpper(collapseSpaces(s))
}

// normalizeZip keeps the 5-digit prefix of ZIP and ZIP+4 forms.
func normalizeZip(s string) string {
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) > 5 {
		d = d[:5]
	}
	return d
}
