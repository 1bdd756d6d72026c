package model

// CanonicalField identifies one of the fixed target schema fields a source
// column may be mapped to.
type CanonicalField string

const (
	FieldSkip          CanonicalField = ""
	FieldFullName      CanonicalField = "full_name"
	FieldFirstName     CanonicalField = "first_name"
	FieldLastName      CanonicalField = "last_name"
	FieldPropertyStreet CanonicalField = "property_street"
	FieldPropertyCity  CanonicalField = "property_city"
	FieldPropertyState CanonicalField = "property_state"
	FieldPropertyZip   CanonicalField = "property_zip"
	FieldMailingStreet CanonicalField = "mailing_street"
	FieldMailingCity   CanonicalField = "mailing_city"
	FieldMailingState  CanonicalField = "mailing_state"
	FieldMailingZip    CanonicalField = "mailing_zip"
	FieldEmail         CanonicalField = "email"
	FieldPhone         CanonicalField = "phone"
	FieldCustom1       CanonicalField = "custom_1"
	FieldCustom2       CanonicalField = "custom_2"
	FieldCustom3       CanonicalField = "custom_3"
)

// MaxPhoneColumns caps how many source columns may map to the shared phone
// slots of a record.
const MaxPhoneColumns = 7

// MaxFieldLen is the per-field character ceiling enforced before a row is
// accepted into the pipeline.
const MaxFieldLen = 255

// CanonicalFields lists every assignable field in display order.
var CanonicalFields = []CanonicalField{
	FieldFullName,
	FieldFirstName,
	FieldLastName,
	FieldPropertyStreet,
	FieldPropertyCity,
	FieldPropertyState,
	FieldPropertyZip,
	FieldMailingStreet,
	FieldMailingCity,
	FieldMailingState,
	FieldMailingZip,
	FieldEmail,
	FieldPhone,
	FieldCustom1,
	FieldCustom2,
	FieldCustom3,
}

// MaxColumns returns how many source columns the field may be assigned to.
func (f CanonicalField) MaxColumns() int {
	if f == FieldPhone {
		return MaxPhoneColumns
	}
	return 1
}

// ColumnAssignment binds one source column to a canonical field (or skip).
type ColumnAssignment struct {
	Index   int            `json:"index"`
	Header  string         `json:"header"`
	Samples []string       `json:"samples,omitempty"`
	Field   CanonicalField `json:"field"`
	// AutoMatched is set when the mapper preselected the field from the
	// header text; unmatched columns require explicit confirmation.
	AutoMatched bool `json:"auto_matched,omitempty"`
}

// ColumnMapping is the ordered set of column assignments for a batch.
type ColumnMapping []ColumnAssignment

// Assigned returns the column indexes mapped to the given field, in file
// order.
func (m ColumnMapping) Assigned(field CanonicalField) []int {
	var cols []int
	for _, a := range m {
		if a.Field == field {
			cols = append(cols, a.Index)
		}
	}
	return cols
}

// Column returns the first column index assigned to field, or -1.
func (m ColumnMapping) Column(field CanonicalField) int {
	for _, a := range m {
		if a.Field == field {
			return a.Index
		}
	}
	return -1
}

// DisabledFields returns the fields no longer selectable for additional
// columns: singleton fields already assigned, and phone once its cap is
// reached.
func (m ColumnMapping) DisabledFields() []CanonicalField {
	var disabled []CanonicalField
	for _, f := range CanonicalFields {
		if len(m.Assigned(f)) >= f.MaxColumns() {
			disabled = append(disabled, f)
		}
	}
	return disabled
}
