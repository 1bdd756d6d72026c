package schema

import (
	"fmt"

	"github.com/propflow/skiptrace-cli/internal/model"
)

// SchemaError reports a structural problem with the uploaded file: a row
// whose column count disagrees with the header, or a file with no columns.
type SchemaError struct {
	Row      int // 1-based file row, 0 when not row-specific
	Expected int
	Got      int
	Msg      string
}

func (e *SchemaError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("schema: row %d has %d columns, expected %d", e.Row, e.Got, e.Expected)
	}
	return "schema: " + e.Msg
}

// FieldConflictError reports an assignment that exceeds a field's column
// cap: more than one column for a singleton field, or more than
// MaxPhoneColumns for phone.
type FieldConflictError struct {
	Field   model.CanonicalField
	Limit   int
	Columns []int // 0-based column indexes carrying the field
}

func (e *FieldConflictError) Error() string {
	return fmt.Sprintf("schema: field %q assigned to %d columns, limit %d", e.Field, len(e.Columns), e.Limit)
}
