package schema

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/propflow/skiptrace-cli/internal/model"
)

// defaultAliases maps normalized header spellings to canonical fields.
// List-export tools disagree wildly on header names; this covers the
// spellings seen in the wild. Users can extend it with an alias file.
var defaultAliases = map[string]model.CanonicalField{
	"full name":  model.FieldFullName,
	"fullname":   model.FieldFullName,
	"owner name": model.FieldFullName,
	"owner":      model.FieldFullName,
	"name":       model.FieldFullName,

	"first name":       model.FieldFirstName,
	"first":            model.FieldFirstName,
	"fname":            model.FieldFirstName,
	"owner first name": model.FieldFirstName,

	"last name":       model.FieldLastName,
	"last":            model.FieldLastName,
	"lname":           model.FieldLastName,
	"surname":         model.FieldLastName,
	"owner last name": model.FieldLastName,

	"property street":  model.FieldPropertyStreet,
	"property address": model.FieldPropertyStreet,
	"site address":     model.FieldPropertyStreet,
	"street":           model.FieldPropertyStreet,
	"address":          model.FieldPropertyStreet,

	"property city": model.FieldPropertyCity,
	"site city":     model.FieldPropertyCity,
	"city":          model.FieldPropertyCity,

	"property state": model.FieldPropertyState,
	"site state":     model.FieldPropertyState,
	"state":          model.FieldPropertyState,
	"st":             model.FieldPropertyState,

	"property zip":      model.FieldPropertyZip,
	"site zip":          model.FieldPropertyZip,
	"zip":               model.FieldPropertyZip,
	"zipcode":           model.FieldPropertyZip,
	"zip code":          model.FieldPropertyZip,
	"postal code":       model.FieldPropertyZip,
	"property zip code": model.FieldPropertyZip,

	"mailing street":  model.FieldMailingStreet,
	"mailing address": model.FieldMailingStreet,
	"mail address":    model.FieldMailingStreet,
	"owner address":   model.FieldMailingStreet,

	"mailing city": model.FieldMailingCity,
	"mail city":    model.FieldMailingCity,
	"owner city":   model.FieldMailingCity,

	"mailing state": model.FieldMailingState,
	"mail state":    model.FieldMailingState,
	"owner state":   model.FieldMailingState,

	"mailing zip":      model.FieldMailingZip,
	"mailing zip code": model.FieldMailingZip,
	"mail zip":         model.FieldMailingZip,
	"owner zip":        model.FieldMailingZip,

	"email":         model.FieldEmail,
	"email address": model.FieldEmail,
	"e mail":        model.FieldEmail,

	"phone":        model.FieldPhone,
	"phone number": model.FieldPhone,
	"telephone":    model.FieldPhone,
	"cell":         model.FieldPhone,
	"cell phone":   model.FieldPhone,
	"mobile":       model.FieldPhone,
	"landline":     model.FieldPhone,

	"custom":   model.FieldCustom1,
	"custom 1": model.FieldCustom1,
	"custom 2": model.FieldCustom2,
	"custom 3": model.FieldCustom3,
	"notes":    model.FieldCustom1,
}

// aliasFile is the YAML shape of a user alias file: canonical field name to
// list of header spellings.
type aliasFile map[string][]string

// LoadAliases reads a YAML alias file and merges it over the built-in
// aliases. User entries win on collision.
func LoadAliases(path string) (map[string]model.CanonicalField, error) {
	merged := make(map[string]model.CanonicalField, len(defaultAliases))
	for k, v := range defaultAliases {
		merged[k] = v
	}
	if path == "" {
		return merged, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "schema: read alias file")
	}
	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "schema: parse alias file")
	}

	valid := make(map[model.CanonicalField]bool, len(model.CanonicalFields))
	for _, f := range model.CanonicalFields {
		valid[f] = true
	}
	for fieldName, spellings := range file {
		field := model.CanonicalField(fieldName)
		if !valid[field] {
			return nil, eris.Errorf("schema: alias file names unknown field %q", fieldName)
		}
		for _, s := range spellings {
			merged[normalizeHeader(s)] = field
		}
	}
	return merged, nil
}

// normalizeHeader lowercases a header and collapses separators so that
// "Mailing_Address", "mailing-address" and "Mailing Address" all compare
// equal.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', '/':
			return ' '
		}
		return r
	}, h)
	return strings.Join(strings.Fields(h), " ")
}
