package verification

import (
	"strings"

	"veriface/internal/ephemeral"
)

var (
	dobKeys      = []string{"date_of_birth", "dob", "birth_date", "birthdate"}
	documentKeys = []string{"document_number", "id_number", "passport_number"}
)

// DocumentFields are the labelled values read from an identity document.
// Lookups ignore key case and surrounding whitespace in values.
type DocumentFields map[string]string

// Get returns the first non-blank value stored under any of keys.
func (f DocumentFields) Get(keys ...string) (string, bool) {
	for _, want := range keys {
		for k, v := range f {
			if !strings.EqualFold(strings.TrimSpace(k), want) {
				continue
			}
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// DateOfBirth returns the document's date of birth as printed.
func (f DocumentFields) DateOfBirth() (string, bool) {
	return f.Get(dobKeys...)
}

// canonicalIdentifier picks the value the subject id is derived from: the
// document number when present, else the lower-cased name joined with the
// date of birth.
func (f DocumentFields) canonicalIdentifier() string {
	if n, ok := f.Get(documentKeys...); ok {
		return strings.ToUpper(n)
	}
	name, _ := f.Get("name", "full_name")
	dob, _ := f.DateOfBirth()
	return strings.ToLower(name) + "|" + dob
}

// SubjectID derives the hashed subject identifier for these fields.
func (f DocumentFields) SubjectID(salt, pepper string) string {
	return ephemeral.HashIdentifier(f.canonicalIdentifier(), salt, pepper)
}

func copyFields(in map[string]string) DocumentFields {
	out := make(DocumentFields, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
