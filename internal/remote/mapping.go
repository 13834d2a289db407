package remote

import (
	"regexp"
	"strings"
)

// labelSynonyms maps canonical field names to lowercase substrings observed
// in the remote service's freeform labels. Matching is best-effort: an
// unexpected phrasing leaves that field unenriched, which is acceptable for
// an escalation path.
var labelSynonyms = map[string][]string{
	"patient_name":       {"patient name", "full name", "name of patient", "name and surname"},
	"sa_id_number":       {"id number", "identity number", "id no", "identity no"},
	"date_of_birth":      {"date of birth", "birth date", "dob"},
	"phone_number":       {"phone", "cell", "mobile", "contact number", "tel no"},
	"email":              {"email", "e mail"},
	"medical_aid_name":   {"medical aid name", "scheme name", "medical scheme"},
	"medical_aid_number": {"member number", "membership number", "medical aid no", "member no"},
	"address":            {"address", "residential", "street"},
	"emergency_contact":  {"emergency", "next of kin"},
}

var reLabelJunk = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeLabel lowercases a label and squeezes punctuation to single
// spaces so substring checks see "ID Number:" as "id number".
func normalizeLabel(label string) string {
	return strings.TrimSpace(reLabelJunk.ReplaceAllString(strings.ToLower(label), " "))
}

// canonicalField resolves a remote label to one of the template's field
// names, preferring the synonym table and falling back to the field name
// itself spelled as words. Template declaration order breaks ties.
func canonicalField(label string, fieldNames []string) (string, bool) {
	norm := normalizeLabel(label)
	if norm == "" {
		return "", false
	}
	for _, name := range fieldNames {
		for _, syn := range labelSynonyms[name] {
			if strings.Contains(norm, syn) {
				return name, true
			}
		}
	}
	for _, name := range fieldNames {
		if strings.Contains(norm, strings.ReplaceAll(name, "_", " ")) {
			return name, true
		}
	}
	return "", false
}
