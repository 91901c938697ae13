package audit

import "strings"

// RedactionMarker replaces values held under sensitive keys.
const RedactionMarker = "[REDACTED]"

// defaultSensitiveKeys covers credential material that must never reach the
// audit trail. Matching is case-insensitive; suffix rules catch derived
// names like refresh_token or webhook_secret.
var defaultSensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"apikey",
	"authorization",
	"cookie",
	"private_key",
}

var sensitiveSuffixes = []string{"_token", "_secret"}

// Redactor scrubs nested detail payloads with a configurable key set.
// Details are open-ended JSON-ish values (maps, slices, scalars), so the
// walk is a visitor over that shape rather than per-field branches.
type Redactor struct {
	keys     map[string]struct{}
	suffixes []string
}

// NewRedactor builds a redactor over the default sensitive-key set plus any
// extras the operator configures.
func NewRedactor(extraKeys ...string) *Redactor {
	r := &Redactor{
		keys:     make(map[string]struct{}, len(defaultSensitiveKeys)+len(extraKeys)),
		suffixes: sensitiveSuffixes,
	}
	for _, k := range defaultSensitiveKeys {
		r.keys[k] = struct{}{}
	}
	for _, k := range extraKeys {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	return r
}

// Redact returns a deep copy of details with every sensitive value replaced
// by the redaction marker. Sibling keys and nested structure are preserved
// unchanged; the input map is never mutated.
func (r *Redactor) Redact(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for key, value := range details {
		if r.sensitive(key) {
			out[key] = RedactionMarker
			continue
		}
		out[key] = r.redactValue(value)
	}
	return out
}

func (r *Redactor) redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return r.Redact(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = r.redactValue(elem)
		}
		return out
	default:
		return v
	}
}

func (r *Redactor) sensitive(key string) bool {
	k := strings.ToLower(key)
	if _, ok := r.keys[k]; ok {
		return true
	}
	for _, suffix := range r.suffixes {
		if strings.HasSuffix(k, suffix) {
			return true
		}
	}
	return false
}
