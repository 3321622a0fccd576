package diagnosis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"diagnostic-assistant/internal/platform/apperr"
)

var fencedJSON = regexp.MustCompile("(?is)```\\s*json\\s*\\n?(.*?)```")

// Parse recovers a Record from raw model output. It tries, in order, the whole
// text, a ```json fenced block, and the first balanced {...} span, then
// validates the sections. Missing list fields default to empty; a missing or
// malformed principal_diagnosis, differential_diagnoses, evidence or
// recommendations section is a DiagnosticFormatError.
func Parse(text string) (Record, error) {
	obj, err := extractObject(text)
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(obj)
}

func extractObject(text string) (map[string]json.RawMessage, error) {
	var candidates []string
	candidates = append(candidates, strings.TrimSpace(text))
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if span, ok := firstBraceSpan(text); ok {
		candidates = append(candidates, span)
	}

	var lastErr error
	for _, c := range candidates {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(c), &obj); err != nil {
			lastErr = err
			continue
		}
		if obj != nil {
			return obj, nil
		}
	}
	return nil, apperr.DiagnosticFormat("model output contains no JSON object", lastErr)
}

// firstBraceSpan returns the first top-level {...} span, skipping braces
// inside JSON strings.
func firstBraceSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// fields indexes an object by normalised key so "principal_diagnosis",
// "principalDiagnosis" and "Principal Diagnosis" all resolve alike, and
// "diagnóstico_principal" resolves like "diagnostico_principal".
type fields map[string]json.RawMessage

func newFields(obj map[string]json.RawMessage) fields {
	f := make(fields, len(obj))
	for k, v := range obj {
		f[normalizeKey(k)] = v
	}
	return f
}

func normalizeKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ':
			return -1
		}
		return r
	}, strings.ToLower(foldAccents(k)))
}

// foldAccents strips combining marks after canonical decomposition.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func (f fields) get(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && kindOf(v) != 'n' {
			return v, true
		}
	}
	return nil, false
}

func (f fields) object(section string, keys ...string) (fields, error) {
	raw, ok := f.get(keys...)
	if !ok {
		return nil, apperr.DiagnosticFormat(fmt.Sprintf("missing %s section", section), nil)
	}
	if kindOf(raw) != '{' {
		return nil, apperr.DiagnosticFormat(fmt.Sprintf("%s must be an object", section), nil)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, apperr.DiagnosticFormat(fmt.Sprintf("%s is malformed", section), err)
	}
	return newFields(obj), nil
}

func (f fields) str(keys ...string) string {
	raw, ok := f.get(keys...)
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// list coerces a field into a string list: arrays keep their string and
// number elements, a bare string becomes a one-element list, anything else is
// empty.
func (f fields) list(keys ...string) []string {
	raw, ok := f.get(keys...)
	if !ok {
		return []string{}
	}
	switch kindOf(raw) {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
			return []string{strings.TrimSpace(s)}
		}
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) != nil {
			return []string{}
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			var s string
			var n json.Number
			switch {
			case json.Unmarshal(item, &s) == nil:
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			case json.Unmarshal(item, &n) == nil:
				out = append(out, n.String())
			}
		}
		return out
	}
	return []string{}
}

func kindOf(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func decodeRecord(obj map[string]json.RawMessage) (Record, error) {
	root := newFields(obj)
	var rec Record

	principal, err := root.object("principal_diagnosis", "principaldiagnosis", "diagnosticoprincipal")
	if err != nil {
		return Record{}, err
	}
	rec.PrincipalDiagnosis = Principal{
		Name:        principal.str("name", "nome"),
		Description: principal.str("description", "descricao"),
	}
	if rec.PrincipalDiagnosis.Name == "" {
		return Record{}, apperr.DiagnosticFormat("principal_diagnosis.name is empty", nil)
	}

	rawDiffs, ok := root.get("differentialdiagnoses", "differentials", "diagnosticosdiferenciais")
	if !ok {
		return Record{}, apperr.DiagnosticFormat("missing differential_diagnoses section", nil)
	}
	if kindOf(rawDiffs) != '[' {
		return Record{}, apperr.DiagnosticFormat("differential_diagnoses must be an array", nil)
	}
	rec.DifferentialDiagnoses, err = decodeDifferentials(rawDiffs)
	if err != nil {
		return Record{}, err
	}

	evidence, err := root.object("evidence", "evidence", "evidencias")
	if err != nil {
		return Record{}, err
	}
	rec.Evidence = Evidence{
		Symptoms:                 evidence.list("symptoms", "sintomas"),
		PhysicalExamFindings:     evidence.list("physicalexamfindings", "physicalexam", "examefisico"),
		ComplementaryExamResults: evidence.list("complementaryexamresults", "complementaryexams", "examescomplementares"),
	}

	recs, err := root.object("recommendations", "recommendations", "recomendacoes")
	if err != nil {
		return Record{}, err
	}
	rec.Recommendations = Recommendations{
		Pharmacological:    recs.list("pharmacological", "tratamentofarmacologico"),
		NonPharmacological: recs.list("nonpharmacological", "tratamentonaofarmacologico"),
		FollowUp:           recs.list("followup", "acompanhamento"),
	}

	rec.AdditionalExams = root.list("additionalexams", "examesadicionais")
	rec.Normalize()
	return rec, nil
}

func decodeDifferentials(raw json.RawMessage) ([]Differential, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, apperr.DiagnosticFormat("differential_diagnoses is malformed", err)
	}
	out := make([]Differential, 0, len(items))
	for _, item := range items {
		if kindOf(item) != '{' {
			continue
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(item, &obj) != nil {
			continue
		}
		f := newFields(obj)
		name := f.str("name", "nome")
		if name == "" {
			continue
		}
		out = append(out, Differential{
			Name:        name,
			Probability: f.probability("probability", "probabilidade"),
			Description: f.str("description", "descricao"),
		})
	}
	return out, nil
}

// probability accepts a JSON number or a numeric string such as "70" or
// "70%". The value is not clamped; unparseable and non-finite values
// ("NaN", "Inf") read as 0.
func (f fields) probability(keys ...string) float64 {
	raw, ok := f.get(keys...)
	if !ok {
		return 0
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	}
	return 0
}
