// Package locale splits bilingual snapshot records into single-language
// projections.
package locale

import "navigatum_sync/internal/domain"

// Decompose reduces v to the target language. Every LocaleObject collapses to
// its value for lang, or to "" when upstream did not provide that language.
// Shapes of the two alternatives are not compared.
func Decompose(v domain.Value, lang domain.Language) domain.Value {
	switch t := v.(type) {
	case domain.Sequence:
		out := make(domain.Sequence, len(t))
		for i, item := range t {
			out[i] = Decompose(item, lang)
		}
		return out
	case domain.LocaleObject:
		alt := t.Lang(lang)
		if alt == nil {
			return domain.String("")
		}
		return Decompose(alt, lang)
	case domain.Mapping:
		return decomposeFields(t, lang)
	case domain.Scalar:
		return t
	}
	// nil never appears in a parsed tree; treat it like JSON null
	return domain.Null()
}

func decomposeFields(m domain.Mapping, lang domain.Language) domain.Mapping {
	out := make(domain.Mapping, 0, len(m))
	for _, f := range m {
		if isLangKey(f.Key) {
			continue
		}
		out = append(out, domain.Field{Key: f.Key, Value: Decompose(f.Value, lang)})
	}
	return out
}

// Project returns the projection of rec for lang. Top-level fields are
// decomposed one by one, so the record itself never collapses.
func Project(rec domain.RawRecord, lang domain.Language) domain.Mapping {
	out := make(domain.Mapping, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		out = append(out, domain.Field{Key: f.Key, Value: Decompose(f.Value, lang)})
	}
	return out
}

// Split returns one projection per language in domain.Languages.
func Split(rec domain.RawRecord) map[domain.Language]domain.Mapping {
	out := make(map[domain.Language]domain.Mapping, len(domain.Languages))
	for _, lang := range domain.Languages {
		out[lang] = Project(rec, lang)
	}
	return out
}

func isLangKey(k string) bool {
	return k == string(domain.LangDE) || k == string(domain.LangEN)
}
