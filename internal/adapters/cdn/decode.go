package cdn

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"navigatum_sync/internal/domain"
)

var (
	errInvalidJSON = errors.New("payload is not valid JSON")
	errMissing     = errors.New("required field is missing")
	errDuplicateID = errors.New("id appears more than once in the snapshot")
)

// row is one record-shaped object before id/hash validation.
type row struct {
	frag   string // best identifier before the id is known
	fields domain.Mapping
}

// ParseSnapshot decodes a full snapshot. Accepted top-level shapes:
//
//	{"<id>": {...}, ...}          keyed by record id
//	[{...}, {...}]                list of records
//	{"<column>": [...], ...}      columnar table, all columns of equal length
//
// Field names and record order are kept as published.
func ParseSnapshot(body []byte, requireHash bool) ([]domain.RawRecord, error) {
	rows, err := parseRows(body)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RawRecord, 0, len(rows))
	seen := make(map[domain.RecordKey]struct{}, len(rows))
	for _, r := range rows {
		rec, err := buildRecord(r, requireHash)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[rec.Key]; dup {
			return nil, &domain.DecodeError{Key: string(rec.Key), Field: "id", Err: errDuplicateID}
		}
		seen[rec.Key] = struct{}{}
		out = append(out, rec)
	}
	return out, nil
}

// ParseStatus decodes the lightweight (id, hash) snapshot. Both fields are
// required on every row.
func ParseStatus(body []byte) ([]domain.StatusEntry, error) {
	rows, err := parseRows(body)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StatusEntry, 0, len(rows))
	for _, r := range rows {
		rec, err := buildRecord(r, true)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.StatusEntry{Key: rec.Key, Hash: *rec.Hash})
	}
	return out, nil
}

// ParseValue decodes a single JSON document into a Value tree.
func ParseValue(body []byte) (domain.Value, error) {
	if !gjson.ValidBytes(body) {
		return nil, &domain.DecodeError{Err: errInvalidJSON}
	}
	return parseValue(gjson.ParseBytes(body))
}

func parseRows(body []byte) ([]row, error) {
	if !gjson.ValidBytes(body) {
		return nil, &domain.DecodeError{Err: errInvalidJSON}
	}
	doc := gjson.ParseBytes(body)
	switch {
	case doc.IsArray():
		var (
			rows []row
			err  error
			i    int
		)
		doc.ForEach(func(_, v gjson.Result) bool {
			frag := "#" + strconv.Itoa(i)
			i++
			var fields domain.Mapping
			if fields, err = parseRecordObject(v, frag); err != nil {
				return false
			}
			rows = append(rows, row{frag: frag, fields: fields})
			return true
		})
		return rows, err
	case doc.IsObject():
		if isColumnar(doc) {
			return parseColumnar(doc)
		}
		var (
			rows []row
			err  error
		)
		doc.ForEach(func(k, v gjson.Result) bool {
			var fields domain.Mapping
			if fields, err = parseRecordObject(v, k.Str); err != nil {
				return false
			}
			rows = append(rows, row{frag: k.Str, fields: fields})
			return true
		})
		return rows, err
	}
	return nil, &domain.DecodeError{Err: fmt.Errorf("unexpected top-level %s", doc.Type)}
}

// isColumnar reports whether every member of a non-empty object is an array.
func isColumnar(doc gjson.Result) bool {
	n, arrays := 0, 0
	doc.ForEach(func(_, v gjson.Result) bool {
		n++
		if v.IsArray() {
			arrays++
		}
		return true
	})
	return n > 0 && n == arrays
}

func parseColumnar(doc gjson.Result) ([]row, error) {
	type column struct {
		name  string
		cells []gjson.Result
	}
	var cols []column
	doc.ForEach(func(k, v gjson.Result) bool {
		cols = append(cols, column{name: k.Str, cells: v.Array()})
		return true
	})
	n := len(cols[0].cells)
	for _, c := range cols[1:] {
		if len(c.cells) != n {
			return nil, &domain.DecodeError{
				Field: c.name,
				Err:   fmt.Errorf("column has %d rows, expected %d", len(c.cells), n),
			}
		}
	}
	rows := make([]row, 0, n)
	for i := 0; i < n; i++ {
		frag := "#" + strconv.Itoa(i)
		fields := make(domain.Mapping, 0, len(cols))
		for _, c := range cols {
			v, err := parseValue(c.cells[i])
			if err != nil {
				return nil, withFragment(err, frag)
			}
			fields = append(fields, domain.Field{Key: c.name, Value: v})
		}
		rows = append(rows, row{frag: frag, fields: fields})
	}
	return rows, nil
}

// parseRecordObject parses the top level of a record. Unlike nested objects a
// record is never treated as a LocaleObject.
func parseRecordObject(r gjson.Result, frag string) (domain.Mapping, error) {
	if !r.IsObject() {
		return nil, &domain.DecodeError{Key: frag, Err: fmt.Errorf("record is %s, not an object", r.Type)}
	}
	fields := domain.Mapping{}
	var err error
	r.ForEach(func(k, v gjson.Result) bool {
		var val domain.Value
		if val, err = parseValue(v); err != nil {
			err = withFragment(err, frag)
			return false
		}
		fields = append(fields, domain.Field{Key: k.Str, Value: val})
		return true
	})
	return fields, err
}

func parseValue(r gjson.Result) (domain.Value, error) {
	switch r.Type {
	case gjson.Null:
		return domain.Null(), nil
	case gjson.False:
		return domain.Bool(false), nil
	case gjson.True:
		return domain.Bool(true), nil
	case gjson.Number:
		return domain.Number(r.Raw), nil
	case gjson.String:
		return domain.String(r.Str), nil
	}
	switch {
	case r.IsArray():
		seq := domain.Sequence{}
		var err error
		r.ForEach(func(_, v gjson.Result) bool {
			var val domain.Value
			if val, err = parseValue(v); err != nil {
				return false
			}
			seq = append(seq, val)
			return true
		})
		return seq, err
	case r.IsObject():
		return parseObject(r)
	}
	return nil, &domain.DecodeError{Err: fmt.Errorf("unsupported JSON value %q", r.Raw)}
}

// parseObject decides once whether an object is a LocaleObject: any "de" or
// "en" member makes it one and the remaining members are dropped.
func parseObject(r gjson.Result) (domain.Value, error) {
	var (
		fields   = domain.Mapping{}
		lo       domain.LocaleObject
		isLocale bool
		err      error
	)
	r.ForEach(func(k, v gjson.Result) bool {
		var val domain.Value
		if val, err = parseValue(v); err != nil {
			return false
		}
		switch domain.Language(k.Str) {
		case domain.LangDE:
			lo.De, isLocale = val, true
		case domain.LangEN:
			lo.En, isLocale = val, true
		default:
			fields = append(fields, domain.Field{Key: k.Str, Value: val})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if isLocale {
		return lo, nil
	}
	return fields, nil
}

func buildRecord(r row, requireHash bool) (domain.RawRecord, error) {
	idv, ok := r.fields.Get("id")
	if !ok {
		return domain.RawRecord{}, &domain.DecodeError{Key: r.frag, Field: "id", Err: errMissing}
	}
	id, ok := scalarString(idv)
	if !ok || id == "" {
		return domain.RawRecord{}, &domain.DecodeError{Key: r.frag, Field: "id", Err: errors.New("id must be a non-empty string")}
	}
	rec := domain.RawRecord{Key: domain.RecordKey(id), Fields: r.fields}

	hv, ok := r.fields.Get("hash")
	if !ok || isNull(hv) {
		if requireHash {
			return domain.RawRecord{}, &domain.DecodeError{Key: id, Field: "hash", Err: errMissing}
		}
		return rec, nil
	}
	s, _ := hv.(domain.Scalar)
	n, ok := s.Int64()
	if !ok {
		return domain.RawRecord{}, &domain.DecodeError{Key: id, Field: "hash", Err: errors.New("hash must be a 64-bit integer")}
	}
	h := domain.ContentHash(n)
	rec.Hash = &h
	return rec, nil
}

func scalarString(v domain.Value) (string, bool) {
	s, ok := v.(domain.Scalar)
	if !ok {
		return "", false
	}
	return s.Str()
}

func isNull(v domain.Value) bool {
	s, ok := v.(domain.Scalar)
	return ok && s.IsNull()
}

func withFragment(err error, frag string) error {
	var de *domain.DecodeError
	if errors.As(err, &de) && de.Key == "" {
		de.Key = frag
	}
	return err
}
