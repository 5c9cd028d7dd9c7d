package app

import (
	"errors"
	"fmt"
	"math"

	"navigatum_sync/internal/domain"
)

/********** alias registry (single source of truth) **********/

var scalarAliases = map[string][]string{
	"name":              {"name"},
	"tumonline_room_nr": {"tumonline_room_nr", "props.tumonline_room_nr"},
	"type":              {"type"},
	"type_common_name":  {"type_common_name"},
	"lat":               {"coords.lat", "lat"},
	"lon":               {"coords.lon", "lon"},
}

var errMissing = errors.New("missing")

/********** tiny helpers **********/

// firstPresent returns the first non-null value found under the aliases of
// field, with the path it was found at.
func firstPresent(m domain.Mapping, field string) (domain.Value, string, bool) {
	for _, p := range scalarAliases[field] {
		v, ok := domain.Lookup(m, p)
		if !ok {
			continue
		}
		if s, isScalar := v.(domain.Scalar); isScalar && s.IsNull() {
			continue
		}
		return v, p, true
	}
	return nil, "", false
}

func requiredString(m domain.Mapping, field string) (string, error) {
	v, path, ok := firstPresent(m, field)
	if !ok {
		return "", fmt.Errorf("field %q: %w", field, errMissing)
	}
	s, isScalar := v.(domain.Scalar)
	if !isScalar {
		return "", fmt.Errorf("field %q: expected string", path)
	}
	str, ok := s.Str()
	if !ok {
		return "", fmt.Errorf("field %q: expected string", path)
	}
	return str, nil
}

func optionalString(m domain.Mapping, field string) (*string, error) {
	if _, _, ok := firstPresent(m, field); !ok {
		return nil, nil
	}
	s, err := requiredString(m, field)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func requiredFloat(m domain.Mapping, field string) (float64, error) {
	v, path, ok := firstPresent(m, field)
	if !ok {
		return 0, fmt.Errorf("field %q: %w", field, errMissing)
	}
	s, isScalar := v.(domain.Scalar)
	if !isScalar {
		return 0, fmt.Errorf("field %q: expected number", path)
	}
	f, ok := s.Float64()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("field %q: expected number", path)
	}
	return f, nil
}

func optionalInt(m domain.Mapping, field string) (*int, error) {
	v, path, ok := firstPresent(m, field)
	if !ok {
		return nil, nil
	}
	s, isScalar := v.(domain.Scalar)
	if !isScalar {
		return nil, fmt.Errorf("field %q: expected integer", path)
	}
	n, ok := s.Int64()
	if !ok || n > math.MaxInt32 || n < math.MinInt32 {
		return nil, fmt.Errorf("field %q: expected integer", path)
	}
	x := int(n)
	return &x, nil
}

/********** scalar mapper **********/

// extractScalars pulls the queryable columns out of one projection. Any shape
// mismatch is reported as a StorageError for key/lang.
func extractScalars(key domain.RecordKey, lang domain.Language, p domain.Mapping) (*domain.RoomScalars, error) {
	var (
		out  domain.RoomScalars
		errs []error
		err  error
	)
	if out.Name, err = requiredString(p, "name"); err != nil {
		errs = append(errs, err)
	}
	if out.TumonlineRoomNr, err = optionalInt(p, "tumonline_room_nr"); err != nil {
		errs = append(errs, err)
	}
	if out.Type, err = optionalString(p, "type"); err != nil {
		errs = append(errs, err)
	}
	if out.TypeCommonName, err = optionalString(p, "type_common_name"); err != nil {
		errs = append(errs, err)
	}
	if out.Lat, err = requiredFloat(p, "lat"); err != nil {
		errs = append(errs, err)
	}
	if out.Lon, err = requiredFloat(p, "lon"); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, &domain.StorageError{Key: key, Lang: lang, Err: errors.Join(errs...)}
	}
	return &out, nil
}
