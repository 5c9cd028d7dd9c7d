package app

import (
	"context"
	"fmt"

	"navigatum_sync/internal/domain"
)

// ProjectionWriter turns one language projection into a stored row.
type ProjectionWriter struct {
	extractScalars bool
	hashLangs      map[domain.Language]bool
}

func NewProjectionWriter(extractScalars bool, hashLangs []domain.Language) *ProjectionWriter {
	set := make(map[domain.Language]bool, len(hashLangs))
	for _, l := range hashLangs {
		set[l] = true
	}
	return &ProjectionWriter{extractScalars: extractScalars, hashLangs: set}
}

// Store serializes p, extracts its scalar columns and upserts the row for
// key/lang through s. The hash is only kept on hash-tracked languages.
// Every failure is a *domain.StorageError.
func (w *ProjectionWriter) Store(ctx context.Context, s domain.ProjectionStore, key domain.RecordKey, lang domain.Language, p domain.Mapping, hash *domain.ContentHash) error {
	payload, err := domain.MarshalJSON(p)
	if err != nil {
		return &domain.StorageError{Key: key, Lang: lang, Err: fmt.Errorf("serialize: %w", err)}
	}
	row := domain.StoredProjection{Key: key, Lang: lang, Payload: payload}
	if w.extractScalars {
		if row.Scalars, err = extractScalars(key, lang, p); err != nil {
			return err
		}
	}
	if w.hashLangs[lang] {
		row.Hash = hash
	}
	if err := s.UpsertProjection(ctx, row); err != nil {
		return &domain.StorageError{Key: key, Lang: lang, Err: err}
	}
	return nil
}
