package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"navigatum_sync/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
func valHash(p *domain.ContentHash) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) UpsertProjection(ctx context.Context, p domain.StoredProjection) error {
	return upsertProjection(ctx, r.db, p)
}

type txStore struct{ tx *sql.Tx }

func (s txStore) UpsertProjection(ctx context.Context, p domain.StoredProjection) error {
	return upsertProjection(ctx, s.tx, p)
}

func upsertProjection(ctx context.Context, ex execer, p domain.StoredProjection) error {
	q, ok := upsertSQL[p.Lang]
	if !ok {
		return fmt.Errorf("no collection for language %q", p.Lang)
	}
	var (
		name, lat, lon        any
		roomNr, typ, typeName any
	)
	if s := p.Scalars; s != nil {
		name, lat, lon = s.Name, s.Lat, s.Lon
		roomNr, typ, typeName = valInt(s.TumonlineRoomNr), valStr(s.Type), valStr(s.TypeCommonName)
	}
	_, err := ex.ExecContext(ctx, q,
		string(p.Key),
		string(p.Payload),
		name,
		roomNr,
		typ,
		typeName,
		lat,
		lon,
		valHash(p.Hash),
	)
	return err
}

func (r *Repo) WithinTx(ctx context.Context, fn func(domain.ProjectionStore) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(txStore{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repo) LogFailure(ctx context.Context, f domain.SyncFailure) error {
	_, err := r.db.ExecContext(ctx, insertFailureSQL, string(f.Key), string(f.Lang), f.Kind, f.Reason)
	return err
}

func (r *Repo) RecordRun(ctx context.Context, run domain.RunRecord) error {
	_, err := r.db.ExecContext(ctx, insertRunSQL,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		string(run.Mode),
		run.Fetched,
		run.Processed,
		run.Failed,
		run.Outcome,
		valStr(run.Error),
	)
	return err
}

func (r *Repo) Hashes(ctx context.Context) (map[domain.RecordKey]domain.ContentHash, error) {
	rows, err := r.db.QueryContext(ctx, hashesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.RecordKey]domain.ContentHash)
	for rows.Next() {
		var key string
		var hash int64
		if err := rows.Scan(&key, &hash); err != nil {
			return nil, err
		}
		out[domain.RecordKey(key)] = domain.ContentHash(hash)
	}
	return out, rows.Err()
}

// Keys lists the stored keys of one collection in key order.
func (r *Repo) Keys(ctx context.Context, lang domain.Language) ([]domain.RecordKey, error) {
	q, ok := keysSQL[lang]
	if !ok {
		return nil, fmt.Errorf("no collection for language %q", lang)
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecordKey
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, domain.RecordKey(key))
	}
	return out, rows.Err()
}

func (r *Repo) GetLocation(ctx context.Context, key domain.RecordKey, lang domain.Language) (domain.LocationView, error) {
	q, ok := getLocationSQL[lang]
	if !ok {
		return domain.LocationView{}, fmt.Errorf("no collection for language %q", lang)
	}
	var (
		v    domain.LocationView
		k    string
		name sql.NullString
		hash sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, q, string(key)).Scan(&k, &v.Data, &name, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LocationView{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LocationView{}, err
	}
	v.Key = domain.RecordKey(k)
	v.Language = lang
	if name.Valid {
		n := name.String
		v.Name = &n
	}
	if hash.Valid {
		h := domain.ContentHash(hash.Int64)
		v.Hash = &h
	}
	return v, nil
}

func (r *Repo) GetCoords(ctx context.Context, key domain.RecordKey) (domain.Coords, error) {
	var lat, lon sql.NullFloat64
	err := r.db.QueryRowContext(ctx, getCoordsSQL, string(key)).Scan(&lat, &lon)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coords{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Coords{}, err
	}
	// rows written without scalar extraction have no coordinates
	if !lat.Valid || !lon.Valid {
		return domain.Coords{}, domain.ErrNotFound
	}
	return domain.Coords{Key: key, Lat: lat.Float64, Lon: lon.Float64}, nil
}

func (r *Repo) LastRun(ctx context.Context) (domain.RunRecord, error) {
	var (
		run    domain.RunRecord
		mode   string
		errMsg sql.NullString
	)
	err := r.db.QueryRowContext(ctx, lastRunSQL).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&mode,
		&run.Fetched,
		&run.Processed,
		&run.Failed,
		&run.Outcome,
		&errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RunRecord{}, err
	}
	run.Mode = domain.SyncMode(mode)
	if errMsg.Valid {
		e := errMsg.String
		run.Error = &e
	}
	return run, nil
}
