package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"navigatum_sync/internal/app"
	"navigatum_sync/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var allKeys = []domain.RecordKey{"garching", "mi", "mw123"}

func newSync(src *fakeSource, repo *memRepo, cache *fakeCache, lock *fakeLock, opts app.SyncOptions) *app.SyncService {
	opts.ExtractScalars = true
	if opts.HashLangs == nil {
		opts.HashLangs = []domain.Language{domain.LangDE}
	}
	var c domain.Cache
	if cache != nil {
		c = cache
	}
	var l domain.RunLock
	if lock != nil {
		l = lock
	}
	return app.NewSyncService(src, repo, c, l, opts)
}

func TestRun_BatchWritesBothLanguages(t *testing.T) {
	src := &fakeSource{records: parseFixture(t, fixture)}
	repo := newMemRepo()
	cache := &fakeCache{}
	lock := &fakeLock{}

	res, err := newSync(src, repo, cache, lock, app.SyncOptions{Mode: domain.ModeBatch}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.RecordsFetched)
	assert.Equal(t, 3, res.RecordsProcessed)
	assert.Zero(t, res.RecordsFailed)
	assert.Equal(t, domain.ModeBatch, res.Mode)

	assert.Equal(t, allKeys, repo.keys(domain.LangDE))
	assert.Equal(t, allKeys, repo.keys(domain.LangEN))

	rows := repo.snapshot()
	de, en := rows[domain.LangDE]["mw123"], rows[domain.LangEN]["mw123"]
	assert.Equal(t, "MW 1801, Hörsaal", de.Scalars.Name)
	assert.Equal(t, "MW 1801, Lecture hall", en.Scalars.Name)
	require.NotNil(t, de.Scalars.TumonlineRoomNr)
	assert.Equal(t, 4711, *de.Scalars.TumonlineRoomNr)
	assert.InDelta(t, 48.265, en.Scalars.Lat, 1e-9)

	// hash is tracked on de only
	require.NotNil(t, de.Hash)
	assert.Equal(t, domain.ContentHash(11), *de.Hash)
	assert.Nil(t, en.Hash)

	assert.JSONEq(t,
		`{"id":"mw123","hash":11,"type":"room","type_common_name":"Lecture hall","name":"MW 1801, Lecture hall",
		  "coords":{"lat":48.265,"lon":11.671},"props":{"tumonline_room_nr":4711,"computed":[{"name":"Floor","text":"1"}]}}`,
		string(en.Payload))

	// missing alternatives become empty strings
	assert.Equal(t, "", rows[domain.LangEN]["garching"].Scalars.Name)

	assert.Contains(t, cache.deleted, app.LocationCacheKey("mw123", domain.LangEN))
	assert.Contains(t, cache.deleted, app.CoordsCacheKey("garching"))
	assert.Equal(t, 1, lock.released)

	require.Len(t, repo.runs, 1)
	assert.Equal(t, "ok", repo.runs[0].Outcome)
	assert.Equal(t, 3, repo.runs[0].Processed)
	assert.Nil(t, repo.runs[0].Error)
}

func TestRun_Idempotent(t *testing.T) {
	for _, mode := range []domain.SyncMode{domain.ModeBatch, domain.ModePerRecord} {
		t.Run(string(mode), func(t *testing.T) {
			src := &fakeSource{records: parseFixture(t, fixture)}
			repo := newMemRepo()
			svc := newSync(src, repo, nil, nil, app.SyncOptions{Mode: mode})

			_, err := svc.Run(context.Background())
			require.NoError(t, err)
			first := repo.snapshot()

			_, err = svc.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, first, repo.snapshot())
		})
	}
}

func TestRun_BatchFailFast(t *testing.T) {
	src := &fakeSource{records: parseFixture(t, fixture)}
	repo := newMemRepo()
	svc := newSync(src, repo, nil, nil, app.SyncOptions{Mode: domain.ModeBatch})

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	before := repo.snapshot()

	// a changed snapshot whose second record cannot be stored
	src.records = parseFixture(t, `[
	  {"id":"mw123","hash":12,"name":"renamed","coords":{"lat":1,"lon":2}},
	  {"id":"mi","hash":23,"name":"Informatik","coords":{"lat":1,"lon":2}},
	  {"id":"new","hash":44,"name":"new","coords":{"lat":1,"lon":2}}
	]`)
	boom := errors.New("disk full")
	repo.fail("mi", domain.LangEN, boom)

	res, err := svc.Run(context.Background())
	require.Error(t, err)

	var se *domain.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.RecordKey("mi"), se.Key)
	assert.Equal(t, domain.LangEN, se.Lang)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, "storage", domain.ErrorKind(err))

	assert.Zero(t, res.RecordsProcessed)
	assert.Equal(t, before, repo.snapshot())

	require.Len(t, repo.failures, 1)
	assert.Equal(t, domain.SyncFailure{Key: "mi", Lang: domain.LangEN, Kind: "storage", Reason: err.Error()}, repo.failures[0])
	assert.Equal(t, "failed", repo.runs[len(repo.runs)-1].Outcome)
}

func TestRun_PerRecordFailPartial(t *testing.T) {
	src := &fakeSource{records: parseFixture(t, fixture)}
	repo := newMemRepo()
	cache := &fakeCache{}
	repo.fail("mi", domain.LangDE, errors.New("deadlock"))

	res, err := newSync(src, repo, cache, nil, app.SyncOptions{Mode: domain.ModePerRecord}).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, res.RecordsProcessed)
	assert.Equal(t, 1, res.RecordsFailed)

	// records before the failure are committed, later ones are absent
	assert.Equal(t, []domain.RecordKey{"mw123"}, repo.keys(domain.LangDE))
	// the sibling language of the failing record is not rolled back
	assert.Equal(t, []domain.RecordKey{"mi", "mw123"}, repo.keys(domain.LangEN))

	assert.Contains(t, cache.deleted, app.LocationCacheKey("mi", domain.LangDE))
	assert.NotContains(t, cache.deleted, app.CoordsCacheKey("garching"))
	assert.Equal(t, "partial", repo.runs[0].Outcome)
}

func TestRun_PerRecordContinueOnError(t *testing.T) {
	src := &fakeSource{records: parseFixture(t, fixture)}
	repo := newMemRepo()
	repo.fail("mi", domain.LangDE, errors.New("deadlock"))
	repo.fail("mi", domain.LangEN, errors.New("deadlock"))

	res, err := newSync(src, repo, nil, nil, app.SyncOptions{
		Mode:            domain.ModePerRecord,
		ContinueOnError: true,
	}).Run(context.Background())
	require.Error(t, err)

	var se *domain.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.RecordKey("mi"), se.Key)

	assert.Equal(t, 2, res.RecordsProcessed)
	assert.Equal(t, 1, res.RecordsFailed)
	assert.Equal(t, []domain.RecordKey{"garching", "mw123"}, repo.keys(domain.LangDE))
	assert.Equal(t, []domain.RecordKey{"garching", "mw123"}, repo.keys(domain.LangEN))
	assert.Len(t, repo.failures, 2)
}

func TestRun_ScalarShapeMismatchNamesKey(t *testing.T) {
	src := &fakeSource{records: parseFixture(t, `[
	  {"id":"ok","hash":1,"name":"fine","coords":{"lat":1,"lon":2}},
	  {"id":"bad","hash":2,"name":{"de":"x","en":"y"},"coords":{"lat":"north","lon":2}}
	]`)}
	repo := newMemRepo()

	_, err := newSync(src, repo, nil, nil, app.SyncOptions{Mode: domain.ModeBatch}).Run(context.Background())

	var se *domain.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.RecordKey("bad"), se.Key)
	assert.Contains(t, err.Error(), "coords.lat")
	assert.Empty(t, repo.keys(domain.LangDE))
}

func TestRun_FetchErrorsAbortBeforeWrites(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"network", &domain.NetworkError{URL: "http://cdn/api_data", Status: 503, Err: errors.New("unavailable")}, "network"},
		{"decode", &domain.DecodeError{Key: "#3", Field: "id", Err: errors.New("missing")}, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			lock := &fakeLock{}
			res, err := newSync(&fakeSource{err: tt.err}, repo, nil, lock, app.SyncOptions{}).Run(context.Background())

			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.ErrorKind(err))
			assert.Zero(t, res.RecordsFetched)
			assert.Empty(t, repo.keys(domain.LangDE))
			assert.Equal(t, 1, lock.released)
			require.Len(t, repo.runs, 1)
			assert.Equal(t, "failed", repo.runs[0].Outcome)
		})
	}
}

func TestRun_LockHeld(t *testing.T) {
	src := &fakeSource{records: parseFixture(t, fixture)}
	repo := newMemRepo()
	lock := &fakeLock{held: true}

	_, err := newSync(src, repo, nil, lock, app.SyncOptions{}).Run(context.Background())
	assert.True(t, errors.Is(err, domain.ErrRunInProgress))
	assert.Zero(t, src.calls)
	assert.Empty(t, repo.runs)
}

func TestRun_CanceledBatchRollsBack(t *testing.T) {
	src := &fakeSource{records: parseFixture(t, fixture)}
	repo := newMemRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSync(src, repo, nil, nil, app.SyncOptions{Mode: domain.ModeBatch}).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, "canceled", domain.ErrorKind(err))
	assert.Empty(t, repo.keys(domain.LangDE))
	assert.Empty(t, repo.failures)
}

func TestRun_InterruptedWriteIsNotAFailure(t *testing.T) {
	for _, mode := range []domain.SyncMode{domain.ModeBatch, domain.ModePerRecord} {
		t.Run(string(mode), func(t *testing.T) {
			src := &fakeSource{records: parseFixture(t, fixture)}
			repo := newMemRepo()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			repo.onUpsert = func(p domain.StoredProjection) {
				if p.Key == "mi" && p.Lang == domain.LangDE {
					cancel()
				}
			}

			_, err := newSync(src, repo, nil, nil, app.SyncOptions{Mode: mode}).Run(ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, context.Canceled))
			assert.Equal(t, "canceled", domain.ErrorKind(err))
			assert.Empty(t, repo.failures)
			require.Len(t, repo.runs, 1)
			assert.NotEqual(t, "ok", repo.runs[0].Outcome)
		})
	}
}
