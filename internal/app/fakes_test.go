package app_test

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"navigatum_sync/internal/adapters/cdn"
	"navigatum_sync/internal/domain"
)

// ---- repository ----

type rows map[domain.Language]map[domain.RecordKey]domain.StoredProjection

func (r rows) clone() rows {
	out := rows{}
	for lang, m := range r {
		out[lang] = maps.Clone(m)
	}
	return out
}

func (r rows) put(p domain.StoredProjection) {
	if r[p.Lang] == nil {
		r[p.Lang] = map[domain.RecordKey]domain.StoredProjection{}
	}
	r[p.Lang][p.Key] = p
}

type memRepo struct {
	mu       sync.Mutex
	data     rows
	failOn   map[string]error // "key/lang"
	failures []domain.SyncFailure
	runs     []domain.RunRecord
	reads    int
	onUpsert func(domain.StoredProjection) // runs before the context check
}

func newMemRepo() *memRepo { return &memRepo{data: rows{}, failOn: map[string]error{}} }

func (m *memRepo) fail(key domain.RecordKey, lang domain.Language, err error) {
	m.failOn[string(key)+"/"+string(lang)] = err
}

func (m *memRepo) before(p domain.StoredProjection) {
	if m.onUpsert != nil {
		m.onUpsert(p)
	}
}

func (m *memRepo) check(p domain.StoredProjection) error {
	return m.failOn[string(p.Key)+"/"+string(p.Lang)]
}

func (m *memRepo) UpsertProjection(ctx context.Context, p domain.StoredProjection) error {
	m.before(p)
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(p); err != nil {
		return err
	}
	m.data.put(p)
	return nil
}

type memTx struct {
	repo   *memRepo
	staged rows
}

func (t *memTx) UpsertProjection(ctx context.Context, p domain.StoredProjection) error {
	t.repo.before(p)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.repo.check(p); err != nil {
		return err
	}
	t.staged.put(p)
	return nil
}

func (m *memRepo) WithinTx(ctx context.Context, fn func(domain.ProjectionStore) error) error {
	m.mu.Lock()
	staged := m.data.clone()
	m.mu.Unlock()

	if err := fn(&memTx{repo: m, staged: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.data = staged
	m.mu.Unlock()
	return nil
}

func (m *memRepo) LogFailure(_ context.Context, f domain.SyncFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	return nil
}

func (m *memRepo) RecordRun(_ context.Context, r domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, r)
	return nil
}

func (m *memRepo) Hashes(ctx context.Context) (map[domain.RecordKey]domain.ContentHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.RecordKey]domain.ContentHash{}
	for _, byKey := range m.data {
		for k, p := range byKey {
			if p.Hash != nil {
				out[k] = *p.Hash
			}
		}
	}
	return out, nil
}

func (m *memRepo) GetLocation(_ context.Context, key domain.RecordKey, lang domain.Language) (domain.LocationView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	p, ok := m.data[lang][key]
	if !ok {
		return domain.LocationView{}, domain.ErrNotFound
	}
	v := domain.LocationView{Key: key, Language: lang, Data: p.Payload, Hash: p.Hash}
	if p.Scalars != nil {
		n := p.Scalars.Name
		v.Name = &n
	}
	return v, nil
}

func (m *memRepo) GetCoords(_ context.Context, key domain.RecordKey) (domain.Coords, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	p, ok := m.data[domain.LangDE][key]
	if !ok || p.Scalars == nil {
		return domain.Coords{}, domain.ErrNotFound
	}
	return domain.Coords{Key: key, Lat: p.Scalars.Lat, Lon: p.Scalars.Lon}, nil
}

func (m *memRepo) LastRun(context.Context) (domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return domain.RunRecord{}, domain.ErrNotFound
	}
	return m.runs[len(m.runs)-1], nil
}

func (m *memRepo) keys(lang domain.Language) []domain.RecordKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.data[lang]))
}

func (m *memRepo) snapshot() rows {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.clone()
}

// ---- snapshot source ----

type fakeSource struct {
	records []domain.RawRecord
	status  []domain.StatusEntry
	err     error
	calls   int
}

func (f *fakeSource) FetchSnapshot(ctx context.Context) ([]domain.RawRecord, error) {
	f.calls++
	return f.records, f.err
}

func (f *fakeSource) FetchStatus(ctx context.Context) ([]domain.StatusEntry, error) {
	return f.status, f.err
}

// ---- cache ----

type fakeCache struct {
	store   map[string][]byte
	deleted []string
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.store, k)
	}
	c.deleted = append(c.deleted, keys...)
	return nil
}

// ---- lock ----

type fakeLock struct {
	held     bool
	released int
}

func (l *fakeLock) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	if l.held {
		return nil, domain.ErrRunInProgress
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, nil
}

// ---- fixtures ----

const fixture = `[
  {"id":"mw123","hash":11,"type":"room","type_common_name":{"de":"Hörsaal","en":"Lecture hall"},
   "name":{"de":"MW 1801, Hörsaal","en":"MW 1801, Lecture hall"},
   "coords":{"lat":48.265,"lon":11.671},
   "props":{"tumonline_room_nr":4711,"computed":[{"name":{"de":"Stockwerk","en":"Floor"},"text":"1"}]}},
  {"id":"mi","hash":22,"type":"building","name":"Informatik","coords":{"lat":48.262,"lon":11.668}},
  {"id":"garching","hash":33,"type":"campus","name":{"de":"Garching Forschungszentrum"},"coords":{"lat":48.265,"lon":11.671}}
]`

func parseFixture(t *testing.T, body string) []domain.RawRecord {
	t.Helper()
	recs, err := cdn.ParseSnapshot([]byte(body), true)
	require.NoError(t, err)
	return recs
}
