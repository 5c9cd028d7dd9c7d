package cdn_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navigatum_sync/internal/adapters/cdn"
	"navigatum_sync/internal/domain"
)

func serve(t *testing.T, path, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newClient(t *testing.T, base string, retries int) *cdn.Client {
	t.Helper()
	cl, err := cdn.New(base, cdn.Options{RPS: 100, Retries: retries, RequireHash: true}) // high RPS for tests
	require.NoError(t, err)
	return cl
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_FetchSnapshot_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"keyed", `{"mw123":{"id":"mw123","hash":7,"name":"A"},"mi001":{"id":"mi001","hash":-3,"name":"B"}}`},
		{"list", `[{"id":"mw123","hash":7,"name":"A"},{"id":"mi001","hash":-3,"name":"B"}]`},
		{"columnar", `{"id":["mw123","mi001"],"hash":[7,-3],"name":["A","B"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := serve(t, "/api_data", tt.body)
			recs, err := newClient(t, ts.URL, 0).FetchSnapshot(ctxT(t))
			require.NoError(t, err)
			require.Len(t, recs, 2)

			assert.Equal(t, domain.RecordKey("mw123"), recs[0].Key)
			assert.Equal(t, domain.ContentHash(7), *recs[0].Hash)
			assert.Equal(t, domain.RecordKey("mi001"), recs[1].Key)
			assert.Equal(t, domain.ContentHash(-3), *recs[1].Hash)

			// field names and order are kept verbatim
			keys := make([]string, 0, len(recs[0].Fields))
			for _, f := range recs[0].Fields {
				keys = append(keys, f.Key)
			}
			assert.Equal(t, []string{"id", "hash", "name"}, keys)
		})
	}
}

func TestClient_FetchSnapshot_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantKey string
		field   string
	}{
		{"missing id", `[{"hash":1,"name":"x"}]`, "#0", "id"},
		{"empty id", `[{"id":"","hash":1}]`, "#0", "id"},
		{"numeric id", `{"k":{"id":5,"hash":1}}`, "k", "id"},
		{"missing hash", `[{"id":"a","hash":1},{"id":"b"}]`, "b", "hash"},
		{"fractional hash", `[{"id":"a","hash":1.5}]`, "a", "hash"},
		{"duplicate id", `[{"id":"a","hash":1},{"id":"a","hash":2}]`, "a", "id"},
		{"record not an object", `[{"id":"a","hash":1},"oops"]`, "#1", ""},
		{"ragged columns", `{"id":["a","b"],"hash":[1]}`, "", "hash"},
		{"invalid json", `{"id":`, "", ""},
		{"top-level scalar", `42`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := serve(t, "/api_data", tt.body)
			_, err := newClient(t, ts.URL, 0).FetchSnapshot(ctxT(t))
			require.Error(t, err)

			var de *domain.DecodeError
			require.True(t, errors.As(err, &de), "want DecodeError, got %T: %v", err, err)
			assert.Equal(t, tt.wantKey, de.Key)
			assert.Equal(t, tt.field, de.Field)
			assert.Equal(t, "decode", domain.ErrorKind(err))
		})
	}
}

func TestClient_FetchSnapshot_HashOptional(t *testing.T) {
	ts := serve(t, "/api_data", `[{"id":"a"}]`)
	cl, err := cdn.New(ts.URL, cdn.Options{RPS: 100})
	require.NoError(t, err)

	recs, err := cl.FetchSnapshot(ctxT(t))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Hash)
}

func TestClient_FetchStatus(t *testing.T) {
	ts := serve(t, "/status_data", `{"id":["a","b"],"hash":[10,20]}`)
	got, err := newClient(t, ts.URL, 0).FetchStatus(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, []domain.StatusEntry{{Key: "a", Hash: 10}, {Key: "b", Hash: 20}}, got)
}

func TestClient_NonSuccessIsNetworkError(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newClient(t, ts.URL, 0).FetchSnapshot(ctxT(t))
	var ne *domain.NetworkError
	require.True(t, errors.As(err, &ne), "want NetworkError, got %T", err)
	assert.Equal(t, http.StatusServiceUnavailable, ne.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "no retries by default")
}

func TestClient_NotFoundIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := newClient(t, ts.URL, 0).FetchStatus(ctxT(t))
	var ne *domain.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusNotFound, ne.Status)
	assert.Equal(t, "network", domain.ErrorKind(err))
}

func TestClient_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	_, err := newClient(t, base, 0).FetchSnapshot(ctxT(t))
	var ne *domain.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Zero(t, ne.Status)
}

func TestClient_RetriesThenSuccess(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&hits, 1) {
		case 1, 2:
			// two transient failures
			w.WriteHeader(500)
		default:
			_, _ = w.Write([]byte(`[{"id":"a","hash":1}]`))
		}
	}))
	defer ts.Close()

	recs, err := newClient(t, ts.URL, 3).FetchSnapshot(ctxT(t))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(3))
}

func TestNew_RequiresBase(t *testing.T) {
	_, err := cdn.New("", cdn.Options{})
	require.Error(t, err)
}
