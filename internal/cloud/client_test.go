package cloud

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeServer(t *testing.T, register func(r *mux.Router)) (*Client, func()) {
	t.Helper()
	router := mux.NewRouter()
	register(router)
	srv := httptest.NewServer(router)

	client, err := New(Config{ProjectURL: srv.URL, ServiceRoleKey: "test-key"})
	require.NoError(t, err)
	return client, srv.Close
}

func TestQueryBuilder_Execute_DecodesRows(t *testing.T) {
	client, closeFn := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/rest/v1/sites", func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
			assert.Equal(t, "eq.site1", req.URL.Query().Get("site_id"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"site_id":"site1","updated_at":"2026-07-29T00:00:00Z"}]`))
		}).Methods(http.MethodGet)
	})
	defer closeFn()

	var rows []map[string]any
	err := client.From("sites").Select("site_id,updated_at").Eq("site_id", "site1").Limit(1).Execute(context.Background(), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "site1", rows[0]["site_id"])
}

func TestUpsertIgnoreDuplicates_SetsPreferHeaderAndOnConflict(t *testing.T) {
	client, closeFn := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/rest/v1/device_readings", func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "resolution=ignore-duplicates,return=minimal", req.Header.Get("Prefer"))
			assert.Equal(t, "device_id,register_name,timestamp", req.URL.Query().Get("on_conflict"))
			w.WriteHeader(http.StatusCreated)
		}).Methods(http.MethodPost)
	})
	defer closeFn()

	err := client.From("device_readings").OnConflict("device_id,register_name,timestamp").
		UpsertIgnoreDuplicates(context.Background(), []map[string]any{{"id": "r1"}})
	assert.NoError(t, err)
}

func TestUpsertIgnoreDuplicates_409IsConflictNotNil(t *testing.T) {
	client, closeFn := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/rest/v1/device_readings", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key"}`))
		}).Methods(http.MethodPost)
	})
	defer closeFn()

	err := client.From("device_readings").UpsertIgnoreDuplicates(context.Background(), []map[string]any{{"id": "r1"}})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}

func TestUpdate_RequiresAFilter(t *testing.T) {
	client, closeFn := newFakeServer(t, func(r *mux.Router) {})
	defer closeFn()

	err := client.From("alarms").Update(context.Background(), map[string]any{"resolved": true})
	assert.Error(t, err)
}

func TestUpdate_PatchesMatchingRows(t *testing.T) {
	client, closeFn := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/rest/v1/alarms", func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "eq.false", req.URL.Query().Get("resolved"))
			w.WriteHeader(http.StatusNoContent)
		}).Methods(http.MethodPatch)
	})
	defer closeFn()

	err := client.From("alarms").Eq("site_id", "site1").Eq("resolved", false).
		Update(context.Background(), map[string]any{"resolved": true})
	assert.NoError(t, err)
}

func TestNew_RequiresProjectURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
