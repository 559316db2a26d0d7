package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/cloud"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/state"
)

func testLogger() *applog.Logger {
	return applog.New(applog.Config{Level: "error", Format: "text", Component: "config-test"})
}

func TestServiceStart_PublishesInitialConfigAndReportsHealthy(t *testing.T) {
	cfg := New()
	cfg.SiteID = "site1"
	st := state.New()

	svc := NewService(cfg, nil, st, nil, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.Start(ctx))

	var published SiteConfig
	require.NoError(t, st.ReadFresh(context.Background(), state.KeyConfig, &published))
	assert.Equal(t, "site1", published.SiteID)
	assert.Equal(t, httphealth.StatusStopped, svc.Reporter().Snapshot().Status)
}

func TestTick_AppliesNewerCloudConfigAndRepublishes(t *testing.T) {
	newUpdatedAt := time.Now().UTC()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, _ := json.Marshal(map[string]any{"site_id": "site1", "operation_mode": "peak_shaving"})
		rows := []map[string]any{{
			"site_id":    "site1",
			"updated_at": newUpdatedAt.Format(time.RFC3339Nano),
			"document":   json.RawMessage(doc),
		}}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer server.Close()

	cloudClient, err := cloud.New(cloud.Config{ProjectURL: server.URL, ServiceRoleKey: "key"})
	require.NoError(t, err)

	cfg := New()
	cfg.SiteID = "site1"
	st := state.New()
	svc := NewService(cfg, nil, st, cloudClient, testLogger())

	require.NoError(t, svc.tick(context.Background()))

	var published SiteConfig
	require.NoError(t, st.ReadFresh(context.Background(), state.KeyConfig, &published))
	assert.Equal(t, "peak_shaving", published.OperationMode)

	var status configStatusDoc
	require.NoError(t, st.ReadFresh(context.Background(), state.KeyConfigStatus, &status))
	assert.True(t, status.Applied)
}

func TestTick_NilCloudClientIsNoop(t *testing.T) {
	cfg := New()
	cfg.SiteID = "site1"
	st := state.New()
	svc := NewService(cfg, nil, st, nil, testLogger())

	require.NoError(t, svc.tick(context.Background()))

	var status configStatusDoc
	require.NoError(t, st.ReadFresh(context.Background(), state.KeyConfigStatus, &status))
	assert.False(t, status.Applied)
}

func TestStart_StartupWarningsForceSafeModeTrigger(t *testing.T) {
	cfg := New()
	cfg.SiteID = "site1"
	st := state.New()
	svc := NewService(cfg, []string{"mode_settings missing, using dg_reserve_kw=0 default"}, st, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.Start(ctx))

	var trigger struct {
		Service string `json:"service"`
	}
	require.NoError(t, st.ReadFresh(context.Background(), state.KeySafeModeTrigger, &trigger))
	assert.Equal(t, "config", trigger.Service)
}

func TestReconcileSafeModeTrigger_ClearsOnlyItsOwnTrigger(t *testing.T) {
	cfg := New()
	st := state.New()
	svc := NewService(cfg, nil, st, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, st.Write(ctx, state.KeySafeModeTrigger, map[string]string{"service": "device"}))
	svc.reconcileSafeModeTrigger(ctx, nil)

	var trigger struct {
		Service string `json:"service"`
	}
	require.NoError(t, st.ReadFresh(ctx, state.KeySafeModeTrigger, &trigger))
	assert.Equal(t, "device", trigger.Service, "must not clear a trigger raised by another service")
}
