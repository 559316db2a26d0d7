package system

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volteria/controller-core/internal/cloud"
	"github.com/volteria/controller-core/internal/config"
	"github.com/volteria/controller-core/internal/device"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/state"
)

func TestBuildHeartbeat_PopulatesFromSharedState(t *testing.T) {
	cfg := config.New()
	cfg.ControllerID = "ctrl-1"
	cfg.SiteID = "site1"
	st := state.New()
	svc := New(cfg, st, nil, testLogger())

	ctx := context.Background()
	require.NoError(t, st.Write(ctx, state.KeyReadings, device.ReadingsDocument{
		Aggregate: model.AggregatedReading{TotalLoadKW: 42},
	}))
	require.NoError(t, st.Write(ctx, state.KeyServiceHealth, serviceHealthDoc{
		Statuses: map[string]string{"device": "healthy"},
	}))

	doc := svc.buildHeartbeat(ctx)
	assert.Equal(t, "ctrl-1", doc.ControllerID)
	assert.Equal(t, "site1", doc.SiteID)
	assert.Equal(t, FirmwareVersion, doc.FirmwareVersion)
	assert.Equal(t, 42.0, doc.AggregatedReadings.TotalLoadKW)
	assert.Equal(t, "healthy", doc.ServiceStatuses["device"])
	assert.Equal(t, "healthy", doc.ServiceStatuses["system"])
}

func TestBuildHeartbeat_ReadsActiveAlarmCountFromLoggingHealth(t *testing.T) {
	loggingServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(httphealth.Response{
			Status: httphealth.StatusHealthy,
			Extra:  map[string]any{"active_alarm_count": float64(3)},
		})
	}))
	defer loggingServer.Close()

	st := state.New()
	svc := New(config.New(), st, nil, testLogger())
	svc.loggingHealthPort = portOf(t, loggingServer.URL)

	ctx := context.Background()
	require.NoError(t, st.Write(ctx, state.KeyServiceHealth, serviceHealthDoc{
		Statuses: map[string]string{"logging": "healthy"},
	}))

	doc := svc.buildHeartbeat(ctx)
	assert.Equal(t, 3, doc.ActiveAlarmCount)
}

func TestHeartbeatTick_PostsSuccessfullyAndResetsFailureCount(t *testing.T) {
	var received heartbeatDoc
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	cfg := config.New()
	cfg.ControllerID = "ctrl-1"
	cloudClient, err := cloud.New(cloud.Config{ProjectURL: server.URL, ServiceRoleKey: "key"})
	require.NoError(t, err)

	svc := New(cfg, state.New(), cloudClient, testLogger())
	svc.heartbeatFailures = 2

	require.NoError(t, svc.heartbeatTick(context.Background()))
	assert.Equal(t, "ctrl-1", received.ControllerID)
	assert.Equal(t, 0, svc.heartbeatFailures)
}

func TestHeartbeatTick_FailurePOSTIncrementsFailureCountWithoutKillingService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cloudClient, err := cloud.New(cloud.Config{ProjectURL: server.URL, ServiceRoleKey: "key"})
	require.NoError(t, err)

	svc := New(config.New(), state.New(), cloudClient, testLogger())

	// heartbeatBackoff has 5 entries; exercising the full retry loop here
	// would take 1+2+4+8+16=31s, so shrink it for this test only.
	orig := heartbeatBackoff
	heartbeatBackoff = []time.Duration{time.Millisecond, time.Millisecond}
	defer func() { heartbeatBackoff = orig }()

	require.NoError(t, svc.heartbeatTick(context.Background()))
	assert.Equal(t, 1, svc.heartbeatFailures)
}
