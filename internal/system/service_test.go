package system

import (
	"net"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/config"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/state"
)

func testLogger() *applog.Logger {
	return applog.New(applog.Config{Level: "error", Format: "text", Component: "system-test"})
}

// portOf extracts the numeric port an httptest.Server is bound to, so tests
// can point Service.services/loggingHealthPort at it instead of the real
// fixed loopback ports.
func portOf(t *testing.T, rawURL string) int {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestNew_DefaultsToFixedPortsAndStartingStatus(t *testing.T) {
	cfg := config.New()
	svc := New(cfg, state.New(), nil, testLogger())

	assert.Equal(t, httphealth.StatusStarting, svc.Reporter().Snapshot().Status)
	require.Len(t, svc.services, 4)
	assert.Equal(t, "logging", svc.services[3].Name)
	assert.False(t, svc.services[3].Critical)
	assert.Equal(t, 8085, svc.loggingHealthPort)
}
