package system

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volteria/controller-core/internal/cloud"
	"github.com/volteria/controller-core/internal/config"
	"github.com/volteria/controller-core/internal/state"
)

func TestOTAMachine_TransitionsAndSnapshot(t *testing.T) {
	m := newOTAMachine()
	assert.Equal(t, otaIdle, m.state)

	m.setState(otaChecking)
	assert.Equal(t, string(otaChecking), m.snapshot().State)

	rel := &firmwareRelease{Version: "2.0.0"}
	m.setRelease(rel)
	m.setState(otaReady)
	snap := m.snapshot()
	assert.Equal(t, string(otaReady), snap.State)
	assert.Equal(t, "2.0.0", snap.Version)

	m.markApplied()
	assert.Equal(t, "2.0.0", m.currentVersion())
}

func TestCopyFile_CopiesContents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, copyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestOTACheckTick_StagesAndVerifiesRelease(t *testing.T) {
	const pkgBytes = "firmware-package-contents-v2"
	sum := sha256.Sum256([]byte(pkgBytes))
	shaHex := hex.EncodeToString(sum[:])

	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/firmware_releases", func(w http.ResponseWriter, r *http.Request) {
		releases := []firmwareRelease{{
			ID:             "rel-1",
			HardwareTypeID: "hw-1",
			Version:        "2.0.0",
			PackageURL:     server.URL + "/pkg",
			SHA256:         shaHex,
		}}
		_ = json.NewEncoder(w).Encode(releases)
	})
	mux.HandleFunc("/pkg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pkgBytes))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	cfg := config.New()
	cfg.HardwareTypeID = "hw-1"
	cfg.StateDir = t.TempDir()
	cloudClient, err := cloud.New(cloud.Config{ProjectURL: server.URL, ServiceRoleKey: "key"})
	require.NoError(t, err)

	svc := New(cfg, state.New(), cloudClient, testLogger())
	require.NoError(t, svc.otaCheckTick(context.Background()))

	snap := svc.ota.snapshot()
	assert.Equal(t, string(otaReady), snap.State)
	assert.Equal(t, "2.0.0", snap.Version)

	staged := svc.ota.stagedPackagePath()
	require.NotEmpty(t, staged)
	got, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, pkgBytes, string(got))
}

func TestOTACheckTick_NoNewerRelease_StaysIdle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/firmware_releases", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]firmwareRelease{})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := config.New()
	cfg.StateDir = t.TempDir()
	cloudClient, err := cloud.New(cloud.Config{ProjectURL: server.URL, ServiceRoleKey: "key"})
	require.NoError(t, err)

	svc := New(cfg, state.New(), cloudClient, testLogger())
	require.NoError(t, svc.otaCheckTick(context.Background()))
	assert.Equal(t, string(otaIdle), svc.ota.snapshot().State)
}

func TestOTACheckTick_ChecksumMismatch_MarksFailed(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/firmware_releases", func(w http.ResponseWriter, r *http.Request) {
		releases := []firmwareRelease{{
			ID:             "rel-1",
			HardwareTypeID: "hw-1",
			Version:        "2.0.0",
			PackageURL:     server.URL + "/pkg",
			SHA256:         "deadbeef",
		}}
		_ = json.NewEncoder(w).Encode(releases)
	})
	mux.HandleFunc("/pkg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("some bytes"))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	cfg := config.New()
	cfg.HardwareTypeID = "hw-1"
	cfg.StateDir = t.TempDir()
	cloudClient, err := cloud.New(cloud.Config{ProjectURL: server.URL, ServiceRoleKey: "key"})
	require.NoError(t, err)

	svc := New(cfg, state.New(), cloudClient, testLogger())
	require.Error(t, svc.otaCheckTick(context.Background()))
	assert.Equal(t, string(otaFailed), svc.ota.snapshot().State)
}

func TestApplyOTA_ErrorsWithoutReadyRelease(t *testing.T) {
	svc := New(config.New(), state.New(), nil, testLogger())
	err := svc.ApplyOTA(context.Background(), func(ctx context.Context, path string) error { return nil })
	assert.Error(t, err)
}
