package system

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/volteria/controller-core/internal/state"
)

// otaState is one member of the OTA state machine.
type otaState string

const (
	otaIdle        otaState = "idle"
	otaChecking    otaState = "checking"
	otaAvailable   otaState = "available"
	otaDownloading otaState = "downloading"
	otaReady       otaState = "ready"
	otaApplying    otaState = "applying"
	otaSuccess     otaState = "success"
	otaFailed      otaState = "failed"
	otaRolledBack  otaState = "rolled_back"
)

// firmwareRelease mirrors one row of the cloud firmware_releases table
type firmwareRelease struct {
	ID             string `json:"id"`
	HardwareTypeID string `json:"hardware_type_id"`
	Version        string `json:"version"`
	PackageURL     string `json:"package_url"`
	SHA256         string `json:"sha256"`
	CreatedAt      string `json:"created_at"`
}

// otaStatusDoc is published to state.KeyOTAStatus on every transition.
type otaStatusDoc struct {
	State     string    `json:"state"`
	Version   string    `json:"version,omitempty"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// otaMachine tracks the current OTA state and staged-release bookkeeping.
type otaMachine struct {
	mu             sync.Mutex
	state          otaState
	appliedVersion string
	release        *firmwareRelease
	stagedPath     string
	message        string
}

func newOTAMachine() *otaMachine {
	return &otaMachine{state: otaIdle}
}

func (m *otaMachine) snapshot() otaStatusDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := otaStatusDoc{State: string(m.state), UpdatedAt: time.Now().UTC(), Message: m.message}
	if m.release != nil {
		doc.Version = m.release.Version
	}
	return doc
}

func (m *otaMachine) setState(s otaState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *otaMachine) setStateWithMessage(s otaState, msg string) {
	m.mu.Lock()
	m.state = s
	m.message = msg
	m.mu.Unlock()
}

func (m *otaMachine) currentVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appliedVersion
}

func (m *otaMachine) setRelease(r *firmwareRelease) {
	m.mu.Lock()
	m.release = r
	m.mu.Unlock()
}

func (m *otaMachine) setStagedPath(path string) {
	m.mu.Lock()
	m.stagedPath = path
	m.mu.Unlock()
}

func (m *otaMachine) stagedPackagePath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stagedPath
}

func (m *otaMachine) markApplied() {
	m.mu.Lock()
	if m.release != nil {
		m.appliedVersion = m.release.Version
	}
	m.mu.Unlock()
}

// otaCheckTick runs the hourly availability check.
func (s *Service) otaCheckTick(ctx context.Context) error {
	s.ota.setState(otaChecking)
	_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())

	var releases []firmwareRelease
	err := s.cloud.From("firmware_releases").
		Select("*").
		Eq("hardware_type_id", s.cfg.HardwareTypeID).
		Order("created_at", false).
		Limit(1).
		Execute(ctx, &releases)
	if err != nil {
		s.log.WithError(err).Warn("system: OTA availability check failed")
		s.ota.setState(otaIdle)
		_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())
		return nil
	}

	if len(releases) == 0 || releases[0].Version == s.ota.currentVersion() {
		s.ota.setState(otaIdle)
		_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())
		return nil
	}

	release := releases[0]
	s.ota.setRelease(&release)
	s.ota.setState(otaAvailable)
	_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())

	return s.downloadAndStage(ctx, release)
}

// downloadAndStage fetches the package, verifies its SHA-256 digest, and
// writes it to the staging directory.
func (s *Service) downloadAndStage(ctx context.Context, release firmwareRelease) error {
	s.ota.setState(otaDownloading)
	_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, release.PackageURL, nil)
	if err != nil {
		return s.failOTA(ctx, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return s.failOTA(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.failOTA(ctx, fmt.Errorf("system: OTA download returned status %d", resp.StatusCode))
	}

	stageDir := filepath.Join(s.cfg.StateDir, "ota", "staged")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return s.failOTA(ctx, err)
	}
	stagedPath := filepath.Join(stageDir, release.Version+".pkg")

	f, err := os.Create(stagedPath)
	if err != nil {
		return s.failOTA(ctx, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, hasher), resp.Body); err != nil {
		return s.failOTA(ctx, err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(sum, release.SHA256) {
		_ = os.Remove(stagedPath)
		return s.failOTA(ctx, fmt.Errorf("system: OTA package sha256 mismatch: got %s want %s", sum, release.SHA256))
	}

	s.ota.setStagedPath(stagedPath)
	s.ota.setState(otaReady)
	_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())
	return nil
}

func (s *Service) failOTA(ctx context.Context, err error) error {
	s.log.WithError(err).Error("system: OTA staging failed")
	s.ota.setStateWithMessage(otaFailed, err.Error())
	_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())
	return err
}

// RestartFunc stops the managed services in dependency-reverse order,
// extracts the staged package over the current install, restarts the
// services, and verifies their health within a timeout. It is supplied by internal/supervisor, the only component
// holding the lifecycle references needed to stop and restart services —
// the system service itself only owns the download/verify/backup/rollback
// file operations and the state machine.
type RestartFunc func(ctx context.Context, stagedPackagePath string) error

// ApplyOTA drives applying → success | failed | rolled_back for the
// currently staged release. The caller has already confirmed approval via a
// control_commands row before calling this.
func (s *Service) ApplyOTA(ctx context.Context, restart RestartFunc) error {
	snap := s.ota.snapshot()
	if otaState(snap.State) != otaReady {
		return fmt.Errorf("system: no staged OTA release ready (state=%s)", snap.State)
	}

	s.ota.setState(otaApplying)
	_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())

	backupPath, err := s.backupCurrentInstall()
	if err != nil {
		s.ota.setStateWithMessage(otaFailed, err.Error())
		_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())
		return err
	}

	stagedPath := s.ota.stagedPackagePath()
	if err := restart(ctx, stagedPath); err != nil {
		s.log.WithError(err).Error("system: OTA apply failed, attempting rollback")
		if rbErr := s.restoreBackup(backupPath); rbErr != nil {
			s.log.WithError(rbErr).Error("system: OTA rollback also failed")
			s.ota.setStateWithMessage(otaFailed, rbErr.Error())
		} else {
			s.ota.setStateWithMessage(otaRolledBack, err.Error())
		}
		_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())
		return err
	}

	s.ota.markApplied()
	s.ota.setState(otaSuccess)
	_ = s.store.Write(ctx, state.KeyOTAStatus, s.ota.snapshot())
	return nil
}

// backupCurrentInstall copies the running executable aside before an OTA
// apply.
func (s *Service) backupCurrentInstall() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	backupDir := filepath.Join(s.cfg.StateDir, "ota", "backup")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", err
	}
	backupPath := filepath.Join(backupDir, filepath.Base(exe)+".bak")
	if err := copyFile(exe, backupPath); err != nil {
		return "", err
	}
	return backupPath, nil
}

// restoreBackup restores the previously backed-up executable.
func (s *Service) restoreBackup(backupPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	return copyFile(backupPath, exe)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
