// Command controller is the site controller firmware's single process: it
// loads the site configuration, wires the five lifecycle-managed services
// (system, config, device, control, logging) behind the supervisor, starts
// each one's /health and /metrics server on its fixed loopback port, and runs until terminated. The flag-parse/config-load/start/signal-
// wait/shutdown shape follows cmd/appserver/main.go's convention.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/cloud"
	"github.com/volteria/controller-core/internal/config"
	"github.com/volteria/controller-core/internal/control"
	"github.com/volteria/controller-core/internal/device"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/logging"
	"github.com/volteria/controller-core/internal/metrics"
	"github.com/volteria/controller-core/internal/modbus/pool"
	"github.com/volteria/controller-core/internal/state"
	"github.com/volteria/controller-core/internal/supervisor"
	"github.com/volteria/controller-core/internal/system"
)

// healthPorts assigns each service its fixed loopback port.
var healthPorts = map[string]int{
	"system":  8081,
	"config":  8082,
	"device":  8083,
	"control": 8084,
	"logging": 8085,
}

func main() {
	configPath := flag.String("config", "", "path to site configuration file (overrides the conventional search path)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 15*time.Second, "grace period for stopping services on SIGINT/SIGTERM")
	flag.Parse()

	cfg, warnings, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	newLogger := func(component string) *applog.Logger {
		return applog.New(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: component})
	}
	appLog := newLogger("controller")

	for _, w := range warnings {
		appLog.WithField("warning", w).Warn("controller: configuration validation warning at startup, continuing in safe mode until resolved")
	}

	cloudClient, err := newCloudClient(cfg)
	if err != nil {
		log.Fatalf("init cloud client: %v", err)
	}
	if cloudClient == nil {
		appLog.Warn("controller: no SUPABASE_URL configured, running local-only")
	}

	stateStore := state.New()

	sys := system.New(cfg, stateStore, cloudClient, newLogger("system"))
	configSvc := config.NewService(cfg, warnings, stateStore, cloudClient, newLogger("config"))
	deviceSvc := device.New(cfg.ModelDevices(), pool.New(pool.DefaultIdleTimeout), stateStore, newLogger("device"))
	controlSvc := control.New(cfg, stateStore, newLogger("control"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loggingSvc, err := logging.New(ctx, cfg, stateStore, cloudClient, newLogger("logging"))
	if err != nil {
		log.Fatalf("init logging service: %v", err)
	}

	components := []supervisor.Component{
		{Name: "system", Service: sys, Critical: true},
		{Name: "config", Service: configSvc, Critical: true},
		{Name: "device", Service: deviceSvc, Critical: true},
		{Name: "control", Service: controlSvc, Critical: true},
		{Name: "logging", Service: loggingSvc, Critical: false},
	}
	sv := supervisor.New(components, stateStore, newLogger("supervisor"))

	sys.SetShutdownHook(sv.StopAll)
	sys.SetRestartHook(sv.RestartAll)

	healthServers := startHealthServers(components, appLog)
	defer stopHealthServers(healthServers, appLog)

	go func() {
		if err := sv.Run(ctx); err != nil {
			appLog.WithError(err).Error("controller: supervisor exited")
		}
	}()

	appLog.Info("controller: started, services coming online")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	appLog.Info("controller: shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer shutdownCancel()
	if err := sv.StopAll(shutdownCtx); err != nil {
		appLog.WithError(err).Error("controller: shutdown did not complete cleanly")
	}
}

// loadConfig resolves the site configuration. A validation warning (missing
// or out-of-range mode settings, substituted with a safe default) is not
// fatal: it's returned alongside a usable cfg so the caller can log it and
// let the control service start in safe mode until it's resolved. Any other
// error (unreadable or malformed file) is fatal.
func loadConfig(path string) (*config.SiteConfig, []string, error) {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		cfg, err := config.LoadFile(trimmed)
		return cfg, nil, err
	}

	cfg, err := config.Load()
	if err == nil {
		return cfg, nil, nil
	}
	var verrs *config.ValidationErrors
	if errors.As(err, &verrs) {
		return cfg, verrs.Errors, nil
	}
	return nil, nil, err
}

// newCloudClient returns nil, nil when no cloud endpoint is configured,
// matching the rest of the services' nil-cloud-client local-only posture.
func newCloudClient(cfg *config.SiteConfig) (*cloud.Client, error) {
	url := strings.TrimSpace(cfg.SupabaseURL)
	if url == "" {
		return nil, nil
	}
	return cloud.New(cloud.Config{ProjectURL: url, ServiceRoleKey: cfg.SupabaseServiceKey})
}

func startHealthServers(components []supervisor.Component, appLog *applog.Logger) []*httphealth.Server {
	servers := make([]*httphealth.Server, 0, len(components))
	for _, c := range components {
		port, ok := healthPorts[c.Name]
		if !ok {
			continue
		}
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		registry := metrics.New(c.Name)
		srv := httphealth.NewServer(addr, c.Service.Reporter(), registry)
		servers = append(servers, srv)

		name := c.Name
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				appLog.WithError(err).WithField("service", name).Error("controller: health server exited")
			}
		}()
	}
	return servers
}

func stopHealthServers(servers []*httphealth.Server, appLog *applog.Logger) {
	for _, srv := range servers {
		if err := srv.Shutdown(); err != nil {
			appLog.WithError(err).Warn("controller: health server shutdown error")
		}
	}
}
