package system

import (
	"context"
	"os/exec"
	"time"

	"github.com/volteria/controller-core/internal/state"
)

// controlCommand mirrors one row of the cloud control_commands table. Both
// reboot and OTA apply-approval commands live in this table, discriminated
// by Type.
type controlCommand struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Graceful bool   `json:"graceful"`
}

// rebootPendingDoc is written to state.KeyRebootPending immediately before
// the OS reboot is issued, so the next startup can mark the originating
// command completed.
type rebootPendingDoc struct {
	CommandID   string    `json:"command_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// rebootPollTick polls the command table every 10s.
func (s *Service) rebootPollTick(ctx context.Context) error {
	var cmds []controlCommand
	if err := s.cloud.From("control_commands").
		Select("*").
		Eq("status", "pending").
		Execute(ctx, &cmds); err != nil {
		s.log.WithError(err).Debug("system: control command poll failed")
		return nil
	}

	for _, cmd := range cmds {
		switch cmd.Type {
		case "reboot":
			s.handleReboot(ctx, cmd)
		case "ota_apply":
			s.handleOTAApply(ctx, cmd)
		}
	}
	return nil
}

// consumeRebootPending runs once at startup: if the previous run left a
// reboot_pending document behind, the reboot succeeded, so the originating
// command is marked completed and the document is cleared.
func (s *Service) consumeRebootPending(ctx context.Context) {
	var doc rebootPendingDoc
	if err := s.store.ReadFresh(ctx, state.KeyRebootPending, &doc); err != nil || doc.CommandID == "" {
		return
	}

	s.log.WithField("command_id", doc.CommandID).Info("system: consuming reboot_pending left by prior shutdown")
	if s.cloud != nil {
		s.completeCommand(ctx, doc.CommandID, "completed", "")
	}
	_ = s.store.Write(ctx, state.KeyRebootPending, rebootPendingDoc{})
}

// handleReboot stops services in reverse order, emits a final heartbeat,
// records reboot_pending, and issues the OS reboot.
// Only graceful=true commands are honored; ungraceful reboot is not
// implemented by this controller.
func (s *Service) handleReboot(ctx context.Context, cmd controlCommand) {
	if !cmd.Graceful {
		s.completeCommand(ctx, cmd.ID, "failed", "ungraceful reboot requested, not supported")
		return
	}

	s.log.WithField("command_id", cmd.ID).Warn("system: graceful reboot command received")

	if s.shutdownHook != nil {
		if err := s.shutdownHook(ctx); err != nil {
			s.log.WithError(err).Error("system: graceful shutdown before reboot failed")
			s.completeCommand(ctx, cmd.ID, "failed", err.Error())
			return
		}
	}

	_ = s.heartbeatTick(ctx)
	_ = s.store.Write(ctx, state.KeyRebootPending, rebootPendingDoc{CommandID: cmd.ID, RequestedAt: time.Now().UTC()})
	issueOSReboot(s)
}

// handleOTAApply drives the staged release through ApplyOTA once the cloud
// has recorded explicit approval as a control_commands row.
func (s *Service) handleOTAApply(ctx context.Context, cmd controlCommand) {
	if s.restartHook == nil {
		s.completeCommand(ctx, cmd.ID, "failed", "no restart hook registered")
		return
	}
	if err := s.ApplyOTA(ctx, s.restartHook); err != nil {
		s.completeCommand(ctx, cmd.ID, "failed", err.Error())
		return
	}
	s.completeCommand(ctx, cmd.ID, "completed", "")
}

func (s *Service) completeCommand(ctx context.Context, id, status, message string) {
	body := map[string]any{"status": status}
	if message != "" {
		body["message"] = message
	}
	if err := s.cloud.From("control_commands").Eq("id", id).Update(ctx, body); err != nil {
		s.log.WithError(err).WithField("command_id", id).Warn("system: failed to update control command status")
	}
}

// issueOSReboot shells out to the platform reboot command; best-effort,
// since once it succeeds the process itself is about to be torn down by
// the kernel anyway.
func issueOSReboot(s *Service) {
	if err := exec.Command("/sbin/reboot").Run(); err != nil {
		s.log.WithError(err).Error("system: failed to issue OS reboot")
	}
}
