package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/build"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/executor"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/kube"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/metrics"
)

// Builder is the processor's view of the build pipeline.
type Builder interface {
	Build(ctx context.Context, spec build.Spec) build.Artifact
}

// ControlPlane is the slice of the client the processor needs for the
// command lifecycle and backup endpoints.
type ControlPlane interface {
	AckCommand(ctx context.Context, id string) error
	MarkRunning(ctx context.Context, id string) error
	SendResult(ctx context.Context, id string, result communicator.CommandResult) error
	BackupUploadURL(ctx context.Context, backupID string) (string, error)
	UpdateBackupStatus(ctx context.Context, backupID, status, message string) error
}

// StatusRelay is the processor's view of the deployment log stream.
type StatusRelay interface {
	SendLog(deploymentID, message, level, step string)
	UpdateStatus(deploymentID, status, message string)
}

// Processor routes one command to the handler for its kind and walks the
// command through its lifecycle: ack, running, execute, result. A panic in
// a handler becomes a failed result instead of taking the process down.
type Processor struct {
	client ControlPlane
	relay  StatusRelay
	driver *kube.Driver
	engine Builder
	logger *zap.Logger
}

func NewProcessor(client ControlPlane, relay StatusRelay, driver *kube.Driver, engine Builder, logger *zap.Logger) *Processor {
	return &Processor{
		client: client,
		relay:  relay,
		driver: driver,
		engine: engine,
		logger: logger,
	}
}

// Process executes one command to its terminal state. Lifecycle
// transitions that fail to reach the control plane are logged and skipped;
// the control plane re-offers commands that never receive a result.
func (p *Processor) Process(ctx context.Context, cmd communicator.Command) {
	logger := p.logger.With(
		zap.String("command_id", cmd.ID),
		zap.String("kind", cmd.Kind),
	)

	if err := p.client.AckCommand(ctx, cmd.ID); err != nil {
		logger.Warn("failed to ack command", zap.Error(err))
	}
	if err := p.client.MarkRunning(ctx, cmd.ID); err != nil {
		logger.Warn("failed to mark command running", zap.Error(err))
	}

	result := p.execute(ctx, cmd)

	outcome := "completed"
	if !result.Success {
		outcome = "failed"
		logger.Warn("command failed", zap.String("error", result.Error))
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Kind, outcome).Inc()

	if err := p.client.SendResult(ctx, cmd.ID, result); err != nil {
		logger.Error("failed to send command result", zap.Error(err))
	}
}

func (p *Processor) execute(ctx context.Context, cmd communicator.Command) (result communicator.CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked",
				zap.String("command_id", cmd.ID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			result = communicator.CommandResult{
				Success: false,
				Error:   fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	switch cmd.Kind {
	case KindDeploy:
		return p.handleDeploy(ctx, cmd.Payload)
	case KindStop:
		return p.handleStop(ctx, cmd.Payload)
	case KindRestart:
		return p.handleRestart(ctx, cmd.Payload)
	case KindDelete:
		return p.handleDelete(ctx, cmd.Payload)
	case KindCreateNamespace:
		return p.handleCreateNamespace(ctx, cmd.Payload)
	case KindUpdateEnv:
		return p.handleUpdateEnv(ctx, cmd.Payload)
	case KindAddCustomDomain:
		return p.handleAddCustomDomain(ctx, cmd.Payload)
	case KindRemoveCustomDomain:
		return p.handleRemoveCustomDomain(ctx, cmd.Payload)
	case KindCreateDatabase:
		return p.handleCreateDatabase(ctx, cmd.Payload)
	case KindDeleteDatabase:
		return p.handleDeleteDatabase(ctx, cmd.Payload)
	case KindUpdateDBPassword:
		return p.handleUpdateDatabasePassword(ctx, cmd.Payload)
	case KindEnableExternalAccess:
		return p.handleEnableExternalAccess(ctx, cmd.Payload)
	case KindDisableExternalAccess:
		return p.handleDisableExternalAccess(ctx, cmd.Payload)
	case KindCreateBackup:
		return p.handleCreateBackup(ctx, cmd.Payload)
	case KindRestoreBackup:
		return p.handleRestoreBackup(ctx, cmd.Payload)
	default:
		return communicator.CommandResult{
			Success: false,
			Error:   fmt.Sprintf("unknown command kind %q", cmd.Kind),
		}
	}
}

func failure(err error) communicator.CommandResult {
	return communicator.CommandResult{Success: false, Error: err.Error()}
}

// shellResult converts a driver invocation into the command's terminal
// shape, folding captured output into logs.
func shellResult(action string, result executor.Result) communicator.CommandResult {
	logs := combinedOutput(result)
	if result.Success {
		return communicator.CommandResult{Success: true, Logs: logs}
	}
	return communicator.CommandResult{
		Success: false,
		Error:   fmt.Sprintf("%s failed: %s", action, result.Error),
		Logs:    logs,
	}
}

func combinedOutput(result executor.Result) string {
	parts := make([]string, 0, 2)
	if result.Stdout != "" {
		parts = append(parts, result.Stdout)
	}
	if result.Stderr != "" {
		parts = append(parts, result.Stderr)
	}
	return strings.Join(parts, "\n")
}
