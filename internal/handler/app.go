package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/kube"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/metrics"
)

// Deployment status values streamed to the control plane.
const (
	statusBuilding  = "building"
	statusDeploying = "deploying"
	statusReady     = "ready"
	statusFailed    = "failed"
)

// handleDeploy runs the full path from git repository to running app:
// build pipeline, namespace provisioning, rollout. Status transitions are
// streamed so the dashboard follows along.
func (p *Processor) handleDeploy(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[DeployPayload](raw)
	if err != nil {
		return failure(err)
	}

	p.relay.UpdateStatus(payload.DeploymentID, statusBuilding, "")

	start := time.Now()
	artifact := p.engine.Build(ctx, payload.Spec)
	metrics.BuildDuration.Observe(time.Since(start).Seconds())

	if !artifact.Success {
		metrics.BuildsTotal.WithLabelValues("failed").Inc()
		p.relay.UpdateStatus(payload.DeploymentID, statusFailed, artifact.Error)
		return communicator.CommandResult{
			Success: false,
			Error:   artifact.Error,
			Logs:    artifact.Logs,
		}
	}
	metrics.BuildsTotal.WithLabelValues("succeeded").Inc()

	if result := p.driver.EnsureNamespace(ctx, payload.Namespace, ""); !result.Success {
		message := fmt.Sprintf("namespace provisioning failed: %s", result.Error)
		p.relay.UpdateStatus(payload.DeploymentID, statusFailed, message)
		return communicator.CommandResult{
			Success: false,
			Error:   message,
			Logs:    artifact.Logs,
		}
	}

	p.relay.UpdateStatus(payload.DeploymentID, statusDeploying, "")
	p.relay.SendLog(payload.DeploymentID,
		fmt.Sprintf("deploying %s to namespace %s", artifact.ImageName, payload.Namespace),
		"info", "deploy")

	result := p.driver.DeployApp(ctx, payload.Namespace, payload.AppName,
		artifact.ImageName, artifact.ExposedPort, payload.Domain)
	if !result.Success {
		message := fmt.Sprintf("rollout failed: %s", result.Error)
		p.relay.UpdateStatus(payload.DeploymentID, statusFailed, message)
		return communicator.CommandResult{
			Success: false,
			Error:   message,
			Logs:    artifact.Logs + "\n" + combinedOutput(result),
		}
	}

	p.relay.UpdateStatus(payload.DeploymentID, statusReady, "")
	return communicator.CommandResult{Success: true, Logs: artifact.Logs}
}

func (p *Processor) handleStop(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[AppPayload](raw)
	if err != nil {
		return failure(err)
	}
	return shellResult("stop", p.driver.Stop(ctx, payload.Namespace, payload.AppName))
}

func (p *Processor) handleRestart(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[AppPayload](raw)
	if err != nil {
		return failure(err)
	}
	return shellResult("restart", p.driver.Restart(ctx, payload.Namespace, payload.AppName))
}

func (p *Processor) handleDelete(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[AppPayload](raw)
	if err != nil {
		return failure(err)
	}
	return shellResult("delete", p.driver.DeleteDeployment(ctx, payload.Namespace, payload.AppName))
}

func (p *Processor) handleCreateNamespace(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[NamespacePayload](raw)
	if err != nil {
		return failure(err)
	}
	return shellResult("namespace provisioning",
		p.driver.EnsureNamespace(ctx, payload.Namespace, payload.RegistryToken))
}

func (p *Processor) handleUpdateEnv(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[EnvPayload](raw)
	if err != nil {
		return failure(err)
	}
	return shellResult("env update",
		p.driver.SetEnvVars(ctx, payload.Namespace, payload.AppName, payload.EnvVars))
}

func (p *Processor) handleAddCustomDomain(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[DomainPayload](raw)
	if err != nil {
		return failure(err)
	}
	port := payload.Port
	if port == 0 {
		port = 80
	}
	manifest, err := kube.RenderIngress(kube.IngressSpec{
		Namespace: payload.Namespace,
		AppName:   payload.AppName,
		Host:      payload.Domain,
		Port:      port,
	})
	if err != nil {
		return failure(err)
	}
	return shellResult("domain attach", p.driver.ApplyManifest(ctx, manifest))
}

func (p *Processor) handleRemoveCustomDomain(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[DomainPayload](raw)
	if err != nil {
		return failure(err)
	}
	name := kube.IngressName(payload.AppName, payload.Domain)
	return shellResult("domain detach",
		p.driver.DeleteObject(ctx, payload.Namespace, "ingress", name))
}
