package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/kube"
)

// handleCreateDatabase renders and applies the full object set for one
// managed database, then blocks until the replica reports ready.
func (p *Processor) handleCreateDatabase(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[DatabasePayload](raw)
	if err != nil {
		return failure(err)
	}

	db := kube.Database{
		Namespace:    payload.Namespace,
		Name:         payload.Name,
		Type:         payload.Type,
		Version:      payload.Version,
		Username:     payload.Username,
		Password:     payload.Password,
		DatabaseName: payload.DatabaseName,
		StorageSize:  payload.StorageSize,
		MemoryLimit:  payload.MemoryLimit,
	}

	renderers := []struct {
		what   string
		render func(kube.Database) (string, error)
	}{
		{"secret", kube.RenderSecret},
		{"pvc", kube.RenderPVC},
		{"service", kube.RenderHeadlessService},
		{"statefulset", kube.RenderStatefulSet},
	}

	for _, r := range renderers {
		manifest, err := r.render(db)
		if err != nil {
			return failure(err)
		}
		if result := p.driver.ApplyManifest(ctx, manifest); !result.Success {
			return communicator.CommandResult{
				Success: false,
				Error:   fmt.Sprintf("failed to apply %s: %s", r.what, result.Error),
				Logs:    combinedOutput(result),
			}
		}
	}

	if err := p.driver.WaitForStatefulSetReady(ctx, db.Namespace, db.Name); err != nil {
		return failure(err)
	}
	return communicator.CommandResult{
		Success: true,
		Logs:    fmt.Sprintf("database %s ready on port %d", db.Name, kube.Port(db.Type)),
	}
}

// handleDeleteDatabase tears down the object set. Every delete tolerates
// absence, so re-delivery of the command converges on success.
func (p *Processor) handleDeleteDatabase(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[DatabaseRefPayload](raw)
	if err != nil {
		return failure(err)
	}

	objects := []struct{ kind, name string }{
		{"statefulset", payload.Name},
		{"service", payload.Name},
		{"secret", payload.Name + "-secret"},
		{"pvc", payload.Name + "-data"},
		{"ingressroutetcp", payload.Name + "-external"},
	}

	var errs []string
	for _, obj := range objects {
		result := p.driver.DeleteObject(ctx, payload.Namespace, obj.kind, obj.name)
		if !result.Success {
			errs = append(errs, fmt.Sprintf("%s %s: %s", obj.kind, obj.name, result.Error))
		}
	}
	if len(errs) > 0 {
		return communicator.CommandResult{
			Success: false,
			Error:   fmt.Sprintf("database teardown incomplete: %v", errs),
		}
	}
	return communicator.CommandResult{Success: true}
}

// handleUpdateDatabasePassword re-applies the credential Secret with the
// new password and restarts the StatefulSet so the engine reloads it.
func (p *Processor) handleUpdateDatabasePassword(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[PasswordPayload](raw)
	if err != nil {
		return failure(err)
	}

	db := kube.Database{
		Namespace:    payload.Namespace,
		Name:         payload.Name,
		Type:         payload.Type,
		Username:     payload.Username,
		Password:     payload.NewPassword,
		DatabaseName: payload.DatabaseName,
	}
	manifest, err := kube.RenderSecret(db)
	if err != nil {
		return failure(err)
	}
	if result := p.driver.ApplyManifest(ctx, manifest); !result.Success {
		return shellResult("credential update", result)
	}
	return shellResult("credential rollout",
		p.driver.RestartStatefulSet(ctx, payload.Namespace, payload.Name))
}

func (p *Processor) handleEnableExternalAccess(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[ExternalAccessPayload](raw)
	if err != nil {
		return failure(err)
	}
	port := kube.Port(payload.Type)
	if port == 0 {
		return failure(fmt.Errorf("unsupported database type %q", payload.Type))
	}
	manifest, err := kube.RenderIngressRouteTCP(kube.TCPRouteSpec{
		Namespace:   payload.Namespace,
		Name:        payload.Name + "-external",
		Host:        payload.Host,
		ServiceName: payload.Name,
		Port:        port,
	})
	if err != nil {
		return failure(err)
	}
	return shellResult("external access enable", p.driver.ApplyManifest(ctx, manifest))
}

func (p *Processor) handleDisableExternalAccess(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[ExternalAccessPayload](raw)
	if err != nil {
		return failure(err)
	}
	return shellResult("external access disable",
		p.driver.DeleteObject(ctx, payload.Namespace, "ingressroutetcp", payload.Name+"-external"))
}
