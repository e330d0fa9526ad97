package build

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/executor"
)

const (
	cloneTimeout  = 2 * time.Minute
	buildTimeout  = 10 * time.Minute
	importTimeout = 5 * time.Minute

	errorTailLines = 20
)

// Relay is the engine's view of the deployment log stream.
type Relay interface {
	SendLog(deploymentID, message, level, step string)
}

// ImageInspector resolves the first exposed TCP port of a built image.
type ImageInspector interface {
	FirstExposedTCPPort(ctx context.Context, ref string) (int, error)
}

// Engine turns a Spec into an image in the cluster runtime:
// clone, detect, synthesize recipe, build, import, inspect. The engine
// exclusively owns its per-app workspace for the duration of one build and
// removes it on every exit path.
type Engine struct {
	runner    executor.Runner
	relay     Relay
	inspector ImageInspector
	logger    *zap.Logger
	fs        *executor.WorkspaceFS
}

func NewEngine(runner executor.Runner, relay Relay, inspector ImageInspector, buildRoot string, logger *zap.Logger) *Engine {
	return &Engine{
		runner:    runner,
		relay:     relay,
		inspector: inspector,
		logger:    logger,
		fs:        executor.NewWorkspaceFS(buildRoot),
	}
}

// Build runs the full pipeline and never returns credentials in any field
// of the artifact.
func (e *Engine) Build(ctx context.Context, spec Spec) Artifact {
	var logs strings.Builder

	record := func(line string) {
		masked := MaskTokens(line)
		logs.WriteString(masked)
		logs.WriteString("\n")
		e.relay.SendLog(spec.DeploymentID, masked, "info", "build")
	}
	fail := func(err error) Artifact {
		message := MaskTokens(err.Error())
		e.relay.SendLog(spec.DeploymentID, message, "error", "build")
		e.logger.Error("build failed",
			zap.String("app", spec.AppName),
			zap.String("deployment_id", spec.DeploymentID),
			zap.String("error", message),
		)
		return Artifact{Logs: logs.String(), Error: message}
	}

	if err := executor.ValidateName("app name", spec.AppName); err != nil {
		return fail(err)
	}

	workspace, err := e.fs.Prepare(spec.AppName)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := e.fs.Remove(spec.AppName); err != nil {
			e.logger.Warn("workspace cleanup failed",
				zap.String("workspace", workspace),
				zap.Error(err),
			)
		}
	}()

	record(fmt.Sprintf("cloning %s (branch %s)", spec.GitRepoURL, spec.GitBranch))
	if err := e.clone(ctx, spec, workspace); err != nil {
		return fail(err)
	}

	det, err := Detect(workspace, spec)
	if err != nil {
		return fail(err)
	}
	record(fmt.Sprintf("detected framework=%s package_manager=%s lockfile=%t",
		det.Framework, det.PackageManager, det.HasLockfile))

	if err := e.writeRecipe(spec, det, record); err != nil {
		return fail(err)
	}

	tag := fmt.Sprintf("%s:%s", spec.AppName, spec.DeploymentID)
	if err := e.buildImage(ctx, spec, workspace, tag, record); err != nil {
		return fail(err)
	}

	record("importing image into cluster runtime")
	if err := e.importImage(ctx, tag); err != nil {
		return fail(err)
	}

	exposedPort := e.resolvePort(ctx, tag, spec, det)
	record(fmt.Sprintf("image %s ready, exposed port %d", tag, exposedPort))

	return Artifact{
		Success:     true,
		ImageName:   fmt.Sprintf("docker.io/library/%s", tag),
		ExposedPort: exposedPort,
		Logs:        logs.String(),
	}
}

func (e *Engine) clone(ctx context.Context, spec Spec, workspace string) error {
	cloneURL := AuthenticatedURL(spec.GitRepoURL, spec.GitToken)
	command := fmt.Sprintf("git clone --depth 1 --single-branch --branch %s %s %s",
		executor.Quote(spec.GitBranch),
		executor.Quote(cloneURL),
		executor.Quote(workspace),
	)

	result := e.runner.Run(ctx, command, cloneTimeout)
	if !result.Success {
		detail := result.Stderr
		if detail == "" {
			detail = result.Stdout
		}
		return fmt.Errorf("git clone failed: %s: %s", result.Error, MaskTokens(detail))
	}
	return nil
}

// writeRecipe synthesizes the Dockerfile unless the repo ships its own and
// the docker framework was requested.
func (e *Engine) writeRecipe(spec Spec, det Detection, record func(string)) error {
	if spec.Framework == FrameworkDocker && det.HasDockerfile {
		record("using repository Dockerfile")
		return nil
	}

	recipe := GenerateRecipe(spec, det)
	for _, warning := range recipe.Warnings {
		e.relay.SendLog(spec.DeploymentID, warning, "warn", "build")
	}

	if err := e.fs.WriteFile(spec.AppName, "Dockerfile", recipe.Dockerfile, 0644); err != nil {
		return fmt.Errorf("failed to write build recipe: %w", err)
	}
	return nil
}

// buildImage spawns the container build and streams every output line to
// the control plane. On a non-zero exit the last non-blank lines are carried
// in the returned error, which Build relays as the final error log.
func (e *Engine) buildImage(ctx context.Context, spec Spec, workspace, tag string, record func(string)) error {
	buildCtx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	tail := make([]string, 0, errorTailLines)
	exitCode, err := e.runner.Spawn(buildCtx, "docker", []string{"build", "-t", tag, workspace}, func(line string) {
		record(line)
		if strings.TrimSpace(line) == "" {
			return
		}
		if len(tail) == errorTailLines {
			tail = append(tail[1:], MaskTokens(line))
		} else {
			tail = append(tail, MaskTokens(line))
		}
	})

	if buildCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("image build timed out after %v", buildTimeout)
	}
	if err != nil {
		return fmt.Errorf("image build failed: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("image build failed with exit code %d:\n%s", exitCode, strings.Join(tail, "\n"))
	}
	return nil
}

// importImage pipes the saved image into the cluster runtime so the next
// deployment schedules without a registry pull.
func (e *Engine) importImage(ctx context.Context, tag string) error {
	command := fmt.Sprintf("docker save %s | k3s ctr images import -", executor.Quote(tag))
	result := e.runner.Run(ctx, command, importTimeout)
	if !result.Success {
		return fmt.Errorf("image import failed: %s: %s", result.Error, result.Stderr)
	}
	return nil
}

// resolvePort prefers the image's first exposed TCP port, then the
// detected dev-server port, then the spec.
func (e *Engine) resolvePort(ctx context.Context, tag string, spec Spec, det Detection) int {
	if port, err := e.inspector.FirstExposedTCPPort(ctx, tag); err == nil && port > 0 {
		return port
	} else if err != nil {
		e.logger.Debug("image inspect failed", zap.String("image", tag), zap.Error(err))
	}
	if det.Port > 0 {
		return det.Port
	}
	return spec.Port
}
