package kube

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/executor"
)

const (
	kubectlTimeout = 30 * time.Second
	applyTimeout   = 60 * time.Second
	readyTimeout   = 2 * time.Minute
	readyPoll      = 5 * time.Second
	copyTimeout    = 5 * time.Minute
	logsTimeout    = 30 * time.Second
)

// Driver exposes the cluster verbs the handlers compose. Mutations go
// through kubectl or the site-local helper scripts; nothing here keeps
// state between calls.
type Driver struct {
	runner executor.Runner
	logger *zap.Logger
}

func NewDriver(runner executor.Runner, logger *zap.Logger) *Driver {
	return &Driver{runner: runner, logger: logger}
}

// EnsureNamespace provisions the tenant namespace through the helper
// script, which is idempotent on the cluster side.
func (d *Driver) EnsureNamespace(ctx context.Context, namespace, token string) executor.Result {
	if err := executor.ValidateName("namespace", namespace); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := "deploypilot-create-namespace " + executor.Quote(namespace)
	if token != "" {
		command += " " + executor.Quote(token)
	}
	return d.runner.Run(ctx, command, applyTimeout)
}

// DeployApp rolls an image out as a Deployment+Service+Ingress through the
// helper script.
func (d *Driver) DeployApp(ctx context.Context, namespace, app, image string, port int, domain string) executor.Result {
	if err := d.validatePair(namespace, app); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := fmt.Sprintf("deploypilot-deploy-app %s %s %s %d",
		executor.Quote(namespace),
		executor.Quote(app),
		executor.Quote(image),
		port,
	)
	if domain != "" {
		command += " " + executor.Quote(domain)
	}
	return d.runner.Run(ctx, command, applyTimeout)
}

// DeleteApp removes everything the deploy script created.
func (d *Driver) DeleteApp(ctx context.Context, namespace, app string) executor.Result {
	if err := d.validatePair(namespace, app); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := fmt.Sprintf("deploypilot-delete-app %s %s",
		executor.Quote(namespace), executor.Quote(app))
	return d.runner.Run(ctx, command, applyTimeout)
}

// Restart triggers a rolling restart of the app's Deployment.
func (d *Driver) Restart(ctx context.Context, namespace, app string) executor.Result {
	if err := d.validatePair(namespace, app); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := fmt.Sprintf("kubectl rollout restart deployment/%s -n %s",
		executor.Quote(app), executor.Quote(namespace))
	return d.runner.Run(ctx, command, kubectlTimeout)
}

// Stop scales the Deployment to zero replicas.
func (d *Driver) Stop(ctx context.Context, namespace, app string) executor.Result {
	if err := d.validatePair(namespace, app); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := fmt.Sprintf("kubectl scale deployment/%s --replicas=0 -n %s",
		executor.Quote(app), executor.Quote(namespace))
	return d.runner.Run(ctx, command, kubectlTimeout)
}

// RestartStatefulSet triggers a rolling restart of a StatefulSet, used
// after credential changes so the engine picks up the new secret.
func (d *Driver) RestartStatefulSet(ctx context.Context, namespace, name string) executor.Result {
	if err := d.validatePair(namespace, name); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := fmt.Sprintf("kubectl rollout restart statefulset/%s -n %s",
		executor.Quote(name), executor.Quote(namespace))
	return d.runner.Run(ctx, command, kubectlTimeout)
}

// SetEnvVars replaces the given environment variables on the Deployment.
// An empty map is a no-op success, the rollout it would trigger is not
// worth an empty set.
func (d *Driver) SetEnvVars(ctx context.Context, namespace, app string, envVars map[string]string) executor.Result {
	if err := d.validatePair(namespace, app); err != nil {
		return executor.Result{Error: err.Error()}
	}
	if len(envVars) == 0 {
		return executor.Result{Success: true}
	}

	keys := make([]string, 0, len(envVars))
	for k := range envVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args strings.Builder
	for _, k := range keys {
		args.WriteString(" ")
		args.WriteString(executor.Quote(k + "=" + envVars[k]))
	}
	command := fmt.Sprintf("kubectl set env deployment/%s -n %s%s",
		executor.Quote(app), executor.Quote(namespace), args.String())
	return d.runner.Run(ctx, command, kubectlTimeout)
}

// DeleteDeployment removes the Deployment and its Service and Ingress.
// Every sub-delete tolerates absence; the composite fails only when a
// sub-step genuinely failed.
func (d *Driver) DeleteDeployment(ctx context.Context, namespace, app string) executor.Result {
	if err := d.validatePair(namespace, app); err != nil {
		return executor.Result{Error: err.Error()}
	}

	var stdout, stderr, errs []string
	for _, kind := range []string{"deployment", "service", "ingress"} {
		command := fmt.Sprintf("kubectl delete %s %s -n %s --ignore-not-found",
			kind, executor.Quote(app), executor.Quote(namespace))
		result := d.runner.Run(ctx, command, kubectlTimeout)
		if result.Stdout != "" {
			stdout = append(stdout, result.Stdout)
		}
		if result.Stderr != "" {
			stderr = append(stderr, result.Stderr)
		}
		if !result.Success {
			errs = append(errs, fmt.Sprintf("%s: %s", kind, result.Error))
		}
	}

	combined := executor.Result{
		Success: len(errs) == 0,
		Stdout:  strings.Join(stdout, "\n"),
		Stderr:  strings.Join(stderr, "\n"),
	}
	if len(errs) > 0 {
		combined.Error = strings.Join(errs, "; ")
	}
	return combined
}

// ApplyManifest feeds rendered YAML to the cluster on stdin.
func (d *Driver) ApplyManifest(ctx context.Context, manifest string) executor.Result {
	return d.runner.RunWithInput(ctx, "kubectl apply -f -", manifest, applyTimeout)
}

// DeleteObject removes one named object, tolerating absence.
func (d *Driver) DeleteObject(ctx context.Context, namespace, kind, name string) executor.Result {
	if err := d.validatePair(namespace, name); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := fmt.Sprintf("kubectl delete %s %s -n %s --ignore-not-found",
		kind, executor.Quote(name), executor.Quote(namespace))
	return d.runner.Run(ctx, command, kubectlTimeout)
}

// ExecuteCommand is the raw passthrough for callers that compose their own
// command line. They own the quoting of anything they interpolate.
func (d *Driver) ExecuteCommand(ctx context.Context, command string, timeout time.Duration) executor.Result {
	return d.runner.Run(ctx, command, timeout)
}

// WaitForStatefulSetReady polls readyReplicas until the single replica
// reports ready or two minutes pass.
func (d *Driver) WaitForStatefulSetReady(ctx context.Context, namespace, name string) error {
	if err := d.validatePair(namespace, name); err != nil {
		return err
	}
	command := fmt.Sprintf("kubectl get statefulset %s -n %s -o jsonpath='{.status.readyReplicas}'",
		executor.Quote(name), executor.Quote(namespace))

	deadline := time.Now().Add(readyTimeout)
	for {
		result := d.runner.Run(ctx, command, kubectlTimeout)
		if result.Success && strings.TrimSpace(result.Stdout) == "1" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("statefulset %s/%s not ready after %v", namespace, name, readyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPoll):
		}
	}
}

// FirstPodName resolves the first pod behind an app label, used by backup
// handlers to pick their exec target.
func (d *Driver) FirstPodName(ctx context.Context, namespace, app string) (string, error) {
	if err := d.validatePair(namespace, app); err != nil {
		return "", err
	}
	command := fmt.Sprintf("kubectl get pods -n %s -l app=%s -o jsonpath='{.items[0].metadata.name}'",
		executor.Quote(namespace), executor.Quote(app))
	result := d.runner.Run(ctx, command, kubectlTimeout)
	if !result.Success {
		return "", fmt.Errorf("failed to resolve pod for %s/%s: %s", namespace, app, result.Error)
	}
	pod := strings.TrimSpace(result.Stdout)
	if pod == "" {
		return "", fmt.Errorf("no pod found for %s/%s", namespace, app)
	}
	return pod, nil
}

// ExecInPod runs a command line inside a pod. The shell fragment is the
// caller's to quote.
func (d *Driver) ExecInPod(ctx context.Context, namespace, pod, shellCommand string, timeout time.Duration) executor.Result {
	if err := d.validatePair(namespace, pod); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := fmt.Sprintf("kubectl exec %s -n %s -- sh -c %s",
		executor.Quote(pod), executor.Quote(namespace), executor.Quote(shellCommand))
	return d.runner.Run(ctx, command, timeout)
}

// CopyToPod copies a local file into a pod path.
func (d *Driver) CopyToPod(ctx context.Context, namespace, pod, localPath, podPath string) executor.Result {
	if err := d.validatePair(namespace, pod); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := fmt.Sprintf("kubectl cp %s %s/%s:%s",
		executor.Quote(localPath), executor.Quote(namespace), executor.Quote(pod), executor.Quote(podPath))
	return d.runner.Run(ctx, command, copyTimeout)
}

// CopyFromPod copies a pod path to a local file.
func (d *Driver) CopyFromPod(ctx context.Context, namespace, pod, podPath, localPath string) executor.Result {
	if err := d.validatePair(namespace, pod); err != nil {
		return executor.Result{Error: err.Error()}
	}
	command := fmt.Sprintf("kubectl cp %s/%s:%s %s",
		executor.Quote(namespace), executor.Quote(pod), executor.Quote(podPath), executor.Quote(localPath))
	return d.runner.Run(ctx, command, copyTimeout)
}

// Logs returns the last lines of the app Deployment's logs.
func (d *Driver) Logs(ctx context.Context, namespace, app string, lines int) executor.Result {
	if err := d.validatePair(namespace, app); err != nil {
		return executor.Result{Error: err.Error()}
	}
	if lines <= 0 {
		lines = 100
	}
	command := fmt.Sprintf("kubectl logs deployment/%s -n %s --tail=%d",
		executor.Quote(app), executor.Quote(namespace), lines)
	return d.runner.Run(ctx, command, logsTimeout)
}

// LogsFollow streams the app Deployment's logs line-by-line until ctx is
// cancelled or the process exits.
func (d *Driver) LogsFollow(ctx context.Context, namespace, app string, onLine func(string)) error {
	if err := d.validatePair(namespace, app); err != nil {
		return err
	}
	args := []string{"logs", "-f", "deployment/" + app, "-n", namespace}
	exitCode, err := d.runner.Spawn(ctx, "kubectl", args, onLine)
	if err != nil {
		return fmt.Errorf("log stream failed: %w", err)
	}
	if exitCode != 0 && ctx.Err() == nil {
		return fmt.Errorf("log stream exited with code %d", exitCode)
	}
	return nil
}

// ServerVersion reports the cluster's version string for registration.
func (d *Driver) ServerVersion(ctx context.Context) string {
	result := d.runner.Run(ctx,
		`kubectl version -o json 2>/dev/null | grep gitVersion | tail -n 1 | cut -d'"' -f4`,
		kubectlTimeout)
	if !result.Success {
		d.logger.Debug("kubectl version probe failed", zap.String("error", result.Error))
		return "unknown"
	}
	version := strings.TrimSpace(result.Stdout)
	if version == "" {
		return "unknown"
	}
	return version
}

func (d *Driver) validatePair(namespace, name string) error {
	if err := executor.ValidateName("namespace", namespace); err != nil {
		return err
	}
	return executor.ValidateName("name", name)
}
