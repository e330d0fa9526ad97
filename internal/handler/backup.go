package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/executor"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/kube"
)

const (
	dumpTimeout     = 10 * time.Minute
	transferTimeout = 10 * time.Minute

	backupStatusInProgress = "in_progress"
	backupStatusUploading  = "uploading"
	backupStatusRestoring  = "restoring"
	backupStatusCompleted  = "completed"
	backupStatusFailed     = "failed"
)

// handleCreateBackup dumps the database inside its pod, copies the archive
// to the node, and PUTs it to the pre-signed object-store URL issued by
// the control plane. Temp files on both sides are removed best-effort.
func (p *Processor) handleCreateBackup(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[BackupPayload](raw)
	if err != nil {
		return failure(err)
	}

	fail := func(err error) communicator.CommandResult {
		p.updateBackupStatus(ctx, payload.BackupID, backupStatusFailed, err.Error())
		return failure(err)
	}

	p.updateBackupStatus(ctx, payload.BackupID, backupStatusInProgress, "")

	pod, err := p.driver.FirstPodName(ctx, payload.Namespace, payload.Name)
	if err != nil {
		return fail(err)
	}

	archivePath := "/tmp/backup-" + payload.BackupID
	dumpCmd, err := dumpCommand(payload, archivePath)
	if err != nil {
		return fail(err)
	}

	defer p.cleanupPodFile(payload.Namespace, pod, archivePath)
	if result := p.driver.ExecInPod(ctx, payload.Namespace, pod, dumpCmd, dumpTimeout); !result.Success {
		return fail(fmt.Errorf("database dump failed: %s: %s", result.Error, result.Stderr))
	}

	defer p.cleanupLocalFile(archivePath)
	if result := p.driver.CopyFromPod(ctx, payload.Namespace, pod, archivePath, archivePath); !result.Success {
		return fail(fmt.Errorf("archive copy failed: %s: %s", result.Error, result.Stderr))
	}

	uploadURL, err := p.client.BackupUploadURL(ctx, payload.BackupID)
	if err != nil {
		return fail(fmt.Errorf("failed to obtain upload url: %w", err))
	}

	p.updateBackupStatus(ctx, payload.BackupID, backupStatusUploading, "")
	if err := uploadFile(ctx, uploadURL, archivePath); err != nil {
		return fail(fmt.Errorf("archive upload failed: %w", err))
	}

	p.updateBackupStatus(ctx, payload.BackupID, backupStatusCompleted, "")
	return communicator.CommandResult{Success: true}
}

// handleRestoreBackup downloads the archive from the pre-signed URL,
// copies it into the pod, and runs the matching restore tool.
func (p *Processor) handleRestoreBackup(ctx context.Context, raw json.RawMessage) communicator.CommandResult {
	payload, err := decode[RestorePayload](raw)
	if err != nil {
		return failure(err)
	}

	fail := func(err error) communicator.CommandResult {
		p.updateBackupStatus(ctx, payload.BackupID, backupStatusFailed, err.Error())
		return failure(err)
	}

	p.updateBackupStatus(ctx, payload.BackupID, backupStatusRestoring, "")

	pod, err := p.driver.FirstPodName(ctx, payload.Namespace, payload.Name)
	if err != nil {
		return fail(err)
	}

	archivePath := "/tmp/restore-" + payload.BackupID
	defer p.cleanupLocalFile(archivePath)
	if err := downloadFile(ctx, payload.DownloadURL, archivePath); err != nil {
		return fail(fmt.Errorf("archive download failed: %w", err))
	}

	defer p.cleanupPodFile(payload.Namespace, pod, archivePath)
	if result := p.driver.CopyToPod(ctx, payload.Namespace, pod, archivePath, archivePath); !result.Success {
		return fail(fmt.Errorf("archive copy failed: %s: %s", result.Error, result.Stderr))
	}

	restoreCmd, err := restoreCommand(payload, archivePath)
	if err != nil {
		return fail(err)
	}
	if result := p.driver.ExecInPod(ctx, payload.Namespace, pod, restoreCmd, dumpTimeout); !result.Success {
		return fail(fmt.Errorf("database restore failed: %s: %s", result.Error, result.Stderr))
	}

	// Redis only loads the dump file at startup.
	if payload.Type == kube.DatabaseRedis {
		if result := p.driver.RestartStatefulSet(ctx, payload.Namespace, payload.Name); !result.Success {
			return fail(fmt.Errorf("restart after restore failed: %s", result.Error))
		}
	}

	p.updateBackupStatus(ctx, payload.BackupID, backupStatusCompleted, "")
	return communicator.CommandResult{Success: true}
}

func dumpCommand(payload BackupPayload, archivePath string) (string, error) {
	switch payload.Type {
	case kube.DatabasePostgres:
		return fmt.Sprintf("PGPASSWORD=%s pg_dump -U %s -d %s -F c -f %s",
			executor.Quote(payload.Password),
			executor.Quote(payload.Username),
			executor.Quote(payload.DatabaseName),
			executor.Quote(archivePath),
		), nil
	case kube.DatabaseMongoDB:
		return fmt.Sprintf("mongodump --username %s --password %s --authenticationDatabase admin --db %s --archive=%s --gzip",
			executor.Quote(payload.Username),
			executor.Quote(payload.Password),
			executor.Quote(payload.DatabaseName),
			executor.Quote(archivePath),
		), nil
	case kube.DatabaseRedis:
		auth := executor.Quote(payload.Password)
		return fmt.Sprintf(
			`redis-cli -a %s BGSAVE && while [ "$(redis-cli -a %s INFO persistence | tr -d '\r' | grep rdb_bgsave_in_progress | cut -d: -f2)" != "0" ]; do sleep 1; done && cp /data/dump.rdb %s`,
			auth, auth, executor.Quote(archivePath),
		), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", payload.Type)
	}
}

func restoreCommand(payload RestorePayload, archivePath string) (string, error) {
	switch payload.Type {
	case kube.DatabasePostgres:
		return fmt.Sprintf("PGPASSWORD=%s pg_restore -U %s -d %s --clean --if-exists %s",
			executor.Quote(payload.Password),
			executor.Quote(payload.Username),
			executor.Quote(payload.DatabaseName),
			executor.Quote(archivePath),
		), nil
	case kube.DatabaseMongoDB:
		return fmt.Sprintf("mongorestore --username %s --password %s --authenticationDatabase admin --archive=%s --gzip --drop",
			executor.Quote(payload.Username),
			executor.Quote(payload.Password),
			executor.Quote(archivePath),
		), nil
	case kube.DatabaseRedis:
		return fmt.Sprintf("cp %s /data/dump.rdb", executor.Quote(archivePath)), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", payload.Type)
	}
}

func uploadFile(ctx context.Context, url, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, file)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("object store returned status %d", resp.StatusCode)
	}
	return nil
}

func downloadFile(ctx context.Context, url, path string) error {
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("object store returned status %d", resp.StatusCode)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

func (p *Processor) updateBackupStatus(ctx context.Context, backupID, status, message string) {
	if err := p.client.UpdateBackupStatus(ctx, backupID, status, message); err != nil {
		p.logger.Debug("backup status update failed",
			zap.String("backup_id", backupID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// cleanupPodFile removes a temp file inside the pod; failures are logged
// and swallowed.
func (p *Processor) cleanupPodFile(namespace, pod, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result := p.driver.ExecInPod(ctx, namespace, pod, "rm -f "+executor.Quote(path), 30*time.Second)
	if !result.Success {
		p.logger.Debug("in-pod cleanup failed",
			zap.String("pod", pod),
			zap.String("path", path),
			zap.String("error", result.Error),
		)
	}
}

func (p *Processor) cleanupLocalFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Debug("local cleanup failed", zap.String("path", path), zap.Error(err))
	}
}
