package handler

import (
	"encoding/json"
	"fmt"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/build"
)

// Command kinds the dispatcher routes.
const (
	KindDeploy                = "DEPLOY"
	KindStop                  = "STOP"
	KindRestart               = "RESTART"
	KindDelete                = "DELETE"
	KindCreateNamespace       = "CREATE_NAMESPACE"
	KindUpdateEnv             = "UPDATE_ENV"
	KindAddCustomDomain       = "ADD_CUSTOM_DOMAIN"
	KindRemoveCustomDomain    = "REMOVE_CUSTOM_DOMAIN"
	KindCreateDatabase        = "CREATE_DATABASE"
	KindDeleteDatabase        = "DELETE_DATABASE"
	KindUpdateDBPassword      = "UPDATE_DATABASE_PASSWORD"
	KindEnableExternalAccess  = "ENABLE_DATABASE_EXTERNAL_ACCESS"
	KindDisableExternalAccess = "DISABLE_DATABASE_EXTERNAL_ACCESS"
	KindCreateBackup          = "CREATE_BACKUP"
	KindRestoreBackup         = "RESTORE_BACKUP"
)

// DeployPayload carries the build spec plus the rollout target.
type DeployPayload struct {
	build.Spec
	Namespace string `json:"namespace"`
	Domain    string `json:"domain,omitempty"`
}

// AppPayload addresses one deployed application.
type AppPayload struct {
	Namespace string `json:"namespace"`
	AppName   string `json:"appName"`
}

// NamespacePayload provisions a tenant namespace, optionally with a
// registry pull token for the helper script to install.
type NamespacePayload struct {
	Namespace     string `json:"namespace"`
	RegistryToken string `json:"registryToken,omitempty"`
}

// EnvPayload replaces an app's environment variables.
type EnvPayload struct {
	Namespace string            `json:"namespace"`
	AppName   string            `json:"appName"`
	EnvVars   map[string]string `json:"envVars"`
}

// DomainPayload adds or removes one custom host on an app.
type DomainPayload struct {
	Namespace string `json:"namespace"`
	AppName   string `json:"appName"`
	Domain    string `json:"domain"`
	Port      int    `json:"port"`
}

// DatabasePayload creates a managed database instance.
type DatabasePayload struct {
	Namespace    string `json:"namespace"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Version      string `json:"version,omitempty"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`
	StorageSize  string `json:"storageSize,omitempty"`
	MemoryLimit  string `json:"memoryLimit,omitempty"`
}

// DatabaseRefPayload addresses an existing database instance.
type DatabaseRefPayload struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Type      string `json:"type"`
}

// PasswordPayload rotates a database credential.
type PasswordPayload struct {
	Namespace    string `json:"namespace"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Username     string `json:"username"`
	DatabaseName string `json:"databaseName"`
	NewPassword  string `json:"newPassword"`
}

// ExternalAccessPayload opens or closes SNI-routed access to a database.
type ExternalAccessPayload struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Host      string `json:"host"`
}

// BackupPayload drives a dump-and-upload cycle.
type BackupPayload struct {
	BackupID     string `json:"backupId"`
	Namespace    string `json:"namespace"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`
}

// RestorePayload drives a download-and-restore cycle.
type RestorePayload struct {
	BackupID     string `json:"backupId"`
	Namespace    string `json:"namespace"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`
	DownloadURL  string `json:"downloadUrl"`
}

func decode[T any](raw json.RawMessage) (T, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("invalid payload: %w", err)
	}
	return payload, nil
}
