package kube

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Database kinds accepted by the manifest renderers.
const (
	DatabasePostgres = "postgres"
	DatabaseMongoDB  = "mongodb"
	DatabaseRedis    = "redis"
)

// Database is the typed input for one managed database instance.
type Database struct {
	Namespace    string
	Name         string
	Type         string
	Version      string
	Username     string
	Password     string
	DatabaseName string
	StorageSize  string
	MemoryLimit  string
}

// profile carries the per-engine constants that vary across database kinds.
type profile struct {
	Port            int
	ImageRepo       string
	MountPath       string
	SubPath         string
	ProbeCommand    []string
	Command         []string
	ReadinessDelay  int
	ReadinessPeriod int
	ProbeTimeout    int
}

var profiles = map[string]profile{
	DatabasePostgres: {
		Port:            5432,
		ImageRepo:       "postgres",
		MountPath:       "/var/lib/postgresql/data",
		SubPath:         "postgres",
		ProbeCommand:    []string{"pg_isready", "-U"},
		ReadinessDelay:  5,
		ReadinessPeriod: 5,
		ProbeTimeout:    5,
	},
	DatabaseMongoDB: {
		Port:            27017,
		ImageRepo:       "mongo",
		MountPath:       "/data/db",
		ProbeCommand:    []string{"mongosh", "--eval", "db.adminCommand('ping')"},
		ReadinessDelay:  10,
		ReadinessPeriod: 10,
		ProbeTimeout:    10,
	},
	DatabaseRedis: {
		Port:            6379,
		ImageRepo:       "redis",
		MountPath:       "/data",
		ProbeCommand:    []string{"redis-cli", "ping"},
		Command:         []string{"redis-server", "--appendonly", "yes", "--requirepass", "$(REDIS_PASSWORD)"},
		ReadinessDelay:  10,
		ReadinessPeriod: 10,
		ProbeTimeout:    10,
	},
}

// Port returns the canonical client port for a database type, 0 when the
// type is unknown.
func Port(dbType string) int {
	return profiles[dbType].Port
}

// escapeYAML makes a value safe inside double-quoted YAML scalars.
func escapeYAML(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// flowList renders a string slice as a YAML flow sequence.
func flowList(items []string) string {
	encoded, _ := json.Marshal(items)
	return string(encoded)
}

var funcs = template.FuncMap{
	"esc": escapeYAML,
}

func render(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("failed to render %s manifest: %w", name, err)
	}
	return out.String(), nil
}

const secretTemplate = `apiVersion: v1
kind: Secret
metadata:
  name: {{.Name}}-secret
  namespace: {{.Namespace}}
  labels:
    app: {{.Name}}
type: Opaque
stringData:
{{- range .Entries}}
  {{.Key}}: "{{esc .Value}}"
{{- end}}
`

type secretEntry struct {
	Key   string
	Value string
}

func secretEntries(db Database) ([]secretEntry, error) {
	switch db.Type {
	case DatabasePostgres:
		return []secretEntry{
			{"POSTGRES_USER", db.Username},
			{"POSTGRES_PASSWORD", db.Password},
			{"POSTGRES_DB", db.DatabaseName},
		}, nil
	case DatabaseMongoDB:
		return []secretEntry{
			{"MONGO_INITDB_ROOT_USERNAME", db.Username},
			{"MONGO_INITDB_ROOT_PASSWORD", db.Password},
			{"MONGO_INITDB_DATABASE", db.DatabaseName},
		}, nil
	case DatabaseRedis:
		return []secretEntry{
			{"REDIS_PASSWORD", db.Password},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", db.Type)
	}
}

// RenderSecret produces the opaque credential Secret for a database.
func RenderSecret(db Database) (string, error) {
	entries, err := secretEntries(db)
	if err != nil {
		return "", err
	}
	return render("secret", secretTemplate, struct {
		Name      string
		Namespace string
		Entries   []secretEntry
	}{db.Name, db.Namespace, entries})
}

const pvcTemplate = `apiVersion: v1
kind: PersistentVolumeClaim
metadata:
  name: {{.Name}}-data
  namespace: {{.Namespace}}
  labels:
    app: {{.Name}}
spec:
  accessModes:
    - ReadWriteOnce
  resources:
    requests:
      storage: "{{esc .StorageSize}}"
`

// RenderPVC produces the persistent volume claim backing a database.
func RenderPVC(db Database) (string, error) {
	size := db.StorageSize
	if size == "" {
		size = "1Gi"
	}
	return render("pvc", pvcTemplate, struct {
		Name      string
		Namespace string
		StorageSize string
	}{db.Name, db.Namespace, size})
}

const statefulSetTemplate = `apiVersion: apps/v1
kind: StatefulSet
metadata:
  name: {{.Name}}
  namespace: {{.Namespace}}
  labels:
    app: {{.Name}}
spec:
  serviceName: {{.Name}}
  replicas: 1
  selector:
    matchLabels:
      app: {{.Name}}
  template:
    metadata:
      labels:
        app: {{.Name}}
    spec:
      containers:
        - name: {{.Type}}
          image: "{{esc .Image}}"
{{- if .Command}}
          command: {{.Command}}
{{- end}}
          ports:
            - containerPort: {{.Port}}
          envFrom:
            - secretRef:
                name: {{.Name}}-secret
          resources:
            limits:
              memory: "{{esc .MemoryLimit}}"
          volumeMounts:
            - name: data
              mountPath: {{.MountPath}}
{{- if .SubPath}}
              subPath: {{.SubPath}}
{{- end}}
          readinessProbe:
            exec:
              command: {{.ProbeCommand}}
            initialDelaySeconds: {{.ReadinessDelay}}
            periodSeconds: {{.ReadinessPeriod}}
            timeoutSeconds: {{.ProbeTimeout}}
          livenessProbe:
            exec:
              command: {{.ProbeCommand}}
            initialDelaySeconds: 30
            periodSeconds: 10
            timeoutSeconds: {{.ProbeTimeout}}
      volumes:
        - name: data
          persistentVolumeClaim:
            claimName: {{.Name}}-data
`

// RenderStatefulSet produces the single-replica StatefulSet running the
// database engine. The redis variant carries its password as an env
// reference inside the container command so the rendered text never holds
// the credential.
func RenderStatefulSet(db Database) (string, error) {
	prof, ok := profiles[db.Type]
	if !ok {
		return "", fmt.Errorf("unsupported database type %q", db.Type)
	}

	version := db.Version
	if version == "" {
		version = "latest"
	}
	memory := db.MemoryLimit
	if memory == "" {
		memory = "512Mi"
	}

	probe := prof.ProbeCommand
	if db.Type == DatabasePostgres {
		probe = append(append([]string{}, probe...), db.Username)
	}

	data := struct {
		Name            string
		Namespace       string
		Type            string
		Image           string
		Command         string
		Port            int
		MemoryLimit     string
		MountPath       string
		SubPath         string
		ProbeCommand    string
		ReadinessDelay  int
		ReadinessPeriod int
		ProbeTimeout    int
	}{
		Name:            db.Name,
		Namespace:       db.Namespace,
		Type:            db.Type,
		Image:           fmt.Sprintf("%s:%s", prof.ImageRepo, version),
		Port:            prof.Port,
		MemoryLimit:     memory,
		MountPath:       prof.MountPath,
		SubPath:         prof.SubPath,
		ProbeCommand:    flowList(probe),
		ReadinessDelay:  prof.ReadinessDelay,
		ReadinessPeriod: prof.ReadinessPeriod,
		ProbeTimeout:    prof.ProbeTimeout,
	}
	if len(prof.Command) > 0 {
		data.Command = flowList(prof.Command)
	}
	return render("statefulset", statefulSetTemplate, data)
}

const headlessServiceTemplate = `apiVersion: v1
kind: Service
metadata:
  name: {{.Name}}
  namespace: {{.Namespace}}
  labels:
    app: {{.Name}}
spec:
  clusterIP: None
  selector:
    app: {{.Name}}
  ports:
    - name: {{.Type}}
      port: {{.Port}}
      targetPort: {{.Port}}
`

// RenderHeadlessService produces the stable in-cluster DNS endpoint for a
// database StatefulSet.
func RenderHeadlessService(db Database) (string, error) {
	prof, ok := profiles[db.Type]
	if !ok {
		return "", fmt.Errorf("unsupported database type %q", db.Type)
	}
	return render("service", headlessServiceTemplate, struct {
		Name      string
		Namespace string
		Type      string
		Port      int
	}{db.Name, db.Namespace, db.Type, prof.Port})
}

// IngressSpec is the typed input for an HTTPS app ingress.
type IngressSpec struct {
	Namespace string
	AppName   string
	Host      string
	Port      int
}

const ingressTemplate = `apiVersion: networking.k8s.io/v1
kind: Ingress
metadata:
  name: {{.Name}}
  namespace: {{.Namespace}}
  labels:
    app: {{.AppName}}
  annotations:
    cert-manager.io/cluster-issuer: letsencrypt-prod
spec:
  ingressClassName: traefik
  tls:
    - hosts:
        - "{{esc .Host}}"
      secretName: {{.Name}}-tls
  rules:
    - host: "{{esc .Host}}"
      http:
        paths:
          - path: /
            pathType: Prefix
            backend:
              service:
                name: {{.AppName}}
                port:
                  number: {{.Port}}
`

// RenderIngress produces an HTTPS ingress with automatic certificate
// issuance for one host.
func RenderIngress(spec IngressSpec) (string, error) {
	return render("ingress", ingressTemplate, struct {
		Name      string
		Namespace string
		AppName   string
		Host      string
		Port      int
	}{IngressName(spec.AppName, spec.Host), spec.Namespace, spec.AppName, spec.Host, spec.Port})
}

// IngressName derives a per-host object name so multiple custom domains on
// one app never collide.
func IngressName(appName, host string) string {
	slug := strings.NewReplacer(".", "-", "*", "wildcard").Replace(strings.ToLower(host))
	return fmt.Sprintf("%s-%s", appName, slug)
}

// TCPRouteSpec is the typed input for an SNI pass-through route exposing a
// database outside the cluster.
type TCPRouteSpec struct {
	Namespace   string
	Name        string
	Host        string
	ServiceName string
	Port        int
}

const ingressRouteTCPTemplate = `apiVersion: traefik.io/v1alpha1
kind: IngressRouteTCP
metadata:
  name: {{.Name}}
  namespace: {{.Namespace}}
spec:
  entryPoints:
    - websecure
  routes:
    - match: HostSNI(` + "`{{.Host}}`" + `)
      services:
        - name: {{.ServiceName}}
          port: {{.Port}}
  tls:
    passthrough: true
`

// RenderIngressRouteTCP produces the SNI-routed TLS pass-through object.
// The host lands inside a backtick literal, so embedded backticks are
// rejected rather than escaped.
func RenderIngressRouteTCP(spec TCPRouteSpec) (string, error) {
	if strings.ContainsAny(spec.Host, "`\"") {
		return "", fmt.Errorf("invalid SNI host %q", spec.Host)
	}
	return render("ingressroutetcp", ingressRouteTCPTemplate, spec)
}
