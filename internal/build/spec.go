package build

// Supported frameworks.
const (
	FrameworkAngular    = "angular"
	FrameworkReact      = "react"
	FrameworkReactVite  = "react-vite"
	FrameworkVue        = "vue"
	FrameworkVueVite    = "vue-vite"
	FrameworkSvelte     = "svelte"
	FrameworkSvelteVite = "svelte-vite"
	FrameworkVite       = "vite"
	FrameworkNextJS     = "nextjs"
	FrameworkNuxt       = "nuxt"
	FrameworkNodeJS     = "nodejs"
	FrameworkNestJS     = "nestjs"
	FrameworkDocker     = "docker"
	FrameworkStatic     = "static"
)

// Spec is the typed input to the build engine.
type Spec struct {
	AppName         string            `json:"appName"`
	DeploymentID    string            `json:"deploymentId"`
	GitRepoURL      string            `json:"gitRepoUrl"`
	GitBranch       string            `json:"gitBranch"`
	GitToken        string            `json:"gitToken,omitempty"`
	Framework       string            `json:"framework"`
	BuildCommand    string            `json:"buildCommand,omitempty"`
	StartCommand    string            `json:"startCommand,omitempty"`
	OutputDirectory string            `json:"outputDirectory,omitempty"`
	Port            int               `json:"port"`
	EnvVars         map[string]string `json:"envVars,omitempty"`
}

// Artifact is the build pipeline's outcome. On success ImageName is fully
// qualified and resolvable by the cluster runtime after import.
type Artifact struct {
	Success     bool   `json:"success"`
	ImageName   string `json:"imageName,omitempty"`
	ExposedPort int    `json:"exposedPort,omitempty"`
	Logs        string `json:"logs,omitempty"`
	Error       string `json:"error,omitempty"`
}
