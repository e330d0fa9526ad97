package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Package managers in lockfile priority order.
const (
	ManagerPNPM = "pnpm"
	ManagerYarn = "yarn"
	ManagerNPM  = "npm"
)

var portPatterns = []*regexp.Regexp{
	regexp.MustCompile(`PORT=(\d+)`),
	regexp.MustCompile(`--port[= ](\d+)`),
	regexp.MustCompile(`(?:^|\s)-p[= ](\d+)`),
}

var staticServerBins = []string{"serve", "live-server", "http-server"}

var staticOutputCandidates = []string{"dist", "build", "public", "out", "_site", "www"}

// Detection is what probing the cloned tree yields.
type Detection struct {
	Framework      string
	PackageManager string
	HasLockfile    bool
	Port           int
	NuxtMajor      int
	OutputDir      string
	HasDockerfile  bool
}

type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Detect probes the cloned repository and refines the build spec: package
// manager by lockfile, dev-server port from scripts, Nuxt major version,
// and static-site demotion for build-only Node projects.
func Detect(dir string, spec Spec) (Detection, error) {
	det := Detection{
		Framework: spec.Framework,
		NuxtMajor: 3,
	}

	switch {
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		det.PackageManager = ManagerPNPM
		det.HasLockfile = true
	case fileExists(filepath.Join(dir, "yarn.lock")):
		det.PackageManager = ManagerYarn
		det.HasLockfile = true
	default:
		det.PackageManager = ManagerNPM
		det.HasLockfile = fileExists(filepath.Join(dir, "package-lock.json"))
	}

	det.HasDockerfile = fileExists(filepath.Join(dir, "Dockerfile"))

	pkg, err := readPackageJSON(dir)
	if err != nil {
		if spec.Framework == FrameworkDocker || spec.Framework == FrameworkStatic {
			return det, nil
		}
		return det, err
	}

	det.Port = detectPort(pkg.Scripts)

	if spec.Framework == FrameworkNuxt {
		det.NuxtMajor = nuxtMajorVersion(pkg.Dependencies["nuxt"])
	}

	if shouldDemoteToStatic(spec.Framework, pkg.Scripts) {
		det.Framework = FrameworkStatic
	}

	det.OutputDir = resolveOutputDir(dir, spec.OutputDirectory)

	return det, nil
}

func readPackageJSON(dir string) (*packageJSON, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	return &pkg, nil
}

// detectPort scans the start script, then the dev script, for the first
// PORT=, --port, or -p value.
func detectPort(scripts map[string]string) int {
	for _, name := range []string{"start", "dev"} {
		script, ok := scripts[name]
		if !ok {
			continue
		}
		for _, pattern := range portPatterns {
			if m := pattern.FindStringSubmatch(script); m != nil {
				var port int
				fmt.Sscanf(m[1], "%d", &port)
				return port
			}
		}
	}
	return 0
}

// nuxtMajorVersion extracts the first digit of a version range like
// "^2.15.0" or "~3.4.1". Anything without a digit defaults to 3.
func nuxtMajorVersion(rangeSpec string) int {
	for _, c := range rangeSpec {
		if c >= '0' && c <= '9' {
			return int(c - '0')
		}
	}
	return 3
}

// shouldDemoteToStatic reclassifies nodejs/static projects that only ever
// produce a build directory: no start script, a start script that runs a
// local static file server, or a start script that just re-runs the build.
func shouldDemoteToStatic(framework string, scripts map[string]string) bool {
	if framework != FrameworkNodeJS && framework != FrameworkStatic {
		return false
	}
	if _, hasBuild := scripts["build"]; !hasBuild {
		return false
	}

	start, hasStart := scripts["start"]
	if !hasStart {
		return true
	}
	for _, field := range strings.Fields(start) {
		for _, bin := range staticServerBins {
			if field == bin {
				return true
			}
		}
	}
	trimmed := strings.TrimSpace(start)
	for _, pm := range []string{"npm", "yarn", "pnpm"} {
		if trimmed == pm+" run build" {
			return true
		}
	}
	return false
}

// resolveOutputDir picks the declared directory, else the first candidate
// present in the tree, else dist.
func resolveOutputDir(dir, declared string) string {
	if declared != "" {
		return declared
	}
	for _, candidate := range staticOutputCandidates {
		if dirExists(filepath.Join(dir, candidate)) {
			return candidate
		}
	}
	return "dist"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
