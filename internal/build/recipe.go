package build

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	nodeImage       = "node:20-alpine"
	nodeLegacyImage = "node:16-alpine"
	nginxImage      = "nginx:alpine"

	// Tolerates whichever lockfiles the repo actually has.
	lockfileCopy = "COPY package.json package-lock.json* yarn.lock* pnpm-lock.yaml* pnpm-workspace.yaml* .npmrc* ./"
)

// legacyWebpackFrameworks need the OpenSSL legacy provider under Node 17+.
var legacyWebpackFrameworks = map[string]bool{
	FrameworkReact:   true,
	FrameworkAngular: true,
	FrameworkVue:     true,
}

var staticFrameworks = map[string]bool{
	FrameworkAngular:    true,
	FrameworkReact:      true,
	FrameworkReactVite:  true,
	FrameworkVue:        true,
	FrameworkVueVite:    true,
	FrameworkSvelteVite: true,
	FrameworkVite:       true,
	FrameworkStatic:     true,
}

// Recipe is a generated container build definition plus any advisory
// messages produced while selecting it.
type Recipe struct {
	Dockerfile string
	Warnings   []string
}

// GenerateRecipe renders the multi-stage build definition for the given
// spec and detection. Rendering is pure: identical inputs give identical
// bytes.
func GenerateRecipe(spec Spec, det Detection) Recipe {
	var warnings []string
	if !det.HasLockfile {
		warnings = append(warnings,
			fmt.Sprintf("no %s lockfile found, falling back to a non-frozen install", det.PackageManager))
	}

	framework := det.Framework
	if framework == "" {
		framework = spec.Framework
	}

	var dockerfile string
	switch {
	case framework == FrameworkNextJS:
		dockerfile = nextRecipe(spec, det)
	case framework == FrameworkNuxt:
		if det.NuxtMajor <= 2 {
			dockerfile = nuxt2Recipe(spec, det)
		} else {
			dockerfile = nuxt3Recipe(spec, det)
		}
	case framework == FrameworkNestJS:
		dockerfile = nestRecipe(spec, det)
	case framework == FrameworkSvelte:
		dockerfile = svelteClassicRecipe(spec, det)
	case staticFrameworks[framework]:
		dockerfile = staticRecipe(spec, det, framework)
	default:
		dockerfile = nodeRecipe(spec, det)
	}

	return Recipe{Dockerfile: dockerfile, Warnings: warnings}
}

// installLines returns the commands for the dependency install phase.
// pnpm needs a global install first; a present lockfile makes the install
// frozen.
func installLines(pm string, frozen bool) []string {
	switch pm {
	case ManagerPNPM:
		install := "RUN pnpm install"
		if frozen {
			install = "RUN pnpm install --frozen-lockfile"
		}
		return []string{"RUN npm install -g pnpm", install}
	case ManagerYarn:
		if frozen {
			return []string{"RUN yarn install --frozen-lockfile"}
		}
		return []string{"RUN yarn install"}
	default:
		if frozen {
			return []string{"RUN npm ci"}
		}
		return []string{"RUN npm install"}
	}
}

func productionInstallLines(pm string) []string {
	switch pm {
	case ManagerPNPM:
		return []string{"RUN npm install -g pnpm", "RUN pnpm install --prod"}
	case ManagerYarn:
		return []string{"RUN yarn install --production"}
	default:
		return []string{"RUN npm install --omit=dev"}
	}
}

func pruneLine(pm string) string {
	switch pm {
	case ManagerPNPM:
		return "RUN npm install -g pnpm && pnpm prune --prod"
	case ManagerYarn:
		return "RUN yarn install --production --ignore-scripts --prefer-offline"
	default:
		return "RUN npm prune --omit=dev"
	}
}

func runScript(pm, script string) string {
	return fmt.Sprintf("%s run %s", pm, script)
}

func buildCommand(spec Spec, pm string) string {
	if spec.BuildCommand != "" {
		return spec.BuildCommand
	}
	return runScript(pm, "build")
}

// envLines renders build-time environment in sorted key order so the
// recipe stays byte-deterministic.
func envLines(envVars map[string]string) []string {
	if len(envVars) == 0 {
		return nil
	}
	keys := make([]string, 0, len(envVars))
	for k := range envVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("ENV %s=%q", k, envVars[k]))
	}
	return lines
}

// entrypointJSON splits a start command on whitespace into the exec-form
// array.
func entrypointJSON(startCommand string) string {
	parts := strings.Fields(startCommand)
	encoded, _ := json.Marshal(parts)
	return string(encoded)
}

func joinRecipe(sections ...[]string) string {
	var lines []string
	for _, s := range sections {
		lines = append(lines, s...)
	}
	return strings.Join(lines, "\n") + "\n"
}

func builderHead(image string, det Detection) []string {
	lines := []string{
		"FROM " + image + " AS builder",
		"WORKDIR /app",
		lockfileCopy,
	}
	lines = append(lines, installLines(det.PackageManager, det.HasLockfile)...)
	lines = append(lines, "COPY . .")
	return lines
}

// staticRecipe builds under Node, locates the directory holding index.html
// beneath the declared output directory (Angular 17+ nests it under
// browser/), stages it at /app/_output, and serves it with nginx.
func staticRecipe(spec Spec, det Detection, framework string) string {
	head := builderHead(nodeImage, det)

	var env []string
	if legacyWebpackFrameworks[framework] {
		env = append(env, "ENV NODE_OPTIONS=--openssl-legacy-provider")
	}
	if framework == FrameworkReact {
		env = append(env, "ENV PUBLIC_URL=/")
	}
	env = append(env, envLines(spec.EnvVars)...)

	outputDir := det.OutputDir
	if outputDir == "" {
		outputDir = "dist"
	}

	build := []string{
		"RUN " + buildCommand(spec, det.PackageManager),
		fmt.Sprintf(`RUN OUT=$(find /app/%s -name index.html | head -n 1) && cp -r "$(dirname "$OUT")" /app/_output`, outputDir),
	}

	runtime := []string{
		"",
		"FROM " + nginxImage,
		"COPY --from=builder /app/_output /usr/share/nginx/html",
		"EXPOSE 80",
		`CMD ["nginx", "-g", "daemon off;"]`,
	}

	return joinRecipe(head, env, build, runtime)
}

// svelteClassicRecipe handles pre-Vite Svelte, where the bundle lands next
// to the committed assets in public/.
func svelteClassicRecipe(spec Spec, det Detection) string {
	head := builderHead(nodeImage, det)
	build := append(envLines(spec.EnvVars),
		"RUN "+buildCommand(spec, det.PackageManager),
	)
	runtime := []string{
		"",
		"FROM " + nginxImage,
		"COPY --from=builder /app/public /usr/share/nginx/html",
		"EXPOSE 80",
		`CMD ["nginx", "-g", "daemon off;"]`,
	}
	return joinRecipe(head, build, runtime)
}

func nextRecipe(spec Spec, det Detection) string {
	head := builderHead(nodeImage, det)
	build := append(envLines(spec.EnvVars),
		"RUN mkdir -p public",
		"RUN "+buildCommand(spec, det.PackageManager),
	)
	runtime := []string{
		"",
		"FROM " + nodeImage,
		"WORKDIR /app",
		"COPY --from=builder /app/.next ./.next",
		"COPY --from=builder /app/node_modules ./node_modules",
		"COPY --from=builder /app/package.json ./package.json",
		"COPY --from=builder /app/public ./public",
		"EXPOSE 3000",
		fmt.Sprintf(`CMD ["%s", "run", "start"]`, det.PackageManager),
	}
	return joinRecipe(head, build, runtime)
}

func nuxt2Recipe(spec Spec, det Detection) string {
	lines := []string{
		"FROM " + nodeLegacyImage,
		"WORKDIR /app",
		lockfileCopy,
	}
	lines = append(lines, installLines(det.PackageManager, det.HasLockfile)...)
	lines = append(lines, "COPY . .")
	lines = append(lines, envLines(spec.EnvVars)...)
	lines = append(lines,
		"RUN "+buildCommand(spec, det.PackageManager),
		"ENV HOST=0.0.0.0",
		"EXPOSE 3000",
		`CMD ["npx", "nuxt", "start"]`,
	)
	return joinRecipe(lines)
}

func nuxt3Recipe(spec Spec, det Detection) string {
	head := builderHead(nodeImage, det)
	build := append(envLines(spec.EnvVars),
		"RUN "+buildCommand(spec, det.PackageManager),
	)
	runtime := []string{
		"",
		"FROM " + nodeImage,
		"WORKDIR /app",
		"COPY --from=builder /app/.output ./.output",
		"COPY --from=builder /app/package*.json ./",
		"EXPOSE 3000",
		`CMD ["node", ".output/server/index.mjs"]`,
	}
	return joinRecipe(head, build, runtime)
}

// nestRecipe keeps dev dependencies in the builder so `nest build` has its
// CLI, then ships dist with the full module tree.
func nestRecipe(spec Spec, det Detection) string {
	head := builderHead(nodeImage, det)
	build := append(envLines(spec.EnvVars),
		"RUN "+buildCommand(spec, det.PackageManager),
	)
	port := spec.Port
	if port == 0 {
		port = 3000
	}
	runtime := []string{
		"",
		"FROM " + nodeImage,
		"WORKDIR /app",
		"COPY --from=builder /app/dist ./dist",
		"COPY --from=builder /app/node_modules ./node_modules",
		"COPY --from=builder /app/package.json ./package.json",
		fmt.Sprintf("EXPOSE %d", port),
		`CMD ["node", "dist/main"]`,
	}
	return joinRecipe(head, build, runtime)
}

// nodeRecipe covers plain Node services: two stages with a dev-dependency
// prune when a build step exists, a single production-only stage when not.
func nodeRecipe(spec Spec, det Detection) string {
	port := spec.Port
	if port == 0 {
		port = 3000
	}
	start := spec.StartCommand
	if start == "" {
		start = "node index.js"
	}

	if spec.BuildCommand != "" {
		head := builderHead(nodeImage, det)
		build := append(envLines(spec.EnvVars),
			"RUN "+spec.BuildCommand,
		)
		runtime := []string{
			"",
			"FROM " + nodeImage,
			"WORKDIR /app",
			"COPY --from=builder /app ./",
			pruneLine(det.PackageManager),
			fmt.Sprintf("EXPOSE %d", port),
			"CMD " + entrypointJSON(start),
		}
		return joinRecipe(head, build, runtime)
	}

	lines := []string{
		"FROM " + nodeImage,
		"WORKDIR /app",
		lockfileCopy,
	}
	lines = append(lines, productionInstallLines(det.PackageManager)...)
	lines = append(lines, "COPY . .")
	lines = append(lines, envLines(spec.EnvVars)...)
	lines = append(lines,
		fmt.Sprintf("EXPOSE %d", port),
		"CMD "+entrypointJSON(start),
	)
	return joinRecipe(lines)
}
