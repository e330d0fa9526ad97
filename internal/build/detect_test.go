package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestDetectPackageManagerPriority(t *testing.T) {
	cases := []struct {
		name        string
		files       map[string]string
		wantPM      string
		wantLocked  bool
	}{
		{
			name:       "pnpm wins over yarn",
			files:      map[string]string{"pnpm-lock.yaml": "", "yarn.lock": "", "package.json": "{}"},
			wantPM:     ManagerPNPM,
			wantLocked: true,
		},
		{
			name:       "yarn over npm",
			files:      map[string]string{"yarn.lock": "", "package-lock.json": "", "package.json": "{}"},
			wantPM:     ManagerYarn,
			wantLocked: true,
		},
		{
			name:       "npm with lockfile",
			files:      map[string]string{"package-lock.json": "", "package.json": "{}"},
			wantPM:     ManagerNPM,
			wantLocked: true,
		},
		{
			name:       "npm without lockfile",
			files:      map[string]string{"package.json": "{}"},
			wantPM:     ManagerNPM,
			wantLocked: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeTree(t, tc.files)
			det, err := Detect(dir, Spec{Framework: FrameworkNodeJS})
			require.NoError(t, err)
			assert.Equal(t, tc.wantPM, det.PackageManager)
			assert.Equal(t, tc.wantLocked, det.HasLockfile)
		})
	}
}

func TestDetectPortPatterns(t *testing.T) {
	cases := map[string]int{
		"PORT=5006 node server.js":     5006,
		"next dev --port=5006":         5006,
		"next dev --port 5006":         5006,
		"serve -p 5006":                5006,
		"serve -p=5006":                5006,
		"node server.js":               0,
		"node server.js --portal 9999": 0,
	}

	for script, want := range cases {
		assert.Equal(t, want, detectPort(map[string]string{"start": script}), script)
	}
}

func TestDetectPortPrefersStartOverDev(t *testing.T) {
	port := detectPort(map[string]string{
		"start": "PORT=4000 node server.js",
		"dev":   "PORT=5000 node server.js",
	})
	assert.Equal(t, 4000, port)

	port = detectPort(map[string]string{
		"dev": "PORT=5000 node server.js",
	})
	assert.Equal(t, 5000, port)
}

func TestNuxtMajorVersion(t *testing.T) {
	assert.Equal(t, 2, nuxtMajorVersion("^2.15.0"))
	assert.Equal(t, 3, nuxtMajorVersion("~3.4.1"))
	assert.Equal(t, 3, nuxtMajorVersion("latest"))
	assert.Equal(t, 3, nuxtMajorVersion(""))
}

func TestDetectNuxtVersion(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"package.json": `{"dependencies": {"nuxt": "^2.15.0"}}`,
	})
	det, err := Detect(dir, Spec{Framework: FrameworkNuxt})
	require.NoError(t, err)
	assert.Equal(t, 2, det.NuxtMajor)
}

func TestStaticDemotion(t *testing.T) {
	cases := []struct {
		name    string
		scripts string
		demoted bool
	}{
		{"build without start", `{"build": "webpack"}`, true},
		{"start runs serve", `{"build": "webpack", "start": "serve -s dist"}`, true},
		{"start runs live-server", `{"build": "webpack", "start": "live-server dist"}`, true},
		{"start re-runs build", `{"build": "webpack", "start": "npm run build"}`, true},
		{"real server", `{"build": "webpack", "start": "node server.js"}`, false},
		{"no build script", `{"start": "node server.js"}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeTree(t, map[string]string{
				"package.json": `{"scripts": ` + tc.scripts + `}`,
			})
			det, err := Detect(dir, Spec{Framework: FrameworkNodeJS})
			require.NoError(t, err)
			if tc.demoted {
				assert.Equal(t, FrameworkStatic, det.Framework)
			} else {
				assert.Equal(t, FrameworkNodeJS, det.Framework)
			}
		})
	}
}

func TestResolveOutputDir(t *testing.T) {
	dir := writeTree(t, map[string]string{"package.json": "{}"})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "build"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0755))

	// First existing candidate in order wins.
	assert.Equal(t, "build", resolveOutputDir(dir, ""))
	// A declared directory always wins.
	assert.Equal(t, "custom", resolveOutputDir(dir, "custom"))
	// Nothing present falls back to dist.
	assert.Equal(t, "dist", resolveOutputDir(t.TempDir(), ""))
}

func TestDetectMissingPackageJSON(t *testing.T) {
	dir := t.TempDir()

	_, err := Detect(dir, Spec{Framework: FrameworkNodeJS})
	assert.Error(t, err)

	// docker and static projects do not need one.
	det, err := Detect(dir, Spec{Framework: FrameworkDocker})
	require.NoError(t, err)
	assert.Equal(t, FrameworkDocker, det.Framework)

	_, err = Detect(dir, Spec{Framework: FrameworkStatic})
	require.NoError(t, err)
}

func TestDetectDockerfilePresence(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"Dockerfile":   "FROM alpine",
		"package.json": "{}",
	})
	det, err := Detect(dir, Spec{Framework: FrameworkDocker})
	require.NoError(t, err)
	assert.True(t, det.HasDockerfile)
}
