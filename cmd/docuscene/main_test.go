package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a config that keeps every path inside dir and runs
// without network providers.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := `
log:
    server:
        path: "` + filepath.Join(dir, "logs", "server.log") + `"
        level: "debug"
    requests:
        path: "` + filepath.Join(dir, "logs", "requests.log") + `"
        level: "info"
    llm:
        path: "` + filepath.Join(dir, "logs", "llm.log") + `"
        level: "info"
db:
    path: "` + filepath.Join(dir, "data", "test.db") + `"
llm:
    enabled: false
embedding:
    provider: hash
    cache: false
planner:
    seed: 7
sources:
    download_dir: "` + filepath.Join(dir, "assets") + `"
pipeline:
    output_dir: "` + filepath.Join(dir, "output") + `"
`
	path := filepath.Join(dir, "docuscene.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docuscene.yaml")

	out, err := execute(t, "init-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Config file ready")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# docuscene configuration"))
	assert.Contains(t, string(data), "reuse_threshold: 0.8")

	// Existing files are left alone.
	require.NoError(t, os.WriteFile(path, []byte("server:\n    address: :1\n"), 0o644))
	_, err = execute(t, "init-config", "--config", path)
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "server:\n    address: :1\n", string(data))
}

func TestPlanCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	doc := filepath.Join(dir, "report.txt")
	words := strings.Repeat("Revenue grew across every region this quarter. ", 150)
	require.NoError(t, os.WriteFile(doc, []byte(words), 0o644))

	out, err := execute(t, "plan", doc, "--config", cfg)
	require.NoError(t, err)

	var plan struct {
		Scenes []struct {
			ID       int `json:"id"`
			Duration int `json:"duration_seconds"`
		} `json:"scenes"`
		TotalDuration int  `json:"total_duration"`
		SceneCount    int  `json:"scene_count"`
		Generated     bool `json:"generated"`
	}
	require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &plan))
	assert.False(t, plan.Generated)
	assert.Equal(t, len(plan.Scenes), plan.SceneCount)
	assert.GreaterOrEqual(t, plan.SceneCount, 5)

	sum := 0
	for i, s := range plan.Scenes {
		assert.Equal(t, i+1, s.ID)
		sum += s.Duration
	}
	assert.Equal(t, plan.TotalDuration, sum)
}

func TestPlanCommand_Unsupported(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	doc := filepath.Join(dir, "deck.pptx")
	require.NoError(t, os.WriteFile(doc, []byte("slides"), 0o644))

	_, err := execute(t, "plan", doc, "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type .pptx")
}

func TestLibraryStats_Empty(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	out, err := execute(t, "library", "stats", "--config", cfg)
	require.NoError(t, err)

	var got struct {
		Stats struct {
			Entries    int `json:"entries"`
			TotalUsage int `json:"total_usage"`
		} `json:"stats"`
		Top []json.RawMessage `json:"top"`
	}
	require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &got))
	assert.Zero(t, got.Stats.Entries)
	assert.Empty(t, got.Top)
}

func TestProcess_BadPriority(t *testing.T) {
	_, err := execute(t, "process", "report.txt", "--priority", "asap", "--config", filepath.Join(t.TempDir(), "c.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown priority")
}

func TestWatch_BadInterval(t *testing.T) {
	for _, interval := range []string{"0s", "-1s"} {
		t.Run(interval, func(t *testing.T) {
			cfg := filepath.Join(t.TempDir(), "c.yaml")
			_, err := execute(t, "watch", t.TempDir(), "--interval", interval, "--config", cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "--interval must be positive")
		})
	}
}
