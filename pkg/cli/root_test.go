package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/solverd/pkg/daemon"
	"github.com/jguan/solverd/pkg/errs"
	"github.com/jguan/solverd/pkg/infra/fetch"
	"github.com/jguan/solverd/pkg/infra/metrics"
	"github.com/jguan/solverd/pkg/infra/store"
	"github.com/jguan/solverd/pkg/service"
)

type stubBackend struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Fetch(ctx context.Context, req fetch.Request) (*fetch.Artifact, error) {
	b.calls.Add(1)
	if b.fail[req.Model] {
		return nil, errs.New(errs.KindFetchFailed, "not in bucket")
	}
	if fetch.FileExists(req.LocalPath) && !req.UpdateCheck {
		return nil, errs.ErrUpToDate
	}
	body := "weights:" + req.Model
	return &fetch.Artifact{Body: io.NopCloser(strings.NewReader(body)), Size: int64(len(body))}, nil
}

type stubInspector struct{}

func (stubInspector) Inspect(ctx context.Context, pid int) (metrics.ProcessStats, error) {
	return metrics.ProcessStats{PID: pid, CPUPercent: 3, ResidentBytes: 8 << 20}, nil
}

type testEnv struct {
	dir        string
	configPath string
	modelDir   string
	backend    *stubBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "solverd.toml"),
		modelDir:   filepath.Join(dir, "models"),
		backend:    &stubBackend{fail: map[string]bool{}},
	}

	content := `
[general]
data_dir = "` + filepath.Join(dir, "data") + `"

[daemon]
pid_file = "` + filepath.Join(dir, "solverd.pid") + `"
stdout_file = "` + filepath.Join(dir, "solverd.out") + `"
stderr_file = "` + filepath.Join(dir, "solverd.err") + `"
stop_attempts = 3
stop_interval = "1ms"

[store]
backend = "github"
model_dir = "` + env.modelDir + `"

[store.repository]
url = "https://example.invalid/releases/download/v1"

[predictor]
enabled = ["penguin", "shadows"]
concurrency = 2
`
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o644))
	return env
}

func (e *testEnv) run(t *testing.T, opts []daemon.Option, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := &bytes.Buffer{}
	root.SetOutputWriter(buf)
	root.serviceOptions = []service.Option{service.WithBackend(e.backend)}
	root.supervisorOptions = opts
	root.executable = func() (string, error) { return "/usr/local/bin/solverd", nil }

	root.Command().SetArgs(append(args, "--config", e.configPath))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Command().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"version", "run", "start", "stop", "restart", "status", "log", "fetch", "models"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\nbackend = \"ftp\"\n"), 0o644))

	root := NewRootCommand()
	root.SetOutputWriter(&bytes.Buffer{})
	root.Command().SetArgs([]string{"models", "--config", path})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid store.backend")
}

func TestFetchCommand_EnabledModels(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, nil, "fetch", "-o", "json")
	require.NoError(t, err)

	var results []service.FetchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)

	for _, name := range []string{"penguin.onnx", "shadows.onnx"} {
		data, err := os.ReadFile(filepath.Join(env.modelDir, name))
		require.NoError(t, err)
		assert.Equal(t, "weights:"+name, string(data))
	}
}

func TestFetchCommand_ReportsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.backend.fail["shadows.onnx"] = true

	out, err := env.run(t, nil, "fetch", "penguin.onnx", "shadows.onnx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shadows.onnx")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "not in bucket")
	assert.FileExists(t, filepath.Join(env.modelDir, "penguin.onnx"))
	assert.NoFileExists(t, filepath.Join(env.modelDir, "shadows.onnx"))
}

func TestFetchCommand_CachedModelSkipsBackend(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.modelDir, "penguin.onnx"), []byte("old"), 0o644))

	_, err := env.run(t, nil, "fetch", "penguin.onnx")
	require.NoError(t, err)
	assert.Equal(t, int32(0), env.backend.calls.Load())

	_, err = env.run(t, nil, "fetch", "penguin.onnx", "--update-check")
	require.NoError(t, err)
	assert.Equal(t, int32(1), env.backend.calls.Load())

	data, err := os.ReadFile(filepath.Join(env.modelDir, "penguin.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "weights:penguin.onnx", string(data))
}

func TestModelsCommand_ListsLedger(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, nil, "fetch", "penguin.onnx")
	require.NoError(t, err)

	out, err := env.run(t, nil, "models", "-o", "json")
	require.NoError(t, err)

	var entries []store.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "penguin.onnx", entries[0].Name)
	assert.Equal(t, "stub", entries[0].Backend)
	assert.Equal(t, filepath.Join(env.modelDir, "penguin.onnx"), entries[0].Path)
}

func TestStartCommand_SpawnsRunWithConfig(t *testing.T) {
	env := newTestEnv(t)
	var spawned []daemon.SpawnSpec

	opts := []daemon.Option{
		daemon.WithRootCheck(func() bool { return true }),
		daemon.WithGetenv(func(string) string { return "" }),
		daemon.WithLiveness(func(pid int) bool { return false }),
		daemon.WithSpawner(func(spec daemon.SpawnSpec) (int, error) {
			spawned = append(spawned, spec)
			return 777, nil
		}),
	}

	_, err := env.run(t, opts, "start")
	require.NoError(t, err)
	require.Len(t, spawned, 1)
	assert.Equal(t, []string{"/usr/local/bin/solverd", "run", "--config", env.configPath}, spawned[0].Args)

	data, err := os.ReadFile(filepath.Join(env.dir, "solverd.pid"))
	require.NoError(t, err)
	assert.Equal(t, "777\n", string(data))
}

func TestStartCommand_RequiresRoot(t *testing.T) {
	env := newTestEnv(t)
	opts := []daemon.Option{
		daemon.WithRootCheck(func() bool { return false }),
		daemon.WithLiveness(func(pid int) bool { return false }),
	}

	_, err := env.run(t, opts, "start")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrPermissionDenied))

	buf := &bytes.Buffer{}
	root := NewRootCommand()
	root.SetOutputWriter(buf)
	reportError(root, err)
	assert.Equal(t, "You must run this executable with root permissions\n", buf.String())
}

func TestStatusCommand(t *testing.T) {
	env := newTestEnv(t)
	opts := []daemon.Option{
		daemon.WithLiveness(func(pid int) bool { return pid == 4242 }),
		daemon.WithInspector(stubInspector{}),
	}

	out, err := env.run(t, opts, "status")
	require.NoError(t, err)
	assert.Equal(t, "solverd is not running\n", out)

	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "solverd.pid"), []byte("4242\n"), 0o644))
	out, err = env.run(t, opts, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "PID")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "8.0")
}

func TestStopCommand(t *testing.T) {
	env := newTestEnv(t)
	pidFile := filepath.Join(env.dir, "solverd.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("4242\n"), 0o644))

	var signals int
	opts := []daemon.Option{
		daemon.WithRootCheck(func() bool { return true }),
		daemon.WithSignaler(func(pid int) error {
			signals++
			if signals > 1 {
				return errors.New("no such process")
			}
			return nil
		}),
		daemon.WithSleep(func(time.Duration) {}),
	}

	_, err := env.run(t, opts, "stop")
	require.NoError(t, err)
	assert.Equal(t, 2, signals)
	assert.NoFileExists(t, pidFile)
}

func TestLogCommand(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "solverd.out"), []byte("listening\n"), 0o644))

	out, err := env.run(t, nil, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "STDOUT>")
	assert.Contains(t, out, "listening")
	assert.NotContains(t, out, "STDERR>")
}
