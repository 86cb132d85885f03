package pdfpipe

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestOrchestratorEnqueueStatus(t *testing.T) {
	requireUnix(t)
	o, err := New(Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer o.Close()
	id := o.Enqueue("true", nil, "", "")
	if id == "" {
		t.Fatal("expected generated id")
	}
	waitFor(t, 3*time.Second, func() bool {
		rec, ok := o.Status(id)
		return ok && rec.State.Terminal()
	})
	rec, _ := o.Status(id)
	if rec.ExitCode != 0 {
		t.Fatalf("expected clean exit, got %+v", rec)
	}
}

func TestOrchestratorPipeline(t *testing.T) {
	requireUnix(t)
	o, err := New(Options{
		Stages: []Stage{
			{Name: "first", Command: "true"},
			{Name: "second", Command: "true"},
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer o.Close()
	if !o.Submit("/tmp/doc.pdf") {
		t.Fatal("submit rejected")
	}
	waitFor(t, 5*time.Second, func() bool {
		return o.EntityStatus("/tmp/doc.pdf").StateName == "completed"
	})
	hist := o.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(hist))
	}
}

func TestConfigHelpers(t *testing.T) {
	dir := t.TempDir()
	cfg := `
max_concurrent = 2
max_active = 2
listen = ":9191"

[[stages]]
name = "segment"
command = "true"

[[stages]]
name = "convert"
command = "true"
`
	p := filepath.Join(dir, "cfg.toml")
	if err := os.WriteFile(p, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	config, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Supervisor.MaxConcurrent != 2 {
		t.Fatalf("max_concurrent: %d", config.Supervisor.MaxConcurrent)
	}
	if len(config.Stages) != 2 {
		t.Fatalf("stages: len=%d", len(config.Stages))
	}
	if config.Listen != ":9191" {
		t.Fatalf("listen: %s", config.Listen)
	}
}

func TestMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
}
