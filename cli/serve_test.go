package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/petal-labs/smartcalc/config"
	"github.com/petal-labs/smartcalc/store"
)

func TestApplyServeFlags(t *testing.T) {
	cmd := NewServeCmd()
	if err := cmd.ParseFlags([]string{
		"--port", "9000",
		"--cors-origin", "https://calc.example",
		"--max-depth", "32",
		"--read-timeout", "2s",
		"--otlp-endpoint", "localhost:4318",
	}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.MaxBody = 4096
	applyServeFlags(cmd, &cfg)

	if cfg.Server.Port != 9000 || cfg.Server.CORSOrigin != "https://calc.example" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Server.ReadTimeout != 2*time.Second {
		t.Fatalf("read timeout = %v", cfg.Server.ReadTimeout)
	}
	// Unset flags keep config values.
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.MaxBody != 4096 {
		t.Fatalf("config values overwritten by flag defaults: %+v", cfg.Server)
	}
	if cfg.Limits.MaxDepth != 32 {
		t.Fatalf("max depth = %d", cfg.Limits.MaxDepth)
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4318" {
		t.Fatalf("otlp endpoint = %q", cfg.Telemetry.OTLPEndpoint)
	}
	if cfg.Store.Driver != config.DriverMemory {
		t.Fatalf("driver = %q", cfg.Store.Driver)
	}
}

func TestApplyServeFlags_SQLitePathSelectsSQLite(t *testing.T) {
	cmd := NewServeCmd()
	if err := cmd.ParseFlags([]string{"--sqlite-path", "/tmp/calc.db"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	cfg := config.Default()
	applyServeFlags(cmd, &cfg)
	if cfg.Store.Driver != config.DriverSQLite {
		t.Fatalf("driver = %q, want sqlite", cfg.Store.Driver)
	}

	cmd = NewServeCmd()
	if err := cmd.ParseFlags([]string{"--sqlite-path", "/tmp/calc.db", "--store", "memory"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	cfg = config.Default()
	applyServeFlags(cmd, &cfg)
	if cfg.Store.Driver != config.DriverMemory {
		t.Fatalf("driver = %q, explicit --store should win", cfg.Store.Driver)
	}
}

func TestOpenStore(t *testing.T) {
	cfg := config.Default()
	st, location, err := openStore(cfg, "")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := st.(*store.MemoryStore); !ok || location != "memory" {
		t.Fatalf("memory store = %T at %q", st, location)
	}
	_ = st.Close()

	t.Setenv(config.EnvSQLitePath, "")
	cfg.Store.Driver = config.DriverSQLite
	path := filepath.Join(t.TempDir(), "calc.db")
	st, location, err = openStore(cfg, path)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer st.Close()
	if location != path {
		t.Fatalf("location = %q, want %q", location, path)
	}

	ctx := context.Background()
	if err := st.SetExpression(ctx, store.Session{ID: "s", Expression: "1 + 1"}); err != nil {
		t.Fatalf("SetExpression: %v", err)
	}
	sess, ok, err := st.GetExpression(ctx, "s")
	if err != nil || !ok || sess.Expression != "1 + 1" {
		t.Fatalf("GetExpression = %+v, %v, %v", sess, ok, err)
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	root := newTestRoot(t)
	_, _, err := executeCommand(root, "serve", "--store", "postgres")
	assertExitCode(t, err, exitConfig)

	_, _, err = executeCommand(newTestRoot(t), "serve", "--otlp-endpoint", "ftp://collector:4318")
	assertExitCode(t, err, exitConfig)
}
