package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/fintrack/internal/config"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATA_BACKEND", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-jwt-secret-32bytes-long!!!!")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("SERVER_PORT", "0")
}

func restoreDefaultLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DataBackend != config.BackendMemory {
		t.Errorf("DataBackend = %q, want memory", cfg.DataBackend)
	}

	// グローバルロガーがJSON出力に設定されていること
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	restoreDefaultLogger(t)
	t.Setenv("DATA_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	restoreDefaultLogger(t)
	t.Setenv("JWT_SECRET", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_MigrateRequiresPostgres(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "DATA_BACKEND") {
		t.Errorf("err = %v, want DATA_BACKEND error", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	setTestEnv(t)

	err := Run(&bytes.Buffer{}, []string{"worker"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v, want unknown command error", err)
	}
}

// TestBuild_MemoryBackend はメモリストアで配線したルーターが一連のAPIを処理できることを検証する。
func TestBuild_MemoryBackend(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)

	cfg, err := Init(&bytes.Buffer{})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	built, err := build(cfg)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer built.close()

	srv := httptest.NewServer(built.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	body := strings.NewReader(`{"name":"Alice","email":"alice@example.com","password":"password123"}`)
	resp, err = http.Post(srv.URL+"/api/auth/register", "application/json", body)
	if err != nil {
		t.Fatalf("POST register: %v", err)
	}
	var token struct {
		Token string `json:"token"`
	}
	json.NewDecoder(resp.Body).Decode(&token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || token.Token == "" {
		t.Fatalf("register status = %d, token = %q", resp.StatusCode, token.Token)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/partner/status", nil)
	req.Header.Set("Authorization", "Bearer "+token.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("partner status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestRunServe_StopsOnContextCancel(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)

	cfg, err := Init(&bytes.Buffer{})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not stop after cancel")
	}
}

func TestRunHealthcheck(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	if err := runHealthcheck(u.Port()); err != nil {
		t.Errorf("healthy: %v", err)
	}
	healthy = false
	if err := runHealthcheck(u.Port()); err == nil {
		t.Error("unhealthy server should return an error")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://fintrack:secret@db:5432/fintrack")
	if strings.Contains(got, "secret") {
		t.Errorf("maskDatabaseURL leaked credentials: %q", got)
	}
	if maskDatabaseURL("short") != "***" {
		t.Error("short URLs should be fully masked")
	}
}
