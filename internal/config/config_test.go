package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "config-test-secret-0123456789"

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.DBPath != "data/codeshelf.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.JWTTTL != 24*time.Hour {
		t.Errorf("JWTTTL = %v", cfg.JWTTTL)
	}
	if cfg.GitHubCallbackURL != "http://localhost:8080/auth/github/callback" {
		t.Errorf("GitHubCallbackURL = %q", cfg.GitHubCallbackURL)
	}
	if cfg.GitHubEnabled() {
		t.Error("GitHub login should be off without credentials")
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("CORS_ORIGINS", "http://a.example, ,http://b.example")
	t.Setenv("GITHUB_CLIENT_ID", "id")
	t.Setenv("GITHUB_CLIENT_SECRET", "secret")

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 || cfg.LogLevel != "DEBUG" || cfg.LogFormat != LogFormatJSON {
		t.Errorf("got port=%d level=%q format=%q", cfg.Port, cfg.LogLevel, cfg.LogFormat)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.example" {
		t.Errorf("CORSOrigins = %q", cfg.CORSOrigins)
	}
	if !cfg.GitHubEnabled() {
		t.Error("GitHub login should be on")
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "JWT_SECRET=" + testSecret + "\nEXPLAIN_MODEL=from-dotenv\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EXPLAIN_MODEL", "")
	os.Unsetenv("EXPLAIN_MODEL")
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExplainModel != "from-dotenv" {
		t.Errorf("ExplainModel = %q", cfg.ExplainModel)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad port", map[string]string{"PORT": "70000"}, "Port"},
		{"bad format", map[string]string{"LOG_FORMAT": "xml"}, "LogFormat"},
		{"bad level", map[string]string{"LOG_LEVEL": "loud"}, "LogLevel"},
		{"unparseable port", map[string]string{"PORT": "eighty"}, "PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(noEnvFile(t))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestValidateServer(t *testing.T) {
	base := Config{Port: 8080, DBPath: "x.db", LogLevel: "INFO", LogFormat: LogFormatText, JWTTTL: time.Hour}

	tests := []struct {
		name    string
		secret  string
		ttl     time.Duration
		wantErr string
	}{
		{"missing secret", "", time.Hour, "JWTSecret"},
		{"short secret", "short", time.Hour, "JWTSecret"},
		{"tiny ttl", testSecret, time.Second, "JWTTTL"},
		{"ok", testSecret, time.Hour, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.JWTSecret, cfg.JWTTTL = tt.secret, tt.ttl
			err := cfg.ValidateServer()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_SecretNotNeededForEveryCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(noEnvFile(t)); err != nil {
		t.Errorf("Load without secret: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "WARN", LogFormat: LogFormatJSON}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered at WARN")
	}
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := Config{DBPath: filepath.Join(dir, "codeshelf.db")}
	if err := cfg.EnsureDataDir(); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
	if err := (Config{DBPath: ":memory:"}).EnsureDataDir(); err != nil {
		t.Errorf("in-memory path: %v", err)
	}
}
