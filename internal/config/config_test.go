package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Thresholds.Global != 0.8 || cfg.Thresholds.BlockingLabel != 0.75 {
		t.Fatalf("unexpected default thresholds %+v", cfg.Thresholds)
	}
	if !reflect.DeepEqual(cfg.BlockingLabels, []string{"suggestive", "gore", "drugs", "hate", "unsafe"}) {
		t.Fatalf("unexpected default labels %v", cfg.BlockingLabels)
	}
	if cfg.Mode != ModeBlocking || cfg.Port != "8000" || cfg.Addr() != ":8000" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SafeLabel != "safe" || !cfg.ExcludeSafe {
		t.Fatalf("unexpected safe label defaults %q %v", cfg.SafeLabel, cfg.ExcludeSafe)
	}
	if cfg.ClassifyTimeout != 10*time.Second || cfg.BreakerOpenTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts %s %s", cfg.ClassifyTimeout, cfg.BreakerOpenTimeout)
	}
	if cfg.Clarifai.ModelID != "moderation-recognition" {
		t.Fatalf("unexpected model id %q", cfg.Clarifai.ModelID)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("UNSAFE_THRESHOLD", "0.9")
	t.Setenv("BLOCKING_LABEL_THRESHOLD", "0.6")
	t.Setenv("BLOCKING_LABELS", " gore , , drugs")
	t.Setenv("MODERATION_MODE", "Scoring")
	t.Setenv("DEBUG", "true")
	t.Setenv("PORT", "9090")
	t.Setenv("CLASSIFY_TIMEOUT", "2s")
	t.Setenv("CLARIFAI_API_KEY", "legacy-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Thresholds.Global != 0.9 || cfg.Thresholds.BlockingLabel != 0.6 {
		t.Fatalf("unexpected thresholds %+v", cfg.Thresholds)
	}
	if !reflect.DeepEqual(cfg.BlockingLabels, []string{"gore", "drugs"}) {
		t.Fatalf("unexpected labels %v", cfg.BlockingLabels)
	}
	if cfg.Mode != ModeScoring || !cfg.Debug || cfg.Port != "9090" || cfg.ClassifyTimeout != 2*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Clarifai.PAT != "legacy-key" {
		t.Fatalf("expected CLARIFAI_API_KEY fallback, got %q", cfg.Clarifai.PAT)
	}

	t.Setenv("CLARIFAI_PAT", "primary")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Clarifai.PAT != "primary" {
		t.Fatalf("expected CLARIFAI_PAT to win, got %q", cfg.Clarifai.PAT)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"UNSAFE_THRESHOLD":         "1.5",
		"BLOCKING_LABEL_THRESHOLD": "abc",
		"MODERATION_MODE":          "audit",
		"CLASSIFY_TIMEOUT":         "-1s",
		"RATE_LIMIT_RPS":           "-3",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func TestLoadRejectsZeroBurstWithRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "5")
	t.Setenv("RATE_LIMIT_BURST", "0")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "RATE_LIMIT_BURST") {
		t.Fatalf("expected zero burst to be rejected, got %v", err)
	}

	t.Setenv("RATE_LIMIT_RPS", "0")
	if _, err := Load(""); err != nil {
		t.Fatalf("expected zero burst to be accepted without rate limiting, got %v", err)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SAFE_LABEL=Clean\nJWT_SECRET=from-file\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("SAFE_LABEL")
		os.Unsetenv("JWT_SECRET")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SafeLabel != "Clean" || cfg.JWTSecret != "from-file" {
		t.Fatalf("expected env file values, got %q %q", cfg.SafeLabel, cfg.JWTSecret)
	}
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}

func TestLoadReportsKeyName(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "many")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "RATE_LIMIT_BURST") {
		t.Fatalf("expected error naming RATE_LIMIT_BURST, got %v", err)
	}
}
