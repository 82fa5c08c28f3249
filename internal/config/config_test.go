package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAPIURL_Default(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL() != DefaultAPIURL {
		t.Errorf("default APIURL = %q, want %q", cfg.APIURL(), DefaultAPIURL)
	}
}

func TestAPIURL_FromEnvTrimsSlash(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://stickers.example.com/api/")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL() != "https://stickers.example.com/api" {
		t.Errorf("APIURL = %q, want %q", cfg.APIURL(), "https://stickers.example.com/api")
	}
}

func TestPort_Invalid(t *testing.T) {
	tests := []string{"abc", "0", "70000"}
	for _, v := range tests {
		t.Run(v, func(t *testing.T) {
			t.Setenv(EnvPort, v)
			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%q: expected error", EnvPort, v)
			}
		})
	}
}

func TestTimeouts(t *testing.T) {
	t.Setenv(EnvMetadataTimeout, "")
	t.Setenv(EnvRequestTimeout, "45")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MetadataTimeout() != DefaultMetadataTimeout*time.Second {
		t.Errorf("MetadataTimeout = %v, want %v", cfg.MetadataTimeout(), DefaultMetadataTimeout*time.Second)
	}
	if cfg.RequestTimeout() != 45*time.Second {
		t.Errorf("RequestTimeout = %v, want 45s", cfg.RequestTimeout())
	}

	t.Setenv(EnvRequestTimeout, "-1")
	if _, err := New(); err == nil {
		t.Error("expected error for negative timeout")
	}
}

func TestHeadless(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"1", true},
		{"TRUE", true},
		{"yes", true},
		{"off", false},
	}
	for _, tt := range tests {
		t.Setenv(EnvHeadless, tt.value)
		cfg, err := New()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Headless() != tt.want {
			t.Errorf("Headless() with %q = %v, want %v", tt.value, cfg.Headless(), tt.want)
		}
	}
}

func TestDerivedPaths(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/sticker-test")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath() != "/tmp/sticker-test/"+DBFilename {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.DownloadsDir() != "/tmp/sticker-test/"+DownloadsDirName {
		t.Errorf("DownloadsDir = %q", cfg.DownloadsDir())
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "STICKER_TEST_DOTENV_URL=http://10.0.0.2:5000/api\nSTICKER_TEST_DOTENV_KEEP=from-file\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("STICKER_TEST_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { os.Unsetenv("STICKER_TEST_DOTENV_URL") })

	loaded, err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile)
	if err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0] != envFile {
		t.Errorf("loaded = %v, want [%s]", loaded, envFile)
	}
	if got := os.Getenv("STICKER_TEST_DOTENV_URL"); got != "http://10.0.0.2:5000/api" {
		t.Errorf("STICKER_TEST_DOTENV_URL = %q", got)
	}
	if got := os.Getenv("STICKER_TEST_DOTENV_KEEP"); got != "from-env" {
		t.Errorf("existing variable overridden: %q", got)
	}
}
