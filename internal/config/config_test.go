package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("GRIDMESH_TEST_KEY", "set")
	if got := GetEnv("GRIDMESH_TEST_KEY", "fallback"); got != "set" {
		t.Errorf("got %q, want set value", got)
	}
	if got := GetEnv("GRIDMESH_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestProviderLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provider.yaml")
	data := []byte("server_url: ws://pool.example.com/v1/providers/connect\ninput_price: 0.5\nreconnect: false\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := ProviderConfig{
		ServerURL:   "ws://localhost:8080/v1/providers/connect",
		Token:       "keep-me",
		InputPrice:  0.1,
		OutputPrice: 0.2,
		Reconnect:   true,
	}
	if err := cfg.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "ws://pool.example.com/v1/providers/connect" {
		t.Errorf("server_url not overlaid: %q", cfg.ServerURL)
	}
	if cfg.InputPrice != 0.5 {
		t.Errorf("input_price = %v", cfg.InputPrice)
	}
	if cfg.Reconnect {
		t.Errorf("reconnect should be overlaid to false")
	}
	if cfg.Token != "keep-me" {
		t.Errorf("fields absent from the file must keep their values, got %q", cfg.Token)
	}
	if cfg.OutputPrice != 0.2 {
		t.Errorf("output_price should be untouched, got %v", cfg.OutputPrice)
	}
}

func TestProviderFinalizeGeneratesID(t *testing.T) {
	var cfg ProviderConfig
	cfg.Finalize()
	if cfg.ProviderID == "" {
		t.Fatal("Finalize should generate a provider id")
	}
	fixed := ProviderConfig{ProviderID: "prov-1"}
	fixed.Finalize()
	if fixed.ProviderID != "prov-1" {
		t.Errorf("Finalize must not overwrite an explicit id, got %q", fixed.ProviderID)
	}
}

func TestProxyLoadFileMissing(t *testing.T) {
	var cfg ProxyConfig
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
