package config

import (
	"flag"
	"os"
	"testing"
	"time"
)

func TestParseSourceConfig_Defaults(t *testing.T) {
	os.Clearenv()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseSourceConfigWithFlagSet(fs, []string{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.SignalURL != "ws://127.0.0.1:8574/ws" {
		t.Errorf("unexpected SignalURL %s", cfg.SignalURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
	if len(cfg.StunServers) != len(DefaultStunServers) {
		t.Errorf("expected default STUN servers, got %v", cfg.StunServers)
	}
}

func TestParseSourceConfig_FlagsAndPaths(t *testing.T) {
	os.Clearenv()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseSourceConfigWithFlagSet(fs, []string{
		"-code", "ABCD2345",
		"-apps", "/Applications/a.app, /Applications/b.app",
		"-prefs",
		"-log-level", "debug",
		"/home/u/one.bin", "/home/u/two.bin",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.PairingCode != "ABCD2345" {
		t.Errorf("unexpected code %s", cfg.PairingCode)
	}
	if len(cfg.AppPaths) != 2 || cfg.AppPaths[1] != "/Applications/b.app" {
		t.Errorf("unexpected app paths %v", cfg.AppPaths)
	}
	if !cfg.Prefs {
		t.Error("expected prefs flag set")
	}
	if len(cfg.FilePaths) != 2 || cfg.FilePaths[0] != "/home/u/one.bin" {
		t.Errorf("unexpected file paths %v", cfg.FilePaths)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug, got %s", cfg.LogLevel)
	}
}

func TestParseSourceConfig_EnvFallback(t *testing.T) {
	os.Clearenv()

	os.Setenv("PORTOVER_SIGNAL_URL", "ws://10.0.0.2:9000/signal")
	os.Setenv("PORTOVER_LOG_LEVEL", "warn")
	defer os.Unsetenv("PORTOVER_SIGNAL_URL")
	defer os.Unsetenv("PORTOVER_LOG_LEVEL")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseSourceConfigWithFlagSet(fs, []string{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.SignalURL != "ws://10.0.0.2:9000/signal" {
		t.Errorf("unexpected SignalURL %s", cfg.SignalURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected LogLevel warn, got %s", cfg.LogLevel)
	}
}

func TestParseTargetConfig_Defaults(t *testing.T) {
	os.Clearenv()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseTargetConfigWithFlagSet(fs, []string{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.SignalAddr != ":8574" {
		t.Errorf("unexpected SignalAddr %s", cfg.SignalAddr)
	}
	if cfg.QUICAddr != ":8575" {
		t.Errorf("unexpected QUICAddr %s", cfg.QUICAddr)
	}
	if cfg.PairingTTL != 30*time.Minute {
		t.Errorf("unexpected PairingTTL %s", cfg.PairingTTL)
	}
}

func TestParseTargetConfig_Flags(t *testing.T) {
	os.Clearenv()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseTargetConfigWithFlagSet(fs, []string{
		"-signal-addr", ":7000", "-quic-addr", ":7001", "-out", "/data", "-pairing-ttl", "5m",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.SignalAddr != ":7000" || cfg.QUICAddr != ":7001" {
		t.Errorf("unexpected addrs %s %s", cfg.SignalAddr, cfg.QUICAddr)
	}
	if cfg.OutputDir != "/data" {
		t.Errorf("unexpected OutputDir %s", cfg.OutputDir)
	}
	if cfg.PairingTTL != 5*time.Minute {
		t.Errorf("unexpected PairingTTL %s", cfg.PairingTTL)
	}
}
