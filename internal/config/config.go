package config

import (
	"flag"
	"os"
	"strings"
	"time"
)

// SourceConfig holds configuration for the source (sending) role.
type SourceConfig struct {
	SignalURL   string   // WebSocket URL of the target's signaling endpoint
	PairingCode string   // Code printed by the target
	TargetAddr  string   // UDP address of the target's QUIC listener
	FilePaths   []string // File items, in send order
	AppPaths    []string // Application items, in send order
	Prefs       bool     // Preferences must also be migrated
	ReportDB    string   // Path of the migration report database ("" = log only)
	StunServers []string // STUN servers for active-path probing
	LogLevel    string
}

// TargetConfig holds configuration for the target (receiving) role.
type TargetConfig struct {
	SignalAddr string        // Listen address for the signaling endpoint
	QUICAddr   string        // Listen address for the QUIC data plane
	OutputDir  string        // Root directory migrated items are written under
	PairingTTL time.Duration // Validity of the printed pairing code
	LogLevel   string
}

// DefaultStunServers is used when no servers are configured.
var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

// ParseSourceConfig parses source configuration from flags and environment
// variables. Flags take precedence over environment variables. Remaining
// arguments are the file paths to migrate.
func ParseSourceConfig(args []string) (SourceConfig, error) {
	return parseSourceConfigWithFlagSet(flag.NewFlagSet("source", flag.ExitOnError), args)
}

func parseSourceConfigWithFlagSet(fs *flag.FlagSet, args []string) (SourceConfig, error) {
	cfg := SourceConfig{
		SignalURL: "ws://127.0.0.1:8574/ws",
		LogLevel:  "info",
	}

	// Read from environment first
	if v := os.Getenv("PORTOVER_SIGNAL_URL"); v != "" {
		cfg.SignalURL = v
	}
	if v := os.Getenv("PORTOVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PORTOVER_REPORT_DB"); v != "" {
		cfg.ReportDB = v
	}
	if v := os.Getenv("PORTOVER_STUN_SERVERS"); v != "" {
		cfg.StunServers = splitServers(v)
	}

	var apps string
	var stun string

	// Flags override environment
	fs.StringVar(&cfg.SignalURL, "signal-url", cfg.SignalURL, "target signaling URL")
	fs.StringVar(&cfg.PairingCode, "code", "", "pairing code printed by the target")
	fs.StringVar(&cfg.TargetAddr, "target-addr", "", "target QUIC address host:port")
	fs.StringVar(&apps, "apps", "", "comma-separated application paths")
	fs.BoolVar(&cfg.Prefs, "prefs", false, "preferences must also be migrated")
	fs.StringVar(&cfg.ReportDB, "report-db", cfg.ReportDB, "migration report database path")
	fs.StringVar(&stun, "stun-server", "", "comma-separated STUN servers")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return SourceConfig{}, err
	}

	if apps != "" {
		cfg.AppPaths = splitServers(apps)
	}
	if stun != "" {
		cfg.StunServers = splitServers(stun)
	}
	if len(cfg.StunServers) == 0 {
		cfg.StunServers = DefaultStunServers
	}
	cfg.FilePaths = fs.Args()

	return cfg, nil
}

// ParseTargetConfig parses target configuration from flags and environment
// variables. Flags take precedence over environment variables.
func ParseTargetConfig(args []string) (TargetConfig, error) {
	return parseTargetConfigWithFlagSet(flag.NewFlagSet("target", flag.ExitOnError), args)
}

func parseTargetConfigWithFlagSet(fs *flag.FlagSet, args []string) (TargetConfig, error) {
	cfg := TargetConfig{
		SignalAddr: ":8574",
		QUICAddr:   ":8575",
		OutputDir:  ".",
		PairingTTL: 30 * time.Minute,
		LogLevel:   "info",
	}

	if v := os.Getenv("PORTOVER_SIGNAL_ADDR"); v != "" {
		cfg.SignalAddr = v
	}
	if v := os.Getenv("PORTOVER_QUIC_ADDR"); v != "" {
		cfg.QUICAddr = v
	}
	if v := os.Getenv("PORTOVER_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("PORTOVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	fs.StringVar(&cfg.SignalAddr, "signal-addr", cfg.SignalAddr, "signaling listen address")
	fs.StringVar(&cfg.QUICAddr, "quic-addr", cfg.QUICAddr, "QUIC listen address")
	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "directory migrated items are written under")
	fs.DurationVar(&cfg.PairingTTL, "pairing-ttl", cfg.PairingTTL, "pairing code validity")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return TargetConfig{}, err
	}

	return cfg, nil
}

func splitServers(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
