package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/portover/portover/internal/config"
	"github.com/portover/portover/internal/logging"
	"github.com/portover/portover/internal/migrate"
	"github.com/portover/portover/internal/netprobe"
	"github.com/portover/portover/internal/quicchannel"
	"github.com/portover/portover/internal/report"
	sigclient "github.com/portover/portover/internal/signal"
	"github.com/portover/portover/pkg/manifest"
)

// Run drives the source role: collect the manifest, connect to the paired
// target, and migrate until completion or interrupt.
func Run(args []string) {
	if hasHelpFlag(args) {
		printUsage()
		return
	}

	cfg, err := config.ParseSourceConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.PairingCode == "" || cfg.TargetAddr == "" {
		fmt.Fprintln(os.Stderr, "both --code and --target-addr are required")
		printUsage()
		os.Exit(2)
	}
	if len(cfg.FilePaths) == 0 && len(cfg.AppPaths) == 0 {
		fmt.Fprintln(os.Stderr, "nothing to migrate: no file or application paths given")
		printUsage()
		os.Exit(2)
	}

	logger := logging.New("portover-source", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.SourceConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	man, err := manifest.Collect(cfg.FilePaths, cfg.AppPaths, manifest.Option{
		MigratePreferences: cfg.Prefs,
	})
	if err != nil {
		return fmt.Errorf("failed to collect manifest: %w", err)
	}
	logger.Info("manifest collected",
		"files", len(man.Files), "apps", len(man.Apps),
		"total_bytes", man.TotalBytes)

	stunServers := cfg.StunServers
	if len(stunServers) == 0 {
		stunServers = config.DefaultStunServers
	}
	path, err := netprobe.Discover(cfg.TargetAddr, stunServers, logger)
	if err != nil {
		logger.Warn("network path probe failed", "error", err)
	}

	conn, err := quicchannel.Dial(ctx, cfg.TargetAddr, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to target: %w", err)
	}
	channel, err := quicchannel.NewChannel(ctx, conn, path.Label(), logger)
	if err != nil {
		return fmt.Errorf("failed to establish channel: %w", err)
	}
	defer channel.Close()

	sinks := report.MultiSink{report.NewLogSink(logger)}
	if cfg.ReportDB != "" {
		bolt, err := report.OpenBolt(cfg.ReportDB, logger)
		if err != nil {
			return fmt.Errorf("failed to open report db: %w", err)
		}
		defer bolt.Close()
		sinks = append(sinks, bolt)
		logger.Info("report db opened", "path", cfg.ReportDB, "run_id", bolt.RunID())
	}

	orch := migrate.New(migrate.Config{
		Manifest: man,
		Channel:  channel,
		Sink:     sinks,
		Logger:   logger,
		OnFinished: func() {
			fmt.Fprintln(os.Stdout, "migration complete")
		},
	})
	orch.Surface().SetActiveInterface(path.Label())
	orch.Surface().Subscribe(printSnapshot)

	client, err := sigclient.Dial(ctx, cfg.SignalURL, cfg.PairingCode, logger)
	if err != nil {
		return fmt.Errorf("failed to reach target signaling: %w", err)
	}
	defer client.Close()

	readErr := make(chan error, 1)
	go func() {
		readErr <- client.ReadLoop(ctx, sigclient.Handlers{
			OnReady: func(peerID string) {
				if orch.PeerReady() {
					logger.Info("target ready", "peer_id", peerID)
				}
			},
			OnPower: func(connected bool) {
				orch.Surface().SetPowerConnected(connected)
			},
		})
	}()

	select {
	case <-orch.Done():
	case <-ctx.Done():
		logger.Info("interrupted, aborting run")
		orch.Cancel()
		<-orch.Done()
		client.SendBye()
	case err := <-readErr:
		// Signaling loss before the run starts is fatal; afterwards the
		// data plane carries the run to completion on its own.
		if orch.Phase() == migrate.NotStarted {
			return fmt.Errorf("signaling connection lost: %w", err)
		}
		<-orch.Done()
	}

	if phase := orch.Phase(); phase != migrate.Completed {
		return fmt.Errorf("run ended in phase %s", phase)
	}
	return nil
}

func printSnapshot(s migrate.Snapshot) {
	line := fmt.Sprintf("progress %s", s.Percent)
	if s.ETA != "" {
		line += fmt.Sprintf(" eta=%s", s.ETA)
	}
	if s.ActiveInterface != "" {
		line += fmt.Sprintf(" via=%s", s.ActiveInterface)
	}
	fmt.Fprintln(os.Stdout, line)
}

func printUsage() {
	var b strings.Builder
	b.WriteString("usage: portover send --code CODE --target-addr HOST:PORT [flags] <paths...>\n")
	b.WriteString("  --code CODE          pairing code printed by the target\n")
	b.WriteString("  --target-addr ADDR   target QUIC address host:port\n")
	b.WriteString("  --signal-url URL     target signaling URL (default ws://127.0.0.1:8574/ws)\n")
	b.WriteString("  --apps PATHS         comma-separated application paths\n")
	b.WriteString("  --prefs              preferences must also be migrated\n")
	b.WriteString("  --report-db PATH     persist the migration report to PATH\n")
	b.WriteString("  --stun-server ADDRS  comma-separated STUN servers\n")
	b.WriteString("  --log-level LEVEL    debug, info, warn or error (default info)\n")
	fmt.Fprint(os.Stderr, b.String())
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
