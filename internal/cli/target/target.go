package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/portover/portover/internal/config"
	"github.com/portover/portover/internal/logging"
	"github.com/portover/portover/internal/migrate"
	"github.com/portover/portover/internal/pairing"
	"github.com/portover/portover/internal/quicchannel"
	"github.com/portover/portover/internal/signal"
)

// Run drives the target role: print a pairing code, serve signaling and
// the QUIC data plane, and store incoming items until the source reports
// completion.
func Run(args []string) {
	if hasHelpFlag(args) {
		printUsage()
		return
	}

	cfg, err := config.ParseTargetConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.New("portover-target", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("target failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.TargetConfig, logger *slog.Logger) error {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := pairing.NewCode(cfg.PairingTTL)
	fmt.Fprintf(os.Stdout, "pairing code: %s\n", code.Value())
	fmt.Fprintf(os.Stdout, "signaling on %s, data on %s\n", cfg.SignalAddr, cfg.QUICAddr)

	server := signal.NewServer(code, logger)

	// Once the source attaches to signaling we announce readiness; the
	// data connection follows.
	server.OnAttach = func(remoteAddr string) {
		if err := server.AnnounceReady("portover-target"); err != nil {
			logger.Error("failed to announce readiness", "error", err)
		}
		server.PublishPowerState(powerConnected())
	}

	httpSrv := &http.Server{Addr: cfg.SignalAddr, Handler: server.Handler()}
	httpErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	listener, err := quicchannel.Listen(cfg.QUICAddr, logger)
	if err != nil {
		return fmt.Errorf("failed to listen on data plane: %w", err)
	}
	defer listener.Close()

	conn, err := listener.Accept(ctx)
	if err != nil {
		select {
		case herr := <-httpErr:
			return fmt.Errorf("signaling server failed: %w", herr)
		default:
		}
		return fmt.Errorf("failed to accept data connection: %w", err)
	}
	logger.Info("source connected", "remote", conn.RemoteAddr())

	receiver := quicchannel.NewReceiver(conn, cfg.OutputDir, logger)
	completed := make(chan struct{})
	receiver.OnCompleted = func() { close(completed) }

	serveErr := make(chan error, 1)
	go func() { serveErr <- receiver.Serve(ctx) }()

	select {
	case <-completed:
		total, count := receiver.Announced()
		fmt.Fprintf(os.Stdout, "migration complete: %d items, %d bytes announced\n", count, total)
		if skip, ok := receiver.Flag(migrate.SkipRebootKey); ok && skip {
			logger.Info("source requested reboot skip")
		}
		return nil
	case err := <-serveErr:
		if ctx.Err() != nil {
			logger.Info("interrupted")
			return nil
		}
		return fmt.Errorf("data plane ended early: %w", err)
	case <-ctx.Done():
		logger.Info("interrupted")
		return nil
	}
}

// powerConnected reports whether the device runs on external power. Hosts
// without a battery supply always count as connected.
func powerConnected() bool {
	entries, err := os.ReadDir("/sys/class/power_supply")
	if err != nil || len(entries) == 0 {
		return true
	}
	for _, e := range entries {
		raw, err := os.ReadFile("/sys/class/power_supply/" + e.Name() + "/online")
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(raw)) == "1" {
			return true
		}
	}
	return false
}

func printUsage() {
	var b strings.Builder
	b.WriteString("usage: portover receive [flags]\n")
	b.WriteString("  --signal-addr ADDR   signaling listen address (default :8574)\n")
	b.WriteString("  --quic-addr ADDR     data plane listen address (default :8575)\n")
	b.WriteString("  --out DIR            directory migrated items are written under (default .)\n")
	b.WriteString("  --pairing-ttl DUR    pairing code validity (default 30m)\n")
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
