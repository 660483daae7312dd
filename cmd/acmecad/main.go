// Command acmecad runs the ACME certificate authority server: it loads
// configuration from the environment, connects to Postgres, ensures an
// active CA keypair is loaded (importing one from disk if configured),
// and serves the ACME HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/knrdl/acme-ca-server/internal/acme"
	"github.com/knrdl/acme-ca-server/internal/ca"
	"github.com/knrdl/acme-ca-server/internal/config"
	"github.com/knrdl/acme-ca-server/internal/httpapi"
	"github.com/knrdl/acme-ca-server/internal/mail"
	"github.com/knrdl/acme-ca-server/internal/nonce"
	"github.com/knrdl/acme-ca-server/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:           "acmecad",
		Short:         "Self hosted ACME certificate authority server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "acmecad:", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stdout), zap.InfoLevel)
	return zap.New(core)
}

func runMigrate(ctx context.Context) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := store.Open(ctx, cfg.DatabaseDSN, log)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("migrations applied")
	return nil
}

func run(ctx context.Context) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	undo, err := maxprocs.Set(maxprocs.Logger(log.Sugar().Infof))
	defer undo()
	if err != nil {
		log.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseDSN, log)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	signer := ca.New(st, cfg.CA)
	if cfg.CAEnabled {
		if err := signer.EnsureActive(ctx, cfg.ImportDir); err != nil {
			return fmt.Errorf("activating ca: %w", err)
		}
		if err := signer.RebuildAllCRLs(ctx); err != nil {
			log.Warn("initial crl build failed", zap.Error(err))
		}
	}

	mailer := mail.New(cfg.Mail, log)
	notifier := mail.NewNotifier(st, mailer, log)

	svc := acme.New(st, signer, mailer, cfg.ACME, log)
	nonces := nonce.NewPGStore(st.Pool)
	srv := httpapi.New(svc, st, nonces, cfg.ExternalURL, log)

	go nonce.RunPurgeLoop(ctx, nonces,
		func(n int64) {
			if n > 0 {
				log.Debug("purged expired nonces", zap.Int64("count", n))
			}
		},
		func(err error) { log.Warn("nonce purge failed", zap.Error(err)) },
	)
	if cfg.CAEnabled {
		go signer.RunCRLRebuildLoop(ctx, func(err error) {
			log.Warn("crl rebuild failed", zap.Error(err))
		})
	}
	go notifier.RunLoop(ctx)

	httpSrv := &http.Server{
		Addr:              listenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", httpSrv.Addr), zap.String("external_url", cfg.ExternalURL))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func listenAddr() string {
	if v, ok := os.LookupEnv("LISTEN_ADDR"); ok && v != "" {
		return v
	}
	return net.JoinHostPort("0.0.0.0", "8080")
}
