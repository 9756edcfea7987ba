package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/agentmail/internal/archive"
	"github.com/mistakeknot/agentmail/internal/auth"
	"github.com/mistakeknot/agentmail/internal/config"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/httpapi"
	"github.com/mistakeknot/agentmail/internal/mail"
	"github.com/mistakeknot/agentmail/internal/server"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
	"github.com/mistakeknot/agentmail/internal/tool"
	"github.com/mistakeknot/agentmail/internal/ws"
)

const version = "0.4.0"

// Exit codes follow the documented contract.
const (
	exitOK          = 0
	exitUsage       = 64
	exitDataDir     = 65
	exitMigration   = 66
	exitUnavailable = 69
	exitInternal    = 70
)

func main() {
	root := &cobra.Command{
		Use:           "agentmail",
		Short:         "Coordination substrate for fleets of coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(initKeysCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentmail:", err)
		os.Exit(exitCodeFor(err))
	}
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

func serveCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agentmail server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	log := cfg.Logger()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return &exitError{code: exitDataDir, err: fmt.Errorf("data dir: %w", err)}
	}

	store, err := sqlite.New(filepath.Join(cfg.DataDir, "agentmail.db"), sqlite.WithLogger(log))
	if err != nil {
		code := exitDataDir
		if core.IsKind(err, core.KindMigrationError) {
			code = exitMigration
		}
		return &exitError{code: code, err: err}
	}
	defer store.Close()

	arch, err := archive.Open(filepath.Join(cfg.DataDir, "archive"), cfg.ArchiveCommitAuthor, log)
	if err != nil {
		return &exitError{code: exitDataDir, err: err}
	}

	svc := mail.NewService(store, arch, mail.Options{
		ReservationDefaultTTL: cfg.ReservationDefaultTTL,
		ReservationMaxTTL:     config.MaxReservationTTL,
		BuildSlotDefaultTTL:   cfg.BuildSlotDefaultTTL,
		BuildSlotMaxTTL:       config.MaxBuildSlotTTL,
	}, log)

	registry, err := tool.NewRegistry(svc, cfg.RateLimitPerMinute, log)
	if err != nil {
		return &exitError{code: exitInternal, err: err}
	}
	hub := ws.NewHub(registry)
	svc.WithBroadcaster(hub)

	ring, err := auth.LoadKeyring(auth.ResolveKeysPath(cfg.KeysFile))
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	var verifier *auth.JWTVerifier
	if cfg.AuthMode == "jwt" {
		secret := strings.TrimSpace(os.Getenv("AGENTMAIL_JWT_SECRET"))
		if secret == "" {
			return &exitError{code: exitUsage, err: fmt.Errorf("auth_mode jwt requires AGENTMAIL_JWT_SECRET")}
		}
		verifier = auth.NewJWTVerifier([]byte(secret))
	}

	router := httpapi.NewRouter(httpapi.NewService(registry),
		hub.Handler(), auth.Middleware(auth.Mode(cfg.AuthMode), ring, verifier))

	sweeper := sqlite.NewSweeper(store, hub,
		time.Duration(cfg.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.CompactAfterSeconds)*time.Second, log)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv, err := server.New(server.Config{
		Addr:       fmt.Sprintf(":%d", cfg.HTTPPort),
		SocketPath: cfg.SocketPath,
		Handler:    router,
	})
	if err != nil {
		return &exitError{code: exitUnavailable, err: err}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info("agentmail serving", "port", cfg.HTTPPort, "data_dir", cfg.DataDir, "auth_mode", cfg.AuthMode)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return &exitError{code: exitInternal, err: err}
		}
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "listen" {
			return &exitError{code: exitUnavailable, err: err}
		}
		return &exitError{code: exitInternal, err: err}
	}
}

func initKeysCmd() *cobra.Command {
	var (
		keysFile string
		project  string
		agent    string
	)
	cmd := &cobra.Command{
		Use:   "init-keys",
		Short: "Add a bearer token for a project (optionally bound to one agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.InitKeysFile(auth.ResolveKeysPath(keysFile), project, agent)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&keysFile, "keys-file", "", "keys file path")
	cmd.Flags().StringVar(&project, "project", "", "project slug the token is scoped to")
	cmd.Flags().StringVar(&agent, "agent", "", "agent name the token is bound to")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("agentmail", version)
		},
	}
}
