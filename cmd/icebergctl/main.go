// icebergctl runs reflection turns and maintenance against the configured
// store without going through the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/iceberg/internal/agent"
	"github.com/ashureev/iceberg/internal/app"
	"github.com/ashureev/iceberg/internal/config"
	"github.com/ashureev/iceberg/internal/crisis"
	"github.com/ashureev/iceberg/internal/identity"
)

// AppFactory builds the application from loaded config.
type AppFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, error)

type cli struct {
	newApp    AppFactory
	userID    string
	sessionID string
}

func main() {
	if err := newRootCmd(app.New).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(factory AppFactory) *cobra.Command {
	c := &cli{newApp: factory}

	root := &cobra.Command{
		Use:          "icebergctl",
		Short:        "icebergctl - operate an Iceberg reflection store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.userID, "user", "cli", "User ID to act as")
	root.PersistentFlags().StringVarP(&c.sessionID, "session", "s", identity.DefaultSessionIDValue, "Session ID")

	var intent string
	reflectCmd := &cobra.Command{
		Use:   "reflect <message>",
		Short: "Run one reflection turn and print the JSON output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runReflect(cmd.Context(), cmd.OutOrStdout(), args[0], intent)
		},
	}
	reflectCmd.Flags().StringVarP(&intent, "intent", "i", "", "Declared intent (AUTO, CALM, CLARITY, NEXT_STEP, MEANING, LISTEN)")

	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored messages of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runHistory(cmd.Context(), cmd.OutOrStdout(), limit)
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum messages to print (default HISTORY_LIMIT)")

	var olderThan time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete sessions idle longer than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runPurge(cmd.Context(), cmd.OutOrStdout(), olderThan)
		},
	}
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Idle age to purge (default SESSION_TTL)")

	var addr string
	crisisCmd := &cobra.Command{
		Use:   "crisis-serve",
		Short: "Serve the local crisis lexicon over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveCrisis(ctx, cmd.OutOrStdout(), addr)
		},
	}
	crisisCmd.Flags().StringVar(&addr, "addr", ":50061", "Listen address")

	root.AddCommand(reflectCmd, historyCmd, purgeCmd, crisisCmd)
	return root
}

// open loads .env and config and builds the app. overrides may adjust the
// config before components are built.
func (c *cli) open(ctx context.Context, overrides func(*config.Config)) (*app.App, error) {
	_ = godotenv.Load()
	c.sessionID = identity.NormalizeSessionID(c.sessionID)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if overrides != nil {
		overrides(cfg)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return c.newApp(ctx, cfg, logger)
}

func (c *cli) runReflect(ctx context.Context, out io.Writer, message, intent string) error {
	a, err := c.open(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := identity.EnsureUser(ctx, a.Repo, c.userID); err != nil {
		return err
	}
	res, err := a.Service.Reflect(ctx, agent.ReflectRequest{
		Message:   message,
		Intent:    intent,
		UserID:    c.userID,
		SessionID: c.sessionID,
		Channel:   "cli",
	})
	if err != nil {
		return fmt.Errorf("reflect: %w", err)
	}
	return writeJSON(out, res)
}

func (c *cli) runHistory(ctx context.Context, out io.Writer, limit int) error {
	a, err := c.open(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	msgs, err := a.Service.History(ctx, c.userID, c.sessionID, limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return writeJSON(out, agent.HistoryResponse{SessionID: c.sessionID, Messages: msgs})
}

func (c *cli) runPurge(ctx context.Context, out io.Writer, olderThan time.Duration) error {
	if olderThan < 0 {
		return fmt.Errorf("--older-than must not be negative")
	}
	a, err := c.open(ctx, func(cfg *config.Config) {
		if olderThan > 0 {
			cfg.Retention.SessionTTL = olderThan
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	deleted, err := a.Sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	_, err = fmt.Fprintf(out, "Deleted %d idle session(s)\n", deleted)
	return err
}

func serveCrisis(ctx context.Context, out io.Writer, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := crisis.NewServer(crisis.NewLexicon())

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	fmt.Fprintf(out, "Crisis lexicon listening on %s\n", lis.Addr())
	return srv.Serve(lis)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
