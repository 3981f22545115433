package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vagrant55/kaf-telegram-bot/internal/app"
	"github.com/Vagrant55/kaf-telegram-bot/internal/config"
	"github.com/Vagrant55/kaf-telegram-bot/internal/storage"
	logx "github.com/Vagrant55/kaf-telegram-bot/pkg/logx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

// newRootCommand builds the CLI. environ overrides the process environment
// when non-nil.
func newRootCommand(environ map[string]string) *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "bot",
		Short:         "Telegram cohort broadcast relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfgPath, environ)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (json or yaml); env only when empty")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the webhook server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), cfgPath, environ)
			},
		},
		&cobra.Command{
			Use:       "cohorts [all|military|civil]",
			Short:     "List registered chats from the configured store",
			Args:      cobra.MaximumNArgs(1),
			ValidArgs: []string{"all", "military", "civil"},
			RunE: func(cmd *cobra.Command, args []string) error {
				target := storage.TargetAll
				if len(args) == 1 {
					t, ok := storage.ParseTarget(args[0])
					if !ok {
						return fmt.Errorf("unknown cohort %q (want all, military or civil)", args[0])
					}
					target = t
				}
				return listCohorts(cmd.Context(), cmd.OutOrStdout(), cfgPath, environ, target)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func serve(ctx context.Context, cfgPath string, environ map[string]string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []app.Option
	if environ != nil {
		opts = append(opts, app.WithEnviron(environ))
	}
	a, err := app.NewApp(cfgPath, opts...)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Stop(sctx, reason)
}

func listCohorts(ctx context.Context, w io.Writer, cfgPath string, environ map[string]string, target storage.Target) error {
	m := config.NewManager(cfgPath)
	if environ != nil {
		m.SetEnviron(environ)
	}
	cfg, err := m.Load()
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.NewConsole("WARN").With(logx.String("comp", "storage")))
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return config.ErrMissingStore
		}
		return err
	}
	defer st.Close()

	recs, err := st.ListCohort(ctx, target)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAT_ID\tCOHORT\tNAME")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ChatID, r.Cohort, strings.TrimSpace(r.Name))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d chat(s)\n", len(recs))
	return err
}

func main() {
	if err := newRootCommand(nil).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
